package agentio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCallErrorNilIsNoRetry(t *testing.T) {
	require.Equal(t, NoRetry, classifyCallError(nil))
}

func TestClassifyCallErrorContextIsNoRetry(t *testing.T) {
	require.Equal(t, NoRetry, classifyCallError(context.Canceled))
	require.Equal(t, NoRetry, classifyCallError(context.DeadlineExceeded))
}

func TestClassifyCallErrorTransportIsRetry(t *testing.T) {
	require.Equal(t, RetryNewProcess, classifyCallError(io.EOF))
	require.Equal(t, RetryNewProcess, classifyCallError(errors.New("write: broken pipe")))
	require.Equal(t, RetryNewProcess, classifyCallError(errors.New("companion process closed its output stream")))
}

func TestClassifyCallErrorUnknownIsNoRetry(t *testing.T) {
	require.Equal(t, NoRetry, classifyCallError(errors.New("companion process error: assertion failed")))
}
