package agentio

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// RecoveryAction determines how ProcessClient.call should handle a
// companion-process call failure. Grounded on pkg/mcp/recovery.go's
// ClassifyError, trimmed to the two actions that apply to a single
// NDJSON-over-stdio companion (no distinct "same session" retry, since
// every retry here necessarily restarts the process).
type RecoveryAction int

// Recovery actions.
const (
	// NoRetry — the error is not recoverable by restarting the companion
	// (bad request, cancelled context, a companion-reported logic error).
	NoRetry RecoveryAction = iota
	// RetryNewProcess — the companion's transport died; restart it and
	// retry the call once.
	RetryNewProcess
)

// classifyCallError decides whether a failed call to the companion
// process is worth one restart-and-retry.
func classifyCallError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewProcess
	}

	if isTransportError(err) {
		return RetryNewProcess
	}
	return NoRetry
}

// isTransportError detects the process-died failure modes a stdio pipe
// surfaces: closed pipes, EOF on the companion's stdout, and the
// "closed its output stream" sentinel call() returns when Scan() hits
// EOF without an error.
func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, candidate := range []string{"broken pipe", "connection reset", "closed its output stream", "file already closed"} {
		if strings.Contains(msg, candidate) {
			return true
		}
	}
	return false
}
