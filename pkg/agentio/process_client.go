package agentio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// ProcessClient is the default out-of-process bridge to a companion
// helper process. One JSON request is written per line to the process's
// stdin; one JSON response is read per line from its stdout. This is the
// minimal realization of the plugin seam spec §9 Design Notes calls for
// ("language-native dynamic load, embedded runtime, or out-of-process
// helper") — no generated RPC stubs, just line-delimited JSON, mirroring
// pkg/llm/client.go's pattern of wrapping an external process behind a
// small typed client.
type ProcessClient struct {
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
}

// NewProcessClient creates a client that will lazily dial (start) the
// companion process on first use.
func NewProcessClient(command string, args ...string) *ProcessClient {
	return &ProcessClient{command: command, args: args}
}

// request is sent to the companion process.
type request struct {
	Op         string              `json:"op"`
	Descriptor *model.TestDescriptor `json:"descriptor,omitempty"`
	Prompt     string              `json:"prompt,omitempty"`
	Response   *model.AgentResponse  `json:"response,omitempty"`
	Expectations []string          `json:"expectations,omitempty"`
}

// response is received from the companion process.
type response struct {
	Case     *model.CaseSpec          `json:"case,omitempty"`
	Response *model.AgentResponse     `json:"response,omitempty"`
	Verdict  *model.ValidationVerdict `json:"verdict,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// ensureStarted dials the companion process with exponential backoff
// when none is running yet or the previous one was stopped by Reload or
// Close. A process that dies on its own is not detected here; call's
// restart-and-retry path handles that case.
func (c *ProcessClient) ensureStarted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil && c.cmd.ProcessState == nil {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		cmd := exec.CommandContext(ctx, c.command, c.args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		c.cmd = cmd
		c.stdin = stdin
		c.scanner = bufio.NewScanner(stdout)
		c.scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		return nil
	}, backoff.WithContext(b, ctx))
}

// call sends req and returns the decoded response line. A transport-level
// failure (the companion process died mid-call) restarts the process and
// retries exactly once, classified by classifyCallError.
func (c *ProcessClient) call(ctx context.Context, req request) (*response, error) {
	resp, err := c.callOnce(ctx, req)
	if err == nil {
		return resp, nil
	}
	if classifyCallError(err) != RetryNewProcess {
		return nil, err
	}
	if reloadErr := c.Reload(ctx); reloadErr != nil {
		return nil, fmt.Errorf("restart companion after %v: %w", err, reloadErr)
	}
	return c.callOnce(ctx, req)
}

func (c *ProcessClient) callOnce(ctx context.Context, req request) (*response, error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, fmt.Errorf("dial companion process: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.stdin.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("companion process closed its output stream")
	}

	var resp response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("companion process error: %s", resp.Error)
	}
	return &resp, nil
}

// Close stops the companion process.
func (c *ProcessClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd == nil {
		return nil
	}
	return c.cmd.Wait()
}

// RunCase implements CaseRunner.
func (c *ProcessClient) RunCase(ctx context.Context, descriptor model.TestDescriptor) (*model.CaseSpec, error) {
	resp, err := c.call(ctx, request{Op: "run_case", Descriptor: &descriptor})
	if err != nil {
		return nil, err
	}
	if resp.Case == nil {
		return nil, fmt.Errorf("no case emitted")
	}
	return resp.Case, nil
}

// Query implements Agent.
func (c *ProcessClient) Query(ctx context.Context, prompt string) (*model.AgentResponse, error) {
	resp, err := c.call(ctx, request{Op: "query", Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if resp.Response == nil {
		return nil, fmt.Errorf("no response returned")
	}
	return resp.Response, nil
}

// Judge implements Validator.
func (c *ProcessClient) Judge(ctx context.Context, resp *model.AgentResponse, expectations []string) (*model.ValidationVerdict, error) {
	r, err := c.call(ctx, request{Op: "judge", Response: resp, Expectations: expectations})
	if err != nil {
		return nil, err
	}
	if r.Verdict == nil {
		return nil, fmt.Errorf("no verdict returned")
	}
	return r.Verdict, nil
}

// Reload implements Reloadable by restarting the companion process so it
// re-imports user code from disk.
func (c *ProcessClient) Reload(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	c.cmd = nil
	c.stdin = nil
	c.scanner = nil
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil {
		_ = cmd.Wait()
	}
	slog.Info("companion process restarted for reload", "command", c.command)
	return c.ensureStarted(ctx)
}
