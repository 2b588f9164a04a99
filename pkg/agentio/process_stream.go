package agentio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// streamRequest is sent once, on stream start, with the full conversation
// history the agent should continue from.
type streamRequest struct {
	Op      string          `json:"op"`
	Model   string          `json:"model"`
	History []model.Message `json:"history"`
}

// streamLine is one line of a streaming companion response: a tagged
// event, mirroring §9's "iterator of tagged events" note.
type streamLine struct {
	Type       StreamEventType `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolCall   *model.ToolCall `json:"tool_call,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ProcessStreamingAgent bridges pkg/chat.Relay to a companion process
// over NDJSON, one dedicated process per stream so concurrent
// conversations on different models never interleave on the same pipe.
// Grounded on ProcessClient's single-shot request/response bridge,
// generalized to a long-lived response stream instead of one line per
// call.
type ProcessStreamingAgent struct {
	command string
	args    []string
	model   string
}

// NewAgentFactory returns an agentio.AgentFactory that spawns one
// companion process per Stream call, passing model through so the
// companion can route to the right backing LLM.
func NewAgentFactory(command string, args ...string) AgentFactory {
	return func(modelName string) (StreamingAgent, error) {
		return &ProcessStreamingAgent{command: command, args: args, model: modelName}, nil
	}
}

// Stream implements StreamingAgent by starting the companion process,
// writing one streamRequest line, then relaying every subsequent line as
// a tagged StreamEvent until the process closes its stdout or emits a
// line of type "end".
func (a *ProcessStreamingAgent) Stream(ctx context.Context, history []model.Message) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		cmd := exec.CommandContext(ctx, a.command, a.args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- fmt.Errorf("open companion stdin: %w", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- fmt.Errorf("open companion stdout: %w", err)
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("start companion process: %w", err)
			return
		}
		defer func() { _ = cmd.Wait() }()

		req := streamRequest{Op: "stream", Model: a.model, History: history}
		line, err := json.Marshal(req)
		if err != nil {
			errs <- fmt.Errorf("marshal stream request: %w", err)
			return
		}
		line = append(line, '\n')
		if _, err := stdin.Write(line); err != nil {
			errs <- fmt.Errorf("write stream request: %w", err)
			return
		}
		_ = stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var sl streamLine
			if err := json.Unmarshal(raw, &sl); err != nil {
				errs <- fmt.Errorf("decode stream event: %w", err)
				return
			}
			if sl.Error != "" {
				errs <- fmt.Errorf("companion stream error: %s", sl.Error)
				return
			}
			if sl.Type == StreamEnd {
				return
			}
			select {
			case events <- StreamEvent{
				Type:       sl.Type,
				Content:    sl.Content,
				ToolCall:   sl.ToolCall,
				ToolName:   sl.ToolName,
				ToolCallID: sl.ToolCallID,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			errs <- fmt.Errorf("read companion stream: %w", err)
		}
	}()

	return events, errs
}

// ProcessToolProvider implements ToolProvider over the same companion
// process as ProcessClient, sharing its NDJSON request/response shape
// and restart-on-transport-failure policy.
type ProcessToolProvider struct {
	mu     sync.Mutex
	client *ProcessClient
}

// NewProcessToolProvider builds a ToolProvider that lazily dials command
// on first use, matching ProcessClient's own lazy-dial behavior.
func NewProcessToolProvider(command string, args ...string) *ProcessToolProvider {
	return &ProcessToolProvider{client: NewProcessClient(command, args...)}
}

type toolListRequest struct {
	Op   string `json:"op"`
	Name string `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

type toolListResponse struct {
	Tools  []ToolSummary `json:"tools,omitempty"`
	Schema *ToolSchema   `json:"schema,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (p *ProcessToolProvider) rawCall(ctx context.Context, req toolListRequest) (*toolListResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := p.callOnce(ctx, req)
	if err != nil && classifyCallError(err) == RetryNewProcess {
		if reloadErr := p.client.Reload(ctx); reloadErr != nil {
			return nil, fmt.Errorf("restart companion after %v: %w", err, reloadErr)
		}
		resp, err = p.callOnce(ctx, req)
	}
	return resp, err
}

func (p *ProcessToolProvider) callOnce(ctx context.Context, req toolListRequest) (*toolListResponse, error) {
	if err := p.client.ensureStarted(ctx); err != nil {
		return nil, fmt.Errorf("dial companion process: %w", err)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	line = append(line, '\n')
	if _, err := p.client.stdin.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if !p.client.scanner.Scan() {
		if err := p.client.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("companion process closed its output stream")
	}
	var resp toolListResponse
	if err := json.Unmarshal(p.client.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ListTools implements ToolProvider.
func (p *ProcessToolProvider) ListTools(ctx context.Context) ([]ToolSummary, error) {
	resp, err := p.rawCall(ctx, toolListRequest{Op: "list_tools"})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("companion process error: %s", resp.Error)
	}
	return resp.Tools, nil
}

// Schema implements ToolProvider.
func (p *ProcessToolProvider) Schema(ctx context.Context, name string) (*ToolSchema, error) {
	resp, err := p.rawCall(ctx, toolListRequest{Op: "tool_schema", Name: name})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("companion process error: %s", resp.Error)
	}
	if resp.Schema == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return resp.Schema, nil
}

// Invoke implements ToolProvider.
func (p *ProcessToolProvider) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	resp, err := p.rawCall(ctx, toolListRequest{Op: "invoke_tool", Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("companion process error: %s", resp.Error)
	}
	return resp.Result, nil
}

// Reload implements Reloadable by restarting the underlying companion
// process, the same mechanism §4.A reload uses.
func (p *ProcessToolProvider) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client.Reload(ctx)
}
