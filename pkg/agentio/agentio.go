// Package agentio defines the external-collaborator seam: the agent
// factory, the tools the agent invokes, and the validator LLM. agentcheck
// never implements any of these (spec §1 Non-goals) — it only calls them
// through the interfaces below. The default implementations bridge to a
// companion process over newline-delimited JSON, the out-of-process
// plugin seam spec §9 Design Notes calls for.
package agentio

import (
	"context"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// CaseRunner invokes a discovered test function inside the harness that
// produces its single CaseSpec (spec §4.C step 1).
type CaseRunner interface {
	RunCase(ctx context.Context, descriptor model.TestDescriptor) (*model.CaseSpec, error)
}

// Agent is the user-supplied callable: query(prompt) -> structured
// response.
type Agent interface {
	Query(ctx context.Context, prompt string) (*model.AgentResponse, error)
}

// StreamEventType tags one fragment of a streaming agent call (spec §4.G,
// §9 "iterator of tagged events").
type StreamEventType string

// Stream event kinds emitted by a StreamingAgent.
const (
	StreamToken      StreamEventType = "token"
	StreamToolCall   StreamEventType = "tool_call"
	StreamToolOutput StreamEventType = "tool_output"
	StreamEnd        StreamEventType = "end"
)

// StreamEvent is one fragment of a streaming agent call.
type StreamEvent struct {
	Type       StreamEventType
	Content    string
	ToolCall   *model.ToolCall
	ToolName   string
	ToolCallID string
}

// StreamingAgent is the chat-relay's view of an agent: given the full
// conversation history plus a new user message, it produces a channel of
// tagged events in the order the agent actually produced them.
type StreamingAgent interface {
	Stream(ctx context.Context, history []model.Message) (<-chan StreamEvent, <-chan error)
}

// AgentFactory builds a StreamingAgent for a given model name (spec §4.G
// step 2: "build a fresh agent instance via agentFactory(model)").
type AgentFactory func(model string) (StreamingAgent, error)

// Validator judges an AgentResponse against a set of free-text
// expectations.
type Validator interface {
	Judge(ctx context.Context, response *model.AgentResponse, expectations []string) (*model.ValidationVerdict, error)
}

// ToolParameter describes one parameter of one tool (spec §4.F schema()).
type ToolParameter struct {
	Name        string `json:"name"`
	TypeName    string `json:"typeName"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolSchema is the full schema of one tool.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolSummary is the abbreviated listing entry for one tool (spec §4.F
// listTools()).
type ToolSummary struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ParameterCount int    `json:"parameterCount"`
	Group          string `json:"group,omitempty"`
}

// ToolProvider exposes the set of agent-visible tools. Tool logic itself
// is out of scope (spec §1) — ToolProvider is supplied by the embedding
// application.
type ToolProvider interface {
	ListTools(ctx context.Context) ([]ToolSummary, error)
	Schema(ctx context.Context, name string) (*ToolSchema, error)
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// Reloadable is implemented by any collaborator whose cached source
// artifacts must be invalidated by a reload() call (spec §4.A, §4.F
// reloadTools()).
type Reloadable interface {
	Reload(ctx context.Context) error
}
