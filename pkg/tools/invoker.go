// Package tools implements §4.F Tool Invoker: exposing agent-visible
// tools for direct, interactive execution from the dashboard.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
)

// InvokeResult is the outcome of one invoke() call.
type InvokeResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Invoker wraps a ToolProvider with the parameter-coercion and
// reload semantics §4.F specifies.
type Invoker struct {
	provider agentio.ToolProvider
}

// NewInvoker builds an Invoker over provider.
func NewInvoker(provider agentio.ToolProvider) *Invoker {
	return &Invoker{provider: provider}
}

// ListTools returns the summary view of every agent-visible tool.
func (inv *Invoker) ListTools(ctx context.Context) ([]agentio.ToolSummary, error) {
	return inv.provider.ListTools(ctx)
}

// Schema returns the full parameter schema for one tool.
func (inv *Invoker) Schema(ctx context.Context, name string) (*agentio.ToolSchema, error) {
	return inv.provider.Schema(ctx, name)
}

// ReloadTools invalidates the cached source of tool-bearing modules,
// the same mechanism §4.A reload uses.
func (inv *Invoker) ReloadTools(ctx context.Context) error {
	if r, ok := inv.provider.(agentio.Reloadable); ok {
		return r.Reload(ctx)
	}
	return nil
}

// Invoke runs one tool by name. rawInput, when non-empty, is parsed
// with the same JSON→YAML→key-value→raw-string cascade
// ParseActionInput uses, for the common case of a human driving a tool
// from a single freeform textarea instead of a structured form; args
// supplied directly take precedence over any key rawInput also
// produces. Coercion failure never calls the tool — it is reported as
// a failed InvokeResult instead, per §4.F.
func (inv *Invoker) Invoke(ctx context.Context, name string, args map[string]any, rawInput string) InvokeResult {
	schema, err := inv.provider.Schema(ctx, name)
	if err != nil {
		return InvokeResult{Success: false, Error: err.Error()}
	}

	merged := map[string]any{}
	if rawInput != "" {
		parsed, err := ParseActionInput(rawInput)
		if err != nil {
			return InvokeResult{Success: false, Error: fmt.Sprintf("parsing input: %v", err)}
		}
		for k, v := range parsed {
			merged[k] = v
		}
	}
	for k, v := range args {
		merged[k] = v
	}

	coerced, err := coerceArgs(merged, schema.Parameters)
	if err != nil {
		return InvokeResult{Success: false, Error: err.Error()}
	}

	result, err := inv.provider.Invoke(ctx, name, coerced)
	if err != nil {
		return InvokeResult{Success: false, Error: err.Error()}
	}
	return InvokeResult{Success: true, Result: result}
}

// coerceArgs coerces every argument present in args whose schema
// parameter declares a non-string typeName. Arguments already holding
// the expected Go type pass through untouched.
func coerceArgs(args map[string]any, params []agentio.ToolParameter) (map[string]any, error) {
	byName := make(map[string]agentio.ToolParameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		p, ok := byName[k]
		if !ok {
			out[k] = v
			continue
		}
		coerced, err := coerceByType(v, p.TypeName)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = coerced
	}
	return out, nil
}

// coerceByType converts v to the Go representation typeName implies,
// per §4.F's type-handling rule: "integers, floats, booleans, JSON for
// collection types." Non-string values already of a compatible shape
// pass through unchanged.
func coerceByType(v any, typeName string) (any, error) {
	s, isString := v.(string)
	if !isString {
		return v, nil
	}

	switch strings.ToLower(typeName) {
	case "int", "integer":
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return i, nil
	case "float", "number", "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		return f, nil
	case "bool", "boolean":
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("not a boolean: %q", s)
		}
	case "array", "list", "object", "dict", "map":
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("not valid JSON: %q", s)
		}
		return decoded, nil
	default:
		return s, nil
	}
}
