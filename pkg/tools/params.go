package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseActionInput turns one raw textarea string — the freeform way a
// human drives a tool from the dashboard instead of filling in a
// structured argument form — into a parameter map. It tries
// progressively looser interpretations until one sticks:
//
//  1. a JSON object, used as-is
//  2. any other JSON value (array/string/number/bool/null), wrapped as {"input": value}
//  3. YAML that carries a list or a nested map somewhere in it — plain
//     "key: value" YAML is deliberately left to step 4, since nearly any
//     short line of text parses as valid (if boring) YAML
//  4. "key: value" or "key=value" pairs, separated by commas or newlines
//  5. the whole string, wrapped as {"input": string}
//
// An empty or all-whitespace input yields an empty map, for tools that
// take no parameters. The result still carries plain Go scalars guessed
// without any declared type — Invoker.Invoke layers schema-directed
// coercion (coerceByType in invoker.go, driven by each tool's declared
// agentio.ToolParameter.TypeName) on top once the tool's schema is known.
func ParseActionInput(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}, nil
	}

	if parsed, ok := asJSONValue(input); ok {
		return parsed, nil
	}
	if parsed, ok := asStructuredYAML(input); ok {
		return parsed, nil
	}
	if parsed, ok := asKeyValuePairs(input); ok {
		return parsed, nil
	}
	return map[string]any{"input": input}, nil
}

// asJSONValue recognizes input as JSON. A top-level object is returned
// directly; any other JSON shape is wrapped under "input" so every
// successful parse yields a map.
func asJSONValue(input string) (map[string]any, bool) {
	if !looksLikeJSON(input) {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(input), &decoded); err != nil {
		return nil, false
	}
	if obj, ok := decoded.(map[string]any); ok {
		return obj, true
	}
	return map[string]any{"input": decoded}, true
}

// looksLikeJSON quick-rejects anything that cannot start a JSON value,
// so a plain English prompt never pays for a failed json.Unmarshal.
func looksLikeJSON(input string) bool {
	switch c := input[0]; {
	case c == '{' || c == '[' || c == '"':
		return true
	case c == '-' || c == 't' || c == 'f' || c == 'n':
		return true
	case c >= '0' && c <= '9':
		return true
	default:
		return false
	}
}

// asStructuredYAML recognizes input as YAML, but only when decoding
// surfaces an array or a nested map somewhere in the result. A flat
// "key: value" document is valid YAML too, but asKeyValuePairs owns
// that simpler shape — accepting it here would make every single
// parameter line go through the YAML decoder for no benefit.
func asStructuredYAML(input string) (map[string]any, bool) {
	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(input), &decoded); err != nil || len(decoded) == 0 {
		return nil, false
	}
	for _, v := range decoded {
		switch v.(type) {
		case []any, map[string]any:
			return decoded, true
		}
	}
	return nil, false
}

// asKeyValuePairs recognizes "key: value" or "key=value" fields,
// separated by commas, newlines, or a mix of both. A value that itself
// contains a comma (e.g. "tags: a,b,c") breaks the split and the whole
// input falls through to the raw-string case instead of guessing wrong.
func asKeyValuePairs(input string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(input, "\n", ",")
	fields := strings.Split(normalized, ",")

	out := make(map[string]any)
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := splitOnePair(field)
		if !ok {
			return nil, false
		}
		out[key] = literalFromString(value)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// splitOnePair splits one field on its first colon, falling back to its
// first equals sign, rejecting a split whose key is empty or contains a
// space (a sign the field isn't really "key<sep>value" at all).
func splitOnePair(field string) (key, value string, ok bool) {
	if k, v, found := splitAt(field, ":"); found {
		return k, v, true
	}
	if k, v, found := splitAt(field, "="); found {
		return k, v, true
	}
	return "", "", false
}

func splitAt(field, sep string) (key, value string, ok bool) {
	idx := strings.Index(field, sep)
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(field[:idx])
	if key == "" || strings.Contains(key, " ") {
		return "", "", false
	}
	return key, strings.TrimSpace(field[idx+1:]), true
}

// literalFromString guesses a Go scalar for one key-value pair's raw
// right-hand side. This is a best-effort guess with no declared type to
// go on — unlike coerceByType in invoker.go, which converts a value
// according to the tool's own agentio.ToolParameter.TypeName once that
// schema is known.
func literalFromString(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}
	return s
}
