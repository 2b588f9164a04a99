package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR}} placeholders in YAML content against the
// process environment, so secrets (API keys, tokens) never have to be
// committed to agentcheck.yaml. Missing variables expand to the empty
// string; validation catches required fields left empty this way.
//
// Any template parse or execution error (unbalanced braces, a pipeline
// referencing an undefined function, indexing into a plain string) causes
// ExpandEnv to return the original bytes unchanged, letting the YAML
// parser either accept the literal text or fail with its own, clearer
// error — malformed template syntax is not this function's concern.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

// envMap snapshots the process environment as a string map so template
// execution can index it with {{.VAR}}.
func envMap() map[string]string {
	env := os.Environ()
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
