package config

// ServerConfig controls the §4.H Protocol Surface's HTTP/WebSocket
// listener.
type ServerConfig struct {
	// Host is the address the gin engine binds to.
	Host string `yaml:"host"`

	// Port is the TCP port the gin engine listens on.
	Port int `yaml:"port"`

	// AllowedWSOrigins lists the Origin header values accepted by the
	// WebSocket upgrader's CheckOrigin; each entry must match the header
	// exactly (no wildcards). An empty list allows any origin, a
	// permissive default meant to be tightened once a real allowlist is
	// configured.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8090,
	}
}

// AgentConfig names the companion-process commands the out-of-process
// plugin seam (pkg/agentio) dials for the case-runner/agent/validator
// callables and for tool introspection (§9 Design Notes).
type AgentConfig struct {
	// Command and Args launch the companion process implementing
	// agentio.CaseRunner, agentio.Agent and agentio.Validator over
	// NDJSON-over-stdio (pkg/agentio.ProcessClient).
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// StreamCommand/StreamArgs launch the companion process implementing
	// agentio.StreamingAgent for the chat relay (§4.G). Defaults to
	// Command/Args when unset, since many deployments run one companion
	// binary handling both request/response and streaming ops.
	StreamCommand string   `yaml:"stream_command,omitempty"`
	StreamArgs    []string `yaml:"stream_args,omitempty"`

	// ToolsCommand/ToolsArgs launch the companion process implementing
	// agentio.ToolProvider (§4.F). Defaults to Command/Args when unset.
	ToolsCommand string   `yaml:"tools_command,omitempty"`
	ToolsArgs    []string `yaml:"tools_args,omitempty"`
}

// ResolvedStreamCommand returns StreamCommand/StreamArgs, falling back to
// Command/Args when the dedicated streaming companion is not configured.
func (a *AgentConfig) ResolvedStreamCommand() (string, []string) {
	if a.StreamCommand != "" {
		return a.StreamCommand, a.StreamArgs
	}
	return a.Command, a.Args
}

// ResolvedToolsCommand returns ToolsCommand/ToolsArgs, falling back to
// Command/Args when the dedicated tools companion is not configured.
func (a *AgentConfig) ResolvedToolsCommand() (string, []string) {
	if a.ToolsCommand != "" {
		return a.ToolsCommand, a.ToolsArgs
	}
	return a.Command, a.Args
}
