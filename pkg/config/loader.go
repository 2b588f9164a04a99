package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the on-disk shape of agentcheck.yaml — every
// section is a pointer so an absent section leaves the built-in default
// untouched by the merge step.
type YAMLConfig struct {
	ProjectRoot    string        `yaml:"project_root,omitempty"`
	ReloadExcludes []string      `yaml:"reload_excludes,omitempty"`
	DataDir        string        `yaml:"data_dir,omitempty"`
	Queue          *QueueConfig  `yaml:"queue,omitempty"`
	Server         *ServerConfig `yaml:"server,omitempty"`
	Agent          *AgentConfig  `yaml:"agent,omitempty"`
	Defaults       *Defaults     `yaml:"defaults,omitempty"`
}

// load reads agentcheck.yaml from configDir (if present), expands env
// references, and merges it over the built-in defaults.
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadAgentcheckYAML()
	if err != nil {
		return nil, NewLoadError("agentcheck.yaml", err)
	}

	queue := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergeOverride(queue, yamlCfg.Queue); err != nil {
			return nil, fmt.Errorf("merge queue config: %w", err)
		}
	}

	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergeOverride(server, yamlCfg.Server); err != nil {
			return nil, fmt.Errorf("merge server config: %w", err)
		}
	}

	defaults := DefaultDefaults()
	if yamlCfg.Defaults != nil {
		if err := mergeOverride(defaults, yamlCfg.Defaults); err != nil {
			return nil, fmt.Errorf("merge defaults: %w", err)
		}
	}

	agent := yamlCfg.Agent
	if agent == nil {
		agent = &AgentConfig{}
	}

	dataDir := yamlCfg.DataDir
	if dataDir == "" {
		dataDir = "./agentcheck-data"
	}

	return &Config{
		configDir:      configDir,
		ProjectRoot:    yamlCfg.ProjectRoot,
		ReloadExcludes: yamlCfg.ReloadExcludes,
		DataDir:        dataDir,
		Queue:          queue,
		Server:         server,
		Agent:          agent,
		Defaults:       defaults,
	}, nil
}

type configLoader struct {
	configDir string
}

// loadAgentcheckYAML reads and parses agentcheck.yaml. A missing file
// yields an empty (all-defaults) YAMLConfig rather than an error:
// agentcheck has no hard dependency on any section being present, so an
// all-defaults run is a legitimate "point it at a project and go"
// experience.
func (l *configLoader) loadAgentcheckYAML() (*YAMLConfig, error) {
	var cfg YAMLConfig

	path := filepath.Join(l.configDir, "agentcheck.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
