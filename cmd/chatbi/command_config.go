package main

import (
	"flag"
	"io"

	"chatbi/internal/config"
)

type ConfigCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
}

type configOutput struct {
	ConfigPath string                  `json:"config_path,omitempty" toml:"config_path,omitempty"`
	Agent      effectiveAgentConfig    `json:"agent" toml:"agent"`
	Approval   effectiveApprovalConfig `json:"approval" toml:"approval"`
	UI         effectiveUIConfig       `json:"ui" toml:"ui"`
	History    effectiveHistoryConfig  `json:"history" toml:"history"`
	Logging    effectiveLoggingConfig  `json:"logging" toml:"logging"`
	Debug      effectiveDebugConfig    `json:"debug" toml:"debug"`
}

type effectiveAgentConfig struct {
	Endpoint       string `json:"endpoint" toml:"endpoint"`
	Name           string `json:"name" toml:"name"`
	RequestTimeout string `json:"request_timeout" toml:"request_timeout"`
}

type effectiveApprovalConfig struct {
	ResponseTimeout string `json:"response_timeout" toml:"response_timeout"`
}

type effectiveUIConfig struct {
	DevMode bool   `json:"dev_mode" toml:"dev_mode"`
	Theme   string `json:"theme" toml:"theme"`
}

type effectiveHistoryConfig struct {
	Backend string `json:"backend" toml:"backend"`
	Path    string `json:"path,omitempty" toml:"path,omitempty"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level"`
}

type effectiveDebugConfig struct {
	StreamDebug bool `json:"stream_debug" toml:"stream_debug"`
}

func NewConfigCommand(stdout, stderr io.Writer, loadConfig func() (config.Config, error)) *ConfigCommand {
	if loadConfig == nil {
		loadConfig = config.Load
	}
	return &ConfigCommand{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: loadConfig,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	format := fs.String("format", formatJSON, "output format: json|toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolvedFormat, err := resolveFormat(*format)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if !*defaults {
		cfg, err = c.loadConfig()
		if err != nil {
			return err
		}
	}
	output, err := buildConfigOutput(cfg)
	if err != nil {
		return err
	}
	return writeOutput(c.stdout, resolvedFormat, output)
}

func buildConfigOutput(cfg config.Config) (configOutput, error) {
	out := configOutput{
		Agent: effectiveAgentConfig{
			Endpoint:       cfg.AgentEndpoint(),
			Name:           cfg.AgentName(),
			RequestTimeout: cfg.RequestTimeout().String(),
		},
		Approval: effectiveApprovalConfig{
			ResponseTimeout: cfg.ApprovalResponseTimeout().String(),
		},
		UI: effectiveUIConfig{
			DevMode: cfg.DevMode(),
			Theme:   cfg.Theme(),
		},
		History: effectiveHistoryConfig{
			Backend: cfg.HistoryBackend(),
		},
		Logging: effectiveLoggingConfig{
			Level: cfg.LogLevel(),
		},
		Debug: effectiveDebugConfig{
			StreamDebug: cfg.StreamDebugEnabled(),
		},
	}
	if path, err := config.ConfigPath(); err == nil {
		out.ConfigPath = path
	}
	if out.History.Backend == config.HistoryBolt {
		path, err := cfg.ResolveHistoryPath()
		if err != nil {
			return configOutput{}, err
		}
		out.History.Path = path
	}
	return out, nil
}
