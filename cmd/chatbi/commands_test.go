package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatbi/internal/client"
	"chatbi/internal/config"
	"chatbi/internal/mockagent"
	"chatbi/internal/types"
)

func defaultConfig() (config.Config, error) {
	return config.Default(), nil
}

func TestConfigCommandPrintsDefaultsAsJSON(t *testing.T) {
	stdout := &bytes.Buffer{}
	cmd := NewConfigCommand(stdout, &bytes.Buffer{}, func() (config.Config, error) {
		return config.Config{}, errors.New("should not load")
	})
	if err := cmd.Run([]string{"--default"}); err != nil {
		t.Fatalf("expected config to succeed, got err=%v", err)
	}
	var out configOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if out.Agent.Endpoint != client.DefaultEndpoint || out.Agent.Name != client.DefaultAgent {
		t.Fatalf("unexpected agent config: %+v", out.Agent)
	}
	if out.Approval.ResponseTimeout != "30s" || !out.UI.DevMode || out.History.Backend != config.HistoryMemory {
		t.Fatalf("unexpected defaults: %+v", out)
	}
	if out.History.Path != "" {
		t.Fatalf("memory history should have no path, got %q", out.History.Path)
	}
}

func TestConfigCommandTOMLUsesLoadedConfig(t *testing.T) {
	stdout := &bytes.Buffer{}
	cmd := NewConfigCommand(stdout, &bytes.Buffer{}, func() (config.Config, error) {
		cfg := config.Default()
		cfg.Agent.Name = "finance_agent"
		cfg.Logging.Level = "debug"
		return cfg, nil
	})
	if err := cmd.Run([]string{"--format", "toml"}); err != nil {
		t.Fatalf("expected config to succeed, got err=%v", err)
	}
	text := stdout.String()
	for _, want := range []string{"[agent]", "finance_agent", "[logging]", "debug"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestConfigCommandRejectsUnknownFormat(t *testing.T) {
	cmd := NewConfigCommand(&bytes.Buffer{}, &bytes.Buffer{}, defaultConfig)
	if err := cmd.Run([]string{"--format", "yaml"}); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func decodeTools(t *testing.T, raw []byte) map[string]types.Tool {
	t.Helper()
	var list []types.Tool
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode: %v\n%s", err, raw)
	}
	byName := map[string]types.Tool{}
	for _, tool := range list {
		byName[tool.Name] = tool
	}
	return byName
}

func TestToolsCommandListsFrontendTools(t *testing.T) {
	stdout := &bytes.Buffer{}
	if err := NewToolsCommand(stdout, &bytes.Buffer{}).Run(nil); err != nil {
		t.Fatalf("expected tools to succeed, got err=%v", err)
	}
	byName := decodeTools(t, stdout.Bytes())
	for _, name := range []string{"show_sql", "approve_query_parameters"} {
		tool, ok := byName[name]
		if !ok {
			t.Fatalf("expected %s in %v", name, byName)
		}
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil || schema["type"] != "object" {
			t.Fatalf("expected object schema for %s, got %s", name, tool.Parameters)
		}
	}
	if _, ok := byName["kb_chat"]; ok {
		t.Fatalf("kb_chat runs on the agent and should need --all")
	}

	stdout.Reset()
	if err := NewToolsCommand(stdout, &bytes.Buffer{}).Run([]string{"--all"}); err != nil {
		t.Fatalf("expected tools --all to succeed, got err=%v", err)
	}
	if _, ok := decodeTools(t, stdout.Bytes())["kb_chat"]; !ok {
		t.Fatalf("expected kb_chat with --all:\n%s", stdout.String())
	}
}

func TestHealthCommandProbesAgent(t *testing.T) {
	server := httptest.NewServer(mockagent.NewServer(mockagent.WithDelay(0)).Handler())
	defer server.Close()

	stdout := &bytes.Buffer{}
	wiring := defaultCommandWiring(stdout, &bytes.Buffer{})
	cmd := NewHealthCommand(stdout, &bytes.Buffer{}, defaultConfig, wiring.newHealth)
	if err := cmd.Run([]string{"--endpoint", server.URL}); err != nil {
		t.Fatalf("expected health to succeed, got err=%v", err)
	}
	if got := stdout.String(); !strings.Contains(got, mockagent.DefaultAgent+" ok") {
		t.Fatalf("unexpected health output %q", got)
	}

	err := cmd.Run([]string{"--endpoint", server.URL, "--agent", "missing"})
	if err == nil {
		t.Fatalf("expected unknown agent to fail")
	}
	if apiErr := client.AsAPIError(err); apiErr == nil || apiErr.StatusCode != 404 {
		t.Fatalf("expected 404 api error, got %v", err)
	}
}

func TestMockAgentCommandParsesFlags(t *testing.T) {
	var got mockAgentOptions
	cmd := NewMockAgentCommand(&bytes.Buffer{}, func(_ context.Context, opts mockAgentOptions) error {
		got = opts
		return nil
	})
	if err := cmd.Run([]string{"--addr", "127.0.0.1:9000", "--agent", "demo", "--delay", "5ms"}); err != nil {
		t.Fatalf("expected mock-agent to succeed, got err=%v", err)
	}
	if got.addr != "127.0.0.1:9000" || got.agent != "demo" || got.delay != 5*time.Millisecond {
		t.Fatalf("unexpected options: %+v", got)
	}
	if err := cmd.Run([]string{"--delay", "-1s"}); err == nil {
		t.Fatalf("expected negative delay to fail")
	}
}

func TestUICommandAppliesOverrides(t *testing.T) {
	var got config.Config
	cmd := NewUICommand(&bytes.Buffer{}, defaultConfig, func(cfg config.Config) error {
		got = cfg
		return nil
	})
	if err := cmd.Run([]string{"--endpoint", "http://agent.local:9000/", "--agent", "finance"}); err != nil {
		t.Fatalf("expected ui to succeed, got err=%v", err)
	}
	if got.AgentEndpoint() != "http://agent.local:9000" || got.AgentName() != "finance" {
		t.Fatalf("unexpected agent config: endpoint=%q name=%q", got.AgentEndpoint(), got.AgentName())
	}
	if err := cmd.Run([]string{"--bogus"}); err == nil {
		t.Fatalf("expected unknown flag to fail")
	}
}

func TestBuildCommandsRegistersAll(t *testing.T) {
	commands := buildCommands(defaultCommandWiring(&bytes.Buffer{}, &bytes.Buffer{}))
	for _, name := range []string{"ui", "config", "tools", "mock-agent", "health"} {
		if _, ok := commands[name]; !ok {
			t.Fatalf("expected %q command", name)
		}
	}
}
