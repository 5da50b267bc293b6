package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"chatbi/internal/config"
)

type HealthCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	newHealth  func(endpoint, agent string) healthChecker
}

func NewHealthCommand(stdout, stderr io.Writer, loadConfig func() (config.Config, error), newHealth func(endpoint, agent string) healthChecker) *HealthCommand {
	return &HealthCommand{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: loadConfig,
		newHealth:  newHealth,
	}
}

func (c *HealthCommand) Run(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	endpoint := fs.String("endpoint", "", "agent base URL (overrides config)")
	agent := fs.String("agent", "", "agent name (overrides config)")
	timeout := fs.Duration("timeout", 5*time.Second, "probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	applyAgentOverrides(&cfg, *endpoint, *agent)

	checker := c.newHealth(cfg.AgentEndpoint(), cfg.AgentName())
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := checker.Health(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", checker.AgentURL(), err)
	}
	name := cfg.AgentName()
	if resp.Agent != nil && resp.Agent.Name != "" {
		name = resp.Agent.Name
	}
	fmt.Fprintf(c.stdout, "%s %s (%s)\n", name, resp.Status, checker.AgentURL())
	return nil
}

func applyAgentOverrides(cfg *config.Config, endpoint, agent string) {
	if value := strings.TrimSpace(endpoint); value != "" {
		cfg.Agent.Endpoint = value
	}
	if value := strings.TrimSpace(agent); value != "" {
		cfg.Agent.Name = value
	}
}
