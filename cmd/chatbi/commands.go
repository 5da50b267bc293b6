package main

import (
	"context"
	"io"
	"os"

	"chatbi/internal/client"
	"chatbi/internal/config"
)

type commandRunner interface {
	Run(args []string) error
}

// healthChecker is the slice of the agent client the health command needs.
type healthChecker interface {
	Health(ctx context.Context) (*client.HealthResponse, error)
	AgentURL() string
}

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	newHealth  func(endpoint, agent string) healthChecker
	runUI      func(cfg config.Config) error
	serveMock  func(ctx context.Context, opts mockAgentOptions) error
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.Load,
		newHealth: func(endpoint, agent string) healthChecker {
			return client.New(endpoint, agent)
		},
		runUI:     runUIProcess,
		serveMock: serveMockAgent,
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"ui":         NewUICommand(wiring.stderr, wiring.loadConfig, wiring.runUI),
		"config":     NewConfigCommand(wiring.stdout, wiring.stderr, wiring.loadConfig),
		"tools":      NewToolsCommand(wiring.stdout, wiring.stderr),
		"mock-agent": NewMockAgentCommand(wiring.stderr, wiring.serveMock),
		"health":     NewHealthCommand(wiring.stdout, wiring.stderr, wiring.loadConfig, wiring.newHealth),
	}
}
