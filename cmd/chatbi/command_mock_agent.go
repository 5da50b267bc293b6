package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbi/internal/logging"
	"chatbi/internal/mockagent"
)

type mockAgentOptions struct {
	addr   string
	agent  string
	delay  time.Duration
	stderr io.Writer
}

type MockAgentCommand struct {
	stderr io.Writer
	serve  func(ctx context.Context, opts mockAgentOptions) error
}

func NewMockAgentCommand(stderr io.Writer, serve func(ctx context.Context, opts mockAgentOptions) error) *MockAgentCommand {
	if serve == nil {
		serve = serveMockAgent
	}
	return &MockAgentCommand{stderr: stderr, serve: serve}
}

func (c *MockAgentCommand) Run(args []string) error {
	fs := flag.NewFlagSet("mock-agent", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	addr := fs.String("addr", mockagent.DefaultAddr, "listen address")
	agent := fs.String("agent", mockagent.DefaultAgent, "agent name served under /agents/{name}")
	delay := fs.Duration("delay", 40*time.Millisecond, "pause between streamed chunks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *delay < 0 {
		return errors.New("delay must not be negative")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, mockAgentOptions{
		addr:   *addr,
		agent:  *agent,
		delay:  *delay,
		stderr: c.stderr,
	})
}

func serveMockAgent(ctx context.Context, opts mockAgentOptions) error {
	logger := logging.New(opts.stderr, logging.Info)
	server := mockagent.NewServer(
		mockagent.WithAgentName(opts.agent),
		mockagent.WithDelay(opts.delay),
		mockagent.WithLogger(logger),
	)
	fmt.Fprintf(opts.stderr, "mock agent %q listening on http://%s\n", opts.agent, opts.addr)
	err := server.Serve(ctx, opts.addr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
