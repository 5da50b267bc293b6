package main

import (
	"fmt"
	"os"
)

const usageText = `chatbi is a terminal client for a chat-driven BI agent.

Usage:
  chatbi [command] [flags]

Commands:
  ui           run the terminal UI (default)
  config       print configuration (effective or defaults)
  tools        print the client tool definitions as AG-UI JSON
  mock-agent   serve a scripted AG-UI agent for demos
  health       probe the configured agent
  help         show help

UI flags:
  --endpoint   agent base URL (overrides agent.endpoint)
  --agent      agent name (overrides agent.name)

Examples:
  chatbi mock-agent --addr 127.0.0.1:8123
  chatbi ui --endpoint http://127.0.0.1:8123
  chatbi config --default --format toml
  chatbi tools --all
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"ui"}
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
