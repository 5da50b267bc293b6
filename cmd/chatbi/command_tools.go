package main

import (
	"flag"
	"io"

	"chatbi/internal/tools"
	"chatbi/internal/types"
)

type ToolsCommand struct {
	stdout io.Writer
	stderr io.Writer
}

func NewToolsCommand(stdout, stderr io.Writer) *ToolsCommand {
	return &ToolsCommand{stdout: stdout, stderr: stderr}
}

// Run prints the tools advertised to the agent on every run. --all adds the
// tools that the agent executes itself.
func (c *ToolsCommand) Run(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	all := fs.Bool("all", false, "include tools executed by the agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list := []types.Tool{}
	for _, def := range tools.Catalog() {
		if !def.Frontend && !*all {
			continue
		}
		list = append(list, def.Tool())
	}
	return writeOutput(c.stdout, formatJSON, list)
}
