package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "schoolbilling",
		Description: "School billing gateway",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("schoolbilling", flag.ContinueOnError),
		out:         os.Stdout,
	}

	// Add subcommands
	root.add(newServeCommand())
	root.add(newMigrateCommand())
	root.add(newReconcileCommand())
	root.add(newTokenCommand())
	root.add(newAuditCommand())

	return root
}

func (c *Command) add(sub *Command) {
	c.Subcommands[sub.Name] = sub
}

// SetOutput redirects usage and command output, recursively
func (c *Command) SetOutput(w io.Writer) {
	c.out = w
	if c.Flags != nil {
		c.Flags.SetOutput(w)
	}
	for _, sub := range c.Subcommands {
		sub.SetOutput(w)
	}
}

func (c *Command) output() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}

// Execute dispatches args to the matching subcommand or runs the command itself
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 {
		if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
			return c.usage()
		}
		if subcmd, ok := c.Subcommands[args[0]]; ok {
			return subcmd.Execute(ctx, args[1:])
		}
	}

	if c.Run != nil {
		return c.Run(ctx, args)
	}
	if len(args) == 0 {
		return c.usage()
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(out, "%s\n\n", c.Description)
	}
	if len(c.Subcommands) > 0 {
		fmt.Fprintf(out, "Commands:\n")
		names := make([]string, 0, len(c.Subcommands))
		for name := range c.Subcommands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
		}
	}
	if c.Flags != nil && c.Run != nil {
		fmt.Fprintf(out, "\nFlags:\n")
		c.Flags.PrintDefaults()
	}
	return nil
}
