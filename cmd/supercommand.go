// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	internallogger "github.com/juju/handover/internal/logger"
)

// SuperCommand dispatches to one of several registered subcommands.
type SuperCommand struct {
	Name    string
	Purpose string

	subcmds map[string]Command
	subcmd  Command

	loggingConfig string
	debug         bool
}

// NewSuperCommand returns a SuperCommand with no subcommands.
func NewSuperCommand(name, purpose string) *SuperCommand {
	return &SuperCommand{
		Name:    name,
		Purpose: purpose,
		subcmds: make(map[string]Command),
	}
}

// Register makes a subcommand available.
func (c *SuperCommand) Register(subcmd Command) {
	name := subcmd.Info().Name
	if _, found := c.subcmds[name]; found {
		panic(fmt.Sprintf("command already registered: %q", name))
	}
	c.subcmds[name] = subcmd
}

// Info is part of the Command interface.
func (c *SuperCommand) Info() *Info {
	names := make([]string, 0, len(c.subcmds))
	for name := range c.subcmds {
		names = append(names, name)
	}
	sort.Strings(names)
	var doc strings.Builder
	doc.WriteString("commands:\n")
	for _, name := range names {
		fmt.Fprintf(&doc, "    %-14s %s\n", name, c.subcmds[name].Info().Purpose)
	}
	return &Info{
		Name:    c.Name,
		Args:    "<command> ...",
		Purpose: c.Purpose,
		Doc:     doc.String(),
	}
}

// SetFlags is part of the Command interface.
func (c *SuperCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.loggingConfig, "logging-config", "", "loggo configuration, e.g. <root>=INFO;handover.worker=DEBUG")
	f.BoolVar(&c.debug, "debug", false, "log at DEBUG level")
}

// AllowInterspersedFlags stops flag parsing at the subcommand name so that
// the remaining flags reach the subcommand.
func (c *SuperCommand) AllowInterspersedFlags() bool {
	return false
}

// Init is part of the Command interface.
func (c *SuperCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no command specified")
	}
	subcmd, found := c.subcmds[args[0]]
	if !found {
		return errors.NotFoundf("command %q", args[0])
	}
	c.subcmd = subcmd
	return errors.Annotatef(parseSub(subcmd, args[1:]), "%s", args[0])
}

func parseSub(subcmd Command, args []string) error {
	f := gnuflag.NewFlagSet(subcmd.Info().Name, gnuflag.ContinueOnError)
	subcmd.SetFlags(f)
	if err := f.Parse(true, args); err != nil {
		return err
	}
	return subcmd.Init(f.Args())
}

// Run is part of the Command interface.
func (c *SuperCommand) Run(ctx *Context) error {
	if c.subcmd == nil {
		return errors.New("no command specified")
	}
	spec := c.loggingConfig
	if c.debug {
		spec = "<root>=DEBUG;" + spec
	}
	if spec != "" {
		if err := internallogger.ConfigureLoggers(spec); err != nil {
			return errors.Annotate(err, "configuring logging")
		}
	}
	return c.subcmd.Run(ctx)
}
