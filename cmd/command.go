// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd is a small command framework on top of gnuflag.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// ErrSilent can be returned from Run to exit non-zero without printing
// anything.
const ErrSilent = errors.ConstError("cmd: error out silently")

// Info holds everything necessary to describe a Command's intent and usage.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string
}

// Usage combines Name and Args to describe the Command's intended usage.
func (i *Info) Usage() string {
	if i.Args == "" {
		return i.Name
	}
	return fmt.Sprintf("%s %s", i.Name, i.Args)
}

// Command is implemented by the handoverd subcommands.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the command from the positional arguments left
	// after flag parsing.
	Init(args []string) error

	// Run executes the command.
	Run(ctx *Context) error
}

// Context holds the environment a command runs in.
type Context struct {
	context.Context

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context wired to the process's standard
// streams and working directory.
func DefaultContext(ctx context.Context) (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Context{
		Context: ctx,
		Dir:     dir,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// AbsPath returns an absolute path relative to the context directory.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Infof writes a line to stderr.
func (ctx *Context) Infof(format string, args ...interface{}) {
	fmt.Fprintf(ctx.Stderr, format+"\n", args...)
}

// NewFlagSet returns a FlagSet initialized for use with c.
func NewFlagSet(c Command, stderr io.Writer) *gnuflag.FlagSet {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(stderr)
	c.SetFlags(f)
	return f
}

// PrintUsage prints usage information for c.
func PrintUsage(c Command, w io.Writer) {
	i := c.Info()
	fmt.Fprintf(w, "usage: %s\n", i.Usage())
	fmt.Fprintf(w, "purpose: %s\n", i.Purpose)
	f := NewFlagSet(c, w)
	fmt.Fprintf(w, "\noptions:\n")
	f.PrintDefaults()
	if i.Doc != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(i.Doc))
	}
}

// Parse parses args on c. This must be called before c is Run.
func Parse(c Command, args []string, stderr io.Writer) error {
	f := NewFlagSet(c, stderr)
	intersperse := true
	if c, ok := c.(interface{ AllowInterspersedFlags() bool }); ok {
		intersperse = c.AllowInterspersedFlags()
	}
	if err := f.Parse(intersperse, args); err != nil {
		return errors.Trace(err)
	}
	return c.Init(f.Args())
}

// CheckEmpty is a utility function that returns an error if args is not empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognised args: %s", args)
	}
	return nil
}

// Main parses and runs a Command and returns the process exit code.
func Main(c Command, ctx *Context, args []string) int {
	if err := Parse(c, args, ctx.Stderr); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			PrintUsage(c, ctx.Stdout)
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		if !errors.Is(err, ErrSilent) {
			fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		}
		return 1
	}
	return 0
}
