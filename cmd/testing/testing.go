// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"bytes"
	"context"
	"strings"

	gc "gopkg.in/check.v1"

	"github.com/juju/handover/cmd"
)

// Context returns a command context with buffered streams rooted in a
// fresh temporary directory.
func Context(c *gc.C) *cmd.Context {
	return &cmd.Context{
		Context: context.Background(),
		Dir:     c.MkDir(),
		Stdin:   strings.NewReader(""),
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	}
}

// Stdout returns what the command wrote to stdout.
func Stdout(ctx *cmd.Context) string {
	return ctx.Stdout.(*bytes.Buffer).String()
}

// Stderr returns what the command wrote to stderr.
func Stderr(ctx *cmd.Context) string {
	return ctx.Stderr.(*bytes.Buffer).String()
}

// RunCommand parses args on com and runs it in a fresh context.
func RunCommand(c *gc.C, com cmd.Command, args ...string) (*cmd.Context, error) {
	ctx := Context(c)
	if err := cmd.Parse(com, args, ctx.Stderr); err != nil {
		return ctx, err
	}
	return ctx, com.Run(ctx)
}
