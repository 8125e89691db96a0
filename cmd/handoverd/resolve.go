// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/handover/cmd"
	"github.com/juju/handover/core/ownership"
)

type resolveCommand struct {
	agentCommand
	out cmd.Output

	subjectID string
}

func (c *resolveCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "resolve",
		Args:    "<subject>",
		Purpose: "show the owner recorded for a subject",
	}
}

func (c *resolveCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

func (c *resolveCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no subject specified")
	}
	c.subjectID, args = args[0], args[1:]
	return cmd.CheckEmpty(args)
}

func (c *resolveCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	owner, err := newRecordClient(c.config.Record).Resolve(ctx, c.subjectID)
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, resolveResult{
		Subject: c.subjectID,
		Owner:   owner,
		Local:   ownership.Confirmed(owner, nil, c.config.ClusterID),
	})
}

type resolveResult struct {
	Subject string `yaml:"subject" json:"subject"`
	Owner   string `yaml:"owner" json:"owner"`
	Local   bool   `yaml:"local" json:"local"`
}
