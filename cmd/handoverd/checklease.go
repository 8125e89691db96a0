// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"os/exec"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/handover/cmd"
	corelease "github.com/juju/handover/core/lease"
	internallogger "github.com/juju/handover/internal/logger"
	"github.com/juju/handover/internal/lease/watchdog"
)

type checkLeaseCommand struct {
	agentCommand
	out cmd.Output

	subjectID string
	command   []string
}

func (c *checkLeaseCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "check-lease",
		Args:    "<subject> [-- <command> [<arg>...]]",
		Purpose: "check the ownership lease, or run a command under it",
		Doc: `
Without a command, prints the lease status of the subject as seen by this
cluster and exits non-zero unless it is valid.

With a command, runs it only while the lease is valid: the command is not
started unless the lease is valid, and it is killed as soon as the lease
expires or can no longer be read.
`,
	}
}

func (c *checkLeaseCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

func (c *checkLeaseCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no subject specified")
	}
	c.subjectID, c.command = args[0], args[1:]
	return nil
}

func (c *checkLeaseCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	store, err := newLeaseStore(c.config.Lease)
	if err != nil {
		return errors.Trace(err)
	}
	wd, err := watchdog.New(watchdog.Config{
		Reader:        store,
		HolderID:      c.config.ClusterID,
		CheckInterval: c.config.Lease.RenewInterval.D(),
		ReadTimeout:   c.config.Record.Timeout.D(),
		Clock:         clock.WallClock,
		Logger:        internallogger.GetLogger("handover.lease.watchdog"),
	})
	if err != nil {
		return errors.Trace(err)
	}

	if len(c.command) > 0 {
		return errors.Trace(wd.Run(ctx, c.subjectID, func(stepCtx context.Context) error {
			command := exec.CommandContext(stepCtx, c.command[0], c.command[1:]...)
			command.Stdin = ctx.Stdin
			command.Stdout = ctx.Stdout
			command.Stderr = ctx.Stderr
			return command.Run()
		}))
	}

	check := wd.CheckLease(ctx, c.subjectID)
	if err := c.out.Write(ctx, leaseOutput(c.subjectID, check)); err != nil {
		return errors.Trace(err)
	}
	if !check.Valid() {
		return cmd.ErrSilent
	}
	return nil
}

type leaseResult struct {
	Subject string `yaml:"subject" json:"subject"`
	Status  string `yaml:"status" json:"status"`
	Expiry  string `yaml:"expiry,omitempty" json:"expiry,omitempty"`
}

func leaseOutput(subjectID string, check corelease.Check) leaseResult {
	result := leaseResult{
		Subject: subjectID,
		Status:  check.Status.String(),
	}
	if !check.Expiry.IsZero() {
		result.Expiry = check.Expiry.UTC().Format(time.RFC3339)
	}
	return result
}
