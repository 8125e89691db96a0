// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/handover/cmd"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/core/snapshot"
	"github.com/juju/handover/internal/backupstore"
)

type provisionCommand struct {
	agentCommand

	owner     string
	subjectID string
}

func (c *provisionCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "provision",
		Args:    "--owner <cluster> <subject>",
		Purpose: "create the ownership record of a new subject",
		Doc: `
Creates the ownership record of the subject with its initial owner and
marks the owner's backup store as holding a completed, empty copy, so that
the owner's guardian starts serving from empty state. Repeating the command
with the same owner is harmless.
`,
	}
}

func (c *provisionCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	f.StringVar(&c.owner, "owner", "", "initial owner cluster")
}

func (c *provisionCommand) Init(args []string) error {
	if c.owner == "" {
		return errors.New("--owner must be specified")
	}
	if len(args) == 0 {
		return errors.New("no subject specified")
	}
	c.subjectID, args = args[0], args[1:]
	if err := (ownership.Record{SubjectID: c.subjectID, OwnerID: c.owner}).Validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

func (c *provisionCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	provisioner, ok := newRecordClient(c.config.Record).(ownership.Provisioner)
	if !ok {
		return errors.NotSupportedf("provisioning a read-only ownership record")
	}
	storeConfig, err := c.backupStoreConfig(c.owner)
	if err != nil {
		return errors.Trace(err)
	}
	store, err := newBackupStore(ctx, storeConfig)
	if err != nil {
		return errors.Trace(err)
	}
	if err := provision(ctx, provisioner, store, c.subjectID, c.owner, time.Now()); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("%s provisioned, owned by %s", c.subjectID, c.owner)
	return nil
}

// provision creates the record, then marks an empty copy as complete in
// the owner's backup store unless a copy marker already exists.
func provision(
	ctx context.Context, provisioner ownership.Provisioner, store backupstore.Store,
	subjectID, ownerID string, now time.Time,
) error {
	if err := provisioner.Provision(ctx, subjectID, ownerID); err != nil {
		return errors.Trace(err)
	}
	_, err := backupstore.ReadCopyResult(ctx, store, subjectID)
	if err == nil {
		return nil
	} else if !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	return errors.Annotate(backupstore.WriteCopyResult(ctx, store, snapshot.CopyResult{
		SubjectID: subjectID,
		Completed: now,
	}), "marking empty initial copy")
}
