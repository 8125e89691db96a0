// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/worker/v4"

	"github.com/juju/handover/cmd"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/core/snapshot"
	internallogger "github.com/juju/handover/internal/logger"
	"github.com/juju/handover/internal/worker/snapshotcopier"
)

type copyCommand struct {
	agentCommand
	out cmd.Output

	from      string
	subjectID string
}

func (c *copyCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "copy",
		Args:    "--from <cluster> <subject>",
		Purpose: "copy the final snapshot of a subject into this cluster",
		Doc: `
Waits for the final snapshot of the subject to appear in the backup store of
the source cluster and copies it into the local backup store, where the
local guardian restores it on activation. When no final snapshot appears in
time the latest snapshot is copied instead.

The command fails, without writing a completion marker, when the source is
required but unreachable or when the local backup store cannot be used.
`,
	}
}

func (c *copyCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	f.StringVar(&c.from, "from", "", "cluster the subject is migrating from")
}

func (c *copyCommand) Init(args []string) error {
	if c.from == "" {
		return errors.New("--from must be specified")
	}
	if len(args) == 0 {
		return errors.New("no subject specified")
	}
	c.subjectID, args = args[0], args[1:]
	if err := ownership.ValidateID(c.subjectID); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

func (c *copyCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	sourceConfig, err := c.backupStoreConfig(c.from)
	if err != nil {
		return errors.Trace(err)
	}
	source, err := newBackupStore(ctx, sourceConfig)
	if err != nil {
		return errors.Annotate(err, "source backup store")
	}
	destination, err := newBackupStore(ctx, c.config.BackupStore)
	if err != nil {
		return errors.Annotate(err, "destination backup store")
	}

	timings := c.config.Copy
	w, err := snapshotcopier.NewWorker(snapshotcopier.Config{
		SubjectID:            c.subjectID,
		Source:               source,
		Destination:          destination,
		FinalSnapshotTimeout: timings.FinalSnapshotTimeout.D(),
		PollInterval:         timings.PollInterval.D(),
		OperationTimeout:     timings.OperationTimeout.D(),
		RequireSource:        timings.RequireSource,
		Clock:                clock.WallClock,
		Logger:               internallogger.GetLogger("handover.worker.snapshotcopier"),
	})
	if err != nil {
		return errors.Trace(err)
	}

	dead := make(chan error, 1)
	go func() {
		dead <- w.Wait()
	}()
	select {
	case <-w.Done():
	case err := <-dead:
		return errors.Trace(err)
	case <-ctx.Done():
		return errors.Trace(worker.Stop(w))
	}
	result, _ := w.Result()
	if err := worker.Stop(w); err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, copyOutput(result))
}

type copyResult struct {
	Subject   string `yaml:"subject" json:"subject"`
	Revision  int64  `yaml:"revision" json:"revision"`
	Final     bool   `yaml:"final" json:"final"`
	Fallback  bool   `yaml:"fallback" json:"fallback"`
	Empty     bool   `yaml:"empty,omitempty" json:"empty,omitempty"`
	Completed string `yaml:"completed" json:"completed"`
}

func copyOutput(r snapshot.CopyResult) copyResult {
	return copyResult{
		Subject:   r.SubjectID,
		Revision:  r.Revision,
		Final:     r.Final,
		Fallback:  r.Fallback,
		Empty:     r.Empty(),
		Completed: r.Completed.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
