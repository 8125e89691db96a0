// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/handover/api/guardianstatus"
	"github.com/juju/handover/cmd"
	"github.com/juju/handover/core/migration"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/domain/migration/service"
	"github.com/juju/handover/domain/migration/state"
	"github.com/juju/handover/internal/backupstore"
	"github.com/juju/handover/internal/database"
	internallogger "github.com/juju/handover/internal/logger"
)

type migrateCommand struct {
	agentCommand
	out cmd.Output

	dbPath   string
	to       string
	abort    bool
	status   bool
	timeouts migration.Timeouts

	subjectID string
}

func (c *migrateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "migrate",
		Args:    "(--to <cluster> | --abort | --status) <subject>",
		Purpose: "move ownership of a subject to another cluster",
		Doc: `
Moves the ownership record of the subject to the destination cluster, then
follows the source deactivation, the snapshot copy and the destination
activation. Rerunning the command resumes a running attempt where it
stopped. --abort is only possible until the ownership record has moved.
`,
	}
}

func (c *migrateCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	f.StringVar(&c.dbPath, "db", "migrations.db", "path of the migration attempt database")
	f.StringVar(&c.to, "to", "", "destination cluster")
	f.BoolVar(&c.abort, "abort", false, "abort the running attempt")
	f.BoolVar(&c.status, "status", false, "show the latest attempt")
	f.DurationVar(&c.timeouts.SourceDeactivation, "deactivation-timeout", 5*time.Minute, "wait for the source to deactivate")
	f.DurationVar(&c.timeouts.CopyCompletion, "copy-timeout", 15*time.Minute, "wait for the snapshot copy")
	f.DurationVar(&c.timeouts.DestinationActive, "activation-timeout", 5*time.Minute, "wait for the destination to activate")
}

func (c *migrateCommand) Init(args []string) error {
	modes := 0
	for _, set := range []bool{c.to != "", c.abort, c.status} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return errors.New("exactly one of --to, --abort and --status must be specified")
	}
	if len(args) == 0 {
		return errors.New("no subject specified")
	}
	c.subjectID, args = args[0], args[1:]
	if err := ownership.ValidateID(c.subjectID); err != nil {
		return errors.Trace(err)
	}
	if c.to != "" {
		if err := c.timeouts.Validate(); err != nil {
			return errors.Trace(err)
		}
	}
	return cmd.CheckEmpty(args)
}

func (c *migrateCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}

	db, err := database.Open(ctx, ctx.AbsPath(c.dbPath), state.Schema, clock.WallClock, internallogger.GetLogger("handover.database"))
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()

	record := newRecordClient(c.config.Record)
	config := service.Config{
		State:        state.NewState(db, internallogger.GetLogger("handover.migration.state")),
		Record:       record,
		PollInterval: c.config.Guardian.PollInterval.D(),
		Clock:        clock.WallClock,
		Logger:       internallogger.GetLogger("handover.migration"),
	}

	var attempt migration.Attempt
	switch {
	case c.status:
		svc, err := service.NewService(config)
		if err != nil {
			return errors.Trace(err)
		}
		attempt, err = svc.Status(ctx, c.subjectID)
		if err != nil {
			return errors.Trace(err)
		}
	case c.abort:
		svc, err := service.NewService(config)
		if err != nil {
			return errors.Trace(err)
		}
		attempt, err = svc.Abort(ctx, c.subjectID)
		if err != nil {
			return errors.Trace(err)
		}
	default:
		if err := c.followers(ctx, &config, record); err != nil {
			return errors.Trace(err)
		}
		svc, err := service.NewService(config)
		if err != nil {
			return errors.Trace(err)
		}
		attempt, err = svc.Migrate(ctx, c.subjectID, c.to, c.timeouts)
		if err != nil {
			_ = c.out.Write(ctx, attemptOutput(attempt))
			return errors.Trace(err)
		}
	}
	return c.out.Write(ctx, attemptOutput(attempt))
}

// followers wires the status readers of the current owner and of the
// destination into config.
func (c *migrateCommand) followers(ctx *cmd.Context, config *service.Config, record ownership.Resolver) error {
	owner, err := record.Resolve(ctx, c.subjectID)
	if err != nil {
		return errors.Trace(err)
	}
	source := owner
	if owner == c.to {
		// Resuming after the record moved: the source is whichever
		// attempt started the move.
		st := config.State
		if attempt, err := st.LatestAttempt(ctx, c.subjectID); err == nil {
			source = attempt.SourceOwnerID
		}
	}
	sourceURL, err := c.statusURL(source)
	if err != nil {
		return errors.Annotate(err, "source cluster")
	}
	destinationURL, err := c.statusURL(c.to)
	if err != nil {
		return errors.Annotate(err, "destination cluster")
	}
	storeConfig, err := c.backupStoreConfig(c.to)
	if err != nil {
		return errors.Annotate(err, "destination cluster")
	}
	destinationStore, err := newBackupStore(ctx, storeConfig)
	if err != nil {
		return errors.Annotate(err, "destination backup store")
	}

	httpClient := &http.Client{Timeout: c.config.Record.Timeout.D()}
	config.Source = guardianstatus.NewClient(sourceURL, httpClient)
	config.Destination = guardianstatus.NewClient(destinationURL, httpClient)
	config.Copies = backupstore.NewCopyStatus(destinationStore)
	return nil
}

type attemptResult struct {
	UUID           string `yaml:"uuid" json:"uuid"`
	Subject        string `yaml:"subject" json:"subject"`
	Source         string `yaml:"source" json:"source"`
	Target         string `yaml:"target" json:"target"`
	Phase          string `yaml:"phase" json:"phase"`
	CopiedRevision int64  `yaml:"copied-revision,omitempty" json:"copied-revision,omitempty"`
	Message        string `yaml:"message,omitempty" json:"message,omitempty"`
	Started        string `yaml:"started" json:"started"`
	Updated        string `yaml:"updated" json:"updated"`
}

func attemptOutput(a migration.Attempt) attemptResult {
	return attemptResult{
		UUID:           a.UUID,
		Subject:        a.SubjectID,
		Source:         a.SourceOwnerID,
		Target:         a.TargetOwnerID,
		Phase:          a.Phase.String(),
		CopiedRevision: a.CopiedRevision,
		Message:        a.Message,
		Started:        a.Started.UTC().Format(time.RFC3339),
		Updated:        a.Updated.UTC().Format(time.RFC3339),
	}
}
