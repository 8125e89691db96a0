// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command handoverd runs the control-plane hand-off agents and the
// operator commands that drive a migration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/handover/cmd"
	internallogger "github.com/juju/handover/internal/logger"
)

var logger = internallogger.GetLogger("handover.cmd.handoverd")

// NewHandoverCommand returns the top level command with every subcommand
// registered.
func NewHandoverCommand() *cmd.SuperCommand {
	super := cmd.NewSuperCommand("handoverd", "control-plane ownership hand-off")
	super.Register(&recordServerCommand{})
	super.Register(&guardianCommand{})
	super.Register(&copyCommand{})
	super.Register(&migrateCommand{})
	super.Register(&provisionCommand{})
	super.Register(&resolveCommand{})
	super.Register(&checkLeaseCommand{})
	return super
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cmdCtx, err := cmd.DefaultContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 2
	}
	return cmd.Main(NewHandoverCommand(), cmdCtx, args)
}
