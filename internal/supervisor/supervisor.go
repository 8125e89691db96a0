// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package supervisor controls the process serving a subject's state store.
// Stopping the process is how a guardian terminates client connections
// that were established while it still owned the subject.
package supervisor

import "context"

// Supervisor starts and stops the serving process. Both operations are
// idempotent.
type Supervisor interface {
	// Start starts the serving process if it is not running.
	Start(ctx context.Context) error

	// Stop stops the serving process, dropping every open connection. It
	// is a no-op if the process is not running.
	Stop(ctx context.Context) error

	// Running reports whether the serving process is running.
	Running(ctx context.Context) (bool, error)
}
