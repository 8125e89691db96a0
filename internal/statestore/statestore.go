// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package statestore defines the local state engine replica that a
// guardian snapshots and restores.
package statestore

import "context"

// Engine is a local replica of the subject's state store.
type Engine interface {
	// Snapshot returns a write-consistent copy of the current state.
	Snapshot(ctx context.Context) ([]byte, error)

	// Restore replaces the current state with the given snapshot. An
	// empty snapshot resets the engine to empty state. It must only be
	// called while the serving process is stopped.
	Restore(ctx context.Context, data []byte) error
}
