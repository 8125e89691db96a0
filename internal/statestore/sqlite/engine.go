// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sqlite implements a state engine on a SQLite database file.
// Snapshots are taken with VACUUM INTO, which produces a transactionally
// consistent copy while writers continue.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/statestore"
)

// Engine is a statestore.Engine for a SQLite database file.
type Engine struct {
	path   string
	logger logger.Logger
}

var _ statestore.Engine = (*Engine)(nil)

// NewEngine returns an engine for the database file at path.
func NewEngine(path string, logger logger.Logger) *Engine {
	return &Engine{
		path:   path,
		logger: logger,
	}
}

// Snapshot is part of statestore.Engine.
func (e *Engine) Snapshot(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(e.path); errors.Is(err, os.ErrNotExist) {
		return nil, errors.NotFoundf("database %q", e.path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	dir, err := os.MkdirTemp(filepath.Dir(e.path), ".snapshot-")
	if err != nil {
		return nil, errors.Annotate(err, "creating snapshot directory")
	}
	defer func() { _ = os.RemoveAll(dir) }()
	target := filepath.Join(dir, "snapshot.db")

	db, err := sql.Open("sqlite3", "file:"+e.path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Annotatef(err, "opening %q", e.path)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return nil, errors.Annotatef(err, "snapshotting %q", e.path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, errors.Annotate(err, "reading snapshot")
	}
	e.logger.Debugf("snapshot of %q: %d bytes", e.path, len(data))
	return data, nil
}

// Restore is part of statestore.Engine. The snapshot is checked for
// integrity before it replaces the database file.
func (e *Engine) Restore(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		e.logger.Infof("resetting %q to empty state", e.path)
		return errors.Trace(e.removeFiles())
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".restore-*.db")
	if err != nil {
		return errors.Annotate(err, "creating restore file")
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Annotate(err, "writing restore file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Annotate(err, "syncing restore file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := checkIntegrity(ctx, tmpPath); err != nil {
		return errors.Annotate(err, "restored snapshot")
	}

	if err := e.removeFiles(); err != nil {
		return errors.Trace(err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return errors.Annotatef(err, "replacing %q", e.path)
	}
	e.logger.Infof("restored %q from %d byte snapshot", e.path, len(data))
	return nil
}

func (e *Engine) removeFiles() error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(e.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Annotatef(err, "removing %q", e.path+suffix)
		}
	}
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Annotate(err, "checking integrity")
	}
	if result != "ok" {
		return errors.NotValidf("database integrity %q", result)
	}
	return nil
}
