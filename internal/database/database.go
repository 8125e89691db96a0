// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	_ "github.com/mattn/go-sqlite3"

	"github.com/juju/handover/core/logger"
)

const (
	// InMemory opens a private in-memory database. It is intended for
	// tests and for throwaway tooling.
	InMemory = ":memory:"

	defaultRetryAttempts = 10
	defaultRetryDelay    = 50 * time.Millisecond
	defaultRetryMaxDelay = 2 * time.Second
)

// TxnRunner runs transactions against a database.
type TxnRunner interface {
	// Txn executes the input function within a transaction that depends on
	// the input context. Transient failures are retried, so fn must be
	// idempotent.
	Txn(context.Context, func(context.Context, *sqlair.TX) error) error
}

// DB wraps a SQLite database with sqlair statement mapping and retrying
// transactions.
type DB struct {
	db     *sql.DB
	sqlair *sqlair.DB
	clock  clock.Clock
	logger logger.Logger
}

// Open opens the SQLite database at path, creating it if necessary, and
// applies the schema.
func Open(ctx context.Context, path string, schema Schema, clock clock.Clock, logger logger.Logger) (*DB, error) {
	dsn := InMemory
	if path != InMemory {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %q", path)
	}
	// SQLite serialises writers anyway; a single connection also keeps an
	// in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{
		db:     sqlDB,
		sqlair: sqlair.NewDB(sqlDB),
		clock:  clock,
		logger: logger,
	}
	if err := db.applySchema(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Trace(err)
	}
	return db, nil
}

// Txn is part of the TxnRunner interface.
func (db *DB) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return db.retry(ctx, func() error {
		tx, err := db.sqlair.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Debugf("rollback failed: %v", rbErr)
			}
			return err
		}
		return errors.Trace(tx.Commit())
	})
}

// PlainDB returns the underlying database handle.
func (db *DB) PlainDB() *sql.DB {
	return db.db
}

// Close closes the database.
func (db *DB) Close() error {
	return errors.Trace(db.db.Close())
}

func (db *DB) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = fn()
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return !IsErrRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			db.logger.Debugf("retrying transaction (attempt %d): %v", attempt, err)
		},
		Attempts:    defaultRetryAttempts,
		Delay:       defaultRetryDelay,
		MaxDelay:    defaultRetryMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       db.clock,
		Stop:        ctx.Done(),
	})
	if err != nil && lastErr != nil {
		// Callers match on the error returned by their own function, not
		// on the retry wrapper.
		return lastErr
	}
	return errors.Trace(err)
}

func (db *DB) applySchema(ctx context.Context, schema Schema) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.Annotatef(err, "applying schema statement %d", i)
		}
	}
	return errors.Trace(tx.Commit())
}
