// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package domain

import (
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/juju/handover/internal/database"
)

// StateBase defines a base struct for requesting a database and preparing
// statements. It is embedded by every domain state type.
type StateBase struct {
	runner database.TxnRunner

	mu         sync.RWMutex
	statements map[string]*sqlair.Statement
}

// NewStateBase returns a new StateBase using the given transaction runner.
func NewStateBase(runner database.TxnRunner) *StateBase {
	return &StateBase{
		runner:     runner,
		statements: make(map[string]*sqlair.Statement),
	}
}

// DB returns the transaction runner, or an error if none was supplied.
func (st *StateBase) DB() (database.TxnRunner, error) {
	if st.runner == nil {
		return nil, errors.New("nil transaction runner")
	}
	return st.runner, nil
}

// Prepare prepares a SQLair query. If the query has been prepared
// previously it is retrieved from the statement cache.
//
// Note that because the type samples are not considered when retrieving
// a query from the cache, it is an error to prepare the same query with
// different type samples.
func (st *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	st.mu.RLock()
	if stmt, ok := st.statements[query]; ok {
		st.mu.RUnlock()
		return stmt, nil
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if stmt, ok := st.statements[query]; ok {
		return stmt, nil
	}
	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	st.statements[query] = stmt
	return stmt, nil
}
