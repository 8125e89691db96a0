// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lease holds the lease signal stores used by the lease renewer
// and the reconciliation watchdog.
package lease

import (
	"context"
	"sync"

	"github.com/juju/errors"

	corelease "github.com/juju/handover/core/lease"
)

// MemoryStore keeps lease signals in memory. It serves a renewer and its
// watchdogs running in the same process.
type MemoryStore struct {
	mu      sync.Mutex
	signals map[string]corelease.Signal
}

var _ corelease.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{signals: make(map[string]corelease.Signal)}
}

// Signal is part of corelease.Reader.
func (s *MemoryStore) Signal(_ context.Context, subjectID string) (corelease.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal, ok := s.signals[subjectID]
	if !ok {
		return corelease.Signal{}, errors.Annotatef(corelease.ErrNotFound, "subject %q", subjectID)
	}
	return signal, nil
}

// WriteSignal is part of corelease.Writer.
func (s *MemoryStore) WriteSignal(_ context.Context, signal corelease.Signal) error {
	if err := signal.Validate(); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.SubjectID] = signal
	return nil
}
