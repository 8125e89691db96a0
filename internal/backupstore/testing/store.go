// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/handover/internal/backupstore"
)

// Store is an in-memory backupstore.Store whose reachability can be
// toggled.
type Store struct {
	mu          sync.Mutex
	objects     map[string][]byte
	unavailable bool
	puts        []string
}

// NewStore returns an empty, reachable store.
func NewStore() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// SetUnavailable makes every subsequent call fail with
// backupstore.ErrUnavailable until it is called with false.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// Put is part of backupstore.Store.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return backupstore.Unavailablef("putting %q", key)
	}
	s.objects[key] = append([]byte(nil), data...)
	s.puts = append(s.puts, key)
	return nil
}

// Get is part of backupstore.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, backupstore.Unavailablef("getting %q", key)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.NotFoundf("object %q", key)
	}
	return append([]byte(nil), data...), nil
}

// List is part of backupstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, backupstore.Unavailablef("listing %q", prefix)
	}
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Keys returns every stored key in lexical order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the keys written so far, in write order.
func (s *Store) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}
