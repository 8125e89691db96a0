// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package filestore implements a backup store on a local or mounted
// filesystem. Keys map to paths below the store root.
package filestore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/juju/handover/internal/backupstore"
)

// Store is a filesystem backed backupstore.Store.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, errors.Annotatef(err, "creating backup store root %q", root)
	}
	return &Store{root: root}, nil
}

// Put is part of backupstore.Store. Readers never see partial objects.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return errors.Trace(err)
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return backupstore.Unavailablef("creating directory for %q: %v", key, err)
	}
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return backupstore.Unavailablef("putting %q: %v", key, err)
	}
	return nil
}

// Get is part of backupstore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundf("object %q", key)
	} else if err != nil {
		return nil, backupstore.Unavailablef("getting %q: %v", key, err)
	}
	return data, nil
}

// List is part of backupstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, backupstore.Unavailablef("listing %q: %v", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return "", errors.NotValidf("key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", errors.NotValidf("key %q", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
