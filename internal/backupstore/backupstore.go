// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backupstore defines the object storage that snapshots are
// written to and copied between, and the snapshot-aware operations built
// on top of it.
package backupstore

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/handover/core/snapshot"
)

// ErrUnavailable is returned when the backup store cannot be reached.
const ErrUnavailable = errors.ConstError("backup store unavailable")

// Store is an opaque key/blob store.
type Store interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or a NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys that start with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Unavailablef returns an error satisfying IsUnavailable.
func Unavailablef(format string, args ...any) error {
	return errors.Annotatef(ErrUnavailable, format, args...)
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Series lists the snapshot series of the subject.
func Series(ctx context.Context, store Store, subjectID string) (snapshot.Series, error) {
	keys, err := store.List(ctx, snapshot.SeriesPrefix(subjectID))
	if err != nil {
		return nil, errors.Trace(err)
	}
	series, err := snapshot.ParseSeries(subjectID, keys)
	return series, errors.Annotatef(err, "snapshot series of %q", subjectID)
}

// RestoreSnapshots lists the snapshots copied for the subject into a
// destination store.
func RestoreSnapshots(ctx context.Context, store Store, subjectID string) (snapshot.Series, error) {
	keys, err := store.List(ctx, snapshot.RestorePrefix(subjectID))
	if err != nil {
		return nil, errors.Trace(err)
	}
	series, err := snapshot.ParseSeries(subjectID, keys)
	return series, errors.Annotatef(err, "restore snapshots of %q", subjectID)
}

// ReadCopyResult returns the copy completion marker of the subject, or a
// NotFound error if the copy has not completed.
func ReadCopyResult(ctx context.Context, store Store, subjectID string) (snapshot.CopyResult, error) {
	data, err := store.Get(ctx, snapshot.CompletionKey(subjectID))
	if err != nil {
		return snapshot.CopyResult{}, errors.Trace(err)
	}
	result, err := snapshot.DeserializeCopyResult(data)
	if err != nil {
		return snapshot.CopyResult{}, errors.Annotatef(err, "copy marker of %q", subjectID)
	}
	if result.SubjectID != subjectID {
		return snapshot.CopyResult{}, errors.NotValidf("copy marker of %q naming %q", subjectID, result.SubjectID)
	}
	return result, nil
}

// WriteCopyResult writes the copy completion marker.
func WriteCopyResult(ctx context.Context, store Store, result snapshot.CopyResult) error {
	data, err := snapshot.SerializeCopyResult(result)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(store.Put(ctx, snapshot.CompletionKey(result.SubjectID), data))
}

// ReadApplied returns the restore applied marker of the subject, or a
// NotFound error if no copied snapshot has been restored.
func ReadApplied(ctx context.Context, store Store, subjectID string) (snapshot.Applied, error) {
	data, err := store.Get(ctx, snapshot.AppliedKey(subjectID))
	if err != nil {
		return snapshot.Applied{}, errors.Trace(err)
	}
	applied, err := snapshot.DeserializeApplied(data)
	return applied, errors.Annotatef(err, "applied marker of %q", subjectID)
}

// WriteApplied writes the restore applied marker.
func WriteApplied(ctx context.Context, store Store, applied snapshot.Applied) error {
	data, err := snapshot.SerializeApplied(applied)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(store.Put(ctx, snapshot.AppliedKey(applied.SubjectID), data))
}

// CopyStatus reports copy completion from a destination store.
type CopyStatus struct {
	store Store
}

// NewCopyStatus returns a CopyStatus reading markers from store.
func NewCopyStatus(store Store) *CopyStatus {
	return &CopyStatus{store: store}
}

// CopyResult returns the copy completion marker of the subject, or a
// NotFound error if the copy has not completed.
func (c *CopyStatus) CopyResult(ctx context.Context, subjectID string) (snapshot.CopyResult, error) {
	return ReadCopyResult(ctx, c.store, subjectID)
}
