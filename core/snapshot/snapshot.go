// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

const (
	seriesDir  = "snapshots"
	restoreDir = "restore"
	finalTag   = ".final"

	completionName = "complete.yaml"
	appliedName    = "applied.yaml"
)

// Snapshot identifies a single snapshot of a subject's state store.
type Snapshot struct {
	// SubjectID is the subject the snapshot belongs to.
	SubjectID string

	// Revision increases monotonically within a series.
	Revision int64

	// Final is set on the last write-consistent snapshot produced by a
	// guardian before it deactivated.
	Final bool
}

// Key returns the backup store key under which the snapshot is stored in
// the series of the guardian that produced it. The final marker is part of
// the key so that it can be discovered by listing.
func (s Snapshot) Key() string {
	return SeriesPrefix(s.SubjectID) + s.name()
}

// RestoreKey returns the key under which a copy of the snapshot is stored
// in a destination backup store, ready to be restored.
func (s Snapshot) RestoreKey() string {
	return RestorePrefix(s.SubjectID) + s.name()
}

func (s Snapshot) name() string {
	name := fmt.Sprintf("%020d", s.Revision)
	if s.Final {
		name += finalTag
	}
	return name
}

// String implements fmt.Stringer.
func (s Snapshot) String() string {
	if s.Final {
		return fmt.Sprintf("%s@%d (final)", s.SubjectID, s.Revision)
	}
	return fmt.Sprintf("%s@%d", s.SubjectID, s.Revision)
}

// SeriesPrefix returns the key prefix of the subject's snapshot series.
func SeriesPrefix(subjectID string) string {
	return subjectID + "/" + seriesDir + "/"
}

// RestorePrefix returns the key prefix under which copied snapshots and the
// copy markers for the subject live in a destination backup store.
func RestorePrefix(subjectID string) string {
	return subjectID + "/" + restoreDir + "/"
}

// CompletionKey returns the key of the copy completion marker.
func CompletionKey(subjectID string) string {
	return RestorePrefix(subjectID) + completionName
}

// AppliedKey returns the key of the marker recording that a copied snapshot
// has been restored into the local state engine.
func AppliedKey(subjectID string) string {
	return RestorePrefix(subjectID) + appliedName
}

// ParseKey parses a series or restore key back into a Snapshot. Keys that
// do not name a snapshot (markers, foreign objects) return a NotValid
// error.
func ParseKey(key string) (Snapshot, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] == "" {
		return Snapshot{}, errors.NotValidf("snapshot key %q", key)
	}
	if parts[1] != seriesDir && parts[1] != restoreDir {
		return Snapshot{}, errors.NotValidf("snapshot key %q", key)
	}
	name := parts[2]
	final := strings.HasSuffix(name, finalTag)
	name = strings.TrimSuffix(name, finalTag)
	if len(name) != 20 {
		return Snapshot{}, errors.NotValidf("snapshot key %q", key)
	}
	rev, err := strconv.ParseInt(name, 10, 64)
	if err != nil || rev <= 0 {
		return Snapshot{}, errors.NotValidf("snapshot revision in key %q", key)
	}
	return Snapshot{
		SubjectID: parts[0],
		Revision:  rev,
		Final:     final,
	}, nil
}

// Series is the ordered sequence of snapshots for a subject.
type Series []Snapshot

// NewSeries builds a series from the given snapshots, ordering them by
// revision. It returns a NotValid error if revisions repeat, if more than
// one snapshot is final or if a final snapshot is not the latest one.
func NewSeries(snapshots []Snapshot) (Series, error) {
	series := make(Series, len(snapshots))
	copy(series, snapshots)
	sort.Slice(series, func(i, j int) bool {
		return series[i].Revision < series[j].Revision
	})

	seen := set.NewInts()
	finals := 0
	for i, s := range series {
		if seen.Contains(int(s.Revision)) {
			return nil, errors.NotValidf("duplicate revision %d", s.Revision)
		}
		seen.Add(int(s.Revision))
		if !s.Final {
			continue
		}
		finals++
		if finals > 1 {
			return nil, errors.NotValidf("series with %d final snapshots", finals)
		}
		if i != len(series)-1 {
			return nil, errors.NotValidf("final snapshot %d followed by later revisions", s.Revision)
		}
	}
	return series, nil
}

// ParseSeries builds a series from a key listing, ignoring keys that do not
// name snapshots of the given subject.
func ParseSeries(subjectID string, keys []string) (Series, error) {
	var snapshots []Snapshot
	for _, key := range keys {
		s, err := ParseKey(key)
		if err != nil || s.SubjectID != subjectID {
			continue
		}
		snapshots = append(snapshots, s)
	}
	return NewSeries(snapshots)
}

// Latest returns the snapshot with the highest revision.
func (s Series) Latest() (Snapshot, bool) {
	if len(s) == 0 {
		return Snapshot{}, false
	}
	return s[len(s)-1], true
}

// Final returns the final snapshot of the series, if there is one.
func (s Series) Final() (Snapshot, bool) {
	latest, ok := s.Latest()
	if !ok || !latest.Final {
		return Snapshot{}, false
	}
	return latest, true
}

// NextRevision returns the revision the next snapshot must carry.
func (s Series) NextRevision() int64 {
	latest, ok := s.Latest()
	if !ok {
		return 1
	}
	return latest.Revision + 1
}
