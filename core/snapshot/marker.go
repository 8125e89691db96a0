// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshot

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// CopyResult describes a completed snapshot copy. It is written to the
// destination backup store as the copy completion marker.
type CopyResult struct {
	// SubjectID is the subject that was copied.
	SubjectID string

	// Revision is the revision that was copied. Zero means the source held
	// no snapshot at all and the destination starts from empty state.
	Revision int64

	// Final is true when the copied snapshot carried the final marker.
	Final bool

	// Fallback is true when the final snapshot did not appear before the
	// timeout and the latest available snapshot was used instead.
	Fallback bool

	// Completed is when the copy finished.
	Completed time.Time
}

// Snapshot returns the copied snapshot. It is only meaningful when
// Revision is non-zero.
func (r CopyResult) Snapshot() Snapshot {
	return Snapshot{
		SubjectID: r.SubjectID,
		Revision:  r.Revision,
		Final:     r.Final,
	}
}

// Empty reports whether no snapshot was copied.
func (r CopyResult) Empty() bool {
	return r.Revision == 0
}

// Applied records that a copied snapshot was restored into the local state
// engine of the destination.
type Applied struct {
	SubjectID string
	Revision  int64
	Applied   time.Time
}

type copyResultDoc struct {
	Version   int       `yaml:"version"`
	Subject   string    `yaml:"subject"`
	Revision  int64     `yaml:"revision"`
	Final     bool      `yaml:"final"`
	Fallback  bool      `yaml:"fallback"`
	Completed time.Time `yaml:"completed"`
}

type appliedDoc struct {
	Version  int       `yaml:"version"`
	Subject  string    `yaml:"subject"`
	Revision int64     `yaml:"revision"`
	Applied  time.Time `yaml:"applied"`
}

// SerializeCopyResult returns the marker document for r.
func SerializeCopyResult(r CopyResult) ([]byte, error) {
	data, err := yaml.Marshal(copyResultDoc{
		Version:   1,
		Subject:   r.SubjectID,
		Revision:  r.Revision,
		Final:     r.Final,
		Fallback:  r.Fallback,
		Completed: r.Completed.UTC(),
	})
	return data, errors.Trace(err)
}

// DeserializeCopyResult parses a copy completion marker.
func DeserializeCopyResult(data []byte) (CopyResult, error) {
	source, err := readVersioned(data)
	if err != nil {
		return CopyResult{}, errors.Trace(err)
	}
	fields := schema.Fields{
		"subject":   schema.String(),
		"revision":  schema.ForceInt(),
		"final":     schema.Bool(),
		"fallback":  schema.Bool(),
		"completed": schema.Time(),
	}
	defaults := schema.Defaults{
		"fallback": false,
	}
	coerced, err := schema.FieldMap(fields, defaults).Coerce(source, nil)
	if err != nil {
		return CopyResult{}, errors.Annotatef(err, "copy marker v1 schema check failed")
	}
	valid := coerced.(map[string]interface{})
	return CopyResult{
		SubjectID: valid["subject"].(string),
		Revision:  int64(valid["revision"].(int)),
		Final:     valid["final"].(bool),
		Fallback:  valid["fallback"].(bool),
		Completed: valid["completed"].(time.Time),
	}, nil
}

// SerializeApplied returns the marker document for a.
func SerializeApplied(a Applied) ([]byte, error) {
	data, err := yaml.Marshal(appliedDoc{
		Version:  1,
		Subject:  a.SubjectID,
		Revision: a.Revision,
		Applied:  a.Applied.UTC(),
	})
	return data, errors.Trace(err)
}

// DeserializeApplied parses a restore applied marker.
func DeserializeApplied(data []byte) (Applied, error) {
	source, err := readVersioned(data)
	if err != nil {
		return Applied{}, errors.Trace(err)
	}
	fields := schema.Fields{
		"subject":  schema.String(),
		"revision": schema.ForceInt(),
		"applied":  schema.Time(),
	}
	coerced, err := schema.FieldMap(fields, nil).Coerce(source, nil)
	if err != nil {
		return Applied{}, errors.Annotatef(err, "applied marker v1 schema check failed")
	}
	valid := coerced.(map[string]interface{})
	return Applied{
		SubjectID: valid["subject"].(string),
		Revision:  int64(valid["revision"].(int)),
		Applied:   valid["applied"].(time.Time),
	}, nil
}

func readVersioned(data []byte) (map[string]interface{}, error) {
	var source map[string]interface{}
	if err := yaml.Unmarshal(data, &source); err != nil {
		return nil, errors.Annotate(err, "parsing marker")
	}
	if source == nil {
		return nil, errors.NotValidf("empty marker")
	}
	checker := schema.FieldMap(schema.Fields{
		"version": schema.ForceInt(),
	}, nil)
	coerced, err := checker.Coerce(map[string]interface{}{"version": source["version"]}, nil)
	if err != nil {
		return nil, errors.Annotate(err, "marker version schema check failed")
	}
	version := coerced.(map[string]interface{})["version"].(int)
	if version != 1 {
		return nil, errors.NotValidf("marker version %d", version)
	}
	delete(source, "version")
	return source, nil
}
