// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dnsrecord resolves ownership from DNS TXT records of the form
// "owner=<cluster>" published at "<subject>.<zone>". The record is
// maintained outside of this program, so the resolver is read-only.
package dnsrecord

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
)

const ownerPrefix = "owner="

// TXTLookup looks up TXT records. *net.Resolver satisfies it.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver is a read-only ownership.Client backed by DNS.
type Resolver struct {
	lookup  TXTLookup
	zone    string
	timeout time.Duration
	logger  logger.Logger
}

var _ ownership.Client = (*Resolver)(nil)

// New returns a resolver looking up records below zone. A nil lookup uses
// the system resolver.
func New(lookup TXTLookup, zone string, timeout time.Duration, logger logger.Logger) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{
		lookup:  lookup,
		zone:    strings.Trim(zone, "."),
		timeout: timeout,
		logger:  logger,
	}
}

// Name returns the DNS name holding the record of the subject.
func (r *Resolver) Name(subjectID string) string {
	return subjectID + "." + r.zone
}

// Resolve is part of ownership.Resolver. Missing records, lookup errors
// and records naming more than one owner (a change still propagating) are
// all resolution failures.
func (r *Resolver) Resolve(ctx context.Context, subjectID string) (string, error) {
	if err := ownership.ValidateID(subjectID); err != nil {
		return "", errors.Trace(err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	name := r.Name(subjectID)
	values, err := r.lookup.LookupTXT(ctx, name)
	if err != nil {
		r.logger.Debugf("looking up %q: %v", name, err)
		return "", ownership.ResolutionFailuref("looking up %q: %v", name, err)
	}

	var owner string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if !strings.HasPrefix(value, ownerPrefix) {
			continue
		}
		candidate := strings.TrimPrefix(value, ownerPrefix)
		if err := ownership.ValidateID(candidate); err != nil {
			r.logger.Warningf("ignoring malformed owner %q at %q", candidate, name)
			continue
		}
		if owner != "" && owner != candidate {
			return "", ownership.ResolutionFailuref("conflicting owners %q and %q at %q", owner, candidate, name)
		}
		owner = candidate
	}
	if owner == "" {
		return "", ownership.ResolutionFailuref("no owner record at %q", name)
	}
	return owner, nil
}

// SetOwner is part of ownership.Writer. DNS records are changed through
// the zone's own tooling.
func (r *Resolver) SetOwner(context.Context, string, string, string) error {
	return errors.NotSupportedf("changing DNS ownership records")
}
