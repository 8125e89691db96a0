// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dnsrecord

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/core/ownership"
	loggertesting "github.com/juju/handover/internal/logger/testing"
)

type lookupFunc func(ctx context.Context, name string) ([]string, error)

func (f lookupFunc) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return f(ctx, name)
}

type resolverSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&resolverSuite{})

func (s *resolverSuite) newResolver(c *gc.C, records map[string][]string) *Resolver {
	return New(lookupFunc(func(ctx context.Context, name string) ([]string, error) {
		_, ok := ctx.Deadline()
		c.Check(ok, jc.IsTrue)
		values, ok := records[name]
		if !ok {
			return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
		}
		return values, nil
	}), "owners.example.com.", time.Second, loggertesting.WrapCheckLog(c))
}

func (s *resolverSuite) TestResolve(c *gc.C) {
	r := s.newResolver(c, map[string][]string{
		"s1.owners.example.com": {"v=1", "owner=cluster-a"},
	})
	owner, err := r.Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "cluster-a")
}

func (s *resolverSuite) TestResolveMissing(c *gc.C) {
	r := s.newResolver(c, nil)
	_, err := r.Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *resolverSuite) TestResolveNoOwnerValue(c *gc.C) {
	r := s.newResolver(c, map[string][]string{
		"s1.owners.example.com": {"v=1", "owner=bad owner"},
	})
	_, err := r.Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *resolverSuite) TestResolveConflicting(c *gc.C) {
	r := s.newResolver(c, map[string][]string{
		"s1.owners.example.com": {"owner=cluster-a", "owner=cluster-b"},
	})
	_, err := r.Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *resolverSuite) TestResolveDuplicate(c *gc.C) {
	r := s.newResolver(c, map[string][]string{
		"s1.owners.example.com": {"owner=cluster-a", " owner=cluster-a "},
	})
	owner, err := r.Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "cluster-a")
}

func (s *resolverSuite) TestSetOwnerNotSupported(c *gc.C) {
	err := s.newResolver(c, nil).SetOwner(context.Background(), "s1", "a", "b")
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
}
