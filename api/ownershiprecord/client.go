// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ownershiprecord provides a client for the ownership record
// service.
package ownershiprecord

import (
	"context"

	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/juju/handover/apiserver/params"
	"github.com/juju/handover/core/ownership"
)

type getRecordRequest struct {
	httprequest.Route `httprequest:"GET /v1/records/:subject"`
	Subject           string `httprequest:"subject,path"`
}

type provisionRequest struct {
	httprequest.Route `httprequest:"POST /v1/records/:subject"`
	Subject           string               `httprequest:"subject,path"`
	Body              params.ProvisionArgs `httprequest:",body"`
}

type setOwnerRequest struct {
	httprequest.Route `httprequest:"PUT /v1/records/:subject"`
	Subject           string              `httprequest:"subject,path"`
	Body              params.SetOwnerArgs `httprequest:",body"`
}

// Client talks to a remote ownership record service.
type Client struct {
	client httprequest.Client
}

var (
	_ ownership.Client      = (*Client)(nil)
	_ ownership.Provisioner = (*Client)(nil)
)

// NewClient returns a client for the record service at baseURL. If doer
// is nil http.DefaultClient is used.
func NewClient(baseURL string, doer httprequest.Doer) *Client {
	return &Client{
		client: httprequest.Client{
			BaseURL: baseURL,
			Doer:    doer,
		},
	}
}

// Resolve is part of ownership.Resolver. Every failure, including an
// unreachable service, is a resolution failure.
func (c *Client) Resolve(ctx context.Context, subjectID string) (string, error) {
	var record params.OwnershipRecord
	err := c.client.Call(ctx, &getRecordRequest{Subject: subjectID}, &record)
	if err != nil {
		err = params.RestoreError(err)
		if ownership.IsResolutionFailure(err) {
			return "", err
		}
		return "", ownership.ResolutionFailuref("resolving %q: %v", subjectID, err)
	}
	if record.OwnerID == "" {
		return "", ownership.ResolutionFailuref("empty owner for %q", subjectID)
	}
	return record.OwnerID, nil
}

// SetOwner is part of ownership.Writer.
func (c *Client) SetOwner(ctx context.Context, subjectID, expectedOwnerID, newOwnerID string) error {
	err := c.client.Call(ctx, &setOwnerRequest{
		Subject: subjectID,
		Body: params.SetOwnerArgs{
			ExpectedOwnerID: expectedOwnerID,
			OwnerID:         newOwnerID,
		},
	}, nil)
	if err == nil {
		return nil
	}
	err = params.RestoreError(err)
	switch {
	case errors.Is(err, ownership.ErrConflict),
		errors.Is(err, ownership.ErrResolutionFailure),
		errors.Is(err, errors.NotValid):
		return err
	}
	return ownership.ResolutionFailuref("setting owner of %q: %v", subjectID, err)
}

// Provision is part of ownership.Provisioner.
func (c *Client) Provision(ctx context.Context, subjectID, initialOwnerID string) error {
	err := c.client.Call(ctx, &provisionRequest{
		Subject: subjectID,
		Body:    params.ProvisionArgs{OwnerID: initialOwnerID},
	}, nil)
	if err != nil {
		return errors.Annotatef(params.RestoreError(err), "provisioning %q", subjectID)
	}
	return nil
}
