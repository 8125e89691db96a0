// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package guardianstatus provides a client for the status endpoint of a
// cluster's state-store guardians.
package guardianstatus

import (
	"context"

	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/juju/handover/apiserver/params"
	"github.com/juju/handover/core/guardian"
)

type statusRequest struct {
	httprequest.Route `httprequest:"GET /v1/subjects/:subject/status"`
	Subject           string `httprequest:"subject,path"`
}

// Client reads guardian status from one cluster.
type Client struct {
	client httprequest.Client
}

// NewClient returns a client for the guardian status endpoint at baseURL.
// If doer is nil http.DefaultClient is used.
func NewClient(baseURL string, doer httprequest.Doer) *Client {
	return &Client{
		client: httprequest.Client{
			BaseURL: baseURL,
			Doer:    doer,
		},
	}
}

// Status returns the status of the guardian for the subject.
func (c *Client) Status(ctx context.Context, subjectID string) (guardian.Status, error) {
	var status guardian.Status
	if err := c.client.Call(ctx, &statusRequest{Subject: subjectID}, &status); err != nil {
		return guardian.Status{}, errors.Annotatef(params.RestoreError(err), "guardian status of %q", subjectID)
	}
	if err := status.State.Validate(); err != nil {
		return guardian.Status{}, errors.Trace(err)
	}
	return status, nil
}
