// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

// OwnershipRecord is the wire form of an ownership record.
type OwnershipRecord struct {
	SubjectID string `json:"subject-id"`
	OwnerID   string `json:"owner-id"`
}

// ProvisionArgs holds the body of a record provisioning request.
type ProvisionArgs struct {
	OwnerID string `json:"owner-id"`
}

// SetOwnerArgs holds the body of a conditional ownership update.
type SetOwnerArgs struct {
	ExpectedOwnerID string `json:"expected-owner-id"`
	OwnerID         string `json:"owner-id"`
}
