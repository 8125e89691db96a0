// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kubernetes stores lease signals as coordination.k8s.io/v1 Lease
// objects, so that controllers running in the managed cluster can check
// them without reaching the ownership record.
package kubernetes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/juju/errors"
	coordinationv1 "k8s.io/api/coordination/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/juju/handover/core/logger"
	corelease "github.com/juju/handover/core/lease"
)

const (
	leasePrefix = "handover-"

	// ExpiryAnnotation holds the exact expiry of the signal. Lease specs
	// only carry whole seconds, and a revoked signal expires at its
	// renewal time.
	ExpiryAnnotation = "handover.juju.is/expiry"

	// SubjectLabel names the subject a lease belongs to, when the subject
	// ID is a valid label value.
	SubjectLabel = "handover.juju.is/subject"

	// SubjectAnnotation holds the exact subject ID a lease belongs to.
	SubjectAnnotation = "handover.juju.is/subject-id"

	managedByLabel = "app.kubernetes.io/managed-by"
	managedBy      = "handover"
)

// Store is a corelease.Store keeping one Lease object per subject in a
// namespace.
type Store struct {
	client    kubernetes.Interface
	namespace string
	logger    logger.Logger
}

var _ corelease.Store = (*Store)(nil)

// NewStore returns a store for leases in namespace.
func NewStore(client kubernetes.Interface, namespace string, logger logger.Logger) *Store {
	return &Store{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// LeaseName returns the name of the Lease object of the subject. Subject
// IDs that are not already lowercase DNS names are folded into one and
// suffixed with a hash of the exact ID, so distinct subjects never share a
// Lease.
func LeaseName(subjectID string) (string, error) {
	name := leasePrefix + subjectID
	if len(validation.IsDNS1123Subdomain(name)) == 0 {
		return name, nil
	}
	sum := sha256.Sum256([]byte(subjectID))
	suffix := "-" + hex.EncodeToString(sum[:])[:12]
	folded := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, subjectID)
	if limit := validation.DNS1123SubdomainMaxLength - len(leasePrefix) - len(suffix); len(folded) > limit {
		folded = folded[:limit]
	}
	name = leasePrefix + strings.Trim(folded, "-") + suffix
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return "", errors.NotValidf("lease name %q: %s", name, strings.Join(errs, ", "))
	}
	return name, nil
}

// leaseSubject returns the subject recorded on the lease, or false when
// the lease records none.
func leaseSubject(lease *coordinationv1.Lease) (string, bool) {
	if subjectID, ok := lease.Annotations[SubjectAnnotation]; ok {
		return subjectID, true
	}
	subjectID, ok := lease.Labels[SubjectLabel]
	return subjectID, ok
}

// Signal is part of corelease.Reader.
func (s *Store) Signal(ctx context.Context, subjectID string) (corelease.Signal, error) {
	name, err := LeaseName(subjectID)
	if err != nil {
		return corelease.Signal{}, errors.Trace(err)
	}
	lease, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return corelease.Signal{}, errors.Annotatef(corelease.ErrNotFound, "lease %s/%s", s.namespace, name)
	} else if err != nil {
		return corelease.Signal{}, errors.Annotatef(err, "getting lease %s/%s", s.namespace, name)
	}
	if recorded, ok := leaseSubject(lease); ok && recorded != subjectID {
		return corelease.Signal{}, errors.Annotatef(corelease.ErrNotFound, "lease %s/%s belongs to %q", s.namespace, name, recorded)
	}
	return toSignal(subjectID, lease), nil
}

// WriteSignal is part of corelease.Writer.
func (s *Store) WriteSignal(ctx context.Context, signal corelease.Signal) error {
	if err := signal.Validate(); err != nil {
		return errors.Trace(err)
	}
	name, err := LeaseName(signal.SubjectID)
	if err != nil {
		return errors.Trace(err)
	}

	leases := s.client.CoordinationV1().Leases(s.namespace)
	existing, err := leases.Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		lease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: s.namespace,
				Labels: map[string]string{
					managedByLabel: managedBy,
				},
				Annotations: map[string]string{
					SubjectAnnotation: signal.SubjectID,
				},
			},
		}
		if len(validation.IsValidLabelValue(signal.SubjectID)) == 0 {
			lease.Labels[SubjectLabel] = signal.SubjectID
		}
		applySignal(lease, signal)
		if _, err := leases.Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			return errors.Annotatef(err, "creating lease %s/%s", s.namespace, name)
		}
		s.logger.Debugf("created lease %s/%s held by %q", s.namespace, name, signal.HolderID)
		return nil
	} else if err != nil {
		return errors.Annotatef(err, "getting lease %s/%s", s.namespace, name)
	}

	if recorded, ok := leaseSubject(existing); ok && recorded != signal.SubjectID {
		return errors.AlreadyExistsf("lease %s/%s of subject %q", s.namespace, name, recorded)
	}
	lease := existing.DeepCopy()
	applySignal(lease, signal)
	lease.Annotations[SubjectAnnotation] = signal.SubjectID
	// The resource version from the read makes this a compare-and-swap.
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return errors.Annotatef(err, "updating lease %s/%s", s.namespace, name)
	}
	s.logger.Tracef("updated lease %s/%s held by %q until %v", s.namespace, name, signal.HolderID, signal.Expiry)
	return nil
}

func applySignal(lease *coordinationv1.Lease, signal corelease.Signal) {
	duration := signal.Expiry.Sub(signal.Renewed)
	seconds := int32(duration / time.Second)

	lease.Spec.HolderIdentity = ptr.To(signal.HolderID)
	lease.Spec.LeaseDurationSeconds = ptr.To(seconds)
	lease.Spec.RenewTime = &metav1.MicroTime{Time: signal.Renewed}
	if lease.Annotations == nil {
		lease.Annotations = make(map[string]string)
	}
	lease.Annotations[ExpiryAnnotation] = signal.Expiry.UTC().Format(time.RFC3339Nano)
}

func toSignal(subjectID string, lease *coordinationv1.Lease) corelease.Signal {
	signal := corelease.Signal{
		SubjectID: subjectID,
		HolderID:  ptr.Deref(lease.Spec.HolderIdentity, ""),
	}
	if lease.Spec.RenewTime != nil {
		signal.Renewed = lease.Spec.RenewTime.Time
	}
	if raw, ok := lease.Annotations[ExpiryAnnotation]; ok {
		if expiry, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			signal.Expiry = expiry
			return signal
		}
	}
	if signal.Renewed.IsZero() {
		// Without a renewal time the lease confirms nothing.
		return signal
	}
	signal.Expiry = signal.Renewed.Add(time.Duration(ptr.Deref(lease.Spec.LeaseDurationSeconds, 0)) * time.Second)
	return signal
}
