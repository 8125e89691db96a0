// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"

	coreguardian "github.com/juju/handover/core/guardian"
)

// StatusSource exposes the status of a running guardian.
type StatusSource interface {
	Status() coreguardian.Status
}

// ManifoldConfig defines the configuration of a guardian manifold. The
// worker config is passed through unchanged.
type ManifoldConfig struct {
	Config Config

	NewWorker func(Config) (*Worker, error)
}

// Validate validates the manifold configuration.
func (config ManifoldConfig) Validate() error {
	if config.NewWorker == nil {
		return errors.NotValidf("nil NewWorker")
	}
	return errors.Trace(config.Config.Validate())
}

// Manifold returns a dependency manifold that runs a guardian. Its output
// is a StatusSource.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Output: statusOutput,
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}
			w, err := config.NewWorker(config.Config)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return w, nil
		},
	}
}

func statusOutput(in worker.Worker, out any) error {
	w, ok := in.(*Worker)
	if !ok {
		return errors.Errorf("expected input of type *guardian.Worker, got %T", in)
	}
	switch out := out.(type) {
	case *StatusSource:
		var target StatusSource = w
		*out = target
	default:
		return errors.Errorf("expected output of *guardian.StatusSource, got %T", out)
	}
	return nil
}
