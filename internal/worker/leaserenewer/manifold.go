// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package leaserenewer

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"
)

// ManifoldConfig defines the configuration of a lease renewer manifold.
type ManifoldConfig struct {
	Config    Config
	NewWorker func(Config) (worker.Worker, error)
}

// Manifold returns a dependency manifold that runs a lease renewer.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if config.NewWorker == nil {
				return nil, errors.NotValidf("nil NewWorker")
			}
			if err := config.Config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}
			w, err := config.NewWorker(config.Config)
			return w, errors.Trace(err)
		},
	}
}

// NewWorkerShim adapts NewWorker to ManifoldConfig.NewWorker.
func NewWorkerShim(config Config) (worker.Worker, error) {
	return NewWorker(config)
}
