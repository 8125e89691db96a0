// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"

	"github.com/juju/handover/core/logger"
)

// ManifoldConfig defines the configuration of an HTTP server manifold.
type ManifoldConfig struct {
	// Inputs are the manifolds NewHandler reads from.
	Inputs []string

	// NewHandler builds the served handler from the inputs.
	NewHandler func(getter dependency.Getter) (http.Handler, error)

	ListenAddress   string
	ShutdownTimeout time.Duration
	Logger          logger.Logger

	NewListener func(address string) (net.Listener, error)
}

// Validate validates the manifold configuration.
func (config ManifoldConfig) Validate() error {
	if config.NewHandler == nil {
		return errors.NotValidf("nil NewHandler")
	}
	if config.ListenAddress == "" {
		return errors.NotValidf("empty ListenAddress")
	}
	if config.NewListener == nil {
		return errors.NotValidf("nil NewListener")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Manifold returns a dependency manifold serving the handler built from
// its inputs. It restarts whenever an input bounces.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Inputs: config.Inputs,
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}
			handler, err := config.NewHandler(getter)
			if err != nil {
				return nil, errors.Trace(err)
			}
			listener, err := config.NewListener(config.ListenAddress)
			if err != nil {
				return nil, errors.Annotatef(err, "listening on %q", config.ListenAddress)
			}
			w, err := NewWorker(Config{
				Listener:        listener,
				Handler:         handler,
				ShutdownTimeout: config.ShutdownTimeout,
				Logger:          config.Logger,
			})
			if err != nil {
				_ = listener.Close()
				return nil, errors.Trace(err)
			}
			return w, nil
		},
	}
}

// NewTCPListener listens on a TCP address.
func NewTCPListener(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}
