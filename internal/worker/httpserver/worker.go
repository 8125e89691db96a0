// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package httpserver provides a worker serving an http.Handler until it
// is killed.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/handover/core/logger"
)

// Config holds the dependencies of an HTTP server worker.
type Config struct {
	// Listener is the listener the server accepts connections on. It is
	// closed when the worker stops.
	Listener net.Listener

	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests when the
	// worker is killed.
	ShutdownTimeout time.Duration

	Logger logger.Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if config.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if config.ShutdownTimeout <= 0 {
		return errors.NotValidf("non-positive ShutdownTimeout")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker serves HTTP.
type Worker struct {
	tomb   tomb.Tomb
	config Config
	server *http.Server
}

// NewWorker starts serving on the configured listener.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config: config,
		server: &http.Server{
			Handler:           config.Handler,
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

// Addr returns the address the server listens on.
func (w *Worker) Addr() net.Addr {
	return w.config.Listener.Addr()
}

func (w *Worker) loop() error {
	w.config.Logger.Infof("serving on %s", w.config.Listener.Addr())
	w.tomb.Go(func() error {
		err := w.server.Serve(w.config.Listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "serving")
	})

	<-w.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
	defer cancel()
	if err := w.server.Shutdown(ctx); err != nil {
		w.config.Logger.Warningf("shutting down server on %s: %v", w.config.Listener.Addr(), err)
		_ = w.server.Close()
	}
	return tomb.ErrDying
}
