// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshotcopier

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/handover/core/snapshot"
)

// Worker runs one copy and then idles, exposing the result, until it is
// killed. A failed copy kills the worker with the error so that the
// engine running it retries later.
type Worker struct {
	tomb   tomb.Tomb
	config Config

	mu     sync.Mutex
	result *snapshot.CopyResult
	done   chan struct{}
}

// NewWorker starts copying.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config: config,
		done:   make(chan struct{}),
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

// Done is closed once the copy completed. It stays open when the copy
// fails; the worker dies with the error instead.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Result returns the completed copy, or false while it is running.
func (w *Worker) Result() (snapshot.CopyResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return snapshot.CopyResult{}, false
	}
	return *w.result, true
}

func (w *Worker) loop() error {
	ctx := w.tomb.Context(context.Background())
	result, err := Copy(ctx, w.config)
	if err != nil {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		default:
		}
		return errors.Annotatef(err, "copying snapshot of %q", w.config.SubjectID)
	}

	w.mu.Lock()
	w.result = &result
	w.mu.Unlock()
	close(w.done)

	<-w.tomb.Dying()
	return tomb.ErrDying
}
