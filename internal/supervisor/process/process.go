// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package process supervises the serving process as a child process of
// the guardian. The child runs in its own process group so that stopping
// it also stops anything it spawned, and it shares the guardian's failure
// domain: if the guardian dies, so does the child.
package process

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/supervisor"
)

// Config describes the process to supervise.
type Config struct {
	Command string
	Args    []string

	// StopTimeout is how long to wait after asking the process to
	// terminate before killing it.
	StopTimeout time.Duration

	Clock  clock.Clock
	Logger logger.Logger
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Command == "" {
		return errors.NotValidf("empty Command")
	}
	if c.StopTimeout <= 0 {
		return errors.NotValidf("non-positive StopTimeout")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Supervisor runs a single child process.
type Supervisor struct {
	config Config

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

var _ supervisor.Supervisor = (*Supervisor)(nil)

// New returns a supervisor for the configured command.
func New(config Config) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Supervisor{config: config}, nil
}

// Running is part of supervisor.Supervisor.
func (s *Supervisor) Running(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked(), nil
}

func (s *Supervisor) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start is part of supervisor.Supervisor.
func (s *Supervisor) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return nil
	}

	cmd := exec.Command(s.config.Command, s.config.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return errors.Annotatef(err, "starting %q", s.config.Command)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := cmd.Wait()
		s.config.Logger.Infof("serving process %d exited: %v", cmd.Process.Pid, err)
	}()

	s.cmd = cmd
	s.done = done
	s.config.Logger.Infof("serving process %d started", cmd.Process.Pid)
	return nil
}

// Stop is part of supervisor.Supervisor.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() {
		return nil
	}

	pid := s.cmd.Process.Pid
	if err := terminate(s.cmd); err != nil {
		s.config.Logger.Warningf("terminating serving process %d: %v", pid, err)
	}
	select {
	case <-s.done:
		return nil
	case <-s.config.Clock.After(s.config.StopTimeout):
		s.config.Logger.Warningf("serving process %d did not stop within %v, killing", pid, s.config.StopTimeout)
	case <-ctx.Done():
	}

	if err := kill(s.cmd); err != nil {
		return errors.Annotatef(err, "killing serving process %d", pid)
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting for serving process %d", pid)
	}
}
