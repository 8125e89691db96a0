// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

import (
	"io"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	corelogger "github.com/juju/handover/core/logger"
)

// GetLogger returns the named logger. Names follow the
// "handover.<area>.<component>" convention.
func GetLogger(name string) corelogger.Logger {
	return loggo.GetLogger(name)
}

// ConfigureLoggers applies a loggo configuration specification such as
// "<root>=INFO;handover.worker.guardian=DEBUG".
func ConfigureLoggers(spec string) error {
	if spec == "" {
		return nil
	}
	return errors.Trace(loggo.ConfigureLoggers(spec))
}

// WriteTo replaces the default writer so that log lines go to w.
func WriteTo(w io.Writer) error {
	_, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(w, loggo.DefaultFormatter))
	return errors.Trace(err)
}
