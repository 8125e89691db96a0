// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

// Logger represents the logging methods used throughout the hand-off
// workers and services. A loggo.Logger satisfies it.
type Logger interface {
	Criticalf(message string, args ...any)
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)

	IsTraceEnabled() bool
}
