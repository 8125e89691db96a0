// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"

	"github.com/juju/handover/core/logger"
)

// CheckLogger is the subset of *gc.C used to emit log lines.
type CheckLogger interface {
	Logf(string, ...any)
}

// WrapCheckLog returns a logger that writes every line to the test log, so
// it is only printed when the test fails or runs verbosely.
func WrapCheckLog(log CheckLogger) logger.Logger {
	return checkLogger{log: log}
}

type checkLogger struct {
	log CheckLogger
}

func (c checkLogger) Criticalf(msg string, args ...any) { c.logf("CRITICAL", msg, args...) }
func (c checkLogger) Errorf(msg string, args ...any)    { c.logf("ERROR", msg, args...) }
func (c checkLogger) Warningf(msg string, args ...any)  { c.logf("WARNING", msg, args...) }
func (c checkLogger) Infof(msg string, args ...any)     { c.logf("INFO", msg, args...) }
func (c checkLogger) Debugf(msg string, args ...any)    { c.logf("DEBUG", msg, args...) }
func (c checkLogger) Tracef(msg string, args ...any)    { c.logf("TRACE", msg, args...) }

func (c checkLogger) IsTraceEnabled() bool { return true }

func (c checkLogger) logf(level, msg string, args ...any) {
	c.log.Logf("%s: %s", level, fmt.Sprintf(msg, args...))
}
