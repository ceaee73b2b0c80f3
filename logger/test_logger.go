// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"fmt"
	"strings"
)

// TestLogger routes the daemon's log lines through testing.T/B's Logf
// instead of stderr, so `go test -v` attributes scheduler/job-manager
// log noise to the test that produced it, and `go test` without -v
// suppresses it entirely for passing tests.
type TestLogger struct {
	t interface {
		Logf(format string, args ...interface{})
	}
}

// NewTestLogger wraps t (or b) as a Logger. Used throughout this
// repo's daemon-side test suites (daemon/jobs, daemon/webhooks,
// scriptaction) in place of New("info"), which always writes to
// stderr regardless of test outcome.
func NewTestLogger(t interface {
	Logf(format string, args ...interface{})
}) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) format(level, msg string, keysAndValues ...interface{}) string {
	prefix := fmt.Sprintf("[%s] %s", level, msg)

	if len(keysAndValues) > 0 {
		var pairs []string
		for i := 0; i < len(keysAndValues); i += 2 {
			if i+1 < len(keysAndValues) {
				pairs = append(pairs, fmt.Sprintf("%v=%v", keysAndValues[i], keysAndValues[i+1]))
			}
		}
		if len(pairs) > 0 {
			prefix = fmt.Sprintf("%s | %s", prefix, strings.Join(pairs, ", "))
		}
	}

	return prefix
}

func (l *TestLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("DEBUG", msg, keysAndValues...))
}

func (l *TestLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("INFO", msg, keysAndValues...))
}

func (l *TestLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("WARN", msg, keysAndValues...))
}

func (l *TestLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("ERROR", msg, keysAndValues...))
}
