// SPDX-License-Identifier: LGPL-3.0-or-later

package jobs

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"actionloop/daemon/models"
	"actionloop/mainloop"
)

// actionName derives the display name BaseAction-wrapping Actions use
// from a wire-level definition, falling back to its ID when no Name
// was supplied.
func actionName(def models.ActionDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}

// shellAction runs an external command as the action's work. It is
// the simplest concrete Action a deployment can submit without a
// scriptaction plugin.
type shellAction struct {
	mainloop.BaseAction
	name    string
	command string
	args    []string
	timeout time.Duration
}

func (a *shellAction) Name() string { return a.name }

func (a *shellAction) Run() error {
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.command, a.args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell action %q: %w: %s", a.name, err, out)
	}
	return nil
}

// NewShellHandler builds the Handler for the built-in "shell" Kind.
// Params: "command" (string, required), "args" ([]interface{} of
// strings, optional), "timeout_seconds" (number, optional).
func NewShellHandler() Handler {
	return func(def models.ActionDefinition) (mainloop.Action, error) {
		command, _ := def.Params["command"].(string)
		if command == "" {
			return nil, fmt.Errorf("shell action requires params.command")
		}

		var args []string
		if raw, ok := def.Params["args"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					args = append(args, s)
				}
			}
		}

		var timeout time.Duration
		if secs, ok := def.Params["timeout_seconds"].(float64); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}

		return &shellAction{
			name:    actionName(def),
			command: command,
			args:    args,
			timeout: timeout,
		}, nil
	}
}

// sleepAction sleeps for a fixed duration, yielding its effective-active
// slot for the duration via BaseAction.Sleeping. It exists mainly as a
// harmless default action for smoke-testing a running daemon and as a
// worked example of a suspension-aware Action.
type sleepAction struct {
	mainloop.BaseAction
	name     string
	duration time.Duration
}

func (a *sleepAction) Name() string { return a.name }

func (a *sleepAction) Run() error {
	a.Sleeping(a, func() {
		time.Sleep(a.duration)
	})
	return nil
}

// NewSleepHandler builds the Handler for the built-in "sleep" Kind.
// Params: "duration_seconds" (number, default 1).
func NewSleepHandler() Handler {
	return func(def models.ActionDefinition) (mainloop.Action, error) {
		secs := 1.0
		if v, ok := def.Params["duration_seconds"].(float64); ok && v > 0 {
			secs = v
		}
		return &sleepAction{
			name:     actionName(def),
			duration: time.Duration(secs * float64(time.Second)),
		}, nil
	}
}
