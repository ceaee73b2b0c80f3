// SPDX-License-Identifier: LGPL-3.0-or-later

// Package models defines the JSON/YAML wire types the daemon's REST API
// accepts and returns. They describe actions opaquely, by kind and
// parameters, and never reach into mainloop's own Action interface.
package models

import "time"

// ActionStatus mirrors where a submitted action sits relative to the
// scheduler's three admission pools, plus its terminal states.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// ActionDefinition is how a caller describes a unit of work over the
// wire. Kind selects which registered handler builds the concrete
// mainloop.Action; Params is handler-specific.
type ActionDefinition struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	Kind       string                 `json:"kind" yaml:"kind"`
	Params     map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Priority   bool                   `json:"priority,omitempty" yaml:"priority,omitempty"`
	ForceStart bool                   `json:"force_start,omitempty" yaml:"force_start,omitempty"`
	CreatedAt  time.Time              `json:"created_at" yaml:"created_at"`
}

// BatchActionDefinition represents multiple action submissions in a
// single request body.
type BatchActionDefinition struct {
	Actions []ActionDefinition `json:"actions" yaml:"actions"`
}

// ActionRecord is the daemon's tracked view of one submitted action,
// returned from query endpoints. It is kept in memory; the audit
// ledger stores lifecycle events, not records.
type ActionRecord struct {
	Definition  ActionDefinition `json:"definition"`
	Status      ActionStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// QueryRequest represents a query from loopctl.
type QueryRequest struct {
	ActionIDs []string       `json:"action_ids,omitempty"`
	Status    []ActionStatus `json:"status,omitempty"`
	All       bool           `json:"all"`
	Limit     int            `json:"limit,omitempty"`
}

// QueryResponse represents the response to a query.
type QueryResponse struct {
	Actions   []*ActionRecord `json:"actions"`
	Total     int             `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubmitResponse represents the response to action submission.
type SubmitResponse struct {
	ActionIDs []string  `json:"action_ids"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
	Errors    []string  `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CancelRequest represents a request to cancel actions. Only actions
// whose record is still pending can be cancelled, and cancelling only
// marks the daemon's record: the queued action is not removed from the
// scheduler and still runs when admitted.
type CancelRequest struct {
	ActionIDs []string `json:"action_ids"`
}

// CancelResponse represents the response to a cancel request.
type CancelResponse struct {
	Cancelled []string          `json:"cancelled"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// DaemonStatus represents the overall status of the daemon.
type DaemonStatus struct {
	Version         string    `json:"version"`
	Uptime          string    `json:"uptime"`
	QueueLength     int       `json:"queue_length"`
	RunningActions  int       `json:"running_actions"`
	SleepingActions int       `json:"sleeping_actions"`
	Paused          bool      `json:"paused"`
	CompletedTotal  int       `json:"completed_total"`
	FailedTotal     int       `json:"failed_total"`
	Timestamp       time.Time `json:"timestamp"`
}
