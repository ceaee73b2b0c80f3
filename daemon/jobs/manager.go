// SPDX-License-Identifier: LGPL-3.0-or-later

// Package jobs bridges the daemon's JSON/YAML action submissions to
// mainloop.Action values, and keeps a queryable record of what
// happened to each one by subscribing to the scheduler's signal bus.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"actionloop/daemon/models"
	"actionloop/logger"
	"actionloop/mainloop"
)

// Handler builds a concrete mainloop.Action from a wire-level
// ActionDefinition. One Handler is registered per Kind.
type Handler func(def models.ActionDefinition) (mainloop.Action, error)

// WebhookManager defines the interface for action event notifications.
type WebhookManager interface {
	SendActionCreated(rec *models.ActionRecord)
	SendActionStarted(rec *models.ActionRecord)
	SendActionCompleted(rec *models.ActionRecord)
	SendActionFailed(rec *models.ActionRecord)
	SendActionCancelled(rec *models.ActionRecord)
}

// Manager handles action submission and tracks their lifecycle as
// reported by the MainLoop's signal bus. It never inspects what an
// action does; it only dispatches on Kind to build one.
type Manager struct {
	mu       sync.RWMutex
	records  map[string]*models.ActionRecord
	byAction map[mainloop.Action]string
	handlers map[string]Handler

	loop      *mainloop.MainLoop
	log       logger.Logger
	startTime time.Time
	webhooks  WebhookManager
}

// NewManager creates a Manager wired to loop's signal bus.
func NewManager(log logger.Logger, loop *mainloop.MainLoop) *Manager {
	m := &Manager{
		records:   make(map[string]*models.ActionRecord),
		byAction:  make(map[mainloop.Action]string),
		handlers:  make(map[string]Handler),
		loop:      loop,
		log:       log,
		startTime: time.Now(),
	}

	loop.On(mainloop.EventJobStarted, m.onStarted)
	loop.On(mainloop.EventJobSucceeded, m.onSucceeded)
	loop.On(mainloop.EventJobAborted, m.onAborted)

	return m
}

// SetWebhookManager sets the webhook manager for action event notifications.
func (m *Manager) SetWebhookManager(webhooks WebhookManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = webhooks
	if webhooks != nil {
		m.log.Info("webhook manager configured")
	}
}

// RegisterHandler associates a Kind with the Handler that builds its
// mainloop.Action.
func (m *Manager) RegisterHandler(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

// SubmitAction builds the action for def.Kind and admits it to the
// MainLoop according to def.Priority/def.ForceStart.
func (m *Manager) SubmitAction(def models.ActionDefinition) (string, error) {
	m.mu.Lock()

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, exists := m.records[def.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("action with ID %s already exists", def.ID)
	}

	handler, ok := m.handlers[def.Kind]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("no handler registered for kind %q", def.Kind)
	}
	m.mu.Unlock()

	action, err := handler(def)
	if err != nil {
		return "", fmt.Errorf("build action: %w", err)
	}

	now := time.Now()
	def.CreatedAt = now
	rec := &models.ActionRecord{
		Definition: def,
		Status:     models.ActionStatusPending,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.records[def.ID] = rec
	m.byAction[action] = def.ID
	webhooks := m.webhooks
	m.mu.Unlock()

	m.log.Info("action submitted", "id", def.ID, "name", def.Name, "kind", def.Kind)
	if webhooks != nil {
		webhooks.SendActionCreated(rec)
	}

	switch {
	case def.ForceStart:
		m.loop.PriorityEnqueue(action, true)
	case def.Priority:
		m.loop.PriorityEnqueue(action, false)
	default:
		m.loop.Enqueue(action)
	}

	return def.ID, nil
}

// SubmitBatch submits multiple actions.
func (m *Manager) SubmitBatch(defs []models.ActionDefinition) ([]string, []error) {
	ids := make([]string, 0, len(defs))
	var errs []error

	for _, def := range defs {
		id, err := m.SubmitAction(def)
		if err != nil {
			errs = append(errs, err)
		} else {
			ids = append(ids, id)
		}
	}

	return ids, errs
}

// GetAction retrieves an action record by ID.
func (m *Manager) GetAction(id string) (*models.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[id]
	if !exists {
		return nil, fmt.Errorf("action not found: %s", id)
	}
	recCopy := *rec
	return &recCopy, nil
}

// ListActions returns action records matching the given status filter
// (or all, if empty), up to limit (0 meaning unlimited).
func (m *Manager) ListActions(statuses []models.ActionStatus, limit int) []*models.ActionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.ActionRecord
	for _, rec := range m.records {
		if len(statuses) > 0 && !containsStatus(statuses, rec.Status) {
			continue
		}
		recCopy := *rec
		result = append(result, &recCopy)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

func containsStatus(statuses []models.ActionStatus, s models.ActionStatus) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

// CancelAction marks a still-pending action as cancelled. The core
// scheduler has no queue-removal API (actions are opaque once
// admitted), so this only affects bookkeeping: the action, if it is
// still sitting in the MainLoop's queue, will still run to completion.
func (m *Manager) CancelAction(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[id]
	if !exists {
		return fmt.Errorf("action not found: %s", id)
	}
	if rec.Status != models.ActionStatusPending {
		return fmt.Errorf("action %s cannot be cancelled (status: %s)", id, rec.Status)
	}

	rec.Status = models.ActionStatusCancelled
	now := time.Now()
	rec.CompletedAt = &now
	rec.UpdatedAt = now

	m.log.Info("action marked cancelled", "id", id)
	if m.webhooks != nil {
		m.webhooks.SendActionCancelled(rec)
	}
	return nil
}

// RecordForAction resolves a live mainloop.Action back to the
// ActionRecord the manager is tracking for it, or nil if the action
// was never submitted through this manager. Intended for daemon/store's
// signal-bus audit subscriber, which otherwise only has the action's
// possibly-non-unique Name to key events by.
func (m *Manager) RecordForAction(a mainloop.Action) *models.ActionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAction[a]
	if !ok {
		return nil
	}
	recCopy := *m.records[id]
	return &recCopy
}

// GetStatus returns the daemon's aggregate status.
func (m *Manager) GetStatus() *models.DaemonStatus {
	m.mu.RLock()
	var completed, failed int
	for _, rec := range m.records {
		switch rec.Status {
		case models.ActionStatusCompleted:
			completed++
		case models.ActionStatusFailed:
			failed++
		}
	}
	m.mu.RUnlock()

	return &models.DaemonStatus{
		Version:         "0.1.0",
		Uptime:          time.Since(m.startTime).String(),
		QueueLength:     m.loop.GetQueueLength(),
		RunningActions:  len(m.loop.GetRunningActions()),
		SleepingActions: m.loop.SleepingCount(),
		Paused:          m.loop.IsPaused(),
		CompletedTotal:  completed,
		FailedTotal:     failed,
		Timestamp:       time.Now(),
	}
}

// Shutdown logs manager teardown. Actually draining running actions is
// the MainLoop's own Shutdown's responsibility; callers own that call.
func (m *Manager) Shutdown() {
	m.log.Info("shutting down action manager")
}

func (m *Manager) onStarted(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	m.transition(job.Action(), func(rec *models.ActionRecord) {
		rec.Status = models.ActionStatusRunning
		now := time.Now()
		rec.StartedAt = &now
		rec.UpdatedAt = now
	}, func(rec *models.ActionRecord) {
		if m.webhooks != nil {
			m.webhooks.SendActionStarted(rec)
		}
	})
}

func (m *Manager) onSucceeded(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	m.transition(job.Action(), func(rec *models.ActionRecord) {
		rec.Status = models.ActionStatusCompleted
		now := time.Now()
		rec.CompletedAt = &now
		rec.UpdatedAt = now
	}, func(rec *models.ActionRecord) {
		m.log.Info("action completed", logger.EventFields(rec.Definition.ID, mainloop.EventJobSucceeded)...)
		if m.webhooks != nil {
			m.webhooks.SendActionCompleted(rec)
		}
	})
}

func (m *Manager) onAborted(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	actionErr, _ := args[1].(error)
	m.transition(job.Action(), func(rec *models.ActionRecord) {
		rec.Status = models.ActionStatusFailed
		if actionErr != nil {
			rec.Error = actionErr.Error()
		}
		now := time.Now()
		rec.CompletedAt = &now
		rec.UpdatedAt = now
	}, func(rec *models.ActionRecord) {
		fields := append(logger.EventFields(rec.Definition.ID, mainloop.EventJobAborted), "error", actionErr)
		m.log.Error("action failed", fields...)
		if m.webhooks != nil {
			m.webhooks.SendActionFailed(rec)
		}
	})
}

// transition applies mutate to the record mapped to action under lock,
// then calls notify with a copy once unlocked.
func (m *Manager) transition(action mainloop.Action, mutate func(*models.ActionRecord), notify func(*models.ActionRecord)) {
	m.mu.Lock()
	id, ok := m.byAction[action]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec := m.records[id]
	mutate(rec)
	recCopy := *rec
	m.mu.Unlock()

	notify(&recCopy)
}
