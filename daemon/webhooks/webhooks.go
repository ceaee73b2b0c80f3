// SPDX-License-Identifier: LGPL-3.0-or-later

// Package webhooks delivers action lifecycle events to external HTTP
// endpoints. It never subscribes to a MainLoop's signal bus itself;
// daemon/jobs.Manager calls it from its own signal-bus subscribers.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"actionloop/daemon/models"
	"actionloop/logger"
)

// Event types delivered to subscribed endpoints.
const (
	EventActionCreated   = "action.created"
	EventActionStarted   = "action.started"
	EventActionCompleted = "action.completed"
	EventActionFailed    = "action.failed"
	EventActionCancelled = "action.cancelled"
)

// Webhook is one configured delivery endpoint.
type Webhook struct {
	URL     string            `yaml:"url" json:"url"`
	Events  []string          `yaml:"events" json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Retry   int               `yaml:"retry" json:"retry"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
}

// Payload is the JSON body POSTed to a webhook endpoint.
type Payload struct {
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Manager delivers action events to configured webhook endpoints.
type Manager struct {
	webhooks []Webhook
	client   *http.Client
	log      logger.Logger
}

// NewManager creates a webhook delivery Manager. daemon/jobs.Manager
// holds one behind its WebhookManager interface and calls SendAction*
// directly from its own signal-bus subscriptions, so a Manager here
// never subscribes to the MainLoop itself.
func NewManager(webhooks []Webhook, log logger.Logger) *Manager {
	return &Manager{
		webhooks: webhooks,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// Send delivers event to every enabled, subscribed webhook. Delivery
// happens asynchronously per webhook; Send never blocks on the network.
func (m *Manager) Send(event string, data map[string]interface{}) {
	payload := Payload{
		Event:     event,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, webhook := range m.webhooks {
		if !webhook.Enabled {
			continue
		}
		if !webhook.isSubscribed(event) {
			continue
		}
		go m.sendWebhook(webhook, payload)
	}
}

func (m *Manager) sendWebhook(webhook Webhook, payload Payload) {
	maxRetries := webhook.Retry
	if maxRetries == 0 {
		maxRetries = 3
	}

	timeout := webhook.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			m.log.Info("retrying webhook delivery",
				"url", webhook.URL,
				"attempt", attempt,
				"backoff", backoff)
			time.Sleep(backoff)
		}

		err := m.deliverWebhook(ctx, webhook, payload)
		if err == nil {
			m.log.Info("webhook delivered",
				"url", webhook.URL,
				"event", payload.Event)
			return
		}

		lastErr = err
		m.log.Warn("webhook delivery failed",
			"url", webhook.URL,
			"event", payload.Event,
			"attempt", attempt,
			"error", err)
	}

	m.log.Error("webhook delivery failed after all retries",
		"url", webhook.URL,
		"event", payload.Event,
		"error", lastErr)
}

func (m *Manager) deliverWebhook(ctx context.Context, webhook Webhook, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "actionloop-webhook/1.0")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (w *Webhook) isSubscribed(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// SendActionCreated sends an action created event.
func (m *Manager) SendActionCreated(rec *models.ActionRecord) {
	m.Send(EventActionCreated, map[string]interface{}{
		"action_id":   rec.Definition.ID,
		"action_name": rec.Definition.Name,
		"kind":        rec.Definition.Kind,
	})
}

// SendActionStarted sends an action started event.
func (m *Manager) SendActionStarted(rec *models.ActionRecord) {
	m.Send(EventActionStarted, map[string]interface{}{
		"action_id":   rec.Definition.ID,
		"action_name": rec.Definition.Name,
		"kind":        rec.Definition.Kind,
	})
}

// SendActionCompleted sends an action completed event.
func (m *Manager) SendActionCompleted(rec *models.ActionRecord) {
	duration := 0.0
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		duration = rec.CompletedAt.Sub(*rec.StartedAt).Seconds()
	}

	m.Send(EventActionCompleted, map[string]interface{}{
		"action_id":        rec.Definition.ID,
		"action_name":      rec.Definition.Name,
		"kind":             rec.Definition.Kind,
		"duration_seconds": duration,
	})
}

// SendActionFailed sends an action failed event.
func (m *Manager) SendActionFailed(rec *models.ActionRecord) {
	m.Send(EventActionFailed, map[string]interface{}{
		"action_id":   rec.Definition.ID,
		"action_name": rec.Definition.Name,
		"kind":        rec.Definition.Kind,
		"error":       rec.Error,
	})
}

// SendActionCancelled sends an action cancelled event.
func (m *Manager) SendActionCancelled(rec *models.ActionRecord) {
	m.Send(EventActionCancelled, map[string]interface{}{
		"action_id":   rec.Definition.ID,
		"action_name": rec.Definition.Name,
		"kind":        rec.Definition.Kind,
	})
}
