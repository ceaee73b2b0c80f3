// SPDX-License-Identifier: LGPL-3.0-or-later

package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"actionloop/daemon/models"
	"actionloop/logger"
)

func TestNewManager(t *testing.T) {
	log := logger.NewTestLogger(t)
	webhooks := []Webhook{
		{
			URL:     "http://example.com/webhook",
			Events:  []string{EventActionCompleted},
			Enabled: true,
		},
	}

	manager := NewManager(webhooks, log)

	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}

	if manager.client == nil {
		t.Fatal("Manager.client is nil")
	}

	if len(manager.webhooks) != 1 {
		t.Errorf("Expected 1 webhook, got %d", len(manager.webhooks))
	}
}

func TestWebhookIsSubscribed(t *testing.T) {
	tests := []struct {
		name     string
		webhook  Webhook
		event    string
		expected bool
	}{
		{
			name: "Empty events subscribes to all",
			webhook: Webhook{
				Events: []string{},
			},
			event:    EventActionCompleted,
			expected: true,
		},
		{
			name: "Specific event match",
			webhook: Webhook{
				Events: []string{EventActionCompleted, EventActionFailed},
			},
			event:    EventActionCompleted,
			expected: true,
		},
		{
			name: "Specific event no match",
			webhook: Webhook{
				Events: []string{EventActionCompleted},
			},
			event:    EventActionStarted,
			expected: false,
		},
		{
			name: "Wildcard subscribes to all",
			webhook: Webhook{
				Events: []string{"*"},
			},
			event:    EventActionFailed,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.webhook.isSubscribed(tt.event)
			if result != tt.expected {
				t.Errorf("isSubscribed() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSendWebhookBasic(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:     server.URL,
			Events:  []string{EventActionCompleted},
			Enabled: true,
			Timeout: 5 * time.Second,
			Retry:   0,
		},
	}

	manager := NewManager(webhooks, log)

	data := map[string]interface{}{
		"action_id":   "test-123",
		"action_name": "Test Action",
	}
	manager.Send(EventActionCompleted, data)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionCompleted {
		t.Errorf("Expected event %s, got %s", EventActionCompleted, receivedPayload.Event)
	}

	if receivedPayload.Data["action_id"] != "test-123" {
		t.Errorf("Expected action_id 'test-123', got %v", receivedPayload.Data["action_id"])
	}
}

func TestSendWebhookDisabled(t *testing.T) {
	log := logger.NewTestLogger(t)

	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:     server.URL,
			Events:  []string{EventActionCompleted},
			Enabled: false,
		},
	}

	manager := NewManager(webhooks, log)
	manager.Send(EventActionCompleted, map[string]interface{}{"test": "data"})

	time.Sleep(100 * time.Millisecond)

	if callCount.Load() != 0 {
		t.Errorf("Expected no webhook calls for disabled webhook, got %d", callCount.Load())
	}
}

func TestSendWebhookNotSubscribed(t *testing.T) {
	log := logger.NewTestLogger(t)

	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:     server.URL,
			Events:  []string{EventActionCompleted},
			Enabled: true,
		},
	}

	manager := NewManager(webhooks, log)
	manager.Send(EventActionStarted, map[string]interface{}{"test": "data"})

	time.Sleep(100 * time.Millisecond)

	if callCount.Load() != 0 {
		t.Errorf("Expected no webhook calls for unsubscribed event, got %d", callCount.Load())
	}
}

func TestSendWebhookRetry(t *testing.T) {
	log := logger.NewTestLogger(t)

	var attemptCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attemptCount.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:     server.URL,
			Events:  []string{EventActionCompleted},
			Enabled: true,
			Timeout: 5 * time.Second,
			Retry:   3,
		},
	}

	manager := NewManager(webhooks, log)
	manager.Send(EventActionCompleted, map[string]interface{}{"test": "data"})

	time.Sleep(5 * time.Second)

	count := attemptCount.Load()
	if count < 3 {
		t.Errorf("Expected at least 3 attempts, got %d", count)
	}
}

func TestSendWebhookCustomHeaders(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedHeaders = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:    server.URL,
			Events: []string{EventActionCompleted},
			Headers: map[string]string{
				"X-Custom-Header": "custom-value",
				"Authorization":   "Bearer secret-token",
			},
			Enabled: true,
		},
	}

	manager := NewManager(webhooks, log)
	manager.Send(EventActionCompleted, map[string]interface{}{"test": "data"})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedHeaders.Get("X-Custom-Header") != "custom-value" {
		t.Errorf("Expected custom header 'custom-value', got '%s'", receivedHeaders.Get("X-Custom-Header"))
	}

	if receivedHeaders.Get("Authorization") != "Bearer secret-token" {
		t.Errorf("Expected auth header, got '%s'", receivedHeaders.Get("Authorization"))
	}

	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", receivedHeaders.Get("Content-Type"))
	}

	if receivedHeaders.Get("User-Agent") != "actionloop-webhook/1.0" {
		t.Errorf("Expected User-Agent 'actionloop-webhook/1.0', got '%s'", receivedHeaders.Get("User-Agent"))
	}
}

func newTestRecord(id string) *models.ActionRecord {
	return &models.ActionRecord{
		Definition: models.ActionDefinition{ID: id, Name: "Test Action " + id, Kind: "echo"},
	}
}

func TestSendActionCreated(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{URL: server.URL, Events: []string{EventActionCreated}, Enabled: true},
	}

	manager := NewManager(webhooks, log)
	manager.SendActionCreated(newTestRecord("action-123"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionCreated {
		t.Errorf("Expected event %s, got %s", EventActionCreated, receivedPayload.Event)
	}
	if receivedPayload.Data["action_id"] != "action-123" {
		t.Errorf("Expected action_id 'action-123', got %v", receivedPayload.Data["action_id"])
	}
}

func TestSendActionStarted(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{URL: server.URL, Events: []string{EventActionStarted}, Enabled: true},
	}

	manager := NewManager(webhooks, log)
	manager.SendActionStarted(newTestRecord("action-456"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionStarted {
		t.Errorf("Expected event %s, got %s", EventActionStarted, receivedPayload.Event)
	}
}

func TestSendActionCompleted(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{URL: server.URL, Events: []string{EventActionCompleted}, Enabled: true},
	}

	manager := NewManager(webhooks, log)

	startTime := time.Now().Add(-5 * time.Minute)
	endTime := time.Now()

	rec := newTestRecord("action-789")
	rec.StartedAt = &startTime
	rec.CompletedAt = &endTime

	manager.SendActionCompleted(rec)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionCompleted {
		t.Errorf("Expected event %s, got %s", EventActionCompleted, receivedPayload.Event)
	}

	duration := receivedPayload.Data["duration_seconds"].(float64)
	if duration < 290 || duration > 310 {
		t.Errorf("Expected duration around 300 seconds, got %v", duration)
	}
}

func TestSendActionFailed(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{URL: server.URL, Events: []string{EventActionFailed}, Enabled: true},
	}

	manager := NewManager(webhooks, log)

	rec := newTestRecord("action-fail")
	rec.Error = "connection timeout"

	manager.SendActionFailed(rec)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionFailed {
		t.Errorf("Expected event %s, got %s", EventActionFailed, receivedPayload.Event)
	}
	if receivedPayload.Data["error"] != "connection timeout" {
		t.Errorf("Expected error 'connection timeout', got %v", receivedPayload.Data["error"])
	}
}

func TestSendActionCancelled(t *testing.T) {
	log := logger.NewTestLogger(t)

	var mu sync.Mutex
	var receivedPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Payload
		json.Unmarshal(body, &payload)
		mu.Lock()
		receivedPayload = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{URL: server.URL, Events: []string{EventActionCancelled}, Enabled: true},
	}

	manager := NewManager(webhooks, log)
	manager.SendActionCancelled(newTestRecord("action-cancel"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedPayload.Event != EventActionCancelled {
		t.Errorf("Expected event %s, got %s", EventActionCancelled, receivedPayload.Event)
	}
}

func TestMultipleWebhooks(t *testing.T) {
	log := logger.NewTestLogger(t)

	var wg sync.WaitGroup
	wg.Add(3)

	var counts [3]atomic.Int32

	servers := make([]*httptest.Server, 3)
	for i := 0; i < 3; i++ {
		idx := i
		servers[i] = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			counts[idx].Add(1)
			wg.Done()
			w.WriteHeader(http.StatusOK)
		}))
		defer servers[i].Close()
	}

	webhooks := []Webhook{
		{URL: servers[0].URL, Events: []string{EventActionCompleted}, Enabled: true},
		{URL: servers[1].URL, Events: []string{EventActionCompleted}, Enabled: true},
		{URL: servers[2].URL, Events: []string{EventActionCompleted}, Enabled: true},
	}

	manager := NewManager(webhooks, log)
	manager.Send(EventActionCompleted, map[string]interface{}{"test": "data"})

	wg.Wait()

	for i := 0; i < 3; i++ {
		if counts[i].Load() != 1 {
			t.Errorf("Webhook %d expected 1 call, got %d", i, counts[i].Load())
		}
	}
}

func TestWebhookTimeout(t *testing.T) {
	log := logger.NewTestLogger(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhooks := []Webhook{
		{
			URL:     server.URL,
			Events:  []string{EventActionCompleted},
			Enabled: true,
			Timeout: 100 * time.Millisecond,
			Retry:   0,
		},
	}

	manager := NewManager(webhooks, log)

	start := time.Now()
	manager.Send(EventActionCompleted, map[string]interface{}{"test": "data"})

	time.Sleep(500 * time.Millisecond)

	elapsed := time.Since(start)
	if elapsed > 1*time.Second {
		t.Errorf("Expected webhook to timeout quickly, took %v", elapsed)
	}
}
