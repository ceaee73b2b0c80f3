// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"actionloop/daemon/models"
	"actionloop/mainloop"
)

func newTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := NewSQLiteStore(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGetEvents(t *testing.T) {
	store := newTempStore(t)

	if err := store.RecordEvent("action-1", "started", nil); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if err := store.RecordEvent("action-1", "completed", map[string]interface{}{"duration": 1.5}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	events, err := store.GetEvents("action-1")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "started" || events[1].EventType != "completed" {
		t.Errorf("unexpected event ordering: %+v", events)
	}
}

func TestGetEventsUnknownAction(t *testing.T) {
	store := newTempStore(t)

	events, err := store.GetEvents("nope")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestListRecentEvents(t *testing.T) {
	store := newTempStore(t)

	for i := 0; i < 5; i++ {
		if err := store.RecordEvent(fmt.Sprintf("action-%d", i), "started", nil); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	events, err := store.ListRecentEvents(3)
	if err != nil {
		t.Fatalf("ListRecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
}

func TestGetStatistics(t *testing.T) {
	store := newTempStore(t)

	outcomes := []string{"completed", "completed", "failed", "cancelled"}
	for i, outcome := range outcomes {
		if err := store.RecordEvent(fmt.Sprintf("action-%d", i), outcome, nil); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	stats, err := store.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics() error = %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("expected 4 total events, got %d", stats.Total)
	}
	if stats.Completed != 2 {
		t.Errorf("expected 2 completed, got %d", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.Cancelled != 1 {
		t.Errorf("expected 1 cancelled, got %d", stats.Cancelled)
	}
}

type attachAction struct {
	mainloop.BaseAction
	name string
	err  error
}

func (a *attachAction) Name() string { return a.name }
func (a *attachAction) Run() error   { return a.err }

type nullWarner struct{}

func (nullWarner) Warn(string, ...interface{}) {}

func TestAttachRecordsLifecycleEvents(t *testing.T) {
	store := newTempStore(t)

	loop := mainloop.New(2, nil)
	defer loop.Shutdown()

	records := map[mainloop.Action]*models.ActionRecord{}
	lookup := func(a mainloop.Action) *models.ActionRecord { return records[a] }

	Attach(store, loop, lookup, nullWarner{})

	ok := &attachAction{name: "ok"}
	bad := &attachAction{name: "bad", err: errors.New("boom")}
	records[ok] = &models.ActionRecord{Definition: models.ActionDefinition{ID: "rec-ok"}}
	records[bad] = &models.ActionRecord{Definition: models.ActionDefinition{ID: "rec-bad"}}

	loop.Enqueue(ok)
	loop.Enqueue(bad)
	loop.WaitUntilDone()

	deadline := time.Now().Add(time.Second)
	for {
		okEvents, _ := store.GetEvents("rec-ok")
		badEvents, _ := store.GetEvents("rec-bad")
		if len(okEvents) >= 2 && len(badEvents) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected lifecycle events to be recorded; ok=%d bad=%d", len(okEvents), len(badEvents))
		}
		time.Sleep(time.Millisecond)
	}
}
