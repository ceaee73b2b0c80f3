// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionloop/daemon/jobs"
	"actionloop/daemon/models"
	"actionloop/logger"
	"actionloop/mainloop"
)

func newTestServer(t *testing.T) (*Server, *jobs.Manager) {
	t.Helper()
	log := logger.New("error")
	loop := mainloop.New(2, log)
	t.Cleanup(loop.Shutdown)

	manager := jobs.NewManager(log, loop)
	manager.RegisterHandler("noop", func(def models.ActionDefinition) (mainloop.Action, error) {
		return &serverTestAction{name: def.Name}, nil
	})

	return NewServer(manager, loop, log, context.Background()), manager
}

type serverTestAction struct {
	mainloop.BaseAction
	name string
}

func (a *serverTestAction) Name() string { return a.name }
func (a *serverTestAction) Run() error   { return nil }

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSubmitActionJSON(t *testing.T) {
	srv, manager := newTestServer(t)

	body, err := json.Marshal(models.ActionDefinition{Name: "hello", Kind: "noop"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/actions/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp models.SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.ActionIDs, 1)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actions/"+resp.ActionIDs[0], nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_ = manager
}

func TestHandleSubmitActionRejectsUnknownKind(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(models.ActionDefinition{Name: "bad", Kind: "does-not-exist"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/actions/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePauseResume(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/pause", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, srv.loop.IsPaused())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/resume", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, srv.loop.IsPaused())
}

func TestHandlePauseRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actions/pause", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSystemMetricsReflectsTraffic(t *testing.T) {
	srv, _ := newTestServer(t)

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.GreaterOrEqual(t, snap["http_requests"], float64(2))
}

func TestHandleCancelAction(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.loop.Pause()

	body, err := json.Marshal(models.ActionDefinition{Name: "pending", Kind: "noop"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/actions/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)

	var submitResp models.SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitResp))
	require.Len(t, submitResp.ActionIDs, 1)

	cancelBody, err := json.Marshal(models.CancelRequest{ActionIDs: submitResp.ActionIDs})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/cancel", bytes.NewReader(cancelBody)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var cancelResp models.CancelResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelResp))
	assert.Equal(t, submitResp.ActionIDs, cancelResp.Cancelled)
}
