// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the daemon's admission and observer surface over
// HTTP: submit actions, query their records, cancel pending ones, and
// pause/resume the scheduler's admission of new work.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"actionloop/daemon/jobs"
	"actionloop/daemon/metrics"
	"actionloop/daemon/models"
	"actionloop/logger"
	"actionloop/mainloop"
)

// Server serves the daemon's REST and WebSocket API over an
// http.ServeMux.
type Server struct {
	manager     *jobs.Manager
	loop        *mainloop.MainLoop
	logger      logger.Logger
	mux         *http.ServeMux
	hub         *WSHub
	shutdownCtx context.Context
	system      *metrics.SystemMetrics
}

// NewServer creates a Server routing requests to manager and loop.
// shutdownCtx governs the lifetime of any WebSocket connections opened
// through EnableWebSocket; cancel it to disconnect every client.
func NewServer(manager *jobs.Manager, loop *mainloop.MainLoop, log logger.Logger, shutdownCtx context.Context) *Server {
	s := &Server{
		manager:     manager,
		loop:        loop,
		logger:      log,
		mux:         http.NewServeMux(),
		shutdownCtx: shutdownCtx,
		system:      metrics.NewSystemMetrics(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler, recording request counts, error
// counts, and response latency in s.system before dispatching to the
// matched route.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	s.mux.ServeHTTP(rec, r)

	s.system.RecordHTTPRequest()
	s.system.RecordResponseTime(time.Since(start))
	if rec.status >= http.StatusBadRequest {
		s.system.RecordHTTPError()
	}
}

// statusRecorder captures the status code an http.Handler wrote, since
// http.ResponseWriter itself doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the gorilla/websocket upgrader take over the underlying
// connection for the /ws route despite the statusRecorder wrapping.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/system", s.handleSystemMetrics)
	s.mux.HandleFunc("/actions/submit", s.handleSubmitAction)
	s.mux.HandleFunc("/actions/query", s.handleQueryActions)
	s.mux.HandleFunc("/actions/cancel", s.handleCancelActions)
	s.mux.HandleFunc("/actions/pause", s.handlePause)
	s.mux.HandleFunc("/actions/resume", s.handleResume)
	s.mux.HandleFunc("/actions/", s.handleGetAction)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// handleSystemMetrics reports process-level stats (HTTP traffic,
// memory, goroutines, WebSocket connections) that sit alongside but
// outside the Prometheus /metrics exposition.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.system.GetSnapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.manager.GetStatus())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.loop.Pause()
	s.logger.Info("scheduler paused via API")
	jsonResponse(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.loop.Resume()
	s.logger.Info("scheduler resumed via API")
	jsonResponse(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	contentType := r.Header.Get("Content-Type")
	var defs []models.ActionDefinition
	if strings.Contains(contentType, "yaml") {
		defs, err = parseYAMLActions(body)
	} else {
		defs, err = parseJSONActions(body)
	}
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "parse body: "+err.Error())
		return
	}

	ids, errs := s.manager.SubmitBatch(defs)

	resp := models.SubmitResponse{
		ActionIDs: ids,
		Accepted:  len(ids),
		Rejected:  len(errs),
		Timestamp: time.Now(),
	}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, e.Error())
	}

	status := http.StatusAccepted
	if len(ids) == 0 && len(errs) > 0 {
		status = http.StatusBadRequest
	}
	jsonResponse(w, status, resp)
}

func (s *Server) handleQueryActions(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "decode request: "+err.Error())
			return
		}
	} else {
		req.All = true
	}

	var records []*models.ActionRecord
	switch {
	case len(req.ActionIDs) > 0:
		for _, id := range req.ActionIDs {
			rec, err := s.manager.GetAction(id)
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	default:
		records = s.manager.ListActions(req.Status, req.Limit)
	}

	jsonResponse(w, http.StatusOK, models.QueryResponse{
		Actions:   records,
		Total:     len(records),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id := filepath.Base(r.URL.Path)
	if id == "" || id == "." || id == "/" {
		errorResponse(w, http.StatusBadRequest, "missing action id")
		return
	}

	rec, err := s.manager.GetAction(id)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleCancelActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req models.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}

	resp := models.CancelResponse{
		Errors:    make(map[string]string),
		Timestamp: time.Now(),
	}
	for _, id := range req.ActionIDs {
		if err := s.manager.CancelAction(id); err != nil {
			resp.Failed = append(resp.Failed, id)
			resp.Errors[id] = err.Error()
			continue
		}
		resp.Cancelled = append(resp.Cancelled, id)
	}

	jsonResponse(w, http.StatusOK, resp)
}

func parseJSONActions(body []byte) ([]models.ActionDefinition, error) {
	var batch models.BatchActionDefinition
	if err := json.Unmarshal(body, &batch); err == nil && len(batch.Actions) > 0 {
		return batch.Actions, nil
	}

	var list []models.ActionDefinition
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var single models.ActionDefinition
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("not a valid action, batch, or list: %w", err)
	}
	if single.Kind == "" {
		return nil, fmt.Errorf("action missing kind")
	}
	return []models.ActionDefinition{single}, nil
}

func parseYAMLActions(body []byte) ([]models.ActionDefinition, error) {
	var batch models.BatchActionDefinition
	if err := yaml.Unmarshal(body, &batch); err == nil && len(batch.Actions) > 0 {
		return batch.Actions, nil
	}

	var list []models.ActionDefinition
	if err := yaml.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var single models.ActionDefinition
	if err := yaml.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("not a valid action, batch, or list: %w", err)
	}
	if single.Kind == "" {
		return nil, fmt.Errorf("action missing kind")
	}
	return []models.ActionDefinition{single}, nil
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

// SubmitActionFromFile reads a JSON or YAML action definition file and
// POSTs it to a running daemon's /actions/submit endpoint.
func SubmitActionFromFile(apiURL, filePath string) error {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	contentType := "application/json"
	if strings.HasSuffix(filePath, ".yaml") || strings.HasSuffix(filePath, ".yml") {
		contentType = "application/yaml"
	}

	resp, err := http.Post(apiURL+"/actions/submit", contentType, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("submit action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon rejected submission (%d): %s", resp.StatusCode, respBody)
	}
	return nil
}
