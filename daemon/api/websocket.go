// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"actionloop/daemon/metrics"
	"actionloop/mainloop"
)

// WSMessage is a single event pushed to connected dashboard clients.
type WSMessage struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	conn      *websocket.Conn
	send      chan WSMessage
	hub       *WSHub
	closeOnce sync.Once
}

// WSHub fans out action-lifecycle events to every connected client.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	logger     interface {
		Debug(msg string, keysAndValues ...interface{})
		Info(msg string, keysAndValues ...interface{})
		Warn(msg string, keysAndValues ...interface{})
		Error(msg string, keysAndValues ...interface{})
	}
	system *metrics.SystemMetrics
}

// NewWSHub creates an empty hub. Call Run to start its event loop.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// SetLogger attaches a logger for hub diagnostics.
func (h *WSHub) SetLogger(logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}) {
	h.logger = logger
}

// Run drives the hub's register/unregister/broadcast loop until ctx is
// cancelled.
func (h *WSHub) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && h.logger != nil {
			h.logger.Error("websocket hub panic recovered", "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if h.logger != nil {
				h.logger.Info("websocket hub shutting down")
			}
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("websocket client registered", "total_clients", count)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeOnce.Do(func() { close(client.send) })
			}
			count := len(h.clients)
			h.mu.Unlock()
			if h.system != nil {
				h.system.RecordWSDisconnection()
			}
			if h.logger != nil {
				h.logger.Debug("websocket client unregistered", "total_clients", count)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			var stale []*WSClient
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					stale = append(stale, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range stale {
				if h.logger != nil {
					h.logger.Warn("websocket client buffer full, closing connection")
				}
				h.unregister <- client
			}
		}
	}
}

// Broadcast pushes an event to every connected client, dropping it if
// the hub's internal buffer is saturated.
func (h *WSHub) Broadcast(msgType string, data map[string]interface{}) {
	message := WSMessage{Type: msgType, Timestamp: time.Now(), Data: data}
	select {
	case h.broadcast <- message:
	default:
		if h.logger != nil {
			h.logger.Warn("websocket broadcast channel full, dropping message", "type", msgType)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connected client.
func (h *WSHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.logger != nil {
		h.logger.Info("shutting down websocket hub", "client_count", len(h.clients))
	}
	for client := range h.clients {
		client.closeOnce.Do(func() { close(client.send) })
		client.conn.Close()
	}
	h.clients = make(map[*WSClient]bool)
}

func (c *WSClient) readPump(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && c.hub.logger != nil {
			c.hub.logger.Error("websocket readPump panic recovered", "panic", r)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && c.hub.logger != nil {
					c.hub.logger.Warn("websocket unexpected close", "error", err)
				}
				return
			}
		}
	}
}

func (c *WSClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		if r := recover(); r != nil && c.hub.logger != nil {
			c.hub.logger.Error("websocket writePump panic recovered", "panic", r)
		}
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				if c.hub.logger != nil {
					c.hub.logger.Error("websocket write error", "error", err)
				}
				return
			}
			if err := json.NewEncoder(w).Encode(message); err != nil {
				if c.hub.logger != nil {
					c.hub.logger.Error("websocket encode error", "error", err)
				}
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EnableWebSocket wires a /ws route and a live feed fed from loop's
// signal bus, and returns the hub so the caller can Run and Shutdown it.
func (s *Server) EnableWebSocket(loop *mainloop.MainLoop) *WSHub {
	hub := NewWSHub()
	hub.SetLogger(s.logger)
	hub.system = s.system
	s.hub = hub

	loop.On(mainloop.EventJobStarted, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		hub.Broadcast("action_started", map[string]interface{}{"name": job.Action().Name()})
	})
	loop.On(mainloop.EventJobSucceeded, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		hub.Broadcast("action_completed", map[string]interface{}{"name": job.Action().Name()})
	})
	loop.On(mainloop.EventJobAborted, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		errMsg := ""
		if err, ok := args[1].(error); ok && err != nil {
			errMsg = err.Error()
		}
		hub.Broadcast("action_failed", map[string]interface{}{"name": job.Action().Name(), "error": errMsg})
	})
	loop.On(mainloop.EventQueueEmpty, func(args ...interface{}) {
		hub.Broadcast("queue_empty", nil)
	})

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return hub
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &WSClient{conn: conn, send: make(chan WSMessage, 256), hub: s.hub}
	s.hub.register <- client
	s.system.RecordWSConnection()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("websocket initial status send panic", "panic", r)
			}
		}()
		status := s.manager.GetStatus()
		client.send <- WSMessage{
			Type:      "status",
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"queue_length":     status.QueueLength,
				"running_actions":  status.RunningActions,
				"sleeping_actions": status.SleepingActions,
				"paused":           status.Paused,
				"completed_total":  status.CompletedTotal,
				"failed_total":     status.FailedTotal,
			},
		}
	}()

	go client.writePump(s.shutdownCtx)
	go client.readPump(s.shutdownCtx)

	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)
}

// StartStatusBroadcaster periodically pushes the daemon's aggregate
// status to every connected client until ctx is cancelled.
func (s *Server) StartStatusBroadcaster(ctx context.Context, interval time.Duration) *time.Ticker {
	ticker := time.NewTicker(interval)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("status broadcaster panic recovered", "panic", r)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.hub == nil || s.hub.ClientCount() == 0 {
					continue
				}
				status := s.manager.GetStatus()
				s.hub.Broadcast("status", map[string]interface{}{
					"queue_length":     status.QueueLength,
					"running_actions":  status.RunningActions,
					"sleeping_actions": status.SleepingActions,
					"paused":           status.Paused,
					"completed_total":  status.CompletedTotal,
					"failed_total":     status.FailedTotal,
				})
			}
		}
	}()
	return ticker
}
