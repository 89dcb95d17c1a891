// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package abtest

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is the number of frames queued per client. A client that
	// falls this far behind is disconnected.
	clientBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub fans controller events out to stream clients.
//
// Publishing never blocks the stepping goroutine: each client has a bounded
// queue and a client whose queue is full is dropped.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

type streamClient struct {
	send chan Frame

	// gone is closed when the hub drops the client.
	gone chan struct{}
}

func newHub(logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	cl := &streamClient{
		send: make(chan Frame, clientBuffer),
		gone: make(chan struct{}),
	}
	h.clients[cl] = struct{}{}
	return cl, true
}

func (h *Hub) unregister(cl *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(cl)
}

func (h *Hub) dropLocked(cl *streamClient) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.gone)
}

func (h *Hub) broadcast(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- f:
		default:
			h.logger.Warn("dropping slow stream client", "frame", f.Type)
			h.dropLocked(cl)
		}
	}
}

func (h *Hub) publishPoint(pt engine.OutputPoint) {
	h.broadcast(pointFrame(pt))
}

func (h *Hub) publishState(sc engine.StateChange) {
	h.broadcast(stateFrame(sc))
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.dropLocked(cl)
	}
}

// -----------------------------------------------------------------------------
// Handler
// -----------------------------------------------------------------------------

// handleStream upgrades to a WebSocket and streams frames.
//
// Description:
//
//	The client is registered before the snapshot is taken, so no point
//	published during the handshake is lost; points already contained in the
//	hello frame are skipped when they arrive on the queue.
func (s *Service) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	cl, ok := s.hub.register()
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer s.hub.unregister(cl)

	ctx := c.Request.Context()
	if s.metrics != nil {
		s.metrics.StreamClients.Add(ctx, 1)
		defer s.metrics.StreamClients.Add(context.WithoutCancel(ctx), -1)
	}

	runID := s.ctrl.RunID()
	points := s.ctrl.Points()
	if len(points) > 0 {
		runID = points[0].RunID
	}
	hello := Frame{
		Type:   FrameHello,
		RunID:  runID,
		State:  s.ctrl.State().String(),
		Points: points,
	}
	if err := writeFrame(ws, hello); err != nil {
		return
	}

	lastRun, lastHour := runID, 0
	if len(points) > 0 {
		lastHour = points[len(points)-1].Hour
	}

	s.logger.Debug("stream client connected", "run_id", runID, "backfill", len(points))

	readDone := make(chan struct{})
	go readPump(ws, readDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-cl.send:
			if f.Type == FramePoint && f.Point != nil {
				if f.RunID == lastRun && f.Point.Hour <= lastHour {
					continue
				}
				lastRun, lastHour = f.RunID, f.Point.Hour
			}
			if err := writeFrame(ws, f); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-cl.gone:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return

		case <-readDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

// readPump consumes client messages so control frames (pong, close) are
// processed. Data sent by the client is ignored.
func readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(ws *websocket.Conn, f Frame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(f)
}
