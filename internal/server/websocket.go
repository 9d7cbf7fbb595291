package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/lumenrobotics/doa-pipeline/internal/doa"
)

// writeDeadline bounds how long a single client write may block the
// broadcast loop; a stalled client drops its message rather than wedging
// every other subscriber.
const writeDeadline = 2 * time.Second

// pollInterval is how often the hub samples the pipeline for changes. It is
// deliberately shorter than the tracker's own output cadence: it exists to
// notice a changed snapshot promptly, not to set the rate of change.
const pollInterval = 100 * time.Millisecond

// WSHub manages WebSocket connections and broadcasts tracker snapshots.
// Unlike a fixed-rate feed, it only pushes a "doa" frame when the snapshot
// actually differs from the last one broadcast, so an idle source (no
// bearing change) produces no websocket traffic between polls.
type WSHub struct {
	pipeline *doa.Pipeline
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(pipeline *doa.Pipeline, logger *slog.Logger) *WSHub {
	return &WSHub{
		pipeline: pipeline,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Run starts the broadcast loop. It samples the pipeline's snapshot on
// pollInterval but only broadcasts a "doa" frame when the snapshot has
// changed since the last one sent, and a separate "angle_change" frame
// when the emitted bearing itself moves.
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastSnapshot doa.Snapshot
	var hasLastSnapshot bool

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-ticker.C:
			if h.pipeline == nil {
				continue
			}

			stats := h.pipeline.Stats()

			if hasLastSnapshot && stats == lastSnapshot {
				continue
			}

			if !hasLastSnapshot || stats.LastOutputAngle != lastSnapshot.LastOutputAngle {
				h.broadcast(Message{
					Type: "angle_change",
					Data: map[string]interface{}{
						"angle_deg": stats.LastOutputAngle,
					},
				})
			}

			h.broadcast(Message{
				Type: "doa",
				Data: stats,
			})

			lastSnapshot = stats
			hasLastSnapshot = true
		}
	}
}

func (h *WSHub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			h.logger.Debug("websocket deadline error", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler.
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the DOA stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		h.handleCommand(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, msg []byte) {
	var cmd struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(msg, &cmd); err != nil {
		return
	}

	switch cmd.Type {
	case "ping":
		c.WriteJSON(Message{Type: "pong", Data: time.Now().Unix()})
	case "get_stats":
		if h.pipeline != nil {
			c.WriteJSON(Message{Type: "stats", Data: h.pipeline.Stats()})
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub.
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
