package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus  ports.EventBus
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger, keepalive time.Duration) *Handler {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Handler{
		eventBus:  eventBus,
		logger:    logger,
		keepalive: keepalive,
	}
}

// HandleEventStream streams runtime events over a WebSocket connection.
// The execution_id query parameter restricts the stream to one execution;
// without it the client sees every execution's lifecycle events.
func (h *Handler) HandleEventStream(c *gin.Context) {
	executionID := c.Query("execution_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	events := make(chan domain.Event, 64)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	subID, err := h.eventBus.Subscribe(domain.AllEventTypes(), func(_ context.Context, event domain.Event) error {
		if executionID != "" && event.ExecutionID != executionID {
			return nil
		}
		select {
		case events <- event:
		case <-ctx.Done():
		default:
			// Channel full, skip event
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}, nil)
	if err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		return
	}
	defer h.eventBus.Unsubscribe(subID)

	// Drain client frames so close handshakes are seen.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	pings := time.NewTicker(h.keepalive)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
