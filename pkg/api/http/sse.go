package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// sseQueueSize bounds the per-client buffer between the bus drain goroutine
// and the HTTP writer. A slow client sheds telemetry but keeps the stream.
const sseQueueSize = 128

// handleEventStream streams runtime events to the client as server-sent
// events. Query parameters:
//
//	types=a,b,c        event types to receive (default: all lifecycle events)
//	execution_id=...   restrict to one execution
//
// A keepalive comment line is written whenever the stream has been silent
// for the configured interval, so intermediaries do not reap idle
// connections.
func (s *Server) handleEventStream(c *gin.Context) {
	types := parseEventTypes(c.Query("types"))
	executionID := c.Query("execution_id")

	events := make(chan domain.Event, sseQueueSize)
	clientGone := c.Request.Context().Done()

	subID, err := s.bus.Subscribe(types, func(ctx context.Context, event domain.Event) error {
		if executionID != "" && event.ExecutionID != executionID {
			return nil
		}
		select {
		case events <- event:
		case <-clientGone:
		default:
			// Client buffer is full; lifecycle events wait briefly rather
			// than vanish.
			if event.Type.Critical() {
				select {
				case events <- event:
				case <-clientGone:
				case <-time.After(time.Second):
				}
			}
		}
		return nil
	}, &ports.SubscribeOptions{QueueSize: sseQueueSize})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_SUBSCRIPTION", Message: err.Error()},
		})
		return
	}
	defer s.bus.Unsubscribe(subID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	s.logger.Debug("SSE client connected",
		zap.String("client_ip", c.ClientIP()),
		zap.String("execution_id", executionID))

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
			return true
		case <-clientGone:
			return false
		}
	})
}

// parseEventTypes turns a comma list into event types, defaulting to the
// full lifecycle set when empty.
func parseEventTypes(raw string) []domain.EventType {
	if raw == "" {
		return domain.AllEventTypes()
	}
	parts := strings.Split(raw, ",")
	types := make([]domain.EventType, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, domain.EventType(p))
		}
	}
	return types
}
