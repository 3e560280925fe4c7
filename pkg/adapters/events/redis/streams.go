package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// StreamsMirror republishes bus events onto Redis Streams so out-of-process
// consumers (dashboards, audit pipelines) can follow executions. It is a
// one-way mirror: nothing read from Redis feeds back into the in-process bus.
type StreamsMirror struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsMirror creates a Redis Streams event mirror.
func NewStreamsMirror(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) (*StreamsMirror, error) {
	return &StreamsMirror{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}, nil
}

// Attach subscribes the mirror to the in-process bus for the given event
// types and returns the subscription id.
func (m *StreamsMirror) Attach(bus ports.EventBus, eventTypes []domain.EventType) (string, error) {
	return bus.Subscribe(eventTypes, func(ctx context.Context, event domain.Event) error {
		return m.Publish(ctx, event)
	}, nil)
}

// Publish appends one event to its type's stream.
func (m *StreamsMirror) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(event.Type),
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if _, err := m.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))

	return nil
}

// Consume reads events of one type from the stream through a consumer group,
// blocking until ctx is done. Intended for external consumers colocated with
// a Go process.
func (m *StreamsMirror) Consume(ctx context.Context, eventType domain.EventType, handler ports.EventHandler) error {
	key := streamKey(eventType)

	err := m.client.XGroupCreateMkStream(ctx, key, m.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	m.logger.Info("consuming event stream",
		zap.String("stream", key),
		zap.String("consumer_group", m.consumerGroup),
		zap.String("consumer", m.consumerName))

	go m.readStream(ctx, key, handler)

	return nil
}

func (m *StreamsMirror) readStream(ctx context.Context, key string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := m.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    m.consumerGroup,
				Consumer: m.consumerName,
				Streams:  []string{key, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("failed to read from stream",
					zap.String("stream", key),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					m.processMessage(ctx, key, message, handler)
				}
			}
		}
	}
}

func (m *StreamsMirror) processMessage(ctx context.Context, key string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		m.logger.Error("invalid message format",
			zap.String("stream", key),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		m.logger.Error("failed to unmarshal event",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		m.logger.Error("handler error",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := m.client.XAck(ctx, key, m.consumerGroup, message.ID).Err(); err != nil {
		m.logger.Error("failed to acknowledge message",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

func streamKey(t domain.EventType) string {
	return fmt.Sprintf("strand:events:%s", t)
}
