// Package audit publishes a record of every vendor decision to the
// configured sinks (Kafka topic, Redis stream).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// DefaultTopic is the Kafka topic and Redis stream decision events go to
const DefaultTopic = "vendor.decisions"

// DecisionEvent is the audit record of one resolved vendor decision
type DecisionEvent struct {
	ID        uuid.UUID        `json:"id"`
	VendorID  string           `json:"vendorId"`
	OrderID   string           `json:"orderId"`
	Kind      models.OrderKind `json:"kind"`
	Action    string           `json:"action"`
	Outcome   string           `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
	ItemCount int              `json:"itemCount"`
	Timestamp time.Time        `json:"timestamp"`
}

// Publisher defines the interface for event sinks
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event interface{}) error
}

// EventPublisher fans decision events out to every configured sink
type EventPublisher struct {
	publishers []Publisher
	topic      string
	log        *zap.Logger
}

// NewEventPublisher creates a publisher; with no sinks Publish only logs
func NewEventPublisher(publishers []Publisher, topic string, log *zap.Logger) *EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{
		publishers: publishers,
		topic:      topic,
		log:        logger.OrNop(log).With(zap.String("component", "audit")),
	}
}

// Publish sends event to every sink. It fails only when every sink failed.
func (p *EventPublisher) Publish(ctx context.Context, event DecisionEvent) error {
	if event.OrderID == "" {
		return fmt.Errorf("order ID is required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var lastErr error
	successCount := 0
	for i, publisher := range p.publishers {
		if err := publisher.PublishEvent(ctx, p.topic, event.OrderID, event); err != nil {
			p.log.Error("failed to publish decision event",
				zap.Int("publisher_index", i),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
			lastErr = err
			continue
		}
		successCount++
	}

	p.log.Info("published decision event",
		zap.String("event_id", event.ID.String()),
		zap.String("order_id", event.OrderID),
		zap.String("action", event.Action),
		zap.String("outcome", event.Outcome),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(p.publishers)))

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaPublisher writes events to a Kafka topic keyed by order id
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.CRC32Balancer{},
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			MaxAttempts:            3,
			AllowAutoTopicCreation: true,
		},
		log: logger.OrNop(log),
	}
}

func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	k.log.Debug("publishing event to kafka",
		zap.String("topic", k.writer.Topic),
		zap.Int("event_size", len(eventData)))

	now := time.Now()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: eventData,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(now.Format(time.RFC3339))},
		},
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// RedisPublisher appends events to a Redis stream
type RedisPublisher struct {
	client redis.Cmdable
	maxLen int64
	log    *zap.Logger
}

// NewRedisPublisher uses an existing client; the stream is trimmed to about maxLen entries
func NewRedisPublisher(client redis.Cmdable, maxLen int64, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: maxLen, log: logger.OrNop(log)}
}

func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		ID:     "*",
		Values: map[string]interface{}{
			"key":       key,
			"data":      string(eventData),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "vendorpulse",
		},
	})
	if err := result.Err(); err != nil {
		r.log.Error("failed to publish event to redis stream",
			zap.String("stream", topic),
			zap.Error(err))
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published event to redis stream",
		zap.String("stream", topic),
		zap.String("message_id", result.Val()))
	return nil
}
