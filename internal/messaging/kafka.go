package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
)

// Event types published on the catalog and model topics.
const (
	EventProductCreated    = "product.created"
	EventSourceUpdated     = "source.updated"
	EventReviewCreated     = "review.created"
	EventBundleCreated     = "bundle.created"
	EventCatalogReconciled = "catalog.reconciled"
	EventModelTrained      = "model.trained"
)

// Event is a domain event. ProductIDs names the products whose derived data
// (comfort score, price range) may have changed.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       string                 `json:"type"`
	ProductIDs []uuid.UUID            `json:"product_ids,omitempty"`
	BundleID   uuid.UUID              `json:"bundle_id,omitempty"`
	UserID     uuid.UUID              `json:"user_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	RetryCount int                    `json:"retry_count"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(eventType string, productIDs ...uuid.UUID) *Event {
	return &Event{
		ID:         uuid.New(),
		Type:       eventType,
		ProductIDs: productIDs,
		Timestamp:  time.Now(),
	}
}

// Publisher is implemented by MessageBus and LogPublisher.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Handler processes one consumed event.
type Handler func(ctx context.Context, event *Event) error

type MessageBus struct {
	writer       *kafka.Writer
	reader       *kafka.Reader
	dlqWriter    *kafka.Writer
	catalogTopic string
	modelTopic   string
	dlqTopic     string
	maxRetries   int
	baseDelay    time.Duration
	logger       *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka enabled but no brokers configured")
	}

	topics := cfg.Kafka.Topics
	mb := &MessageBus{
		// topic is set per message
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Balancer:     &kafka.Hash{}, // keyed by product so a product's events stay ordered
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID,
			GroupTopics:    []string{topics.CatalogEvents, topics.ModelEvents},
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			CommitInterval: 0,    // explicit commits after handling
			StartOffset:    kafka.LastOffset,
		}),
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topics.DeadLetter,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		catalogTopic: topics.CatalogEvents,
		modelTopic:   topics.ModelEvents,
		dlqTopic:     topics.DeadLetter,
		maxRetries:   cfg.Kafka.MaxRetries,
		baseDelay:    time.Second,
		logger:       logger,
	}
	return mb, nil
}

func (mb *MessageBus) topicFor(eventType string) string {
	if eventType == EventModelTrained {
		return mb.modelTopic
	}
	return mb.catalogTopic
}

func eventKey(event *Event) []byte {
	if len(event.ProductIDs) > 0 {
		return []byte(event.ProductIDs[0].String())
	}
	return []byte(event.ID.String())
}

func (mb *MessageBus) Publish(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := mb.topicFor(event.Type)
	msg := kafka.Message{
		Topic: topic,
		Key:   eventKey(event),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, msg); err != nil {
		eventsPublished.WithLabelValues(event.Type, "error").Inc()
		mb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to publish event to Kafka")
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}
	eventsPublished.WithLabelValues(event.Type, "ok").Inc()

	mb.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      topic,
	}).Debug("Event published to Kafka")
	return nil
}

// Consume reads events until ctx is cancelled. Each event is retried with
// exponential backoff; events that still fail go to the dead letter topic.
// Offsets are committed only after an event is handled or dead-lettered.
func (mb *MessageBus) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := mb.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			mb.logger.WithError(err).WithField("offset", msg.Offset).Error("Failed to unmarshal event, dead-lettering")
			if dlqErr := mb.sendToDLQ(ctx, msg.Value, msg.Topic, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		} else if err := mb.processWithRetry(ctx, &event, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to process event after retries")
			if dlqErr := mb.sendToDLQ(ctx, msg.Value, msg.Topic, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		}

		if err := mb.reader.CommitMessages(ctx, msg); err != nil {
			mb.logger.WithError(err).Warn("Failed to commit Kafka offset")
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event *Event, handler Handler) error {
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.ID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying event processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		err := handler(ctx, event)
		if err == nil {
			eventsConsumed.WithLabelValues(event.Type, "ok").Inc()
			return nil
		}

		mb.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": event.ID,
			"attempt":  attempt,
		}).Warn("Event processing failed")

		if attempt == mb.maxRetries {
			eventsConsumed.WithLabelValues(event.Type, "error").Inc()
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, payload []byte, originalTopic string, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(payload),
		"original_topic":   originalTopic,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}
	if !json.Valid(payload) {
		dlqMessage["original_message"] = string(payload)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := kafka.Message{
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(originalTopic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}
	if err := mb.dlqWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	eventsDeadLettered.Inc()
	mb.logger.WithFields(logrus.Fields{
		"topic": originalTopic,
		"error": originalError.Error(),
	}).Warn("Message sent to DLQ")
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}

// GetMetrics returns consumer statistics for the health endpoint.
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
