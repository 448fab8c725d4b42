package messaging

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_events_published_total",
		Help: "Domain events published by type and result",
	}, []string{"type", "result"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_events_consumed_total",
		Help: "Domain events handled by type and result",
	}, []string{"type", "result"})

	eventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comport_events_dead_lettered_total",
		Help: "Events moved to the dead letter topic",
	})
)

// LogPublisher stands in for the message bus when Kafka is disabled. Events
// are logged and, if a handler is attached, handled in-process.
type LogPublisher struct {
	logger  *logrus.Logger
	handler Handler
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Attach routes published events to h synchronously.
func (p *LogPublisher) Attach(h Handler) {
	p.handler = h
}

func (p *LogPublisher) Publish(ctx context.Context, event *Event) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"product_ids": event.ProductIDs,
	}).Debug("Event emitted")
	eventsPublished.WithLabelValues(event.Type, "ok").Inc()

	if p.handler == nil {
		return nil
	}
	if err := p.handler(ctx, event); err != nil {
		eventsConsumed.WithLabelValues(event.Type, "error").Inc()
		p.logger.WithError(err).WithField("event_id", event.ID).Warn("In-process event handling failed")
		return nil
	}
	eventsConsumed.WithLabelValues(event.Type, "ok").Inc()
	return nil
}
