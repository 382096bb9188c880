package kafka

import (
	"context"
	"fmt"
	"time"

	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// Notifier forwards committed domain events to Kafka. Publish failures are
// logged and dropped.
type Notifier struct {
	publisher Publisher
	logger    *logger.Logger
}

var _ notify.Notifier = (*Notifier)(nil)

func NewNotifier(p Publisher, log *logger.Logger) *Notifier {
	return &Notifier{publisher: p, logger: log}
}

func (n *Notifier) StatusChanged(ctx context.Context, change notify.StatusChanged) {
	n.publish(ctx, TopicEventStatus, change.EventID, change)
}

func (n *Notifier) AvailabilityChanged(ctx context.Context, a models.Availability) {
	n.publish(ctx, TopicEventAvailability, a.EventID, a)
}

func (n *Notifier) ReservationFinalized(ctx context.Context, outcome notify.ReservationFinalized) {
	n.publish(ctx, TopicReservationOutcome, outcome.EventID, outcome)
}

func (n *Notifier) publish(ctx context.Context, topic, key string, v any) {
	// the request may already be finished by the time hooks run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.publisher.Publish(ctx, topic, key, v); err != nil {
		n.logger.Error("KAFKA", fmt.Sprintf("Failed to publish to %s for %s: %v", topic, key, err))
		return
	}
	n.logger.LogKafka("PUBLISH", topic, key)
}
