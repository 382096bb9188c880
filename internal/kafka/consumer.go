package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/store"
)

const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"

	// OutcomeRejected marks a payment outcome the reservation could not take,
	// such as a payment that settled after its hold expired.
	OutcomeRejected = "rejected"
)

// PaymentOutcome is the message the payment service publishes once a
// checkout's payment settles.
type PaymentOutcome struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id,omitempty"`
	Status        string `json:"status"`
}

// PaymentRejection is published on TopicReservationOutcome when a payment
// outcome cannot be applied, so the payment side can refund or void it.
type PaymentRejection struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id,omitempty"`
	PaymentStatus string `json:"payment_status"`
	State         string `json:"state"`
	Reason        string `json:"reason"`
}

// ReservationFinalizer is the part of the reservation manager payments drive.
type ReservationFinalizer interface {
	Get(ctx context.Context, reservationID string) (*models.Reservation, error)
	Confirm(ctx context.Context, reservationID string) (*models.Reservation, error)
	Cancel(ctx context.Context, reservationID string) (*models.Reservation, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer applies payment outcomes to reservations. A message is committed
// once its outcome is applied or known to be unapplicable; transient store
// failures are retried until the context ends.
type Consumer struct {
	reader     messageReader
	finalizer  ReservationFinalizer
	rejections Publisher
	logger     *logger.Logger
	maxBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group.
// Outcomes that cannot be applied are reported through rejections.
func NewConsumer(brokers []string, topic, groupID string, f ReservationFinalizer, rejections Publisher, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, f, rejections, log)
}

func newConsumer(r messageReader, f ReservationFinalizer, rejections Publisher, log *logger.Logger) *Consumer {
	return &Consumer{reader: r, finalizer: f, rejections: rejections, logger: log, maxBackoff: 30 * time.Second}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("KAFKA", "Payment outcome consumer started")
	fetchBackoff := c.newBackoff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := fetchBackoff.NextBackOff()
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message, retrying in %s: %v", wait, err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		fetchBackoff.Reset()

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// newBackoff grows without limit in time but never waits longer than
// maxBackoff between attempts.
func (c *Consumer) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	if b.InitialInterval > c.maxBackoff {
		b.InitialInterval = c.maxBackoff
	}
	b.Reset()
	return b
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	b := c.newBackoff()
	return backoff.RetryNotify(func() error {
		err := c.HandleMessage(ctx, msg)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("KAFKA", fmt.Sprintf("Retrying offset %d in %s: %v", msg.Offset, wait, err))
	})
}

// HandleMessage applies one payment outcome. It returns an error only when
// the outcome could not be applied for a reason worth retrying. Malformed
// messages are logged and dropped; outcomes the reservation refuses are
// published as rejections.
func (c *Consumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var outcome PaymentOutcome
	if err := json.Unmarshal(msg.Value, &outcome); err != nil {
		c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal payment outcome at offset %d: %v", msg.Offset, err))
		return nil
	}
	if outcome.ReservationID == "" {
		c.logger.Warn("KAFKA", fmt.Sprintf("Payment outcome at offset %d has no reservation id", msg.Offset))
		return nil
	}

	c.logger.LogKafka("RECEIVE", msg.Topic, fmt.Sprintf("reservation=%s status=%s", outcome.ReservationID, outcome.Status))

	var err error
	switch outcome.Status {
	case PaymentSucceeded:
		_, err = c.finalizer.Confirm(ctx, outcome.ReservationID)
	case PaymentFailed:
		_, err = c.finalizer.Cancel(ctx, outcome.ReservationID)
	default:
		c.logger.Warn("KAFKA", fmt.Sprintf("Unknown payment status %q for reservation %s", outcome.Status, outcome.ReservationID))
		return nil
	}

	if err == nil {
		return nil
	}
	if retryable(err) {
		return err
	}
	if errors.Is(err, models.ErrAlreadyFinalized) {
		applied, gerr := c.alreadyApplied(ctx, outcome)
		if gerr != nil {
			return gerr
		}
		if applied {
			c.logger.Debug("KAFKA", fmt.Sprintf("Duplicate payment %s for reservation %s ignored", outcome.Status, outcome.ReservationID))
			return nil
		}
	}
	c.logger.Warn("KAFKA", fmt.Sprintf("Payment %s for reservation %s not applied: %v", outcome.Status, outcome.ReservationID, err))
	return c.reject(ctx, outcome, err)
}

// alreadyApplied reports whether the reservation already sits in the state
// outcome would have moved it to, as after a redelivered message.
func (c *Consumer) alreadyApplied(ctx context.Context, outcome PaymentOutcome) (bool, error) {
	r, err := c.finalizer.Get(ctx, outcome.ReservationID)
	if err != nil {
		if retryable(err) {
			return false, err
		}
		return false, nil
	}
	switch outcome.Status {
	case PaymentSucceeded:
		return r.State == models.ReservationConfirmed, nil
	case PaymentFailed:
		return r.State == models.ReservationReleased, nil
	}
	return false, nil
}

// reject tells the payment side an outcome was not applied. A failed publish
// is reported as unavailable so the message is redelivered; applying the
// outcome again fails the same way and republishes.
func (c *Consumer) reject(ctx context.Context, outcome PaymentOutcome, cause error) error {
	if c.rejections == nil {
		return nil
	}
	rejection := PaymentRejection{
		ReservationID: outcome.ReservationID,
		OrderID:       outcome.OrderID,
		PaymentStatus: outcome.Status,
		State:         OutcomeRejected,
		Reason:        rejectionReason(cause),
	}
	if err := c.rejections.Publish(ctx, TopicReservationOutcome, outcome.ReservationID, rejection); err != nil {
		return fmt.Errorf("%w: publish rejection for %s: %v", models.ErrUnavailable, outcome.ReservationID, err)
	}
	c.logger.LogKafka("REJECT", TopicReservationOutcome, fmt.Sprintf("reservation=%s reason=%s", outcome.ReservationID, rejection.Reason))
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrExpired):
		return "expired"
	case errors.Is(err, models.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrEventNotSellable):
		return "event_not_sellable"
	default:
		return "rejected"
	}
}

func retryable(err error) bool {
	return errors.Is(err, models.ErrUnavailable) || store.IsTransient(err)
}
