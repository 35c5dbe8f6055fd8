package gdpubsub

import (
	"context"
	"fmt"
	"time"
)

// Acknowledger records delivery confirmations from subscribers.
//
// Acknowledgement only flips status - rows are left in place for cleanup to
// remove, so a crash between ack and cleanup loses no information.
type Acknowledger struct {
	backend  QueueBackend
	registry *Registry
	logger   Logger
}

// AcknowledgerOption configures an Acknowledger.
type AcknowledgerOption func(*Acknowledger) error

// NewAcknowledger creates a new Acknowledger with the provided options.
//
// Required options:
//   - WithAckBackend: queue backend
//   - WithAckRegistry: interaction tracking
//   - WithAckLogger: logger instance
func NewAcknowledger(opts ...AcknowledgerOption) (*Acknowledger, error) {
	a := &Acknowledger{}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply acknowledger option", err)
		}
	}

	if a.backend == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueBackend is required (use WithAckBackend)")
	}
	if a.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "Registry is required (use WithAckRegistry)")
	}
	if a.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithAckLogger)")
	}

	return a, nil
}

// WithAckBackend sets the queue backend.
func WithAckBackend(backend QueueBackend) AcknowledgerOption {
	return func(a *Acknowledger) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		a.backend = backend
		return nil
	}
}

// WithAckRegistry sets the registry.
func WithAckRegistry(registry *Registry) AcknowledgerOption {
	return func(a *Acknowledger) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		a.registry = registry
		return nil
	}
}

// WithAckLogger sets the logger instance.
func WithAckLogger(logger Logger) AcknowledgerOption {
	return func(a *Acknowledger) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		a.logger = logger
		return nil
	}
}

// Ack marks the given messages DELIVERED for the sub_key. The update is
// scoped strictly by sub_key and the message id list - there is no "ack
// everything" path. Acking an already-delivered or already-removed message
// is a no-op, not an error; the returned count says how many rows actually
// changed.
func (a *Acknowledger) Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error) {
	if len(pubMsgIDs) == 0 {
		return 0, nil
	}

	confirmed, err := a.backend.Ack(ctx, subKey, pubMsgIDs, now)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to acknowledge messages", err)
	}

	if err := a.registry.Touch(ctx, subKey, now); err != nil {
		a.logger.Warnf("Failed to update last interaction time for %s: %v", subKey, err)
	}

	a.logger.Debugf("Acknowledged %d/%d messages for %s", confirmed, len(pubMsgIDs), subKey)
	return confirmed, nil
}

// Reject returns in-flight messages to the pending queue so the next fetch
// re-offers them. Rejected messages keep their original priority and
// publication time, so they resurface near the front of the next batch.
func (a *Acknowledger) Reject(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) error {
	if len(pubMsgIDs) == 0 {
		return nil
	}

	if err := a.backend.Reject(ctx, subKey, pubMsgIDs, now); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to reject messages", err)
	}

	a.logger.Debugf("Rejected %d messages for %s", len(pubMsgIDs), subKey)
	return nil
}
