package gdpubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/gdpubsub/model"
)

// QueueReader serves message batches to the delivery task of a sub_key.
//
// Each call claims a batch atomically: the backend locks the candidate rows,
// marks them in-flight and only then returns them, so two concurrent readers
// for the same sub_key never see the same message. A reader is bound to one
// server process; requests for sub_keys owned elsewhere fail closed.
type QueueReader struct {
	backend  QueueBackend
	registry *Registry
	logger   Logger
	serverID int64
}

// QueueReaderOption configures a QueueReader.
type QueueReaderOption func(*QueueReader) error

// NewQueueReader creates a new QueueReader with the provided options.
//
// Required options:
//   - WithReaderBackend: queue backend
//   - WithReaderRegistry: owner resolution and interaction tracking
//   - WithReaderServer: local server id
//   - WithReaderLogger: logger instance
func NewQueueReader(opts ...QueueReaderOption) (*QueueReader, error) {
	r := &QueueReader{}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply queue reader option", err)
		}
	}

	if r.backend == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueBackend is required (use WithReaderBackend)")
	}
	if r.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "Registry is required (use WithReaderRegistry)")
	}
	if r.serverID == 0 {
		return nil, NewError(ErrCodeConfiguration, "server id is required (use WithReaderServer)")
	}
	if r.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithReaderLogger)")
	}

	return r, nil
}

// WithReaderBackend sets the queue backend.
func WithReaderBackend(backend QueueBackend) QueueReaderOption {
	return func(r *QueueReader) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		r.backend = backend
		return nil
	}
}

// WithReaderRegistry sets the registry.
func WithReaderRegistry(registry *Registry) QueueReaderOption {
	return func(r *QueueReader) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		r.registry = registry
		return nil
	}
}

// WithReaderServer sets the local server id the reader serves.
func WithReaderServer(serverID int64) QueueReaderOption {
	return func(r *QueueReader) error {
		if serverID == 0 {
			return fmt.Errorf("server id cannot be zero")
		}
		r.serverID = serverID
		return nil
	}
}

// WithReaderLogger sets the logger instance.
func WithReaderLogger(logger Logger) QueueReaderOption {
	return func(r *QueueReader) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// FetchBatch claims up to batchSize pending, non-expired messages for the
// sub_key, ordered by priority (desc), then ext_pub_time, then pub_time
// (asc). The claimed rows move to WAITING_FOR_CONFIRMATION before they are
// returned. Expired messages are silently excluded - expiry is not an error.
//
// Fails closed with ErrNotFound when no delivery task is registered for the
// sub_key and with ErrStaleOwner when it is registered to another server.
func (r *QueueReader) FetchBatch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error) {
	if batchSize <= 0 {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("batch size must be > 0, got %d", batchSize))
	}

	owner, err := r.registry.ResolveOwner(ctx, subKey)
	if err != nil {
		return nil, err
	}
	if owner.ServerID != r.serverID {
		return nil, ErrStaleOwner
	}

	msgs, err := r.backend.Fetch(ctx, subKey, batchSize, now)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to fetch batch", err)
	}

	if err := r.registry.Touch(ctx, subKey, now); err != nil {
		r.logger.Warnf("Failed to update last interaction time for %s: %v", subKey, err)
	}

	if len(msgs) > 0 {
		r.logger.Debugf("Fetched %d messages for %s", len(msgs), subKey)
	}

	return msgs, nil
}

// QueueDepth returns the live backlog for a sub_key: messages that are not
// staged, not expired and not yet delivered.
func (r *QueueReader) QueueDepth(ctx context.Context, subKey string, now time.Time) (int, error) {
	depth, err := r.backend.Depth(ctx, subKey, now)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to compute queue depth", err)
	}
	return depth, nil
}
