package gdpubsub

import (
	"context"
	"time"

	"github.com/coregx/gdpubsub/model"
)

// TopicRepository defines the persistence interface for topics.
type TopicRepository interface {
	// Load retrieves a topic by ID.
	// Returns ErrNotFound if not found.
	Load(ctx context.Context, id int64) (model.Topic, error)

	// Save creates a new topic (if ID=0) or updates an existing one.
	// Returns the saved topic with populated ID.
	Save(ctx context.Context, m model.Topic) (model.Topic, error)

	// GetByName retrieves a topic by its unique name.
	// Returns ErrNotFound if not found.
	GetByName(ctx context.Context, name string) (model.Topic, error)

	// FindActive retrieves all active topics.
	FindActive(ctx context.Context) ([]model.Topic, error)
}

// EndpointRepository defines the persistence interface for endpoints.
type EndpointRepository interface {
	// Load retrieves an endpoint by ID.
	// Returns ErrNotFound if not found.
	Load(ctx context.Context, id int64) (model.Endpoint, error)

	// Save creates a new endpoint (if ID=0) or updates an existing one.
	Save(ctx context.Context, m model.Endpoint) (model.Endpoint, error)

	// GetByName retrieves an endpoint by its unique name.
	// Returns ErrNotFound if not found.
	GetByName(ctx context.Context, name string) (model.Endpoint, error)

	// UpdateDeliveryTime records the last successful delivery to an endpoint.
	UpdateDeliveryTime(ctx context.Context, id int64, now time.Time) error
}

// SubscriptionRepository defines the persistence interface for subscriptions.
type SubscriptionRepository interface {
	// Load retrieves a subscription by ID.
	// Returns ErrNotFound if not found.
	Load(ctx context.Context, id int64) (model.Subscription, error)

	// GetBySubKey retrieves a subscription by its sub_key.
	// Returns ErrNotFound if not found.
	GetBySubKey(ctx context.Context, subKey string) (model.Subscription, error)

	// Save creates a new subscription (if ID=0) or updates an existing one.
	Save(ctx context.Context, m model.Subscription) (model.Subscription, error)

	// FindActiveByTopic retrieves the active, non-internal subscriptions of a
	// topic - the fan-out set. Internal endpoints are excluded by a join.
	FindActiveByTopic(ctx context.Context, topicID int64) ([]model.Subscription, error)

	// UpdateLastInteraction sets last_interaction_time for a sub_key.
	UpdateLastInteraction(ctx context.Context, subKey string, now time.Time) error

	// Deactivate stops a subscription without deleting it.
	Deactivate(ctx context.Context, subKey string) error

	// DeleteIdle removes non-internal subscriptions whose
	// last_interaction_time is older than the horizon or was never set,
	// together with their remaining queue rows. Returns the number of
	// subscriptions removed.
	DeleteIdle(ctx context.Context, horizon time.Time) (int, error)
}

// MessageRepository defines the persistence interface for published messages.
type MessageRepository interface {
	// GetByPubMsgID retrieves a message by its publication id.
	// Returns ErrNotFound if not found.
	GetByPubMsgID(ctx context.Context, pubMsgID string) (model.Message, error)

	// DeleteUnreferenced removes messages that were fanned out
	// (is_in_sub_queue=true) and have no remaining queue rows - every
	// subscriber has either received its copy or never will.
	DeleteUnreferenced(ctx context.Context) (int, error)

	// DeleteWithoutSubscribers removes messages belonging to topics that
	// have no subscriptions at all and were never fanned out.
	DeleteWithoutSubscribers(ctx context.Context) (int, error)

	// DeleteExpired removes messages past their expiration_time regardless
	// of delivery state.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// DeleteOlderThan removes a topic's messages published before the
	// horizon - the per-topic retention policy.
	DeleteOlderThan(ctx context.Context, topicID int64, horizon time.Time) (int, error)
}

// SweepResult reports the outcome of a delivery-timeout sweep.
type SweepResult struct {
	// Reverted is the number of in-flight rows put back in the pending state.
	Reverted int

	// DeadLettered is the number of rows moved to TO_DELETE because their
	// delivery count was exhausted.
	DeadLettered int
}

// QueueRepository defines the persistence interface for per-subscriber
// delivery records. All mutating operations run inside store transactions
// wrapped by the deadlock-retry policy - a Deadlock error never escapes.
type QueueRepository interface {
	// FetchBatch atomically selects up to batchSize pending, non-expired
	// rows for the sub_key under a row lock, marks them in-flight and
	// returns the joined message bodies ordered by priority (desc),
	// ext_pub_time and pub_time (asc). Two concurrent calls for the same
	// sub_key never return overlapping messages.
	FetchBatch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error)

	// Ack marks the given in-flight messages DELIVERED, scoped strictly by
	// sub_key and the id list. Acking an already-delivered or missing row
	// is a no-op. Returns the number of rows actually confirmed.
	Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error)

	// Reject returns in-flight messages to the pending state so the next
	// fetch re-offers them. The delivery count is kept.
	Reject(ctx context.Context, subKey string, pubMsgIDs []string) (int, error)

	// MarkToDeleteBySubKey moves all of a sub_key's rows to TO_DELETE,
	// whatever their current status. Used by unsubscribe.
	MarkToDeleteBySubKey(ctx context.Context, subKey string) (int, error)

	// SweepTimedOut reverts rows stuck in WAITING_FOR_CONFIRMATION past the
	// delivery timeout back to INITIALIZED, and dead-letters rows whose
	// delivery count reached maxDeliveryCount.
	SweepTimedOut(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (SweepResult, error)

	// Depth returns the live backlog for a sub_key: rows that are not
	// staged, not expired and not delivered.
	Depth(ctx context.Context, subKey string, now time.Time) (int, error)

	// DeleteDelivered removes rows with delivery_status=DELIVERED.
	DeleteDelivered(ctx context.Context) (int, error)

	// DeleteMarkedToDelete removes rows with delivery_status=TO_DELETE.
	DeleteMarkedToDelete(ctx context.Context) (int, error)

	// DeleteExpired removes rows whose message is past its expiration_time.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
