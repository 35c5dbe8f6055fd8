package gdpubsub

import (
	"context"
	"time"

	"github.com/coregx/gdpubsub/model"
)

// QueueBackend is the storage contract shared by the relational store and the
// legacy atomic-script engine. A deployment selects exactly one backend via
// configuration; the services above it do not know which one they talk to.
//
// Every operation is atomic: either a whole publish fans out or none of it
// does, and a fetched message is visible to exactly one reader.
type QueueBackend interface {
	// Publish persists the message and creates one delivery record per
	// subscription, all-or-nothing. Returns the number of records created.
	// A publish with no subscriptions still persists the message.
	Publish(ctx context.Context, msg model.Message, subs []model.Subscription) (int, error)

	// Fetch claims up to batchSize pending, non-expired messages for the
	// sub_key and marks them in-flight. See QueueRepository.FetchBatch for
	// the ordering contract.
	Fetch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error)

	// Ack confirms delivery of the given messages for the sub_key.
	// Idempotent. Returns the number of messages actually confirmed.
	Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error)

	// Reject returns in-flight messages to the head of the pending queue.
	Reject(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) error

	// ExpireSweep reverts timed-out in-flight messages and dead-letters
	// those that exhausted their delivery count.
	ExpireSweep(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (SweepResult, error)

	// Depth returns the live backlog for a sub_key.
	Depth(ctx context.Context, subKey string, now time.Time) (int, error)

	// Purge discards everything queued for a sub_key. Used by unsubscribe.
	Purge(ctx context.Context, subKey string) (int, error)
}
