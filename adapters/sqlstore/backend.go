package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
	"github.com/coregx/gdpubsub/retry"
)

// Backend implements gdpubsub.QueueBackend on the relational store. The
// publish fan-out is its own transactional path; everything else delegates to
// the queue repository.
type Backend struct {
	sqlDB    *sql.DB
	queue    *QueueRepository
	dialect  dialect
	logger   gdpubsub.Logger
	retryCfg retry.Config
}

// NewBackend creates a new relational queue backend.
func NewBackend(sqlDB *sql.DB, driverName string, logger gdpubsub.Logger, retryCfg retry.Config) *Backend {
	return &Backend{
		sqlDB:    sqlDB,
		queue:    NewQueueRepository(sqlDB, driverName, logger, retryCfg),
		dialect:  dialect{driverName: driverName},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

// Publish persists the message and fans it out to the given subscriptions in
// one transaction. A message with no subscriptions is still persisted; it
// stays out of any queue and is picked up later by cleanup.
func (b *Backend) Publish(ctx context.Context, msg model.Message, subs []model.Subscription) (int, error) {
	insertMessage := b.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (pub_msg_id, topic_id, cluster_id, pub_correl_id, data,
		                priority, pub_time, ext_pub_time, expiration,
		                expiration_time, is_in_sub_queue, has_gd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tablePrefix+"message"))

	insertQueueRow := b.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (pub_msg_id, subscription_id, cluster_id, topic_id,
		                delivery_status, delivery_count, is_in_staging, creation_time)
		VALUES (?, ?, ?, ?, ?, 0, FALSE, ?)`,
		tablePrefix+"enq_msg"))

	enqueued := 0
	err := retry.Do(ctx, b.logger, "publish_message", b.retryCfg, func() error {
		enqueued = 0

		tx, err := b.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, insertMessage,
			msg.PubMsgID, msg.TopicID, msg.ClusterID, msg.PubCorrelID, msg.Data,
			msg.Priority, msg.PubTime, msg.ExtPubTime, msg.Expiration,
			msg.ExpirationTime, len(subs) > 0, msg.HasGD,
		); err != nil {
			return err
		}

		for _, sub := range subs {
			if _, err := tx.ExecContext(ctx, insertQueueRow,
				msg.PubMsgID, sub.ID, msg.ClusterID, msg.TopicID,
				model.StatusInitialized, msg.PubTime,
			); err != nil {
				return err
			}
			enqueued++
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to publish message", err)
	}

	return enqueued, nil
}

// Fetch claims a batch of pending messages for the sub_key.
func (b *Backend) Fetch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error) {
	return b.queue.FetchBatch(ctx, subKey, batchSize, now)
}

// Ack confirms delivery of the given messages for the sub_key.
func (b *Backend) Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error) {
	return b.queue.Ack(ctx, subKey, pubMsgIDs, now)
}

// Reject returns in-flight messages to the pending queue.
func (b *Backend) Reject(ctx context.Context, subKey string, pubMsgIDs []string, _ time.Time) error {
	_, err := b.queue.Reject(ctx, subKey, pubMsgIDs)
	return err
}

// ExpireSweep reverts timed-out in-flight messages and dead-letters those
// that exhausted their delivery count.
func (b *Backend) ExpireSweep(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (gdpubsub.SweepResult, error) {
	return b.queue.SweepTimedOut(ctx, timeout, maxDeliveryCount, now)
}

// Depth returns the live backlog for a sub_key.
func (b *Backend) Depth(ctx context.Context, subKey string, now time.Time) (int, error) {
	return b.queue.Depth(ctx, subKey, now)
}

// Purge discards everything queued for a sub_key by marking it TO_DELETE;
// cleanup removes the rows later.
func (b *Backend) Purge(ctx context.Context, subKey string) (int, error) {
	return b.queue.MarkToDeleteBySubKey(ctx, subKey)
}
