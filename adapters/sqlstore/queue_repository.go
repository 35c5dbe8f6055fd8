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

// QueueRepository implements gdpubsub.QueueRepository on raw database/sql.
// Every mutating operation runs in one transaction under the deadlock-retry
// policy; the claim path takes a row lock so concurrent readers of the same
// sub_key never see overlapping batches.
type QueueRepository struct {
	sqlDB    *sql.DB
	dialect  dialect
	logger   gdpubsub.Logger
	retryCfg retry.Config
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(sqlDB *sql.DB, driverName string, logger gdpubsub.Logger, retryCfg retry.Config) *QueueRepository {
	return &QueueRepository{
		sqlDB:    sqlDB,
		dialect:  dialect{driverName: driverName},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

func (r *QueueRepository) tableName() string {
	return tablePrefix + "enq_msg"
}

func (r *QueueRepository) messageTable() string {
	return tablePrefix + "message"
}

func (r *QueueRepository) subscriptionTable() string {
	return tablePrefix + "subscription"
}

// FetchBatch claims up to batchSize pending rows for the sub_key. The select
// and the status flip happen in the same transaction, with the candidate rows
// locked in between, so two concurrent fetches for one sub_key partition the
// backlog instead of sharing it.
func (r *QueueRepository) FetchBatch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error) {
	selectQuery := r.dialect.rebind(fmt.Sprintf(`
		SELECT q.id, m.pub_msg_id, m.pub_correl_id, s.sub_key, m.data, m.priority,
		       m.pub_time, m.ext_pub_time, q.delivery_count
		FROM %s q
		JOIN %s m ON m.pub_msg_id = q.pub_msg_id
		JOIN %s s ON s.id = q.subscription_id
		WHERE s.sub_key = ?
		  AND q.delivery_status = ?
		  AND q.is_in_staging = FALSE
		  AND m.expiration_time >= ?
		ORDER BY m.priority DESC, COALESCE(m.ext_pub_time, m.pub_time) ASC, m.pub_time ASC
		LIMIT ?%s`,
		r.tableName(), r.messageTable(), r.subscriptionTable(), r.dialect.lockClause()))

	var batch []model.DeliveryMessage
	err := retry.Do(ctx, r.logger, "fetch_batch", r.retryCfg, func() error {
		batch = nil

		tx, err := r.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, selectQuery, subKey, model.StatusInitialized, now, batchSize)
		if err != nil {
			return err
		}

		var rowIDs []int64
		for rows.Next() {
			var rowID int64
			var m model.DeliveryMessage
			if err := rows.Scan(
				&rowID, &m.PubMsgID, &m.PubCorrelID, &m.SubKey, &m.Data, &m.Priority,
				&m.PubTime, &m.ExtPubTime, &m.DeliveryCount,
			); err != nil {
				_ = rows.Close()
				return err
			}
			rowIDs = append(rowIDs, rowID)
			batch = append(batch, m)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		if len(rowIDs) == 0 {
			return tx.Commit()
		}

		updateQuery := r.dialect.rebind(fmt.Sprintf(`
			UPDATE %s
			SET delivery_status = ?, delivery_time = ?, delivery_count = delivery_count + 1
			WHERE id IN (%s)`,
			r.tableName(), placeholders(len(rowIDs))))

		args := make([]interface{}, 0, len(rowIDs)+2)
		args = append(args, model.StatusWaitingForConfirmation, now)
		for _, id := range rowIDs {
			args = append(args, id)
		}

		if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to fetch message batch", err)
	}

	// The claim counted one more attempt for every returned row.
	for i := range batch {
		batch[i].DeliveryCount++
	}

	return batch, nil
}

// Ack confirms delivery of the given messages for the sub_key. Only rows in
// WAITING_FOR_CONFIRMATION move, which makes a repeated ack a no-op.
func (r *QueueRepository) Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error) {
	if len(pubMsgIDs) == 0 {
		return 0, nil
	}

	query := r.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET delivery_status = ?, delivery_time = ?
		WHERE delivery_status = ?
		  AND subscription_id = (SELECT id FROM %s WHERE sub_key = ?)
		  AND pub_msg_id IN (%s)`,
		r.tableName(), r.subscriptionTable(), placeholders(len(pubMsgIDs))))

	args := make([]interface{}, 0, len(pubMsgIDs)+4)
	args = append(args, model.StatusDelivered, now, model.StatusWaitingForConfirmation, subKey)
	args = append(args, toAnySlice(pubMsgIDs)...)

	return r.execCount(ctx, "ack_messages", query, args...)
}

// Reject returns in-flight messages to the pending state. The delivery count
// is kept so repeated rejects still walk toward exhaustion.
func (r *QueueRepository) Reject(ctx context.Context, subKey string, pubMsgIDs []string) (int, error) {
	if len(pubMsgIDs) == 0 {
		return 0, nil
	}

	query := r.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET delivery_status = ?
		WHERE delivery_status = ?
		  AND subscription_id = (SELECT id FROM %s WHERE sub_key = ?)
		  AND pub_msg_id IN (%s)`,
		r.tableName(), r.subscriptionTable(), placeholders(len(pubMsgIDs))))

	args := make([]interface{}, 0, len(pubMsgIDs)+3)
	args = append(args, model.StatusInitialized, model.StatusWaitingForConfirmation, subKey)
	args = append(args, toAnySlice(pubMsgIDs)...)

	return r.execCount(ctx, "reject_messages", query, args...)
}

// MarkToDeleteBySubKey moves all of a sub_key's rows to TO_DELETE.
func (r *QueueRepository) MarkToDeleteBySubKey(ctx context.Context, subKey string) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET delivery_status = ?
		WHERE delivery_status != ?
		  AND subscription_id = (SELECT id FROM %s WHERE sub_key = ?)`,
		r.tableName(), r.subscriptionTable()))

	return r.execCount(ctx, "mark_queue_to_delete", query,
		model.StatusToDelete, model.StatusToDelete, subKey)
}

// SweepTimedOut handles rows stuck in WAITING_FOR_CONFIRMATION past the
// delivery timeout. Exhausted rows are dead-lettered first; the remainder
// revert to INITIALIZED for another attempt. Both updates share one
// transaction so a row is handled exactly once per sweep.
func (r *QueueRepository) SweepTimedOut(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (gdpubsub.SweepResult, error) {
	cutoff := now.Add(-timeout)

	deadLetterQuery := r.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET delivery_status = ?
		WHERE delivery_status = ?
		  AND delivery_time IS NOT NULL
		  AND delivery_time < ?
		  AND delivery_count >= ?`,
		r.tableName()))

	revertQuery := r.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET delivery_status = ?
		WHERE delivery_status = ?
		  AND delivery_time IS NOT NULL
		  AND delivery_time < ?`,
		r.tableName()))

	var result gdpubsub.SweepResult
	err := retry.Do(ctx, r.logger, "sweep_timed_out", r.retryCfg, func() error {
		result = gdpubsub.SweepResult{}

		tx, err := r.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, deadLetterQuery,
			model.StatusToDelete, model.StatusWaitingForConfirmation, cutoff, maxDeliveryCount)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		result.DeadLettered = int(n)

		res, err = tx.ExecContext(ctx, revertQuery,
			model.StatusInitialized, model.StatusWaitingForConfirmation, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		result.Reverted = int(n)

		return tx.Commit()
	})
	if err != nil {
		return gdpubsub.SweepResult{}, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to sweep timed-out messages", err)
	}

	return result, nil
}

// Depth returns the live backlog for a sub_key: pending and in-flight rows
// whose message has not expired.
func (r *QueueRepository) Depth(ctx context.Context, subKey string, now time.Time) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s q
		JOIN %s m ON m.pub_msg_id = q.pub_msg_id
		JOIN %s s ON s.id = q.subscription_id
		WHERE s.sub_key = ?
		  AND q.delivery_status IN (?, ?)
		  AND q.is_in_staging = FALSE
		  AND m.expiration_time >= ?`,
		r.tableName(), r.messageTable(), r.subscriptionTable()))

	var depth int
	err := r.sqlDB.QueryRowContext(ctx, query,
		subKey, model.StatusInitialized, model.StatusWaitingForConfirmation, now,
	).Scan(&depth)
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to count queue depth", err)
	}

	return depth, nil
}

// DeleteDelivered removes confirmed rows.
func (r *QueueRepository) DeleteDelivered(ctx context.Context) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE delivery_status = ?", r.tableName()))

	return r.execCount(ctx, "delete_delivered_queue_rows", query, model.StatusDelivered)
}

// DeleteMarkedToDelete removes dead-lettered and explicitly discarded rows.
func (r *QueueRepository) DeleteMarkedToDelete(ctx context.Context) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE delivery_status = ?", r.tableName()))

	return r.execCount(ctx, "delete_to_delete_queue_rows", query, model.StatusToDelete)
}

// DeleteExpired removes rows whose message is past its expiration_time.
func (r *QueueRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE pub_msg_id IN (SELECT pub_msg_id FROM %s WHERE expiration_time < ?)`,
		r.tableName(), r.messageTable()))

	return r.execCount(ctx, "delete_expired_queue_rows", query, now)
}

func (r *QueueRepository) execCount(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	affected := 0
	err := retry.Do(ctx, r.logger, op, r.retryCfg, func() error {
		res, err := r.sqlDB.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		affected = int(n)
		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update queue rows", err)
	}

	return affected, nil
}
