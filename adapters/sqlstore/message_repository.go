package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/relica"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
	"github.com/coregx/gdpubsub/retry"
)

// MessageRepository implements gdpubsub.MessageRepository. Lookups go through
// Relica; the cleanup deletes are raw SQL under the deadlock-retry policy.
type MessageRepository struct {
	db       *relica.DB
	sqlDB    *sql.DB
	dialect  dialect
	logger   gdpubsub.Logger
	retryCfg retry.Config
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(sqlDB *sql.DB, driverName string, logger gdpubsub.Logger, retryCfg retry.Config) *MessageRepository {
	return &MessageRepository{
		db:       relica.WrapDB(sqlDB, driverName),
		sqlDB:    sqlDB,
		dialect:  dialect{driverName: driverName},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

func (r *MessageRepository) tableName() string {
	return tablePrefix + "message"
}

// GetByPubMsgID retrieves a message by its publication id.
func (r *MessageRepository) GetByPubMsgID(ctx context.Context, pubMsgID string) (model.Message, error) {
	var msg model.Message

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("pub_msg_id = ?", pubMsgID).
		WithContext(ctx).
		One(&msg)

	if errors.Is(err, sql.ErrNoRows) {
		return msg, gdpubsub.ErrNotFound
	}
	if err != nil {
		return msg, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to load message", err)
	}

	return msg, nil
}

// DeleteUnreferenced removes fanned-out messages that no queue row points to
// any longer.
func (r *MessageRepository) DeleteUnreferenced(ctx context.Context) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE is_in_sub_queue = TRUE
		  AND pub_msg_id NOT IN (SELECT pub_msg_id FROM %s)`,
		r.tableName(), tablePrefix+"enq_msg"))

	return r.deleteRows(ctx, "delete_unreferenced_messages", query)
}

// DeleteWithoutSubscribers removes messages on topics with no subscriptions
// at all. Such messages were never fanned out and nothing will ever read them.
func (r *MessageRepository) DeleteWithoutSubscribers(ctx context.Context) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE is_in_sub_queue = FALSE
		  AND topic_id NOT IN (SELECT DISTINCT topic_id FROM %s)`,
		r.tableName(), tablePrefix+"subscription"))

	return r.deleteRows(ctx, "delete_messages_without_subscribers", query)
}

// DeleteExpired removes messages past their expiration_time.
func (r *MessageRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE expiration_time < ?", r.tableName()))

	return r.deleteRows(ctx, "delete_expired_messages", query, now)
}

// DeleteOlderThan removes a topic's messages published before the horizon.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, topicID int64, horizon time.Time) (int, error) {
	query := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE topic_id = ? AND pub_time < ?", r.tableName()))

	return r.deleteRows(ctx, "delete_messages_past_retention", query, topicID, horizon)
}

func (r *MessageRepository) deleteRows(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	deleted := 0
	err := retry.Do(ctx, r.logger, op, r.retryCfg, func() error {
		res, err := r.sqlDB.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to delete messages", err)
	}

	return deleted, nil
}
