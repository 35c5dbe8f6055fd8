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

// SubscriptionRepository implements gdpubsub.SubscriptionRepository.
// CRUD goes through Relica; the fan-out join and the idle-subscription
// delete use database/sql directly.
type SubscriptionRepository struct {
	db       *relica.DB
	sqlDB    *sql.DB
	dialect  dialect
	logger   gdpubsub.Logger
	retryCfg retry.Config
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string, logger gdpubsub.Logger, retryCfg retry.Config) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:       relica.WrapDB(sqlDB, driverName),
		sqlDB:    sqlDB,
		dialect:  dialect{driverName: driverName},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

func (r *SubscriptionRepository) tableName() string {
	return tablePrefix + "subscription"
}

// Load retrieves a subscription by ID.
func (r *SubscriptionRepository) Load(ctx context.Context, id int64) (model.Subscription, error) {
	var sub model.Subscription

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("id = ?", id).
		WithContext(ctx).
		One(&sub)

	if errors.Is(err, sql.ErrNoRows) {
		return sub, gdpubsub.ErrNotFound
	}
	if err != nil {
		return sub, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to load subscription", err)
	}

	return sub, nil
}

// GetBySubKey retrieves a subscription by its sub_key.
func (r *SubscriptionRepository) GetBySubKey(ctx context.Context, subKey string) (model.Subscription, error) {
	var sub model.Subscription

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("sub_key = ?", subKey).
		WithContext(ctx).
		One(&sub)

	if errors.Is(err, sql.ErrNoRows) {
		return sub, gdpubsub.ErrNotFound
	}
	if err != nil {
		return sub, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to find subscription by sub_key", err)
	}

	return sub, nil
}

// Save creates or updates a subscription.
func (r *SubscriptionRepository) Save(ctx context.Context, m model.Subscription) (model.Subscription, error) {
	if m.ID == 0 {
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to insert subscription", err)
		}
		return m, nil
	}

	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update subscription", err)
	}

	return m, nil
}

// FindActiveByTopic retrieves the active, non-internal subscriptions of a
// topic whose endpoints are themselves active and non-internal.
func (r *SubscriptionRepository) FindActiveByTopic(ctx context.Context, topicID int64) ([]model.Subscription, error) {
	query := r.dialect.rebind(fmt.Sprintf(`
		SELECT s.id, s.sub_key, s.topic_id, s.endpoint_id, s.cluster_id, s.server_id,
		       s.is_durable, s.has_gd, s.is_internal, s.active_status,
		       s.last_interaction_time, s.created_at
		FROM %s s
		JOIN %s e ON e.id = s.endpoint_id
		WHERE s.topic_id = ?
		  AND s.active_status = ?
		  AND s.is_internal = FALSE
		  AND e.is_active = TRUE
		  AND e.is_internal = FALSE
		ORDER BY s.id ASC`,
		r.tableName(), tablePrefix+"endpoint"))

	rows, err := r.sqlDB.QueryContext(ctx, query, topicID, model.SubscriptionActive)
	if err != nil {
		return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to find subscriptions by topic", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(
			&s.ID, &s.SubKey, &s.TopicID, &s.EndpointID, &s.ClusterID, &s.ServerID,
			&s.IsDurable, &s.HasGD, &s.IsInternal, &s.ActiveStatus,
			&s.LastInteractionTime, &s.CreatedAt,
		); err != nil {
			return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to scan subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to iterate subscriptions", err)
	}

	if len(subs) == 0 {
		return nil, gdpubsub.ErrNotFound
	}

	return subs, nil
}

// UpdateLastInteraction sets last_interaction_time for a sub_key.
func (r *SubscriptionRepository) UpdateLastInteraction(ctx context.Context, subKey string, now time.Time) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"last_interaction_time": now,
		}).
		Where("sub_key = ?", subKey).
		WithContext(ctx).
		Execute()

	if err != nil {
		return gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update last interaction time", err)
	}

	return nil
}

// Deactivate stops a subscription without deleting it.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, subKey string) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"active_status": model.SubscriptionStopped,
		}).
		Where("sub_key = ?", subKey).
		WithContext(ctx).
		Execute()

	if err != nil {
		return gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to deactivate subscription", err)
	}

	return nil
}

// DeleteIdle removes non-internal subscriptions idle past the horizon - or
// never used at all - together with their remaining queue rows. Both deletes
// run in one transaction under the deadlock-retry policy.
func (r *SubscriptionRepository) DeleteIdle(ctx context.Context, horizon time.Time) (int, error) {
	idleFilter := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE is_internal = FALSE
		  AND (last_interaction_time IS NULL OR last_interaction_time < ?)`,
		r.tableName())

	deleteQueue := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE subscription_id IN (%s)", tablePrefix+"enq_msg", idleFilter))
	deleteSubs := r.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE is_internal = FALSE AND (last_interaction_time IS NULL OR last_interaction_time < ?)",
		r.tableName()))

	deleted := 0
	err := retry.Do(ctx, r.logger, "delete_idle_subscriptions", r.retryCfg, func() error {
		tx, err := r.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, deleteQueue, horizon); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, deleteSubs, horizon)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(n)

		return tx.Commit()
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to delete idle subscriptions", err)
	}

	return deleted, nil
}
