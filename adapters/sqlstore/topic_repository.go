package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/relica"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
)

// TopicRepository implements gdpubsub.TopicRepository using Relica.
type TopicRepository struct {
	db *relica.DB
}

// NewTopicRepository creates a new TopicRepository.
func NewTopicRepository(sqlDB *sql.DB, driverName string) *TopicRepository {
	return &TopicRepository{
		db: relica.WrapDB(sqlDB, driverName),
	}
}

func (r *TopicRepository) tableName() string {
	return tablePrefix + "topic"
}

// Load retrieves a topic by ID.
func (r *TopicRepository) Load(ctx context.Context, id int64) (model.Topic, error) {
	var topic model.Topic

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("id = ?", id).
		WithContext(ctx).
		One(&topic)

	if errors.Is(err, sql.ErrNoRows) {
		return topic, gdpubsub.ErrNotFound
	}
	if err != nil {
		return topic, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to load topic", err)
	}

	return topic, nil
}

// Save creates or updates a topic.
func (r *TopicRepository) Save(ctx context.Context, m model.Topic) (model.Topic, error) {
	if m.ID == 0 {
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to insert topic", err)
		}
		return m, nil
	}

	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update topic", err)
	}

	return m, nil
}

// GetByName retrieves a topic by its unique name.
func (r *TopicRepository) GetByName(ctx context.Context, name string) (model.Topic, error) {
	var topic model.Topic

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("name = ?", name).
		WithContext(ctx).
		One(&topic)

	if errors.Is(err, sql.ErrNoRows) {
		return topic, gdpubsub.ErrNotFound
	}
	if err != nil {
		return topic, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to find topic by name", err)
	}

	return topic, nil
}

// FindActive retrieves all active topics.
func (r *TopicRepository) FindActive(ctx context.Context) ([]model.Topic, error) {
	var topics []model.Topic

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("is_active = ?", true).
		OrderBy("name ASC").
		WithContext(ctx).
		All(&topics)

	if err != nil {
		return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to find active topics", err)
	}

	if len(topics) == 0 {
		return nil, gdpubsub.ErrNotFound
	}

	return topics, nil
}
