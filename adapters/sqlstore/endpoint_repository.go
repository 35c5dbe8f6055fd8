package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/relica"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
)

// EndpointRepository implements gdpubsub.EndpointRepository using Relica.
type EndpointRepository struct {
	db *relica.DB
}

// NewEndpointRepository creates a new EndpointRepository.
func NewEndpointRepository(sqlDB *sql.DB, driverName string) *EndpointRepository {
	return &EndpointRepository{
		db: relica.WrapDB(sqlDB, driverName),
	}
}

func (r *EndpointRepository) tableName() string {
	return tablePrefix + "endpoint"
}

// Load retrieves an endpoint by ID.
func (r *EndpointRepository) Load(ctx context.Context, id int64) (model.Endpoint, error) {
	var endpoint model.Endpoint

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("id = ?", id).
		WithContext(ctx).
		One(&endpoint)

	if errors.Is(err, sql.ErrNoRows) {
		return endpoint, gdpubsub.ErrNotFound
	}
	if err != nil {
		return endpoint, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to load endpoint", err)
	}

	return endpoint, nil
}

// Save creates or updates an endpoint.
func (r *EndpointRepository) Save(ctx context.Context, m model.Endpoint) (model.Endpoint, error) {
	if m.ID == 0 {
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to insert endpoint", err)
		}
		return m, nil
	}

	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update endpoint", err)
	}

	return m, nil
}

// GetByName retrieves an endpoint by its unique name.
func (r *EndpointRepository) GetByName(ctx context.Context, name string) (model.Endpoint, error) {
	var endpoint model.Endpoint

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("name = ?", name).
		WithContext(ctx).
		One(&endpoint)

	if errors.Is(err, sql.ErrNoRows) {
		return endpoint, gdpubsub.ErrNotFound
	}
	if err != nil {
		return endpoint, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to find endpoint by name", err)
	}

	return endpoint, nil
}

// UpdateDeliveryTime records the last successful delivery to an endpoint.
func (r *EndpointRepository) UpdateDeliveryTime(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"last_deliv_time": now,
			"last_seen":       now,
		}).
		Where("id = ?", id).
		WithContext(ctx).
		Execute()

	if err != nil {
		return gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to update delivery time", err)
	}

	return nil
}
