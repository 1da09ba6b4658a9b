package repository

import (
	"context"

	"chart-gateway/internal/model"
)

// DataSourceFilter narrows a data source listing
type DataSourceFilter struct {
	Status model.DataSourceStatus
	Type   model.DatabaseType
	Limit  int
	Offset int
}

// DataSourceRepository persists the registry of named data sources
type DataSourceRepository interface {
	// Create a new data source
	Create(ctx context.Context, dataSource *model.DataSource) error

	// GetByName retrieves a data source by its unique name
	GetByName(ctx context.Context, name string) (*model.DataSource, error)

	// List retrieves data sources matching filter and the total match count
	List(ctx context.Context, filter DataSourceFilter) ([]*model.DataSource, int64, error)

	// Update saves every field of an existing data source
	Update(ctx context.Context, dataSource *model.DataSource) error

	// Delete removes a data source by name
	Delete(ctx context.Context, name string) error

	// SetStatus changes the status of a data source by name
	SetStatus(ctx context.Context, name string, status model.DataSourceStatus) error

	// CountByStatus returns the count of data sources by status
	CountByStatus(ctx context.Context) (map[model.DataSourceStatus]int64, error)
}
