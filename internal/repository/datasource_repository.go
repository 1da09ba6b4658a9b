package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chart-gateway/internal/model"
)

type dataSourceRepository struct {
	db *gorm.DB
}

// NewDataSourceRepository creates a gorm-backed DataSourceRepository
func NewDataSourceRepository(db *gorm.DB) DataSourceRepository {
	return &dataSourceRepository{db: db}
}

func (r *dataSourceRepository) Create(ctx context.Context, dataSource *model.DataSource) error {
	err := r.db.WithContext(ctx).Create(dataSource).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDataSourceExists
	}
	return err
}

func (r *dataSourceRepository) GetByName(ctx context.Context, name string) (*model.DataSource, error) {
	var dataSource model.DataSource
	result := r.db.WithContext(ctx).Where("name = ?", name).First(&dataSource)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDataSourceNotFound
		}
		return nil, result.Error
	}
	return &dataSource, nil
}

func (r *dataSourceRepository) List(ctx context.Context, filter DataSourceFilter) ([]*model.DataSource, int64, error) {
	var dataSources []*model.DataSource
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DataSource{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := query.Limit(filter.Limit).Offset(filter.Offset).Order("name ASC").Find(&dataSources)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return dataSources, total, nil
}

func (r *dataSourceRepository) Update(ctx context.Context, dataSource *model.DataSource) error {
	return r.db.WithContext(ctx).Save(dataSource).Error
}

func (r *dataSourceRepository) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&model.DataSource{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDataSourceNotFound
	}
	return nil
}

func (r *dataSourceRepository) SetStatus(ctx context.Context, name string, status model.DataSourceStatus) error {
	result := r.db.WithContext(ctx).Model(&model.DataSource{}).Where("name = ?", name).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDataSourceNotFound
	}
	return nil
}

func (r *dataSourceRepository) CountByStatus(ctx context.Context) (map[model.DataSourceStatus]int64, error) {
	var results []struct {
		Status model.DataSourceStatus
		Count  int64
	}

	err := r.db.WithContext(ctx).Model(&model.DataSource{}).Select("status, COUNT(*) as count").Group("status").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.DataSourceStatus]int64)
	for _, result := range results {
		counts[result.Status] = result.Count
	}
	return counts, nil
}
