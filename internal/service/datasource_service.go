package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chart-gateway/internal/database"
	"chart-gateway/internal/model"
	"chart-gateway/internal/repository"
)

// ErrInvalidDataSource is returned for a data source definition that cannot be used
var ErrInvalidDataSource = errors.New("invalid data source")

type DataSourceService interface {
	CreateDataSource(ctx context.Context, req *CreateDataSourceRequest) (*model.DataSource, error)
	GetDataSource(ctx context.Context, name string) (*model.DataSource, error)
	ListDataSources(ctx context.Context, req *ListDataSourcesRequest) (*ListDataSourcesResponse, error)
	UpdateDataSource(ctx context.Context, name string, req *UpdateDataSourceRequest) (*model.DataSource, error)
	DeleteDataSource(ctx context.Context, name string) error
	ActivateDataSource(ctx context.Context, name string) error
	DeactivateDataSource(ctx context.Context, name string) error
	TestDataSource(ctx context.Context, name string) (*database.HealthCheckResult, error)
	GetDataSourceStats(ctx context.Context) (*DataSourceStatsResponse, error)
}

// PasswordSealer encrypts passwords before they are stored
type PasswordSealer interface {
	EncryptPassword(password string) (string, error)
}

// SourceReleaser drops runtime state held for a data source
type SourceReleaser interface {
	CloseSource(name string) error
}

// SchemaInvalidator drops cached schema of a data source
type SchemaInvalidator interface {
	InvalidateSource(source string)
}

type dataSourceService struct {
	repo    repository.DataSourceRepository
	checker *database.HealthChecker
	pool    SourceReleaser
	schema  SchemaInvalidator
	sealer  PasswordSealer
	logger  *slog.Logger
}

type CreateDataSourceRequest struct {
	Name   string                 `json:"name" validate:"required,min=1,max=128"`
	Type   model.DatabaseType     `json:"type" validate:"required"`
	Config model.DataSourceConfig `json:"config"`
}

type UpdateDataSourceRequest struct {
	Config *model.DataSourceConfig `json:"config,omitempty"`
	Status *model.DataSourceStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive error"`
}

type ListDataSourcesRequest struct {
	Status model.DataSourceStatus `form:"status" json:"status,omitempty"`
	Type   model.DatabaseType     `form:"type" json:"type,omitempty"`
	Limit  int                    `form:"limit" json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Offset int                    `form:"offset" json:"offset,omitempty" validate:"omitempty,min=0"`
}

type ListDataSourcesResponse struct {
	DataSources []*model.DataSource `json:"dataSources"`
	Total       int64               `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

type DataSourceStatsResponse struct {
	Total    int64                            `json:"total"`
	ByStatus map[model.DataSourceStatus]int64 `json:"byStatus"`
}

// DataSourceServiceOptions carries the collaborators of a DataSourceService.
// Every field except Repo is optional.
type DataSourceServiceOptions struct {
	Repo    repository.DataSourceRepository
	Checker *database.HealthChecker
	Pool    SourceReleaser
	Schema  SchemaInvalidator
	Sealer  PasswordSealer
	Logger  *slog.Logger
}

// NewDataSourceService creates a new instance of DataSourceService
func NewDataSourceService(opts DataSourceServiceOptions) DataSourceService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &dataSourceService{
		repo:    opts.Repo,
		checker: opts.Checker,
		pool:    opts.Pool,
		schema:  opts.Schema,
		sealer:  opts.Sealer,
		logger:  opts.Logger,
	}
}

func (s *dataSourceService) CreateDataSource(ctx context.Context, req *CreateDataSourceRequest) (*model.DataSource, error) {
	if !model.IsValidDatabaseType(string(req.Type)) {
		return nil, fmt.Errorf("%w: unsupported database type %q", ErrInvalidDataSource, req.Type)
	}

	config, err := s.prepareConfig(req.Type, req.Config)
	if err != nil {
		return nil, err
	}

	dataSource := &model.DataSource{
		Name:   req.Name,
		Type:   req.Type,
		Config: config,
		Status: model.DataSourceStatusActive,
	}

	if err := s.repo.Create(ctx, dataSource); err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}

	s.logger.Info("data source created", "datasource", dataSource.Name, "type", dataSource.Type)
	return dataSource, nil
}

func (s *dataSourceService) GetDataSource(ctx context.Context, name string) (*model.DataSource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidDataSource)
	}

	dataSource, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	return dataSource, nil
}

func (s *dataSourceService) ListDataSources(ctx context.Context, req *ListDataSourcesRequest) (*ListDataSourcesResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	dataSources, total, err := s.repo.List(ctx, repository.DataSourceFilter{
		Status: req.Status,
		Type:   req.Type,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	return &ListDataSourcesResponse{
		DataSources: dataSources,
		Total:       total,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}, nil
}

func (s *dataSourceService) UpdateDataSource(ctx context.Context, name string, req *UpdateDataSourceRequest) (*model.DataSource, error) {
	dataSource, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	if req.Config != nil {
		config, err := s.prepareConfig(dataSource.Type, *req.Config)
		if err != nil {
			return nil, err
		}
		dataSource.Config = config
	}
	if req.Status != nil {
		dataSource.Status = *req.Status
	}

	if err := s.repo.Update(ctx, dataSource); err != nil {
		return nil, fmt.Errorf("failed to update data source: %w", err)
	}

	s.release(name)
	return dataSource, nil
}

func (s *dataSourceService) DeleteDataSource(ctx context.Context, name string) error {
	if err := s.repo.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}

	s.release(name)
	s.logger.Info("data source deleted", "datasource", name)
	return nil
}

func (s *dataSourceService) ActivateDataSource(ctx context.Context, name string) error {
	if err := s.repo.SetStatus(ctx, name, model.DataSourceStatusActive); err != nil {
		return fmt.Errorf("failed to activate data source: %w", err)
	}

	return nil
}

func (s *dataSourceService) DeactivateDataSource(ctx context.Context, name string) error {
	if err := s.repo.SetStatus(ctx, name, model.DataSourceStatusInactive); err != nil {
		return fmt.Errorf("failed to deactivate data source: %w", err)
	}

	s.release(name)
	return nil
}

// TestDataSource opens a throwaway connection with the stored definition.
// A failed test marks the data source as errored; a passing one reactivates it.
func (s *dataSourceService) TestDataSource(ctx context.Context, name string) (*database.HealthCheckResult, error) {
	if s.checker == nil {
		return nil, errors.New("connectivity checks are not configured")
	}

	dataSource, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	result := s.checker.CheckDataSourceConnectivity(ctx, dataSource)

	status := model.DataSourceStatusActive
	if result.Status != "healthy" {
		status = model.DataSourceStatusError
	}
	if dataSource.Status != model.DataSourceStatusInactive && dataSource.Status != status {
		if err := s.repo.SetStatus(ctx, name, status); err != nil {
			s.logger.Warn("failed to record data source status", "datasource", name, "error", err)
		}
	}

	return result, nil
}

func (s *dataSourceService) GetDataSourceStats(ctx context.Context) (*DataSourceStatsResponse, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get data source stats: %w", err)
	}

	total := int64(0)
	for _, count := range counts {
		total += count
	}

	return &DataSourceStatsResponse{
		Total:    total,
		ByStatus: counts,
	}, nil
}

// prepareConfig validates a connection definition and seals a plaintext
// password when a vault is configured
func (s *dataSourceService) prepareConfig(dbType model.DatabaseType, config model.DataSourceConfig) (model.DataSourceConfig, error) {
	if s.checker != nil {
		if err := s.checker.ValidateDataSourceConfiguration(&config, dbType); err != nil {
			return config, fmt.Errorf("%w: %v", ErrInvalidDataSource, err)
		}
	}

	if s.sealer != nil && config.Password != "" &&
		(config.AuthMode == "" || config.AuthMode == model.AuthModePassword) {
		sealed, err := s.sealer.EncryptPassword(config.Password)
		if err != nil {
			return config, fmt.Errorf("failed to encrypt password: %w", err)
		}
		config.Password = sealed
		config.AuthMode = model.AuthModeEncrypted
	}

	return config, nil
}

// release closes the pool and drops cached schema so the next query picks
// up the new definition
func (s *dataSourceService) release(name string) {
	if s.pool != nil {
		if err := s.pool.CloseSource(name); err != nil {
			s.logger.Warn("failed to close data source pool", "datasource", name, "error", err)
		}
	}
	if s.schema != nil {
		s.schema.InvalidateSource(name)
	}
}
