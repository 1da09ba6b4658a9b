package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chart-gateway/internal/database"
	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/security"
)

// ChartService turns chart query specs into rows
type ChartService interface {
	// GetChartData validates, compiles, guards and executes spec against source
	GetChartData(ctx context.Context, source string, spec *model.QuerySpec) ([]model.ChartDataRecord, error)
	// Compile validates and compiles spec without executing it
	Compile(ctx context.Context, source string, spec *model.QuerySpec) (*query.CompiledStatement, error)
	// GetColumns returns the cached column set of a table
	GetColumns(ctx context.Context, source, table string) ([]model.TableColumn, error)
	// InvalidateSchema drops the cached columns of one table
	InvalidateSchema(source, table string)
	// InvalidateSource drops every cached table of a data source
	InvalidateSource(source string)
	// DefaultSource names the data source used when a request names none
	DefaultSource() string
	// GetStats returns per data source query metrics
	GetStats() *ChartStatsResponse
}

// ChartStatsResponse is the stats endpoint payload
type ChartStatsResponse struct {
	Global      *GlobalMetrics                `json:"global"`
	DataSources map[string]*DataSourceMetrics `json:"dataSources"`
	SchemaCache metadata.CacheStats           `json:"schemaCache"`
}

type chartService struct {
	schema        *metadata.SchemaCache
	validator     *query.Validator
	compiler      *query.Compiler
	guard         *security.SQLValidator
	executor      *Executor
	collector     *MetricsCollector
	defaultSource string
	logger        *slog.Logger
}

// ChartServiceOptions wires a chart service
type ChartServiceOptions struct {
	Schema        *metadata.SchemaCache
	Executor      *Executor
	Guard         *security.SQLValidator
	Collector     *MetricsCollector
	MaxLimit      int
	DefaultSource string
	Logger        *slog.Logger
}

// NewChartService creates a new instance of ChartService
func NewChartService(opts ChartServiceOptions) ChartService {
	if opts.Guard == nil {
		opts.Guard = security.NewSQLValidator(0)
	}
	if opts.Collector == nil {
		opts.Collector = NewMetricsCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &chartService{
		schema:        opts.Schema,
		validator:     query.NewValidator(opts.Schema, opts.MaxLimit),
		compiler:      query.NewCompiler(),
		guard:         opts.Guard,
		executor:      opts.Executor,
		collector:     opts.Collector,
		defaultSource: opts.DefaultSource,
		logger:        opts.Logger,
	}
}

func (s *chartService) GetChartData(ctx context.Context, source string, spec *model.QuerySpec) ([]model.ChartDataRecord, error) {
	startTime := time.Now()
	source = s.resolveSource(source)
	table := ""
	if spec != nil {
		table = spec.DataSource
	}

	stmt, validated, err := s.compile(ctx, source, spec)
	if err != nil {
		s.record(source, table, time.Since(startTime), 0, err)
		return nil, err
	}

	records, err := s.executor.Execute(ctx, stmt, source)
	if err != nil {
		s.record(source, validated.Table(), time.Since(startTime), 0, err)
		return nil, err
	}

	s.record(source, validated.Table(), time.Since(startTime), len(records), nil)
	s.logger.Debug("chart query completed",
		"datasource", source,
		"table", validated.Table(),
		"rows", len(records),
		"duration", time.Since(startTime),
	)
	return records, nil
}

func (s *chartService) Compile(ctx context.Context, source string, spec *model.QuerySpec) (*query.CompiledStatement, error) {
	stmt, _, err := s.compile(ctx, s.resolveSource(source), spec)
	return stmt, err
}

// compile runs validation, compilation and the read-only guard
func (s *chartService) compile(ctx context.Context, source string, spec *model.QuerySpec) (*query.CompiledStatement, *query.ValidatedSpec, error) {
	validated, err := s.validator.Validate(ctx, source, spec)
	if err != nil {
		return nil, nil, err
	}

	stmt, err := s.compiler.Compile(validated)
	if err != nil {
		return nil, nil, err
	}

	if err := s.guard.ValidateStatement(stmt.Text, validated.Table()); err != nil {
		s.logger.Error("compiled statement rejected by guard",
			"datasource", source,
			"statement", stmt.Text,
			"error", err,
		)
		return nil, nil, err
	}

	return stmt, validated, nil
}

func (s *chartService) GetColumns(ctx context.Context, source, table string) ([]model.TableColumn, error) {
	return s.schema.GetColumns(ctx, s.resolveSource(source), table)
}

func (s *chartService) InvalidateSchema(source, table string) {
	s.schema.Invalidate(s.resolveSource(source), table)
}

func (s *chartService) InvalidateSource(source string) {
	source = s.resolveSource(source)
	s.schema.InvalidateSource(source)
	s.collector.ResetMetrics(source)
}

func (s *chartService) DefaultSource() string {
	return s.defaultSource
}

func (s *chartService) GetStats() *ChartStatsResponse {
	return &ChartStatsResponse{
		Global:      s.collector.GetGlobalMetrics(),
		DataSources: s.collector.GetAllMetrics(),
		SchemaCache: s.schema.GetStats(),
	}
}

func (s *chartService) resolveSource(source string) string {
	if source == "" {
		return s.defaultSource
	}
	return source
}

func (s *chartService) record(source, table string, duration time.Duration, rows int, err error) {
	status := "success"
	kind := ""
	if err != nil {
		status = "error"
		kind = ErrorKind(err)
		middleware.RecordChartQueryError(source, kind)
	}
	middleware.RecordChartQuery(source, table, status, duration, rows)
	s.collector.RecordQuery(QueryOutcome{
		DataSource: source,
		Table:      table,
		Duration:   duration,
		Rows:       rows,
		ErrorKind:  kind,
	})
}

// ErrorKind names the engine error class of err for metrics and logs
func ErrorKind(err error) string {
	var (
		validationErr *query.ValidationError
		lookupErr     *metadata.SchemaLookupError
		execErr       *QueryExecutionError
		unsafeErr     *security.UnsafeStatementError
	)

	switch {
	case errors.As(err, &validationErr):
		return string(validationErr.Kind)
	case errors.Is(err, database.ErrUnknownDataSource):
		return "UnknownDataSource"
	case errors.Is(err, database.ErrPoolExhausted):
		return "ConnectionPoolExhausted"
	case errors.As(err, &lookupErr):
		return "SchemaLookupError"
	case errors.As(err, &execErr):
		if execErr.Kind == ExecutionTimeout {
			return "QueryTimeout"
		}
		return "QueryExecutionError"
	case errors.As(err, &unsafeErr):
		return "UnsafeStatement"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Internal"
	}
}
