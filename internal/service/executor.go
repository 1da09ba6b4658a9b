package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chart-gateway/internal/database"
	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/utils"
)

// DefaultStatementTimeout bounds a single chart statement
const DefaultStatementTimeout = 10 * time.Second

// ExecutionErrorKind classifies a failed statement
type ExecutionErrorKind string

const (
	ExecutionTimeout ExecutionErrorKind = "Timeout"
	ExecutionGeneric ExecutionErrorKind = "Generic"
)

// QueryExecutionError reports a statement the data source failed to run.
// Message is safe to return to clients; Statement, Params and Err are for
// server-side logs only.
type QueryExecutionError struct {
	Kind      ExecutionErrorKind
	Message   string
	Source    string
	Statement string
	Params    []interface{}
	Err       error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs compiled statements on pooled connections and maps the rows
// to chart records keyed by output alias
type Executor struct {
	pool    *database.ConnectionPool
	mapper  *utils.DataTypeMapper
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an executor. timeout <= 0 selects DefaultStatementTimeout.
func NewExecutor(pool *database.ConnectionPool, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		pool:    pool,
		mapper:  utils.NewDataTypeMapper(),
		timeout: timeout,
		logger:  logger,
	}
}

// Execute runs stmt against source. The connection is released on every
// path. Cancelling ctx cancels the running statement.
func (e *Executor) Execute(ctx context.Context, stmt *query.CompiledStatement, source string) ([]model.ChartDataRecord, error) {
	conn, err := e.pool.Acquire(ctx, source)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text := conn.Dialect().Rebind(stmt.Text)

	rows, err := conn.QueryContext(queryCtx, text, stmt.Parameters...)
	if err != nil {
		return nil, e.executionError(queryCtx, source, text, stmt.Parameters, err)
	}
	defer rows.Close()

	records, err := e.mapRows(rows, stmt.Columns)
	if err != nil {
		return nil, e.executionError(queryCtx, source, text, stmt.Parameters, err)
	}
	return records, nil
}

func (e *Executor) mapRows(rows *sql.Rows, columns []query.OutputColumn) ([]model.ChartDataRecord, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(names) != len(columns) {
		return nil, fmt.Errorf("statement returned %d columns, expected %d", len(names), len(columns))
	}

	records := make([]model.ChartDataRecord, 0)
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(model.ChartDataRecord, len(columns))
		for i, column := range columns {
			value, err := e.mapper.NormalizeValue(values[i], column.Kind)
			if err != nil {
				return nil, fmt.Errorf("failed to normalize %s: %w", column.Alias, err)
			}
			record[column.Alias] = value
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// executionError classifies err and logs the statement server-side
func (e *Executor) executionError(queryCtx context.Context, source, text string, params []interface{}, err error) error {
	execErr := &QueryExecutionError{
		Kind:      ExecutionGeneric,
		Message:   "query execution failed",
		Source:    source,
		Statement: text,
		Params:    params,
		Err:       err,
	}
	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		execErr.Kind = ExecutionTimeout
		execErr.Message = fmt.Sprintf("query exceeded the %s statement timeout", e.timeout)
	} else if errors.Is(err, context.Canceled) {
		execErr.Message = "query cancelled"
	}

	e.logger.Error("chart query failed",
		"datasource", source,
		"kind", execErr.Kind,
		"statement", text,
		"params", params,
		"error", err,
	)
	return execErr
}
