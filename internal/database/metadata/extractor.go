package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chart-gateway/internal/database"
	"chart-gateway/internal/model"
)

// ColumnExtractor reads table column metadata through pooled connections
type ColumnExtractor struct {
	connPool *database.ConnectionPool
}

// NewColumnExtractor creates a new column extractor
func NewColumnExtractor(connPool *database.ConnectionPool) *ColumnExtractor {
	return &ColumnExtractor{connPool: connPool}
}

// LookupColumns returns the columns of table in ordinal order. An unknown
// table yields an empty slice and no error. table may be schema-qualified.
func (e *ColumnExtractor) LookupColumns(ctx context.Context, source, table string) ([]model.TableColumn, error) {
	conn, err := e.connPool.Acquire(ctx, source)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	schema, name := splitTableName(table)
	query, args, err := columnsQuery(conn.DatabaseType(), schema, name)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, conn.Dialect().Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []model.TableColumn
	for rows.Next() {
		var columnName, columnType string
		var comment sql.NullString
		if err := rows.Scan(&columnName, &columnType, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		columns = append(columns, model.TableColumn{
			TableName:     table,
			ColumnName:    columnName,
			ColumnType:    columnType,
			ColumnComment: comment.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	return columns, nil
}

// splitTableName splits "schema.table" into its parts
func splitTableName(table string) (schema, name string) {
	if i := strings.LastIndex(table, "."); i > 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// columnsQuery returns a parameterized metadata query in canonical
// placeholder form selecting (name, type, comment).
func columnsQuery(dbType model.DatabaseType, schema, table string) (string, []interface{}, error) {
	switch dbType {
	case model.DatabaseTypeMySQL, model.DatabaseTypeMariaDB:
		if schema != "" {
			return `SELECT COLUMN_NAME, COLUMN_TYPE, COLUMN_COMMENT FROM information_schema.COLUMNS
				WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, []interface{}{schema, table}, nil
		}
		return `SELECT COLUMN_NAME, COLUMN_TYPE, COLUMN_COMMENT FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, []interface{}{table}, nil

	case model.DatabaseTypePostgreSQL:
		const base = `SELECT c.column_name, c.data_type,
				pg_catalog.col_description(format('%I.%I', c.table_schema, c.table_name)::regclass::oid, c.ordinal_position)
			FROM information_schema.columns c WHERE `
		if schema != "" {
			return base + `c.table_schema = ? AND c.table_name = ? ORDER BY c.ordinal_position`, []interface{}{schema, table}, nil
		}
		return base + `c.table_schema = current_schema() AND c.table_name = ? ORDER BY c.ordinal_position`, []interface{}{table}, nil

	case model.DatabaseTypeOracle:
		if schema != "" {
			return `SELECT c.COLUMN_NAME, c.DATA_TYPE, m.COMMENTS FROM ALL_TAB_COLUMNS c
				LEFT JOIN ALL_COL_COMMENTS m ON m.OWNER = c.OWNER AND m.TABLE_NAME = c.TABLE_NAME AND m.COLUMN_NAME = c.COLUMN_NAME
				WHERE c.OWNER = ? AND c.TABLE_NAME = ? ORDER BY c.COLUMN_ID`, []interface{}{schema, table}, nil
		}
		return `SELECT c.COLUMN_NAME, c.DATA_TYPE, m.COMMENTS FROM USER_TAB_COLUMNS c
			LEFT JOIN USER_COL_COMMENTS m ON m.TABLE_NAME = c.TABLE_NAME AND m.COLUMN_NAME = c.COLUMN_NAME
			WHERE c.TABLE_NAME = ? ORDER BY c.COLUMN_ID`, []interface{}{table}, nil

	case model.DatabaseTypeClickHouse:
		if schema != "" {
			return `SELECT name, type, comment FROM system.columns WHERE database = ? AND table = ? ORDER BY position`,
				[]interface{}{schema, table}, nil
		}
		return `SELECT name, type, comment FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position`,
			[]interface{}{table}, nil

	case model.DatabaseTypeSnowflake:
		if schema != "" {
			return `SELECT column_name, data_type, comment FROM information_schema.columns
				WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`, []interface{}{schema, table}, nil
		}
		return `SELECT column_name, data_type, comment FROM information_schema.columns
			WHERE table_schema = CURRENT_SCHEMA() AND table_name = ? ORDER BY ordinal_position`, []interface{}{table}, nil

	case model.DatabaseTypeSQLite:
		if schema != "" {
			return `SELECT name, type, NULL FROM pragma_table_info(?, ?) ORDER BY cid`, []interface{}{table, schema}, nil
		}
		return `SELECT name, type, NULL FROM pragma_table_info(?) ORDER BY cid`, []interface{}{table}, nil

	default:
		return "", nil, fmt.Errorf("schema discovery not supported for %s", dbType)
	}
}
