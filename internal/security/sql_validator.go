package security

import (
	"errors"
	"fmt"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"
)

var (
	ErrNotSelectQuery   = errors.New("only SELECT queries are allowed")
	ErrSQLSyntaxError   = errors.New("SQL syntax error")
	ErrDangerousKeyword = errors.New("dangerous SQL construct detected")
	ErrSQLInjection     = errors.New("potential SQL injection detected")
	ErrEmptyQuery       = errors.New("query cannot be empty")
	ErrQueryTooLong     = errors.New("query exceeds maximum length")
	ErrUnexpectedTable  = errors.New("statement reads an unexpected table")
)

// deniedFunctions can stall or reach outside the database from a SELECT
var deniedFunctions = map[string]bool{
	"sleep":        true,
	"pg_sleep":     true,
	"benchmark":    true,
	"load_file":    true,
	"get_lock":     true,
	"release_lock": true,
	"sys_exec":     true,
	"sys_eval":     true,
}

// UnsafeStatementError reports a statement the guard refused to run
type UnsafeStatementError struct {
	Statement string
	Err       error
}

func (e *UnsafeStatementError) Error() string {
	return fmt.Sprintf("unsafe statement: %v", e.Err)
}

func (e *UnsafeStatementError) Unwrap() error {
	return e.Err
}

// SQLValidator checks that a canonical statement is a single read-only
// SELECT before it reaches a data source
type SQLValidator struct {
	maxQueryLength int
	parser         *sqlparser.Parser
}

// NewSQLValidator creates a new SQLValidator instance
func NewSQLValidator(maxQueryLength int) *SQLValidator {
	if maxQueryLength <= 0 {
		maxQueryLength = 10000
	}
	return &SQLValidator{
		maxQueryLength: maxQueryLength,
		parser:         sqlparser.NewTestParser(),
	}
}

// ValidateStatement accepts only a single plain SELECT reading table. An
// empty table skips the FROM check.
func (sv *SQLValidator) ValidateStatement(sql, table string) error {
	if err := sv.validate(sql, table); err != nil {
		return &UnsafeStatementError{Statement: sql, Err: err}
	}
	return nil
}

func (sv *SQLValidator) validate(sql, table string) error {
	if err := sv.basicValidation(sql); err != nil {
		return err
	}

	stmt, err := sv.parseSQL(sql)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSQLSyntaxError, err)
	}

	selectStmt, ok := stmt.(*sqlparser.Select)
	if !ok {
		return ErrNotSelectQuery
	}
	if selectStmt.Into != nil {
		return fmt.Errorf("%w: SELECT INTO", ErrDangerousKeyword)
	}
	if selectStmt.Lock != sqlparser.NoLock {
		return fmt.Errorf("%w: locking read", ErrDangerousKeyword)
	}

	if err := sv.checkFunctions(selectStmt); err != nil {
		return err
	}

	if table != "" {
		name, err := tableName(selectStmt)
		if err != nil {
			return err
		}
		if name != table {
			return fmt.Errorf("%w: %s", ErrUnexpectedTable, name)
		}
	}
	return nil
}

func (sv *SQLValidator) basicValidation(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return ErrEmptyQuery
	}
	if len(sql) > sv.maxQueryLength {
		return ErrQueryTooLong
	}

	// comments can hide a second statement from a reader of the logs
	if strings.Contains(sql, "--") || strings.Contains(sql, "/*") || strings.Contains(sql, "*/") {
		return ErrSQLInjection
	}
	if strings.Contains(strings.TrimSuffix(strings.TrimSpace(sql), ";"), ";") {
		return ErrSQLInjection
	}
	return nil
}

func (sv *SQLValidator) parseSQL(sql string) (sqlparser.Statement, error) {
	normalized := strings.TrimSpace(sql)
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	return sv.parser.Parse(normalized)
}

// checkFunctions walks the statement looking for denied function calls
func (sv *SQLValidator) checkFunctions(stmt *sqlparser.Select) error {
	return sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.FuncExpr:
			if deniedFunctions[n.Name.Lowered()] {
				return false, fmt.Errorf("%w: %s()", ErrDangerousKeyword, n.Name.Lowered())
			}
		case *sqlparser.Subquery:
			return false, fmt.Errorf("%w: subquery", ErrDangerousKeyword)
		}
		return true, nil
	}, stmt)
}

// tableName returns the single table of a SELECT, schema-qualified when the
// statement qualifies it
func tableName(stmt *sqlparser.Select) (string, error) {
	if len(stmt.From) != 1 {
		return "", fmt.Errorf("%w: expected exactly one table", ErrUnexpectedTable)
	}
	tableExpr, ok := stmt.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", fmt.Errorf("%w: joins are not allowed", ErrUnexpectedTable)
	}
	name, ok := tableExpr.Expr.(sqlparser.TableName)
	if !ok {
		return "", fmt.Errorf("%w: derived tables are not allowed", ErrUnexpectedTable)
	}
	if name.Qualifier.IsEmpty() {
		return name.Name.String(), nil
	}
	return name.Qualifier.String() + "." + name.Name.String(), nil
}
