package query

import (
	"fmt"
	"strconv"
	"strings"

	"chart-gateway/internal/database"
	"chart-gateway/internal/model"
)

// OutputColumn describes one column of a compiled statement's result
type OutputColumn struct {
	Alias string           `json:"alias"`
	Kind  model.ColumnKind `json:"kind"`
}

// CompiledStatement is a parameterized SELECT in canonical form: backtick
// quoted identifiers, ? placeholders and a trailing LIMIT literal. Values
// never appear in Text.
type CompiledStatement struct {
	Text       string         `json:"text"`
	Parameters []interface{}  `json:"parameters"`
	Columns    []OutputColumn `json:"columns"`
}

var comparisonOperators = map[model.Operator]string{
	model.OperatorEq:   "=",
	model.OperatorNeq:  "<>",
	model.OperatorGt:   ">",
	model.OperatorGte:  ">=",
	model.OperatorLt:   "<",
	model.OperatorLte:  "<=",
	model.OperatorLike: "LIKE",
}

// Compiler renders validated specs as SQL. It is stateless and safe for
// concurrent use; the same ValidatedSpec always yields the same statement.
type Compiler struct{}

// NewCompiler creates a new compiler
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile renders SELECT, FROM, WHERE, GROUP BY, ORDER BY and LIMIT in that
// order. GROUP BY lists the non-aggregated selected fields when any field is
// aggregated. Without orders the first non-aggregated field (or the first
// field of an all-aggregate selection) is sorted ascending.
func (c *Compiler) Compile(spec *ValidatedSpec) (*CompiledStatement, error) {
	if spec == nil || len(spec.selected) == 0 {
		return nil, fmt.Errorf("cannot compile an empty selection")
	}

	var sb strings.Builder
	params := make([]interface{}, 0, len(spec.filters))
	columns := make([]OutputColumn, 0, len(spec.selected))

	sb.WriteString("SELECT ")
	for i, f := range spec.selected {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(selectExpr(f))
		columns = append(columns, OutputColumn{Alias: f.Alias, Kind: f.Kind})
	}

	sb.WriteString(" FROM ")
	sb.WriteString(database.QuoteIdentifier(spec.table))

	if len(spec.filters) > 0 {
		sb.WriteString(" WHERE ")
		for i, f := range spec.filters {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			clause, args, err := predicate(f)
			if err != nil {
				return nil, err
			}
			sb.WriteString(clause)
			params = append(params, args...)
		}
	}

	if spec.HasAggregation() {
		var groupBy []string
		for _, f := range spec.selected {
			if f.Aggregation == model.AggregationNone {
				groupBy = append(groupBy, database.QuoteIdentifier(f.Field))
			}
		}
		if len(groupBy) > 0 {
			sb.WriteString(" GROUP BY ")
			sb.WriteString(strings.Join(groupBy, ", "))
		}
	}

	sb.WriteString(" ORDER BY ")
	if len(spec.orders) == 0 {
		sb.WriteString(database.QuoteIdentifier(defaultOrderAlias(spec.selected)))
		sb.WriteString(" ASC")
	}
	for i, o := range spec.orders {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(database.QuoteIdentifier(o.Field))
		sb.WriteString(" ")
		sb.WriteString(strings.ToUpper(string(o.Direction)))
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(spec.limit))

	return &CompiledStatement{
		Text:       sb.String(),
		Parameters: params,
		Columns:    columns,
	}, nil
}

// defaultOrderAlias picks the first grouping key, or the first field when
// every field is aggregated
func defaultOrderAlias(selected []SelectedField) string {
	for _, f := range selected {
		if f.Aggregation == model.AggregationNone {
			return f.Alias
		}
	}
	return selected[0].Alias
}

func selectExpr(f SelectedField) string {
	column := database.QuoteIdentifier(f.Field)
	if f.Aggregation == model.AggregationNone {
		return column
	}
	return fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(f.Aggregation)), column, database.QuoteIdentifier(f.Alias))
}

// predicate renders one filter with placeholders and returns its bound values
func predicate(f model.FilterOption) (string, []interface{}, error) {
	column := database.QuoteIdentifier(f.Field)

	switch f.Operator {
	case model.OperatorEq, model.OperatorNeq:
		if f.Value.Scalar() == nil {
			if f.Operator == model.OperatorEq {
				return column + " IS NULL", nil, nil
			}
			return column + " IS NOT NULL", nil, nil
		}
		return column + " " + comparisonOperators[f.Operator] + " ?", f.Value.Params(), nil

	case model.OperatorGt, model.OperatorGte, model.OperatorLt, model.OperatorLte, model.OperatorLike:
		return column + " " + comparisonOperators[f.Operator] + " ?", f.Value.Params(), nil

	case model.OperatorIn:
		values := f.Value.List()
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return column + " IN (" + placeholders + ")", values, nil

	case model.OperatorBetween:
		low, high := f.Value.Range()
		return column + " BETWEEN ? AND ?", []interface{}{low, high}, nil

	default:
		return "", nil, fmt.Errorf("unsupported operator %q", f.Operator)
	}
}
