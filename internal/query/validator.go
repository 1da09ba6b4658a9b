package query

import (
	"context"
	"errors"
	"regexp"

	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/model"
	"chart-gateway/internal/utils"
)

// DefaultMaxLimit is the row limit applied when none is configured
const DefaultMaxLimit = 1000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// ColumnProvider returns the live column set of a table
type ColumnProvider interface {
	GetColumns(ctx context.Context, source, table string) ([]model.TableColumn, error)
}

// SelectedField is one resolved SELECT list entry
type SelectedField struct {
	Field       string
	Aggregation model.Aggregation
	Alias       string
	ColumnType  string
	// Kind is the kind of the output value, numeric for any aggregation
	Kind model.ColumnKind
}

// ValidatedSpec is a QuerySpec proven consistent with its table's schema.
// It is immutable; accessors return copies.
type ValidatedSpec struct {
	source   string
	table    string
	selected []SelectedField
	filters  []model.FilterOption
	orders   []model.OrderOption
	limit    int
}

// Source returns the data source the spec was validated against
func (v *ValidatedSpec) Source() string { return v.source }

// Table returns the target table
func (v *ValidatedSpec) Table() string { return v.table }

// Limit returns the effective, clamped row limit
func (v *ValidatedSpec) Limit() int { return v.limit }

// Selected returns the SELECT list: dimensions then groups
func (v *ValidatedSpec) Selected() []SelectedField {
	out := make([]SelectedField, len(v.selected))
	copy(out, v.selected)
	return out
}

// Filters returns the WHERE terms in request order
func (v *ValidatedSpec) Filters() []model.FilterOption {
	out := make([]model.FilterOption, len(v.filters))
	copy(out, v.filters)
	return out
}

// Orders returns the ORDER BY terms with directions normalized
func (v *ValidatedSpec) Orders() []model.OrderOption {
	out := make([]model.OrderOption, len(v.orders))
	copy(out, v.orders)
	return out
}

// HasAggregation reports whether any selected field is aggregated
func (v *ValidatedSpec) HasAggregation() bool {
	for _, f := range v.selected {
		if f.Aggregation != model.AggregationNone {
			return true
		}
	}
	return false
}

// Validator checks QuerySpecs against the live schema
type Validator struct {
	columns  ColumnProvider
	mapper   *utils.DataTypeMapper
	maxLimit int
}

// NewValidator creates a validator. maxLimit <= 0 selects DefaultMaxLimit.
func NewValidator(columns ColumnProvider, maxLimit int) *Validator {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Validator{
		columns:  columns,
		mapper:   utils.NewDataTypeMapper(),
		maxLimit: maxLimit,
	}
}

// Validate resolves spec.DataSource in source and checks every field,
// aggregation, operator, filter value, order term and the limit. It returns
// a *ValidationError for specs the caller must fix and a
// *metadata.SchemaLookupError when the schema could not be read. The spec is
// not modified.
func (v *Validator) Validate(ctx context.Context, source string, spec *model.QuerySpec) (*ValidatedSpec, error) {
	if spec == nil {
		return nil, newValidationError(EmptySelection, "", "query spec is required")
	}

	// 1. table
	if !tableNamePattern.MatchString(spec.DataSource) {
		return nil, newValidationError(UnknownTable, spec.DataSource, "not a valid table name")
	}
	columnList, err := v.columns.GetColumns(ctx, source, spec.DataSource)
	if err != nil {
		if errors.Is(err, metadata.ErrTableNotFound) {
			return nil, newValidationError(UnknownTable, spec.DataSource, "")
		}
		return nil, err
	}
	columns := make(map[string]model.TableColumn, len(columnList))
	for _, c := range columnList {
		columns[c.ColumnName] = c
	}

	selection := spec.Selected()
	if len(selection) == 0 {
		return nil, newValidationError(EmptySelection, "", "")
	}

	// 2. every referenced field exists
	for _, f := range selection {
		if _, ok := columns[f.Field]; !ok {
			return nil, newValidationError(UnknownField, f.Field, "")
		}
	}
	for _, f := range spec.Filters {
		if _, ok := columns[f.Field]; !ok {
			return nil, newValidationError(UnknownField, f.Field, "")
		}
	}
	aliases := make(map[string]bool, len(selection))
	for _, f := range selection {
		aliases[f.Alias()] = true
	}
	for _, o := range spec.Orders {
		if _, ok := columns[o.Field]; !ok && !aliases[o.Field] {
			return nil, newValidationError(UnknownField, o.Field, "")
		}
	}

	// 3. aggregations
	selected := make([]SelectedField, 0, len(selection))
	seen := make(map[string]bool, len(selection))
	for _, f := range selection {
		column := columns[f.Field]
		kind := v.mapper.ClassifyColumnType(column.ColumnType)
		agg := f.Aggregation.Normalize()

		if err := checkAggregation(f.Field, agg, kind); err != nil {
			return nil, err
		}

		alias := f.Alias()
		if seen[alias] {
			return nil, newValidationError(DuplicateField, alias, "selected more than once")
		}
		seen[alias] = true

		outKind := kind
		if f.IsAggregated() {
			outKind = model.ColumnKindNumeric
		}
		selected = append(selected, SelectedField{
			Field:       f.Field,
			Aggregation: agg,
			Alias:       alias,
			ColumnType:  column.ColumnType,
			Kind:        outKind,
		})
	}

	// 4. operators and filter values
	filters := make([]model.FilterOption, 0, len(spec.Filters))
	for _, f := range spec.Filters {
		kind := v.mapper.ClassifyColumnType(columns[f.Field].ColumnType)
		if err := checkOperator(f.Field, f.Operator, kind); err != nil {
			return nil, err
		}
		if err := checkFilterValue(f); err != nil {
			return nil, err
		}
		filters = append(filters, copyFilter(f))
	}

	// 5. limit
	limit := spec.Limit
	switch {
	case limit < 0:
		return nil, newValidationError(InvalidLimit, "", "limit must be positive, got %d", limit)
	case limit == 0, limit > v.maxLimit:
		limit = v.maxLimit
	}

	// 6. orders reference output aliases
	orders := make([]model.OrderOption, 0, len(spec.Orders))
	for _, o := range spec.Orders {
		if !aliases[o.Field] {
			return nil, newValidationError(UnknownOrderField, o.Field, "not among the selected fields")
		}
		dir := o.Direction
		if dir == "" {
			dir = model.SortAsc
		}
		if !dir.IsValid() {
			return nil, newValidationError(UnknownOrderField, o.Field, "invalid direction %q", string(o.Direction))
		}
		orders = append(orders, model.OrderOption{Field: o.Field, Direction: dir})
	}

	return &ValidatedSpec{
		source:   source,
		table:    spec.DataSource,
		selected: selected,
		filters:  filters,
		orders:   orders,
		limit:    limit,
	}, nil
}

func checkAggregation(field string, agg model.Aggregation, kind model.ColumnKind) error {
	switch agg {
	case model.AggregationNone, model.AggregationCount:
		return nil
	case model.AggregationSum, model.AggregationAvg, model.AggregationMin, model.AggregationMax:
		if kind != model.ColumnKindNumeric {
			return newValidationError(IncompatibleAggregation, field, "%s requires a numeric column, got %s", agg, kind)
		}
		return nil
	default:
		return newValidationError(IncompatibleAggregation, field, "unknown aggregation %q", string(agg))
	}
}

// operatorsByKind lists the operators each column kind supports
var operatorsByKind = map[model.ColumnKind][]model.Operator{
	model.ColumnKindText: {model.OperatorEq, model.OperatorNeq, model.OperatorLike, model.OperatorIn},
	model.ColumnKindNumeric: {model.OperatorEq, model.OperatorNeq, model.OperatorGt, model.OperatorGte,
		model.OperatorLt, model.OperatorLte, model.OperatorIn, model.OperatorBetween},
	model.ColumnKindTemporal: {model.OperatorEq, model.OperatorNeq, model.OperatorGt, model.OperatorGte,
		model.OperatorLt, model.OperatorLte, model.OperatorIn, model.OperatorBetween},
	model.ColumnKindBoolean: {model.OperatorEq, model.OperatorNeq, model.OperatorIn},
	model.ColumnKindJSON:    {model.OperatorEq, model.OperatorNeq},
	model.ColumnKindOther:   {model.OperatorEq, model.OperatorNeq},
}

func checkOperator(field string, op model.Operator, kind model.ColumnKind) error {
	if !op.IsValid() {
		return newValidationError(IncompatibleOperator, field, "unknown operator %q", string(op))
	}
	for _, allowed := range operatorsByKind[kind] {
		if op == allowed {
			return nil
		}
	}
	return newValidationError(IncompatibleOperator, field, "%s is not supported on %s columns", op, kind)
}

func checkFilterValue(f model.FilterOption) error {
	want := f.Operator.ValueKind()
	got := f.Value.Kind()
	if got != want {
		return newValidationError(InvalidFilterValue, f.Field, "%s expects a %s value, got %s", f.Operator, want, got)
	}

	switch want {
	case model.FilterValueScalar:
		v := f.Value.Scalar()
		if v == nil && f.Operator != model.OperatorEq && f.Operator != model.OperatorNeq {
			return newValidationError(InvalidFilterValue, f.Field, "%s does not accept null", f.Operator)
		}
		if f.Operator == model.OperatorLike {
			if _, ok := v.(string); !ok {
				return newValidationError(InvalidFilterValue, f.Field, "like expects a string pattern")
			}
		}
	case model.FilterValueList:
		list := f.Value.List()
		if len(list) == 0 {
			return newValidationError(InvalidFilterValue, f.Field, "in expects at least one value")
		}
		for i, item := range list {
			if item == nil {
				return newValidationError(InvalidFilterValue, f.Field, "in value %d is null", i)
			}
		}
	case model.FilterValueRange:
		low, high := f.Value.Range()
		if low == nil || high == nil {
			return newValidationError(InvalidFilterValue, f.Field, "between bounds must not be null")
		}
	default:
		return newValidationError(InvalidFilterValue, f.Field, "unsupported value kind %s", want)
	}
	return nil
}

// copyFilter detaches the filter value from the caller's spec
func copyFilter(f model.FilterOption) model.FilterOption {
	switch f.Value.Kind() {
	case model.FilterValueList:
		f.Value = model.ListValue(f.Value.List()...)
	case model.FilterValueRange:
		low, high := f.Value.Range()
		f.Value = model.RangeValue(low, high)
	}
	return f
}
