package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Aggregation is the aggregate function applied to a selected field
type Aggregation string

const (
	AggregationNone  Aggregation = "none"
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationCount Aggregation = "count"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
)

// IsValid reports whether the aggregation is one of the known functions
func (a Aggregation) IsValid() bool {
	switch a {
	case AggregationNone, AggregationSum, AggregationAvg, AggregationCount, AggregationMin, AggregationMax:
		return true
	default:
		return false
	}
}

// Normalize maps the empty aggregation to AggregationNone
func (a Aggregation) Normalize() Aggregation {
	if a == "" {
		return AggregationNone
	}
	return a
}

// Operator is a filter predicate operator
type Operator string

const (
	OperatorEq      Operator = "eq"
	OperatorNeq     Operator = "neq"
	OperatorGt      Operator = "gt"
	OperatorGte     Operator = "gte"
	OperatorLt      Operator = "lt"
	OperatorLte     Operator = "lte"
	OperatorIn      Operator = "in"
	OperatorLike    Operator = "like"
	OperatorBetween Operator = "between"
)

// IsValid reports whether the operator is one of the known operators
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEq, OperatorNeq, OperatorGt, OperatorGte, OperatorLt, OperatorLte,
		OperatorIn, OperatorLike, OperatorBetween:
		return true
	default:
		return false
	}
}

// ValueKind returns the value shape an operator expects
func (o Operator) ValueKind() FilterValueKind {
	switch o {
	case OperatorIn:
		return FilterValueList
	case OperatorBetween:
		return FilterValueRange
	default:
		return FilterValueScalar
	}
}

// SortDirection is the direction of an ORDER BY term
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// IsValid reports whether the direction is asc or desc
func (d SortDirection) IsValid() bool {
	return d == SortAsc || d == SortDesc
}

// FieldRef references a column, optionally aggregated
type FieldRef struct {
	Field       string      `json:"field" validate:"required,max=128"`
	Aggregation Aggregation `json:"aggregation,omitempty" validate:"omitempty,oneof=none sum avg count min max"`
}

// Alias returns the output name of the field in the compiled statement.
// Aggregated fields are named "<aggregation>_<field>".
func (f FieldRef) Alias() string {
	agg := f.Aggregation.Normalize()
	if agg == AggregationNone {
		return f.Field
	}
	return string(agg) + "_" + f.Field
}

// IsAggregated reports whether an aggregation function is applied
func (f FieldRef) IsAggregated() bool {
	return f.Aggregation.Normalize() != AggregationNone
}

// FilterValueKind tags the shape carried by a FilterValue
type FilterValueKind int

const (
	FilterValueScalar FilterValueKind = iota
	FilterValueList
	FilterValueRange
)

func (k FilterValueKind) String() string {
	switch k {
	case FilterValueScalar:
		return "scalar"
	case FilterValueList:
		return "list"
	case FilterValueRange:
		return "range"
	default:
		return fmt.Sprintf("FilterValueKind(%d)", int(k))
	}
}

// FilterValue is a tagged union of the value shapes a filter can carry.
// Scalars are string, float64, bool or nil.
type FilterValue struct {
	kind   FilterValueKind
	scalar any
	list   []any
}

// ScalarValue builds a scalar filter value
func ScalarValue(v any) FilterValue {
	return FilterValue{kind: FilterValueScalar, scalar: v}
}

// ListValue builds an array-of-scalar filter value
func ListValue(values ...any) FilterValue {
	list := make([]any, len(values))
	copy(list, values)
	return FilterValue{kind: FilterValueList, list: list}
}

// RangeValue builds a scalar pair for between
func RangeValue(low, high any) FilterValue {
	return FilterValue{kind: FilterValueRange, list: []any{low, high}}
}

// Kind returns the shape of the value
func (v FilterValue) Kind() FilterValueKind {
	return v.kind
}

// Scalar returns the scalar payload
func (v FilterValue) Scalar() any {
	return v.scalar
}

// List returns a copy of the list payload
func (v FilterValue) List() []any {
	out := make([]any, len(v.list))
	copy(out, v.list)
	return out
}

// Range returns the bounds of a range value
func (v FilterValue) Range() (low, high any) {
	if len(v.list) != 2 {
		return nil, nil
	}
	return v.list[0], v.list[1]
}

// Params returns the values bound for this filter, in placeholder order
func (v FilterValue) Params() []any {
	if v.kind == FilterValueScalar {
		return []any{v.scalar}
	}
	return v.List()
}

// MarshalJSON encodes scalars as-is and lists and ranges as arrays
func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.kind == FilterValueScalar {
		return json.Marshal(v.scalar)
	}
	return json.Marshal(v.list)
}

// UnmarshalJSON decodes a JSON array as a list and anything else as a scalar.
// A list is promoted to a range by FilterOption once the operator is known.
// Integral numbers decode to int64 so large ids bind exactly.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	if list, ok := raw.([]any); ok {
		for i, item := range list {
			item, err := scalarValue(item)
			if err != nil {
				return fmt.Errorf("filter value element %d is not a scalar", i)
			}
			list[i] = item
		}
		*v = FilterValue{kind: FilterValueList, list: list}
		return nil
	}

	scalar, err := scalarValue(raw)
	if err != nil {
		return fmt.Errorf("filter value must be a scalar or an array of scalars")
	}
	*v = FilterValue{kind: FilterValueScalar, scalar: scalar}
	return nil
}

func scalarValue(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	case nil, string, float64, bool, int, int64:
		return v, nil
	default:
		return nil, fmt.Errorf("%T is not a scalar", v)
	}
}

// FilterOption is one predicate term of the WHERE clause
type FilterOption struct {
	Field    string      `json:"field" validate:"required,max=128"`
	Operator Operator    `json:"operator" validate:"required,oneof=eq neq gt gte lt lte in like between"`
	Value    FilterValue `json:"value"`
}

// UnmarshalJSON decodes the option and promotes a two element list to a
// range when the operator is between.
func (f *FilterOption) UnmarshalJSON(data []byte) error {
	type rawFilter FilterOption
	var raw rawFilter
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Operator == OperatorBetween && raw.Value.kind == FilterValueList && len(raw.Value.list) == 2 {
		raw.Value.kind = FilterValueRange
	}
	*f = FilterOption(raw)
	return nil
}

// OrderOption is one sort term
type OrderOption struct {
	Field     string        `json:"field" validate:"required,max=128"`
	Direction SortDirection `json:"direction,omitempty" validate:"omitempty,oneof=asc desc"`
}

// QuerySpec is a client-declared analytic query against one table
type QuerySpec struct {
	DataSource string         `json:"dataSource" validate:"required,max=128"`
	Dimensions []FieldRef     `json:"dimensions" validate:"dive"`
	Groups     []FieldRef     `json:"groups" validate:"dive"`
	Filters    []FilterOption `json:"filters" validate:"dive"`
	Orders     []OrderOption  `json:"orders" validate:"dive"`
	Limit      int            `json:"limit"`
}

// Selected returns dimensions followed by groups, the SELECT list order
func (q *QuerySpec) Selected() []FieldRef {
	selected := make([]FieldRef, 0, len(q.Dimensions)+len(q.Groups))
	selected = append(selected, q.Dimensions...)
	selected = append(selected, q.Groups...)
	return selected
}

// TableColumn is one column of one table as reported by the data source
type TableColumn struct {
	TableName     string `json:"tableName"`
	ColumnName    string `json:"columnName"`
	ColumnType    string `json:"columnType"`
	ColumnComment string `json:"columnComment,omitempty"`
}

// ChartDataRecord is one result row keyed by output alias
type ChartDataRecord map[string]any

// ColumnKind groups column types by the operations they support
type ColumnKind string

const (
	ColumnKindText     ColumnKind = "text"
	ColumnKindNumeric  ColumnKind = "numeric"
	ColumnKindTemporal ColumnKind = "temporal"
	ColumnKindBoolean  ColumnKind = "boolean"
	ColumnKindJSON     ColumnKind = "json"
	ColumnKindOther    ColumnKind = "other"
)
