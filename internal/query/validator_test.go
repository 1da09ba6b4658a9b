package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/model"
)

type stubColumns struct {
	tables map[string][]model.TableColumn
	err    error
	calls  int
}

func (s *stubColumns) GetColumns(ctx context.Context, source, table string) ([]model.TableColumn, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	columns, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", metadata.ErrTableNotFound, table)
	}
	return columns, nil
}

func salesSchema() *stubColumns {
	return &stubColumns{tables: map[string][]model.TableColumn{
		"sales": {
			{TableName: "sales", ColumnName: "region", ColumnType: "varchar(32)"},
			{TableName: "sales", ColumnName: "amount", ColumnType: "decimal(10,2)"},
			{TableName: "sales", ColumnName: "sold_at", ColumnType: "datetime"},
			{TableName: "sales", ColumnName: "refunded", ColumnType: "boolean"},
		},
	}}
}

func assertValidationKind(t *testing.T, err error, kind ValidationKind, field string) {
	t.Helper()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, kind, vErr.Kind)
	if field != "" {
		assert.Equal(t, field, vErr.Field)
	}
}

func TestValidateScenarioGroupedSum(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	spec := &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Groups:     []model.FieldRef{{Field: "amount", Aggregation: model.AggregationSum}},
		Limit:      0,
	}
	validated, err := v.Validate(context.Background(), "warehouse", spec)
	require.NoError(t, err)

	assert.Equal(t, "warehouse", validated.Source())
	assert.Equal(t, "sales", validated.Table())
	assert.Equal(t, DefaultMaxLimit, validated.Limit())
	assert.True(t, validated.HasAggregation())

	selected := validated.Selected()
	require.Len(t, selected, 2)
	assert.Equal(t, "region", selected[0].Alias)
	assert.Equal(t, model.ColumnKindText, selected[0].Kind)
	assert.Equal(t, "sum_amount", selected[1].Alias)
	assert.Equal(t, model.ColumnKindNumeric, selected[1].Kind)
}

func TestValidateUnknownTable(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "customers",
		Dimensions: []model.FieldRef{{Field: "id"}},
	})
	assertValidationKind(t, err, UnknownTable, "customers")

	_, err = v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales; DROP TABLE sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
	})
	assertValidationKind(t, err, UnknownTable, "")
}

func TestValidateSchemaLookupFailurePassesThrough(t *testing.T) {
	lookupErr := &metadata.SchemaLookupError{Source: "warehouse", Table: "sales", Err: errors.New("timeout")}
	v := NewValidator(&stubColumns{err: lookupErr}, 0)

	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
	})
	var target *metadata.SchemaLookupError
	assert.ErrorAs(t, err, &target)

	var vErr *ValidationError
	assert.False(t, errors.As(err, &vErr))
}

func TestValidateEmptySelection(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{DataSource: "sales"})
	assertValidationKind(t, err, EmptySelection, "")
}

func TestValidateUnknownField(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	tests := []struct {
		name  string
		spec  *model.QuerySpec
		field string
	}{
		{
			name: "dimension",
			spec: &model.QuerySpec{DataSource: "sales", Dimensions: []model.FieldRef{{Field: "country"}}},
			field: "country",
		},
		{
			name: "group",
			spec: &model.QuerySpec{
				DataSource: "sales",
				Dimensions: []model.FieldRef{{Field: "region"}},
				Groups:     []model.FieldRef{{Field: "profit", Aggregation: model.AggregationSum}},
			},
			field: "profit",
		},
		{
			name: "filter",
			spec: &model.QuerySpec{
				DataSource: "sales",
				Dimensions: []model.FieldRef{{Field: "region"}},
				Filters:    []model.FilterOption{{Field: "store", Operator: model.OperatorEq, Value: model.ScalarValue("a")}},
			},
			field: "store",
		},
		{
			name: "order",
			spec: &model.QuerySpec{
				DataSource: "sales",
				Dimensions: []model.FieldRef{{Field: "region"}},
				Orders:     []model.OrderOption{{Field: "rank"}},
			},
			field: "rank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), "warehouse", tt.spec)
			assertValidationKind(t, err, UnknownField, tt.field)
			assert.ErrorIs(t, err, &ValidationError{Kind: UnknownField})
		})
	}
}

func TestValidateIncompatibleAggregation(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Groups:     []model.FieldRef{{Field: "region", Aggregation: model.AggregationSum}},
	})
	assertValidationKind(t, err, IncompatibleAggregation, "region")

	// count applies to any column
	validated, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Groups:     []model.FieldRef{{Field: "region", Aggregation: model.AggregationCount}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ColumnKindNumeric, validated.Selected()[0].Kind)
}

func TestValidateIncompatibleOperator(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	tests := []struct {
		name   string
		filter model.FilterOption
	}{
		{"like on numeric", model.FilterOption{Field: "amount", Operator: model.OperatorLike, Value: model.ScalarValue("1%")}},
		{"gt on text", model.FilterOption{Field: "region", Operator: model.OperatorGt, Value: model.ScalarValue("EU")}},
		{"between on boolean", model.FilterOption{Field: "refunded", Operator: model.OperatorBetween, Value: model.RangeValue(false, true)}},
		{"unknown operator", model.FilterOption{Field: "amount", Operator: "regex", Value: model.ScalarValue("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
				DataSource: "sales",
				Dimensions: []model.FieldRef{{Field: "region"}},
				Filters:    []model.FilterOption{tt.filter},
			})
			assertValidationKind(t, err, IncompatibleOperator, tt.filter.Field)
		})
	}
}

func TestValidateInvalidFilterValue(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	tests := []struct {
		name   string
		filter model.FilterOption
	}{
		{"in with scalar", model.FilterOption{Field: "region", Operator: model.OperatorIn, Value: model.ScalarValue("EU")}},
		{"in with empty list", model.FilterOption{Field: "region", Operator: model.OperatorIn, Value: model.ListValue()}},
		{"between with list", model.FilterOption{Field: "amount", Operator: model.OperatorBetween, Value: model.ListValue(1.0, 2.0, 3.0)}},
		{"between with null bound", model.FilterOption{Field: "amount", Operator: model.OperatorBetween, Value: model.RangeValue(nil, 2.0)}},
		{"gt with null", model.FilterOption{Field: "amount", Operator: model.OperatorGt, Value: model.ScalarValue(nil)}},
		{"like with number", model.FilterOption{Field: "region", Operator: model.OperatorLike, Value: model.ScalarValue(3.0)}},
		{"eq with list", model.FilterOption{Field: "region", Operator: model.OperatorEq, Value: model.ListValue("EU")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
				DataSource: "sales",
				Dimensions: []model.FieldRef{{Field: "region"}},
				Filters:    []model.FilterOption{tt.filter},
			})
			assertValidationKind(t, err, InvalidFilterValue, tt.filter.Field)
		})
	}
}

func TestValidateLimit(t *testing.T) {
	v := NewValidator(salesSchema(), 500)
	base := func(limit int) *model.QuerySpec {
		return &model.QuerySpec{
			DataSource: "sales",
			Dimensions: []model.FieldRef{{Field: "region"}},
			Limit:      limit,
		}
	}

	_, err := v.Validate(context.Background(), "warehouse", base(-1))
	assertValidationKind(t, err, InvalidLimit, "")

	for limit, want := range map[int]int{0: 500, 10: 10, 500: 500, 5000: 500} {
		validated, err := v.Validate(context.Background(), "warehouse", base(limit))
		require.NoError(t, err)
		assert.Equal(t, want, validated.Limit(), "limit %d", limit)
	}
}

func TestValidateOrders(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	// a real column that is not selected cannot be sorted on
	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Orders:     []model.OrderOption{{Field: "amount"}},
	})
	assertValidationKind(t, err, UnknownOrderField, "amount")

	_, err = v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Orders:     []model.OrderOption{{Field: "region", Direction: "sideways"}},
	})
	assertValidationKind(t, err, UnknownOrderField, "region")

	validated, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Groups:     []model.FieldRef{{Field: "amount", Aggregation: model.AggregationSum}},
		Orders:     []model.OrderOption{{Field: "sum_amount", Direction: model.SortDesc}, {Field: "region"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.OrderOption{
		{Field: "sum_amount", Direction: model.SortDesc},
		{Field: "region", Direction: model.SortAsc},
	}, validated.Orders())
}

func TestValidateDuplicateField(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	_, err := v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Groups:     []model.FieldRef{{Field: "region", Aggregation: model.AggregationNone}},
	})
	assertValidationKind(t, err, DuplicateField, "region")

	// the same column under different aggregations is fine
	_, err = v.Validate(context.Background(), "warehouse", &model.QuerySpec{
		DataSource: "sales",
		Groups: []model.FieldRef{
			{Field: "amount", Aggregation: model.AggregationSum},
			{Field: "amount", Aggregation: model.AggregationAvg},
		},
	})
	assert.NoError(t, err)
}

func TestValidateDoesNotRetainCallerSlices(t *testing.T) {
	v := NewValidator(salesSchema(), 0)

	values := model.ListValue("EU", "US")
	spec := &model.QuerySpec{
		DataSource: "sales",
		Dimensions: []model.FieldRef{{Field: "region"}},
		Filters:    []model.FilterOption{{Field: "region", Operator: model.OperatorIn, Value: values}},
	}
	validated, err := v.Validate(context.Background(), "warehouse", spec)
	require.NoError(t, err)

	spec.Dimensions[0].Field = "amount"
	spec.Filters[0].Field = "amount"

	assert.Equal(t, "region", validated.Selected()[0].Field)
	assert.Equal(t, "region", validated.Filters()[0].Field)
}
