package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-gateway/internal/model"
)

func TestClassifyColumnType(t *testing.T) {
	mapper := NewDataTypeMapper()

	tests := []struct {
		columnType string
		want       model.ColumnKind
	}{
		// mysql
		{"int", model.ColumnKindNumeric},
		{"int(10) unsigned", model.ColumnKindNumeric},
		{"bigint(20) unsigned zerofill", model.ColumnKindNumeric},
		{"decimal(10,2)", model.ColumnKindNumeric},
		{"double", model.ColumnKindNumeric},
		{"varchar(255)", model.ColumnKindText},
		{"enum('a','b')", model.ColumnKindText},
		{"datetime", model.ColumnKindTemporal},
		{"year", model.ColumnKindTemporal},
		{"json", model.ColumnKindJSON},
		{"bit(1)", model.ColumnKindBoolean},
		{"blob", model.ColumnKindOther},

		// postgres
		{"integer", model.ColumnKindNumeric},
		{"double precision", model.ColumnKindNumeric},
		{"numeric", model.ColumnKindNumeric},
		{"money", model.ColumnKindNumeric},
		{"character varying", model.ColumnKindText},
		{"timestamp with time zone", model.ColumnKindTemporal},
		{"interval", model.ColumnKindTemporal},
		{"int4range", model.ColumnKindOther},
		{"jsonb", model.ColumnKindJSON},
		{"boolean", model.ColumnKindBoolean},
		{"uuid", model.ColumnKindText},
		{"ARRAY", model.ColumnKindOther},

		// clickhouse
		{"UInt64", model.ColumnKindNumeric},
		{"Int32", model.ColumnKindNumeric},
		{"Float64", model.ColumnKindNumeric},
		{"Decimal(18, 4)", model.ColumnKindNumeric},
		{"Nullable(Decimal(10, 2))", model.ColumnKindNumeric},
		{"LowCardinality(Nullable(String))", model.ColumnKindText},
		{"DateTime64(3, 'UTC')", model.ColumnKindTemporal},
		{"Date32", model.ColumnKindTemporal},
		{"Array(Int32)", model.ColumnKindOther},

		// oracle
		{"NUMBER", model.ColumnKindNumeric},
		{"BINARY_DOUBLE", model.ColumnKindNumeric},
		{"VARCHAR2", model.ColumnKindText},
		{"TIMESTAMP(6) WITH TIME ZONE", model.ColumnKindTemporal},
		{"INTERVAL DAY(2) TO SECOND(6)", model.ColumnKindTemporal},
		{"CLOB", model.ColumnKindText},

		// sqlite
		{"INTEGER", model.ColumnKindNumeric},
		{"REAL", model.ColumnKindNumeric},
		{"TEXT", model.ColumnKindText},
		{"", model.ColumnKindOther},
	}

	for _, tt := range tests {
		t.Run(tt.columnType, func(t *testing.T) {
			assert.Equal(t, tt.want, mapper.ClassifyColumnType(tt.columnType))
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	mapper := NewDataTypeMapper()
	sold := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		kind  model.ColumnKind
		want  interface{}
	}{
		{"nil", nil, model.ColumnKindNumeric, nil},
		{"int64", int64(7), model.ColumnKindNumeric, int64(7)},
		{"integer text", []byte("42"), model.ColumnKindNumeric, int64(42)},
		{"decimal text", "12.50", model.ColumnKindNumeric, 12.5},
		{"money", []byte("$1,234.50"), model.ColumnKindNumeric, 1234.5},
		{"negative money", "-$1,234.50", model.ColumnKindNumeric, -1234.5},
		{"interval", []byte("1 day 02:00:00"), model.ColumnKindTemporal, "1 day 02:00:00"},
		{"timestamp", sold, model.ColumnKindTemporal, "2024-03-01T12:00:00Z"},
		{"mysql bit", []byte{1}, model.ColumnKindBoolean, true},
		{"json", []byte(`{"a":1}`), model.ColumnKindJSON, map[string]interface{}{"a": float64(1)}},
		{"text bytes", []byte("EMEA"), model.ColumnKindText, "EMEA"},
		{"other bytes", []byte("[1,2)"), model.ColumnKindOther, "[1,2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapper.NormalizeValue(tt.value, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := mapper.NormalizeValue("not a number", model.ColumnKindNumeric)
	assert.ErrorContains(t, err, "cannot parse number")
}
