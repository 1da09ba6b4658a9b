package utils

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"chart-gateway/internal/model"
)

// DataTypeMapper classifies database-specific column types and normalizes
// scanned values into chart-ready JSON values
type DataTypeMapper struct{}

// NewDataTypeMapper creates a new DataTypeMapper instance
func NewDataTypeMapper() *DataTypeMapper {
	return &DataTypeMapper{}
}

var (
	numericTypes = typeSet(
		"TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "BYTEINT",
		"INT2", "INT4", "INT8", "INT16", "INT32", "INT64", "INT128", "INT256",
		"UINT8", "UINT16", "UINT32", "UINT64", "UINT128", "UINT256",
		"SERIAL", "SMALLSERIAL", "BIGSERIAL", "SERIAL2", "SERIAL4", "SERIAL8",
		"DECIMAL", "DECIMAL32", "DECIMAL64", "DECIMAL128", "DECIMAL256", "DEC", "NUMERIC", "NUMBER", "FIXED",
		"REAL", "FLOAT", "FLOAT4", "FLOAT8", "FLOAT32", "FLOAT64", "DOUBLE", "BINARY_FLOAT", "BINARY_DOUBLE",
		"MONEY", "SMALLMONEY",
	)
	temporalTypes = typeSet(
		"DATE", "DATE32", "TIME", "TIMETZ", "YEAR", "DATETIME", "DATETIME2", "DATETIME64", "SMALLDATETIME",
		"DATETIMEOFFSET", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ", "TIMESTAMP_TZ", "INTERVAL",
	)
	textTypes = typeSet(
		"CHAR", "VARCHAR", "VARCHAR2", "NCHAR", "NVARCHAR", "NVARCHAR2", "CHARACTER", "BPCHAR", "TEXT",
		"TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "CLOB", "NCLOB", "STRING", "FIXEDSTRING", "ENUM", "ENUM8",
		"ENUM16", "SET", "UUID", "CITEXT", "NAME",
	)
)

func typeSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// ClassifyColumnType maps a column type as reported by information_schema (or
// PRAGMA table_info) to the kind of operations it supports. Only the leading
// type token is compared, so "int4range" or "INTERVAL DAY TO SECOND" never
// pass for integers.
func (dtm *DataTypeMapper) ClassifyColumnType(columnType string) model.ColumnKind {
	normalized := dtm.normalizeColumnType(columnType)

	// ClickHouse wraps types in Nullable(...) / LowCardinality(...)
	for _, wrapper := range []string{"NULLABLE ", "LOWCARDINALITY "} {
		normalized = strings.TrimPrefix(normalized, wrapper)
	}

	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return model.ColumnKindOther
	}
	base := fields[0]

	switch {
	case base == "BOOLEAN", base == "BOOL", base == "BIT":
		return model.ColumnKindBoolean
	case base == "JSON", base == "JSONB", base == "VARIANT", base == "OBJECT":
		return model.ColumnKindJSON
	case temporalTypes[base]:
		return model.ColumnKindTemporal
	case numericTypes[base]:
		return model.ColumnKindNumeric
	case textTypes[base]:
		return model.ColumnKindText
	default:
		return model.ColumnKindOther
	}
}

// normalizeColumnType normalizes the column type by removing size constraints
func (dtm *DataTypeMapper) normalizeColumnType(columnType string) string {
	normalized := strings.ToUpper(strings.TrimSpace(columnType))

	// Remove parentheses and contents (size constraints); keep the inner type
	// for ClickHouse wrappers such as Nullable(Float64).
	if start := strings.Index(normalized, "("); start != -1 {
		if end := strings.LastIndex(normalized, ")"); end > start {
			head := normalized[:start]
			if head == "NULLABLE" || head == "LOWCARDINALITY" {
				return dtm.normalizeColumnType(normalized[start+1 : end])
			}
			normalized = head + normalized[end+1:]
		}
	}

	// "UNSIGNED" and friends do not change the kind
	normalized = strings.TrimSuffix(normalized, " UNSIGNED")
	normalized = strings.TrimSuffix(normalized, " ZEROFILL")

	return strings.Join(strings.Fields(normalized), " ")
}

// NormalizeValue converts a scanned driver value into a JSON-friendly value
// of the given kind: numbers become int64 or float64, temporals RFC3339
// strings, JSON columns nested records.
func (dtm *DataTypeMapper) NormalizeValue(value interface{}, kind model.ColumnKind) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch kind {
	case model.ColumnKindNumeric:
		return dtm.convertToNumber(value)
	case model.ColumnKindBoolean:
		return dtm.convertToBoolean(value)
	case model.ColumnKindTemporal:
		return dtm.convertToTimeString(value)
	case model.ColumnKindJSON:
		return dtm.convertToNested(value)
	case model.ColumnKindText:
		return dtm.convertToString(value)
	default:
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		if t, ok := value.(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
		return value, nil
	}
}

func (dtm *DataTypeMapper) convertToNumber(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return v, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case *big.Int:
		return dtm.parseNumber(v.String())
	case *big.Float:
		f, _ := v.Float64()
		return f, nil
	case string:
		return dtm.parseNumber(v)
	case []byte:
		return dtm.parseNumber(string(v))
	case fmt.Stringer:
		// decimal types from drivers (clickhouse, go-ora) print canonical text
		return dtm.parseNumber(v.String())
	default:
		return nil, fmt.Errorf("cannot convert %T to number", value)
	}
}

func (dtm *DataTypeMapper) parseNumber(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	// postgres money prints with the currency symbol and grouping, e.g. -$1,234.50
	plain := stripCurrency(s)
	if plain != s {
		if f, err := strconv.ParseFloat(plain, 64); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot parse number %q", s)
}

func stripCurrency(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ',', ' ':
			return -1
		}
		return r
	}, s)
}

func (dtm *DataTypeMapper) convertToString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (dtm *DataTypeMapper) convertToBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int8:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return dtm.parseBool(v), nil
	case []byte:
		if len(v) == 1 && (v[0] == 0 || v[0] == 1) {
			// MySQL BIT(1)
			return v[0] == 1, nil
		}
		return dtm.parseBool(string(v)), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func (dtm *DataTypeMapper) parseBool(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return lower == "true" || lower == "1" || lower == "t" || lower == "yes"
}

func (dtm *DataTypeMapper) convertToTimeString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		// YEAR columns and unix-epoch style values
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (dtm *DataTypeMapper) convertToNested(value interface{}) (interface{}, error) {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return value, nil
	}

	var nested interface{}
	if err := json.Unmarshal(raw, &nested); err != nil {
		// not valid JSON, hand it back as text
		return string(raw), nil
	}
	return nested, nil
}
