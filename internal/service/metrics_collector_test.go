package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorRecordQuery(t *testing.T) {
	mc := NewMetricsCollector()
	now := time.Unix(1700000000, 0)
	mc.now = func() time.Time { return now }

	mc.RecordQuery(QueryOutcome{DataSource: "warehouse", Table: "sales", Duration: 20 * time.Millisecond, Rows: 3})
	mc.RecordQuery(QueryOutcome{DataSource: "warehouse", Table: "sales", Duration: 40 * time.Millisecond, Rows: 5})
	mc.RecordQuery(QueryOutcome{DataSource: "warehouse", Table: "orders", Duration: 60 * time.Millisecond, ErrorKind: "UnknownField"})

	ds, ok := mc.GetDataSourceMetrics("warehouse")
	require.True(t, ok)
	assert.Equal(t, int64(3), ds.TotalQueries)
	assert.Equal(t, int64(2), ds.SuccessfulQueries)
	assert.Equal(t, int64(1), ds.FailedQueries)
	assert.Equal(t, int64(8), ds.TotalRows)
	assert.Equal(t, 20*time.Millisecond, ds.MinDuration)
	assert.Equal(t, 60*time.Millisecond, ds.MaxDuration)
	assert.Equal(t, 40*time.Millisecond, ds.AvgDuration)
	assert.Equal(t, map[string]int64{"sales": 2, "orders": 1}, ds.QueriesByTable)
	assert.Equal(t, "UnknownField", ds.LastErrorKind)
	assert.Equal(t, now, ds.LastErrorTime)

	// returned metrics are copies
	ds.QueriesByTable["sales"] = 100
	again, _ := mc.GetDataSourceMetrics("warehouse")
	assert.Equal(t, int64(2), again.QueriesByTable["sales"])

	_, ok = mc.GetDataSourceMetrics("missing")
	assert.False(t, ok)
}

func TestMetricsCollectorGlobal(t *testing.T) {
	mc := NewMetricsCollector()

	for i := 0; i < 3; i++ {
		mc.RecordQuery(QueryOutcome{DataSource: "b", Duration: time.Millisecond, Rows: 1})
	}
	mc.RecordQuery(QueryOutcome{DataSource: "a", Duration: time.Millisecond, Rows: 1})
	mc.RecordQuery(QueryOutcome{DataSource: "c", Duration: time.Millisecond, ErrorKind: "QueryTimeout"})

	global := mc.GetGlobalMetrics()
	assert.Equal(t, int64(5), global.TotalQueries)
	assert.Equal(t, int64(4), global.SuccessfulQueries)
	assert.Equal(t, int64(1), global.FailedQueries)
	assert.Equal(t, int64(4), global.TotalRows)
	assert.Equal(t, time.Millisecond, global.AvgDuration)
	assert.Equal(t, []string{"b", "a", "c"}, global.TopDataSources)

	mc.ResetMetrics("b")
	assert.Len(t, mc.GetAllMetrics(), 2)
}
