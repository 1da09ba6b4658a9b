package service

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates chart query outcomes per data source for the
// stats endpoint. Prometheus gets the same events through the middleware
// package; this keeps a queryable in-process summary.
type MetricsCollector struct {
	metrics      map[string]*DataSourceMetrics
	metricsMutex sync.RWMutex

	startTime time.Time
	now       func() time.Time
}

// DataSourceMetrics holds chart query metrics for one data source
type DataSourceMetrics struct {
	DataSource        string           `json:"dataSource"`
	TotalQueries      int64            `json:"totalQueries"`
	SuccessfulQueries int64            `json:"successfulQueries"`
	FailedQueries     int64            `json:"failedQueries"`
	TotalRows         int64            `json:"totalRows"`
	MinDuration       time.Duration    `json:"minDuration"`
	MaxDuration       time.Duration    `json:"maxDuration"`
	AvgDuration       time.Duration    `json:"avgDuration"`
	QueriesByTable    map[string]int64 `json:"queriesByTable"`
	ErrorsByKind      map[string]int64 `json:"errorsByKind"`
	LastQueryTime     time.Time        `json:"lastQueryTime"`
	LastErrorKind     string           `json:"lastErrorKind,omitempty"`
	LastErrorTime     time.Time        `json:"lastErrorTime,omitempty"`

	totalDuration time.Duration
}

// GlobalMetrics summarizes every data source
type GlobalMetrics struct {
	TotalQueries      int64         `json:"totalQueries"`
	SuccessfulQueries int64         `json:"successfulQueries"`
	FailedQueries     int64         `json:"failedQueries"`
	TotalRows         int64         `json:"totalRows"`
	AvgDuration       time.Duration `json:"avgDuration"`
	Uptime            time.Duration `json:"uptime"`
	TopDataSources    []string      `json:"topDataSources"`
}

// QueryOutcome is one finished chart query. ErrorKind is empty on success.
type QueryOutcome struct {
	DataSource string
	Table      string
	Duration   time.Duration
	Rows       int
	ErrorKind  string
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string]*DataSourceMetrics),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RecordQuery folds one outcome into the per-source metrics
func (mc *MetricsCollector) RecordQuery(outcome QueryOutcome) {
	mc.metricsMutex.Lock()
	defer mc.metricsMutex.Unlock()

	ds, exists := mc.metrics[outcome.DataSource]
	if !exists {
		ds = &DataSourceMetrics{
			DataSource:     outcome.DataSource,
			MinDuration:    outcome.Duration,
			MaxDuration:    outcome.Duration,
			QueriesByTable: make(map[string]int64),
			ErrorsByKind:   make(map[string]int64),
		}
		mc.metrics[outcome.DataSource] = ds
	}

	now := mc.now()
	ds.TotalQueries++
	ds.totalDuration += outcome.Duration
	ds.LastQueryTime = now
	if outcome.Table != "" {
		ds.QueriesByTable[outcome.Table]++
	}

	if outcome.ErrorKind == "" {
		ds.SuccessfulQueries++
		ds.TotalRows += int64(outcome.Rows)
	} else {
		ds.FailedQueries++
		ds.ErrorsByKind[outcome.ErrorKind]++
		ds.LastErrorKind = outcome.ErrorKind
		ds.LastErrorTime = now
	}

	if outcome.Duration < ds.MinDuration {
		ds.MinDuration = outcome.Duration
	}
	if outcome.Duration > ds.MaxDuration {
		ds.MaxDuration = outcome.Duration
	}
	ds.AvgDuration = ds.totalDuration / time.Duration(ds.TotalQueries)
}

// GetDataSourceMetrics returns a copy of one source's metrics
func (mc *MetricsCollector) GetDataSourceMetrics(dataSource string) (*DataSourceMetrics, bool) {
	mc.metricsMutex.RLock()
	defer mc.metricsMutex.RUnlock()

	ds, exists := mc.metrics[dataSource]
	if !exists {
		return nil, false
	}
	return ds.clone(), true
}

// GetAllMetrics returns a copy of every source's metrics
func (mc *MetricsCollector) GetAllMetrics() map[string]*DataSourceMetrics {
	mc.metricsMutex.RLock()
	defer mc.metricsMutex.RUnlock()

	out := make(map[string]*DataSourceMetrics, len(mc.metrics))
	for name, ds := range mc.metrics {
		out[name] = ds.clone()
	}
	return out
}

// GetGlobalMetrics sums every source
func (mc *MetricsCollector) GetGlobalMetrics() *GlobalMetrics {
	mc.metricsMutex.RLock()
	defer mc.metricsMutex.RUnlock()

	global := &GlobalMetrics{Uptime: mc.now().Sub(mc.startTime)}
	var total time.Duration
	for _, ds := range mc.metrics {
		global.TotalQueries += ds.TotalQueries
		global.SuccessfulQueries += ds.SuccessfulQueries
		global.FailedQueries += ds.FailedQueries
		global.TotalRows += ds.TotalRows
		total += ds.totalDuration
	}
	if global.TotalQueries > 0 {
		global.AvgDuration = total / time.Duration(global.TotalQueries)
	}
	global.TopDataSources = mc.topDataSources(5)
	return global
}

// ResetMetrics forgets one source's metrics
func (mc *MetricsCollector) ResetMetrics(dataSource string) {
	mc.metricsMutex.Lock()
	defer mc.metricsMutex.Unlock()
	delete(mc.metrics, dataSource)
}

// topDataSources returns up to limit sources by query count. Callers hold the lock.
func (mc *MetricsCollector) topDataSources(limit int) []string {
	names := make([]string, 0, len(mc.metrics))
	for name := range mc.metrics {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := mc.metrics[names[i]], mc.metrics[names[j]]
		if a.TotalQueries != b.TotalQueries {
			return a.TotalQueries > b.TotalQueries
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

func (ds *DataSourceMetrics) clone() *DataSourceMetrics {
	copied := *ds
	copied.QueriesByTable = make(map[string]int64, len(ds.QueriesByTable))
	for k, v := range ds.QueriesByTable {
		copied.QueriesByTable[k] = v
	}
	copied.ErrorsByKind = make(map[string]int64, len(ds.ErrorsByKind))
	for k, v := range ds.ErrorsByKind {
		copied.ErrorsByKind[k] = v
	}
	return &copied
}
