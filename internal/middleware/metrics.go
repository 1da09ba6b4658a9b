package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics
type PrometheusMetrics struct {
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec
	HttpResponseSize    *prometheus.HistogramVec

	// Chart query metrics
	ChartQueryTotal    *prometheus.CounterVec
	ChartQueryDuration *prometheus.HistogramVec
	ChartQueryRows     *prometheus.CounterVec
	ChartQueryErrors   *prometheus.CounterVec

	// Schema cache metrics
	SchemaCacheHits    *prometheus.CounterVec
	SchemaCacheMisses  *prometheus.CounterVec
	SchemaLookups      *prometheus.CounterVec
	SchemaLookupErrors *prometheus.CounterVec

	// Connection pool metrics
	ConnectionPoolInUse    *prometheus.GaugeVec
	ConnectionPoolWait     *prometheus.HistogramVec
	ConnectionPoolTimeouts *prometheus.CounterVec

	// Data source health metrics
	DataSourceUp *prometheus.GaugeVec

	RateLimited *prometheus.CounterVec
}

var (
	metrics     *PrometheusMetrics
	metricsOnce sync.Once
)

// InitMetrics initializes all Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		metrics = newPrometheusMetrics()
	})
}

func newPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		HttpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HttpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_gateway_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HttpResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_gateway_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "endpoint"},
		),

		ChartQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_chart_queries_total",
				Help: "Total number of chart queries by outcome",
			},
			[]string{"datasource", "table", "status"},
		),
		ChartQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_gateway_chart_query_duration_seconds",
				Help:    "Chart query latency from validation to mapped rows",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"datasource", "table"},
		),
		ChartQueryRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_chart_query_rows_total",
				Help: "Total number of records returned by chart queries",
			},
			[]string{"datasource", "table"},
		),
		ChartQueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_chart_query_errors_total",
				Help: "Total number of chart query failures by error kind",
			},
			[]string{"datasource", "kind"},
		),

		SchemaCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_schema_cache_hits_total",
				Help: "Schema cache lookups served from cache",
			},
			[]string{"datasource"},
		),
		SchemaCacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_schema_cache_misses_total",
				Help: "Schema cache lookups that required a metadata query",
			},
			[]string{"datasource"},
		),
		SchemaLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_schema_lookups_total",
				Help: "Metadata queries issued by the schema cache",
			},
			[]string{"datasource"},
		),
		SchemaLookupErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_schema_lookup_errors_total",
				Help: "Failed metadata queries",
			},
			[]string{"datasource"},
		),

		ConnectionPoolInUse: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chart_gateway_connection_pool_in_use",
				Help: "Connections currently acquired from the pool",
			},
			[]string{"datasource", "database_type"},
		),
		ConnectionPoolWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_gateway_connection_pool_wait_seconds",
				Help:    "Time spent waiting for a connection from the pool",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"datasource", "database_type"},
		),
		ConnectionPoolTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_connection_pool_timeouts_total",
				Help: "Acquisitions that gave up after the acquire timeout",
			},
			[]string{"datasource", "database_type"},
		),

		DataSourceUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chart_gateway_datasource_up",
				Help: "Whether the data source answered its last health check (1=up, 0=down)",
			},
			[]string{"datasource", "database_type"},
		),

		RateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_gateway_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// GetMetrics returns the initialized metrics
func GetMetrics() *PrometheusMetrics {
	return metrics
}

// PrometheusMiddleware is a Gin middleware that records HTTP metrics
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		endpoint := c.FullPath()

		if endpoint == "" {
			endpoint = "unmatched"
		}

		metrics.HttpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		metrics.HttpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)

		if c.Writer.Size() > 0 {
			metrics.HttpResponseSize.WithLabelValues(method, endpoint).Observe(float64(c.Writer.Size()))
		}
	}
}

// RecordChartQuery records a completed chart query
func RecordChartQuery(dataSource, table, status string, duration time.Duration, rows int) {
	if metrics == nil {
		return
	}

	metrics.ChartQueryTotal.WithLabelValues(dataSource, table, status).Inc()
	metrics.ChartQueryDuration.WithLabelValues(dataSource, table).Observe(duration.Seconds())

	if status == "success" && rows > 0 {
		metrics.ChartQueryRows.WithLabelValues(dataSource, table).Add(float64(rows))
	}
}

// RecordChartQueryError records a chart query failure
func RecordChartQueryError(dataSource, kind string) {
	if metrics == nil {
		return
	}

	metrics.ChartQueryErrors.WithLabelValues(dataSource, kind).Inc()
}

// RecordSchemaCacheAccess records a schema cache hit or miss
func RecordSchemaCacheAccess(dataSource string, hit bool) {
	if metrics == nil {
		return
	}

	if hit {
		metrics.SchemaCacheHits.WithLabelValues(dataSource).Inc()
	} else {
		metrics.SchemaCacheMisses.WithLabelValues(dataSource).Inc()
	}
}

// RecordSchemaLookup records a metadata query issued by the schema cache
func RecordSchemaLookup(dataSource string, err error) {
	if metrics == nil {
		return
	}

	metrics.SchemaLookups.WithLabelValues(dataSource).Inc()
	if err != nil {
		metrics.SchemaLookupErrors.WithLabelValues(dataSource).Inc()
	}
}

// RecordPoolAcquire records how long an acquisition waited and whether it timed out
func RecordPoolAcquire(dataSource, databaseType string, wait time.Duration, timedOut bool) {
	if metrics == nil {
		return
	}

	metrics.ConnectionPoolWait.WithLabelValues(dataSource, databaseType).Observe(wait.Seconds())
	if timedOut {
		metrics.ConnectionPoolTimeouts.WithLabelValues(dataSource, databaseType).Inc()
	}
}

// UpdateConnectionPoolInUse updates the in-use gauge of a pool
func UpdateConnectionPoolInUse(dataSource, databaseType string, inUse int) {
	if metrics == nil {
		return
	}

	metrics.ConnectionPoolInUse.WithLabelValues(dataSource, databaseType).Set(float64(inUse))
}

// UpdateDataSourceHealth updates data source health metrics
func UpdateDataSourceHealth(dataSource, databaseType string, up bool) {
	if metrics == nil {
		return
	}

	upValue := 0.0
	if up {
		upValue = 1.0
	}
	metrics.DataSourceUp.WithLabelValues(dataSource, databaseType).Set(upValue)
}

// RecordRateLimited records a request rejected by the rate limiter
func RecordRateLimited(endpoint string) {
	if metrics == nil {
		return
	}

	metrics.RateLimited.WithLabelValues(endpoint).Inc()
}
