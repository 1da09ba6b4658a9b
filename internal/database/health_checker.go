package database

import (
	"context"
	"fmt"
	"time"

	"chart-gateway/internal/model"
)

// HealthChecker performs health checks on data source connections
type HealthChecker struct {
	connPool  *ConnectionPool
	registry  *DriverRegistry
	passwords PasswordProvider
}

// NewHealthChecker creates a new HealthChecker instance
func NewHealthChecker(connPool *ConnectionPool) *HealthChecker {
	return &HealthChecker{
		connPool:  connPool,
		registry:  connPool.registry,
		passwords: connPool.passwords,
	}
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	DataSource   string        `json:"dataSource"`
	DatabaseType string        `json:"databaseType,omitempty"`
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	Latency      time.Duration `json:"latency"`
	CheckedAt    time.Time     `json:"checkedAt"`
}

// DatabaseHealthSummary represents a summary of data source health
type DatabaseHealthSummary struct {
	TotalSources     int                 `json:"totalSources"`
	HealthySources   int                 `json:"healthySources"`
	UnhealthySources int                 `json:"unhealthySources"`
	Results          []HealthCheckResult `json:"results"`
	CheckedAt        time.Time           `json:"checkedAt"`
}

// CheckDataSourceHealth acquires a pooled connection for source and pings it
func (hc *HealthChecker) CheckDataSourceHealth(ctx context.Context, source string) *HealthCheckResult {
	startTime := time.Now()

	result := &HealthCheckResult{
		DataSource: source,
		CheckedAt:  startTime,
	}

	conn, err := hc.connPool.Acquire(ctx, source)
	if err != nil {
		result.Status = "unhealthy"
		result.Message = fmt.Sprintf("Failed to get connection: %v", err)
		result.Latency = time.Since(startTime)
		return result
	}
	defer conn.Release()

	result.DatabaseType = string(conn.DatabaseType())
	err = conn.PingContext(ctx)
	result.Latency = time.Since(startTime)

	if err != nil {
		result.Status = "unhealthy"
		result.Message = fmt.Sprintf("Connection test failed: %v", err)
	} else {
		result.Status = "healthy"
		result.Message = "Connection successful"
	}

	return result
}

// CheckAllConnectionsHealth pings every open pool
func (hc *HealthChecker) CheckAllConnectionsHealth(ctx context.Context) *DatabaseHealthSummary {
	start := time.Now()
	health := hc.connPool.HealthCheck(ctx)
	stats := hc.connPool.GetStats()

	summary := &DatabaseHealthSummary{
		TotalSources: len(health),
		Results:      make([]HealthCheckResult, 0, len(health)),
		CheckedAt:    time.Now(),
	}

	for _, name := range hc.connPool.Sources() {
		ok, checked := health[name]
		if !checked {
			continue
		}
		result := HealthCheckResult{
			DataSource:   name,
			DatabaseType: stats[name].DatabaseType,
			Latency:      time.Since(start),
			CheckedAt:    summary.CheckedAt,
		}
		if ok {
			result.Status = "healthy"
			summary.HealthySources++
		} else {
			result.Status = "unhealthy"
			result.Message = "Ping failed"
			summary.UnhealthySources++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary
}

// CheckDataSourceConnectivity tests a data source definition without using the pool
func (hc *HealthChecker) CheckDataSourceConnectivity(ctx context.Context, ds *model.DataSource) *HealthCheckResult {
	startTime := time.Now()

	result := &HealthCheckResult{
		DataSource:   ds.Name,
		DatabaseType: string(ds.Type),
		CheckedAt:    startTime,
	}

	driver, err := hc.registry.GetDriver(ds.Type)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Driver not available: %v", err)
		result.Latency = time.Since(startTime)
		return result
	}

	password, err := hc.passwords.Password(ctx, ds)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Failed to resolve credentials: %v", err)
		result.Latency = time.Since(startTime)
		return result
	}

	db, err := driver.Open(&ds.Config, password)
	if err != nil {
		result.Status = "unhealthy"
		result.Message = fmt.Sprintf("Failed to open connection: %v", err)
		result.Latency = time.Since(startTime)
		return result
	}
	defer db.Close()

	err = db.PingContext(ctx)
	result.Latency = time.Since(startTime)

	if err != nil {
		result.Status = "unhealthy"
		result.Message = fmt.Sprintf("Connection test failed: %v", err)
	} else {
		result.Status = "healthy"
		result.Message = "Connection successful"
	}

	return result
}

// PeriodicHealthCheck performs periodic health checks until ctx is done
func (hc *HealthChecker) PeriodicHealthCheck(ctx context.Context, interval time.Duration) <-chan *DatabaseHealthSummary {
	results := make(chan *DatabaseHealthSummary)

	go func() {
		defer close(results)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary := hc.CheckAllConnectionsHealth(ctx)
				select {
				case results <- summary:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results
}

// ValidateDataSourceConfiguration checks the required fields of a data source definition
func (hc *HealthChecker) ValidateDataSourceConfiguration(config *model.DataSourceConfig, dbType model.DatabaseType) error {
	driver, err := hc.registry.GetDriver(dbType)
	if err != nil {
		return fmt.Errorf("driver not available for database type %s: %w", dbType, err)
	}

	if config.DSN != "" {
		return nil
	}

	switch dbType {
	case model.DatabaseTypeSQLite:
		if config.Database == "" {
			return fmt.Errorf("database path is required")
		}
		return nil
	case model.DatabaseTypeSnowflake:
		if config.Account == "" {
			return fmt.Errorf("account is required")
		}
	default:
		if config.Host == "" {
			return fmt.Errorf("host is required")
		}
		if config.Port <= 0 {
			config.Port = driver.DefaultPort()
		}
	}

	if config.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Username == "" {
		return fmt.Errorf("username is required")
	}
	if config.AuthMode == model.AuthModeRDSIAM && config.Region == "" {
		return fmt.Errorf("region is required for %s", model.AuthModeRDSIAM)
	}

	return nil
}

// GetDriverInfo returns information about available database drivers
func (hc *HealthChecker) GetDriverInfo() map[string]DriverInfo {
	info := make(map[string]DriverInfo)

	for _, dbType := range hc.registry.ListDrivers() {
		driver, err := hc.registry.GetDriver(dbType)
		if err != nil {
			continue
		}
		info[string(dbType)] = DriverInfo{
			Type:        string(dbType),
			DriverName:  driver.DriverName(),
			DefaultPort: driver.DefaultPort(),
			Dialect:     driver.Dialect().Name,
		}
	}

	return info
}

// DriverInfo contains information about a database driver
type DriverInfo struct {
	Type        string `json:"type"`
	DriverName  string `json:"driverName"`
	DefaultPort int    `json:"defaultPort"`
	Dialect     string `json:"dialect"`
}
