package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"chart-gateway/internal/database"
)

type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Database    DatabaseStatus    `json:"database"`
	DataSources map[string]string `json:"dataSources"`
	Connections map[string]string `json:"connections"`
}

type DatabaseStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PoolHealth reports the last known health of every open pool
type PoolHealth interface {
	Sources() []string
	IsHealthy(source string) bool
	GetStats() map[string]database.ConnectionStats
}

type HealthController struct {
	db      *gorm.DB
	pool    PoolHealth
	version string
}

// NewHealthController creates a health controller. db may be nil when no
// registry database is configured.
func NewHealthController(db *gorm.DB, pool PoolHealth, version string) *HealthController {
	return &HealthController{
		db:      db,
		pool:    pool,
		version: version,
	}
}

func (hc *HealthController) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Service:     "chart-gateway",
		Version:     hc.version,
		DataSources: make(map[string]string),
		Connections: make(map[string]string),
	}

	response.Database = hc.registryStatus(c.Request.Context(), response.Connections)
	if response.Database.Status == "disconnected" {
		response.Status = "unhealthy"
	}

	// a failing data source degrades the gateway but does not take it down
	if hc.pool != nil {
		stats := hc.pool.GetStats()
		for _, source := range hc.pool.Sources() {
			state := "up"
			if !hc.pool.IsHealthy(source) {
				state = "down"
				if response.Status == "healthy" {
					response.Status = "degraded"
				}
			}
			response.DataSources[source] = state
			if s, ok := stats[source]; ok {
				response.Connections[source+"_in_use"] = strconv.Itoa(s.InUse)
			}
		}
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (hc *HealthController) registryStatus(ctx context.Context, connections map[string]string) DatabaseStatus {
	if hc.db == nil {
		return DatabaseStatus{Status: "disabled", Message: "No registry database configured"}
	}

	sqlDB, err := hc.db.DB()
	if err != nil {
		return DatabaseStatus{Status: "disconnected", Message: "Failed to get database instance"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return DatabaseStatus{Status: "disconnected", Message: "Database ping failed"}
	}

	stats := sqlDB.Stats()
	connections["database_open_connections"] = strconv.Itoa(stats.OpenConnections)
	connections["database_in_use"] = strconv.Itoa(stats.InUse)
	connections["database_idle"] = strconv.Itoa(stats.Idle)
	return DatabaseStatus{Status: "connected", Message: "Database connection healthy"}
}
