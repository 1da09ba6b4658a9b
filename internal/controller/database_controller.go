package controller

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"chart-gateway/internal/database"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

// PoolStats reports per data source pool statistics
type PoolStats interface {
	GetStats() map[string]database.ConnectionStats
}

type DatabaseController struct {
	healthChecker *database.HealthChecker
	pool          PoolStats
	validator     *validator.Validate
	logger        *slog.Logger
}

func NewDatabaseController(healthChecker *database.HealthChecker, pool PoolStats, logger *slog.Logger) *DatabaseController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseController{
		healthChecker: healthChecker,
		pool:          pool,
		validator:     validator.New(),
		logger:        logger,
	}
}

// ConnectionTestRequest is an unregistered data source definition
type ConnectionTestRequest struct {
	Type   model.DatabaseType     `json:"type" validate:"required"`
	Config model.DataSourceConfig `json:"config"`
}

// GetDatabaseTypes godoc
// @Summary Get supported database types
// @Description Returns the registered drivers with their default port and dialect
// @Tags database
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/database/types [get]
func (dc *DatabaseController) GetDatabaseTypes(c *gin.Context) {
	c.JSON(http.StatusOK, response.SuccessResponse(dc.healthChecker.GetDriverInfo(), middleware.GetCorrelationID(c)))
}

// TestDataSourceConnection godoc
// @Summary Test data source connection
// @Description Tests connectivity to a data source definition without adding it to the pool
// @Tags database
// @Accept json
// @Produce json
// @Param request body ConnectionTestRequest true "Data source definition"
// @Success 200 {object} response.Envelope{data=database.HealthCheckResult}
// @Failure 400 {object} response.Envelope
// @Router /api/v1/database/test-connection [post]
func (dc *DatabaseController) TestDataSourceConnection(c *gin.Context) {
	req, ok := dc.bindDefinition(c)
	if !ok {
		return
	}

	if err := dc.healthChecker.ValidateDataSourceConfiguration(&req.Config, req.Type); err != nil {
		respondError(c, dc.logger, utils.NewErrorBuilder(utils.ErrCodeInvalidDataSource).
			WithMessage("Invalid configuration: "+err.Error()).
			Build())
		return
	}

	result := dc.healthChecker.CheckDataSourceConnectivity(c.Request.Context(), &model.DataSource{
		Name:   "connection-test",
		Type:   req.Type,
		Config: req.Config,
	})

	c.JSON(http.StatusOK, response.SuccessResponse(result, middleware.GetCorrelationID(c)))
}

// ValidateDataSourceConfig godoc
// @Summary Validate data source configuration
// @Description Validates a data source configuration without testing the connection
// @Tags database
// @Accept json
// @Produce json
// @Param request body ConnectionTestRequest true "Data source definition"
// @Success 200 {object} response.Envelope
// @Router /api/v1/database/validate-config [post]
func (dc *DatabaseController) ValidateDataSourceConfig(c *gin.Context) {
	req, ok := dc.bindDefinition(c)
	if !ok {
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	if err := dc.healthChecker.ValidateDataSourceConfiguration(&req.Config, req.Type); err != nil {
		c.JSON(http.StatusOK, response.SuccessResponse(gin.H{
			"valid":  false,
			"errors": []string{err.Error()},
		}, correlationID))
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(gin.H{
		"valid":    true,
		"warnings": configWarnings(&req.Config, req.Type),
	}, correlationID))
}

// GetConnectionStats godoc
// @Summary Get connection pool statistics
// @Description Returns statistics for every open data source pool
// @Tags database
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/database/connections/stats [get]
func (dc *DatabaseController) GetConnectionStats(c *gin.Context) {
	stats := dc.pool.GetStats()

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	pools := make([]database.ConnectionStats, 0, len(names))
	for _, name := range names {
		pools = append(pools, stats[name])
	}

	c.JSON(http.StatusOK, response.SuccessResponse(gin.H{
		"totalPools": len(pools),
		"pools":      pools,
	}, middleware.GetCorrelationID(c)))
}

// GetDatabaseHealth godoc
// @Summary Get database health status
// @Description Pings every open data source pool
// @Tags database
// @Produce json
// @Success 200 {object} response.Envelope{data=database.DatabaseHealthSummary}
// @Router /api/v1/database/health [get]
func (dc *DatabaseController) GetDatabaseHealth(c *gin.Context) {
	summary := dc.healthChecker.CheckAllConnectionsHealth(c.Request.Context())
	c.JSON(http.StatusOK, response.SuccessResponse(summary, middleware.GetCorrelationID(c)))
}

func (dc *DatabaseController) bindDefinition(c *gin.Context) (*ConnectionTestRequest, bool) {
	var req ConnectionTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, "Invalid request body", err)
		return nil, false
	}
	if err := dc.validator.Struct(&req); err != nil {
		respondError(c, dc.logger, utils.NewValidationError("Validation failed: "+err.Error(), ""))
		return nil, false
	}
	if !model.IsValidDatabaseType(string(req.Type)) {
		respondError(c, dc.logger, service.ErrInvalidDataSource)
		return nil, false
	}
	return &req, true
}

func configWarnings(config *model.DataSourceConfig, dbType model.DatabaseType) []string {
	warnings := []string{}

	if config.MaxPoolSize > 50 {
		warnings = append(warnings, "Large connection pool size may impact performance")
	}

	if config.AuthMode == model.AuthModePassword || config.AuthMode == "" {
		if config.Password != "" {
			warnings = append(warnings, "Password will be stored encrypted only when a credential vault key is configured")
		}
	}

	if !config.SSL && dbType != model.DatabaseTypeSQLite && config.DSN == "" {
		warnings = append(warnings, "SSL is disabled - connection will not be encrypted")
	}

	return warnings
}
