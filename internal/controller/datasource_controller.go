package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

type DataSourceController struct {
	service   service.DataSourceService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewDataSourceController(service service.DataSourceService, logger *slog.Logger) *DataSourceController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataSourceController{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// CreateDataSource godoc
// @Summary Register a data source
// @Description Registers a named connection target for chart queries
// @Tags datasources
// @Accept json
// @Produce json
// @Param request body service.CreateDataSourceRequest true "Create data source request"
// @Success 201 {object} response.Envelope{data=model.DataSource}
// @Failure 400 {object} response.Envelope
// @Router /api/v1/datasources [post]
func (dc *DataSourceController) CreateDataSource(c *gin.Context) {
	var req service.CreateDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, "Invalid request body", err)
		return
	}

	if !dc.validate(c, &req) {
		return
	}

	dataSource, err := dc.service.CreateDataSource(c.Request.Context(), &req)
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusCreated, response.SuccessResponse(redacted(dataSource), middleware.GetCorrelationID(c)))
}

// GetDataSource godoc
// @Summary Get a data source by name
// @Tags datasources
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope{data=model.DataSource}
// @Failure 404 {object} response.Envelope
// @Router /api/v1/datasources/{name} [get]
func (dc *DataSourceController) GetDataSource(c *gin.Context) {
	dataSource, err := dc.service.GetDataSource(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(redacted(dataSource), middleware.GetCorrelationID(c)))
}

// ListDataSources godoc
// @Summary List data sources
// @Tags datasources
// @Produce json
// @Param status query string false "Filter by status (active, inactive, error)"
// @Param type query string false "Filter by database type"
// @Param limit query int false "Maximum number of items to return (default: 20, max: 100)"
// @Param offset query int false "Number of items to skip (default: 0)"
// @Success 200 {object} response.Envelope{data=service.ListDataSourcesResponse}
// @Router /api/v1/datasources [get]
func (dc *DataSourceController) ListDataSources(c *gin.Context) {
	var req service.ListDataSourcesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondInvalidRequest(c, "Invalid query parameters", err)
		return
	}

	if !dc.validate(c, &req) {
		return
	}

	resp, err := dc.service.ListDataSources(c.Request.Context(), &req)
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	for i, ds := range resp.DataSources {
		resp.DataSources[i] = redacted(ds)
	}
	c.JSON(http.StatusOK, response.SuccessResponse(resp, middleware.GetCorrelationID(c)))
}

// UpdateDataSource godoc
// @Summary Update a data source
// @Description Replaces the connection config or status. Open connections are recycled.
// @Tags datasources
// @Accept json
// @Produce json
// @Param name path string true "Data source name"
// @Param request body service.UpdateDataSourceRequest true "Update data source request"
// @Success 200 {object} response.Envelope{data=model.DataSource}
// @Failure 404 {object} response.Envelope
// @Router /api/v1/datasources/{name} [put]
func (dc *DataSourceController) UpdateDataSource(c *gin.Context) {
	var req service.UpdateDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, "Invalid request body", err)
		return
	}

	if !dc.validate(c, &req) {
		return
	}

	dataSource, err := dc.service.UpdateDataSource(c.Request.Context(), c.Param("name"), &req)
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(redacted(dataSource), middleware.GetCorrelationID(c)))
}

// DeleteDataSource godoc
// @Summary Delete a data source
// @Tags datasources
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/datasources/{name} [delete]
func (dc *DataSourceController) DeleteDataSource(c *gin.Context) {
	dc.changeDataSource(c, "Data source deleted", dc.service.DeleteDataSource)
}

// ActivateDataSource godoc
// @Summary Activate a data source
// @Tags datasources
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope
// @Router /api/v1/datasources/{name}/activate [post]
func (dc *DataSourceController) ActivateDataSource(c *gin.Context) {
	dc.changeDataSource(c, "Data source activated", dc.service.ActivateDataSource)
}

// DeactivateDataSource godoc
// @Summary Deactivate a data source
// @Tags datasources
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope
// @Router /api/v1/datasources/{name}/deactivate [post]
func (dc *DataSourceController) DeactivateDataSource(c *gin.Context) {
	dc.changeDataSource(c, "Data source deactivated", dc.service.DeactivateDataSource)
}

// TestDataSource godoc
// @Summary Test connectivity of a registered data source
// @Tags datasources
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope{data=database.HealthCheckResult}
// @Router /api/v1/datasources/{name}/test [post]
func (dc *DataSourceController) TestDataSource(c *gin.Context) {
	result, err := dc.service.TestDataSource(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(result, middleware.GetCorrelationID(c)))
}

// GetDataSourceStats godoc
// @Summary Get data source statistics
// @Tags datasources
// @Produce json
// @Success 200 {object} response.Envelope{data=service.DataSourceStatsResponse}
// @Router /api/v1/datasources/stats [get]
func (dc *DataSourceController) GetDataSourceStats(c *gin.Context) {
	stats, err := dc.service.GetDataSourceStats(c.Request.Context())
	if err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(stats, middleware.GetCorrelationID(c)))
}

func (dc *DataSourceController) changeDataSource(c *gin.Context, message string, change func(ctx context.Context, name string) error) {
	if err := change(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, dc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessMessageResponse(message, middleware.GetCorrelationID(c)))
}

func (dc *DataSourceController) validate(c *gin.Context, req interface{}) bool {
	if err := dc.validator.Struct(req); err != nil {
		appErr := utils.NewValidationError("Validation failed: "+err.Error(), "")
		c.JSON(utils.GetErrorStatus(appErr), response.ErrorResponseFromAppError(appErr, middleware.GetCorrelationID(c)))
		return false
	}
	return true
}

// redacted hides stored secrets from API responses
func redacted(ds *model.DataSource) *model.DataSource {
	if ds == nil {
		return nil
	}
	copied := *ds
	copied.Config = ds.Config.Redacted()
	return &copied
}
