package controller

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

type ChartController struct {
	service   service.ChartService
	validator *validator.Validate
	logger    *slog.Logger
}

// CompileResponse describes a compiled statement without its bound values
type CompileResponse struct {
	Text           string               `json:"text"`
	Columns        []query.OutputColumn `json:"columns"`
	ParameterCount int                  `json:"parameterCount"`
}

func NewChartController(service service.ChartService, logger *slog.Logger) *ChartController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChartController{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// GetChartData godoc
// @Summary Run a chart query against the default data source
// @Description Validates the query spec against the table schema, compiles and executes it
// @Tags charts
// @Accept json
// @Produce json
// @Param request body model.QuerySpec true "Chart query spec"
// @Success 200 {object} response.Envelope{data=[]model.ChartDataRecord}
// @Failure 404 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /api/v1/charts/data [post]
func (cc *ChartController) GetChartData(c *gin.Context) {
	cc.chartData(c, "")
}

// GetChartDataForSource godoc
// @Summary Run a chart query against a named data source
// @Tags charts
// @Accept json
// @Produce json
// @Param name path string true "Data source name"
// @Param request body model.QuerySpec true "Chart query spec"
// @Success 200 {object} response.Envelope{data=[]model.ChartDataRecord}
// @Router /api/v1/datasources/{name}/charts/data [post]
func (cc *ChartController) GetChartDataForSource(c *gin.Context) {
	cc.chartData(c, c.Param("name"))
}

func (cc *ChartController) chartData(c *gin.Context, source string) {
	spec, ok := cc.bindSpec(c)
	if !ok {
		return
	}

	records, err := cc.service.GetChartData(c.Request.Context(), source, spec)
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(records, middleware.GetCorrelationID(c)))
}

// CompileChart godoc
// @Summary Compile a chart query without running it
// @Description Returns the canonical statement text and output columns. Bound values are withheld.
// @Tags charts
// @Accept json
// @Produce json
// @Param source query string false "Data source name"
// @Param request body model.QuerySpec true "Chart query spec"
// @Success 200 {object} response.Envelope{data=CompileResponse}
// @Router /api/v1/charts/compile [post]
func (cc *ChartController) CompileChart(c *gin.Context) {
	spec, ok := cc.bindSpec(c)
	if !ok {
		return
	}

	stmt, err := cc.service.Compile(c.Request.Context(), c.Query("source"), spec)
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(CompileResponse{
		Text:           stmt.Text,
		Columns:        stmt.Columns,
		ParameterCount: len(stmt.Parameters),
	}, middleware.GetCorrelationID(c)))
}

// GetTableColumns godoc
// @Summary List the columns of a table
// @Tags schema
// @Produce json
// @Param name path string false "Data source name"
// @Param table path string true "Table name"
// @Success 200 {object} response.Envelope{data=[]model.TableColumn}
// @Failure 404 {object} response.Envelope
// @Router /api/v1/datasources/{name}/tables/{table}/columns [get]
func (cc *ChartController) GetTableColumns(c *gin.Context) {
	columns, err := cc.service.GetColumns(c.Request.Context(), c.Param("name"), c.Param("table"))
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse(columns, middleware.GetCorrelationID(c)))
}

// InvalidateTableSchema godoc
// @Summary Drop the cached columns of a table
// @Tags schema
// @Produce json
// @Param name path string true "Data source name"
// @Param table path string true "Table name"
// @Success 200 {object} response.Envelope
// @Router /api/v1/datasources/{name}/tables/{table}/schema-cache [delete]
func (cc *ChartController) InvalidateTableSchema(c *gin.Context) {
	cc.service.InvalidateSchema(c.Param("name"), c.Param("table"))
	c.JSON(http.StatusOK, response.SuccessMessageResponse("Schema cache invalidated", middleware.GetCorrelationID(c)))
}

// InvalidateSourceSchema godoc
// @Summary Drop every cached table of a data source
// @Tags schema
// @Produce json
// @Param name path string true "Data source name"
// @Success 200 {object} response.Envelope
// @Router /api/v1/datasources/{name}/schema-cache [delete]
func (cc *ChartController) InvalidateSourceSchema(c *gin.Context) {
	cc.service.InvalidateSource(c.Param("name"))
	c.JSON(http.StatusOK, response.SuccessMessageResponse("Schema cache invalidated", middleware.GetCorrelationID(c)))
}

// GetChartStats godoc
// @Summary Chart query statistics
// @Tags charts
// @Produce json
// @Success 200 {object} response.Envelope{data=service.ChartStatsResponse}
// @Router /api/v1/charts/stats [get]
func (cc *ChartController) GetChartStats(c *gin.Context) {
	c.JSON(http.StatusOK, response.SuccessResponse(cc.service.GetStats(), middleware.GetCorrelationID(c)))
}

func (cc *ChartController) bindSpec(c *gin.Context) (*model.QuerySpec, bool) {
	var spec model.QuerySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondInvalidRequest(c, "Invalid request body", err)
		return nil, false
	}

	if err := cc.validator.Struct(&spec); err != nil {
		appErr := utils.NewValidationError("Validation failed: "+err.Error(), "")
		c.JSON(utils.GetErrorStatus(appErr), response.ErrorResponseFromAppError(appErr, middleware.GetCorrelationID(c)))
		return nil, false
	}

	return &spec, true
}
