package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-gateway/internal/database"
	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/repository"
	"chart-gateway/internal/security"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code          int             `json:"code"`
	Data          json.RawMessage `json:"data"`
	Message       string          `json:"message"`
	ErrorCode     string          `json:"errorCode"`
	CorrelationID string          `json:"correlationId"`
}

type fakeChartService struct {
	records []model.ChartDataRecord
	stmt    *query.CompiledStatement
	columns []model.TableColumn
	err     error

	calls       int
	lastSource  string
	lastSpec    *model.QuerySpec
	invalidated []string
}

func (f *fakeChartService) GetChartData(_ context.Context, source string, spec *model.QuerySpec) ([]model.ChartDataRecord, error) {
	f.calls++
	f.lastSource = source
	f.lastSpec = spec
	return f.records, f.err
}

func (f *fakeChartService) Compile(_ context.Context, source string, spec *model.QuerySpec) (*query.CompiledStatement, error) {
	f.calls++
	f.lastSource = source
	f.lastSpec = spec
	return f.stmt, f.err
}

func (f *fakeChartService) GetColumns(_ context.Context, source, _ string) ([]model.TableColumn, error) {
	f.lastSource = source
	return f.columns, f.err
}

func (f *fakeChartService) InvalidateSchema(source, table string) {
	f.invalidated = append(f.invalidated, source+"/"+table)
}

func (f *fakeChartService) InvalidateSource(source string) {
	f.invalidated = append(f.invalidated, source)
}

func (f *fakeChartService) DefaultSource() string { return "warehouse" }

func (f *fakeChartService) GetStats() *service.ChartStatsResponse {
	return &service.ChartStatsResponse{}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chartRouter(svc service.ChartService) *gin.Engine {
	cc := NewChartController(svc, quietLogger())

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.POST("/charts/data", cc.GetChartData)
	router.POST("/charts/compile", cc.CompileChart)
	router.POST("/datasources/:name/charts/data", cc.GetChartDataForSource)
	router.GET("/datasources/:name/tables/:table/columns", cc.GetTableColumns)
	router.DELETE("/datasources/:name/tables/:table/schema-cache", cc.InvalidateTableSchema)
	return router
}

func perform(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

const salesSpec = `{"dataSource":"sales","groups":[{"field":"region"}],"dimensions":[{"field":"amount","aggregation":"sum"}]}`

func TestAppErrorFromMapsEngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"unknown field", &query.ValidationError{Kind: query.UnknownField, Field: "colour"}, utils.ErrCodeUnknownField, http.StatusUnprocessableEntity},
		{"unknown table", &query.ValidationError{Kind: query.UnknownTable, Field: "nope"}, utils.ErrCodeUnknownTable, http.StatusNotFound},
		{"table missing from schema", fmt.Errorf("lookup: %w", metadata.ErrTableNotFound), utils.ErrCodeUnknownTable, http.StatusNotFound},
		{"unknown data source", fmt.Errorf("acquire: %w", database.ErrUnknownDataSource), utils.ErrCodeDataSourceNotFound, http.StatusNotFound},
		{"registry miss", fmt.Errorf("get: %w", repository.ErrDataSourceNotFound), utils.ErrCodeDataSourceNotFound, http.StatusNotFound},
		{"duplicate data source", repository.ErrDataSourceExists, utils.ErrCodeDataSourceExists, http.StatusConflict},
		{"pool exhausted", database.ErrPoolExhausted, utils.ErrCodeConnectionPoolExhausted, http.StatusServiceUnavailable},
		{"schema lookup", &metadata.SchemaLookupError{Source: "w", Table: "t", Err: errors.New("dial")}, utils.ErrCodeSchemaLookupFailed, http.StatusServiceUnavailable},
		{"timeout", &service.QueryExecutionError{Kind: service.ExecutionTimeout, Message: "Query timed out"}, utils.ErrCodeQueryTimeout, http.StatusGatewayTimeout},
		{"generic failure", &service.QueryExecutionError{Kind: service.ExecutionGeneric, Message: "Query execution failed"}, utils.ErrCodeQueryFailed, http.StatusInternalServerError},
		{"unsafe statement", &security.UnsafeStatementError{Statement: "DELETE FROM sales", Err: errors.New("write")}, utils.ErrCodeUnsafeStatement, http.StatusForbidden},
		{"cancelled", context.Canceled, utils.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), utils.ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := appErrorFrom(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, utils.GetErrorStatus(appErr))
		})
	}
}

func TestGetChartDataReturnsRecords(t *testing.T) {
	svc := &fakeChartService{records: []model.ChartDataRecord{
		{"region": "EU", "sum_amount": 150.0},
	}}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", salesSpec)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, env.Code)
	assert.NotEmpty(t, env.CorrelationID)
	assert.JSONEq(t, `[{"region":"EU","sum_amount":150}]`, string(env.Data))
	assert.Equal(t, "", svc.lastSource)
	require.NotNil(t, svc.lastSpec)
	assert.Equal(t, "sales", svc.lastSpec.DataSource)
	assert.Equal(t, model.AggregationSum, svc.lastSpec.Dimensions[0].Aggregation)
}

func TestGetChartDataForSourceUsesPathName(t *testing.T) {
	svc := &fakeChartService{records: []model.ChartDataRecord{}}

	rec, _ := perform(t, chartRouter(svc), http.MethodPost, "/datasources/analytics/charts/data", salesSpec)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analytics", svc.lastSource)
}

func TestGetChartDataValidationFailure(t *testing.T) {
	svc := &fakeChartService{err: &query.ValidationError{Kind: query.UnknownField, Field: "colour"}}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", salesSpec)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 500, env.Code)
	assert.Equal(t, utils.ErrCodeUnknownField, env.ErrorCode)
	assert.Contains(t, env.Message, "colour")
}

func TestGetChartDataUnknownTableIsNotFound(t *testing.T) {
	svc := &fakeChartService{err: &query.ValidationError{Kind: query.UnknownTable, Field: "sales"}}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", salesSpec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, env.Code)
	assert.Equal(t, utils.ErrCodeUnknownTable, env.ErrorCode)
}

func TestGetChartDataRejectsMalformedBody(t *testing.T) {
	svc := &fakeChartService{}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", `{"dataSource":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, utils.ErrCodeInvalidRequest, env.ErrorCode)
	assert.Zero(t, svc.calls)
}

func TestGetChartDataRequiresTable(t *testing.T) {
	svc := &fakeChartService{}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", `{"dimensions":[{"field":"amount"}]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, utils.ErrCodeValidationFailed, env.ErrorCode)
	assert.Zero(t, svc.calls)
}

func TestGetChartDataHidesStatementOnFailure(t *testing.T) {
	svc := &fakeChartService{err: &service.QueryExecutionError{
		Kind:      service.ExecutionGeneric,
		Message:   "Query execution failed",
		Statement: "SELECT `secret_column` FROM `sales`",
		Params:    []interface{}{"hunter2"},
		Err:       errors.New("no such column: secret_column"),
	}}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/data", salesSpec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, utils.ErrCodeQueryFailed, env.ErrorCode)
	assert.Equal(t, "Query execution failed", env.Message)
	assert.NotContains(t, rec.Body.String(), "secret_column")
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestCompileChartWithholdsParameters(t *testing.T) {
	svc := &fakeChartService{stmt: &query.CompiledStatement{
		Text:       "SELECT `region` FROM `sales` WHERE `region` = ? ORDER BY `region` ASC LIMIT 1000",
		Parameters: []interface{}{"EMEA-PRIVATE"},
		Columns:    []query.OutputColumn{{Alias: "region", Kind: model.ColumnKindText}},
	}}

	rec, env := perform(t, chartRouter(svc), http.MethodPost, "/charts/compile?source=analytics", salesSpec)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analytics", svc.lastSource)
	assert.NotContains(t, rec.Body.String(), "EMEA-PRIVATE")

	var compiled CompileResponse
	require.NoError(t, json.Unmarshal(env.Data, &compiled))
	assert.Equal(t, 1, compiled.ParameterCount)
	assert.Equal(t, svc.stmt.Text, compiled.Text)
	require.Len(t, compiled.Columns, 1)
	assert.Equal(t, "region", compiled.Columns[0].Alias)
}

func TestGetTableColumns(t *testing.T) {
	svc := &fakeChartService{columns: []model.TableColumn{
		{TableName: "sales", ColumnName: "region", ColumnType: "VARCHAR(32)"},
	}}

	rec, env := perform(t, chartRouter(svc), http.MethodGet, "/datasources/warehouse/tables/sales/columns", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warehouse", svc.lastSource)
	assert.Contains(t, string(env.Data), `"columnName":"region"`)
}

func TestInvalidateTableSchema(t *testing.T) {
	svc := &fakeChartService{}

	rec, _ := perform(t, chartRouter(svc), http.MethodDelete, "/datasources/warehouse/tables/sales/schema-cache", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"warehouse/sales"}, svc.invalidated)
}

type fakeDataSourceService struct {
	service.DataSourceService

	dataSource *model.DataSource
	err        error
	changed    []string
}

func (f *fakeDataSourceService) CreateDataSource(_ context.Context, req *service.CreateDataSourceRequest) (*model.DataSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.DataSource{Name: req.Name, Type: req.Type, Config: req.Config, Status: model.DataSourceStatusActive}, nil
}

func (f *fakeDataSourceService) GetDataSource(_ context.Context, _ string) (*model.DataSource, error) {
	return f.dataSource, f.err
}

func (f *fakeDataSourceService) DeactivateDataSource(_ context.Context, name string) error {
	f.changed = append(f.changed, name)
	return f.err
}

func dataSourceRouter(svc service.DataSourceService) *gin.Engine {
	dc := NewDataSourceController(svc, quietLogger())

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.POST("/datasources", dc.CreateDataSource)
	router.GET("/datasources/:name", dc.GetDataSource)
	router.POST("/datasources/:name/deactivate", dc.DeactivateDataSource)
	return router
}

func TestCreateDataSourceRedactsPassword(t *testing.T) {
	body := `{"name":"warehouse","type":"mysql","config":{"host":"db","username":"reader","password":"s3cret"}}`

	rec, env := perform(t, dataSourceRouter(&fakeDataSourceService{}), http.MethodPost, "/datasources", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 200, env.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Contains(t, string(env.Data), `"password":"******"`)
}

func TestCreateDataSourceRequiresName(t *testing.T) {
	rec, env := perform(t, dataSourceRouter(&fakeDataSourceService{}), http.MethodPost, "/datasources", `{"type":"mysql"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, utils.ErrCodeValidationFailed, env.ErrorCode)
}

func TestCreateDataSourceConflict(t *testing.T) {
	svc := &fakeDataSourceService{err: fmt.Errorf("failed to create data source: %w", repository.ErrDataSourceExists)}

	rec, env := perform(t, dataSourceRouter(svc), http.MethodPost, "/datasources", `{"name":"warehouse","type":"mysql"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, utils.ErrCodeDataSourceExists, env.ErrorCode)
}

func TestGetDataSourceNotFound(t *testing.T) {
	svc := &fakeDataSourceService{err: fmt.Errorf("failed to get data source: %w", repository.ErrDataSourceNotFound)}

	rec, env := perform(t, dataSourceRouter(svc), http.MethodGet, "/datasources/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, env.Code)
	assert.Equal(t, utils.ErrCodeDataSourceNotFound, env.ErrorCode)
}

func TestDeactivateDataSource(t *testing.T) {
	svc := &fakeDataSourceService{}

	rec, env := perform(t, dataSourceRouter(svc), http.MethodPost, "/datasources/warehouse/deactivate", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Data source deactivated", env.Message)
	assert.Equal(t, []string{"warehouse"}, svc.changed)
}

type fakePoolHealth struct {
	healthy map[string]bool
}

func (f *fakePoolHealth) Sources() []string {
	names := make([]string, 0, len(f.healthy))
	for name := range f.healthy {
		names = append(names, name)
	}
	return names
}

func (f *fakePoolHealth) IsHealthy(source string) bool { return f.healthy[source] }

func (f *fakePoolHealth) GetStats() map[string]database.ConnectionStats {
	return map[string]database.ConnectionStats{"warehouse": {InUse: 2}}
}

func TestHealthCheckDegradedWhenSourceDown(t *testing.T) {
	hc := NewHealthController(nil, &fakePoolHealth{healthy: map[string]bool{"warehouse": true, "archive": false}}, "test")

	router := gin.New()
	router.GET("/health", hc.HealthCheck)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disabled", resp.Database.Status)
	assert.Equal(t, "down", resp.DataSources["archive"])
	assert.Equal(t, "up", resp.DataSources["warehouse"])
	assert.Equal(t, "2", resp.Connections["warehouse_in_use"])
}
