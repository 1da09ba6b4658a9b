package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-gateway/internal/database"
	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/service"
)

type stubCharts struct {
	records []model.ChartDataRecord
	stmt    *query.CompiledStatement
	err     error

	lastSource string
	lastSpec   *model.QuerySpec
}

func (s *stubCharts) GetChartData(_ context.Context, source string, spec *model.QuerySpec) ([]model.ChartDataRecord, error) {
	s.lastSource, s.lastSpec = source, spec
	return s.records, s.err
}

func (s *stubCharts) Compile(_ context.Context, source string, spec *model.QuerySpec) (*query.CompiledStatement, error) {
	s.lastSource, s.lastSpec = source, spec
	return s.stmt, s.err
}

func (s *stubCharts) GetColumns(_ context.Context, source, table string) ([]model.TableColumn, error) {
	s.lastSource = source
	return []model.TableColumn{{TableName: table, ColumnName: "region", ColumnType: "VARCHAR(32)"}}, s.err
}

func (s *stubCharts) InvalidateSchema(string, string) {}

func (s *stubCharts) InvalidateSource(string) {}

func (s *stubCharts) DefaultSource() string { return "warehouse" }

func (s *stubCharts) GetStats() *service.ChartStatsResponse { return &service.ChartStatsResponse{} }

func newTestServer(charts service.ChartService) *ChartToolServer {
	return NewChartToolServer(charts, nil, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

const salesSpec = `{"dataSource":"sales","groups":[{"field":"region"}],"dimensions":[{"field":"amount","aggregation":"sum"}]}`

func TestGetChartDataTool(t *testing.T) {
	charts := &stubCharts{records: []model.ChartDataRecord{{"region": "EU", "sum_amount": 150.0}}}
	s := newTestServer(charts)

	result, err := s.handleGetChartData(context.Background(), callRequest(map[string]interface{}{
		"spec":   salesSpec,
		"source": "analytics",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var payload struct {
		Records []map[string]interface{} `json:"records"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, "EU", payload.Records[0]["region"])
	assert.Equal(t, "analytics", charts.lastSource)
	assert.Equal(t, "sales", charts.lastSpec.DataSource)
}

func TestGetChartDataToolRejectsBadSpec(t *testing.T) {
	s := newTestServer(&stubCharts{})

	result, err := s.handleGetChartData(context.Background(), callRequest(map[string]interface{}{"spec": "{"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleGetChartData(context.Background(), callRequest(map[string]interface{}{"spec": `{"limit":5}`}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "dataSource")
}

func TestGetChartDataToolReportsValidationError(t *testing.T) {
	s := newTestServer(&stubCharts{err: &query.ValidationError{Kind: query.UnknownField, Field: "colour"}})

	result, err := s.handleGetChartData(context.Background(), callRequest(map[string]interface{}{"spec": salesSpec}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "UnknownField")
}

func TestGetChartDataToolHidesStatement(t *testing.T) {
	s := newTestServer(&stubCharts{err: &service.QueryExecutionError{
		Kind:      service.ExecutionGeneric,
		Message:   "Query execution failed",
		Statement: "SELECT `secret` FROM `sales`",
	}})

	result, err := s.handleGetChartData(context.Background(), callRequest(map[string]interface{}{"spec": salesSpec}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Query execution failed", resultText(t, result))
}

func TestCompileChartToolWithholdsParameters(t *testing.T) {
	s := newTestServer(&stubCharts{stmt: &query.CompiledStatement{
		Text:       "SELECT `region` FROM `sales` WHERE `region` = ? ORDER BY `region` ASC LIMIT 1000",
		Parameters: []interface{}{"PRIVATE-REGION"},
	}})

	result, err := s.handleCompileChart(context.Background(), callRequest(map[string]interface{}{"spec": salesSpec}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.NotContains(t, text, "PRIVATE-REGION")
	assert.Contains(t, text, `"parameter_count":1`)
}

func TestDescribeTableTool(t *testing.T) {
	charts := &stubCharts{}
	s := newTestServer(charts)

	result, err := s.handleDescribeTable(context.Background(), callRequest(map[string]interface{}{"table": "sales"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"columnName":"region"`)
	assert.Equal(t, "", charts.lastSource)

	result, err = s.handleDescribeTable(context.Background(), callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDescribeTableToolUnknownSource(t *testing.T) {
	s := newTestServer(&stubCharts{err: database.ErrUnknownDataSource})

	result, err := s.handleDescribeTable(context.Background(), callRequest(map[string]interface{}{"table": "sales"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "UnknownDataSource", resultText(t, result))
}

func TestListDataSourcesToolWithoutRegistry(t *testing.T) {
	s := newTestServer(&stubCharts{})

	result, err := s.handleListDataSources(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data_sources":[{"name":"warehouse","default":true}],"count":1}`, resultText(t, result))
}
