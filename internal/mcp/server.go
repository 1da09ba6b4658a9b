package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"chart-gateway/internal/model"
	"chart-gateway/internal/query"
	"chart-gateway/internal/service"
)

// ChartToolServer exposes chart queries as MCP tools so an assistant can
// explore tables and request chart data over stdio
type ChartToolServer struct {
	charts      service.ChartService
	dataSources service.DataSourceService
	server      *server.MCPServer
	logger      *slog.Logger
}

// NewChartToolServer creates the tool server. dataSources may be nil when no
// registry database is configured; list_data_sources then reports only the
// default source.
func NewChartToolServer(charts service.ChartService, dataSources service.DataSourceService, version string, logger *slog.Logger) *ChartToolServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &ChartToolServer{
		charts:      charts,
		dataSources: dataSources,
		server:      server.NewMCPServer("Chart Gateway", version),
		logger:      logger,
	}
	s.registerTools()
	return s
}

func (s *ChartToolServer) registerTools() {
	s.server.AddTool(mcp.NewTool("list_data_sources",
		mcp.WithDescription("List the data sources chart queries can run against")),
		s.handleListDataSources)

	s.server.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("List the columns of a table with their declared types"),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name")),
		mcp.WithString("source", mcp.Description("Data source name, defaults to the gateway default"))),
		s.handleDescribeTable)

	specDescription := `Chart query spec as JSON, e.g. {"dataSource":"sales","groups":[{"field":"region"}],"dimensions":[{"field":"amount","aggregation":"sum"}]}`

	s.server.AddTool(mcp.NewTool("compile_chart",
		mcp.WithDescription("Validate a chart query spec and return the statement it compiles to, without running it"),
		mcp.WithString("spec", mcp.Required(), mcp.Description(specDescription)),
		mcp.WithString("source", mcp.Description("Data source name, defaults to the gateway default"))),
		s.handleCompileChart)

	s.server.AddTool(mcp.NewTool("get_chart_data",
		mcp.WithDescription("Run a chart query spec and return one record per row keyed by output alias"),
		mcp.WithString("spec", mcp.Required(), mcp.Description(specDescription)),
		mcp.WithString("source", mcp.Description("Data source name, defaults to the gateway default"))),
		s.handleGetChartData)
}

func (s *ChartToolServer) handleListDataSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type sourceInfo struct {
		Name    string                 `json:"name"`
		Type    model.DatabaseType     `json:"type,omitempty"`
		Status  model.DataSourceStatus `json:"status,omitempty"`
		Default bool                   `json:"default"`
	}

	defaultSource := s.charts.DefaultSource()
	sources := []sourceInfo{}
	seenDefault := false

	if s.dataSources != nil {
		resp, err := s.dataSources.ListDataSources(ctx, &service.ListDataSourcesRequest{Limit: 100})
		if err != nil {
			return s.toolError(err), nil
		}
		for _, ds := range resp.DataSources {
			sources = append(sources, sourceInfo{
				Name:    ds.Name,
				Type:    ds.Type,
				Status:  ds.Status,
				Default: ds.Name == defaultSource,
			})
			seenDefault = seenDefault || ds.Name == defaultSource
		}
	}
	if !seenDefault && defaultSource != "" {
		sources = append(sources, sourceInfo{Name: defaultSource, Default: true})
	}

	return jsonResult(map[string]interface{}{
		"data_sources": sources,
		"count":        len(sources),
	})
}

func (s *ChartToolServer) handleDescribeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table := mcp.ParseString(request, "table", "")
	if table == "" {
		return mcp.NewToolResultError("table is required"), nil
	}

	columns, err := s.charts.GetColumns(ctx, mcp.ParseString(request, "source", ""), table)
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]interface{}{
		"table":   table,
		"columns": columns,
	})
}

func (s *ChartToolServer) handleCompileChart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, err := parseSpec(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stmt, err := s.charts.Compile(ctx, mcp.ParseString(request, "source", ""), spec)
	if err != nil {
		return s.toolError(err), nil
	}

	// bound values stay server side
	return jsonResult(map[string]interface{}{
		"text":            stmt.Text,
		"columns":         stmt.Columns,
		"parameter_count": len(stmt.Parameters),
	})
}

func (s *ChartToolServer) handleGetChartData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, err := parseSpec(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := s.charts.GetChartData(ctx, mcp.ParseString(request, "source", ""), spec)
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// toolError reports a failed call to the assistant without statement text
// or bound values
func (s *ChartToolServer) toolError(err error) *mcp.CallToolResult {
	var (
		validationErr *query.ValidationError
		execErr       *service.QueryExecutionError
	)

	kind := service.ErrorKind(err)
	switch {
	case errors.As(err, &validationErr):
		return mcp.NewToolResultError(validationErr.Error())
	case errors.As(err, &execErr):
		s.logger.Warn("chart tool query failed", "kind", kind, "error", err)
		return mcp.NewToolResultError(execErr.Message)
	default:
		s.logger.Warn("chart tool call failed", "kind", kind, "error", err)
		return mcp.NewToolResultError(kind)
	}
}

func parseSpec(request mcp.CallToolRequest) (*model.QuerySpec, error) {
	raw := mcp.ParseString(request, "spec", "")
	if raw == "" {
		return nil, errors.New("spec is required")
	}

	var spec model.QuerySpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("spec is not valid JSON: %w", err)
	}
	if spec.DataSource == "" {
		return nil, errors.New("spec.dataSource is required")
	}
	return &spec, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// StartStdio serves the tools on stdin and stdout until the input closes
func (s *ChartToolServer) StartStdio() error {
	return server.ServeStdio(s.server)
}
