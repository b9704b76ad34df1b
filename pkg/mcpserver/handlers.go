package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/sabio/ops-chat-gateway/pkg/adapters"
	"github.com/sabio/ops-chat-gateway/pkg/agent"
	"github.com/sabio/ops-chat-gateway/pkg/fallback"
	"github.com/sabio/ops-chat-gateway/pkg/metrics"
	"github.com/sabio/ops-chat-gateway/pkg/planner"
	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

const (
	toolStatusOK    = "ok"
	toolStatusError = "error"

	summaryNote = "rendered without the language model"
)

// MCPServer exposes the planning and fetch-join stages as MCP tools
type MCPServer struct {
	manager *agent.Manager
	server  *server.MCPServer
	limiter *rate.Limiter
	timeout time.Duration
	logger  log.Logger
}

// NewMCPServer creates a new MCP server on top of the chat pipeline
func NewMCPServer(manager *agent.Manager, s *settings.Settings, logger log.Logger) *MCPServer {
	return &MCPServer{
		manager: manager,
		server: server.NewMCPServer(
			"ops-chat-mcp-server",
			"1.0.0",
		),
		limiter: newRateLimiter(s.RateLimitRPS, s.RateLimitBurst),
		timeout: s.ModelTimeout,
		logger:  logger,
	}
}

// GetServer returns the underlying MCP server
func (s *MCPServer) GetServer() *server.MCPServer {
	return s.server
}

// RegisterTools registers all MCP tools
func (s *MCPServer) RegisterTools() {
	s.server.AddTool(s.listEndpointsTool(), s.handleListEndpoints)
	s.server.AddTool(s.planRouteTool(), s.handlePlanRoute)
	s.server.AddTool(s.fetchJoinTool(), s.handleFetchJoin)
	s.server.AddTool(s.summarizeLogsTool(), s.handleSummarizeLogs)
}

var questionProperties = map[string]any{
	"text": map[string]any{
		"type":        "string",
		"description": "Operational question in natural language",
	},
	"date_from": map[string]any{
		"type":        "string",
		"description": "Start of the time range (e.g. 2026-01-27T00:00:00+08:00)",
	},
	"date_to": map[string]any{
		"type":        "string",
		"description": "End of the time range",
	},
	"tz": map[string]any{
		"type":        "string",
		"description": "IANA time zone (e.g. Asia/Singapore)",
	},
}

type questionArgs struct {
	Text     string  `json:"text"`
	DateFrom *string `json:"date_from"`
	DateTo   *string `json:"date_to"`
	TZ       *string `json:"tz"`
}

func (q questionArgs) overrides() planner.Overrides {
	return planner.Overrides{DateFrom: q.DateFrom, DateTo: q.DateTo, TZ: q.TZ}
}

// decodeArgs copies loosely typed tool arguments into a struct
func decodeArgs(arguments map[string]interface{}, v interface{}) error {
	if arguments == nil {
		return nil
	}
	data, err := json.Marshal(arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *MCPServer) result(tool string, v interface{}) *mcp.CallToolResult {
	metrics.ToolCalls.WithLabelValues(tool, toolStatusOK).Inc()
	return mcp.NewToolResultText(FormatToolResult(v))
}

func (s *MCPServer) failure(tool string, err error) *mcp.CallToolResult {
	metrics.ToolCalls.WithLabelValues(tool, toolStatusError).Inc()
	s.logger.Warn("Tool call failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("error: %v", err))
}

// listEndpointsTool returns the tool definition for list_endpoints
func (s *MCPServer) listEndpointsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_endpoints",
		Description: "List the monitoring endpoints a question can be routed to",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
}

// handleListEndpoints handles the list_endpoints tool call
func (s *MCPServer) handleListEndpoints(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if result := s.enforceRateLimit(); result != nil {
		return result, nil
	}

	type endpoint struct {
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	out := make([]endpoint, 0, len(adapters.Catalog))
	for _, a := range adapters.Catalog {
		out = append(out, endpoint{Path: a.Path, Description: a.Description})
	}
	return s.result("list_endpoints", out), nil
}

// planRouteTool returns the tool definition for plan_route
func (s *MCPServer) planRouteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "plan_route",
		Description: "Classify an operational question into an intent, the endpoints to query and their parameters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: questionProperties,
			Required:   []string{"text"},
		},
	}
}

// handlePlanRoute handles the plan_route tool call
func (s *MCPServer) handlePlanRoute(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if result := s.enforceRateLimit(); result != nil {
		return result, nil
	}

	var args questionArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return s.failure("plan_route", err), nil
	}
	if strings.TrimSpace(args.Text) == "" {
		return s.failure("plan_route", agent.ErrEmptyText), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	plan := s.manager.Planner().Plan(ctx, args.Text, args.overrides())
	return s.result("plan_route", plan), nil
}

// fetchJoinTool returns the tool definition for fetch_join
func (s *MCPServer) fetchJoinTool() mcp.Tool {
	return mcp.Tool{
		Name:        "fetch_join",
		Description: "Fetch monitoring endpoints in order and return the joined results. Failed endpoints carry an error entry.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"endpoints": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Endpoint paths from list_endpoints (e.g. /api/runtime-logs)",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Query parameters shared by every endpoint (date_from, date_to, tz, service, limit)",
				},
			},
			Required: []string{"endpoints"},
		},
	}
}

// handleFetchJoin handles the fetch_join tool call
func (s *MCPServer) handleFetchJoin(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if result := s.enforceRateLimit(); result != nil {
		return result, nil
	}

	var args struct {
		Endpoints []string               `json:"endpoints"`
		Params    map[string]interface{} `json:"params"`
	}
	if err := decodeArgs(arguments, &args); err != nil {
		return s.failure("fetch_join", err), nil
	}
	if len(args.Endpoints) == 0 {
		return s.failure("fetch_join", fmt.Errorf("at least one endpoint is required")), nil
	}
	for _, ep := range args.Endpoints {
		if !adapters.Known(ep) {
			return s.failure("fetch_join", fmt.Errorf("unknown endpoint %q", ep)), nil
		}
	}

	params := make(map[string]string, len(args.Params))
	for k, v := range args.Params {
		params[k] = fmt.Sprint(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	joined := s.manager.Fetcher().Join(ctx, s.manager.AdapterBase(), args.Endpoints, params)
	return s.result("fetch_join", joined.Pretty()), nil
}

// summarizeLogsTool returns the tool definition for summarize_logs
func (s *MCPServer) summarizeLogsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "summarize_logs",
		Description: "Plan and fetch a question, then summarize the first endpoint's runtime logs without the language model",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: questionProperties,
			Required:   []string{"text"},
		},
	}
}

// handleSummarizeLogs handles the summarize_logs tool call
func (s *MCPServer) handleSummarizeLogs(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if result := s.enforceRateLimit(); result != nil {
		return result, nil
	}

	var args questionArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return s.failure("summarize_logs", err), nil
	}
	if strings.TrimSpace(args.Text) == "" {
		return s.failure("summarize_logs", agent.ErrEmptyText), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	plan := s.manager.Planner().Plan(ctx, args.Text, args.overrides())
	joined := s.manager.Fetcher().Join(ctx, s.manager.AdapterBase(), plan.Endpoints, plan.Params)
	if joined.AllFailed() {
		return s.failure("summarize_logs", fmt.Errorf("%s", joined.FirstError())), nil
	}

	return s.result("summarize_logs", strings.Join(fallback.Render(joined, summaryNote), "")), nil
}
