package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/workflows"
)

// Research is the orchestrator surface exposed as MCP tools.
type Research interface {
	CreatePlan(ctx context.Context, query string, depth models.DepthLevel) (*models.ResearchPlan, error)
	StartExecution(ctx context.Context, req models.ResearchRequest, cb workflows.ProgressCallback) (string, error)
	GetStatus(requestID string) (models.ProgressRecord, error)
	GetReport(requestID string) (*models.NarrativeReport, error)
	GetFacts(requestID string) ([]models.VerifiedFact, error)
	GetCitations(requestID string) (*workflows.CitationList, error)
}

// handler returns either a string, sent verbatim, or a value sent as JSON.
type handler func(ctx context.Context, args json.RawMessage) (any, error)

// New builds an MCP server exposing the research tools.
func New(svc Research, version string, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "shannon-researcher", Version: version}, nil)
	t := &tools{svc: svc, logger: logger}

	t.add(srv, &mcp.Tool{
		Name:        "research_plan",
		Description: "Break a research query into prioritized sub-questions without running them.",
		InputSchema: inputSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "Research query, 10-500 characters"},
			"depth_level": depthSchema,
		}, []string{"query"}),
	}, t.plan)

	t.add(srv, &mcp.Tool{
		Name:        "research_start",
		Description: "Start a research run in the background and return its request id.",
		InputSchema: inputSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "Research query, 10-500 characters"},
			"depth_level": depthSchema,
			"providers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Search providers to use; empty means all",
			},
		}, []string{"query"}),
	}, t.start)

	t.add(srv, &mcp.Tool{
		Name:        "research_status",
		Description: "Report the progress of a research run.",
		InputSchema: inputSchema(map[string]any{"request_id": requestIDSchema}, []string{"request_id"}),
	}, t.status)

	t.add(srv, &mcp.Tool{
		Name:        "research_report",
		Description: "Fetch the finished report of a research run as JSON or markdown.",
		InputSchema: inputSchema(map[string]any{
			"request_id": requestIDSchema,
			"format":     map[string]any{"type": "string", "enum": []string{"json", "markdown"}},
		}, []string{"request_id"}),
	}, t.report)

	t.add(srv, &mcp.Tool{
		Name:        "research_citations",
		Description: "List the verified facts and their sources for a finished research run.",
		InputSchema: inputSchema(map[string]any{"request_id": requestIDSchema}, []string{"request_id"}),
	}, t.citations)

	return srv
}

// Serve runs srv over stdin/stdout until ctx is done or the client leaves.
func Serve(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx, &mcp.StdioTransport{})
}

var (
	depthSchema = map[string]any{
		"type": "string",
		"enum": []string{string(models.DepthQuick), string(models.DepthStandard), string(models.DepthComprehensive)},
	}
	requestIDSchema = map[string]any{"type": "string", "description": "Id returned by research_start"}
)

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type tools struct {
	svc    Research
	logger *zap.Logger
}

func (t *tools) add(srv *mcp.Server, tool *mcp.Tool, h handler) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := h(ctx, req.Params.Arguments)
		if err != nil {
			t.logger.Debug("MCP tool failed", zap.String("tool", tool.Name), zap.Error(err))
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		text, ok := out.(string)
		if !ok {
			data, err := json.Marshal(out)
			if err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("marshal: %w", err))
				return &res, nil
			}
			text = string(data)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	})
}

type queryArgs struct {
	Query      string   `json:"query"`
	DepthLevel string   `json:"depth_level"`
	Providers  []string `json:"providers"`
}

type requestArgs struct {
	RequestID string `json:"request_id"`
	Format    string `json:"format"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

func (a queryArgs) depth() (models.DepthLevel, error) {
	d, ok := models.ParseDepthLevel(a.DepthLevel)
	if !ok {
		return "", fmt.Errorf("%w: unknown depth level %q", models.ErrInvalidRequest, a.DepthLevel)
	}
	return d, nil
}

func (a requestArgs) id() (string, error) {
	id := strings.TrimSpace(a.RequestID)
	if id == "" {
		return "", errors.New("request_id is required")
	}
	return id, nil
}

func (t *tools) plan(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[queryArgs](raw)
	if err != nil {
		return nil, err
	}
	depth, err := args.depth()
	if err != nil {
		return nil, err
	}
	return t.svc.CreatePlan(ctx, args.Query, depth)
}

func (t *tools) start(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[queryArgs](raw)
	if err != nil {
		return nil, err
	}
	depth, err := args.depth()
	if err != nil {
		return nil, err
	}
	id, err := t.svc.StartExecution(ctx, models.ResearchRequest{
		Query:      strings.TrimSpace(args.Query),
		DepthLevel: depth,
		Providers:  args.Providers,
	}, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"request_id": id, "status": models.WorkflowPending}, nil
}

func (t *tools) status(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[requestArgs](raw)
	if err != nil {
		return nil, err
	}
	id, err := args.id()
	if err != nil {
		return nil, err
	}
	return t.svc.GetStatus(id)
}

func (t *tools) report(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[requestArgs](raw)
	if err != nil {
		return nil, err
	}
	id, err := args.id()
	if err != nil {
		return nil, err
	}
	report, err := t.svc.GetReport(id)
	if err != nil {
		return nil, err
	}
	switch args.Format {
	case "", "json":
		return report, nil
	case "markdown":
		facts, err := t.svc.GetFacts(id)
		if err != nil {
			return nil, err
		}
		return formatting.RenderMarkdown(report, facts), nil
	default:
		return nil, fmt.Errorf("unknown format %q", args.Format)
	}
}

func (t *tools) citations(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[requestArgs](raw)
	if err != nil {
		return nil, err
	}
	id, err := args.id()
	if err != nil {
		return nil, err
	}
	return t.svc.GetCitations(id)
}
