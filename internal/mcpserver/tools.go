package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sqliteagent/sqliteagent/internal/intent"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/pipeline"
)

func (t *Tools) HandleAskDatabase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.Pipeline == nil {
		return mcp.NewToolResultError("query pipeline is not configured"), nil
	}
	prompt := strings.TrimSpace(request.GetString("prompt", ""))
	databaseID := strings.TrimSpace(request.GetString("database_id", ""))
	if prompt == "" || databaseID == "" {
		return mcp.NewToolResultError("prompt and database_id are required"), nil
	}

	start := time.Now()
	resp := t.Pipeline.Run(ctx, pipeline.Request{
		Prompt:             prompt,
		DatabaseID:         databaseID,
		IncludeExplanation: request.GetBool("include_explanation", false),
		Model:              request.GetString("model", ""),
	})
	t.logCall("ask_database", start, resp.Success, slog.String("database_id", databaseID))
	if !resp.Success {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s", resp.FailedStage, resp.Error)), nil
	}
	return jsonResult(resp)
}

func (t *Tools) HandleParsePrompt(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := strings.TrimSpace(request.GetString("prompt", ""))
	if prompt == "" {
		return mcp.NewToolResultError("prompt parameter is required"), nil
	}
	parsed := intent.Parse(prompt)
	return jsonResult(map[string]any{
		"parsed_info":  parsed,
		"sql_skeleton": intent.SQLSkeleton(parsed),
	})
}

func (t *Tools) HandleValidateSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.Pipeline == nil {
		return mcp.NewToolResultError("query pipeline is not configured"), nil
	}
	start := time.Now()
	verdict, err := t.Pipeline.Validate(ctx, request.GetString("sql", ""), request.GetString("model", ""))
	if err != nil {
		t.logCall("validate_sql", start, false)
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.logCall("validate_sql", start, true, slog.String("risk_level", string(verdict.RiskLevel)))
	return jsonResult(verdict)
}

func (t *Tools) HandleListDatabases(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.Databases == nil {
		return mcp.NewToolResultError("database engine is not configured"), nil
	}
	databases := t.Databases.List(ctx)
	if len(databases) == 0 {
		return mcp.NewToolResultText("No databases are loaded."), nil
	}
	var sb strings.Builder
	sb.WriteString("Databases:\n")
	for _, info := range databases {
		fmt.Fprintf(&sb, "- %s (%d tables: %s)\n", info.ID, len(info.Tables), strings.Join(info.Tables, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *Tools) HandleDescribeSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.Databases == nil {
		return mcp.NewToolResultError("database engine is not configured"), nil
	}
	databaseID := strings.TrimSpace(request.GetString("database_id", ""))
	if databaseID == "" {
		return mcp.NewToolResultError("database_id parameter is required"), nil
	}
	schema, err := t.Databases.Schema(ctx, databaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read schema: %v", err)), nil
	}
	if len(schema.Tables) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s has no tables.", databaseID)), nil
	}
	return mcp.NewToolResultText(nl2sql.FormatSchema(schema)), nil
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func (t *Tools) logCall(tool string, start time.Time, ok bool, attrs ...any) {
	if t.Logger == nil {
		return
	}
	attrs = append(attrs,
		slog.String("tool", tool),
		slog.Bool("success", ok),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	t.Logger.Info("mcp tool call", attrs...)
}
