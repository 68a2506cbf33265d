// Package mcpserver exposes the query pipeline as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sqliteagent/sqliteagent/internal/pipeline"
	"github.com/sqliteagent/sqliteagent/internal/query"
)

const serverName = "sqliteagent"

// Databases is the engine surface the tools read from.
type Databases interface {
	List(ctx context.Context) []query.DatabaseInfo
	Schema(ctx context.Context, id string) (query.SchemaSnapshot, error)
}

type Tools struct {
	Pipeline  *pipeline.Service
	Databases Databases
	Logger    *slog.Logger
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(tools *Tools, version string) *server.MCPServer {
	if tools.Logger == nil {
		tools.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("ask_database",
		mcp.WithDescription("Translate a natural-language request into SQL, screen it for safety and run it against a loaded SQLite database."),
		mcp.WithString("prompt", mcp.Description("The natural-language request"), mcp.Required()),
		mcp.WithString("database_id", mcp.Description("Identifier of a loaded database, for example library.db"), mcp.Required()),
		mcp.WithBoolean("include_explanation", mcp.Description("Also explain the returned rows in prose")),
		mcp.WithString("model", mcp.Description("Override the default model")),
	), tools.HandleAskDatabase)

	srv.AddTool(mcp.NewTool("parse_prompt",
		mcp.WithDescription("Extract query type, tables, columns, filters, sorting and limit from a request without calling a model."),
		mcp.WithString("prompt", mcp.Description("The natural-language request"), mcp.Required()),
	), tools.HandleParsePrompt)

	srv.AddTool(mcp.NewTool("validate_sql",
		mcp.WithDescription("Return the safety verdict for a SQL statement without executing it."),
		mcp.WithString("sql", mcp.Description("The SQL statement to screen"), mcp.Required()),
		mcp.WithString("model", mcp.Description("Override the default model")),
	), tools.HandleValidateSQL)

	srv.AddTool(mcp.NewTool("list_databases",
		mcp.WithDescription("List the loaded databases and their tables."),
	), tools.HandleListDatabases)

	srv.AddTool(mcp.NewTool("describe_schema",
		mcp.WithDescription("Describe the tables, columns and row counts of a loaded database."),
		mcp.WithString("database_id", mcp.Description("Identifier of a loaded database"), mcp.Required()),
	), tools.HandleDescribeSchema)

	return srv
}

// NewHandler serves the tools over streamable HTTP at path.
func NewHandler(tools *Tools, version, path string) http.Handler {
	return server.NewStreamableHTTPServer(
		NewServer(tools, version),
		server.WithEndpointPath(path),
	)
}
