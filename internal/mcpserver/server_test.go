package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/pipeline"
	"github.com/sqliteagent/sqliteagent/internal/query/sqlite"
	"github.com/sqliteagent/sqliteagent/internal/safety"
)

func setupTestTools(t *testing.T) *Tools {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "library.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (name) VALUES ('Alice'), ('Bob')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	engine := sqlite.NewEngine(sqlite.Options{UploadDir: dir})
	t.Cleanup(engine.CloseAll)
	_, err = engine.Load(context.Background(), path)
	require.NoError(t, err)

	synth := nl2sql.NewSynthesizer(nl2sql.NewGateway(nl2sql.GatewayConfig{}, nil), nl2sql.SynthesizerOptions{})
	return &Tools{
		Pipeline: &pipeline.Service{
			Engine:      engine,
			Synthesizer: synth,
			Safety:      safety.NewCombiner(synth, nil),
			History:     history.NewMemoryStore(10),
		},
		Databases: engine,
	}
}

func makeCallToolRequest(args map[string]any) mcp.CallToolRequest {
	var arguments any
	if args != nil {
		arguments = args
	}
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: arguments,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestHandleAskDatabase(t *testing.T) {
	tools := setupTestTools(t)

	result, err := tools.HandleAskDatabase(context.Background(), makeCallToolRequest(map[string]any{
		"prompt":      "show all users",
		"database_id": "library.db",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Mocked)
	assert.Equal(t, "SELECT * FROM users LIMIT 10;", resp.SQLQuery)
	require.NotNil(t, resp.QueryResult)
	assert.Len(t, resp.QueryResult.Data, 2)
}

func TestHandleAskDatabaseFailures(t *testing.T) {
	tools := setupTestTools(t)

	result, err := tools.HandleAskDatabase(context.Background(), makeCallToolRequest(map[string]any{
		"prompt":      "show all users",
		"database_id": "missing.db",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed")

	result, err = tools.HandleAskDatabase(context.Background(), makeCallToolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "prompt and database_id are required", resultText(t, result))

	result, err = (&Tools{}).HandleAskDatabase(context.Background(), makeCallToolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleParsePrompt(t *testing.T) {
	tools := &Tools{}

	result, err := tools.HandleParsePrompt(context.Background(), makeCallToolRequest(map[string]any{
		"prompt": "find users where id = 5",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var decoded struct {
		ParsedInfo struct {
			QueryType string   `json:"query_type"`
			Tables    []string `json:"tables"`
		} `json:"parsed_info"`
		SQLSkeleton string `json:"sql_skeleton"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.Equal(t, "SELECT * FROM users WHERE id = '5'", decoded.SQLSkeleton)
	assert.Contains(t, decoded.ParsedInfo.Tables, "users")

	result, err = tools.HandleParsePrompt(context.Background(), makeCallToolRequest(map[string]any{"prompt": "  "}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleValidateSQL(t *testing.T) {
	tools := setupTestTools(t)

	result, err := tools.HandleValidateSQL(context.Background(), makeCallToolRequest(map[string]any{
		"sql": "DROP TABLE users",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var verdict safety.Verdict
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &verdict))
	assert.False(t, verdict.IsSafe)
	assert.NotEmpty(t, verdict.Warnings)

	result, err = tools.HandleValidateSQL(context.Background(), makeCallToolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Missing required field: sql_query", resultText(t, result))
}

func TestHandleListDatabases(t *testing.T) {
	tools := setupTestTools(t)

	result, err := tools.HandleListDatabases(context.Background(), makeCallToolRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "- library.db (1 tables: users)")
}

func TestHandleDescribeSchema(t *testing.T) {
	tools := setupTestTools(t)

	result, err := tools.HandleDescribeSchema(context.Background(), makeCallToolRequest(map[string]any{
		"database_id": "library.db",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Table: users")
	assert.Contains(t, text, "  - id (INTEGER) [PRIMARY KEY]")
	assert.Contains(t, text, "Rows: 2")

	result, err = tools.HandleDescribeSchema(context.Background(), makeCallToolRequest(map[string]any{
		"database_id": "missing.db",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = tools.HandleDescribeSchema(context.Background(), makeCallToolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestServerListsTools(t *testing.T) {
	srv := NewServer(setupTestTools(t), "test")

	response := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	encoded, err := json.Marshal(response)
	require.NoError(t, err)

	for _, name := range []string{"ask_database", "parse_prompt", "validate_sql", "list_databases", "describe_schema"} {
		assert.Contains(t, string(encoded), `"name":"`+name+`"`)
	}
}
