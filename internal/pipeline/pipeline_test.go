package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/intent"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/query/sqlite"
	"github.com/sqliteagent/sqliteagent/internal/safety"
)

func newLibrary(t *testing.T) (*sqlite.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "library.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, statement := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, city TEXT)`,
		`INSERT INTO users (name, email, city) VALUES ('Ada', 'ada@example.com', 'London')`,
		`INSERT INTO users (name, email, city) VALUES ('Grace', 'grace@example.com', 'New York')`,
		`INSERT INTO users (name, email, city) VALUES ('Linus', 'linus@example.com', 'Helsinki')`,
	} {
		_, err := db.Exec(statement)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	engine := sqlite.NewEngine(sqlite.Options{UploadDir: dir})
	t.Cleanup(engine.CloseAll)
	info, err := engine.Load(context.Background(), path)
	require.NoError(t, err)
	return engine, info.ID
}

// mockedService wires the real engine, synthesizer and combiner behind an
// unconfigured gateway, so every model reply is the deterministic mock.
func mockedService(t *testing.T) (*Service, string, *history.MemoryStore) {
	t.Helper()
	engine, id := newLibrary(t)
	synth := nl2sql.NewSynthesizer(nl2sql.NewGateway(nl2sql.GatewayConfig{}, nil), nl2sql.SynthesizerOptions{})
	store := history.NewMemoryStore(10)
	return &Service{
		Engine:      engine,
		Creator:     engine,
		Synthesizer: synth,
		Safety:      safety.NewCombiner(synth, nil),
		History:     store,
	}, id, store
}

func TestRunMockedMissingTableIsReportedAsData(t *testing.T) {
	service, id, _ := mockedService(t)

	resp := service.Run(context.Background(), Request{Prompt: "show all records in books", DatabaseID: id})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "SELECT * FROM books;", resp.SQLQuery)
	assert.True(t, resp.Mocked)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.FailedStage)
	require.NotNil(t, resp.ParsedInfo)
	assert.Equal(t, intent.QueryTypeSelect, resp.ParsedInfo.QueryType)
	require.NotNil(t, resp.QueryResult)
	assert.False(t, resp.QueryResult.Success)
	assert.Contains(t, resp.QueryResult.Error, "no such table")
	require.NotNil(t, resp.Safety)
	assert.True(t, resp.Safety.IsSafe)
	assert.Equal(t, safety.RiskMedium, resp.Safety.RiskLevel)
	assert.Nil(t, resp.Explanation)
	assert.GreaterOrEqual(t, resp.ProcessingTime, 0.0)
}

func TestRunMockedSelectWithExplanation(t *testing.T) {
	service, id, store := mockedService(t)

	resp := service.Run(context.Background(), Request{Prompt: "show users", DatabaseID: id, IncludeExplanation: true})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "SELECT * FROM users LIMIT 10;", resp.SQLQuery)
	require.NotNil(t, resp.QueryResult)
	assert.True(t, resp.QueryResult.Success)
	assert.Len(t, resp.QueryResult.Data, 3)
	require.NotNil(t, resp.Explanation)
	assert.NotEmpty(t, *resp.Explanation)

	entries, err := store.Recent(context.Background(), id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "show users", entries[0].Prompt)
	assert.Equal(t, "SELECT * FROM users LIMIT 10;", entries[0].SQL)
	assert.Equal(t, []string{"users"}, entries[0].Tables)
	assert.True(t, entries[0].Success)
	assert.True(t, entries[0].Mocked)
}

func TestRunIsRepeatable(t *testing.T) {
	service, id, _ := mockedService(t)
	req := Request{Prompt: "list users", DatabaseID: id}

	first := service.Run(context.Background(), req)
	second := service.Run(context.Background(), req)

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.SQLQuery, second.SQLQuery)
	assert.Equal(t, first.QueryResult.Data, second.QueryResult.Data)
}

func TestRunUnknownDatabase(t *testing.T) {
	service, _, store := mockedService(t)

	resp := service.Run(context.Background(), Request{Prompt: "show users", DatabaseID: "missing.db"})

	assert.False(t, resp.Success)
	assert.Equal(t, "Database not found", resp.Error)
	assert.Equal(t, StageValidateDB, resp.FailedStage)
	assert.Nil(t, resp.ParsedInfo)
	assert.Equal(t, "show users", resp.OriginalPrompt)
	assert.Equal(t, 1, store.Len())
}

func TestRunRejectsHighRiskQuery(t *testing.T) {
	engine, id := newLibrary(t)
	service := &Service{
		Engine:      engine,
		Synthesizer: &stubSynthesizer{sql: "DROP TABLE users;"},
		Safety: safety.NewCombiner(stubAssessor{verdict: safety.ModelVerdict{
			Safe:      boolPtr(false),
			RiskLevel: "high",
			Warnings:  []string{"destroys data"},
		}}, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "remove the users table", DatabaseID: id})

	assert.False(t, resp.Success)
	assert.Equal(t, "Query rejected due to high security risk", resp.Error)
	assert.Equal(t, StageSafetyCheck, resp.FailedStage)
	assert.Equal(t, "DROP TABLE users;", resp.SQLQuery)
	assert.Nil(t, resp.QueryResult)
	require.NotNil(t, resp.Safety)
	assert.Equal(t, []string{"Query contains potentially dangerous operation: DROP", "destroys data"}, resp.Safety.Warnings)

	exists, err := engine.TableExists(context.Background(), id, "users")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunExecutesUnsafeQueryBelowHighRisk(t *testing.T) {
	engine, id := newLibrary(t)
	service := &Service{
		Engine:      engine,
		Synthesizer: &stubSynthesizer{sql: "DELETE FROM users WHERE id = 1"},
		Safety:      safety.NewCombiner(stubAssessor{verdict: safety.ModelVerdict{RiskLevel: "medium"}}, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "delete user 1", DatabaseID: id})

	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.Safety)
	assert.False(t, resp.Safety.IsSafe)
	assert.Contains(t, resp.Safety.Warnings, "Query contains potentially dangerous operation: DELETE")
	require.NotNil(t, resp.QueryResult)
	require.True(t, resp.QueryResult.Success)
	require.NotNil(t, resp.QueryResult.RowsAffected)
	assert.Equal(t, int64(1), *resp.QueryResult.RowsAffected)
}

func TestRunSchemaFetchFailure(t *testing.T) {
	synth := &stubSynthesizer{sql: "SELECT 1"}
	service := &Service{
		Engine:      &stubEngine{schemaErr: errors.New("disk I/O error")},
		Synthesizer: synth,
		Safety:      safety.NewCombiner(nil, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "show users", DatabaseID: "x.db"})

	assert.False(t, resp.Success)
	assert.Equal(t, "Could not retrieve database schema", resp.Error)
	assert.Equal(t, StageSchemaFetch, resp.FailedStage)
	assert.NotNil(t, resp.ParsedInfo)
	assert.Zero(t, synth.translateCalls)
}

func TestRunSynthesisFailureKeepsParsedInfo(t *testing.T) {
	service := &Service{
		Engine:      &stubEngine{},
		Synthesizer: &stubSynthesizer{translateErr: nl2sql.ErrEmptyReply},
		Safety:      safety.NewCombiner(nil, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "count orders", DatabaseID: "x.db"})

	assert.False(t, resp.Success)
	assert.Equal(t, nl2sql.ErrEmptyReply.Error(), resp.Error)
	assert.Equal(t, StageSynthesize, resp.FailedStage)
	require.NotNil(t, resp.ParsedInfo)
	assert.Equal(t, intent.QueryTypeCount, resp.ParsedInfo.QueryType)
}

func TestRunRecoversPanics(t *testing.T) {
	service := &Service{
		Engine:      &stubEngine{},
		Synthesizer: &stubSynthesizer{panicWith: "synthesizer exploded"},
		Safety:      safety.NewCombiner(nil, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "show users", DatabaseID: "x.db"})

	assert.False(t, resp.Success)
	assert.Equal(t, "synthesizer exploded", resp.Error)
	assert.Equal(t, StageSynthesize, resp.FailedStage)
}

func TestRunExplanationFailureIsSwallowed(t *testing.T) {
	service := &Service{
		Engine: &stubEngine{result: query.ExecResult{
			Success: true,
			Data:    []map[string]any{{"n": 1}},
			Columns: []string{"n"},
		}},
		Synthesizer: &stubSynthesizer{sql: "SELECT 1 AS n", explainErr: errors.New("model down")},
		Safety:      safety.NewCombiner(stubAssessor{}, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "one", DatabaseID: "x.db", IncludeExplanation: true})

	require.True(t, resp.Success, resp.Error)
	assert.Nil(t, resp.Explanation)
}

func TestRunSkipsExplanationWithoutRows(t *testing.T) {
	synth := &stubSynthesizer{sql: "SELECT 1 WHERE 0"}
	service := &Service{
		Engine:      &stubEngine{result: query.ExecResult{Success: true}},
		Synthesizer: synth,
		Safety:      safety.NewCombiner(stubAssessor{}, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "nothing", DatabaseID: "x.db", IncludeExplanation: true})

	require.True(t, resp.Success)
	assert.Zero(t, synth.explainCalls)
}

func TestRunDatabaseClosedBeforeExecution(t *testing.T) {
	service := &Service{
		Engine:      &stubEngine{executeErr: query.ErrDatabaseNotFound},
		Synthesizer: &stubSynthesizer{sql: "SELECT 1"},
		Safety:      safety.NewCombiner(stubAssessor{}, nil),
	}

	resp := service.Run(context.Background(), Request{Prompt: "one", DatabaseID: "x.db"})

	assert.False(t, resp.Success)
	assert.Equal(t, "Database not found", resp.Error)
	assert.Equal(t, StageExecute, resp.FailedStage)
	assert.Equal(t, "SELECT 1", resp.SQLQuery)
}

type stubEngine struct {
	schemaErr  error
	executeErr error
	result     query.ExecResult
}

func (s *stubEngine) Has(string) bool { return true }

func (s *stubEngine) Schema(_ context.Context, id string) (query.SchemaSnapshot, error) {
	if s.schemaErr != nil {
		return query.SchemaSnapshot{}, s.schemaErr
	}
	return query.SchemaSnapshot{DatabaseID: id}, nil
}

func (s *stubEngine) Execute(context.Context, string, string, ...any) (query.ExecResult, error) {
	if s.executeErr != nil {
		return query.ExecResult{}, s.executeErr
	}
	return s.result, nil
}

type stubSynthesizer struct {
	sql            string
	translateErr   error
	explainErr     error
	panicWith      string
	translateCalls int
	explainCalls   int
}

func (s *stubSynthesizer) Translate(context.Context, string, query.SchemaSnapshot, string) (nl2sql.Translation, error) {
	s.translateCalls++
	if s.panicWith != "" {
		panic(s.panicWith)
	}
	if s.translateErr != nil {
		return nl2sql.Translation{}, s.translateErr
	}
	return nl2sql.Translation{SQL: s.sql}, nil
}

func (s *stubSynthesizer) Explain(_ context.Context, rows []map[string]any, _, _, _ string) (nl2sql.Explanation, error) {
	s.explainCalls++
	if s.explainErr != nil {
		return nl2sql.Explanation{}, s.explainErr
	}
	return nl2sql.Explanation{Text: "explained", ResultCount: len(rows)}, nil
}

func (s *stubSynthesizer) SuggestOptimizations(context.Context, string, query.SchemaSnapshot, string) (nl2sql.Optimization, error) {
	return nl2sql.Optimization{Suggestions: "add an index"}, nil
}

func (s *stubSynthesizer) GenerateSchema(context.Context, string, string) (nl2sql.GeneratedSchema, error) {
	return nl2sql.GeneratedSchema{}, nl2sql.ErrMalformedReply
}

type stubAssessor struct {
	verdict safety.ModelVerdict
}

func (s stubAssessor) AssessSafety(context.Context, string, string) (safety.ModelVerdict, error) {
	return s.verdict, nil
}

func boolPtr(value bool) *bool {
	return &value
}
