// Package pipeline sequences intent parsing, SQL synthesis, the combined
// safety decision, execution and the optional explanation into one response
// per request.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/intent"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/safety"
)

type Stage string

const (
	StageValidateDB  Stage = "validate_db"
	StageParse       Stage = "parse"
	StageSchemaFetch Stage = "schema_fetch"
	StageSynthesize  Stage = "synthesize_sql"
	StageSafetyCheck Stage = "safety_check"
	StageExecute     Stage = "execute"
	StageExplain     Stage = "explain"
	StageDone        Stage = "done"
)

const (
	errDatabaseNotFound = "Database not found"
	errSchemaFetch      = "Could not retrieve database schema"
	errHighRisk         = "Query rejected due to high security risk"
)

type Synthesizer interface {
	Translate(ctx context.Context, prompt string, schema query.SchemaSnapshot, model string) (nl2sql.Translation, error)
	Explain(ctx context.Context, rows []map[string]any, prompt, sqlText, model string) (nl2sql.Explanation, error)
	SuggestOptimizations(ctx context.Context, sqlText string, schema query.SchemaSnapshot, model string) (nl2sql.Optimization, error)
	GenerateSchema(ctx context.Context, description, model string) (nl2sql.GeneratedSchema, error)
}

type SafetyAssessor interface {
	Assess(ctx context.Context, sqlText, model string) safety.Verdict
}

// DatabaseCreator builds new database files from a schema document.
type DatabaseCreator interface {
	Create(ctx context.Context, path string, document query.SchemaDocument) (query.DatabaseInfo, error)
	ResolvePath(path string) string
}

type Request struct {
	Prompt             string `json:"prompt"`
	DatabaseID         string `json:"database_id"`
	IncludeExplanation bool   `json:"include_explanation"`
	Model              string `json:"model,omitempty"`
}

// Response is returned for every run. Success reports the pipeline outcome
// only: an engine rejection of the generated SQL is carried in QueryResult
// with QueryResult.Success=false while Success stays true.
type Response struct {
	Success        bool                `json:"success"`
	SQLQuery       string              `json:"sql_query,omitempty"`
	OriginalPrompt string              `json:"original_prompt"`
	ParsedInfo     *intent.ParsedQuery `json:"parsed_info,omitempty"`
	QueryResult    *query.ExecResult   `json:"query_result,omitempty"`
	Explanation    *string             `json:"explanation"`
	Safety         *safety.Verdict     `json:"safety,omitempty"`
	Mocked         bool                `json:"mocked"`
	FailedStage    Stage               `json:"failed_stage,omitempty"`
	ProcessingTime float64             `json:"processing_time"`
	Error          string              `json:"error,omitempty"`
}

type Service struct {
	Engine      query.Engine
	Creator     DatabaseCreator
	Synthesizer Synthesizer
	Safety      SafetyAssessor
	History     history.Store
	Parser      *intent.Parser
	Logger      *slog.Logger
	Clock       func() time.Time
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Parser == nil {
		s.Parser = intent.NewParser()
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Run executes one request through every stage. It never panics and always
// returns a response with Error set when Success is false.
func (s *Service) Run(ctx context.Context, req Request) (resp Response) {
	s.ensureDefaults()
	start := s.Clock()
	stage := StageValidateDB
	stageStart := start
	logger := observability.LoggerFromContext(ctx, s.Logger).With(slog.String("database_id", req.DatabaseID))

	enter := func(next Stage) {
		now := s.Clock()
		observability.ObservePipelineStage(string(stage), now.Sub(stageStart))
		stage = next
		stageStart = now
	}
	fail := func(message string) Response {
		resp.Success = false
		resp.FailedStage = stage
		resp.Error = message
		return resp
	}

	resp = Response{OriginalPrompt: req.Prompt}
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("pipeline run panicked",
				slog.String("stage", string(stage)),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			resp.Success = false
			resp.FailedStage = stage
			resp.Error = fmt.Sprint(recovered)
		}
		resp.ProcessingTime = s.Clock().Sub(start).Seconds()
		observability.ObservePipelineRun(resp.Success)
		s.record(ctx, logger, req, resp)
	}()

	logger.Info("pipeline run started", slog.Bool("include_explanation", req.IncludeExplanation))
	if strings.TrimSpace(req.DatabaseID) == "" || !s.Engine.Has(req.DatabaseID) {
		logger.Warn("pipeline database not found")
		return fail(errDatabaseNotFound)
	}

	enter(StageParse)
	parsed := s.Parser.Parse(req.Prompt)
	resp.ParsedInfo = &parsed

	enter(StageSchemaFetch)
	schema, err := s.Engine.Schema(ctx, req.DatabaseID)
	if err != nil {
		logger.Error("pipeline schema fetch failed", slog.Any("error", err))
		return fail(errSchemaFetch)
	}

	enter(StageSynthesize)
	translation, err := s.Synthesizer.Translate(ctx, req.Prompt, schema, req.Model)
	resp.Mocked = translation.Mocked
	if err != nil {
		logger.Error("pipeline synthesis failed", slog.Any("error", err))
		return fail(err.Error())
	}
	resp.SQLQuery = translation.SQL

	enter(StageSafetyCheck)
	verdict := s.Safety.Assess(ctx, translation.SQL, req.Model)
	resp.Safety = &verdict
	if verdict.Blocks() {
		observability.IncrementSafetyRejection()
		logger.Warn("pipeline rejected high risk query", slog.Any("warnings", verdict.Warnings))
		return fail(errHighRisk)
	}

	enter(StageExecute)
	result, err := s.Engine.Execute(ctx, req.DatabaseID, translation.SQL)
	if err != nil {
		// The database was closed between validation and execution.
		logger.Warn("pipeline execution target vanished", slog.Any("error", err))
		return fail(errDatabaseNotFound)
	}
	resp.QueryResult = &result

	if req.IncludeExplanation && result.Success && len(result.Data) > 0 {
		enter(StageExplain)
		explanation, err := s.Synthesizer.Explain(ctx, result.Data, req.Prompt, translation.SQL, req.Model)
		if err != nil {
			logger.Warn("pipeline explanation failed", slog.Any("error", err))
		} else {
			resp.Explanation = &explanation.Text
			resp.Mocked = resp.Mocked || explanation.Mocked
		}
	}

	enter(StageDone)
	resp.Success = true
	logger.Info("pipeline run finished",
		slog.Bool("execution_success", result.Success),
		slog.Bool("mocked", resp.Mocked),
	)
	return resp
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, req Request, resp Response) {
	if s.History == nil {
		return
	}
	entry := history.Entry{
		DatabaseID: req.DatabaseID,
		Prompt:     req.Prompt,
		SQL:        resp.SQLQuery,
		QueryType:  string(intent.QueryTypeUnknown),
		Success:    resp.Success,
		Mocked:     resp.Mocked,
	}
	if resp.ParsedInfo != nil {
		entry.QueryType = string(resp.ParsedInfo.QueryType)
		entry.Tables = resp.ParsedInfo.Tables
	}
	if resp.QueryResult != nil {
		entry.Success = entry.Success && resp.QueryResult.Success
		entry.ExecutionTime = resp.QueryResult.ExecutionTime
	}
	if err := s.History.Record(ctx, history.NewEntry(entry, s.Clock())); err != nil {
		logger.Warn("record query history failed", slog.Any("error", err))
	}
}
