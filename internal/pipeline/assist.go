package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/intent"
	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/safety"
)

const (
	MinDescriptionLength  = 10
	MaxRelatedSuggestions = 5
	relatedColumnSamples  = 3
	createdDatabaseSuffix = ".sqlite"
)

var (
	ErrDatabaseNotLoaded = errors.New("Database not found or not loaded")
	ErrNoDataToExplain   = errors.New("No data to explain")
	ErrCreateUnsupported = errors.New("database creation is not configured")
)

// InputError reports a request that cannot enter a pipeline operation.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func inputError(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

type OptimizeResult struct {
	OriginalQuery string `json:"original_query"`
	Suggestions   string `json:"suggestions"`
	Mocked        bool   `json:"mocked"`
}

func (s *Service) Optimize(ctx context.Context, sqlText, databaseID, model string) (OptimizeResult, error) {
	s.ensureDefaults()
	if strings.TrimSpace(sqlText) == "" {
		return OptimizeResult{}, inputError("Missing required field: sql_query")
	}
	if !s.Engine.Has(databaseID) {
		return OptimizeResult{OriginalQuery: sqlText}, ErrDatabaseNotLoaded
	}
	schema, err := s.Engine.Schema(ctx, databaseID)
	if err != nil {
		return OptimizeResult{OriginalQuery: sqlText}, fmt.Errorf("load schema: %w", err)
	}
	optimization, err := s.Synthesizer.SuggestOptimizations(ctx, sqlText, schema, model)
	if err != nil {
		return OptimizeResult{OriginalQuery: sqlText, Mocked: optimization.Mocked}, err
	}
	return OptimizeResult{OriginalQuery: sqlText, Suggestions: optimization.Suggestions, Mocked: optimization.Mocked}, nil
}

// Validate runs only the combined safety decision.
func (s *Service) Validate(ctx context.Context, sqlText, model string) (safety.Verdict, error) {
	s.ensureDefaults()
	if strings.TrimSpace(sqlText) == "" {
		return safety.Verdict{}, inputError("Missing required field: sql_query")
	}
	verdict := s.Safety.Assess(ctx, sqlText, model)
	if verdict.Blocks() {
		observability.IncrementSafetyRejection()
	}
	return verdict, nil
}

type ExplainRequest struct {
	QueryResult    query.ExecResult `json:"query_result"`
	OriginalPrompt string           `json:"original_prompt"`
	SQLQuery       string           `json:"sql_query"`
	Model          string           `json:"model,omitempty"`
}

type ExplainResult struct {
	Explanation string `json:"explanation"`
	ResultCount int    `json:"result_count"`
	Mocked      bool   `json:"mocked"`
}

func (s *Service) Explain(ctx context.Context, req ExplainRequest) (ExplainResult, error) {
	s.ensureDefaults()
	if !req.QueryResult.Success || len(req.QueryResult.Data) == 0 {
		return ExplainResult{}, ErrNoDataToExplain
	}
	explanation, err := s.Synthesizer.Explain(ctx, req.QueryResult.Data, req.OriginalPrompt, req.SQLQuery, req.Model)
	if err != nil {
		return ExplainResult{Mocked: explanation.Mocked}, err
	}
	return ExplainResult{
		Explanation: explanation.Text,
		ResultCount: explanation.ResultCount,
		Mocked:      explanation.Mocked,
	}, nil
}

type CreateRequest struct {
	Description  string `json:"description"`
	DatabaseName string `json:"database_name"`
	Model        string `json:"model,omitempty"`
}

type CreateResult struct {
	DatabaseInfo   query.DatabaseInfo   `json:"database_info"`
	Schema         query.SchemaDocument `json:"schema"`
	Description    string               `json:"description"`
	Mocked         bool                 `json:"mocked"`
	ProcessingTime float64              `json:"processing_time"`
}

// CreateDatabase generates a schema from the description and applies it to a
// new file named after the cleaned database name.
func (s *Service) CreateDatabase(ctx context.Context, req CreateRequest) (CreateResult, error) {
	s.ensureDefaults()
	start := s.Clock()

	description := strings.TrimSpace(req.Description)
	if description == "" {
		return CreateResult{}, inputError("Description cannot be empty")
	}
	if len([]rune(description)) < MinDescriptionLength {
		return CreateResult{}, inputError("Description must be at least %d characters long", MinDescriptionLength)
	}
	name, err := CleanDatabaseName(req.DatabaseName)
	if err != nil {
		return CreateResult{}, err
	}
	if s.Creator == nil {
		return CreateResult{}, ErrCreateUnsupported
	}

	generated, err := s.Synthesizer.GenerateSchema(ctx, description, req.Model)
	if err != nil {
		return CreateResult{Description: description, Mocked: generated.Mocked}, err
	}
	info, err := s.Creator.Create(ctx, s.Creator.ResolvePath(name), generated.Document)
	if err != nil {
		return CreateResult{Description: description, Mocked: generated.Mocked}, fmt.Errorf("create database %s: %w", name, err)
	}

	observability.LoggerFromContext(ctx, s.Logger).Info("database created from description",
		slog.String("database_id", info.ID),
		slog.Int("tables", len(info.Tables)),
		slog.Bool("mocked", generated.Mocked),
	)
	return CreateResult{
		DatabaseInfo:   info,
		Schema:         generated.Document,
		Description:    description,
		Mocked:         generated.Mocked,
		ProcessingTime: s.Clock().Sub(start).Seconds(),
	}, nil
}

// CleanDatabaseName keeps ASCII letters, digits, '_' and '-' and appends the
// .sqlite extension.
func CleanDatabaseName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", inputError("Database name cannot be empty")
	}
	if strings.HasSuffix(strings.ToLower(name), createdDatabaseSuffix) {
		name = name[:len(name)-len(createdDatabaseSuffix)]
	}
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			builder.WriteRune(r)
		}
	}
	if builder.Len() == 0 {
		return "", inputError("Database name must contain valid characters")
	}
	return builder.String() + createdDatabaseSuffix, nil
}

// SuggestRelated proposes up to five follow-up questions from the parsed
// prompt and the first table's columns.
func (s *Service) SuggestRelated(ctx context.Context, originalQuery, databaseID string) ([]string, error) {
	s.ensureDefaults()
	if strings.TrimSpace(originalQuery) == "" {
		return nil, inputError("Missing required field: original_query")
	}
	if !s.Engine.Has(databaseID) {
		return nil, ErrDatabaseNotLoaded
	}
	schema, err := s.Engine.Schema(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	parsed := s.Parser.Parse(originalQuery)
	suggestions := make([]string, 0, MaxRelatedSuggestions)
	if len(parsed.Tables) == 0 {
		return suggestions, nil
	}

	tableName := parsed.Tables[0]
	suggestions = append(suggestions, fmt.Sprintf("How many records are in %s?", tableName))
	if table, ok := schema.Table(tableName); ok {
		for _, column := range table.Columns[:min(len(table.Columns), relatedColumnSamples)] {
			suggestions = append(suggestions, fmt.Sprintf("Show unique values in %s from %s", column.Name, tableName))
		}
	}
	if len(parsed.Filters) == 0 {
		suggestions = append(suggestions, fmt.Sprintf("Show %s with specific conditions", tableName))
	}
	if parsed.QueryType != intent.QueryTypeCount {
		suggestions = append(suggestions, fmt.Sprintf("Get statistics for %s", tableName))
	}
	return suggestions[:min(len(suggestions), MaxRelatedSuggestions)], nil
}

// Insights analyzes posted history, or the recorded history of databaseID
// when none is posted.
func (s *Service) Insights(ctx context.Context, posted []history.Entry, databaseID string) (history.Insights, error) {
	s.ensureDefaults()
	entries := posted
	if entries == nil && s.History != nil {
		recent, err := s.History.Recent(ctx, databaseID, history.MaxRecentLimit)
		if err != nil {
			return history.Insights{}, fmt.Errorf("load query history: %w", err)
		}
		entries = recent
	}
	return history.Analyze(entries)
}
