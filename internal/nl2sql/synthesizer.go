package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/safety"
)

const (
	DefaultTranslateTemperature = 0.1

	schemaTemperature   = 0.3
	explainTemperature  = 0.3
	optimizeTemperature = 0.2
	safetyTemperature   = 0.1

	explainSampleRows = 3
)

var (
	ErrMalformedReply = errors.New("malformed model reply")
	ErrEmptyReply     = errors.New("model returned empty content")
)

// MalformedReplyError carries the decode failure of a structured model reply.
type MalformedReplyError struct {
	Operation string
	Err       error
}

func (e *MalformedReplyError) Error() string {
	return "Failed to parse AI response: " + e.Err.Error()
}

func (e *MalformedReplyError) Unwrap() error {
	return e.Err
}

func (e *MalformedReplyError) Is(target error) bool {
	return target == ErrMalformedReply
}

type SynthesizerOptions struct {
	TranslateTemperature float64
	Logger               *slog.Logger
}

// Synthesizer turns prompts into SQL and prose through a Completer.
type Synthesizer struct {
	completer            Completer
	translateTemperature float64
	logger               *slog.Logger
}

var _ safety.Assessor = (*Synthesizer)(nil)

func NewSynthesizer(completer Completer, opts SynthesizerOptions) *Synthesizer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.TranslateTemperature <= 0 {
		opts.TranslateTemperature = DefaultTranslateTemperature
	}
	return &Synthesizer{
		completer:            completer,
		translateTemperature: opts.TranslateTemperature,
		logger:               opts.Logger,
	}
}

type Translation struct {
	SQL    string `json:"sql"`
	Model  string `json:"model,omitempty"`
	Mocked bool   `json:"mocked"`
}

type GeneratedSchema struct {
	Document query.SchemaDocument `json:"schema"`
	Mocked   bool                 `json:"mocked"`
}

type Explanation struct {
	Text        string `json:"explanation"`
	ResultCount int    `json:"result_count"`
	Mocked      bool   `json:"mocked"`
}

type Optimization struct {
	Suggestions string `json:"suggestions"`
	Mocked      bool   `json:"mocked"`
}

func (s *Synthesizer) Translate(ctx context.Context, prompt string, schema query.SchemaSnapshot, model string) (Translation, error) {
	reply := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: fmt.Sprintf(translateSystemPrompt, FormatSchema(schema))},
			{Role: "user", Content: fmt.Sprintf(translateUserPrompt, strings.TrimSpace(prompt))},
		},
		Temperature: s.translateTemperature,
		Model:       model,
	})
	sqlText := stripFences(reply.Content)
	if sqlText == "" {
		return Translation{Mocked: reply.Mocked()}, fmt.Errorf("translate prompt: %w", ErrEmptyReply)
	}
	return Translation{SQL: sqlText, Model: reply.Model, Mocked: reply.Mocked()}, nil
}

func (s *Synthesizer) GenerateSchema(ctx context.Context, description, model string) (GeneratedSchema, error) {
	reply := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: schemaSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(schemaUserPrompt, strings.TrimSpace(description))},
		},
		Temperature: schemaTemperature,
		Model:       model,
	})
	content := stripFences(reply.Content)

	var document query.SchemaDocument
	if err := json.Unmarshal([]byte(content), &document); err != nil {
		s.logger.Error("schema reply is not valid JSON",
			slog.Any("error", err),
			slog.String("content", truncate(content, 500)),
		)
		return GeneratedSchema{Mocked: reply.Mocked()}, &MalformedReplyError{Operation: "generate_schema", Err: err}
	}
	if len(document.Tables) == 0 {
		return GeneratedSchema{Mocked: reply.Mocked()}, &MalformedReplyError{Operation: "generate_schema", Err: errors.New("schema contains no tables")}
	}
	return GeneratedSchema{Document: document, Mocked: reply.Mocked()}, nil
}

func (s *Synthesizer) Explain(ctx context.Context, rows []map[string]any, prompt, sqlText, model string) (Explanation, error) {
	summary := fmt.Sprintf("Found %d results", len(rows))
	sample := "No results found"
	if len(rows) > 0 {
		encoded, err := json.MarshalIndent(rows[:min(len(rows), explainSampleRows)], "", "  ")
		if err != nil {
			return Explanation{}, fmt.Errorf("encode sample rows: %w", err)
		}
		sample = string(encoded)
	}

	reply := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: explainSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(explainUserPrompt, prompt, sqlText, summary, sample)},
		},
		Temperature: explainTemperature,
		Model:       model,
	})
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return Explanation{Mocked: reply.Mocked()}, fmt.Errorf("explain results: %w", ErrEmptyReply)
	}
	return Explanation{Text: text, ResultCount: len(rows), Mocked: reply.Mocked()}, nil
}

func (s *Synthesizer) SuggestOptimizations(ctx context.Context, sqlText string, schema query.SchemaSnapshot, model string) (Optimization, error) {
	reply := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: fmt.Sprintf(optimizeSystemPrompt, FormatSchema(schema))},
			{Role: "user", Content: fmt.Sprintf(optimizeUserPrompt, sqlText)},
		},
		Temperature: optimizeTemperature,
		Model:       model,
	})
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return Optimization{Mocked: reply.Mocked()}, fmt.Errorf("suggest optimizations: %w", ErrEmptyReply)
	}
	return Optimization{Suggestions: text, Mocked: reply.Mocked()}, nil
}

// AssessSafety asks the model for a JSON verdict. Replies that do not decode
// fall back to a DROP/DELETE heuristic at medium risk.
func (s *Synthesizer) AssessSafety(ctx context.Context, sqlText, model string) (safety.ModelVerdict, error) {
	reply := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: safetySystemPrompt},
			{Role: "user", Content: fmt.Sprintf(safetyUserPrompt, sqlText)},
		},
		Temperature: safetyTemperature,
		Model:       model,
	})
	content := stripFences(reply.Content)
	if content == "" {
		return safety.ModelVerdict{}, fmt.Errorf("assess safety: %w", ErrEmptyReply)
	}

	var verdict safety.ModelVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		s.logger.Warn("safety reply is not valid JSON, using heuristic", slog.Any("error", err))
		upper := strings.ToUpper(sqlText)
		safe := !strings.Contains(upper, "DROP") && !strings.Contains(upper, "DELETE")
		verdict = safety.ModelVerdict{
			Safe:            &safe,
			RiskLevel:       string(safety.RiskMedium),
			Warnings:        []string{"Could not parse AI safety analysis"},
			Recommendations: []string{"Manual review recommended"},
		}
	}
	verdict.Mocked = reply.Mocked()
	return verdict, nil
}
