package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/intent"
	"github.com/sqliteagent/sqliteagent/internal/pipeline"
)

type optimizeRequest struct {
	SQLQuery   string `json:"sql_query"`
	DatabaseID string `json:"database_id"`
	Model      string `json:"model"`
}

type validateRequest struct {
	SQLQuery string `json:"sql_query"`
	Model    string `json:"model"`
}

type suggestRequest struct {
	OriginalQuery string `json:"original_query"`
	DatabaseID    string `json:"database_id"`
}

type parseRequest struct {
	Query string `json:"query"`
}

// postedHistoryEntry is the subset of a history record clients post for
// insights; unknown fields are ignored.
type postedHistoryEntry struct {
	SQLQuery      string   `json:"sql_query"`
	QueryType     string   `json:"query_type"`
	Tables        []string `json:"tables"`
	ExecutionTime float64  `json:"execution_time"`
}

type insightsRequest struct {
	QueryHistory []postedHistoryEntry `json:"query_history"`
	DatabaseID   string               `json:"database_id"`
}

func requirePipeline(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AI_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return false
	}
	return true
}

func handleAIQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req pipeline.Request
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "query", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.DatabaseID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "VALIDATION_ERROR", "prompt and database_id are required", false, nil)
		return
	}

	resp := deps.Pipeline.Run(r.Context(), req)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func handleAIExplain(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req pipeline.ExplainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "explain", err)
		return
	}
	result, err := deps.Pipeline.Explain(r.Context(), req)
	if err != nil {
		writeFailure(r, w, err, "EXPLANATION_ERROR", "failed to explain results")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleAIOptimize(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req optimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "optimize", err)
		return
	}
	if strings.TrimSpace(req.SQLQuery) == "" || strings.TrimSpace(req.DatabaseID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MISSING_FIELD", "Missing required fields: sql_query, database_id", false, nil)
		return
	}
	result, err := deps.Pipeline.Optimize(r.Context(), req.SQLQuery, req.DatabaseID, req.Model)
	if err != nil {
		writeFailure(r, w, err, "OPTIMIZATION_ERROR", "failed to suggest optimizations")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleAIValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "validate", err)
		return
	}
	verdict, err := deps.Pipeline.Validate(r.Context(), req.SQLQuery, req.Model)
	if err != nil {
		writeFailure(r, w, err, "VALIDATION_ERROR", "failed to validate query")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func handleAISuggest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "suggest queries", err)
		return
	}
	suggestions, err := deps.Pipeline.SuggestRelated(r.Context(), req.OriginalQuery, req.DatabaseID)
	if err != nil {
		writeFailure(r, w, err, "SUGGESTION_ERROR", "failed to suggest related queries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func handleAIParse(_ Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireReader(r, w) {
		return
	}
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "parse", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MISSING_FIELD", "Missing required field: query", false, nil)
		return
	}
	parsed := intent.Parse(req.Query)
	writeJSON(w, http.StatusOK, map[string]any{
		"parsed_info":  parsed,
		"sql_skeleton": intent.SQLSkeleton(parsed),
	})
}

func handleAIInsights(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireReader(r, w) {
		return
	}
	var req insightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeInvalidJSON(r, w, "insights", err)
		return
	}

	var posted []history.Entry
	if req.QueryHistory != nil {
		posted = make([]history.Entry, 0, len(req.QueryHistory))
		for _, item := range req.QueryHistory {
			posted = append(posted, history.Entry{
				SQL:           item.SQLQuery,
				QueryType:     item.QueryType,
				Tables:        item.Tables,
				ExecutionTime: item.ExecutionTime,
			})
		}
	}
	insights, err := deps.Pipeline.Insights(r.Context(), posted, req.DatabaseID)
	if err != nil {
		writeFailure(r, w, err, "INSIGHTS_ERROR", "failed to analyze query history")
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func handleAIStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireReader(r, w) {
		return
	}
	if deps.Gateway == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ai_configured": false, "mode": "mocked", "model": ""})
		return
	}
	mode := "mocked"
	if deps.Gateway.Configured() {
		mode = "live"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ai_configured": deps.Gateway.Configured(),
		"mode":          mode,
		"model":         deps.Gateway.DefaultModel(),
	})
}

func handleAIModels(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AI_NOT_CONFIGURED", "model gateway is not configured", false, nil)
		return
	}
	if !requireReader(r, w) {
		return
	}
	models, err := deps.Gateway.ListModels(r.Context())
	if err != nil {
		writeFailure(r, w, err, "MODEL_LIST_FAILED", "Failed to fetch models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}
