package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/history"
)

func handleRecentHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil || deps.Pipeline.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	if !requireReader(r, w) {
		return
	}
	limit := history.DefaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	databaseID := strings.TrimSpace(r.URL.Query().Get("database_id"))
	entries, err := deps.Pipeline.History.Recent(r.Context(), databaseID, limit)
	if err != nil {
		writeFailure(r, w, err, "HISTORY_ERROR", "failed to read query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func handleArchiveHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "history archive is not configured", false, nil)
		return
	}
	if !requireAdmin(r, w) {
		return
	}
	result, err := deps.Archiver.Archive(r.Context())
	if err != nil {
		writeFailure(r, w, err, "ARCHIVE_FAILED", "history archive run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "archive": result})
}
