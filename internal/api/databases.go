package api

import (
	"net/http"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/pipeline"
)

type loadDatabaseRequest struct {
	FilePath string `json:"file_path"`
}

type importDatabaseRequest struct {
	ObjectKey string `json:"object_key"`
}

type executeQueryRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

func databaseID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}

func requireDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Databases == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATABASES_NOT_CONFIGURED", "database engine is not configured", false, nil)
		return false
	}
	return true
}

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireReader(r, w) {
		return
	}
	databases := deps.Databases.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"databases": databases,
		"count":     len(databases),
	})
}

func handleGetDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireReader(r, w) {
		return
	}
	info, err := deps.Databases.Info(r.Context(), databaseID(r))
	if err != nil {
		writeFailure(r, w, err, "DATABASE_ERROR", "failed to read database info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func handleDatabaseSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireReader(r, w) {
		return
	}
	schema, err := deps.Databases.Schema(r.Context(), databaseID(r))
	if err != nil {
		writeFailure(r, w, err, "SCHEMA_FETCH_FAILED", "failed to read database schema")
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func handleLoadDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	var req loadDatabaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "load database", err)
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_PATH_REQUIRED", "file_path is required", false, nil)
		return
	}
	info, err := deps.Databases.Load(r.Context(), req.FilePath)
	if err != nil {
		writeFailure(r, w, err, "DATABASE_LOAD_FAILED", "failed to load database")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func handleImportDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Replicator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	if !requireAdmin(r, w) {
		return
	}
	var req importDatabaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "import database", err)
		return
	}
	if strings.TrimSpace(req.ObjectKey) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "OBJECT_KEY_REQUIRED", "object_key is required", false, nil)
		return
	}
	info, err := deps.Replicator.Import(r.Context(), req.ObjectKey)
	if err != nil {
		writeFailure(r, w, err, "DATABASE_IMPORT_FAILED", "failed to import database")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func handleCreateDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	var req pipeline.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "create database", err)
		return
	}
	result, err := deps.Pipeline.CreateDatabase(r.Context(), req)
	if err != nil {
		writeFailure(r, w, err, "DATABASE_CREATE_FAILED", "failed to create database")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func handleCloseDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	id := databaseID(r)
	if !deps.Databases.Close(id) {
		writeError(r.Context(), w, http.StatusNotFound, "DATABASE_NOT_FOUND", "database was not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed", "database_id": id})
}

func handleSnapshotDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Replicator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	if !requireAdmin(r, w) {
		return
	}
	object, err := deps.Replicator.Snapshot(r.Context(), databaseID(r))
	if err != nil {
		writeFailure(r, w, err, "SNAPSHOT_FAILED", "failed to snapshot database")
		return
	}
	writeJSON(w, http.StatusCreated, object)
}

func handleListSnapshots(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Replicator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	if !requireReader(r, w) {
		return
	}
	id := databaseID(r)
	objects, err := deps.Replicator.Snapshots(r.Context(), id)
	if err != nil {
		writeFailure(r, w, err, "OBJECT_STORE_ERROR", "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"database_id": id, "snapshots": objects})
}

// handleExecuteQuery runs caller supplied SQL directly, bypassing the safety
// decision, so it is restricted to admins.
func handleExecuteQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	var req executeQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "query", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	result, err := deps.Databases.Execute(r.Context(), databaseID(r), req.Query, req.Params...)
	if err != nil {
		writeFailure(r, w, err, "QUERY_EXECUTION_FAILED", "query execution failed")
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}
