package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqliteagent/sqliteagent/internal/auth"
	"github.com/sqliteagent/sqliteagent/internal/config"
	"github.com/sqliteagent/sqliteagent/internal/history"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/pipeline"
	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// DatabaseManager is the engine surface behind the database and table routes.
type DatabaseManager interface {
	query.Engine
	Load(ctx context.Context, path string) (query.DatabaseInfo, error)
	Info(ctx context.Context, id string) (query.DatabaseInfo, error)
	List(ctx context.Context) []query.DatabaseInfo
	Close(id string) bool
	TableData(ctx context.Context, id string, request query.PageRequest) (query.TablePage, error)
	ExportRows(ctx context.Context, id, table string) ([]string, []map[string]any, error)
	InsertRecord(ctx context.Context, id, table string, record map[string]any) (query.ExecResult, error)
	UpdateRecord(ctx context.Context, id, table string, recordID any, values map[string]any, idColumn string) (query.ExecResult, error)
	DeleteRecord(ctx context.Context, id, table string, recordID any, idColumn string) (query.ExecResult, error)
}

type Replicator interface {
	Import(ctx context.Context, objectKey string) (query.DatabaseInfo, error)
	Snapshot(ctx context.Context, databaseID string) (storage.ObjectInfo, error)
	Snapshots(ctx context.Context, databaseID string) ([]storage.ObjectInfo, error)
}

type ModelGateway interface {
	Configured() bool
	DefaultModel() string
	ListModels(ctx context.Context) ([]nl2sql.ModelInfo, error)
}

type HistoryArchiver interface {
	Archive(ctx context.Context) (history.ArchiveResult, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Databases         DatabaseManager
	Pipeline          *pipeline.Service
	Gateway           ModelGateway
	Replicator        Replicator
	Archiver          HistoryArchiver
	MCP               http.Handler
}

type route struct {
	pattern string
	handle  func(Dependencies, http.ResponseWriter, *http.Request)
}

func protectedRoutes() []route {
	return []route{
		{"GET /v1/databases", handleListDatabases},
		{"GET /v1/databases/{id}", handleGetDatabase},
		{"GET /v1/databases/{id}/schema", handleDatabaseSchema},
		{"POST /v1/databases/load", handleLoadDatabase},
		{"POST /v1/databases/import", handleImportDatabase},
		{"POST /v1/databases/create", handleCreateDatabase},
		{"POST /v1/databases/{id}/close", handleCloseDatabase},
		{"POST /v1/databases/{id}/snapshot", handleSnapshotDatabase},
		{"GET /v1/databases/{id}/snapshots", handleListSnapshots},
		{"POST /v1/databases/{id}/query", handleExecuteQuery},

		{"GET /v1/databases/{id}/tables/{table}", handleTableData},
		{"GET /v1/databases/{id}/tables/{table}/export", handleExportTable},
		{"POST /v1/databases/{id}/tables/{table}/records", handleInsertRecord},
		{"PUT /v1/databases/{id}/tables/{table}/records/{record}", handleUpdateRecord},
		{"DELETE /v1/databases/{id}/tables/{table}/records/{record}", handleDeleteRecord},

		{"POST /v1/ai/query", handleAIQuery},
		{"POST /v1/ai/explain", handleAIExplain},
		{"POST /v1/ai/optimize", handleAIOptimize},
		{"POST /v1/ai/validate", handleAIValidate},
		{"POST /v1/ai/suggest-queries", handleAISuggest},
		{"POST /v1/ai/parse", handleAIParse},
		{"POST /v1/ai/history/insights", handleAIInsights},
		{"GET /v1/ai/status", handleAIStatus},
		{"GET /v1/ai/models", handleAIModels},

		{"GET /v1/history", handleRecentHistory},
		{"POST /v1/history/archive", handleArchiveHistory},
	}
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protect := func(next http.Handler) http.Handler { return next }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protect = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			protect = deps.AuthMiddleware
		}
	}

	for _, rt := range protectedRoutes() {
		handle := rt.handle
		mux.Handle(rt.pattern, protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})))
	}
	if cfg.MCP.Enabled && deps.MCP != nil {
		mux.Handle(cfg.MCP.Path, protect(deps.MCP))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckUploadDir(dir string) ReadinessCheck {
	return func(_ context.Context) error {
		if dir == "" {
			return errors.New("upload dir is not configured")
		}
		return nil
	}
}

// HealthChecker is implemented by backends that can probe their connection.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckHistoryStore(store HealthChecker) ReadinessCheck {
	return checkBackend("history store", store)
}

func CheckObjectStore(store HealthChecker) ReadinessCheck {
	return checkBackend("object store", store)
}

func checkBackend(name string, backend HealthChecker) ReadinessCheck {
	return func(ctx context.Context) error {
		if err := backend.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeFailure maps domain errors onto the error envelope. Unknown errors are
// reported as fallbackCode with a 500.
func writeFailure(r *http.Request, w http.ResponseWriter, err error, fallbackCode, fallbackMessage string) {
	ctx := r.Context()
	var inputErr *pipeline.InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_REQUEST", inputErr.Message, false, nil)
	case errors.Is(err, pipeline.ErrDatabaseNotLoaded), errors.Is(err, query.ErrDatabaseNotFound):
		writeError(ctx, w, http.StatusNotFound, "DATABASE_NOT_FOUND", "database was not found", false, nil)
	case errors.Is(err, query.ErrTableNotFound):
		writeError(ctx, w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, nil)
	case errors.Is(err, query.ErrRecordNotFound):
		writeError(ctx, w, http.StatusNotFound, "RECORD_NOT_FOUND", "record was not found", false, nil)
	case errors.Is(err, query.ErrColumnNotFound):
		writeError(ctx, w, http.StatusBadRequest, "COLUMN_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, query.ErrFileNotFound), errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "FILE_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, query.ErrUnsupportedFile), errors.Is(err, query.ErrInvalidDatabase):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_DATABASE_FILE", err.Error(), false, nil)
	case errors.Is(err, query.ErrFileTooLarge), errors.Is(err, storage.ErrObjectTooLarge):
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error(), false, nil)
	case errors.Is(err, query.ErrDatabaseExists):
		writeError(ctx, w, http.StatusConflict, "DATABASE_EXISTS", err.Error(), false, nil)
	case errors.Is(err, pipeline.ErrNoDataToExplain):
		writeError(ctx, w, http.StatusBadRequest, "NO_DATA", err.Error(), false, nil)
	case errors.Is(err, history.ErrNoHistory):
		writeError(ctx, w, http.StatusBadRequest, "NO_HISTORY", err.Error(), false, nil)
	case errors.Is(err, history.ErrNothingToArchive):
		writeError(ctx, w, http.StatusConflict, "NOTHING_TO_ARCHIVE", err.Error(), false, nil)
	case errors.Is(err, nl2sql.ErrMalformedReply):
		writeError(ctx, w, http.StatusBadGateway, "AI_MALFORMED_REPLY", err.Error(), true, nil)
	case errors.Is(err, nl2sql.ErrNotConfigured):
		writeError(ctx, w, http.StatusBadRequest, "AI_NOT_CONFIGURED", err.Error(), false, nil)
	case errors.Is(err, nl2sql.ErrEmptyReply):
		writeError(ctx, w, http.StatusBadGateway, "AI_EMPTY_REPLY", err.Error(), true, nil)
	case errors.Is(err, pipeline.ErrCreateUnsupported):
		writeError(ctx, w, http.StatusNotImplemented, "NOT_CONFIGURED", err.Error(), false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, fallbackCode, fallbackMessage, true, map[string]any{"details": err.Error()})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeInvalidJSON(r *http.Request, w http.ResponseWriter, what string, err error) {
	writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid "+what+" request body", false, map[string]any{"details": err.Error()})
}

func requireAnyRole(r *http.Request, w http.ResponseWriter, roles ...auth.Role) bool {
	if err := auth.RequireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func requireReader(r *http.Request, w http.ResponseWriter) bool {
	return requireAnyRole(r, w, auth.RoleReader)
}

func requireAdmin(r *http.Request, w http.ResponseWriter) bool {
	return requireAnyRole(r, w, auth.RoleAdmin)
}
