package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/query"
)

const (
	driverName = "sqlite"

	DefaultMaxDatabaseBytes int64 = 100 * 1024 * 1024
)

var allowedExtensions = map[string]struct{}{
	".db":      {},
	".sqlite":  {},
	".sqlite3": {},
}

type Options struct {
	UploadDir        string
	MaxDatabaseBytes int64
	Logger           *slog.Logger
}

type entry struct {
	info query.DatabaseInfo
	db   *sql.DB
}

// Engine owns the registry of open SQLite databases keyed by file basename.
type Engine struct {
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger

	mu        sync.RWMutex
	databases map[string]*entry
}

var _ query.Engine = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxDatabaseBytes <= 0 {
		opts.MaxDatabaseBytes = DefaultMaxDatabaseBytes
	}
	if strings.TrimSpace(opts.UploadDir) == "" {
		opts.UploadDir = "uploads"
	}
	return &Engine{
		uploadDir: opts.UploadDir,
		maxBytes:  opts.MaxDatabaseBytes,
		logger:    opts.Logger,
		databases: map[string]*entry{},
	}
}

func (e *Engine) UploadDir() string {
	return e.uploadDir
}

// ResolvePath maps a caller supplied path onto the upload directory when it is relative.
func (e *Engine) ResolvePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	relative := strings.TrimPrefix(filepath.ToSlash(path), "./")
	relative = strings.TrimPrefix(relative, "uploads/")
	return filepath.Join(e.uploadDir, filepath.FromSlash(relative))
}

// Load opens an existing database file and registers it. Loading an id that is
// already registered replaces the previous handle.
func (e *Engine) Load(ctx context.Context, path string) (query.DatabaseInfo, error) {
	resolved := e.ResolvePath(path)
	if resolved == "" {
		return query.DatabaseInfo{}, fmt.Errorf("%w: path is required", query.ErrFileNotFound)
	}
	stat, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrFileNotFound, path)
		}
		return query.DatabaseInfo{}, fmt.Errorf("stat database file: %w", err)
	}
	if stat.IsDir() {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %s is a directory", query.ErrFileNotFound, path)
	}
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(resolved))]; !ok {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrUnsupportedFile, filepath.Ext(resolved))
	}
	if stat.Size() > e.maxBytes {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", query.ErrFileTooLarge, stat.Size(), e.maxBytes)
	}

	db, err := sql.Open(driverName, resolved)
	if err != nil {
		return query.DatabaseInfo{}, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	tables, err := listTables(ctx, db)
	if err != nil {
		_ = db.Close()
		return query.DatabaseInfo{}, fmt.Errorf("%w: %v", query.ErrInvalidDatabase, err)
	}

	info := query.DatabaseInfo{
		ID:        filepath.Base(resolved),
		Path:      resolved,
		Tables:    tables,
		SizeBytes: stat.Size(),
		LoadedAt:  time.Now().UTC(),
	}
	e.register(info, db)
	e.logger.Info("database loaded",
		slog.String("database_id", info.ID),
		slog.String("path", resolved),
		slog.Int("tables", len(tables)),
	)
	return info, nil
}

func (e *Engine) register(info query.DatabaseInfo, db *sql.DB) {
	e.mu.Lock()
	previous := e.databases[info.ID]
	e.databases[info.ID] = &entry{info: info, db: db}
	count := len(e.databases)
	e.mu.Unlock()

	if previous != nil && previous.db != db {
		_ = previous.db.Close()
	}
	observability.SetLoadedDatabases(count)
}

func (e *Engine) handle(id string) (*sql.DB, query.DatabaseInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	current, ok := e.databases[id]
	if !ok {
		return nil, query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrDatabaseNotFound, id)
	}
	return current.db, current.info, nil
}

func (e *Engine) Has(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.databases[id]
	return ok
}

// Info refreshes table names and file size for a registered database.
func (e *Engine) Info(ctx context.Context, id string) (query.DatabaseInfo, error) {
	db, info, err := e.handle(id)
	if err != nil {
		return query.DatabaseInfo{}, err
	}
	tables, err := listTables(ctx, db)
	if err != nil {
		return query.DatabaseInfo{}, fmt.Errorf("list tables for %s: %w", id, err)
	}
	info.Tables = tables
	if stat, statErr := os.Stat(info.Path); statErr == nil {
		info.SizeBytes = stat.Size()
	}
	return info, nil
}

func (e *Engine) List(ctx context.Context) []query.DatabaseInfo {
	e.mu.RLock()
	ids := make([]string, 0, len(e.databases))
	for id := range e.databases {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	out := make([]query.DatabaseInfo, 0, len(ids))
	for _, id := range ids {
		info, err := e.Info(ctx, id)
		if err != nil {
			// closed concurrently or unreadable; skip rather than fail the listing
			if !errors.Is(err, query.ErrDatabaseNotFound) {
				e.logger.Warn("database info failed", slog.String("database_id", id), slog.Any("error", err))
			}
			continue
		}
		out = append(out, info)
	}
	return out
}

// Close unregisters a database and reports whether it was registered.
func (e *Engine) Close(id string) bool {
	e.mu.Lock()
	current, ok := e.databases[id]
	if ok {
		delete(e.databases, id)
	}
	count := len(e.databases)
	e.mu.Unlock()

	if !ok {
		return false
	}
	if err := current.db.Close(); err != nil {
		e.logger.Warn("close database failed", slog.String("database_id", id), slog.Any("error", err))
	}
	observability.SetLoadedDatabases(count)
	e.logger.Info("database closed", slog.String("database_id", id))
	return true
}

func (e *Engine) CloseAll() {
	e.mu.Lock()
	current := e.databases
	e.databases = map[string]*entry{}
	e.mu.Unlock()

	for id, item := range current {
		if err := item.db.Close(); err != nil {
			e.logger.Warn("close database failed", slog.String("database_id", id), slog.Any("error", err))
		}
	}
	observability.SetLoadedDatabases(0)
}

// Backup writes a consistent copy of a registered database to destPath.
func (e *Engine) Backup(ctx context.Context, id, destPath string) error {
	db, _, err := e.handle(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%w: %s", query.ErrDatabaseExists, destPath)
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup database %s: %w", id, err)
	}
	return nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}
