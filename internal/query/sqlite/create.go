package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

// Create builds a new database file from a schema document and registers it.
// A failing CREATE TABLE aborts and removes the file; failing sample rows and
// indexes are logged and skipped.
func (e *Engine) Create(ctx context.Context, path string, document query.SchemaDocument) (query.DatabaseInfo, error) {
	resolved := e.ResolvePath(path)
	if resolved == "" {
		return query.DatabaseInfo{}, fmt.Errorf("database path is required")
	}
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(resolved))]; !ok {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrUnsupportedFile, filepath.Ext(resolved))
	}
	if len(document.Tables) == 0 {
		return query.DatabaseInfo{}, fmt.Errorf("schema document has no tables")
	}
	if _, err := os.Stat(resolved); err == nil {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrDatabaseExists, filepath.Base(resolved))
	} else if !errors.Is(err, os.ErrNotExist) {
		return query.DatabaseInfo{}, fmt.Errorf("stat database file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return query.DatabaseInfo{}, fmt.Errorf("create database directory: %w", err)
	}

	if err := e.applyDocument(ctx, resolved, document); err != nil {
		_ = os.Remove(resolved)
		return query.DatabaseInfo{}, err
	}
	return e.Load(ctx, resolved)
}

func (e *Engine) applyDocument(ctx context.Context, path string, document query.SchemaDocument) error {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	for _, table := range document.Tables {
		if strings.TrimSpace(table.CreateSQL) == "" {
			return fmt.Errorf("table %q has no create statement", table.Name)
		}
		if _, err := db.ExecContext(ctx, table.CreateSQL); err != nil {
			return fmt.Errorf("create table %q: %w", table.Name, err)
		}
	}
	for _, table := range document.Tables {
		for _, insert := range table.SampleData {
			if strings.TrimSpace(insert) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, insert); err != nil {
				e.logger.Warn("sample insert skipped",
					slog.String("table", table.Name),
					slog.Any("error", err),
				)
			}
		}
	}
	for _, index := range document.Indexes {
		if strings.TrimSpace(index) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, index); err != nil {
			e.logger.Warn("index creation skipped", slog.Any("error", err))
		}
	}
	return nil
}
