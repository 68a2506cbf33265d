package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sqliteagent/sqliteagent/internal/history"
)

type Store struct {
	db *sql.DB
}

var _ history.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, entry history.Entry) error {
	tables := entry.Tables
	if tables == nil {
		tables = []string{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode history tables: %w", err)
	}

	query := `
INSERT INTO query_history (entry_id, database_id, prompt, sql_query, query_type, tables_json, success, execution_time_seconds, mocked, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID.String(),
		entry.DatabaseID,
		entry.Prompt,
		entry.SQL,
		entry.QueryType,
		string(tablesJSON),
		entry.Success,
		entry.ExecutionTime,
		entry.Mocked,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, databaseID string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultRecentLimit
	}
	if limit > history.MaxRecentLimit {
		limit = history.MaxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, database_id, prompt, sql_query, query_type, tables_json, success, execution_time_seconds, mocked, created_at
FROM query_history
WHERE ($1 = '' OR database_id = $1)
ORDER BY created_at DESC
LIMIT $2`, databaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry      history.Entry
			entryID    string
			tablesJSON []byte
		)
		if err := rows.Scan(
			&entryID,
			&entry.DatabaseID,
			&entry.Prompt,
			&entry.SQL,
			&entry.QueryType,
			&tablesJSON,
			&entry.Success,
			&entry.ExecutionTime,
			&entry.Mocked,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if entry.ID, err = uuid.Parse(entryID); err != nil {
			return nil, fmt.Errorf("parse history id %q: %w", entryID, err)
		}
		if err := json.Unmarshal(tablesJSON, &entry.Tables); err != nil {
			return nil, fmt.Errorf("decode history tables: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}
