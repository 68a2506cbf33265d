package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/query"
)

var rowReturningKeywords = map[string]struct{}{
	"SELECT":  {},
	"WITH":    {},
	"PRAGMA":  {},
	"EXPLAIN": {},
	"VALUES":  {},
}

// Execute runs one statement inside its own transaction. The returned error is
// only non-nil when the database is not registered; statement failures are
// reported through ExecResult.
func (e *Engine) Execute(ctx context.Context, id, statement string, params ...any) (query.ExecResult, error) {
	db, _, err := e.handle(id)
	if err != nil {
		return query.ExecResult{}, err
	}

	start := time.Now()
	result, execErr := runStatement(ctx, db, stripTrailingSemicolons(statement), params)
	elapsed := time.Since(start).Seconds()
	if execErr != nil {
		e.logger.Warn("statement failed",
			slog.String("database_id", id),
			slog.Any("error", execErr),
		)
		observability.ObserveSQLExecution(false)
		return query.ExecResult{Success: false, Error: execErr.Error(), ExecutionTime: elapsed}, nil
	}
	observability.ObserveSQLExecution(true)
	result.ExecutionTime = elapsed
	return result, nil
}

func runStatement(ctx context.Context, db *sql.DB, statement string, params []any) (query.ExecResult, error) {
	if statement == "" {
		return query.ExecResult{}, fmt.Errorf("statement is empty")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return query.ExecResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var result query.ExecResult
	if returnsRows(statement) {
		result, err = queryRows(ctx, tx, statement, params)
	} else {
		result, err = execStatement(ctx, tx, statement, params)
	}
	if err != nil {
		return query.ExecResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return query.ExecResult{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return result, nil
}

func queryRows(ctx context.Context, tx *sql.Tx, statement string, params []any) (query.ExecResult, error) {
	rows, err := tx.QueryContext(ctx, statement, params...)
	if err != nil {
		return query.ExecResult{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, data, err := scanRows(rows)
	if err != nil {
		return query.ExecResult{}, err
	}
	count := len(data)
	return query.ExecResult{
		Success:  true,
		Data:     data,
		Columns:  columns,
		RowCount: &count,
	}, nil
}

func execStatement(ctx context.Context, tx *sql.Tx, statement string, params []any) (query.ExecResult, error) {
	res, err := tx.ExecContext(ctx, statement, params...)
	if err != nil {
		return query.ExecResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return query.ExecResult{}, fmt.Errorf("rows affected: %w", err)
	}
	result := query.ExecResult{
		Success:      true,
		RowsAffected: &affected,
		Message:      fmt.Sprintf("Query executed successfully. %d rows affected.", affected),
	}
	if lastID, err := res.LastInsertId(); err == nil && lastID > 0 {
		result.LastInsertID = &lastID
	}
	return result, nil
}

func scanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	data := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, data, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func returnsRows(statement string) bool {
	trimmed := strings.TrimLeft(statement, " \t\r\n(")
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end >= 0 {
		trimmed = trimmed[:end]
	}
	_, ok := rowReturningKeywords[strings.ToUpper(trimmed)]
	return ok
}
