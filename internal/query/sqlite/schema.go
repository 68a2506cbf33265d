package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

func (e *Engine) Schema(ctx context.Context, id string) (query.SchemaSnapshot, error) {
	db, _, err := e.handle(id)
	if err != nil {
		return query.SchemaSnapshot{}, err
	}
	names, err := listTables(ctx, db)
	if err != nil {
		return query.SchemaSnapshot{}, fmt.Errorf("list tables: %w", err)
	}

	snapshot := query.SchemaSnapshot{DatabaseID: id, Tables: make([]query.TableSchema, 0, len(names))}
	for _, name := range names {
		table, err := describeTable(ctx, db, name)
		if err != nil {
			return query.SchemaSnapshot{}, err
		}
		snapshot.Tables = append(snapshot.Tables, table)
	}
	return snapshot, nil
}

func (e *Engine) TableExists(ctx context.Context, id, table string) (bool, error) {
	db, _, err := e.handle(id)
	if err != nil {
		return false, err
	}
	return tableExists(ctx, db, table)
}

func (e *Engine) TableSchema(ctx context.Context, id, table string) (query.TableSchema, error) {
	db, _, err := e.handle(id)
	if err != nil {
		return query.TableSchema{}, err
	}
	exists, err := tableExists(ctx, db, table)
	if err != nil {
		return query.TableSchema{}, err
	}
	if !exists {
		return query.TableSchema{}, fmt.Errorf("%w: %s", query.ErrTableNotFound, table)
	}
	return describeTable(ctx, db, table)
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return count > 0, nil
}

func describeTable(ctx context.Context, db *sql.DB, table string) (query.TableSchema, error) {
	columns, err := tableColumns(ctx, db, table)
	if err != nil {
		return query.TableSchema{}, err
	}
	var rowCount int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&rowCount); err != nil {
		return query.TableSchema{}, fmt.Errorf("count rows in %q: %w", table, err)
	}
	return query.TableSchema{Name: table, Columns: columns, RowCount: rowCount}, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]query.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+QuoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]query.ColumnInfo, 0)
	for rows.Next() {
		var (
			cid          int
			name         string
			declaredType string
			notNull      int
			defaultValue sql.NullString
			primaryKey   int
		)
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("scan table info %q: %w", table, err)
		}
		column := query.ColumnInfo{
			Name:       name,
			Type:       declaredType,
			NotNull:    notNull != 0,
			PrimaryKey: primaryKey != 0,
		}
		if defaultValue.Valid {
			value := defaultValue.String
			column.DefaultValue = &value
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %q: %w", table, err)
	}
	return columns, nil
}
