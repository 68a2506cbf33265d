package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	MaxExportRows   = 10000
	DefaultIDColumn = "id"
)

type pageSpec struct {
	table     string
	limit     int
	offset    int
	sortBy    string
	sortOrder string
	filters   map[string]string
}

// TableData returns one page of rows with optional LIKE filters and sorting.
func (e *Engine) TableData(ctx context.Context, id string, request query.PageRequest) (query.TablePage, error) {
	db, _, err := e.handle(id)
	if err != nil {
		return query.TablePage{}, err
	}
	schema, err := e.TableSchema(ctx, id, request.Table)
	if err != nil {
		return query.TablePage{}, err
	}

	spec, err := normalizePage(schema, request)
	if err != nil {
		return query.TablePage{}, err
	}

	countSQL, countArgs := buildCount(spec.table, spec.filters)
	var total int64
	if err := db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return query.TablePage{}, fmt.Errorf("count rows in %q: %w", spec.table, err)
	}

	pageSQL, pageArgs := buildPage(spec)
	rows, err := db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return query.TablePage{}, fmt.Errorf("read rows from %q: %w", spec.table, err)
	}
	defer func() { _ = rows.Close() }()
	_, data, err := scanRows(rows)
	if err != nil {
		return query.TablePage{}, err
	}

	return query.TablePage{
		Table:    spec.table,
		Columns:  schema.Columns,
		Data:     data,
		PageInfo: pageInfo(spec.limit, spec.offset, total),
	}, nil
}

// ExportRows returns up to MaxExportRows rows of a table in column order.
func (e *Engine) ExportRows(ctx context.Context, id, table string) ([]string, []map[string]any, error) {
	schema, err := e.TableSchema(ctx, id, table)
	if err != nil {
		return nil, nil, err
	}
	db, _, err := e.handle(id)
	if err != nil {
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", QuoteIdent(table), MaxExportRows))
	if err != nil {
		return nil, nil, fmt.Errorf("export %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	_, data, err := scanRows(rows)
	if err != nil {
		return nil, nil, err
	}
	return schema.ColumnNames(), data, nil
}

func (e *Engine) InsertRecord(ctx context.Context, id, table string, record map[string]any) (query.ExecResult, error) {
	if len(record) == 0 {
		return query.ExecResult{}, fmt.Errorf("record must contain at least one column")
	}
	schema, err := e.TableSchema(ctx, id, table)
	if err != nil {
		return query.ExecResult{}, err
	}
	columns := sortedKeys(record)
	if err := requireColumns(schema, columns...); err != nil {
		return query.ExecResult{}, err
	}
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		args = append(args, record[column])
	}
	return e.Execute(ctx, id, buildInsert(table, columns), args...)
}

func (e *Engine) UpdateRecord(ctx context.Context, id, table string, recordID any, values map[string]any, idColumn string) (query.ExecResult, error) {
	if len(values) == 0 {
		return query.ExecResult{}, fmt.Errorf("update must contain at least one column")
	}
	idColumn = defaultIDColumn(idColumn)
	schema, err := e.TableSchema(ctx, id, table)
	if err != nil {
		return query.ExecResult{}, err
	}
	columns := sortedKeys(values)
	if err := requireColumns(schema, append([]string{idColumn}, columns...)...); err != nil {
		return query.ExecResult{}, err
	}
	args := make([]any, 0, len(columns)+1)
	for _, column := range columns {
		args = append(args, values[column])
	}
	args = append(args, recordID)
	return e.mutateRecord(ctx, id, buildUpdate(table, columns, idColumn), args...)
}

func (e *Engine) DeleteRecord(ctx context.Context, id, table string, recordID any, idColumn string) (query.ExecResult, error) {
	idColumn = defaultIDColumn(idColumn)
	schema, err := e.TableSchema(ctx, id, table)
	if err != nil {
		return query.ExecResult{}, err
	}
	if err := requireColumns(schema, idColumn); err != nil {
		return query.ExecResult{}, err
	}
	return e.mutateRecord(ctx, id, buildDelete(table, idColumn), recordID)
}

func (e *Engine) mutateRecord(ctx context.Context, id, statement string, args ...any) (query.ExecResult, error) {
	result, err := e.Execute(ctx, id, statement, args...)
	if err != nil {
		return query.ExecResult{}, err
	}
	if result.Success && result.RowsAffected != nil && *result.RowsAffected == 0 {
		return result, query.ErrRecordNotFound
	}
	return result, nil
}

func normalizePage(schema query.TableSchema, request query.PageRequest) (pageSpec, error) {
	spec := pageSpec{
		table:     schema.Name,
		limit:     request.Limit,
		offset:    request.Offset,
		sortOrder: "ASC",
		filters:   map[string]string{},
	}
	if spec.limit <= 0 {
		spec.limit = DefaultPageSize
	}
	if spec.limit > MaxPageSize {
		spec.limit = MaxPageSize
	}
	if spec.offset < 0 {
		spec.offset = 0
	}
	if sortBy := strings.TrimSpace(request.SortBy); sortBy != "" {
		if err := requireColumns(schema, sortBy); err != nil {
			return pageSpec{}, err
		}
		spec.sortBy = sortBy
		if strings.EqualFold(strings.TrimSpace(request.SortOrder), "desc") {
			spec.sortOrder = "DESC"
		}
	}
	for column, value := range request.Filters {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := requireColumns(schema, column); err != nil {
			return pageSpec{}, err
		}
		spec.filters[column] = value
	}
	return spec, nil
}

func pageInfo(limit, offset int, total int64) query.PageInfo {
	totalPages := (total + int64(limit) - 1) / int64(limit)
	currentPage := offset/limit + 1
	return query.PageInfo{
		CurrentPage: currentPage,
		PageSize:    limit,
		TotalRows:   total,
		TotalPages:  totalPages,
		HasNext:     int64(offset+limit) < total,
		HasPrevious: offset > 0,
	}
}

func requireColumns(schema query.TableSchema, columns ...string) error {
	for _, column := range columns {
		if _, ok := schema.Column(column); !ok {
			return fmt.Errorf("%w: %s.%s", query.ErrColumnNotFound, schema.Name, column)
		}
	}
	return nil
}

func defaultIDColumn(idColumn string) string {
	if strings.TrimSpace(idColumn) == "" {
		return DefaultIDColumn
	}
	return strings.TrimSpace(idColumn)
}
