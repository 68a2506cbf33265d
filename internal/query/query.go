package query

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDatabaseNotFound = errors.New("database not found")
	ErrDatabaseExists   = errors.New("database file already exists")
	ErrFileNotFound     = errors.New("database file not found")
	ErrUnsupportedFile  = errors.New("unsupported database file type")
	ErrFileTooLarge     = errors.New("database file too large")
	ErrInvalidDatabase  = errors.New("invalid sqlite database")
	ErrTableNotFound    = errors.New("table not found")
	ErrColumnNotFound   = errors.New("column not found")
	ErrRecordNotFound   = errors.New("record not found")
)

type ColumnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      bool    `json:"not_null"`
	DefaultValue *string `json:"default_value"`
	PrimaryKey   bool    `json:"primary_key"`
}

type TableSchema struct {
	Name     string       `json:"name"`
	Columns  []ColumnInfo `json:"columns"`
	RowCount int64        `json:"row_count"`
}

func (t TableSchema) Column(name string) (ColumnInfo, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return ColumnInfo{}, false
}

func (t TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// SchemaSnapshot is read fresh from the engine on every request and never cached.
type SchemaSnapshot struct {
	DatabaseID string        `json:"database_id"`
	Tables     []TableSchema `json:"tables"`
}

func (s SchemaSnapshot) Table(name string) (TableSchema, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return TableSchema{}, false
}

func (s SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// ExecResult reports one statement execution. Engine failures are carried in
// Error with Success=false rather than returned as Go errors.
type ExecResult struct {
	Success       bool             `json:"success"`
	Data          []map[string]any `json:"data,omitempty"`
	Columns       []string         `json:"columns,omitempty"`
	RowCount      *int             `json:"row_count,omitempty"`
	RowsAffected  *int64           `json:"rows_affected,omitempty"`
	LastInsertID  *int64           `json:"last_insert_id,omitempty"`
	Message       string           `json:"message,omitempty"`
	Error         string           `json:"error,omitempty"`
	ExecutionTime float64          `json:"execution_time"`
}

// ReturnedRows reports whether the statement succeeded and produced at least one row.
func (r ExecResult) ReturnedRows() bool {
	return r.Success && r.RowCount != nil && *r.RowCount > 0
}

type DatabaseInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Tables    []string  `json:"tables"`
	SizeBytes int64     `json:"size"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// SchemaDocument is the model-generated description of a new database.
type SchemaDocument struct {
	Tables      []TableSpec `json:"tables"`
	Indexes     []string    `json:"indexes"`
	Description string      `json:"description"`
}

type TableSpec struct {
	Name       string   `json:"name"`
	CreateSQL  string   `json:"create_sql"`
	SampleData []string `json:"sample_data"`
}

type PageRequest struct {
	Table     string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
	Filters   map[string]string
}

type PageInfo struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalRows   int64 `json:"total_rows"`
	TotalPages  int64 `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

type TablePage struct {
	Table    string           `json:"table"`
	Columns  []ColumnInfo     `json:"columns"`
	Data     []map[string]any `json:"data"`
	PageInfo PageInfo         `json:"page_info"`
}

// Engine is the database surface the pipeline depends on.
type Engine interface {
	Has(id string) bool
	Schema(ctx context.Context, id string) (SchemaSnapshot, error)
	Execute(ctx context.Context, id, statement string, params ...any) (ExecResult, error)
}
