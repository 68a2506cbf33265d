package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

func newTestDatabase(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open(driverName, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	statements := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, city TEXT DEFAULT 'Berlin')`,
		`INSERT INTO users (name, email, city) VALUES ('Ada', 'ada@example.com', 'London')`,
		`INSERT INTO users (name, email, city) VALUES ('Grace', 'grace@example.com', 'New York')`,
		`INSERT INTO users (name, email, city) VALUES ('Linus', 'linus@example.com', 'Helsinki')`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, total REAL)`,
		`INSERT INTO orders (user_id, total) VALUES (1, 9.5)`,
	}
	for _, statement := range statements {
		_, err := db.Exec(statement)
		require.NoError(t, err)
	}
	return path
}

func loadedEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := newTestDatabase(t, dir, "shop.sqlite")
	engine := NewEngine(Options{UploadDir: dir})
	t.Cleanup(engine.CloseAll)

	info, err := engine.Load(context.Background(), path)
	require.NoError(t, err)
	return engine, info.ID
}

func TestLoadRegistersDatabaseByBasename(t *testing.T) {
	engine, id := loadedEngine(t)

	assert.Equal(t, "shop.sqlite", id)
	assert.True(t, engine.Has(id))

	info, err := engine.Info(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, info.Tables)
	assert.Greater(t, info.SizeBytes, int64(0))
}

func TestLoadResolvesRelativePathsUnderUploadDir(t *testing.T) {
	dir := t.TempDir()
	newTestDatabase(t, dir, "relative.db")
	engine := NewEngine(Options{UploadDir: dir})
	t.Cleanup(engine.CloseAll)

	info, err := engine.Load(context.Background(), "uploads/relative.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "relative.db"), info.Path)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	newTestDatabase(t, dir, "big.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.db"), []byte(strings.Repeat("not a database ", 128)), 0o600))

	tests := []struct {
		name    string
		engine  *Engine
		path    string
		wantErr error
	}{
		{name: "missing", engine: NewEngine(Options{UploadDir: dir}), path: "missing.db", wantErr: query.ErrFileNotFound},
		{name: "extension", engine: NewEngine(Options{UploadDir: dir}), path: "notes.txt", wantErr: query.ErrUnsupportedFile},
		{name: "size", engine: NewEngine(Options{UploadDir: dir, MaxDatabaseBytes: 16}), path: "big.db", wantErr: query.ErrFileTooLarge},
		{name: "not sqlite", engine: NewEngine(Options{UploadDir: dir}), path: "garbage.db", wantErr: query.ErrInvalidDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.engine.Load(context.Background(), tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "error = %v", err)
			assert.Empty(t, tt.engine.List(context.Background()))
		})
	}
}

func TestSchemaDescribesTablesColumnsAndRowCounts(t *testing.T) {
	engine, id := loadedEngine(t)

	snapshot, err := engine.Schema(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, snapshot.DatabaseID)
	assert.Equal(t, []string{"orders", "users"}, snapshot.TableNames())

	users, ok := snapshot.Table("users")
	require.True(t, ok)
	assert.Equal(t, int64(3), users.RowCount)
	assert.Equal(t, []string{"id", "name", "email", "city"}, users.ColumnNames())

	idColumn, _ := users.Column("id")
	assert.True(t, idColumn.PrimaryKey)
	assert.Equal(t, "INTEGER", idColumn.Type)

	name, _ := users.Column("name")
	assert.True(t, name.NotNull)
	assert.Nil(t, name.DefaultValue)

	city, _ := users.Column("city")
	require.NotNil(t, city.DefaultValue)
	assert.Equal(t, "'Berlin'", *city.DefaultValue)
}

func TestSchemaUnknownDatabase(t *testing.T) {
	engine := NewEngine(Options{UploadDir: t.TempDir()})

	_, err := engine.Schema(context.Background(), "nope.db")
	assert.ErrorIs(t, err, query.ErrDatabaseNotFound)
}

func TestExecuteSelectReturnsRows(t *testing.T) {
	engine, id := loadedEngine(t)

	result, err := engine.Execute(context.Background(), id, "SELECT name, city FROM users WHERE id = ?;", 2)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"name", "city"}, result.Columns)
	require.NotNil(t, result.RowCount)
	assert.Equal(t, 1, *result.RowCount)
	assert.Equal(t, "Grace", result.Data[0]["name"])
	assert.Nil(t, result.RowsAffected)
	assert.True(t, result.ReturnedRows())
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)
}

func TestExecuteIsRepeatable(t *testing.T) {
	engine, id := loadedEngine(t)

	first, err := engine.Execute(context.Background(), id, "SELECT * FROM users ORDER BY id")
	require.NoError(t, err)
	second, err := engine.Execute(context.Background(), id, "SELECT * FROM users ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestExecuteMutationReportsRowsAffected(t *testing.T) {
	engine, id := loadedEngine(t)

	result, err := engine.Execute(context.Background(), id, "UPDATE users SET city = 'Paris' WHERE id IN (1, 2)")
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.RowsAffected)
	assert.Equal(t, int64(2), *result.RowsAffected)
	assert.Equal(t, "Query executed successfully. 2 rows affected.", result.Message)
	assert.Nil(t, result.RowCount)
}

func TestExecuteEngineErrorIsData(t *testing.T) {
	engine, id := loadedEngine(t)

	result, err := engine.Execute(context.Background(), id, "SELECT * FROM books;")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no such table")
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)
}

func TestExecuteUnknownDatabaseIsError(t *testing.T) {
	engine := NewEngine(Options{UploadDir: t.TempDir()})

	_, err := engine.Execute(context.Background(), "missing.db", "SELECT 1")
	assert.ErrorIs(t, err, query.ErrDatabaseNotFound)
}

func TestExecuteRollsBackFailedStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	engine := NewEngine(Options{UploadDir: t.TempDir()})
	engine.register(query.DatabaseInfo{ID: "mock.db"}, db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE items SET qty = 0`).WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	result, err := engine.Execute(context.Background(), "mock.db", "UPDATE items SET qty = 0")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "constraint failed", result.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCommitsSuccessfulStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	engine := NewEngine(Options{UploadDir: t.TempDir()})
	engine.register(query.DatabaseInfo{ID: "mock.db"}, db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM items`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	result, err := engine.Execute(context.Background(), "mock.db", "SELECT id FROM items")
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, int64(7), result.Data[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		statement string
		want      bool
	}{
		{"SELECT 1", true},
		{"  select * from users", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"PRAGMA table_info(users)", true},
		{"EXPLAIN QUERY PLAN SELECT 1", true},
		{"VALUES (1), (2)", true},
		{"(SELECT 1)", true},
		{"INSERT INTO users (name) VALUES ('x')", false},
		{"DELETE FROM users", false},
		{"CREATE TABLE t (id INTEGER)", false},
		{"selected", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.statement); got != tt.want {
			t.Fatalf("returnsRows(%q) = %v, want %v", tt.statement, got, tt.want)
		}
	}
}

func TestCloseUnregisters(t *testing.T) {
	engine, id := loadedEngine(t)

	assert.True(t, engine.Close(id))
	assert.False(t, engine.Has(id))
	assert.False(t, engine.Close(id))
	_, err := engine.Execute(context.Background(), id, "SELECT 1")
	assert.ErrorIs(t, err, query.ErrDatabaseNotFound)
}

func TestLoadSameIDReplacesHandle(t *testing.T) {
	engine, id := loadedEngine(t)
	info, err := engine.Info(context.Background(), id)
	require.NoError(t, err)

	_, err = engine.Load(context.Background(), info.Path)
	require.NoError(t, err)
	assert.Len(t, engine.List(context.Background()), 1)

	result, err := engine.Execute(context.Background(), id, "SELECT COUNT(*) AS c FROM users")
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
}

func TestConcurrentExecuteAndClose(t *testing.T) {
	engine, id := loadedEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Execute(context.Background(), id, "SELECT * FROM users")
			if err != nil {
				assert.ErrorIs(t, err, query.ErrDatabaseNotFound)
				return
			}
			_ = result
		}()
	}
	engine.Close(id)
	wg.Wait()
	assert.False(t, engine.Has(id))
}

func TestBackupWritesLoadableCopy(t *testing.T) {
	engine, id := loadedEngine(t)
	dest := filepath.Join(t.TempDir(), "copy.sqlite")

	require.NoError(t, engine.Backup(context.Background(), id, dest))

	info, err := engine.Load(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, "copy.sqlite", info.ID)
	assert.Equal(t, []string{"orders", "users"}, info.Tables)
}
