package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "sqliteagent_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

var ErrMigrationModified = errors.New("applied migration was modified")

// Runner applies the embedded query-history migrations to Postgres.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// Status describes one known migration and whether it has been applied.
// Modified is set when the embedded up script no longer matches the checksum
// recorded at apply time.
type Status struct {
	Version   int64      `json:"version"`
	Name      string     `json:"name"`
	Checksum  string     `json:"checksum"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Modified  bool       `json:"modified,omitempty"`
}

func (s Status) Applied() bool {
	return s.AppliedAt != nil
}

type appliedMigration struct {
	AppliedAt time.Time
	Checksum  string
}

// advisoryLockKey serializes concurrent migrators, e.g. several API replicas
// starting at once.
const advisoryLockKey int64 = 0x73716c6167656e74

// Up applies pending migrations in version order. steps <= 0 applies all.
// It refuses to run when an applied migration was edited afterwards.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	migrations, applied, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}
	for _, item := range migrations {
		if record, ok := applied[item.Version]; ok && record.Checksum != item.Checksum {
			return 0, fmt.Errorf("%w: %d_%s", ErrMigrationModified, item.Version, item.Name)
		}
	}

	runCount := 0
	for _, item := range migrations {
		if _, ok := applied[item.Version]; ok {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		if err := apply(ctx, db, item); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, applied, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]migration, len(migrations))
	for _, item := range migrations {
		byVersion[item.Version] = item
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	runCount := 0
	for _, version := range versions[:min(steps, len(versions))] {
		item, ok := byVersion[version]
		if !ok {
			return runCount, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := rollback(ctx, db, item); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

// Status lists every embedded migration with its applied time, if any.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	migrations, applied, err := r.load(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(migrations))
	for _, item := range migrations {
		status := Status{Version: item.Version, Name: item.Name, Checksum: item.Checksum}
		if record, ok := applied[item.Version]; ok {
			appliedAt := record.AppliedAt
			status.AppliedAt = &appliedAt
			status.Modified = record.Checksum != item.Checksum
		}
		out = append(out, status)
	}
	return out, nil
}

func (r *Runner) load(ctx context.Context, db *sql.DB) ([]migration, map[int64]appliedMigration, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, createMigrationTable); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

const createMigrationTable = `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func apply(ctx context.Context, db *sql.DB, item migration) error {
	return inLockedTx(ctx, db, "apply", item.Version, item.UpSQL,
		`INSERT INTO `+migrationTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
		item.Version, item.Name, item.Checksum)
}

func rollback(ctx context.Context, db *sql.DB, item migration) error {
	return inLockedTx(ctx, db, "rollback", item.Version, item.DownSQL,
		`DELETE FROM `+migrationTable+` WHERE version = $1`,
		item.Version)
}

// inLockedTx runs script and the bookkeeping statement in one transaction
// holding the migration advisory lock.
func inLockedTx(ctx context.Context, db *sql.DB, direction string, version int64, script, mark string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", direction, version, err)
	}
	if _, err := tx.ExecContext(ctx, mark, args...); err != nil {
		return fmt.Errorf("record %s of migration %d: %w", direction, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s of migration %d: %w", direction, version, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[int64]appliedMigration, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum, applied_at FROM `+migrationTable+` ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]appliedMigration{}
	for rows.Next() {
		var version int64
		var record appliedMigration
		if err := rows.Scan(&version, &record.Checksum, &record.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}

		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		item.Name = matches[2]
		if matches[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	migrations := make([]migration, 0, len(items))
	for _, item := range items {
		sum := sha256.Sum256([]byte(item.UpSQL))
		item.Checksum = hex.EncodeToString(sum[:])
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		migrations = append(migrations, item)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
