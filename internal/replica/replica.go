// Package replica moves SQLite database files between the upload directory
// and the object store.
package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/query"
	"github.com/sqliteagent/sqliteagent/internal/storage"
)

type Engine interface {
	Load(ctx context.Context, path string) (query.DatabaseInfo, error)
	Backup(ctx context.Context, id, destPath string) error
	ResolvePath(path string) string
}

type Service struct {
	Engine   Engine
	Objects  storage.ObjectStore
	MaxBytes int64
	Logger   *slog.Logger
	Clock    func() time.Time
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Import downloads objectKey into the upload directory and registers it.
// Existing local files are never overwritten.
func (s *Service) Import(ctx context.Context, objectKey string) (query.DatabaseInfo, error) {
	s.ensureDefaults()
	name, err := storage.ImportFileName(objectKey)
	if err != nil {
		return query.DatabaseInfo{}, err
	}
	dest := s.Engine.ResolvePath(name)
	if _, err := os.Stat(dest); err == nil {
		return query.DatabaseInfo{}, fmt.Errorf("%w: %s", query.ErrDatabaseExists, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return query.DatabaseInfo{}, fmt.Errorf("stat %s: %w", name, err)
	}

	object, err := storage.DownloadFile(ctx, s.Objects, objectKey, dest, s.MaxBytes)
	if err != nil {
		return query.DatabaseInfo{}, fmt.Errorf("download %s: %w", objectKey, err)
	}
	info, err := s.Engine.Load(ctx, dest)
	if err != nil {
		_ = os.Remove(dest)
		return query.DatabaseInfo{}, err
	}
	s.Logger.Info("database imported",
		slog.String("database_id", info.ID),
		slog.String("object_key", objectKey),
		slog.Int64("bytes", object.Size),
	)
	return info, nil
}

// Snapshot uploads a consistent copy of a registered database.
func (s *Service) Snapshot(ctx context.Context, databaseID string) (storage.ObjectInfo, error) {
	s.ensureDefaults()
	key, err := storage.BuildDatabaseSnapshotPath(databaseID, s.Clock())
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	dir, err := os.MkdirTemp("", "sqliteagent-snapshot-*")
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create snapshot dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	copyPath := filepath.Join(dir, databaseID)
	if err := s.Engine.Backup(ctx, databaseID, copyPath); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := storage.UploadFile(ctx, s.Objects, key, copyPath, storage.PutOptions{
		ContentType: storage.ContentTypeSQLite,
		Metadata:    map[string]string{storage.MetadataDatabaseID: databaseID},
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload snapshot: %w", err)
	}
	s.Logger.Info("database snapshot uploaded",
		slog.String("database_id", databaseID),
		slog.String("key", info.Key),
		slog.Int64("bytes", info.Size),
	)
	return info, nil
}

// Snapshots lists the stored copies of a database, oldest key first.
func (s *Service) Snapshots(ctx context.Context, databaseID string) ([]storage.ObjectInfo, error) {
	if _, err := storage.BuildDatabaseSnapshotPath(databaseID, time.Time{}); err != nil {
		return nil, err
	}
	return s.Objects.List(ctx, path.Join(storage.SnapshotPrefix, databaseID)+"/")
}
