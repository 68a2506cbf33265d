package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

const (
	ContentTypeSQLite  = "application/vnd.sqlite3"
	ContentTypeParquet = "application/vnd.apache.parquet"

	MetadataDatabaseID  = "database-id"
	MetadataRecordCount = "record-count"
)

type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// PutOptions describe an upload. Metadata keys are stored lower-cased.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore holds database snapshots and history archives.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// UploadFile streams a local file into the store.
func UploadFile(ctx context.Context, store ObjectStore, key, localPath string, opts PutOptions) (ObjectInfo, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("open %q: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %q: %w", localPath, err)
	}
	return store.Put(ctx, key, file, stat.Size(), opts)
}

// DownloadFile copies an object to destPath, refusing objects larger than
// maxBytes when maxBytes is positive. A partial file is removed on failure.
func DownloadFile(ctx context.Context, store ObjectStore, key, destPath string, maxBytes int64) (ObjectInfo, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return info, fmt.Errorf("%w: %q is %d bytes", ErrObjectTooLarge, key, info.Size)
	}

	body, err := store.Get(ctx, key)
	if err != nil {
		return info, err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return info, fmt.Errorf("create download dir: %w", err)
	}
	file, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return info, fmt.Errorf("create %q: %w", destPath, err)
	}

	var reader io.Reader = body
	if maxBytes > 0 {
		reader = io.LimitReader(body, maxBytes+1)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(destPath)
		return info, fmt.Errorf("download %q: %w", key, copyErr)
	case closeErr != nil:
		_ = os.Remove(destPath)
		return info, fmt.Errorf("close %q: %w", destPath, closeErr)
	case maxBytes > 0 && written > maxBytes:
		_ = os.Remove(destPath)
		return info, fmt.Errorf("%w: %q", ErrObjectTooLarge, key)
	}
	info.Size = written
	return info, nil
}
