package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/sqliteagent/sqliteagent/internal/storage"
)

const DefaultArchiveBatch = 1000

var ErrNothingToArchive = errors.New("no history entries to archive")

type parquetEntry struct {
	ID              string  `parquet:"id"`
	DatabaseID      string  `parquet:"database_id"`
	Prompt          string  `parquet:"prompt"`
	SQL             string  `parquet:"sql_query"`
	QueryType       string  `parquet:"query_type"`
	TablesJSON      string  `parquet:"tables_json"`
	Success         bool    `parquet:"success"`
	ExecutionTime   float64 `parquet:"execution_time"`
	Mocked          bool    `parquet:"mocked"`
	CreatedAtUnixMs int64   `parquet:"created_at_unix_ms"`
}

func EncodeParquet(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, ErrNothingToArchive
	}
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		tables := entry.Tables
		if tables == nil {
			tables = []string{}
		}
		tablesJSON, err := json.Marshal(tables)
		if err != nil {
			return nil, fmt.Errorf("encode tables for %s: %w", entry.ID, err)
		}
		rows = append(rows, parquetEntry{
			ID:              entry.ID.String(),
			DatabaseID:      entry.DatabaseID,
			Prompt:          entry.Prompt,
			SQL:             entry.SQL,
			QueryType:       entry.QueryType,
			TablesJSON:      string(tablesJSON),
			Success:         entry.Success,
			ExecutionTime:   entry.ExecutionTime,
			Mocked:          entry.Mocked,
			CreatedAtUnixMs: entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeParquet(data []byte) ([]Entry, error) {
	reader := parquet.NewGenericReader[parquetEntry](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetEntry, reader.NumRows())
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	entries := make([]Entry, 0, count)
	for _, row := range rows[:count] {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("parse entry id %q: %w", row.ID, err)
		}
		var tables []string
		if err := json.Unmarshal([]byte(row.TablesJSON), &tables); err != nil {
			return nil, fmt.Errorf("decode tables for %s: %w", row.ID, err)
		}
		entries = append(entries, Entry{
			ID:            id,
			DatabaseID:    row.DatabaseID,
			Prompt:        row.Prompt,
			SQL:           row.SQL,
			QueryType:     row.QueryType,
			Tables:        tables,
			Success:       row.Success,
			ExecutionTime: row.ExecutionTime,
			Mocked:        row.Mocked,
			CreatedAt:     time.UnixMilli(row.CreatedAtUnixMs).UTC(),
		})
	}
	return entries, nil
}

type ArchiveResult struct {
	Key         string `json:"key"`
	RecordCount int    `json:"record_count"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Archiver copies recent history into the object store as parquet.
type Archiver struct {
	store   Store
	objects storage.ObjectStore
	batch   int
	now     func() time.Time
	logger  *slog.Logger
}

func NewArchiver(store Store, objects storage.ObjectStore, batch int, logger *slog.Logger) *Archiver {
	if batch <= 0 {
		batch = DefaultArchiveBatch
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{store: store, objects: objects, batch: batch, now: time.Now, logger: logger}
}

func (a *Archiver) Archive(ctx context.Context) (ArchiveResult, error) {
	entries, err := a.store.Recent(ctx, "", a.batch)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("load history: %w", err)
	}
	data, err := EncodeParquet(entries)
	if err != nil {
		return ArchiveResult{}, err
	}

	key := storage.BuildHistoryArchivePath(a.now())
	info, err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: storage.ContentTypeParquet,
		Metadata:    map[string]string{storage.MetadataRecordCount: strconv.Itoa(len(entries))},
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("upload history archive: %w", err)
	}
	a.logger.Info("history archived",
		slog.String("key", key),
		slog.Int("records", len(entries)),
		slog.Int64("bytes", info.Size),
	)
	return ArchiveResult{Key: key, RecordCount: len(entries), SizeBytes: int64(len(data))}, nil
}
