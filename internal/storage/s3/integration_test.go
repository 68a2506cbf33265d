//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/storage"
)

func TestSnapshotRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("SQLITEAGENT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("SQLITEAGENT_TEST_S3_ENDPOINT is not set")
	}

	cfg := Config{
		Endpoint:         endpoint,
		Region:           envOr("SQLITEAGENT_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("SQLITEAGENT_TEST_S3_BUCKET", "sqliteagent-it"),
		AccessKeyID:      envOr("SQLITEAGENT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("SQLITEAGENT_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	key, err := storage.BuildDatabaseSnapshotPath("roundtrip.db", time.Now())
	if err != nil {
		t.Fatalf("BuildDatabaseSnapshotPath() error = %v", err)
	}
	payload := []byte("sqliteagent-integration")

	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{
		ContentType: storage.ContentTypeSQLite,
		Metadata:    map[string]string{storage.MetadataDatabaseID: "roundtrip.db"},
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	listed, err := store.List(ctx, storage.SnapshotPrefix+"/roundtrip.db/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, obj := range listed {
		found = found || obj.Key == key
	}
	if !found {
		t.Fatalf("List() = %+v, want key %q", listed, key)
	}

	stat, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.ContentType != storage.ContentTypeSQLite || stat.Metadata[storage.MetadataDatabaseID] != "roundtrip.db" {
		t.Fatalf("Stat() = %+v", stat)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	readPayload, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	_ = reader.Close()
	if !bytes.Equal(readPayload, payload) {
		t.Fatalf("Get() payload = %q, want %q", string(readPayload), string(payload))
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
