package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	HistoryPrefix  = "history"
	SnapshotPrefix = "snapshots"
	ImportPrefix   = "imports"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildHistoryArchivePath returns history/date=YYYY-MM-DD/history-<unix>.parquet.
func BuildHistoryArchivePath(at time.Time) string {
	ts := at.UTC()
	return path.Join(
		HistoryPrefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("history-%d.parquet", ts.Unix()),
	)
}

// BuildDatabaseSnapshotPath keys a database copy by id and time, keeping the
// file extension so the copy can be loaded again after import.
func BuildDatabaseSnapshotPath(databaseID string, at time.Time) (string, error) {
	if err := validatePathComponent(databaseID, "database id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	ext := path.Ext(databaseID)
	stem := strings.TrimSuffix(databaseID, ext)
	if stem == "" {
		stem = databaseID
		ext = ""
	}
	return path.Join(
		SnapshotPrefix,
		databaseID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%d%s", stem, ts.Unix(), ext),
	), nil
}

// ImportFileName derives the local file name an imported object is stored
// under.
func ImportFileName(objectKey string) (string, error) {
	key := strings.TrimSpace(objectKey)
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("invalid object key: %q", objectKey)
	}
	name := path.Base(key)
	if err := validatePathComponent(name, "file name"); err != nil {
		return "", err
	}
	return name, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
