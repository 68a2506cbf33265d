package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMemoryCapacity = 1000
	DefaultRecentLimit    = 100
	MaxRecentLimit        = 1000

	// SlowQuerySeconds marks executions reported as performance insights.
	SlowQuerySeconds    = 1.0
	slowQuerySuggestion = "Consider optimizing this slow query"
)

var ErrNoHistory = errors.New("No query history available")

// Entry is one recorded pipeline run.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	DatabaseID    string    `json:"database_id"`
	Prompt        string    `json:"prompt"`
	SQL           string    `json:"sql_query"`
	QueryType     string    `json:"query_type"`
	Tables        []string  `json:"tables"`
	Success       bool      `json:"success"`
	ExecutionTime float64   `json:"execution_time"`
	Mocked        bool      `json:"mocked"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewEntry fills in the id and timestamp.
func NewEntry(entry Entry, now time.Time) Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	if entry.Tables == nil {
		entry.Tables = []string{}
	}
	return entry
}

// Store persists history entries. Recent returns newest first; an empty
// databaseID matches every database.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, databaseID string, limit int) ([]Entry, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

// MemoryStore keeps the most recent entries in process, dropping the oldest
// once capacity is reached.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if overflow := len(s.entries) - s.capacity; overflow > 0 {
		s.entries = append([]Entry(nil), s.entries[overflow:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, databaseID string, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	databaseID = strings.TrimSpace(databaseID)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.entries[i]
		if databaseID != "" && entry.DatabaseID != databaseID {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type SlowQuery struct {
	Query         string  `json:"query"`
	ExecutionTime float64 `json:"execution_time"`
	Suggestion    string  `json:"suggestion"`
}

type Insights struct {
	TotalQueries        int            `json:"total_queries"`
	MostCommonTables    map[string]int `json:"most_common_tables"`
	QueryTypes          map[string]int `json:"query_types"`
	PerformanceInsights []SlowQuery    `json:"performance_insights"`
}

// TopTables returns table names ordered by use count, then name.
func (i Insights) TopTables() []string {
	names := make([]string, 0, len(i.MostCommonTables))
	for name := range i.MostCommonTables {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		if i.MostCommonTables[names[a]] != i.MostCommonTables[names[b]] {
			return i.MostCommonTables[names[a]] > i.MostCommonTables[names[b]]
		}
		return names[a] < names[b]
	})
	return names
}

func Analyze(entries []Entry) (Insights, error) {
	if len(entries) == 0 {
		return Insights{}, ErrNoHistory
	}
	insights := Insights{
		TotalQueries:        len(entries),
		MostCommonTables:    map[string]int{},
		QueryTypes:          map[string]int{},
		PerformanceInsights: []SlowQuery{},
	}
	for _, entry := range entries {
		if entry.QueryType != "" {
			insights.QueryTypes[entry.QueryType]++
		}
		for _, table := range entry.Tables {
			insights.MostCommonTables[table]++
		}
		if entry.ExecutionTime > SlowQuerySeconds {
			query := entry.SQL
			if query == "" {
				query = "Unknown"
			}
			insights.PerformanceInsights = append(insights.PerformanceInsights, SlowQuery{
				Query:         query,
				ExecutionTime: entry.ExecutionTime,
				Suggestion:    slowQuerySuggestion,
			})
		}
	}
	return insights, nil
}
