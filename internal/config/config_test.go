package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sqliteagent-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Storage.MaxDatabaseBytes != 100*1024*1024 {
		t.Fatalf("Storage.MaxDatabaseBytes = %d", cfg.Storage.MaxDatabaseBytes)
	}
	if cfg.Storage.UploadDir != "uploads" {
		t.Fatalf("Storage.UploadDir = %q", cfg.Storage.UploadDir)
	}
	if cfg.History.Backend != HistoryBackendMemory {
		t.Fatalf("History.Backend = %q", cfg.History.Backend)
	}
	if cfg.History.MaxEntries != 500 {
		t.Fatalf("History.MaxEntries = %d", cfg.History.MaxEntries)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.AI.APIKey != "" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "google/gemini-2.5-flash-preview-05-20" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.MaxTokens != 8192 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.MCP.Enabled {
		t.Fatal("MCP.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SQLITEAGENT_PROFILE": "prod"})
	cfg, err := Load("sqliteagent-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLITEAGENT_PROFILE":                "test",
		"SQLITEAGENT_HTTP_ADDR":              ":9999",
		"SQLITEAGENT_HTTP_READ_TIMEOUT":      "2s",
		"SQLITEAGENT_HTTP_WRITE_TIMEOUT":     "3s",
		"SQLITEAGENT_LOG_LEVEL":              "error",
		"SQLITEAGENT_AUTH_REQUIRED":          "true",
		"SQLITEAGENT_AUTH_STATIC_KEYS":       "k1:ops:admin",
		"SQLITEAGENT_SERVICE_NAME":           "sqliteagent-custom",
		"SQLITEAGENT_UPLOAD_DIR":             "/var/lib/sqliteagent",
		"SQLITEAGENT_MAX_DATABASE_BYTES":     "2048",
		"SQLITEAGENT_HISTORY_BACKEND":        "postgres",
		"SQLITEAGENT_HISTORY_DSN":            "postgres://example",
		"SQLITEAGENT_HISTORY_MAX_OPEN_CONNS": "42",
		"SQLITEAGENT_HISTORY_MAX_ENTRIES":    "50",
		"SQLITEAGENT_OBJECTSTORE_ENABLED":    "true",
		"SQLITEAGENT_OBJECTSTORE_ENDPOINT":   "s3.example.com",
		"SQLITEAGENT_OBJECTSTORE_BUCKET":     "agent-prod",
		"SQLITEAGENT_OBJECTSTORE_USE_SSL":    "true",
		"SQLITEAGENT_AI_BASE_URL":            "https://api.example.com",
		"SQLITEAGENT_AI_API_KEY":             "secret-key",
		"SQLITEAGENT_AI_MODEL":               "openai/gpt-4o-mini",
		"SQLITEAGENT_AI_TEMPERATURE":         "0.3",
		"SQLITEAGENT_AI_MAX_TOKENS":          "1024",
		"SQLITEAGENT_AI_TIMEOUT":             "21s",
		"SQLITEAGENT_MCP_ENABLED":            "true",
		"SQLITEAGENT_MCP_PATH":               "/tools",
	})
	cfg, err := Load("sqliteagent-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqliteagent-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:ops:admin" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Storage.UploadDir != "/var/lib/sqliteagent" {
		t.Fatalf("Storage.UploadDir = %q", cfg.Storage.UploadDir)
	}
	if cfg.Storage.MaxDatabaseBytes != 2048 {
		t.Fatalf("Storage.MaxDatabaseBytes = %d", cfg.Storage.MaxDatabaseBytes)
	}
	if cfg.History.Backend != HistoryBackendPostgres || cfg.History.DSN != "postgres://example" {
		t.Fatalf("History = %+v", cfg.History)
	}
	if cfg.History.MaxOpenConns != 42 || cfg.History.MaxEntries != 50 {
		t.Fatalf("History = %+v", cfg.History)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "agent-prod" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "openai/gpt-4o-mini" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.MaxTokens != 1024 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if !cfg.MCP.Enabled || cfg.MCP.Path != "/tools" {
		t.Fatalf("MCP = %+v", cfg.MCP)
	}
}

func TestLoadPrefersPrefixedKeyOverOpenRouterFallback(t *testing.T) {
	cfg, err := Load("sqliteagent-api", mapLookup(map[string]string{
		"OPENROUTER_API_KEY":     "fallback",
		"OPENROUTER_MODEL":       "fallback/model",
		"SQLITEAGENT_AI_API_KEY": "primary",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "primary" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "fallback/model" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLITEAGENT_PROFILE": "oops"},
		{"SQLITEAGENT_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLITEAGENT_HISTORY_MAX_OPEN_CONNS": "oops"},
		{"SQLITEAGENT_HISTORY_BACKEND": "redis"},
		{"SQLITEAGENT_HISTORY_BACKEND": "postgres"},
		{"SQLITEAGENT_MAX_DATABASE_BYTES": "0"},
		{"SQLITEAGENT_AI_TEMPERATURE": "bad"},
		{"SQLITEAGENT_AUTH_REQUIRED": "not-bool"},
		{"SQLITEAGENT_LOG_LEVEL": "verbose"},
		{"SQLITEAGENT_MCP_ENABLED": "true", "SQLITEAGENT_MCP_PATH": "mcp"},
	}
	for _, env := range tests {
		_, err := Load("sqliteagent-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SQLITEAGENT_DOTENV_PROBE=from-file\nSQLITEAGENT_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("SQLITEAGENT_DOTENV_KEEP", "from-env")
	t.Setenv("SQLITEAGENT_DOTENV_PROBE", "")
	if err := os.Unsetenv("SQLITEAGENT_DOTENV_PROBE"); err != nil {
		t.Fatalf("Unsetenv() error = %v", err)
	}

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("SQLITEAGENT_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("probe = %q", got)
	}
	if got := os.Getenv("SQLITEAGENT_DOTENV_KEEP"); got != "from-env" {
		t.Fatalf("keep = %q", got)
	}
}

func TestLoadDotEnvMissingFileIsNotAnError(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
