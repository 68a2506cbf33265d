package scripts

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStackScriptDryRun(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{
			command: "up",
			want: []string{
				"[dry-run] docker compose -f",
				"deployments/docker-compose.yml up -d postgres minio",
				"[dry-run] cd",
				"go run ./cmd/sqliteagent-migrate -direction up",
				"[dry-run] nohup env SQLITEAGENT_HISTORY_BACKEND=postgres SQLITEAGENT_OBJECTSTORE_ENABLED=true",
				"stack is up",
			},
		},
		{
			command: "down",
			want: []string{
				"[dry-run] cd",
				"[dry-run] docker compose -f",
				"docker-compose.yml down",
				"stack is down",
			},
		},
		{
			command: "status",
			want: []string{
				"[dry-run] docker compose -f",
				"sqliteagent-api not running",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			stdout, stderr, err := runStack(t, tt.command, "--dry-run")
			if err != nil {
				t.Fatalf("stack %s dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", tt.command, err, stdout, stderr)
			}
			for _, token := range tt.want {
				if !strings.Contains(stdout, token) {
					t.Fatalf("output missing %q\noutput:\n%s", token, stdout)
				}
			}
		})
	}
}

func TestStackScriptRejectsBadInput(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"not-a-command"}, want: "unknown command"},
		{args: []string{"up", "--force"}, want: "unknown argument"},
		{args: nil, want: "usage:"},
	}
	for _, tt := range tests {
		_, stderr, err := runStack(t, tt.args...)
		if err == nil {
			t.Fatalf("stack %v: expected non-zero exit", tt.args)
		}
		if !strings.Contains(stderr, tt.want) {
			t.Fatalf("stack %v: stderr missing %q:\n%s", tt.args, tt.want, stderr)
		}
	}
}

func runStack(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	cmd := exec.Command("bash", append([]string{filepath.Join(filepath.Dir(thisFile), "stack.sh")}, args...)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
