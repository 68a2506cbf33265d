package sqliteagentctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// usageError marks failures that should exit with status 2.
type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

// httpError is a response with status >= 400.
type httpError struct {
	status int
	body   []byte
}

func (e httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, strings.TrimSpace(string(e.body)))
}

var (
	errorFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	riskFmt  = map[string]func(a ...any) string{
		"low":    color.New(color.FgGreen).SprintFunc(),
		"medium": color.New(color.FgYellow).SprintFunc(),
		"high":   color.New(color.FgRed, color.Bold).SprintFunc(),
	}
	sqlFmt = color.New(color.FgCyan).SprintFunc()
)

// Run executes one CLI invocation and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	cli := &client{httpClient: defaults.HTTPClient}
	root := newRootCommand(cli, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		_, _ = fmt.Fprintf(stderr, "%s\n\n", usage.msg)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	_, _ = fmt.Fprintln(stderr, errorFmt(err.Error()))
	return 1
}

func newRootCommand(cli *client, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "sqliteagentctl",
		Short:         "Operate a sqliteagent API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRun: func(*cobra.Command, []string) {
			cli.prepare()
		},
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{msg: fmt.Sprintf("unknown command %q", args[0])}
			}
			return usageError{msg: "a command is required"}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&cli.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqliteagent API base URL")
	flags.StringVar(&cli.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&cli.timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		simpleCommand(cli, "health", "Liveness probe", http.MethodGet, "/v1/health"),
		simpleCommand(cli, "ready", "Readiness probe", http.MethodGet, "/v1/ready"),
		simpleCommand(cli, "status", "Model gateway status", http.MethodGet, "/v1/ai/status"),
		simpleCommand(cli, "models", "Models offered by the remote service", http.MethodGet, "/v1/ai/models"),
		simpleCommand(cli, "archive", "Archive recent query history to the object store", http.MethodPost, "/v1/history/archive"),
		newDatabasesCommand(cli),
		newAskCommand(cli),
		newValidateCommand(cli),
		newParseCommand(cli),
		newHistoryCommand(cli),
	)
	return root
}

func simpleCommand(cli *client, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.printJSON(cmd, method, path, nil)
		},
	}
}

func newDatabasesCommand(cli *client) *cobra.Command {
	databases := &cobra.Command{
		Use:   "databases",
		Short: "Manage loaded databases",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.printJSON(cmd, http.MethodGet, "/v1/databases", nil)
		},
	}
	byID := func(use, short, method, suffix string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <database-id>",
			Short: short,
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.printJSON(cmd, method, "/v1/databases/"+url.PathEscape(args[0])+suffix, nil)
			},
		}
	}
	databases.AddCommand(
		byID("get", "Describe a loaded database", http.MethodGet, ""),
		byID("schema", "Print the schema of a loaded database", http.MethodGet, "/schema"),
		byID("close", "Close a loaded database", http.MethodPost, "/close"),
		byID("snapshot", "Upload a copy of a database to the object store", http.MethodPost, "/snapshot"),
		byID("snapshots", "List stored copies of a database", http.MethodGet, "/snapshots"),
		&cobra.Command{
			Use:   "load <file-path>",
			Short: "Load a database file from the upload directory",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.printJSON(cmd, http.MethodPost, "/v1/databases/load", map[string]any{"file_path": args[0]})
			},
		},
		&cobra.Command{
			Use:   "import <object-key>",
			Short: "Import a database copy from the object store",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.printJSON(cmd, http.MethodPost, "/v1/databases/import", map[string]any{"object_key": args[0]})
			},
		},
	)
	return databases
}

func newAskCommand(cli *client) *cobra.Command {
	var explain, sqlOnly bool
	var model string
	cmd := &cobra.Command{
		Use:   "ask <database-id> <prompt...>",
		Short: "Run a natural-language request against a database",
		Args:  minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"database_id":         args[0],
				"prompt":              strings.Join(args[1:], " "),
				"include_explanation": explain,
			}
			if model != "" {
				payload["model"] = model
			}
			status, body, err := cli.do(cmd.Context(), http.MethodPost, "/v1/ai/query", payload)
			if err != nil {
				return err
			}
			if status != http.StatusOK && status != http.StatusBadRequest {
				return httpError{status: status, body: body}
			}
			var resp struct {
				Success  bool   `json:"success"`
				SQLQuery string `json:"sql_query"`
				Error    string `json:"error"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !resp.Success {
				return fmt.Errorf("query failed: %s", resp.Error)
			}
			if sqlOnly {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.SQLQuery)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "SQL: %s\n", sqlFmt(resp.SQLQuery))
			writeBody(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "also explain the returned rows")
	cmd.Flags().BoolVar(&sqlOnly, "sql-only", false, "print only the generated SQL")
	cmd.Flags().StringVar(&model, "model", "", "override the default model")
	return cmd
}

func newValidateCommand(cli *client) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sql...>",
		Short: "Print the safety verdict for a SQL statement",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cli.do(cmd.Context(), http.MethodPost, "/v1/ai/validate", map[string]any{"sql_query": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if status >= http.StatusBadRequest {
				return httpError{status: status, body: body}
			}
			var verdict struct {
				IsSafe          bool     `json:"is_safe"`
				RiskLevel       string   `json:"risk_level"`
				Warnings        []string `json:"warnings"`
				Recommendations []string `json:"recommendations"`
			}
			if err := json.Unmarshal(body, &verdict); err != nil {
				return fmt.Errorf("decode verdict: %w", err)
			}
			out := cmd.OutOrStdout()
			paint, ok := riskFmt[verdict.RiskLevel]
			if !ok {
				paint = fmt.Sprint
			}
			_, _ = fmt.Fprintf(out, "safe: %t\nrisk: %s\n", verdict.IsSafe, paint(verdict.RiskLevel))
			for _, warning := range verdict.Warnings {
				_, _ = fmt.Fprintf(out, "warning: %s\n", warning)
			}
			for _, recommendation := range verdict.Recommendations {
				_, _ = fmt.Fprintf(out, "recommendation: %s\n", recommendation)
			}
			return nil
		},
	}
}

func newParseCommand(cli *client) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text...>",
		Short: "Parse a request into structured intent",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.printJSON(cmd, http.MethodPost, "/v1/ai/parse", map[string]any{"query": strings.Join(args, " ")})
		},
	}
}

func newHistoryCommand(cli *client) *cobra.Command {
	var limit int
	var databaseID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query history",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			values := url.Values{}
			if limit > 0 {
				values.Set("limit", fmt.Sprint(limit))
			}
			if databaseID != "" {
				values.Set("database_id", databaseID)
			}
			path := "/v1/history"
			if encoded := values.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return cli.printJSON(cmd, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	cmd.Flags().StringVar(&databaseID, "database-id", "", "only entries for this database")
	return cmd
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{msg: fmt.Sprintf("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageError{msg: fmt.Sprintf("%s expects at least %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

func (c *client) prepare() {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
}

func (c *client) printJSON(cmd *cobra.Command, method, path string, payload any) error {
	status, body, err := c.do(cmd.Context(), method, path, payload)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return httpError{status: status, body: body}
	}
	writeBody(cmd.OutOrStdout(), body)
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func writeBody(w io.Writer, body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(w, string(body))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
