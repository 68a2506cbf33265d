package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/observability"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api"
	DefaultMaxTokens = 8192
	DefaultTimeout   = 30 * time.Second
)

type Source string

const (
	SourceLive   Source = "live"
	SourceMocked Source = "mocked"
)

// Reasons a reply was mocked.
const (
	ReasonNoAPIKey  = "no_api_key"
	ReasonNoModel   = "no_model"
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonStatus    = "status"
	ReasonDecode    = "decode"
	ReasonNoChoices = "no_choices"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	// Model overrides the configured default when set.
	Model string
}

// Reply is either a live model answer or a deterministic local substitute.
// Content is never empty.
type Reply struct {
	Content string `json:"content"`
	Source  Source `json:"source"`
	Model   string `json:"model,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (r Reply) Mocked() bool {
	return r.Source == SourceMocked
}

// Completer is the model boundary used by the synthesizer.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) Reply
}

type GatewayConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Referer   string
	AppTitle  string
}

type Gateway struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	referer   string
	appTitle  string
	client    *http.Client
	logger    *slog.Logger
}

var _ Completer = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: maxTokens,
		referer:   strings.TrimSpace(cfg.Referer),
		appTitle:  strings.TrimSpace(cfg.AppTitle),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (g *Gateway) Configured() bool {
	return g.apiKey != ""
}

func (g *Gateway) DefaultModel() string {
	return g.model
}

// Complete never fails: any missing configuration or remote failure yields a
// mocked reply tagged with the reason.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) Reply {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}
	if g.apiKey == "" {
		return g.degrade(ctx, req, model, ReasonNoAPIKey, nil)
	}
	if model == "" {
		return g.degrade(ctx, req, model, ReasonNoModel, nil)
	}

	start := time.Now()
	content, reason, err := g.chat(ctx, model, req)
	if err != nil {
		return g.degrade(ctx, req, model, reason, err)
	}
	observability.ObserveGatewayReply(string(SourceLive), "", time.Since(start))
	return Reply{Content: content, Source: SourceLive, Model: model}
}

func (g *Gateway) degrade(ctx context.Context, req CompletionRequest, model, reason string, cause error) Reply {
	attrs := []any{slog.String("reason", reason), slog.String("model", model)}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
	}
	observability.LoggerFromContext(ctx, g.logger).Warn("model gateway degraded to mock reply", attrs...)
	observability.ObserveGatewayReply(string(SourceMocked), reason, 0)
	return Reply{
		Content: mockContent(req.Messages),
		Source:  SourceMocked,
		Model:   model,
		Reason:  reason,
	}
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *Gateway) chat(ctx context.Context, model string, req CompletionRequest) (string, string, error) {
	body, err := json.Marshal(chatPayload{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", ReasonTransport, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", ReasonTransport, fmt.Errorf("build chat request: %w", err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", ReasonTimeout, fmt.Errorf("request chat completion: %w", err)
		}
		return "", ReasonTransport, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", ReasonTimeout, fmt.Errorf("read chat response body: %w", err)
		}
		return "", ReasonTransport, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", ReasonStatus, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, truncate(string(rawRespBody), 512))
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", ReasonDecode, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ReasonNoChoices, fmt.Errorf("empty chat completion choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ReasonNoChoices, fmt.Errorf("empty chat completion content")
	}
	return content, "", nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if g.referer != "" {
		req.Header.Set("HTTP-Referer", g.referer)
	}
	if g.appTitle != "" {
		req.Header.Set("X-Title", g.appTitle)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
