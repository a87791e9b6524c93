// Package real implements the chat provider client against an
// OpenAI-compatible chat-completions API.
package real

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/charlalabs/charla-gateway/internal/adapter/ai"
	"github.com/charlalabs/charla-gateway/internal/adapter/observability"
	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
)

// Client implements domain.ChatClient. A provider failure rotates the
// credential pool and retries exactly once; further failures propagate.
type Client struct {
	cfg  config.Config
	pool *ai.KeyPool
	hc   *http.Client
}

// New constructs a client with a bounded timeout and traced transport.
func New(cfg config.Config, pool *ai.KeyPool) *Client {
	timeout := cfg.ChatTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		pool: pool,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends the persona preamble and transcript upstream and returns the
// reply text. The transcript is trimmed to the configured token budget
// before the request is built.
func (c *Client) Chat(ctx domain.Context, preamble string, history []domain.Message, message string) (string, error) {
	tracer := otel.Tracer("ai.real")
	ctx, span := tracer.Start(ctx, "chat.completions")
	defer span.End()

	history = ai.TrimToTokenBudget(history, c.cfg.ChatModel, c.cfg.ChatHistoryTokenBudget)

	reply, err := c.attempt(ctx, c.pool.Current(), preamble, history, message)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, domain.ErrModelNotFound) {
		// a missing model will be missing for every key; no point rotating
		return "", err
	}
	slog.Error("chat provider call failed, rotating key", slog.Any("error", err))
	observability.ProviderKeyRotationsTotal.Inc()

	reply, err = c.attempt(ctx, c.pool.Rotate(), preamble, history, message)
	if err != nil {
		slog.Error("chat provider call failed after rotation", slog.Any("error", err))
		return "", err
	}
	return reply, nil
}

func (c *Client) attempt(ctx domain.Context, apiKey, preamble string, history []domain.Message, message string) (string, error) {
	start := time.Now()
	defer func() {
		observability.ProviderRequestDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	}()
	observability.ProviderRequestsTotal.WithLabelValues("chat").Inc()

	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: preamble})
	for _, m := range history {
		role := "user"
		if m.Role == domain.RoleAgent {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: message})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    msgs,
		Temperature: c.cfg.ChatTemperature,
		MaxTokens:   c.cfg.ChatMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChatBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: read: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("op=ai.chat: decode: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || (parsed.Error != nil && strings.Contains(parsed.Error.Code, "model_not_found")) {
		return "", fmt.Errorf("op=ai.chat: model %q: %w", c.cfg.ChatModel, domain.ErrModelNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=ai.chat: provider status %d: %s", resp.StatusCode, snippet(raw))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("op=ai.chat: provider returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
