// Package llm is the language model gateway: it posts chat messages to an
// OpenAI-compatible completion endpoint and parses the reply through an ordered
// chain of response-shape matchers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CodeChampian/safebot/pkg/fn"
	"github.com/CodeChampian/safebot/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultURL is the OpenRouter chat completion endpoint.
const DefaultURL = "https://openrouter.ai/api/v1/chat/completions"

const maxResponseBytes = 8 << 20

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// Params are the sampling settings of one call. MaxTokens 0 omits the limit.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Config holds the gateway settings.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	// MaxAttempts above 1 retries transport failures and 429/5xx model errors.
	MaxAttempts int
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	// BreakerThreshold is the consecutive failures that open the breaker; zero disables it.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Completer is the gateway contract used by the pipelines.
type Completer interface {
	Complete(ctx context.Context, msgs []Message, p Params) (string, error)
}

// Client is the HTTP implementation of Completer.
type Client struct {
	cfg     Config
	http    *http.Client
	shapes  []Shape
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	logger  *slog.Logger
}

var _ Completer = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithShapes replaces the response-shape chain.
func WithShapes(shapes ...Shape) Option { return func(c *Client) { c.shapes = shapes } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a gateway client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		shapes: DefaultShapes,
		logger: slog.Default(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
	}
	if cfg.BreakerThreshold > 0 {
		c.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: cfg.BreakerThreshold,
			Timeout:       cfg.BreakerTimeout,
			IsFailure:     retryable,
			OnStateChange: func(from, to resilience.State) {
				c.logger.Warn("llm circuit breaker state change", "from", from.String(), "to", to.String())
			},
		})
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Complete sends msgs and returns the generated text.
func (c *Client) Complete(ctx context.Context, msgs []Message, p Params) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limit: %w: %w", ErrTransport, err)
		}
	}

	attempt := func(ctx context.Context) fn.Result[string] {
		text, err := c.do(ctx, msgs, p)
		return fn.FromPair(text, err)
	}
	if c.breaker != nil {
		inner := attempt
		attempt = func(ctx context.Context) fn.Result[string] {
			return resilience.CallResult(c.breaker, ctx, inner)
		}
	}

	text, err := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: c.cfg.MaxAttempts,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Jitter:      true,
		RetryIf:     retryable,
	}, attempt).Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("llm: %w: %w", ErrTransport, err)
	}
	return text, err
}

func (c *Client) do(ctx context.Context, msgs []Message, p Params) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	reqBody := completionRequest{Model: c.cfg.Model, Messages: msgs, Temperature: p.Temperature}
	if p.MaxTokens > 0 {
		mt := p.MaxTokens
		reqBody.MaxTokens = &mt
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: post: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w: %w", ErrTransport, err)
	}

	text, shape, ok := matchShape(raw, c.shapes)
	c.logger.Debug("llm completion",
		"model", c.cfg.Model,
		"status", resp.StatusCode,
		"shape", shape,
		"duration", time.Since(start),
	)
	if ok {
		return text, nil
	}
	if payload, ok := errorObject(raw); ok {
		return "", &RemoteError{Status: resp.StatusCode, Payload: payload}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("llm: status %d: %w", resp.StatusCode, ErrTransport)
	}
	return "", fmt.Errorf("llm: %w: %s", ErrUnrecognizedResponse, snippet(raw))
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
