// Package llmclient wraps the Anthropic API with the pacing and retry
// discipline the doc generator depends on (§4.4): calls are paced at least
// 500ms apart and transient failures are retried with backoff.
package llmclient

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/metrics"
)

const (
	defaultMaxTokens = 4096
	minCallInterval  = 500 * time.Millisecond
	maxAttempts      = 3
	backoffBase      = 2 * time.Second
)

// Client issues text-completion requests against Claude, spacing call starts
// at least minCallInterval apart as a coarse per-client pacing limit. This
// is not a concurrency limit: the pacing lock is released before the request
// is sent, so several requests from one Client may be in flight at once.
type Client struct {
	api     anthropic.Client
	model   anthropic.Model
	logger  *logx.Logger
	metrics *metrics.Registry

	mu         sync.Mutex
	lastCallAt time.Time
}

// New constructs a Client for apiKey using the given model (e.g.
// anthropic.ModelClaudeSonnet4_5). Retries are disabled at the SDK level
// (option.WithMaxRetries(0)) because Generate implements its own policy.
// reg may be nil, in which case call metrics are not recorded.
func New(apiKey string, model anthropic.Model, reg *metrics.Registry) *Client {
	return &Client{
		api: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		model:   model,
		logger:  logx.New("llmclient"),
		metrics: reg,
	}
}

// Generate sends prompt as a single user message and returns the text of
// the first text-kind content block in the response, or "" if none.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c.pace()
		start := time.Now()
		text, err := c.callOnce(ctx, prompt, maxTokens)
		c.recordCall(time.Since(start), err)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := time.Duration(math.Pow(2, float64(attempt))) * backoffBase
		c.logger.Warn("llm call failed (attempt %d/%d), retrying in %v: %v", attempt+1, maxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// pace blocks until at least minCallInterval has elapsed since the start
// of the previous call.
func (c *Client) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastCallAt); elapsed < minCallInterval {
		time.Sleep(minCallInterval - elapsed)
	}
	c.lastCallAt = time.Now()
}

// recordCall mirrors one call attempt's outcome and latency into the
// soldocs_llm_requests_total / soldocs_llm_request_duration_seconds metrics.
func (c *Client) recordCall(elapsed time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.LLMRequestsTotal.WithLabelValues(status).Inc()
	c.metrics.LLMRequestSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Client) callOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: %w", err)
	}
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			return block.AsText().Text, nil
		}
	}
	return "", nil
}

// isRetryable matches the §4.4 contract: retry iff the error message
// contains 429, 500, or 529.
func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "500") || strings.Contains(msg, "529")
}
