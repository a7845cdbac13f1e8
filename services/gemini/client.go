// Package gemini is a minimal client for the Gemini generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
)

const maxResponseSize = 1 << 20

var ErrNoAPIKey = errors.New("gemini: no API key configured")

type (
	RetryConfig struct {
		MaxAttempts       int
		BackoffBase       time.Duration
		BackoffMultiplier float64
		MaxBackoff        time.Duration
	}

	Client struct {
		apiKey      string
		model       string
		baseURL     string
		httpClient  *http.Client
		retryConfig RetryConfig
		logger      core.Logger
	}

	Option func(*Client)

	// transientError marks failures worth retrying (network, 429, 5xx).
	transientError struct{ err error }
)

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Second,
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

func WithRetryConfig(cfg RetryConfig) Option {
	return func(client *Client) { client.retryConfig = cfg }
}

func WithBaseURL(u string) Option {
	return func(client *Client) { client.baseURL = strings.TrimRight(u, "/") }
}

var _ core.LanguageModel = (*Client)(nil)

func NewClient(conf *core.Config, logger core.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:      conf.Gemini.APIKey,
		model:       conf.Gemini.Model,
		baseURL:     strings.TrimRight(conf.Gemini.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: conf.Gemini.Timeout},
		retryConfig: DefaultRetryConfig(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type (
	part struct {
		Text string `json:"text"`
	}
	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	generateRequest struct {
		Contents []content `json:"contents"`
	}
	generateResponse struct {
		Candidates []struct {
			Content      content `json:"content"`
			FinishReason string  `json:"finishReason"`
		} `json:"candidates"`
	}
)

// Generate sends a single-turn prompt and returns the text of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		text, err := c.doRequest(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var te *transientError
		if !errors.As(err, &te) {
			return "", err
		}
		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.backoff(attempt)
			c.logger.Debug(fmt.Sprintf("gemini request failed (attempt %d), retrying in %s: %v", attempt, backoff, err))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", errors.Wrapf(lastErr, "gemini: %d attempts failed", c.retryConfig.MaxAttempts)
}

// backoff is exponential with +/-25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}
	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func (c *Client) doRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding request")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transientError{errors.Wrap(err, "gemini request")}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &transientError{errors.Wrap(err, "reading response")}
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		err := errors.Errorf("gemini API error (status %d): %s", resp.StatusCode, snippet)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &transientError{err}
		}
		return "", err
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", errors.Wrap(err, "decoding response")
	}
	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
