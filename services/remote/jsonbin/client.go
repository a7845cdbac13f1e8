// Package jsonbin stores the shared attendance document in a jsonbin.io (v3) bin.
package jsonbin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/attendance"
)

const maxDocumentSize = 10 << 20

// StatusError is a non-2xx answer of the bin API.
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jsonbin: %d %s", e.Code, e.Text)
}

func (e *StatusError) StatusDescription() string {
	switch e.Code {
	case http.StatusUnauthorized:
		return "API key invalid (Unauthorized)"
	case http.StatusNotFound:
		return "bin ID not found"
	default:
		return "connection failed: " + e.Text
	}
}

func newStatusError(resp *http.Response) *StatusError {
	text := http.StatusText(resp.StatusCode)
	var body struct {
		Message string `json:"message"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && json.Unmarshal(data, &body) == nil && body.Message != "" {
		text = body.Message
	}
	return &StatusError{Code: resp.StatusCode, Text: text}
}

type Client struct {
	baseURL    string
	binID      string
	apiKey     string
	httpClient *http.Client
	nowFunc    func() time.Time
}

var _ attendance.RemoteStore = (*Client)(nil)

func NewClient(baseURL string, cfg attendance.RemoteConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		binID:      cfg.BinID,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		nowFunc:    time.Now,
	}
}

func (c *Client) binURL() string {
	return c.baseURL + "/b/" + url.PathEscape(c.binID)
}

// Fetch reads the latest version of the bin. A cache-busting timestamp is added to the URL.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	q := url.Values{"t": {strconv.FormatInt(c.nowFunc().UnixNano()/int64(time.Millisecond), 10)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.binURL()+"/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("X-Master-Key", c.apiKey)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "jsonbin fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, errors.Wrap(err, "reading bin")
	}
	var body struct {
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(err, "decoding bin")
	}
	return body.Record, nil
}

// Replace overwrites the whole bin.
func (c *Client) Replace(ctx context.Context, payload attendance.SyncPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.binURL(), bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("X-Master-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "jsonbin update")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
