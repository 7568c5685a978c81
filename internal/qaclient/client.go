// Package qaclient holds the HTTP clients for the answer service and its
// log endpoint.
package qaclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Error categories for the wire operations. They wrap the underlying
// transport failures so callers can branch with errors.Is.
var (
	ErrTransport = errors.New("transport error")
	ErrProbe     = errors.New("log size probe error")
	ErrFetch     = errors.New("log tail fetch error")
)

// AskResult is the raw outcome of one answer-service call.
type AskResult struct {
	Body       []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// ResponseTimeMs returns the round-trip time in milliseconds.
func (r *AskResult) ResponseTimeMs() int64 {
	return r.ReceivedAt.Sub(r.SentAt).Milliseconds()
}

// Client talks to one tenant's answer service.
type Client struct {
	baseURL    string
	logPath    string
	channel    string
	channelKey string
	httpClient *http.Client
}

// New builds a client. logPath is the service-side log file the log
// endpoint exposes.
func New(baseURL, logPath, channel, channelKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		logPath:    logPath,
		channel:    channel,
		channelKey: channelKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LogPath returns the service-side log file path this client watches.
func (c *Client) LogPath() string {
	return c.logPath
}

// Ask sends one question as a form-encoded POST and returns the raw body
// with its timing. Non-2xx statuses are transport errors; the caller
// classifies the body.
func (c *Client) Ask(ctx context.Context, question string) (*AskResult, error) {
	form := url.Values{}
	form.Set("question", question)
	form.Set("channel", c.channel)
	if c.channelKey != "" {
		form.Set("apikey", c.channelKey)
	}

	sentAt := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/qa/ask", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	receivedAt := time.Now()
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	return &AskResult{Body: body, SentAt: sentAt, ReceivedAt: receivedAt}, nil
}

// Size implements logwatch.SizeProbe against the log endpoint's size-only
// mode.
func (c *Client) Size(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("file", c.logPath)
	q.Set("sizeOnly", "1")

	body, err := c.logGet(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing size %q: %v", ErrProbe, strings.TrimSpace(string(body)), err)
	}
	return size, nil
}

// Tail implements logwatch.TailFetcher with a ranged read of the log file.
func (c *Client) Tail(ctx context.Context, offset, length int64) (string, error) {
	q := url.Values{}
	q.Set("file", c.logPath)
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("length", strconv.FormatInt(length, 10))

	body, err := c.logGet(ctx, q)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return string(body), nil
}

func (c *Client) logGet(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/qa/log?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

// ParseChannel splits a "name (apikey)" channel string into its name and
// key. A missing or "default" name falls back to the web channel.
func ParseChannel(s string) (name, key string) {
	s = strings.TrimSpace(s)
	if open := strings.LastIndex(s, "("); open >= 0 && strings.HasSuffix(s, ")") {
		key = strings.TrimSpace(s[open+1 : len(s)-1])
		s = strings.TrimSpace(s[:open])
	}
	if s == "" || strings.EqualFold(s, "default") {
		s = "web"
	}
	return s, key
}
