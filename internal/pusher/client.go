package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runnerr0/pagetrail/internal/storage"
)

// ErrSyncFailed is returned when the collector did not accept a push. The
// pushed pages stay unsynced and go out again with the next attempt.
var ErrSyncFailed = errors.New("sync failed")

// maxResponseSize bounds how much of a collector response is read.
const maxResponseSize = 1 << 20

// Payload is the body POSTed to the collector.
type Payload struct {
	Email    string           `json:"email"`
	Date     string           `json:"date"` // dd-mm-yyyy in TimeZone
	TimeZone string           `json:"timeZone"`
	Data     []storage.Domain `json:"data"`
	Version  string           `json:"version"`
}

// Sender delivers one payload and returns the HTTP status it got.
type Sender interface {
	Push(ctx context.Context, p Payload, batchID string) (int, error)
}

// Client posts payloads to {endpoint}/api/extension.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates a client for the collector at endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Push sends p. Success is any 2xx status with a JSON body; everything else
// wraps ErrSyncFailed.
func (c *Client) Push(ctx context.Context, p Payload, batchID string) (int, error) {
	if c.endpoint == "" {
		return 0, fmt.Errorf("%w: no endpoint configured", ErrSyncFailed)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/extension", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrSyncFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", batchID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read response: %w", ErrSyncFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d: %s", ErrSyncFailed, resp.StatusCode, truncate(string(respBody), 200))
	}
	if len(bytes.TrimSpace(respBody)) == 0 || !json.Valid(respBody) {
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d without a JSON body", ErrSyncFailed, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
