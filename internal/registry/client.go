package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// Client talks to a remote Registry's sync API. Every call goes through a
// circuit breaker; while it is open calls fail fast with
// gobreaker.ErrOpenState, which the orchestrator treats as transient.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// breakerFailures opens the breaker after this many consecutive failures.
const breakerFailures = 5

// NewClient creates a client for baseURL, authenticating with a bearer
// token when token is not empty.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		// A rejected request proves the registry is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrNotFound) || engine.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Changes fetches one page of pending changes after cursor.
func (c *Client) Changes(ctx context.Context, since time.Time, cursor int64, limit int) (ChangesResponse, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp ChangesResponse
	if err := c.call(ctx, http.MethodGet, "/api/sync/changes?"+q.Encode(), nil, &resp); err != nil {
		return ChangesResponse{}, fmt.Errorf("fetch changes: %w", err)
	}
	return resp, nil
}

// Apply implements engine.Applier against the remote Registry.
func (c *Client) Apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	var resp ApplyResponse
	body := ApplyBatch{Changes: []ir.ApplyRequest{req}}
	if err := c.call(ctx, http.MethodPost, "/api/sync/apply", body, &resp); err != nil {
		return "", fmt.Errorf("remote apply: %w", err)
	}
	if len(resp.Results) != 1 {
		return "", engine.NewTransient(fmt.Errorf("remote apply: want 1 result, got %d", len(resp.Results)), nil)
	}
	res := resp.Results[0]
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Outcome, nil
}

// Snapshot implements engine.EntitySource against the remote Registry.
func (c *Client) Snapshot(ctx context.Context, key string) (ir.Object, error) {
	var resp MemberResponse
	if err := c.call(ctx, http.MethodGet, "/api/sync/member/"+url.PathEscape(key), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch member: %w", err)
	}
	return resp.Fields, nil
}

// MarkSynced acknowledges remote change ids.
func (c *Client) MarkSynced(ctx context.Context, ids []string) (int64, error) {
	var resp MarkSyncedResponse
	if err := c.call(ctx, http.MethodPost, "/api/sync/mark-synced", MarkSyncedRequest{IDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("mark synced: %w", err)
	}
	return resp.Acknowledged, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	return err
}

// roundTrip performs one request and classifies failures: network errors
// and 5xx are transient, 404 is store.ErrNotFound, other 4xx permanent.
func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return engine.NewPermanent(fmt.Errorf("encode request: %w", err), nil)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return engine.NewPermanent(err, nil)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.NewTransient(err, nil)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return engine.NewTransient(fmt.Errorf("read response: %w", err), nil)
	}

	details := map[string]string{"status": strconv.Itoa(resp.StatusCode), "path": path}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, store.ErrNotFound)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewTransient(fmt.Errorf("%s %s: %s", method, path, resp.Status), details)
	case resp.StatusCode >= 400:
		return engine.NewPermanent(fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(payload)), details)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return engine.NewPermanent(fmt.Errorf("decode response: %w", err), details)
	}
	return nil
}
