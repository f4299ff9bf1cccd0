// Package backend is the typed client for the remote preference,
// recommendation, attendance and helper services.
package backend

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

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/ashureev/carecompanion/internal/domain"
)

const maxResponseBytes = 4 << 20

// Options configures a Client.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
}

// Client talks to the backend over HTTP with retries on transient failures.
type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client
}

// New creates a Client. An empty BaseURL is rejected.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("backend base URL is empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL scheme %q", base.Scheme)
	}

	rc := retryablehttp.NewClient()
	rc.Logger = slog.Default()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	// Hand non-2xx responses back instead of a generic "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{baseURL: base, http: rc}, nil
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Unwrap classifies every status error as a network error.
func (e *StatusError) Unwrap() error { return domain.ErrNetwork }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) ([]byte, error) {
	var reqBody interface{}
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(path, query), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", domain.ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &StatusError{Status: resp.StatusCode, Detail: detailOf(data)}
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in interface{}) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	return c.do(ctx, method, path, nil, "application/json", payload)
}

// detailOf extracts FastAPI-style error details, which may be a string or
// a list of validation issues.
func detailOf(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		return detail.Str
	case detail.IsArray():
		var msgs []string
		for _, item := range detail.Array() {
			if msg := item.Get("msg").String(); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		return strings.Join(msgs, "; ")
	case detail.Exists():
		return detail.Raw
	}
	return ""
}

// Recommendations fetches candidate events for the device. Entries without
// an id, name or parseable start date are skipped.
func (c *Client) Recommendations(ctx context.Context, deviceID string, limit int) ([]domain.RemoteEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is empty", domain.ErrValidation)
	}
	q := url.Values{}
	q.Set("device_id", deviceID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/recommendations/", q, "", nil)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !gjson.ValidBytes(body) || !parsed.IsArray() {
		return nil, fmt.Errorf("%w: recommendations response is not a list: %s", domain.ErrNetwork, truncate(string(body), 200))
	}

	events := make([]domain.RemoteEvent, 0, len(parsed.Array()))
	for i, item := range parsed.Array() {
		ev, err := remoteEventFrom(item)
		if err != nil {
			slog.Warn("Skipping malformed recommendation", "index", i, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func remoteEventFrom(item gjson.Result) (domain.RemoteEvent, error) {
	id := strings.TrimSpace(item.Get("id").String())
	name := strings.TrimSpace(item.Get("name").String())
	if id == "" || name == "" {
		return domain.RemoteEvent{}, fmt.Errorf("missing id or name")
	}
	rawStart := item.Get("start_date").String()
	start, err := parseTimestamp(rawStart)
	if err != nil {
		return domain.RemoteEvent{}, fmt.Errorf("event %s: bad start_date %q", id, rawStart)
	}
	return domain.RemoteEvent{
		ID:          id,
		Name:        name,
		Description: item.Get("description").String(),
		StartDate:   start,
		Category:    strings.TrimSpace(item.Get("category").String()),
	}, nil
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form the backend
// emits for naive datetimes, which is read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// RegisterAttendance records that the device attends an event. A repeated
// registration returns ErrAlreadyRegistered, which callers treat as success.
func (c *Client) RegisterAttendance(ctx context.Context, eventID, deviceID string) error {
	if eventID == "" || deviceID == "" {
		return fmt.Errorf("%w: event and device id are required", domain.ErrValidation)
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/attendances", map[string]string{
		"device_id": deviceID,
	})
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && isAlreadyRegistered(se) {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, se.Detail)
	}
	return err
}

func isAlreadyRegistered(se *StatusError) bool {
	if se.Status == http.StatusConflict {
		return true
	}
	return se.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(se.Detail), "already registered")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// raw posts a pre-encoded body and returns the response verbatim.
func (c *Client) raw(ctx context.Context, path, contentType string, body *bytes.Buffer) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodPost, path, nil, contentType, body.Bytes())
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", domain.ErrNetwork, path)
	}
	return json.RawMessage(data), nil
}
