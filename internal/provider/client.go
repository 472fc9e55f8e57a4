package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client implements Executor against the provider bridge's REST API.
type Client struct {
	baseURL    string
	token      string
	calendars  []string // calendar ids checked when no specific one is named
	httpClient *http.Client
}

// NewClient creates a Client for the bridge at baseURL. calendars lists the
// calendar ids swept by CheckConflicts when the caller doesn't name one;
// an empty list falls back to the bridge's default calendar.
func NewClient(baseURL, token string, calendars []string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		calendars:  calendars,
		httpClient: &http.Client{Timeout: 0},
	}
}

// CheckConflicts asks the bridge for overlapping events. With an explicit
// calendarID only that calendar is checked; otherwise all configured
// calendars are queried in parallel and the first conflict found wins.
func (c *Client) CheckConflicts(ctx context.Context, start, end time.Time, calendarID string) (ConflictResult, error) {
	if calendarID != "" {
		return c.checkOne(ctx, start, end, calendarID)
	}
	if len(c.calendars) == 0 {
		return c.checkOne(ctx, start, end, "")
	}

	var (
		mu    sync.Mutex
		found ConflictResult
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range c.calendars {
		g.Go(func() error {
			res, err := c.checkOne(gctx, start, end, id)
			if err != nil {
				return err
			}
			if res.HasConflicts {
				mu.Lock()
				if !found.HasConflicts {
					found = res
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ConflictResult{}, err
	}
	return found, nil
}

func (c *Client) checkOne(ctx context.Context, start, end time.Time, calendarID string) (ConflictResult, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	if calendarID != "" {
		q.Set("calendar_id", calendarID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/conflicts?"+q.Encode(), nil)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("creating conflicts request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConflictResult{}, Downstream("conflict check", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ConflictResult{}, Downstream("conflict check", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result ConflictResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ConflictResult{}, Downstream("conflict check", fmt.Errorf("decoding response: %w", err))
	}
	return result, nil
}

// CreateTask creates a task in the user's preferred task app.
func (c *Client) CreateTask(ctx context.Context, req TaskRequest) error {
	return c.post(ctx, "/v1/tasks", "task creation", req)
}

// CreateEvent creates a calendar event in the user's preferred calendar app.
func (c *Client) CreateEvent(ctx context.Context, req EventRequest) error {
	return c.post(ctx, "/v1/events", "event creation", req)
}

func (c *Client) post(ctx context.Context, path, op string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Downstream(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Downstream(op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
