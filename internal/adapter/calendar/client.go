// Package calendar provides an HTTP client for the calendar availability service.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

type availabilityRequest struct {
	UserID string              `json:"user_id"`
	Ranges []message.TimeRange `json:"ranges"`
}

type availabilityResponse struct {
	Free      []message.TimeRange `json:"free"`
	Conflicts []message.TimeRange `json:"conflicts"`
}

// Client talks to the calendar availability API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a calendar client. timeout bounds each HTTP call on top
// of any context deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Availability splits ranges into free ranges and ranges that collide with
// existing events of userID.
func (c *Client) Availability(ctx context.Context, userID string, ranges []message.TimeRange) (*calendar.Availability, error) {
	body, err := json.Marshal(availabilityRequest{UserID: userID, Ranges: ranges})
	if err != nil {
		return nil, fmt.Errorf("marshal availability request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/availability", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("calendar API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out availabilityResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal availability: %w", err)
	}
	if out.Free == nil {
		out.Free = []message.TimeRange{}
	}
	if out.Conflicts == nil {
		out.Conflicts = []message.TimeRange{}
	}
	return &calendar.Availability{
		Free:      out.Free,
		Conflicts: out.Conflicts,
		CheckedAt: c.now().UTC(),
	}, nil
}
