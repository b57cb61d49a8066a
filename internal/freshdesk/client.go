package freshdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrorKind classifies API-level failures from the Freshdesk backend.
type ErrorKind string

const (
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindServer    ErrorKind = "server"
	KindRequest   ErrorKind = "request"
)

// APIError is an API-level failure: rate limit, auth, server error, or a
// generic 4xx carrying the response body.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindRateLimit:
		return "freshdesk: rate limit exceeded"
	case KindAuth:
		return "freshdesk: authentication failed"
	case KindServer:
		return fmt.Sprintf("freshdesk: server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("freshdesk: api error (status %d): %s", e.StatusCode, e.Body)
}

// DataError is a data-level failure: the backend answered with a success
// status but a body that could not be decoded.
type DataError struct {
	Err error
}

func (e *DataError) Error() string { return fmt.Sprintf("freshdesk: invalid response: %v", e.Err) }
func (e *DataError) Unwrap() error { return e.Err }

// RetryPolicy describes the client's retry behavior as data: up to
// MaxAttempts tries with exponential backoff, waits clamped to
// [MinWait, MaxWait].
type RetryPolicy struct {
	MaxAttempts int
	Multiplier  time.Duration
	MinWait     time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy matches the backend's documented guidance: 3 attempts,
// exponential backoff with waits between 4 and 10 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  time.Second,
		MinWait:     4 * time.Second,
		MaxWait:     10 * time.Second,
	}
}

// wait returns the backoff duration before retry number n (0-based).
func (p RetryPolicy) wait(n int) time.Duration {
	d := p.Multiplier << n
	if d < p.MinWait {
		d = p.MinWait
	}
	if d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// Client is a thin REST client for the Freshdesk ticketing API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryPolicy
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cl *Client) { cl.retry = p }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithBaseURL overrides the derived https://{domain}/api/v2 base URL.
func WithBaseURL(url string) Option {
	return func(cl *Client) { cl.baseURL = url }
}

// New creates a Freshdesk client for the given domain (e.g.
// "company.freshdesk.com"). The API key is sent as the basic-auth username
// with the fixed placeholder password the API expects.
func New(domain, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: fmt.Sprintf("https://%s/api/v2", domain),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   DefaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTicketRequest holds the fields for a ticket create call.
type CreateTicketRequest struct {
	Subject     string
	Description string
	Email       string
	Status      Status
	Priority    Priority
	Tags        []string
	Extra       map[string]any // passthrough fields
}

// CreateTicket opens a new ticket.
func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (*Ticket, error) {
	if req.Status == 0 {
		req.Status = StatusOpen
	}
	if req.Priority == 0 {
		req.Priority = PriorityMedium
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	body := map[string]any{
		"subject":     req.Subject,
		"description": req.Description,
		"email":       req.Email,
		"status":      int(req.Status),
		"priority":    int(req.Priority),
		"tags":        tags,
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	var t Ticket
	if err := c.doJSON(ctx, http.MethodPost, "/tickets", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicket retrieves a ticket by ID.
func (c *Client) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/tickets/%d", id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTicketRequest holds the fields for a partial ticket update. Nil
// fields are omitted from the request body.
type UpdateTicketRequest struct {
	Status   *Status
	Priority *Priority
	Extra    map[string]any
}

// UpdateTicket applies a partial update to an existing ticket.
func (c *Client) UpdateTicket(ctx context.Context, id int64, req UpdateTicketRequest) (*Ticket, error) {
	body := map[string]any{}
	if req.Status != nil {
		body["status"] = int(*req.Status)
	}
	if req.Priority != nil {
		body["priority"] = int(*req.Priority)
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	var t Ticket
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/tickets/%d", id), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddNote adds a note to a ticket.
func (c *Client) AddNote(ctx context.Context, id int64, body string, private bool) (*Note, error) {
	payload := map[string]any{
		"body":    body,
		"private": private,
	}
	var n Note
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/tickets/%d/notes", id), payload, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// UploadAttachment uploads a file to a ticket via multipart form data.
func (c *Client) UploadAttachment(ctx context.Context, id int64, fileName string, data []byte) (*Attachment, error) {
	var a Attachment
	err := c.withRetry(ctx, func() error {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("attachments[]", fileName)
		if err != nil {
			return fmt.Errorf("freshdesk: multipart: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("freshdesk: multipart write: %w", err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("freshdesk: multipart close: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/tickets/%d/attachments", c.baseURL, id), &buf)
		if err != nil {
			return fmt.Errorf("freshdesk: create request: %w", err)
		}
		// Multipart content type instead of the pinned JSON one.
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.SetBasicAuth(c.apiKey, "X")

		return c.execute(req, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// doJSON runs one JSON request with the client's retry policy.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("freshdesk: marshal request: %w", err)
		}
	}

	return c.withRetry(ctx, func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return fmt.Errorf("freshdesk: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.apiKey, "X")

		return c.execute(req, out)
	})
}

// execute performs one HTTP round trip and validates the response.
func (c *Client) execute(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("freshdesk: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("freshdesk: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimit, StatusCode: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode == http.StatusUnauthorized:
		return &APIError{Kind: KindAuth, StatusCode: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode >= 500:
		return &APIError{Kind: KindServer, StatusCode: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode >= 400:
		return &APIError{Kind: KindRequest, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &DataError{Err: err}
	}
	return nil
}

// withRetry runs fn up to MaxAttempts times. Backoff waits select on the
// context so a retrying call never blocks past cancellation.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.retry.wait(attempt - 1)
			c.logger.Warn("freshdesk call failed, retrying",
				"attempt", attempt,
				"wait", wait.String(),
				"error", last,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("freshdesk: retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		if last = fn(); last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return last
		}
	}
	return last
}
