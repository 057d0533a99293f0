package swaplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal swapline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     2 * time.Minute,
	}
}

// TriggerSummary is the result of one trigger run (partial).
type TriggerSummary struct {
	Trigger     string           `json:"trigger"`
	StartedAt   time.Time        `json:"started_at"`
	DurationNS  int64            `json:"duration_ns"`
	Transitions *TransitionStats `json:"transitions,omitempty"`
	Escalation  *EscalationStats `json:"escalation,omitempty"`
	Generated   *int             `json:"generated,omitempty"`
}

type TransitionStats struct {
	Total  int            `json:"total"`
	ByRule map[string]int `json:"by_rule"`
}

type EscalationStats struct {
	Scanned        int `json:"scanned"`
	Skipped        int `json:"skipped"`
	Reminders      int `json:"reminders"`
	Held           int `json:"held"`
	AutoCompleted  int `json:"auto_completed"`
	NotifyFailures int `json:"notify_failures"`
	Failed         int `json:"failed"`
}

// Trade represents the API trade model (partial).
type Trade struct {
	ID                    string     `json:"id"`
	Status                string     `json:"status"`
	CreatorID             string     `json:"creatorId"`
	ParticipantID         string     `json:"participantId"`
	CompletionRequestedAt *time.Time `json:"completionRequestedAt,omitempty"`
	CompletionRequestedBy string     `json:"completionRequestedBy,omitempty"`
	RemindersSent         int        `json:"remindersSent"`
	AutoCompleted         bool       `json:"autoCompleted"`
}

// Challenge represents the API challenge model (partial).
type Challenge struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"templateId"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RunTrigger runs hourly, daily or weekly on the server.
func (c *Client) RunTrigger(ctx context.Context, trigger string) (TriggerSummary, error) {
	var resp TriggerSummary
	err := c.do(ctx, http.MethodPost, "v0/triggers/"+url.PathEscape(trigger), nil, &resp)
	return resp, err
}

// ListTrades returns trades, optionally filtered by status.
func (c *Client) ListTrades(ctx context.Context, status string) ([]Trade, error) {
	var resp struct {
		Items []Trade `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withStatus("v0/trades", status), nil, &resp)
	return resp.Items, err
}

// ListChallenges returns challenges, optionally filtered by status.
func (c *Client) ListChallenges(ctx context.Context, status string) ([]Challenge, error) {
	var resp struct {
		Items []Challenge `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withStatus("v0/challenges", status), nil, &resp)
	return resp.Items, err
}

func withStatus(endpoint, status string) string {
	if status == "" {
		return endpoint
	}
	return endpoint + "?status=" + url.QueryEscape(status)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
