package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hooksched/internal/domain"
)

const (
	DefaultTimeout = 30 * time.Second

	maxResponseBody = 1 << 20
)

type Config struct {
	BaseURL   string
	HooksPath string
	Token     string
	Timeout   time.Duration
	// RatePerSec caps trigger calls per second; 0 disables the limit.
	RatePerSec float64
}

// Client triggers tasks through the gateway's agent hook.
type Client struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// Result describes an accepted trigger. Body is the decoded JSON response, or
// the raw text when the gateway did not answer with JSON.
type Result struct {
	RequestID  string
	StatusCode int
	Body       any
}

// Error is a failed trigger: a transport error (StatusCode 0) or a non-2xx reply.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d error: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("trigger request failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type payload struct {
	Message        string          `json:"message"`
	Name           string          `json:"name"`
	WakeMode       string          `json:"wakeMode"`
	Deliver        bool            `json:"deliver"`
	AgentID        json.RawMessage `json:"agentId,omitempty"`
	Channel        json.RawMessage `json:"channel,omitempty"`
	To             json.RawMessage `json:"to,omitempty"`
	TimeoutSeconds json.RawMessage `json:"timeoutSeconds,omitempty"`
}

// passthrough forwards a routing value verbatim, dropping unset ones.
func passthrough(raw json.RawMessage) json.RawMessage {
	if !domain.Truthy(raw) {
		return nil
	}
	return raw
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	path := "/" + strings.Trim(cfg.HooksPath, "/")
	if path == "/" {
		path = ""
	}
	c := &Client{
		url:    strings.TrimRight(cfg.BaseURL, "/") + path + "/agent",
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c
}

// URL is the endpoint every trigger is posted to.
func (c *Client) URL() string { return c.url }

func (c *Client) Dispatch(ctx context.Context, task domain.Task) (Result, error) {
	res := Result{RequestID: uuid.NewString()}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return res, &Error{Err: err}
		}
	}

	body, err := json.Marshal(payload{
		Message:        task.Prompt,
		Name:           "Scheduled: " + task.DisplayName(),
		WakeMode:       "now",
		Deliver:        true,
		AgentID:        passthrough(task.AgentID),
		Channel:        passthrough(task.Channel),
		To:             passthrough(task.To),
		TimeoutSeconds: passthrough(task.TimeoutSeconds),
	})
	if err != nil {
		return res, fmt.Errorf("encode trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", res.RequestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return res, &Error{Err: err}
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return res, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	// The reply is only logged; an unexpected body does not undo a 2xx.
	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		res.Body = strings.TrimSpace(string(respBody))
	} else {
		res.Body = decoded
	}
	return res, nil
}
