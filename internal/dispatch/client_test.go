package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hooksched/internal/domain"
)

type captured struct {
	method  string
	path    string
	headers http.Header
	body    map[string]any
}

func newGateway(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestDispatchSendsPayload(t *testing.T) {
	srv, got := newGateway(t, http.StatusOK, `{"ok":true,"runId":"r1"}`)
	c := New(Config{BaseURL: srv.URL + "/", HooksPath: "/hooks", Token: "secret"})

	res, err := c.Dispatch(context.Background(), domain.Task{
		ID:             "t1",
		Name:           "Morning digest",
		Prompt:         "Summarise the inbox",
		AgentID:        json.RawMessage(`"ops"`),
		Channel:        json.RawMessage(`"telegram"`),
		To:             json.RawMessage(`"12345"`),
		TimeoutSeconds: json.RawMessage(`120`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/hooks/agent", got.path)
	assert.Equal(t, "Bearer secret", got.headers.Get("Authorization"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, res.RequestID, got.headers.Get("X-Request-ID"))
	assert.NotEmpty(t, res.RequestID)

	assert.Equal(t, map[string]any{
		"message":        "Summarise the inbox",
		"name":           "Scheduled: Morning digest",
		"wakeMode":       "now",
		"deliver":        true,
		"agentId":        "ops",
		"channel":        "telegram",
		"to":             "12345",
		"timeoutSeconds": float64(120),
	}, got.body)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"ok": true, "runId": "r1"}, res.Body)
}

func TestDispatchForwardsRoutingValuesVerbatim(t *testing.T) {
	srv, got := newGateway(t, http.StatusOK, `{}`)
	c := New(Config{BaseURL: srv.URL, HooksPath: "/hooks", Token: "secret"})

	_, err := c.Dispatch(context.Background(), domain.Task{
		Prompt:         "ping",
		To:             json.RawMessage(`123456789`),
		TimeoutSeconds: json.RawMessage(`120.5`),
		Channel:        json.RawMessage(`null`),
		AgentID:        json.RawMessage(`""`),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(123456789), got.body["to"])
	assert.Equal(t, 120.5, got.body["timeoutSeconds"])
	assert.NotContains(t, got.body, "channel", "null is not forwarded")
	assert.NotContains(t, got.body, "agentId", "empty string is not forwarded")
}

func TestDispatchOmitsEmptyRoutingFields(t *testing.T) {
	srv, got := newGateway(t, http.StatusAccepted, `{}`)
	c := New(Config{BaseURL: srv.URL, HooksPath: "hooks/", Token: "secret"})

	_, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "/hooks/agent", got.path)
	assert.Equal(t, map[string]any{
		"message":  "ping",
		"name":     "Scheduled: task",
		"wakeMode": "now",
		"deliver":  true,
	}, got.body)
}

func TestDispatchNon2xxIsFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError, http.StatusFound} {
		srv, _ := newGateway(t, status, "nope")
		c := New(Config{BaseURL: srv.URL, HooksPath: "/hooks", Token: "secret"})

		res, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
		require.Error(t, err)
		var de *Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, status, de.StatusCode)
		assert.Equal(t, "nope", de.Body)
		assert.Equal(t, status, res.StatusCode)
	}
}

func TestDispatchNonJSONSuccessStillSucceeds(t *testing.T) {
	srv, _ := newGateway(t, http.StatusOK, "accepted\n")
	c := New(Config{BaseURL: srv.URL, HooksPath: "/hooks", Token: "secret"})

	res, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Body)
}

func TestDispatchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, HooksPath: "/hooks", Token: "secret"})
	_, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
	require.Error(t, err)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Zero(t, de.StatusCode)
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(Config{BaseURL: srv.URL, HooksPath: "/hooks", Token: "secret", Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatchRateLimit(t *testing.T) {
	srv, _ := newGateway(t, http.StatusOK, `{}`)
	c := New(Config{BaseURL: srv.URL, HooksPath: "/hooks", Token: "secret", RatePerSec: 10})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Dispatch(context.Background(), domain.Task{Prompt: "ping"})
		require.NoError(t, err)
	}
	// burst of one: the 2nd and 3rd calls wait ~100ms each
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestURL(t *testing.T) {
	assert.Equal(t, "http://gw:18789/hooks/agent", New(Config{BaseURL: "http://gw:18789", HooksPath: "/hooks"}).URL())
	assert.Equal(t, "http://gw/agent", New(Config{BaseURL: "http://gw/", HooksPath: ""}).URL())
}
