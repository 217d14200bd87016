package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/auth"
	"github.com/crucible-dev/crucible/pkg/cache"
	"github.com/crucible-dev/crucible/pkg/config"
	"github.com/crucible-dev/crucible/pkg/front"
	"github.com/crucible-dev/crucible/pkg/orchestrator"
	"github.com/crucible-dev/crucible/pkg/ratelimit"
	"github.com/crucible-dev/crucible/pkg/store"
	"github.com/crucible-dev/crucible/pkg/validate"
)

type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) Ping(context.Context) error {
	return errors.New("store offline")
}

type countingStore struct {
	*store.MemoryStore
	pings atomic.Int32
}

func (c *countingStore) Ping(context.Context) error {
	c.pings.Add(1)
	return nil
}

func newTestDispatcher(authenticator *auth.Authenticator, maxRequests int) *front.Dispatcher {
	d := front.NewDispatcher(authenticator, ratelimit.New(time.Minute, maxRequests), nil, nil)
	d.Register(&front.Tool{
		Name:        "echo_message",
		Description: "echoes its message argument",
		Schema: validate.Schema{
			"message": {Type: validate.TypeString, Required: true, MinLength: 1, MaxLength: 100},
		},
		Handler: func(_ context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return map[string]any{"echo": validate.StringArg(args, "message")}, nil
		},
	})
	return d
}

func newTestServer(st store.Store, authCfg auth.Config, maxRequests int) *Server {
	authenticator := auth.New(authCfg)
	d := newTestDispatcher(authenticator, maxRequests)
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 8080}
	return NewServer(cfg, d, authenticator, st, orchestrator.NewRunner(), nil, cache.New("health", 30*time.Second, 8), nil)
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func callToolRequest(body string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

func TestHealthHealthy(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, 0, resp.ActiveSessions)
	assert.Equal(t, healthStatusHealthy, resp.Checks["store"].Status)
	assert.Contains(t, resp.Checks, "runner")
}

func TestHealthUnhealthyStore(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	s := newTestServer(st, auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["store"].Message, "store offline")
}

func TestHealthResponseCached(t *testing.T) {
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	s := newTestServer(st, auth.Config{}, 100)

	for i := 0; i < 3; i++ {
		rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Probes within the cache TTL share one store round trip.
	assert.Equal(t, int32(1), st.pings.Load())
}

func TestReady(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ready"])
}

func TestReadyStoreDown(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	s := newTestServer(st, auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ready"])
	assert.Contains(t, resp["error"], "store offline")
}

func TestListTools(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var tools []ToolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "echo_message", tools[0].Name)
	assert.NotEmpty(t, tools[0].Description)
}

func TestCallToolSuccess(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	body := `{"name": "echo_message", "arguments": {"message": "hello"}}`
	rec := serve(t, s, callToolRequest(body, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var result front.CallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "hello")
}

func TestCallToolBadRequests(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	t.Run("malformed body", func(t *testing.T) {
		rec := serve(t, s, callToolRequest(`{"name": `, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing tool name", func(t *testing.T) {
		rec := serve(t, s, callToolRequest(`{"arguments": {"message": "hi"}}`, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "tool name is required")
	})
}

func TestCallToolUnknownName(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 100)

	rec := serve(t, s, callToolRequest(`{"name": "no_such_tool"}`, nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var result front.CallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsError)
}

func TestCallToolUnauthorized(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{Enabled: true, SharedKey: "secret"}, 100)

	body := `{"name": "echo_message", "arguments": {"message": "hi"}}`

	t.Run("missing credentials", func(t *testing.T) {
		rec := serve(t, s, callToolRequest(body, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Bearer realm="crucible"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		rec := serve(t, s, callToolRequest(body, map[string]string{"Authorization": "Bearer secret"}))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestProbesRequireAuth(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{Enabled: true, SharedKey: "secret"}, 100)

	for _, path := range []string{"/health", "/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, s, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer realm="crucible"`, rec.Header().Get("WWW-Authenticate"))

			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", "Bearer secret")
			rec = serve(t, s, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestCallToolRateLimited(t *testing.T) {
	s := newTestServer(store.NewMemoryStore(), auth.Config{}, 2)

	body := `{"name": "echo_message", "arguments": {"message": "hi"}}`
	for i := 0; i < 2; i++ {
		rec := serve(t, s, callToolRequest(body, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := serve(t, s, callToolRequest(body, nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	assert.NotEqual(t, "0", retryAfter)
}

func TestExtractAuthor(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded user wins", map[string]string{"X-Forwarded-User": "alice", "X-Forwarded-Email": "alice@example.com"}, "alice"},
		{"forwarded email next", map[string]string{"X-Forwarded-Email": "bob@example.com", "X-Remote-User": "bob"}, "bob@example.com"},
		{"remote user last", map[string]string{"X-Remote-User": "carol"}, "carol"},
		{"fallback", nil, "api-client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			assert.Equal(t, tt.want, extractAuthor(c))
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded-for first entry", "1.2.3.4, 5.6.7.8", "9.9.9.9", "10.0.0.1:1234", "1.2.3.4"},
		{"forwarded-for trimmed", " 1.2.3.4 ", "", "10.0.0.1:1234", "1.2.3.4"},
		{"real-ip next", "", "9.9.9.9", "10.0.0.1:1234", "9.9.9.9"},
		{"remote addr host", "", "", "10.0.0.1:1234", "10.0.0.1"},
		{"remote addr without port", "", "", "10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-Ip", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
