// Package front is the transport front-end: a data table mapping tool
// names to (schema, handler) pairs, shared by the MCP stdio server and
// the HTTP tool-call endpoint. Every request passes the same pipeline:
// in-flight accounting, authentication, rate limiting, argument
// validation, dispatch.
package front

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crucible-dev/crucible/pkg/auth"
	"github.com/crucible-dev/crucible/pkg/cache"
	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/metrics"
	"github.com/crucible-dev/crucible/pkg/ratelimit"
	"github.com/crucible-dev/crucible/pkg/validate"
)

// RateLimitNamespace groups all tool calls under one limiter bucket
// space.
const RateLimitNamespace = "http"

// Handler executes one tool with sanitized arguments.
type Handler func(ctx context.Context, args map[string]any, authCtx *auth.Context) (any, error)

// Tool is one entry in the dispatch table.
type Tool struct {
	Name        string
	Description string
	Schema      validate.Schema
	Handler     Handler

	// CacheTTL > 0 marks the tool's result cacheable by argument set.
	CacheTTL time.Duration
}

// ContentItem is one element of the response envelope.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tool-call response envelope.
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"is_error,omitempty"`
}

// Meta carries the transport-level request attributes used for
// authentication and rate limiting.
type Meta struct {
	Authorization string
	APIKey        string
	ClientIP      string
}

// Dispatcher owns the tool table and the shared request pipeline.
type Dispatcher struct {
	tools   map[string]*Tool
	order   []string
	auth    *auth.Authenticator
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	metrics *metrics.Metrics

	inFlight     atomic.Int64
	shuttingDown atomic.Bool
}

// NewDispatcher creates an empty dispatcher; tools register after.
func NewDispatcher(authenticator *auth.Authenticator, limiter *ratelimit.Limiter, c *cache.Cache, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		tools:   make(map[string]*Tool),
		auth:    authenticator,
		limiter: limiter,
		cache:   c,
		metrics: m,
	}
}

// Register adds a tool to the table. Duplicate names panic; the table
// is assembled once at startup.
func (d *Dispatcher) Register(tool *Tool) {
	if _, dup := d.tools[tool.Name]; dup {
		panic("front: duplicate tool " + tool.Name)
	}
	d.tools[tool.Name] = tool
	d.order = append(d.order, tool.Name)
}

// Tools returns the registered tools in registration order.
func (d *Dispatcher) Tools() []*Tool {
	out := make([]*Tool, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name])
	}
	return out
}

// InFlight returns the live request count.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Call runs the full request pipeline for one tool invocation.
func (d *Dispatcher) Call(ctx context.Context, name string, arguments map[string]any, meta Meta) *CallResult {
	if d.shuttingDown.Load() {
		return errorResult(name, crucerr.New(crucerr.KindInternal, "server is shutting down"))
	}

	d.inFlight.Add(1)
	if d.metrics != nil {
		d.metrics.InFlight.Inc()
	}
	start := time.Now()
	defer func() {
		d.inFlight.Add(-1)
		if d.metrics != nil {
			d.metrics.InFlight.Dec()
			d.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()

	result := d.call(ctx, name, arguments, meta)
	if d.metrics != nil {
		outcome := "ok"
		if result.IsError {
			outcome = "error"
		}
		d.metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
	}
	return result
}

func (d *Dispatcher) call(ctx context.Context, name string, arguments map[string]any, meta Meta) *CallResult {
	authCtx, err := d.auth.Authenticate(meta.Authorization, meta.APIKey)
	if err != nil {
		return errorResult(name, err)
	}

	limit := d.limiter.Consume(RateLimitNamespace, rateLimitIdentity(authCtx, meta))
	if !limit.Allowed {
		if d.metrics != nil {
			d.metrics.RateLimited.WithLabelValues(RateLimitNamespace).Inc()
		}
		return errorResult(name, crucerr.RateLimited(limit.RetryAfterSeconds))
	}

	tool, ok := d.tools[name]
	if !ok {
		return errorResult(name, crucerr.Newf(crucerr.KindNotFound, "unknown tool %q", name))
	}

	res := tool.Schema.Validate(arguments)
	if d.metrics != nil {
		for kind, count := range res.Rejections {
			d.metrics.Injections.WithLabelValues(kind).Add(float64(count))
		}
	}
	if !res.Valid {
		return errorResult(name, crucerr.Validation("invalid arguments", res.Errors))
	}

	payload, err := d.invoke(ctx, tool, res.Sanitized, authCtx)
	if err != nil {
		slog.Error("Tool call failed", "tool", name, "user", authCtx.UserID, "error", err)
		return errorResult(name, err)
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return errorResult(name, crucerr.Wrap(crucerr.KindInternal, "failed to encode result", err))
	}
	return &CallResult{Content: []ContentItem{{Type: "text", Text: string(text)}}}
}

// invoke runs the handler, through the response cache for tools that
// declared a TTL.
func (d *Dispatcher) invoke(ctx context.Context, tool *Tool, args map[string]any, authCtx *auth.Context) (any, error) {
	if tool.CacheTTL <= 0 || d.cache == nil {
		return tool.Handler(ctx, args, authCtx)
	}
	key := cacheKey(tool.Name, args)
	return d.cache.GetOrSet(key, func() (any, error) {
		return tool.Handler(ctx, args, authCtx)
	}, tool.CacheTTL)
}

// SetShuttingDown flips the refusal flag for new requests.
func (d *Dispatcher) SetShuttingDown() {
	d.shuttingDown.Store(true)
}

// Drain waits up to grace for in-flight requests to finish, logging
// the count each second.
func (d *Dispatcher) Drain(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for {
		n := d.inFlight.Load()
		if n == 0 {
			slog.Info("All requests drained")
			return
		}
		if time.Now().After(deadline) {
			slog.Warn("Drain deadline reached with requests in flight", "in_flight", n)
			return
		}
		slog.Info("Waiting for in-flight requests", "in_flight", n)
		time.Sleep(time.Second)
	}
}

// rateLimitIdentity prefers the authenticated user, then a digest of
// the credential, then the client address.
func rateLimitIdentity(authCtx *auth.Context, meta Meta) string {
	if authCtx.Authenticated && authCtx.UserID != auth.AnonymousUser {
		return authCtx.UserID
	}
	if meta.Authorization != "" {
		sum := sha256.Sum256([]byte(meta.Authorization))
		return hex.EncodeToString(sum[:8])
	}
	if meta.ClientIP != "" {
		return meta.ClientIP
	}
	return auth.AnonymousUser
}

func cacheKey(tool string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return tool
	}
	sum := sha256.Sum256(data)
	return tool + ":" + hex.EncodeToString(sum[:12])
}

// errorResult produces the diagnostic envelope: tool name, kind, and a
// short error string. Stack traces stay in the logs.
func errorResult(tool string, err error) *CallResult {
	kind := crucerr.KindOf(err)
	payload := map[string]any{
		"tool":  tool,
		"kind":  string(kind),
		"error": shortError(err),
	}
	var ce *crucerr.Error
	if errors.As(err, &ce) {
		if len(ce.Fields) > 0 {
			payload["fields"] = ce.Fields
		}
		if ce.RetryAfterSeconds > 0 {
			payload["retry_after_seconds"] = ce.RetryAfterSeconds
		}
	}
	text, merr := json.Marshal(payload)
	if merr != nil {
		text = []byte(`{"tool":"` + tool + `","error":"internal error"}`)
	}
	return &CallResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
		IsError: true,
	}
}

func shortError(err error) string {
	var ce *crucerr.Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return err.Error()
}
