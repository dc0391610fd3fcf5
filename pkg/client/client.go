package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/sync/singleflight"

	"tetrio-api/pkg/cache"
)

const (
	// DefaultBaseURL is the address every route is appended to
	DefaultBaseURL = "https://ch.tetr.io/api/"

	// SessionHeader carries the optional session token
	SessionHeader = "X-Session-ID"

	defaultUserAgent = "tetrio-api-go"
)

// Options configures a Client. The zero value is usable.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Interval is the minimum spacing between outbound requests, DefaultInterval if zero.
	Interval time.Duration
	// Executor performs requests. Defaults to an HTTPExecutor.
	Executor Executor
	// UserAgent is sent by the default executor.
	UserAgent string
	// Backend caches successful responses. Defaults to a NoopCache.
	Backend cache.Backend
	// Coalesce makes concurrent misses for the same key share one request.
	// The shared request runs with the context of the caller that started it:
	// if that caller is cancelled, every caller joined to it gets the error.
	Coalesce bool

	Logger        *zap.Logger
	Clock         clock.Clock
	MeterProvider metric.MeterProvider
}

// Client is a cached, rate limited client for the TETR.IO Channel API.
// It is safe for concurrent use; all requests share one dispatcher.
type Client struct {
	baseURL    string
	backend    cache.Backend
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *Metrics
	coalesce   bool
	group      singleflight.Group
}

// New creates a client from opts
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Executor == nil {
		opts.Executor = NewHTTPExecutor(nil, opts.UserAgent)
	}
	if opts.Backend == nil {
		opts.Backend = cache.NewNoopCache()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	metrics, err := NewMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	dispatcher := NewDispatcher(opts.Executor, opts.Interval, opts.Clock)
	dispatcher.metrics = metrics

	return &Client{
		baseURL:    opts.BaseURL,
		backend:    opts.Backend,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		metrics:    metrics,
		coalesce:   opts.Coalesce,
	}, nil
}

// Backend returns the cache backend the client stores responses in
func (c *Client) Backend() cache.Backend {
	return c.backend
}

// Dispatcher returns the client's shared dispatcher
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// URL returns the absolute address of route
func (c *Client) URL(route string) string {
	return c.baseURL + strings.TrimPrefix(route, "/")
}

// checkSession rejects a session token that cannot be sent as a header
func checkSession(route, session string) error {
	if session != "" && !httpguts.ValidHeaderFieldValue(session) {
		return &Error{
			Kind:  KindHeaderEncoding,
			Route: route,
			Err:   fmt.Errorf("session token is not a valid %s header value", SessionHeader),
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, route, session string) (*http.Request, error) {
	if err := checkSession(route, session); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(route), http.NoBody)
	if err != nil {
		return nil, &Error{Kind: KindRequestBuild, Route: route, Err: err}
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}
