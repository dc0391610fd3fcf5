package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// Executor performs a single HTTP request and returns the response body.
// It is called by the Dispatcher once per outbound request.
type Executor interface {
	Execute(ctx context.Context, req *http.Request) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req *http.Request) ([]byte, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *http.Request) ([]byte, error) {
	return f(ctx, req)
}

// HTTPExecutor executes requests with an *http.Client
type HTTPExecutor struct {
	client    *http.Client
	userAgent string
}

// NewHTTPExecutor wraps client. A nil client uses a pooled cleanhttp client.
func NewHTTPExecutor(client *http.Client, userAgent string) *HTTPExecutor {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &HTTPExecutor{client: client, userAgent: userAgent}
}

// Execute sends req and reads the whole body. Non-2xx responses are not
// errors: the API reports failures inside the envelope.
func (e *HTTPExecutor) Execute(ctx context.Context, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)
	if e.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
