package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultInterval is the minimum spacing between two outbound requests
const DefaultInterval = time.Second

// Dispatcher funnels every outbound request through one gate so that calls to
// the remote service are at least interval apart, whatever the number of
// concurrent callers. Waiting callers are admitted in arrival order.
type Dispatcher struct {
	exec     Executor
	interval time.Duration
	clock    clock.Clock
	metrics  *Metrics

	// gate holds one token while a caller owns the transport.
	gate chan struct{}
	// last is when the previous call left the gate; guarded by gate.
	last time.Time

	calls atomic.Int64
}

// NewDispatcher creates a dispatcher around exec. A nil clock uses the wall clock.
func NewDispatcher(exec Executor, interval time.Duration, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		exec:     exec,
		interval: interval,
		clock:    clk,
		gate:     make(chan struct{}, 1),
	}
}

// Execute waits for the gate and the remaining cooldown, then performs exactly
// one call. The gate is released whether the call succeeds or not, and
// failures are never retried.
func (d *Dispatcher) Execute(ctx context.Context, req *http.Request) ([]byte, error) {
	start := d.clock.Now()

	select {
	case d.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.gate }()

	if !d.last.IsZero() {
		if wait := d.interval - d.clock.Since(d.last); wait > 0 {
			timer := d.clock.Timer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}
	d.metrics.recordWait(ctx, d.clock.Since(start))

	body, err := d.exec.Execute(ctx, req)
	d.last = d.clock.Now()
	d.calls.Add(1)
	d.metrics.recordDispatch(ctx, err)

	return body, err
}

// Calls returns how many transport calls have been made
func (d *Dispatcher) Calls() int64 {
	return d.calls.Load()
}
