package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

const defaultInvokerWorkers = 4

// Invoker runs adapters on a bounded pool so a call that overruns its budget
// can be abandoned. Abandoned calls keep their worker until the adapter
// returns, and the pool grows by one for each of them so they never count
// against later calls.
type Invoker struct {
	pool    *ants.Pool
	now     func() time.Time
	workers int

	mu        sync.Mutex
	abandoned int
}

type InvokerOption func(*invokerConfig)

type invokerConfig struct {
	workers int
	now     func() time.Time
}

// WithWorkers bounds how many adapter calls may be in flight, not counting
// abandoned ones.
func WithWorkers(n int) InvokerOption {
	return func(c *invokerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithNow(now func() time.Time) InvokerOption {
	return func(c *invokerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func NewInvoker(opts ...InvokerOption) (*Invoker, error) {
	cfg := invokerConfig{workers: defaultInvokerWorkers, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	pool, err := ants.NewPool(cfg.workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	return &Invoker{pool: pool, now: cfg.now, workers: cfg.workers}, nil
}

// Invoke runs a with its own timeout and always returns an outcome stamped
// with the adapter kind and elapsed time. Panics become failures and an
// overrun becomes a timeout.
func (i *Invoker) Invoke(ctx context.Context, a Adapter, timeout time.Duration) Outcome {
	start := i.now()
	out := i.invoke(ctx, a, timeout)
	out.Kind = a.Kind()
	out.Elapsed = i.now().Sub(start)
	return out
}

func (i *Invoker) invoke(ctx context.Context, a Adapter, timeout time.Duration) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	err := i.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failuref("panic: %v", r)
			}
		}()
		done <- a.Run(runCtx)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return Failuref("probe executor saturated")
		}
		return Failuref("submit probe: %v", err)
	}

	select {
	case out := <-done:
		if out.Status == StatusFailure && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Timeout()
		}
		return out
	case <-runCtx.Done():
		i.abandon(done)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Timeout()
		}
		return Failuref("cancelled: %v", runCtx.Err())
	}
}

// abandon lends the pool one extra worker until the abandoned call returns.
func (i *Invoker) abandon(done <-chan Outcome) {
	i.resize(1)
	go func() {
		<-done
		i.resize(-1)
	}()
}

func (i *Invoker) resize(delta int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.abandoned += delta
	i.pool.Tune(i.workers + i.abandoned)
}

// Abandoned reports how many timed-out calls are still running.
func (i *Invoker) Abandoned() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.abandoned
}

// Running reports how many adapter calls currently hold a worker.
func (i *Invoker) Running() int {
	return i.pool.Running()
}

func (i *Invoker) Close() {
	i.pool.Release()
}
