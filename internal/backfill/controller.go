// Package backfill paces how fast spooled records are handed to the uplink.
package backfill

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
	"github.com/TakashiAihara/wlan-scanner/internal/sink/spool"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type Controller struct {
	spool    *spool.Spool
	limiter  *rate.Limiter
	maxBatch int
	metrics  metrics.UplinkRecorder
}

type Option func(*Controller)

// WithRate limits delivery to recordsPerSecond with the given burst.
func WithRate(recordsPerSecond float64, burst int) Option {
	return func(c *Controller) {
		if recordsPerSecond > 0 {
			if burst <= 0 {
				burst = int(recordsPerSecond)
			}
			c.limiter = rate.NewLimiter(rate.Limit(recordsPerSecond), max(burst, 1))
		}
	}
}

func WithMaxBatch(size int) Option {
	return func(c *Controller) {
		if size > 0 {
			c.maxBatch = size
		}
	}
}

func WithMetrics(rec metrics.UplinkRecorder) Option {
	return func(c *Controller) {
		if rec != nil {
			c.metrics = rec
		}
	}
}

func New(s *spool.Spool, opts ...Option) *Controller {
	c := &Controller{
		spool:    s,
		limiter:  rate.NewLimiter(rate.Limit(20), 64),
		maxBatch: 64,
		metrics:  metrics.NoopUplinkRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter.Burst() < c.maxBatch {
		c.limiter.SetBurst(c.maxBatch)
	}
	c.recordPending()
	return c
}

type Batch struct {
	Records []types.MeasurementRecord
	inner   spool.Batch
}

// Next returns up to max records from the head of the spool, waiting on the
// rate limiter first. An empty batch means the spool is drained.
func (c *Controller) Next(ctx context.Context, max int) (Batch, error) {
	if c.spool == nil {
		return Batch{}, nil
	}
	if max <= 0 || max > c.maxBatch {
		max = c.maxBatch
	}

	inner, err := c.spool.Peek(max)
	if err != nil {
		return Batch{}, err
	}
	c.recordPending()
	if len(inner.Records) == 0 {
		return Batch{}, nil
	}
	if err := c.limiter.WaitN(ctx, len(inner.Records)); err != nil {
		return Batch{}, err
	}
	return Batch{Records: inner.Records, inner: inner}, nil
}

// Ack removes a delivered batch from the spool.
func (c *Controller) Ack(batch Batch) error {
	if c.spool == nil || len(batch.Records) == 0 {
		return nil
	}
	if err := c.spool.Commit(batch.inner); err != nil {
		return err
	}
	c.metrics.AddSent(len(batch.Records))
	c.recordPending()
	return nil
}

func (c *Controller) PendingBytes() int64 {
	if c.spool == nil {
		return 0
	}
	return c.spool.PendingBytes()
}

func (c *Controller) recordPending() {
	if c.spool == nil {
		return
	}
	c.metrics.ObservePendingBytes(c.spool.PendingBytes())
	c.metrics.ObserveDropped(c.spool.Dropped())
}
