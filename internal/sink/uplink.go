package sink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TakashiAihara/wlan-scanner/internal/backfill"
	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
	"github.com/TakashiAihara/wlan-scanner/internal/sink/spool"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

// Sender delivers a batch of records to the collector.
type Sender interface {
	Send(ctx context.Context, records []types.MeasurementRecord) error
}

type UplinkDependencies struct {
	Controller *backfill.Controller
	Metrics    metrics.UplinkRecorder
	Logger     logrus.FieldLogger
	// RetryAfter is the pause after a failed delivery. Defaults to 10s.
	RetryAfter time.Duration
	BatchSize  int
}

// Uplink stores each record in the spool and drains the spool to a Sender in
// the background. Delivery failures are retried later and never fail Append.
type Uplink struct {
	spool      *spool.Spool
	sender     Sender
	ctrl       *backfill.Controller
	metrics    metrics.UplinkRecorder
	logger     logrus.FieldLogger
	retryAfter time.Duration
	batchSize  int

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewUplink(s *spool.Spool, sender Sender, deps UplinkDependencies) *Uplink {
	u := &Uplink{
		spool:      s,
		sender:     sender,
		ctrl:       deps.Controller,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		retryAfter: deps.RetryAfter,
		batchSize:  deps.BatchSize,
		wake:       make(chan struct{}, 1),
	}
	if u.metrics == nil {
		u.metrics = metrics.NoopUplinkRecorder{}
	}
	if u.ctrl == nil {
		u.ctrl = backfill.New(s, backfill.WithMetrics(u.metrics))
	}
	if u.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		u.logger = discard
	}
	if u.retryAfter <= 0 {
		u.retryAfter = 10 * time.Second
	}
	if u.batchSize <= 0 {
		u.batchSize = 64
	}
	return u
}

// Start launches the drain loop. It stops when ctx ends or Close is called.
func (u *Uplink) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.drain(ctx)
	}()
	u.notify()
}

func (u *Uplink) Append(ctx context.Context, rec types.MeasurementRecord) error {
	if err := u.spool.Append(rec); err != nil {
		return err
	}
	u.metrics.ObservePendingBytes(u.spool.PendingBytes())
	u.metrics.ObserveDropped(u.spool.Dropped())
	u.notify()
	return nil
}

// Flush delivers spooled records until the spool is empty or a send fails.
func (u *Uplink) Flush(ctx context.Context) error {
	for {
		batch, err := u.ctrl.Next(ctx, u.batchSize)
		if err != nil {
			return err
		}
		if len(batch.Records) == 0 {
			return nil
		}
		if err := u.sender.Send(ctx, batch.Records); err != nil {
			u.metrics.IncFailures()
			return err
		}
		if err := u.ctrl.Ack(batch); err != nil {
			return err
		}
	}
}

// Close stops the drain loop, makes one last bounded delivery attempt and
// closes the spool. Records that could not be sent stay on disk.
func (u *Uplink) Close() error {
	var err error
	u.once.Do(func() {
		if u.cancel != nil {
			u.cancel()
		}
		u.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := u.Flush(ctx); ferr != nil {
			u.logger.WithError(ferr).Warn("records left in spool for the next run")
		}
		err = u.spool.Close()
	})
	return err
}

func (u *Uplink) notify() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func (u *Uplink) drain(ctx context.Context) {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.wake:
		case <-retry:
		}
		retry = nil
		if err := u.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			u.logger.WithError(err).WithField("retry_in", u.retryAfter).Warn("uplink delivery failed")
			retry = time.After(u.retryAfter)
		}
	}
}
