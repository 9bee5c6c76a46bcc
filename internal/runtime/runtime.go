// Package runtime assembles a measurement run from a validated configuration:
// adapters, invoker, coordinator, scheduler, sinks and the status server.
package runtime

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TakashiAihara/wlan-scanner/internal/backfill"
	"github.com/TakashiAihara/wlan-scanner/internal/config"
	"github.com/TakashiAihara/wlan-scanner/internal/cycle"
	"github.com/TakashiAihara/wlan-scanner/internal/events"
	"github.com/TakashiAihara/wlan-scanner/internal/health"
	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
	"github.com/TakashiAihara/wlan-scanner/internal/preflight"
	"github.com/TakashiAihara/wlan-scanner/internal/probe"
	"github.com/TakashiAihara/wlan-scanner/internal/probe/latency"
	"github.com/TakashiAihara/wlan-scanner/internal/probe/radio"
	"github.com/TakashiAihara/wlan-scanner/internal/probe/throughput"
	"github.com/TakashiAihara/wlan-scanner/internal/probe/transfer"
	"github.com/TakashiAihara/wlan-scanner/internal/scheduler"
	"github.com/TakashiAihara/wlan-scanner/internal/sink"
	"github.com/TakashiAihara/wlan-scanner/internal/sink/spool"
	"github.com/TakashiAihara/wlan-scanner/internal/status"
	"github.com/TakashiAihara/wlan-scanner/internal/uplink"
)

// Dependencies lets tests replace the parts that touch the system.
type Dependencies struct {
	Logger    logrus.FieldLogger
	Now       func() time.Time
	Run       probe.CommandRunner
	Links     func() ([]radio.Link, error)
	Latency   latency.Dependencies
	Transfer  transfer.Dependencies
	Sink      sink.Sink
	Recorders []events.Recorder
	// SchedulerOptions are appended after the defaults.
	SchedulerOptions []scheduler.Option
}

// EnabledProbes derives the probe set from configuration, then narrows it to
// run.tests when that list is non-empty.
func EnabledProbes(cfg config.Config) probe.Set {
	set := probe.NewSet()
	if cfg.Radio.Enabled {
		set[probe.KindRadio] = struct{}{}
	}
	if len(cfg.Latency.Targets) > 0 {
		set[probe.KindLatency] = struct{}{}
	}
	if strings.TrimSpace(cfg.Throughput.Server) != "" {
		if cfg.Throughput.TCP {
			set[probe.KindStream] = struct{}{}
		}
		if cfg.Throughput.UDP {
			set[probe.KindDatagram] = struct{}{}
		}
	}
	if strings.TrimSpace(cfg.FileTransfer.Server) != "" {
		set[probe.KindTransfer] = struct{}{}
	}

	if len(cfg.Run.Tests) == 0 {
		return set
	}
	selection := probe.NewSet()
	for _, name := range cfg.Run.Tests {
		if k, err := probe.ParseKind(name); err == nil {
			selection[k] = struct{}{}
		}
	}
	return set.Intersect(selection)
}

// Adapters builds one adapter per enabled probe, in run order.
func Adapters(cfg config.Config, enabled probe.Set, deps Dependencies) ([]probe.Adapter, error) {
	var out []probe.Adapter
	for _, kind := range enabled.Kinds() {
		switch kind {
		case probe.KindRadio:
			out = append(out, newRadio(cfg, deps))
		case probe.KindLatency:
			out = append(out, latency.New(latency.Config{
				Targets:     cfg.Latency.Targets,
				Count:       cfg.Latency.Count,
				Size:        cfg.Latency.Size,
				Interval:    cfg.Latency.Interval,
				EchoTimeout: cfg.Run.Timeout,
			}, deps.Latency))
		case probe.KindStream:
			out = append(out, throughput.New(throughput.ModeStream, throughputConfig(cfg), deps.Run))
		case probe.KindDatagram:
			out = append(out, throughput.New(throughput.ModeDatagram, throughputConfig(cfg), deps.Run))
		case probe.KindTransfer:
			size, err := cfg.TransferSizeBytes()
			if err != nil {
				return nil, fmt.Errorf("file transfer size: %w", err)
			}
			ft := cfg.FileTransfer
			out = append(out, transfer.New(transfer.Config{
				Server:             ft.Server,
				Protocol:           ft.Protocol,
				Direction:          ft.Direction,
				Size:               size,
				RemotePath:         ft.RemotePath,
				Share:              ft.Share,
				Username:           ft.Username,
				Password:           ft.Password,
				SampleInterval:     ft.SampleInterval,
				InsecureSkipVerify: ft.InsecureSkipVerify,
			}, deps.Transfer))
		}
	}
	return out, nil
}

func newRadio(cfg config.Config, deps Dependencies) *radio.Adapter {
	return radio.New(radio.Config{Interface: cfg.Radio.Interface}, radio.Dependencies{Run: deps.Run, Links: deps.Links})
}

func throughputConfig(cfg config.Config) throughput.Config {
	return throughput.Config{
		Binary:    cfg.Throughput.Binary,
		Server:    cfg.Throughput.Server,
		Port:      cfg.Throughput.Port,
		Duration:  cfg.Throughput.Duration,
		Parallel:  cfg.Throughput.Parallel,
		Bandwidth: cfg.Throughput.UDPBandwidth,
	}
}

// Checks lists the prerequisites of the enabled probes.
func Checks(cfg config.Config, enabled probe.Set, deps Dependencies) []preflight.Check {
	var checks []preflight.Check
	if enabled.Has(probe.KindRadio) {
		checks = append(checks, preflight.Interface(newRadio(cfg, deps).ResolveInterface))
	}
	if enabled.Has(probe.KindLatency) {
		primary := cfg.Latency.Targets[0]
		checks = append(checks, preflight.Reachable(primary, latency.New(latency.Config{
			Targets:     []string{primary},
			Count:       2,
			Size:        cfg.Latency.Size,
			Interval:    200 * time.Millisecond,
			EchoTimeout: 5 * time.Second,
		}, deps.Latency)))
	}
	if enabled.Has(probe.KindStream) || enabled.Has(probe.KindDatagram) {
		checks = append(checks,
			preflight.Binary(cfg.Throughput.Binary, nil),
			preflight.Port("iperf3 server", fmt.Sprintf("%s:%d", cfg.Throughput.Server, cfg.Throughput.Port), nil),
		)
	}
	if enabled.Has(probe.KindTransfer) {
		checks = append(checks, preflight.Port("file server",
			preflight.ServiceAddr(cfg.FileTransfer.Server, cfg.FileTransfer.Protocol), nil))
	}
	return checks
}

// Summary is printed when a run ends.
type Summary struct {
	RunID       string
	Iterations  int
	Elapsed     time.Duration
	LastWritten string
	Cancelled   bool
}

type Runtime struct {
	cfg       config.Config
	logger    logrus.FieldLogger
	now       func() time.Time
	enabled   probe.Set
	metrics   *metrics.Store
	checker   *health.Checker
	hub       *status.Hub
	invoker   *probe.Invoker
	coord     *cycle.Coordinator
	sched     *scheduler.Scheduler
	sinks     *sink.Multi
	uplink    *sink.Uplink
	status    *status.Server
	startedAt time.Time
}

// New wires a run. The caller owns the returned Runtime and must Close it.
func New(ctx context.Context, cfg config.Config, deps Dependencies) (*Runtime, error) {
	if deps.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		deps.Logger = discard
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	enabled := EnabledProbes(cfg)
	adapters, err := Adapters(cfg, enabled, deps)
	if err != nil {
		return nil, err
	}

	invoker, err := probe.NewInvoker(probe.WithWorkers(cfg.Run.Workers), probe.WithNow(deps.Now))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:     cfg,
		logger:  deps.Logger,
		now:     deps.Now,
		enabled: enabled,
		metrics: metrics.NewStore(),
		hub:     status.NewHub(),
		invoker: invoker,
	}
	spoolMax, _ := config.ParseSize(cfg.Output.Uplink.SpoolMaxBytes, 256<<20)
	if cfg.Output.Uplink.URL == "" {
		spoolMax = 0
	}
	rt.checker = health.NewChecker(rt.metrics, health.Options{StaleAfter: staleAfter(cfg), SpoolMaxBytes: spoolMax})

	if err := rt.openSinks(ctx, deps, spoolMax); err != nil {
		invoker.Close()
		return nil, err
	}

	recorders := append([]events.Recorder{
		events.LogRecorder{Logger: deps.Logger},
		rt.metrics,
		rt.checker,
		rt.hub,
	}, deps.Recorders...)
	recorder := events.NewMulti(recorders...)

	coordOpts := []cycle.Option{
		cycle.WithRecorder(recorder),
		cycle.WithNow(deps.Now),
		cycle.WithTimeout(probe.KindRadio, cfg.Radio.Timeout),
		cycle.WithTimeout(probe.KindLatency, cfg.Latency.Timeout),
		cycle.WithTimeout(probe.KindStream, cfg.Throughput.Timeout),
		cycle.WithTimeout(probe.KindDatagram, cfg.Throughput.Timeout),
		cycle.WithTimeout(probe.KindTransfer, cfg.FileTransfer.Timeout),
		cycle.WithAttempts(probe.KindRadio, cfg.Radio.Attempts),
		cycle.WithAttempts(probe.KindLatency, cfg.Latency.Attempts),
		cycle.WithAttempts(probe.KindStream, cfg.Throughput.Attempts),
		cycle.WithAttempts(probe.KindDatagram, cfg.Throughput.Attempts),
		cycle.WithAttempts(probe.KindTransfer, cfg.FileTransfer.Attempts),
	}
	rt.coord = cycle.New(adapters, invoker, cycle.Metadata{
		Device:   cfg.Context.Device,
		Location: cfg.Context.Location,
		Route:    cfg.Context.Route,
	}, coordOpts...)

	schedOpts := append([]scheduler.Option{
		scheduler.WithNow(deps.Now),
		scheduler.WithRecorder(recorder),
	}, deps.SchedulerOptions...)
	rt.sched = scheduler.New(scheduler.Config{
		Interval:        cfg.Run.Interval,
		MaxMeasurements: cfg.Run.MaxMeasurements,
		Continuous:      cfg.Run.Continuous,
	}, rt.coord, rt.sinks, schedOpts...)

	if cfg.Status.Enabled {
		rt.status = status.New(cfg.Status.Addr, status.Dependencies{
			Metrics: rt.metrics,
			Checker: rt.checker,
			Hub:     rt.hub,
			State:   rt.View,
			Now:     deps.Now,
			Logger:  deps.Logger,
		})
	}
	return rt, nil
}

func staleAfter(cfg config.Config) time.Duration {
	if cfg.Status.StaleAfter > 0 {
		return cfg.Status.StaleAfter
	}
	return 3*cfg.Run.Interval + 5*time.Minute
}

func (r *Runtime) openSinks(ctx context.Context, deps Dependencies, spoolMax int64) error {
	r.sinks = sink.NewMulti()
	if deps.Sink != nil {
		r.sinks.Add("custom", deps.Sink)
		return nil
	}
	fail := func(err error) error {
		if cerr := r.sinks.Close(); cerr != nil {
			r.logger.WithError(cerr).Warn("close sinks after open failure")
		}
		return err
	}

	out := r.cfg.Output
	csvSink, err := sink.OpenCSV(r.cfg.OutputPath())
	if err != nil {
		return fail(err)
	}
	r.sinks.Add("csv", csvSink)

	if out.SQLitePath != "" {
		db, err := sink.OpenSQLite(ctx, out.SQLitePath)
		if err != nil {
			return fail(err)
		}
		r.sinks.Add("sqlite", db)
	}
	if out.PostgresURL != "" {
		pg, err := sink.OpenPostgres(ctx, out.PostgresURL)
		if err != nil {
			return fail(err)
		}
		r.sinks.Add("postgres", pg)
	}
	if out.Uplink.URL != "" {
		dir := out.Uplink.SpoolDir
		if dir == "" {
			dir = filepath.Join(out.Directory, "spool")
		}
		sp, err := spool.Open(dir, spool.Options{MaxBytes: spoolMax})
		if err != nil {
			return fail(err)
		}
		client, err := uplink.NewClient(uplink.Config{ServerURL: out.Uplink.URL, Device: r.cfg.Context.Device},
			uplink.Dependencies{Now: deps.Now, Logger: r.logger})
		if err != nil {
			sp.Close()
			return fail(err)
		}
		rec := r.metrics.UplinkRecorder()
		ctrl := backfill.New(sp,
			backfill.WithRate(out.Uplink.RatePerSecond, out.Uplink.BatchSize),
			backfill.WithMaxBatch(out.Uplink.BatchSize),
			backfill.WithMetrics(rec))
		r.uplink = sink.NewUplink(sp, client, sink.UplinkDependencies{
			Controller: ctrl,
			Metrics:    rec,
			Logger:     r.logger,
			BatchSize:  out.Uplink.BatchSize,
		})
		r.sinks.Add("uplink", r.uplink)
	}
	return nil
}

// Enabled reports the probes this run executes.
func (r *Runtime) Enabled() probe.Set { return r.enabled }

func (r *Runtime) RunID() string { return r.coord.RunID() }

func (r *Runtime) Metrics() *metrics.Store { return r.metrics }

// Preflight checks the prerequisites of the enabled probes.
func (r *Runtime) Preflight(ctx context.Context, deps Dependencies) preflight.Report {
	return preflight.Run(ctx, Checks(r.cfg, r.enabled, deps), 0)
}

// Run executes the scheduler to completion. The status server and the uplink
// drain live exactly as long as the scheduler.
func (r *Runtime) Run(ctx context.Context) error {
	r.startedAt = r.now()
	r.logger.WithFields(logrus.Fields{
		"run_id": r.coord.RunID(),
		"probes": kindNames(r.enabled.Kinds()),
		"limit":  r.sched.Limit(),
	}).Info("measurement run starting")

	// An interrupt lets the last cycle finish, so the status server and the
	// uplink drain stop with the scheduler rather than with ctx.
	auxCtx, cancelAux := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelAux()

	g, gctx := errgroup.WithContext(auxCtx)
	if r.uplink != nil {
		r.uplink.Start(gctx)
	}
	if r.status != nil {
		g.Go(func() error {
			if err := r.status.Serve(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	runErr := r.sched.Run(ctx)
	cancelAux()
	if err := g.Wait(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// Stop asks the scheduler to finish after the current cycle.
func (r *Runtime) Stop() {
	r.sched.Stop()
}

func (r *Runtime) Summary() Summary {
	state := r.sched.RunState()
	elapsed := time.Duration(0)
	if !r.startedAt.IsZero() {
		elapsed = r.now().Sub(r.startedAt)
	}
	return Summary{
		RunID:       r.coord.RunID(),
		Iterations:  state.Iterations,
		Elapsed:     elapsed,
		LastWritten: state.LastWritten,
		Cancelled:   state.Cancelled,
	}
}

// View is the run state served on /api/v1/state.
func (r *Runtime) View() status.RunView {
	state := r.sched.RunState()
	phase, kind := r.coord.Phase()
	return status.RunView{
		RunID:       r.coord.RunID(),
		State:       r.sched.State().String(),
		Phase:       phase.String(),
		Probe:       string(kind),
		Iterations:  state.Iterations,
		Limit:       r.sched.Limit(),
		LastWritten: state.LastWritten,
		StartedAt:   state.StartedAt,
		LastCycleAt: state.LastCycleAt,
		Cancelled:   state.Cancelled,
	}
}

// Close releases sinks and the probe pool.
func (r *Runtime) Close() error {
	err := r.sinks.Close()
	r.invoker.Close()
	return err
}

func kindNames(kinds []probe.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}
