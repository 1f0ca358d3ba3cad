package adapter

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/iotrace/iotrace/internal/archive"
	"github.com/iotrace/iotrace/internal/bpfmap"
	"github.com/iotrace/iotrace/internal/circuit"
	"github.com/iotrace/iotrace/internal/config"
	"github.com/iotrace/iotrace/internal/ledger"
	"github.com/iotrace/iotrace/internal/metrics"
	"github.com/iotrace/iotrace/internal/replay"
	"github.com/iotrace/iotrace/internal/report"
	"github.com/iotrace/iotrace/internal/tracer"
	"github.com/iotrace/iotrace/pkg/api"
	"github.com/iotrace/iotrace/pkg/health"
	"github.com/iotrace/iotrace/pkg/retry"
	"github.com/iotrace/iotrace/pkg/utils"
)

// ComponentLedger is the health component name of the correlation ledger.
const ComponentLedger = "ledger"

// Options configures an Adapter.
type Options struct {
	// ReplayPath feeds a recording into the tracer once the adapter runs.
	// Replayed events drive the tracer's clock.
	ReplayPath string

	// Out receives periodic reports. Defaults to stdout.
	Out io.Writer

	Clock  clock.Clock
	Logger *utils.StructuredLogger
}

// Adapter wires a tracer to its outer surfaces: API server, metrics,
// periodic report, snapshot archive and ledger sweeper.
type Adapter struct {
	config *config.Configuration
	opts   Options
	logger *utils.StructuredLogger

	tracer     *tracer.Tracer
	tracerClk  clock.Clock
	health     *health.Tracker
	collector  *metrics.Collector
	server     *api.Server
	reporter   *report.Reporter
	archiver   *archive.Archiver
	sink       archive.Sink
	sweeper    *ledger.Sweeper
	closeFuncs []func() error
}

// BuildTracer creates a tracer sized by cfg. When cfg asks for a kernel
// ledger, the returned function releases the maps.
func BuildTracer(cfg *config.Configuration, clk clock.Clock) (*tracer.Tracer, func() error, error) {
	opts := tracer.Options{
		LedgerMaxEntries:  cfg.Stores.LedgerMaxEntries,
		MetricsMaxEntries: cfg.Stores.MetricsMaxEntries,
		Histogram:         cfg.HistogramEngineConfig(),
		Clock:             clk,
	}

	closeFn := func() error { return nil }
	if cfg.BPF.KernelLedger {
		stores, closeStores, err := bpfmap.NewLedgerStores(cfg.Stores.LedgerMaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kernel ledger: %w", err)
		}
		opts.LedgerStores = &stores
		closeFn = closeStores
	}
	return tracer.New(opts), closeFn, nil
}

// New creates a new adapter instance
func New(ctx context.Context, cfg *config.Configuration, opts Options) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		logger, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		opts.Logger = logger
	}

	a := &Adapter{
		config: cfg,
		opts:   opts,
		logger: opts.Logger.WithComponent("adapter"),
	}

	a.tracerClk = opts.Clock
	if opts.ReplayPath != "" {
		a.tracerClk = clock.NewMock()
	}

	tr, closeTracer, err := BuildTracer(cfg, a.tracerClk)
	if err != nil {
		return nil, err
	}
	a.tracer = tr
	a.closeFuncs = append(a.closeFuncs, closeTracer)

	healthCfg := health.DefaultConfig()
	healthCfg.Clock = opts.Clock
	a.health = health.NewTracker(healthCfg)
	a.health.RegisterComponent(ComponentLedger)
	a.health.SetComponentMetadata(ComponentLedger, "max_entries", cfg.Stores.LedgerMaxEntries)

	a.sweeper = ledger.NewSweeper(tr.Ledger(), ledger.SweeperConfig{
		TTL:      cfg.Ledger.EvictionTTL,
		Interval: cfg.Ledger.SweepInterval,
	}, opts.Logger)

	if cfg.API.Enabled && cfg.API.EnableMetrics {
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Namespace: cfg.API.MetricsNamespace,
		}, tr)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.collector = collector
	}

	if cfg.API.Enabled {
		serverCfg := api.DefaultServerConfig()
		serverCfg.Address = cfg.API.Address
		serverCfg.ReadTimeout = cfg.API.ReadTimeout
		serverCfg.WriteTimeout = cfg.API.WriteTimeout
		serverCfg.EnablePprof = cfg.API.EnablePprof

		serverOpts := api.Options{HealthTracker: a.health, Logger: opts.Logger}
		if a.collector != nil {
			serverOpts.Metrics = a.collector.Handler()
		}
		a.server = api.NewServer(serverCfg, tr, serverOpts)
	}

	if cfg.Report.Enabled {
		a.reporter = report.New(report.Config{
			Interval:    cfg.Report.Interval,
			ClearScreen: cfg.Report.ClearScreen,
			Width:       cfg.Report.Width,
		}, tr, opts.Out, opts.Clock, opts.Logger)
	}

	if cfg.Archive.Enabled {
		if err := a.initArchive(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

func (a *Adapter) initArchive(ctx context.Context) error {
	cfg := a.config.Archive

	sink, err := archive.NewSink(ctx, cfg, a.opts.Logger)
	if err != nil {
		return fmt.Errorf("failed to create archive sink: %w", err)
	}
	a.sink = sink

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.BaseDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay
	retryCfg.Clock = a.opts.Clock
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.logger.Debug("Retrying snapshot archive", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err,
		})
	}

	var breaker *circuit.CircuitBreaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuit.NewCircuitBreaker("archive-"+sink.Name(), circuit.Config{
			Timeout:     cfg.CircuitBreaker.Timeout,
			ReadyToTrip: circuit.TripAfterConsecutiveFailures(uint32(cfg.CircuitBreaker.FailureThreshold)),
			OnStateChange: func(name string, from, to circuit.State) {
				a.logger.Warn("Circuit breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
			Clock: a.opts.Clock,
		})
	}

	archiveOpts := archive.Options{
		Interval: cfg.Interval,
		Prefix:   cfg.Prefix,
		Timeout:  cfg.Timeout,
		Retry:    retry.New(retryCfg),
		Breaker:  breaker,
		Health:   a.health,
		Clock:    a.opts.Clock,
		Logger:   a.opts.Logger,
	}
	if a.collector != nil {
		archiveOpts.Metrics = a.collector
	}
	a.archiver = archive.New(a.tracer, sink, archiveOpts)
	return nil
}

// Tracer returns the adapter's tracer.
func (a *Adapter) Tracer() *tracer.Tracer {
	return a.tracer
}

// Health returns the component health tracker.
func (a *Adapter) Health() *health.Tracker {
	return a.health
}

// Handler returns the API handler, or nil when the API is disabled.
func (a *Adapter) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// Run starts every enabled component and blocks until ctx is done or one of
// them fails.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("Starting iotrace", map[string]interface{}{
		"ledger_max_entries":    a.config.Stores.LedgerMaxEntries,
		"metrics_max_entries":   a.config.Stores.MetricsMaxEntries,
		"histogram_max_entries": a.config.Stores.HistogramMaxEntries,
		"kernel_ledger":         a.config.BPF.KernelLedger,
		"api":                   a.server != nil,
		"archive":               a.archiver != nil,
	})

	g, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error { return a.server.Run(ctx) })
	}
	if a.reporter != nil {
		g.Go(func() error { return a.reporter.Run(ctx) })
	}
	if a.archiver != nil {
		g.Go(func() error { return a.archiver.Run(ctx) })
	}
	if a.sweeper.Enabled() {
		g.Go(func() error { return a.sweeper.Run(ctx) })
	}
	g.Go(func() error {
		a.health.StartHealthChecks(ctx, a.checkComponent)
		return nil
	})
	if a.opts.ReplayPath != "" {
		g.Go(func() error { return a.replay(ctx) })
	}

	return g.Wait()
}

func (a *Adapter) replay(ctx context.Context) error {
	mock, _ := a.tracerClk.(*clock.Mock)
	stats, err := replay.New(a.tracer, replay.Options{
		Clock:  mock,
		Logger: a.opts.Logger,
	}).PlayFile(ctx, a.opts.ReplayPath)
	if err != nil {
		if stderr.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("replay failed: %w", err)
	}

	a.logger.Info("Replay complete", map[string]interface{}{
		"path":    a.opts.ReplayPath,
		"events":  stats.Events,
		"skipped": stats.Skipped,
	})
	return nil
}

// checkComponent is the periodic health probe for every registered component.
func (a *Adapter) checkComponent(ctx context.Context, component string) error {
	if component == ComponentLedger {
		return checkLedger(a.tracer.Ledger())
	}
	if a.sink != nil && component == a.sink.Name() {
		return a.sink.CheckHealth(ctx)
	}
	return nil
}

// checkLedger fails when any ledger store is at capacity.
func checkLedger(l *ledger.Ledger) error {
	stats := l.Stats()
	for name, n := range map[string]int{
		"pending_by_caller": stats.PendingByCaller,
		"pending_by_task":   stats.PendingByTask,
		"ready_by_caller":   stats.ReadyByCaller,
	} {
		if n >= stats.MaxEntries {
			return fmt.Errorf("ledger store %s is full (%d entries)", name, n)
		}
	}
	return nil
}

// Stop releases the archive sink and any kernel maps.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("Stopping iotrace")
	return a.close()
}

func (a *Adapter) close() error {
	var errs []error
	if a.archiver != nil {
		errs = append(errs, a.archiver.Close())
	} else if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	a.archiver, a.sink = nil, nil
	for _, fn := range a.closeFuncs {
		errs = append(errs, fn())
	}
	a.closeFuncs = nil
	return stderr.Join(errs...)
}
