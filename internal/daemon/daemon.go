// Package daemon runs the launcher in watch mode: periodic update cycles, a
// config file watcher for live reload, and an optional metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ironpike/modloader/internal/config"
	"github.com/ironpike/modloader/internal/logfields"
	"github.com/ironpike/modloader/internal/observability"
	"github.com/ironpike/modloader/internal/update"
)

// Daemon coordinates periodic cycles for one orchestrator.
type Daemon struct {
	orchestrator *update.Orchestrator
	metrics      *observability.Metrics
	configPath   string

	scheduler gocron.Scheduler
	watcher   *configWatcher
	httpSrv   *http.Server

	mu  sync.RWMutex
	cfg *config.Config
}

// New creates a watch-mode daemon around an existing orchestrator. configPath
// is watched for live reloads; pass empty to disable watching.
func New(cfg *config.Config, orchestrator *update.Orchestrator, metrics *observability.Metrics, configPath string) (*Daemon, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Daemon{
		orchestrator: orchestrator,
		metrics:      metrics,
		configPath:   configPath,
		scheduler:    scheduler,
		cfg:          cfg,
	}, nil
}

// Run starts the periodic schedule and blocks until ctx is canceled. One cycle
// runs immediately at startup; later cycles fire on the configured interval.
func (d *Daemon) Run(ctx context.Context) error {
	interval := d.config().CheckInterval.Std()

	_, err := d.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(d.runCycle, ctx),
		gocron.WithName("update-cycle"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule update cycle: %w", err)
	}

	if d.configPath != "" {
		watcher, err := newConfigWatcher(d.configPath, d.applyConfig)
		if err != nil {
			return err
		}
		d.watcher = watcher
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}

	if addr := d.config().MetricsAddr; addr != "" && d.metrics != nil {
		if err := d.serveMetrics(addr); err != nil {
			return err
		}
	}

	slog.Info("Watch mode started", slog.Duration("interval", interval))
	d.scheduler.Start()

	<-ctx.Done()
	return d.shutdown()
}

// runCycle is the scheduled task; overlapping ticks are dropped by the
// orchestrator's single-flight guard.
func (d *Daemon) runCycle(ctx context.Context) {
	report, err := d.orchestrator.Run(ctx)
	switch {
	case errors.Is(err, update.ErrCycleActive):
		slog.Debug("Skipping tick, previous cycle still running")
	case errors.Is(err, context.Canceled):
	case err != nil:
		slog.Error("Scheduled update cycle failed", logfields.Error(err))
	default:
		slog.Info("Scheduled update cycle finished",
			slog.Int("packages", len(report.Results)), slog.Int("failures", report.Failures()))
	}
}

// applyConfig swaps in a freshly loaded configuration. Settings read per cycle
// (manifest URL, workers, timeouts, pruning) take effect on the next cycle via
// the orchestrator; interval and listener changes are reported and deferred.
func (d *Daemon) applyConfig(newCfg *config.Config) error {
	d.mu.Lock()
	old := d.cfg
	d.cfg = newCfg
	d.mu.Unlock()

	d.orchestrator.Reconfigure(newCfg)

	if newCfg.CheckInterval != old.CheckInterval {
		slog.Warn("check_interval change takes effect after restart")
	}
	if newCfg.MetricsAddr != old.MetricsAddr {
		slog.Warn("metrics_addr change takes effect after restart")
	}
	slog.Info("Configuration reloaded")
	return nil
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// serveMetrics exposes the Prometheus registry on addr.
func (d *Daemon) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on metrics address %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.httpSrv = &http.Server{Handler: mux}

	go func() {
		slog.Info("Metrics endpoint listening", slog.String("addr", ln.Addr().String()))
		if err := d.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", logfields.Error(err))
		}
	}()
	return nil
}

// shutdown stops the schedule, watcher and metrics listener. In-flight cycles
// were already canceled through the run context and roll back on their own.
func (d *Daemon) shutdown() error {
	slog.Info("Shutting down watch mode")

	var errs []error
	if err := d.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
