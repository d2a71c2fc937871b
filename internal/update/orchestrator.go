// Package update drives check/plan/apply cycles: fetch the remote manifest,
// diff it against local state, and reconcile the game directory package by
// package.
package update

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironpike/modloader/internal/archive"
	"github.com/ironpike/modloader/internal/config"
	"github.com/ironpike/modloader/internal/download"
	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/integrity"
	"github.com/ironpike/modloader/internal/journal"
	"github.com/ironpike/modloader/internal/logfields"
	"github.com/ironpike/modloader/internal/manifest"
	"github.com/ironpike/modloader/internal/observability"
	"github.com/ironpike/modloader/internal/retry"
	"github.com/ironpike/modloader/internal/state"
)

// ErrCycleActive is returned by Run when another cycle is already in flight.
var ErrCycleActive = errors.New("an update cycle is already running")

// Phase is the orchestrator's externally visible lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhasePlanning Phase = "planning"
	PhaseApplying Phase = "applying"
	PhaseFailed   Phase = "failed"
)

// Outcome is the terminal result of one package within a cycle.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRemoved   Outcome = "removed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDegraded means the package installed but recording it in local
	// state failed; the next cycle will re-plan it.
	OutcomeDegraded Outcome = "degraded"
)

// PackageResult reports one package's fate.
type PackageResult struct {
	ID       string
	Action   Action
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []PackageResult
}

// Failures counts packages that ended in OutcomeFailed.
func (r *CycleReport) Failures() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// Orchestrator owns one launcher's update pipeline. A single Orchestrator
// serves both one-shot and periodic runs; concurrent cycles are rejected.
type Orchestrator struct {
	modsDir string

	client      *http.Client
	store       *state.Store
	installer   *archive.Installer
	journal     *journal.Journal
	metrics     *observability.Metrics
	downloadDir string

	mu         sync.Mutex
	cfg        *config.Config
	fetcher    *manifest.Fetcher
	downloader *download.Downloader
	active     bool
	phase      Phase
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithHTTPClient overrides the HTTP client used for manifest and package
// transfers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) {
		o.client = client
		o.fetcher = manifest.NewFetcher(client)
		o.downloader = download.NewDownloader(client, retry.FromConfig(o.cfg.Download))
	}
}

// WithJournal attaches an event journal. Journal write failures are logged,
// never fatal.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics attaches cycle metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an orchestrator installing into modsDir, with scratch space and
// durable state under cfg.DataDir. Stale transaction directories from an
// interrupted earlier run are swept immediately.
func New(cfg *config.Config, modsDir string, opts ...Option) (*Orchestrator, error) {
	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	downloadDir := filepath.Join(cfg.DataDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, lerrors.FilesystemIO(downloadDir, err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		modsDir:     modsDir,
		fetcher:     manifest.NewFetcher(nil),
		store:       store,
		downloader:  download.NewDownloader(nil, retry.FromConfig(cfg.Download)),
		installer:   archive.NewInstaller(filepath.Join(cfg.DataDir, "tx")),
		downloadDir: downloadDir,
		phase:       PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.installer.SweepStale()
	return o, nil
}

// Store exposes the durable state store, for status reporting.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Reconfigure swaps the active configuration. The manifest fetcher is rebuilt
// so its ETag cache cannot serve entries from the previous URL, and the
// downloader picks up the new retry policy. A cycle already in flight keeps
// the settings it started with; the next cycle sees the new ones.
func (o *Orchestrator) Reconfigure(cfg *config.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.fetcher = manifest.NewFetcher(o.client)
	o.downloader = download.NewDownloader(o.client, retry.FromConfig(cfg.Download))
}

// config returns the active configuration snapshot.
func (o *Orchestrator) config() *config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// transport returns the fetcher and downloader consistent with the
// configuration active at call time.
func (o *Orchestrator) transport() (*manifest.Fetcher, *download.Downloader) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fetcher, o.downloader
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// Check fetches the manifest and returns the plan without applying anything.
func (o *Orchestrator) Check(ctx context.Context) ([]PlanEntry, error) {
	entries, err := o.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	return BuildPlan(entries, o.store.Load(), o.config().PruneMissing), nil
}

// Run executes one full check/plan/apply cycle. Per-package failures are
// reported in the CycleReport and do not abort the cycle; only cycle-level
// failures (manifest fetch, cancellation, a concurrent cycle) return an error.
func (o *Orchestrator) Run(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return nil, ErrCycleActive
	}
	o.active = true
	o.phase = PhaseChecking
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = false
		if o.phase != PhaseFailed {
			o.phase = PhaseIdle
		}
		o.mu.Unlock()
	}()

	report := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
	}
	ctx = observability.WithCycleID(ctx, report.CycleID)

	if o.metrics != nil {
		o.metrics.CyclesTotal.Inc()
	}
	o.appendJournal(ctx, report.CycleID, journal.EventCycleStarted, nil)
	observability.InfoContext(ctx, "Update cycle started")

	entries, err := o.fetchManifest(ctx)
	if err != nil {
		return nil, o.failCycle(ctx, report, err)
	}
	if err := o.store.Touch(time.Now()); err != nil {
		observability.WarnContext(ctx, "Failed to persist last-checked time", logfields.Error(err))
	}

	o.setPhase(PhasePlanning)
	plan := BuildPlan(entries, o.store.Load(), o.config().PruneMissing)
	observability.InfoContext(ctx, "Plan built",
		slog.Int("packages", len(plan)), slog.Int("actionable", countActionable(plan)))

	o.setPhase(PhaseApplying)
	report.Results = o.apply(ctx, plan)
	report.FinishedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return report, o.failCycle(ctx, report, err)
	}

	o.appendJournal(ctx, report.CycleID, journal.EventCycleFinished, map[string]any{
		"packages": len(report.Results),
		"failures": report.Failures(),
	})
	observability.InfoContext(ctx, "Update cycle finished",
		slog.Int("packages", len(report.Results)), slog.Int("failures", report.Failures()),
		logfields.DurationMS(float64(report.FinishedAt.Sub(report.StartedAt).Milliseconds())))
	return report, nil
}

// failCycle records a cycle-level failure and returns err unchanged.
func (o *Orchestrator) failCycle(ctx context.Context, report *CycleReport, err error) error {
	o.setPhase(PhaseFailed)
	if o.metrics != nil {
		o.metrics.CycleFailures.Inc()
	}
	o.appendJournal(ctx, report.CycleID, journal.EventCycleFinished, map[string]any{
		"error": err.Error(),
	})
	observability.ErrorContext(ctx, "Update cycle failed", logfields.Error(err))
	return err
}

// fetchManifest retrieves and validates the remote catalog under the manifest
// timeout.
func (o *Orchestrator) fetchManifest(ctx context.Context) ([]manifest.Entry, error) {
	ctx = observability.WithPhase(ctx, string(PhaseChecking))
	cfg := o.config()
	fetcher, _ := o.transport()
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.ManifestTimeout.Std())
	defer cancel()

	return fetcher.Fetch(fetchCtx, cfg.ManifestURL)
}

// apply reconciles every plan entry with a bounded worker pool. Removals run
// after the pool drains; they touch only state and are cheap.
func (o *Orchestrator) apply(ctx context.Context, plan []PlanEntry) []PackageResult {
	results := make([]PackageResult, 0, len(plan))
	var resultsMu sync.Mutex

	workers := o.config().Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan PlanEntry)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for pe := range jobs {
				res := o.applyOne(ctx, pe, worker)
				resultsMu.Lock()
				results = append(results, res)
				resultsMu.Unlock()
			}
		}(w)
	}

	var removals []PlanEntry
	for _, pe := range plan {
		switch pe.Action {
		case ActionSkip:
			resultsMu.Lock()
			results = append(results, PackageResult{ID: pe.Entry.ID, Action: pe.Action, Outcome: OutcomeSkipped})
			resultsMu.Unlock()
		case ActionRemove:
			removals = append(removals, pe)
		default:
			jobs <- pe
		}
	}
	close(jobs)
	wg.Wait()

	for _, pe := range removals {
		if ctx.Err() != nil {
			break
		}
		results = append(results, o.removeOne(ctx, pe))
	}
	return results
}

// applyOne runs download, verify, install and record for a single package.
func (o *Orchestrator) applyOne(ctx context.Context, pe PlanEntry, worker int) PackageResult {
	start := time.Now()
	ctx = observability.WithModID(ctx, pe.Entry.ID)

	if o.metrics != nil {
		o.metrics.InflightWorkers.Inc()
		defer o.metrics.InflightWorkers.Dec()
	}

	res := PackageResult{ID: pe.Entry.ID, Action: pe.Action}
	res.Outcome, res.Err = o.installPackage(ctx, pe.Entry, worker)
	res.Duration = time.Since(start)
	if res.Outcome == OutcomeInstalled && pe.Action == ActionUpdate {
		res.Outcome = OutcomeUpdated
	}

	o.finishPackage(ctx, res)
	return res
}

// installPackage returns OutcomeInstalled on full success (callers map it to
// OutcomeUpdated for update actions), OutcomeDegraded when only the state
// record failed, and OutcomeFailed otherwise.
func (o *Orchestrator) installPackage(ctx context.Context, e manifest.Entry, worker int) (Outcome, error) {
	archivePath := filepath.Join(o.downloadDir, e.ID+".zip")

	if err := o.fetchVerified(ctx, e, archivePath, worker); err != nil {
		return OutcomeFailed, err
	}

	installCtx := observability.WithPhase(ctx, "installing")
	if err := o.installer.Install(installCtx, archivePath, o.modsDir); err != nil {
		// The archive already passed verification; keep it so the next
		// cycle can reuse it instead of downloading again.
		return OutcomeFailed, err
	}
	os.Remove(archivePath)

	if err := o.recordWithRetry(e); err != nil {
		observability.WarnContext(ctx, "Package installed but state record failed",
			logfields.Error(err))
		return OutcomeDegraded, err
	}
	return OutcomeInstalled, nil
}

// fetchVerified downloads the archive and checks its digest, allowing one
// re-download when the first body fails verification. An archive left behind
// by an earlier cycle is reused when its digest already matches.
func (o *Orchestrator) fetchVerified(ctx context.Context, e manifest.Entry, archivePath string, worker int) error {
	ctx = observability.WithPhase(ctx, "downloading")

	if sum, err := integrity.DigestFile(archivePath); err == nil && strings.EqualFold(sum, e.SHA256) {
		observability.InfoContext(ctx, "Reusing verified archive from a previous cycle",
			logfields.Path(archivePath))
		return nil
	}

	cfg := o.config()
	_, downloader := o.transport()
	progress := o.progressFunc()
	for redownload := 0; ; redownload++ {
		dlCtx, cancel := context.WithTimeout(ctx, cfg.Download.Timeout.Std())
		err := downloader.Download(dlCtx, e.DownloadURL, archivePath, e.SizeBytes, progress)
		cancel()
		if err != nil {
			return err
		}

		err = integrity.VerifyFile(archivePath, e.SHA256)
		if err == nil {
			return nil
		}
		if !lerrors.IsCategory(err, lerrors.CategoryIntegrity) || redownload >= 1 {
			return err
		}
		observability.WarnContext(ctx, "Digest mismatch, re-downloading once",
			logfields.Worker(worker), logfields.Error(err))
	}
}

// progressFunc feeds the download-bytes counter. The downloader restarts the
// byte count on each retry attempt, so track the high-water mark per transfer.
func (o *Orchestrator) progressFunc() download.Progress {
	if o.metrics == nil {
		return nil
	}
	var last int64
	return func(received, total int64) {
		if received < last {
			last = 0
		}
		o.metrics.DownloadBytes.Add(float64(received - last))
		last = received
	}
}

// recordWithRetry persists the installed record, retrying once on failure.
func (o *Orchestrator) recordWithRetry(e manifest.Entry) error {
	err := o.store.Record(e.ID, e.Version, e.SHA256)
	if err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return o.store.Record(e.ID, e.Version, e.SHA256)
}

// removeOne drops a package's state record and, when the package owns a
// directory named after its ID, removes the files too. Archives that spread
// files across shared directories only lose their record; the files stay.
func (o *Orchestrator) removeOne(ctx context.Context, pe PlanEntry) PackageResult {
	start := time.Now()
	ctx = observability.WithModID(ctx, pe.Entry.ID)

	res := PackageResult{ID: pe.Entry.ID, Action: ActionRemove, Outcome: OutcomeRemoved}
	if err := o.store.Remove(pe.Entry.ID); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
	} else if dir := filepath.Join(o.modsDir, pe.Entry.ID); isDir(dir) {
		if err := os.RemoveAll(dir); err != nil {
			observability.WarnContext(ctx, "Failed to remove package directory",
				logfields.Path(dir), logfields.Error(err))
		}
	}
	res.Duration = time.Since(start)

	o.finishPackage(ctx, res)
	return res
}

// finishPackage emits the per-package log line, metrics and journal event.
func (o *Orchestrator) finishPackage(ctx context.Context, res PackageResult) {
	if o.metrics != nil {
		o.metrics.PackagesTotal.WithLabelValues(string(res.Outcome)).Inc()
		o.metrics.PackageDuration.Observe(res.Duration.Seconds())
	}

	payload := map[string]any{
		"mod_id":  res.ID,
		"action":  string(res.Action),
		"outcome": string(res.Outcome),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	o.appendJournal(ctx, observability.GetContext(ctx).CycleID, journal.EventPackageOutcome, payload)

	switch res.Outcome {
	case OutcomeFailed:
		observability.ErrorContext(ctx, "Package apply failed",
			logfields.Outcome(string(res.Outcome)), logfields.Error(res.Err))
	default:
		observability.InfoContext(ctx, "Package applied",
			logfields.Outcome(string(res.Outcome)), logfields.DurationMS(float64(res.Duration.Milliseconds())))
	}
}

func (o *Orchestrator) appendJournal(ctx context.Context, cycleID, eventType string, payload any) {
	if o.journal == nil {
		return
	}
	// Use a detached context so a canceled cycle still journals its end.
	if err := o.journal.Append(context.WithoutCancel(ctx), cycleID, eventType, payload); err != nil {
		slog.Warn("Journal write failed", logfields.Error(err))
	}
}

func countActionable(plan []PlanEntry) int {
	n := 0
	for _, pe := range plan {
		if pe.Action != ActionSkip {
			n++
		}
	}
	return n
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
