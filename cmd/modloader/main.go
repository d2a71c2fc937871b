package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ironpike/modloader/internal/config"
	"github.com/ironpike/modloader/internal/daemon"
	"github.com/ironpike/modloader/internal/journal"
	"github.com/ironpike/modloader/internal/launch"
	"github.com/ironpike/modloader/internal/logfields"
	"github.com/ironpike/modloader/internal/observability"
	"github.com/ironpike/modloader/internal/state"
	"github.com/ironpike/modloader/internal/steam"
	"github.com/ironpike/modloader/internal/update"
	"github.com/ironpike/modloader/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Check struct{} `cmd:"" help:"Fetch the manifest and show what an apply would do"`

	Apply struct {
		Launch bool `help:"Start the game after a successful cycle"`
	} `cmd:"" help:"Run one update cycle: download, verify and install pending packages"`

	Status struct{} `cmd:"" help:"Show installed packages and recent cycle history"`

	Launch struct{} `cmd:"" help:"Start the game without checking for updates"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Watch struct{} `cmd:"" help:"Run continuously, applying updates on the configured interval"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Vars{"version": fmt.Sprintf("modloader %s (%s, built %s)",
			version.Version, version.GitCommit, version.BuildTime)})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var err error
	switch ctx.Command() {
	case "check":
		err = runCheck()
	case "apply":
		err = runApply(CLI.Apply.Launch)
	case "status":
		err = runStatus()
	case "launch":
		err = runLaunch()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "watch":
		err = runWatch()
	}
	if err != nil {
		slog.Error("Command failed", logfields.Error(err))
		os.Exit(1)
	}
}

// locateGame resolves the game installation, honoring a configured path
// override before falling back to Steam library discovery.
func locateGame(cfg *config.Config) (*steam.Installation, error) {
	locator := steam.NewLocator()
	if cfg.GamePath != "" {
		return locator.Validate(cfg.GamePath)
	}
	return locator.Locate(cfg.AppID)
}

// buildOrchestrator wires the full pipeline for one-shot commands.
func buildOrchestrator(cfg *config.Config, metrics *observability.Metrics) (*update.Orchestrator, *journal.Journal, error) {
	inst, err := locateGame(cfg)
	if err != nil {
		return nil, nil, err
	}
	modsDir := inst.ModsDir(cfg.ModsSubdir)
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create mods directory: %w", err)
	}

	jnl, err := journal.Open(filepath.Join(cfg.DataDir, "journal.db"))
	if err != nil {
		// The journal is bookkeeping only; run without it.
		slog.Warn("Journal unavailable, continuing without history", logfields.Error(err))
		jnl = nil
	}

	opts := []update.Option{}
	if jnl != nil {
		opts = append(opts, update.WithJournal(jnl))
	}
	if metrics != nil {
		opts = append(opts, update.WithMetrics(metrics))
	}

	o, err := update.New(cfg, modsDir, opts...)
	if err != nil {
		if jnl != nil {
			_ = jnl.Close()
		}
		return nil, nil, err
	}
	return o, jnl, nil
}

func runCheck() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	o, jnl, err := buildOrchestrator(cfg, nil)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plan, err := o.Check(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, pe := range plan {
		if pe.Action == update.ActionSkip {
			continue
		}
		pending++
		fmt.Printf("%-8s %-24s %s (%s)\n", pe.Action, pe.Entry.ID, pe.Entry.Version, pe.Reason)
	}
	if pending == 0 {
		fmt.Println("Everything up to date.")
	}
	return nil
}

func runApply(launchAfter bool) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	o, jnl, err := buildOrchestrator(cfg, metrics)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := o.Run(ctx)
	if err != nil {
		return err
	}

	for _, res := range report.Results {
		if res.Outcome == update.OutcomeSkipped {
			continue
		}
		line := fmt.Sprintf("%-10s %s", res.Outcome, res.ID)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Println(line)
	}
	fmt.Printf("%d packages processed, %d failed\n", len(report.Results), report.Failures())

	// Per-package failures are reported above but do not fail the command;
	// only a cycle-level failure (manifest, locate) exits non-zero.
	if launchAfter {
		return runLaunch()
	}
	return nil
}

func runStatus() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	st := store.Load()

	if st.LastCheckedAt.IsZero() {
		fmt.Println("Never checked for updates.")
	} else {
		fmt.Printf("Last checked: %s\n", st.LastCheckedAt.Format("2006-01-02 15:04:05"))
	}
	if len(st.Records) == 0 {
		fmt.Println("No packages installed.")
	} else {
		fmt.Printf("Installed packages (%d):\n", len(st.Records))
		for _, rec := range st.Records {
			fmt.Printf("  %-24s %s\n", rec.ID, rec.Version)
		}
	}

	jnl, err := journal.Open(filepath.Join(cfg.DataDir, "journal.db"))
	if err != nil {
		return nil
	}
	defer jnl.Close()

	events, err := jnl.Recent(context.Background(), 10)
	if err != nil || len(events) == 0 {
		return nil
	}
	fmt.Println("Recent events:")
	for _, e := range events {
		fmt.Printf("  %s %-16s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, string(e.Payload))
	}
	return nil
}

func runLaunch() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	inst, err := locateGame(cfg)
	if err != nil {
		return err
	}
	return launch.Start(context.Background(), inst)
}

func runWatch() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	o, jnl, err := buildOrchestrator(cfg, metrics)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	d, err := daemon.New(cfg, o, metrics, CLI.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func closeJournal(jnl *journal.Journal) {
	if jnl == nil {
		return
	}
	if err := jnl.Close(); err != nil {
		slog.Warn("Failed to close journal", logfields.Error(err))
	}
}
