package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/warmstart/cli/config"
	"github.com/justapithecus/warmstart/engine"
	"github.com/justapithecus/warmstart/iox"
	"github.com/justapithecus/warmstart/log"
	"github.com/justapithecus/warmstart/metrics"
	"github.com/justapithecus/warmstart/types"
	"github.com/justapithecus/warmstart/worker"
)

// WorkerFlags returns the flags of the worker binary.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "engine",
			Usage:   fmt.Sprintf("Computation engine (%v)", engine.Names()),
			EnvVars: []string{"WARMSTART_ENGINE"},
		},
		&cli.StringFlag{
			Name:    "worker-id",
			Usage:   "Worker identifier for diagnostics (default worker-<pid>)",
			EnvVars: []string{"WARMSTART_WORKER_ID"},
		},
		&cli.StringFlag{
			Name:  "entry-point",
			Usage: "Handler function name",
		},
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Append every emitted envelope to this msgpack journal file",
		},
		&cli.IntFlag{
			Name:  "max-line-bytes",
			Usage: "Maximum size of one incoming line",
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "How long the serving loop waits for input between stop checks",
		},
		&cli.DurationFlag{
			Name:  "nudge-interval",
			Usage: "Re-raise the checkpoint signal at this interval while waiting (0 disables)",
		},
		&cli.BoolFlag{
			Name:  "await-resume",
			Usage: "Block after activation until the resume signal arrives",
		},
		&cli.BoolFlag{
			Name:  "fatal-invocation-errors",
			Usage: "Exit on the first failed invocation instead of serving on",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "Log every request processing step as envelopes",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug diagnostics on stderr",
		},
	}
}

// WorkerApp returns the warmstart-worker application.
func WorkerApp(commit string) *cli.App {
	return &cli.App{
		Name:            "warmstart-worker",
		Usage:           "Checkpointable function worker speaking the line protocol on stdin/stdout",
		Version:         fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		HideHelpCommand: true,
		Flags:           WorkerFlags(),
		Action:          workerAction,
	}
}

// workerConfig layers defaults, the config file and flags, in that order.
func workerConfig(c *cli.Context) (worker.Config, string, error) {
	cfg := worker.DefaultConfig()
	journal := ""

	if path := c.String("config"); path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return cfg, "", err
		}
		if err := fileCfg.Worker.ApplyTo(&cfg); err != nil {
			return cfg, "", err
		}
		journal = fileCfg.Worker.Journal
	}

	if c.IsSet("engine") {
		cfg.Engine = c.String("engine")
	}
	if c.IsSet("worker-id") {
		cfg.WorkerID = c.String("worker-id")
	}
	if c.IsSet("entry-point") {
		cfg.EntryPoint = c.String("entry-point")
	}
	if c.IsSet("journal") {
		journal = c.String("journal")
	}
	if c.IsSet("max-line-bytes") {
		cfg.MaxLineBytes = c.Int("max-line-bytes")
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = c.Duration("poll-interval")
	}
	if c.IsSet("nudge-interval") {
		cfg.Handshake.NudgeInterval = c.Duration("nudge-interval")
	}
	cfg.AwaitResume = cfg.AwaitResume || c.Bool("await-resume")
	cfg.FatalInvocationErrors = cfg.FatalInvocationErrors || c.Bool("fatal-invocation-errors")
	cfg.Trace = cfg.Trace || c.Bool("trace")

	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	return cfg, journal, cfg.Validate()
}

func workerAction(c *cli.Context) error {
	cfg, journalPath, err := workerConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("warmstart-worker: %v", err), exitUsage)
	}

	meta := &types.WorkerMeta{WorkerID: cfg.WorkerID, Pid: os.Getpid(), Engine: cfg.Engine}
	logger := log.NewLogger(meta)
	if c.Bool("debug") {
		logger = log.NewLoggerWithWriter(meta, os.Stderr, zapcore.DebugLevel)
	}
	defer func() { _ = logger.Sync() }()

	opts := worker.Options{
		Logger:  logger,
		Metrics: metrics.NewCollector(cfg.WorkerID, cfg.Engine),
	}
	if journalPath != "" {
		f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("warmstart-worker: open journal: %v", err), exitUsage)
		}
		defer iox.DiscardClose(f)
		opts.Journal = f
	}

	w, err := worker.New(cfg, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("warmstart-worker: %v", err), exitUsage)
	}

	ctx, stop := terminationContext(c.Context, w)
	defer stop()

	err = w.Run(ctx)
	logger.Info("worker exiting", opts.Metrics.Snapshot().Fields())

	var fatal *worker.FatalError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &fatal):
		return cli.Exit("", exitFailure)
	default:
		return cli.Exit(fmt.Sprintf("warmstart-worker: %v", err), exitFailure)
	}
}

// terminationContext is cancelled by SIGTERM or SIGINT. A signal arriving
// while the worker waits for its checkpoint notification takes effect once
// the wait ends, so a checkpoint is never taken of a worker mid-shutdown.
func terminationContext(parent context.Context, w *worker.Worker) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for w.State() == types.StateAwaitingCheckpointSignal {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
		cancel()
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
