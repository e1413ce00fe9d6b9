package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warmstart/adapter"
	redisadapter "github.com/justapithecus/warmstart/adapter/redis"
	"github.com/justapithecus/warmstart/adapter/webhook"
	"github.com/justapithecus/warmstart/artifact"
	"github.com/justapithecus/warmstart/cli/config"
	"github.com/justapithecus/warmstart/cli/render"
	"github.com/justapithecus/warmstart/controller"
	"github.com/justapithecus/warmstart/iox"
	"github.com/justapithecus/warmstart/log"
	"github.com/justapithecus/warmstart/types"
)

// Defaults for invoke.
const (
	defaultWorkerPath   = "warmstart-worker"
	defaultTimeout      = 30 * time.Second
	defaultStopInterval = 20 * time.Millisecond
	terminateGrace      = 5 * time.Second
)

// Worker log lines the controller waits on.
const (
	logAwaiting = "awaiting checkpoint signal"
	logActive   = "activated"
	logResumed  = "resumed"
	logServing  = "serving"
	logFinished = "finished server"
)

// InvokeCommand returns the invoke command: launch a worker, load a handler,
// answer requests, and stop it.
func InvokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Run a handler in a fresh worker against one or more requests",
		ArgsUsage: " ",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "handler",
				Usage: "Handler artifact: path, file://, s3://bucket/key or redis://host:port/db?key=name",
			},
			&cli.StringSliceFlag{
				Name:    "request",
				Aliases: []string{"r"},
				Usage:   "Request value as JSON (repeatable)",
			},
			&cli.StringFlag{
				Name:  "requests-file",
				Usage: "File of newline-delimited JSON requests (- for stdin)",
			},
			&cli.StringFlag{
				Name:    "worker",
				Usage:   "Path to the worker binary",
				EnvVars: []string{"WARMSTART_WORKER"},
			},
			&cli.StringSliceFlag{
				Name:  "worker-arg",
				Usage: "Extra argument passed to the worker (repeatable)",
			},
			&cli.StringFlag{
				Name:  "engine",
				Usage: "Computation engine for the worker",
			},
			&cli.StringFlag{
				Name:  "worker-id",
				Usage: "Worker identifier",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Have the worker write a journal to this file",
			},
			&cli.BoolFlag{
				Name:  "await-resume",
				Usage: "Start the worker in await-resume mode and resume it after activation",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Start the worker with request tracing",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall deadline for the invocation",
			},
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Publish a worker_finished event: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Adapter endpoint URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis channel for the redis adapter",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress result output",
			},
		}, FormatFlag, NoColorFlag),
		Action: invokeAction,
	}
}

// rawJSON is a JSON value that renders as its text in tables.
type rawJSON json.RawMessage

// MarshalJSON implements json.Marshaler.
func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// MarshalYAML renders the decoded value.
func (r rawJSON) MarshalYAML() (any, error) {
	if len(r) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r, &v); err != nil {
		return string(r), nil
	}
	return v, nil
}

func (r rawJSON) String() string {
	return string(r)
}

// InvokeResponse is the outcome of one request.
type InvokeResponse struct {
	Index    int     `json:"index" yaml:"index"`
	Request  rawJSON `json:"request" yaml:"request"`
	Response rawJSON `json:"response,omitempty" yaml:"response,omitempty"`
	Error    string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// InvokeResult is the output of the invoke command.
type InvokeResult struct {
	WorkerID   string           `json:"worker_id" yaml:"worker_id"`
	Pid        int              `json:"pid" yaml:"pid"`
	Handler    string           `json:"handler" yaml:"handler"`
	Outcome    string           `json:"outcome" yaml:"outcome"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	ExitCode   int              `json:"exit_code" yaml:"exit_code"`
	DurationMs int64            `json:"duration_ms" yaml:"duration_ms"`
	Responses  []InvokeResponse `json:"responses" yaml:"responses"`
}

// invokeOptions is the resolved invoke configuration.
type invokeOptions struct {
	handler     string
	requests    []json.RawMessage
	workerPath  string
	workerArgs  []string
	workerID    string
	awaitResume bool
	timeout     time.Duration
	storage     config.StorageConfig
	cacheSize   int
	adapter     config.AdapterConfig
}

func invokeAction(c *cli.Context) error {
	opts, err := resolveInvokeOptions(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invoke: %v", err), exitUsage)
	}

	var r *render.Renderer
	if !c.Bool("quiet") {
		if r, err = render.NewRenderer(c); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	logger := log.NewLogger(&types.WorkerMeta{WorkerID: opts.workerID})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(c.Context, opts.timeout)
	defer cancel()

	source, err := fetchHandler(ctx, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invoke: fetch handler %s: %v", opts.handler, err), exitUsage)
	}

	result := runInvoke(ctx, opts, string(source), logger)

	if err := publishEvent(c.Context, opts.adapter, result, logger); err != nil {
		logger.Warn("failed to publish worker_finished event", map[string]any{"error": err.Error()})
	}

	if r != nil {
		var out any = result
		if r.Format() == render.FormatTable {
			out = result.Responses
		}
		if err := r.Render(out); err != nil {
			return err
		}
	}

	if result.Outcome != adapter.OutcomeFinished {
		msg := result.Error
		if msg == "" {
			msg = result.Outcome
		}
		return cli.Exit(fmt.Sprintf("invoke: worker %s: %s", result.Outcome, msg), exitFailure)
	}
	return nil
}

// resolveInvokeOptions layers the config file under the flags.
func resolveInvokeOptions(c *cli.Context) (*invokeOptions, error) {
	fileCfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		fileCfg = loaded
	}

	opts := &invokeOptions{
		handler:     firstNonEmpty(c.String("handler"), fileCfg.Controller.Handler),
		workerPath:  firstNonEmpty(c.String("worker"), fileCfg.Controller.WorkerPath, defaultWorkerPath),
		workerArgs:  append(append([]string{}, fileCfg.Controller.WorkerArgs...), c.StringSlice("worker-arg")...),
		workerID:    firstNonEmpty(c.String("worker-id"), fileCfg.Worker.ID, fmt.Sprintf("invoke-%d", os.Getpid())),
		awaitResume: c.Bool("await-resume"),
		timeout:     defaultTimeout,
		storage:     fileCfg.Storage,
		cacheSize:   fileCfg.Controller.CacheSize,
		adapter:     fileCfg.Adapter,
	}
	if opts.handler == "" {
		return nil, errors.New("--handler is required")
	}
	if d := fileCfg.Controller.Timeout.Duration; d > 0 {
		opts.timeout = d
	}
	if c.IsSet("timeout") {
		opts.timeout = c.Duration("timeout")
	}

	opts.workerArgs = append(opts.workerArgs, "--worker-id", opts.workerID)
	if engine := c.String("engine"); engine != "" {
		opts.workerArgs = append(opts.workerArgs, "--engine", engine)
	}
	if journal := c.String("journal"); journal != "" {
		opts.workerArgs = append(opts.workerArgs, "--journal", journal)
	}
	if opts.awaitResume {
		opts.workerArgs = append(opts.workerArgs, "--await-resume")
	}
	if c.Bool("trace") {
		opts.workerArgs = append(opts.workerArgs, "--trace")
	}

	if c.IsSet("adapter") {
		opts.adapter.Type = c.String("adapter")
	}
	if c.IsSet("adapter-url") {
		opts.adapter.URL = c.String("adapter-url")
	}
	if c.IsSet("adapter-channel") {
		opts.adapter.Channel = c.String("adapter-channel")
	}

	for _, raw := range c.StringSlice("request") {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("request %q is not valid JSON", raw)
		}
		opts.requests = append(opts.requests, json.RawMessage(raw))
	}
	if path := c.String("requests-file"); path != "" {
		in := c.App.Reader
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open requests file: %w", err)
			}
			defer iox.DiscardClose(f)
			in = f
		}
		reqs, err := readRequests(in)
		if err != nil {
			return nil, err
		}
		opts.requests = append(opts.requests, reqs...)
	}
	return opts, nil
}

// readRequests reads newline-delimited JSON values, skipping blank lines.
func readRequests(r io.Reader) ([]json.RawMessage, error) {
	var reqs []json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), int(artifact.DefaultMaxSize))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			return nil, fmt.Errorf("requests line %d is not valid JSON", line)
		}
		reqs = append(reqs, json.RawMessage(text))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	return reqs, nil
}

// fetchHandler resolves the handler source through the artifact sources.
func fetchHandler(ctx context.Context, opts *invokeOptions) ([]byte, error) {
	maxSize := opts.storage.MaxSize
	if maxSize <= 0 {
		maxSize = artifact.DefaultMaxSize
	}

	resolver := artifact.NewResolver(maxSize)
	switch artifact.Scheme(opts.handler) {
	case "s3":
		s3src, err := artifact.NewS3Source(ctx, artifact.S3Config{
			Region:       opts.storage.Region,
			Endpoint:     opts.storage.Endpoint,
			UsePathStyle: opts.storage.S3PathStyle,
			MaxSize:      maxSize,
		})
		if err != nil {
			return nil, err
		}
		resolver.Register("s3", s3src)
	case "redis", "rediss":
		redisSrc := artifact.NewRedisSource(maxSize)
		defer iox.DiscardClose(redisSrc)
		resolver.Register("redis", redisSrc)
		resolver.Register("rediss", redisSrc)
	}

	cache, err := artifact.NewCache(resolver, opts.cacheSize)
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, opts.handler)
}

// runInvoke launches the worker and drives it through one full lifetime.
func runInvoke(ctx context.Context, opts *invokeOptions, source string, logger *log.Logger) *InvokeResult {
	start := time.Now()
	result := &InvokeResult{
		WorkerID:  opts.workerID,
		Handler:   opts.handler,
		Outcome:   adapter.OutcomeAborted,
		Responses: []InvokeResponse{},
	}
	defer func() { result.DurationMs = time.Since(start).Milliseconds() }()

	proc, err := controller.Start(ctx, controller.ProcessConfig{
		Path:   opts.workerPath,
		Args:   opts.workerArgs,
		Stderr: os.Stderr,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer iox.DiscardClose(proc)
	result.Pid = proc.Pid()
	logger.Info("worker launched", map[string]any{"pid": result.Pid, "path": opts.workerPath})

	s := &session{proc: proc, client: proc.Client(), logger: logger, stopInterval: defaultStopInterval}
	runErr := s.run(ctx, source, opts.requests, opts.awaitResume, func(r InvokeResponse) {
		result.Responses = append(result.Responses, r)
	})

	exit := s.terminate()
	result.ExitCode = exit.ExitCode

	var werr *controller.WorkerError
	switch {
	case runErr == nil:
		result.Outcome = adapter.OutcomeFinished
	case errors.As(runErr, &werr), errors.Is(runErr, controller.ErrClosed):
		result.Outcome = adapter.OutcomeFailed
		result.Error = runErr.Error()
	default:
		result.Error = runErr.Error()
	}
	logger.Info("worker ended", map[string]any{
		"outcome":   result.Outcome,
		"exit_code": result.ExitCode,
		"responses": len(result.Responses),
	})
	return result
}

// session drives one launched worker.
type session struct {
	proc         *controller.Process
	client       *controller.Client
	logger       *log.Logger
	stopInterval time.Duration
}

func (s *session) run(ctx context.Context, source string, requests []json.RawMessage, awaitResume bool, record func(InvokeResponse)) error {
	if _, err := s.client.AwaitLog(ctx, logAwaiting); err != nil {
		return err
	}
	// The worker nudges itself; signalling as well keeps activation prompt
	// when nudging is disabled.
	if awaitResume {
		if err := s.proc.Signal(syscall.SIGUSR2); err != nil {
			return err
		}
	}
	if err := s.proc.Signal(syscall.SIGUSR1); err != nil {
		return err
	}
	if _, err := s.client.AwaitLog(ctx, logActive); err != nil {
		return err
	}
	if awaitResume {
		if _, err := s.client.AwaitLog(ctx, logResumed); err != nil {
			return err
		}
	}

	if err := s.client.SendFunction(ctx, source); err != nil {
		return fmt.Errorf("load handler: %w", err)
	}
	if _, err := s.client.AwaitLog(ctx, logServing); err != nil {
		return err
	}

	for i, req := range requests {
		resp, err := s.client.SendRequest(ctx, req)
		entry := InvokeResponse{Index: i, Request: rawJSON(req), Response: rawJSON(resp)}
		var werr *controller.WorkerError
		switch {
		case err == nil:
		case errors.As(err, &werr):
			entry.Error = werr.Msg
		default:
			return fmt.Errorf("request %d: %w", i, err)
		}
		record(entry)
	}

	return s.stop(ctx)
}

// stop signals the stop channel until the worker acknowledges. A signal that
// lands before the worker has armed its stop hook is ignored by the worker,
// hence the repeats.
func (s *session) stop(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(s.stopInterval)
		defer ticker.Stop()
		for {
			if err := s.proc.Signal(syscall.SIGUSR2); err != nil {
				return
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	_, err := s.client.AwaitLog(ctx, logFinished)
	return err
}

// terminate ends the parked worker with SIGTERM, escalating to SIGKILL.
func (s *session) terminate() *controller.ExitResult {
	_ = s.proc.Signal(syscall.SIGTERM)

	waited := make(chan *controller.ExitResult, 1)
	go func() {
		res, err := s.proc.Wait()
		if err != nil {
			res = &controller.ExitResult{ExitCode: -1}
		}
		waited <- res
	}()

	select {
	case res := <-waited:
		return res
	case <-time.After(terminateGrace):
		s.logger.Warn("worker ignored SIGTERM, killing", nil)
		_ = s.proc.Kill()
		return <-waited
	}
}

// publishEvent sends the worker_finished event when an adapter is configured.
func publishEvent(ctx context.Context, cfg config.AdapterConfig, result *InvokeResult, logger *log.Logger) error {
	a, err := buildAdapter(cfg)
	if err != nil || a == nil {
		return err
	}
	defer iox.DiscardClose(a)

	failures := 0
	for _, r := range result.Responses {
		if r.Error != "" {
			failures++
		}
	}
	event := &adapter.WorkerFinishedEvent{
		ProtocolVersion: types.ProtocolVersion,
		EventType:       adapter.EventWorkerFinished,
		WorkerID:        result.WorkerID,
		Pid:             result.Pid,
		Handler:         result.Handler,
		Outcome:         result.Outcome,
		Error:           result.Error,
		ExitCode:        result.ExitCode,
		Requests:        len(result.Responses),
		Failures:        failures,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationMs:      result.DurationMs,
	}
	if err := a.Publish(ctx, event); err != nil {
		return err
	}
	logger.Info("published worker_finished event", map[string]any{"adapter": cfg.Type})
	return nil
}

// buildAdapter returns nil when no adapter type is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Backoff: cfg.Backoff.Duration,
		})
	case "redis":
		retries := redisadapter.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Backoff: cfg.Backoff.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", cfg.Type)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
