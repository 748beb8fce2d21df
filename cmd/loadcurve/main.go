package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/loadcurve/internal/config"
	"github.com/torosent/loadcurve/internal/httpclient"
	"github.com/torosent/loadcurve/internal/inference"
	"github.com/torosent/loadcurve/internal/logging"
	"github.com/torosent/loadcurve/internal/metrics"
	"github.com/torosent/loadcurve/internal/output"
	"github.com/torosent/loadcurve/internal/runner"
	"github.com/torosent/loadcurve/internal/status"
	"github.com/torosent/loadcurve/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// newLogger is replaced in tests to capture log output.
var newLogger = logging.New

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()

	var usage *config.UsageError
	switch {
	case err == nil:
	case errors.As(err, &usage):
		fmt.Fprintf(os.Stderr, "Error: %v\nUsage: %s\n", err, config.Usage)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps run errors to process status: 2 for usage errors, 1 for
// everything else. Request failures never reach here.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *config.UsageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runID := ulid.Make().String()
	log = log.With("run_id", runID)

	provider, err := tracing.Init(ctx, cfg.Tracing, runID)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	client := httpclient.NewClient(cfg.Timeout)
	exporter := metrics.NewExporter(runID)

	h := &harness{
		cfg:      cfg,
		log:      log,
		runID:    runID,
		stdout:   stdout,
		client:   client,
		tracing:  provider,
		exporter: exporter,
		lastBusy: -1,
	}
	if cfg.Mode == config.ModeWatch {
		return h.watch(ctx)
	}
	return h.load(ctx)
}

// harness holds what every mode of a single invocation shares.
type harness struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	runID    string
	stdout   io.Writer
	client   *http.Client
	tracing  *tracing.Provider
	exporter *metrics.Exporter

	lastBusy int64
}

// load runs a shaped or closed-loop load against the inference endpoint.
func (h *harness) load(ctx context.Context) error {
	cfg := h.cfg
	kind, ok := httpclient.ParseInferenceKind(cfg.InferenceType)
	if !ok {
		return fmt.Errorf("inference type %q is not supported", cfg.InferenceType)
	}
	payload, err := httpclient.LoadPayload(cfg.ImageFile, kind, cfg.TopN)
	if err != nil {
		return err
	}
	executor, err := inference.NewExecutor(h.client, cfg.InferenceURL(), payload, inference.WithTracing(h.tracing))
	if err != nil {
		return err
	}

	collectorOpts := []metrics.Option{metrics.WithExporter(h.exporter)}
	if cfg.KeepPayloads {
		collectorOpts = append(collectorOpts, metrics.KeepPayloads())
	}
	collector := metrics.NewCollector(collectorOpts...)

	var requester runner.Requester = &inferenceRequester{executor: executor, collector: collector, exporter: h.exporter}
	if cfg.LogErrors {
		requester = runner.WithLogging(requester, zapFailureLogger{log: h.log})
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.YAMLOutput {
		progress = output.NewProgressReporter(collector, progressInterval, h.stdout)
	}

	poller, err := h.newPoller(progress)
	if err != nil {
		return err
	}

	policy, _ := runner.ParsePolicy(cfg.Policy)
	var result runner.Result

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := h.exporter.Serve(serveCtx, cfg.MetricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopServe()
		if poller != nil {
			if err := poller.Start(gctx); err != nil {
				return err
			}
			defer func() {
				if err := poller.Stop(); err != nil {
					h.log.Warnw("status poller did not stop", "error", err)
				}
			}()
		}
		if progress != nil {
			progress.Start()
			defer progress.Stop()
		}

		collector.Start()
		var err error
		if cfg.Mode == config.ModeFixed {
			result, err = runner.RunFixed(gctx, runner.FixedOptions{
				Workers:           cfg.Fixed.Workers,
				RequestsPerWorker: cfg.Fixed.RequestsPerWorker,
				Requester:         requester,
				Logger:            h.log,
			})
			return err
		}

		r, err := runner.New(runner.Options{
			Shape:     buildShape(cfg),
			Policy:    policy,
			Requester: requester,
			Logger:    h.log,
			OnTick: func(rep runner.TickReport) {
				h.exporter.ObserveTick(rep.Tick.Target)
				if progress != nil {
					progress.SetTarget(rep.Tick.Target)
				}
			},
		})
		if err != nil {
			return err
		}
		result, err = r.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	report := output.Report{
		RunID:     h.runID,
		Mode:      string(cfg.Mode),
		Target:    cfg.InferenceURL(),
		StartedAt: time.Now().Add(-result.Duration).UTC(),
		Schedule:  output.Summarize(result, string(policy)),
		Stats:     collector.Stats(result.Duration),
		Payloads:  collector.Payloads(),
	}
	if cfg.Mode == config.ModeFixed {
		report.Schedule.Policy = ""
	}
	if poller != nil {
		report.Workers = h.workerSummary(poller)
	}
	return h.emit(report)
}

// watch polls the worker status endpoint until ctx is done.
func (h *harness) watch(ctx context.Context) error {
	started := time.Now()
	poller, err := h.newPoller(nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	if h.cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := h.exporter.Serve(serveCtx, h.cfg.MetricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopServe()
		h.log.Infow("watching workers", "endpoint", h.cfg.StatusURL(), "interval", h.cfg.StatusInterval)
		return poller.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return h.emit(output.Report{
		RunID:     h.runID,
		Mode:      string(h.cfg.Mode),
		Target:    h.cfg.StatusURL(),
		StartedAt: started.UTC(),
		Stats:     metrics.Stats{Duration: time.Since(started), DurationMs: float64(time.Since(started)) / float64(time.Millisecond)},
		Workers:   h.workerSummary(poller),
	})
}

// newPoller returns nil unless the mode or --watch-workers asks for one.
func (h *harness) newPoller(progress *output.ProgressReporter) (*status.Poller, error) {
	if h.cfg.Mode != config.ModeWatch && !h.cfg.WatchWorkers {
		return nil, nil
	}
	return status.NewPoller(h.client, h.cfg.StatusURL(),
		status.WithInterval(h.cfg.StatusInterval),
		status.WithLogger(h.log),
		status.WithTracing(h.tracing),
		status.OnSnapshot(func(s status.Snapshot) {
			atomic.StoreInt64(&h.lastBusy, int64(s.Busy))
			h.exporter.SetBusyWorkers(s.Busy)
			if progress != nil {
				progress.SetBusy(s.Busy)
			}
		}),
	)
}

func (h *harness) workerSummary(p *status.Poller) *output.WorkerSummary {
	return &output.WorkerSummary{
		Polls:       p.Polls(),
		Failures:    p.Failures(),
		Transitions: p.Changes(),
		LastBusy:    int(atomic.LoadInt64(&h.lastBusy)),
	}
}

func (h *harness) emit(report output.Report) error {
	format := output.FormatText
	switch {
	case h.cfg.JSONOutput:
		format = output.FormatJSON
	case h.cfg.YAMLOutput:
		format = output.FormatYAML
	}
	if err := output.Write(h.stdout, report, format); err != nil {
		return err
	}
	if h.cfg.ReportFile != "" {
		if err := output.WriteReportFile(h.cfg.ReportFile, report, output.FormatForPath(h.cfg.ReportFile, format)); err != nil {
			return err
		}
		h.log.Infow("report written", "path", h.cfg.ReportFile)
	}
	return nil
}

func buildShape(cfg *config.Config) runner.Shape {
	timing := func(t config.Timing) runner.Timing {
		return runner.Timing{Duration: t.Duration, Interval: t.Interval}
	}
	switch cfg.Mode {
	case config.ModeSine:
		return runner.Sine{Timing: timing(cfg.Sine.Timing), MaxLevel: cfg.Sine.MaxLevel, Baseline: cfg.Sine.Baseline}
	case config.ModeGaussian:
		return runner.Gaussian{
			Timing:    timing(cfg.Gaussian.Timing),
			Mean:      cfg.Gaussian.Mean,
			StdDev:    cfg.Gaussian.StdDev,
			Amplitude: cfg.Gaussian.Amplitude,
		}
	case config.ModeFlat:
		return runner.Flat{Timing: timing(cfg.Flat.Timing), Level: cfg.Flat.Level}
	}
	return nil
}
