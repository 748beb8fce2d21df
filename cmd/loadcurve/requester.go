package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/torosent/loadcurve/internal/inference"
	"github.com/torosent/loadcurve/internal/metrics"
	"github.com/torosent/loadcurve/internal/runner"
)

// inferenceRequester executes one inference request per Do and records the
// outcome or failure. Every call counts as a launch on the exporter, so
// shaped and closed-loop runs report launches the same way.
type inferenceRequester struct {
	executor  *inference.Executor
	collector *metrics.Collector
	exporter  *metrics.Exporter
}

func (r *inferenceRequester) Do(ctx context.Context) error {
	if r.exporter != nil {
		r.exporter.ObserveLaunch()
	}
	out, err := r.executor.Execute(ctx)
	if err != nil {
		r.collector.RecordFailure(err)
		return err
	}
	r.collector.RecordOutcome(out)
	return nil
}

// zapFailureLogger logs failed requests with the tick that launched them.
type zapFailureLogger struct {
	log *zap.SugaredLogger
}

func (l zapFailureLogger) LogFailure(tick runner.Tick, err error) {
	if err == nil {
		return
	}
	kind := inference.KindOf(err)
	fields := []interface{}{
		"tick", tick.Index,
		"elapsed", tick.Elapsed,
		"target", tick.Target,
		"kind", kind,
		"error", err,
	}
	var statusErr *inference.StatusError
	if errors.As(err, &statusErr) {
		fields = append(fields, "status", statusErr.StatusCode)
	}
	if kind == inference.KindCancelled {
		l.log.Debugw("request cancelled", fields...)
		return
	}
	l.log.Warnw("request failed", fields...)
}
