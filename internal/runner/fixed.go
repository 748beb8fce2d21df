package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FixedOptions configure a closed-loop run: Workers goroutines each issue
// RequestsPerWorker sequential requests.
type FixedOptions struct {
	Workers           int
	RequestsPerWorker int
	Requester         Requester
	Logger            *zap.SugaredLogger
}

func (o FixedOptions) validate() error {
	var issues []string
	if o.Workers < 1 {
		issues = append(issues, "workers must be >= 1")
	}
	if o.RequestsPerWorker < 1 {
		issues = append(issues, "requests_per_worker must be >= 1")
	}
	if len(issues) > 0 {
		return &ConfigurationError{Shape: "fixed", Issues: issues}
	}
	if o.Requester == nil {
		return errors.New("runner: requester is required")
	}
	return nil
}

// RunFixed executes a closed-loop run. Each worker's requests are tagged with a
// Tick whose Index is the worker number. Cancelling ctx stops workers between
// requests.
func RunFixed(ctx context.Context, opt FixedOptions) (Result, error) {
	if err := opt.validate(); err != nil {
		return Result{}, err
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	start := time.Now()
	var launched, joined, errs int64
	var wg sync.WaitGroup

	log.Infow("closed-loop run started",
		"workers", opt.Workers,
		"requests_per_worker", opt.RequestsPerWorker,
	)

	wg.Add(opt.Workers)
	for w := 0; w < opt.Workers; w++ {
		go func(worker int) {
			defer wg.Done()
			tick := Tick{Index: worker, Target: opt.RequestsPerWorker}
			for i := 0; i < opt.RequestsPerWorker; i++ {
				if ctx.Err() != nil {
					return
				}
				tick.Elapsed = time.Since(start)
				atomic.AddInt64(&launched, 1)
				if err := opt.Requester.Do(WithTick(ctx, tick)); err != nil {
					atomic.AddInt64(&errs, 1)
				}
				atomic.AddInt64(&joined, 1)
			}
			log.Debugw("worker finished", "worker", worker)
		}(w)
	}
	wg.Wait()

	res := Result{
		Ticks:    opt.Workers,
		Launched: atomic.LoadInt64(&launched),
		Joined:   atomic.LoadInt64(&joined),
		Errors:   atomic.LoadInt64(&errs),
		Duration: time.Since(start),
		Stopped:  ctx.Err() != nil,
	}
	log.Infow("closed-loop run finished",
		"launched", res.Launched,
		"errors", res.Errors,
		"duration", res.Duration,
	)
	return res, nil
}
