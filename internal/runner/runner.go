package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyStarted is returned by Run when a Runner is reused.
var ErrAlreadyStarted = errors.New("runner: already started")

// Result captures execution summary.
type Result struct {
	Ticks    int           // ticks that launched a batch
	Launched int64         // requests started
	Joined   int64         // requests waited for; equals Launched after Run returns
	Errors   int64         // requests whose Requester returned an error
	Duration time.Duration // wall-clock run time including draining
	Skew     time.Duration // largest delay between a tick's nominal offset and its launch
	Stopped  bool          // the run ended early on an external stop
}

// Runner launches one batch of concurrent requests per tick of a compiled plan.
type Runner struct {
	opt   Options
	plan  *Plan
	state atomic.Int32
}

// batch is the set of requests launched by a single tick.
type batch struct {
	wg   sync.WaitGroup
	size int64
}

func (b *batch) join() int64 {
	b.wg.Wait()
	return b.size
}

// New validates options and compiles the shape. Shape errors are returned as
// *ConfigurationError.
func New(opt Options) (*Runner, error) {
	opt.normalize()
	if opt.Requester == nil {
		return nil, errors.New("runner: requester is required")
	}
	plan, err := CompilePlan(opt.Shape)
	if err != nil {
		return nil, err
	}
	return &Runner{opt: opt, plan: plan}, nil
}

// Plan returns the compiled tick plan.
func (r *Runner) Plan() *Plan { return r.plan }

// State reports the current lifecycle stage.
func (r *Runner) State() State { return State(r.state.Load()) }

// Run executes the plan. Cancelling ctx stops launching new ticks and cancels
// in-flight requests; every launched request is still joined before Run returns.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{}, ErrAlreadyStarted
	}

	log := r.opt.Logger
	start := time.Now()
	interval := r.plan.Interval()
	var errs int64
	var res Result
	var pending []*batch

	log.Infow("run started",
		"shape", r.plan.Shape().Kind(),
		"ticks", r.plan.Len(),
		"planned_requests", r.plan.Total(),
		"policy", r.opt.Policy,
	)

	for _, tick := range r.plan.ticks {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}

		tick.Elapsed = time.Since(start)
		if skew := tick.Elapsed - tick.Offset; skew > res.Skew {
			res.Skew = skew
		}
		b := r.launch(ctx, tick, &errs)
		res.Launched += b.size
		res.Ticks++

		log.Debugw("tick",
			"tick", tick.Index,
			"offset", tick.Offset,
			"elapsed", tick.Elapsed,
			"target", tick.Target,
		)
		if r.opt.OnTick != nil {
			r.opt.OnTick(TickReport{Tick: tick, Launched: res.Launched})
		}

		sleepErr := r.opt.Sleep(ctx, interval)
		if r.opt.Policy == PolicyJoin {
			res.Joined += b.join()
		} else {
			pending = append(pending, b)
		}
		if sleepErr != nil {
			res.Stopped = true
			break
		}
	}

	r.state.Store(int32(StateDraining))
	for _, b := range pending {
		res.Joined += b.join()
	}
	r.state.Store(int32(StateDone))

	res.Errors = atomic.LoadInt64(&errs)
	res.Duration = time.Since(start)

	log.Infow("run finished",
		"ticks", res.Ticks,
		"launched", res.Launched,
		"joined", res.Joined,
		"errors", res.Errors,
		"duration", res.Duration,
		"skew", res.Skew,
		"stopped", res.Stopped,
	)
	return res, nil
}

func (r *Runner) launch(ctx context.Context, tick Tick, errs *int64) *batch {
	b := &batch{size: int64(tick.Target)}
	if tick.Target <= 0 {
		return b
	}
	reqCtx := WithTick(ctx, tick)
	b.wg.Add(tick.Target)
	for i := 0; i < tick.Target; i++ {
		go func() {
			defer b.wg.Done()
			if err := r.opt.Requester.Do(reqCtx); err != nil {
				atomic.AddInt64(errs, 1)
			}
		}()
	}
	return b
}
