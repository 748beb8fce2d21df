package status

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/loadcurve/internal/inference"
	"github.com/torosent/loadcurve/internal/tracing"
)

const (
	// DefaultInterval matches the server's status refresh granularity.
	DefaultInterval = 50 * time.Millisecond
	// DefaultStopTimeout bounds how long Stop waits for the poll loop.
	DefaultStopTimeout = 2 * time.Second

	maxStatusBody = 1 << 20
)

var (
	ErrAlreadyStarted = errors.New("status: poller already started")
	ErrStopTimeout    = errors.New("status: poller did not stop in time")
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Poller repeatedly samples the worker status endpoint and reports changes in
// the number of busy workers.
type Poller struct {
	client      Doer
	endpoint    string
	interval    time.Duration
	stopTimeout time.Duration
	log         *zap.SugaredLogger
	onChange    func(Transition)
	onSnapshot  func(Snapshot)
	tracer      trace.Tracer
	now         func() time.Time

	polls    atomic.Int64
	failures atomic.Int64
	changes  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithStopTimeout bounds the join performed by Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithLogger sets the logger used for transitions and failed polls.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// OnChange registers a callback invoked on every busy count transition.
func OnChange(fn func(Transition)) Option {
	return func(p *Poller) { p.onChange = fn }
}

// OnSnapshot registers a callback invoked for every successful poll.
func OnSnapshot(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onSnapshot = fn }
}

// WithTracing starts a client span per poll.
func WithTracing(pr *tracing.Provider) Option {
	return func(p *Poller) { p.tracer = pr.Tracer() }
}

// NewPoller returns a Poller for endpoint.
func NewPoller(client Doer, endpoint string, opts ...Option) (*Poller, error) {
	if client == nil {
		return nil, errors.New("status: http client is required")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("status: endpoint is required")
	}
	p := &Poller{
		client:      client,
		endpoint:    endpoint,
		interval:    DefaultInterval,
		stopTimeout: DefaultStopTimeout,
		log:         zap.NewNop().Sugar(),
		tracer:      noop.NewTracerProvider().Tracer("loadcurve"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Fetch performs a single poll.
func (p *Poller) Fetch(ctx context.Context) (Snapshot, error) {
	ctx, span := tracing.StartRequestSpan(ctx, p.tracer, "status", p.endpoint)
	snap, err := p.fetch(ctx)
	tracing.EndSpan(span, err, attribute.Int("loadcurve.busy_workers", snap.Busy))
	return snap, err
}

func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Snapshot{}, &inference.TransportError{Op: "build request", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, &inference.TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return Snapshot{}, &inference.TransportError{Op: "read body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Snapshot{}, &inference.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(clip(body))}
	}
	return parseSnapshot(body, p.now())
}

// Poll returns a lazy, unbounded sequence of successful snapshots, one per
// interval. Failed polls are logged and skipped. The channel is closed once
// ctx is done.
func (p *Poller) Poll(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)

	go func() {
		defer close(out)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			p.polls.Add(1)
			snap, err := p.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.failures.Add(1)
				p.log.Warnw("status poll failed",
					"endpoint", p.endpoint,
					"kind", inference.KindOf(err),
					"error", err,
				)
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Run polls until ctx is done, reporting busy count transitions.
func (p *Poller) Run(ctx context.Context) error {
	var detector ChangeDetector
	for snap := range p.Poll(ctx) {
		if p.onSnapshot != nil {
			p.onSnapshot(snap)
		}
		from, changed := detector.Observe(snap.Busy)
		if !changed {
			continue
		}
		p.changes.Add(1)
		p.log.Infow("busy workers changed",
			"from", from,
			"busy", snap.Busy,
			"total", snap.Total,
		)
		if p.onChange != nil {
			p.onChange(Transition{From: from, To: snap.Busy, Snapshot: snap})
		}
	}
	return nil
}

// Start runs the poller on its own goroutine until Stop or parent is done.
func (p *Poller) Start(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = p.Run(ctx)
	}(p.done)
	return nil
}

// Stop cancels a started poller and waits up to the stop timeout for it to
// exit. Stop on a poller that was never started is a no-op.
func (p *Poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(p.stopTimeout):
		return ErrStopTimeout
	}
}

// Polls is the number of poll attempts.
func (p *Poller) Polls() int64 { return p.polls.Load() }

// Failures is the number of failed polls.
func (p *Poller) Failures() int64 { return p.failures.Load() }

// Changes is the number of transitions reported.
func (p *Poller) Changes() int64 { return p.changes.Load() }
