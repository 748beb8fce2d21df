package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Requester abstracts executing a single request operation.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context) error
}

// SyncPolicy selects when a tick's batch is joined.
type SyncPolicy string

const (
	// PolicyJoin launches a batch, sleeps the interval, then waits for the
	// batch before the next tick. The run clock keeps running while joining.
	PolicyJoin SyncPolicy = "join"
	// PolicyDetached launches a batch, sleeps the interval and moves on.
	// Every batch is joined once when the run drains.
	PolicyDetached SyncPolicy = "detached"
)

// TickReport is passed to Options.OnTick after a tick's batch has been launched.
type TickReport struct {
	Tick     Tick
	Launched int64 // cumulative launches including this tick
}

// Options configure the Runner.
type Options struct {
	Shape     Shape              // load curve (required)
	Policy    SyncPolicy         // defaults to PolicyJoin
	Requester Requester          // request executor (required)
	Logger    *zap.SugaredLogger // defaults to a no-op logger
	OnTick    func(TickReport)   // optional observer

	// Sleep waits between ticks; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) normalize() {
	switch o.Policy {
	case PolicyJoin, PolicyDetached:
	default:
		o.Policy = PolicyJoin
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// ParsePolicy maps a configuration string to a SyncPolicy.
func ParsePolicy(s string) (SyncPolicy, bool) {
	switch SyncPolicy(s) {
	case "", PolicyJoin:
		return PolicyJoin, true
	case PolicyDetached:
		return PolicyDetached, true
	default:
		return "", false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
