// Package runner provides the load curve scheduler for loadcurve.
//
// The runner package turns a load shape into a sequence of ticks and launches
// one batch of concurrent requests per tick:
//   - Shapes: flat, sine (one half-period) and gaussian
//   - Fixed-interval ticks sampled over [0, duration)
//   - Explicit batch synchronization policies (join, detached)
//   - Closed-loop runs with a fixed number of sequential workers
//
// # Basic Usage
//
// Build a shape, then a runner with a requester implementation:
//
//	shape := runner.Sine{
//		Timing:   runner.Timing{Duration: 10 * time.Second, Interval: 750 * time.Millisecond},
//		MaxLevel: 8,
//	}
//	r, err := runner.New(runner.Options{
//		Shape:     shape,
//		Policy:    runner.PolicyJoin,
//		Requester: myRequester,
//	})
//	if err != nil {
//		return err // *runner.ConfigurationError for invalid shapes
//	}
//	result, err := r.Run(ctx)
//
// # Requester Interface
//
// The [Requester] interface defines what a runner executes:
//
//	type Requester interface {
//		Do(ctx context.Context) error
//	}
//
// The tick that launched a request is available through [TickFromContext].
//
// # Synchronization
//
// With [PolicyJoin] each batch is waited for after the interval sleep, so a
// slow batch delays the next tick while the run clock keeps moving. With
// [PolicyDetached] batches overlap freely and are joined once while the run
// drains. In both cases Result.Joined equals Result.Launched.
//
// # Middleware
//
// [WithLogging] reports failed requests together with their tick.
package runner
