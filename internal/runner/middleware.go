package runner

import (
	"context"
)

type tickContextKey struct{}

// WithTick attaches the tick that launched a request to ctx.
func WithTick(ctx context.Context, tick Tick) context.Context {
	return context.WithValue(ctx, tickContextKey{}, tick)
}

// TickFromContext returns the tick a request was launched for.
func TickFromContext(ctx context.Context) (Tick, bool) {
	if ctx == nil {
		return Tick{}, false
	}
	tick, ok := ctx.Value(tickContextKey{}).(Tick)
	return tick, ok
}

// FailureLogger logs failed requests together with the tick that launched them.
type FailureLogger interface {
	LogFailure(tick Tick, err error)
}

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner  Requester
	logger FailureLogger
}

// WithLogging wraps a Requester to log failures.
func WithLogging(req Requester, logger FailureLogger) Requester {
	if logger == nil {
		return req
	}
	return &loggingRequester{
		inner:  req,
		logger: logger,
	}
}

func (l *loggingRequester) Do(ctx context.Context) error {
	err := l.inner.Do(ctx)
	if err != nil && l.logger != nil {
		tick, _ := TickFromContext(ctx)
		l.logger.LogFailure(tick, err)
	}
	return err
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context) error

func (f RequesterFunc) Do(ctx context.Context) error { return f(ctx) }
