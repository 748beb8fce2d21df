package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/loadcurve/internal/httpclient"
	"github.com/torosent/loadcurve/internal/runner"
	"github.com/torosent/loadcurve/internal/tracing"
)

// DefaultMaxBodyBytes bounds how much of a response is read. Image-to-image
// responses carry a full encoded image.
const DefaultMaxBodyBytes = 64 << 20

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Outcome is the measured result of one successful inference request.
type Outcome struct {
	WallClock  time.Duration   // send until response headers
	ServerTime time.Duration   // processing time reported by the server
	OverheadMs float64         // WallClock - ServerTime in milliseconds, may be negative
	Result     json.RawMessage // first envelope element, passed through untouched
	StatusCode int
}

// Executor issues inference requests against a single endpoint.
type Executor struct {
	client    Doer
	endpoint  string
	payload   httpclient.BodySource
	now       func() time.Time
	maxBody   int64
	tracer    trace.Tracer
	propagate bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces time.Now for wall clock measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxBodyBytes bounds the response size; larger bodies are malformed.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBody = n
		}
	}
}

// WithTracing starts a client span per request and, when propagate is set,
// injects W3C trace headers.
func WithTracing(p *tracing.Provider) Option {
	return func(e *Executor) {
		e.tracer = p.Tracer()
		e.propagate = p.ShouldPropagate()
	}
}

// NewExecutor validates the endpoint and returns an Executor.
func NewExecutor(client Doer, endpoint string, payload httpclient.BodySource, opts ...Option) (*Executor, error) {
	if client == nil {
		return nil, errors.New("inference: http client is required")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("inference: endpoint is required")
	}
	if payload == nil {
		return nil, errors.New("inference: payload is required")
	}
	e := &Executor{
		client:   client,
		endpoint: endpoint,
		payload:  payload,
		now:      time.Now,
		maxBody:  DefaultMaxBodyBytes,
		tracer:   noop.NewTracerProvider().Tracer("loadcurve"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Endpoint returns the inference URL.
func (e *Executor) Endpoint() string { return e.endpoint }

// Execute performs one request. Failures are returned as *TransportError,
// *StatusError or *MalformedResponseError.
func (e *Executor) Execute(ctx context.Context) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartRequestSpan(ctx, e.tracer, "inference", e.endpoint)
	if tick, ok := runner.TickFromContext(ctx); ok {
		span.SetAttributes(
			attribute.Int("loadcurve.tick", tick.Index),
			attribute.Int("loadcurve.target", tick.Target),
		)
	}

	out, err := e.execute(ctx)
	attrs := []attribute.KeyValue{}
	if out.StatusCode != 0 {
		attrs = append(attrs, attribute.String("http.status_code", strconv.Itoa(out.StatusCode)))
	}
	if err == nil {
		attrs = append(attrs, attribute.Float64("loadcurve.overhead_ms", out.OverheadMs))
	}
	tracing.EndSpan(span, err, attrs...)
	return out, err
}

func (e *Executor) execute(ctx context.Context) (Outcome, error) {
	body, err := e.payload.NewReader()
	if err != nil {
		return Outcome{}, &TransportError{Op: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return Outcome{}, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if n, ok := e.payload.ContentLength(); ok {
		req.ContentLength = n
	}
	req.GetBody = e.payload.NewReader
	if e.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := e.now()
	resp, err := e.client.Do(req)
	wall := e.now().Sub(start)
	if err != nil {
		return Outcome{WallClock: wall}, &TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	out := Outcome{WallClock: wall, StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return out, &TransportError{Op: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(snippet(data)),
		}
	}
	if int64(len(data)) > e.maxBody {
		return out, malformed(fmt.Sprintf("body exceeds %d bytes", e.maxBody), data)
	}

	result, serverTime, err := parseEnvelope(bytes.TrimSpace(data))
	if err != nil {
		return out, err
	}
	out.Result = result
	out.ServerTime = serverTime
	out.OverheadMs = float64(wall-serverTime) / float64(time.Millisecond)
	return out, nil
}
