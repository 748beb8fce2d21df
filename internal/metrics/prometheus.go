package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/loadcurve/internal/inference"
)

// Exporter publishes live run metrics in the Prometheus exposition format.
type Exporter struct {
	registry    *prometheus.Registry
	overhead    prometheus.Histogram
	wallClock   prometheus.Histogram
	failures    *prometheus.CounterVec
	launched    prometheus.Counter
	target      prometheus.Gauge
	busyWorkers prometheus.Gauge
}

// NewExporter registers the loadcurve metrics on a private registry. Every
// series carries the run_id label.
func NewExporter(runID string) *Exporter {
	labels := prometheus.Labels{"run_id": runID}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		overhead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "loadcurve_overhead_milliseconds",
			Help:        "Client and network overhead: wall clock minus server reported time",
			ConstLabels: labels,
			Buckets:     []float64{-50, -10, 0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		wallClock: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "loadcurve_wall_clock_seconds",
			Help:        "Round trip time until response headers",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loadcurve_failures_total",
			Help:        "Failed inference requests by failure kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		launched: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "loadcurve_launched_total",
			Help:        "Inference requests launched by the scheduler",
			ConstLabels: labels,
		}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loadcurve_target_concurrency",
			Help:        "Target concurrency of the most recent tick",
			ConstLabels: labels,
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loadcurve_busy_workers",
			Help:        "Server workers reporting the Working status",
			ConstLabels: labels,
		}),
	}
	e.registry.MustRegister(e.overhead, e.wallClock, e.failures, e.launched, e.target, e.busyWorkers)
	return e
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// ObserveOutcome records a successful measurement.
func (e *Exporter) ObserveOutcome(o inference.Outcome) {
	e.overhead.Observe(o.OverheadMs)
	e.wallClock.Observe(o.WallClock.Seconds())
}

// ObserveFailure counts a failed request.
func (e *Exporter) ObserveFailure(kind inference.FailureKind) {
	e.failures.WithLabelValues(string(kind)).Inc()
}

// ObserveTick records the target of the most recent tick.
func (e *Exporter) ObserveTick(target int) {
	e.target.Set(float64(target))
}

// ObserveLaunch counts one started request.
func (e *Exporter) ObserveLaunch() {
	e.launched.Inc()
}

// SetBusyWorkers records the latest status snapshot.
func (e *Exporter) SetBusyWorkers(n int) {
	e.busyWorkers.Set(float64(n))
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
