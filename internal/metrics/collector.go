package metrics

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/loadcurve/internal/inference"
)

// Collector accumulates request outcomes and failures. It is safe for
// concurrent use by every request goroutine of a run.
type Collector struct {
	mu           sync.Mutex
	overheads    []float64
	wallHist     *hdrhistogram.Histogram
	serverHist   *hdrhistogram.Histogram
	sumOverhead  float64
	minOverhead  float64
	maxOverhead  float64
	negative     int64
	failures     int64
	byKind       map[string]int64
	byStatus     map[int]int64
	keepPayloads bool
	payloads     []json.RawMessage
	exporter     *Exporter
	start        time.Time
}

// Stats is the aggregated view of a run.
type Stats struct {
	Total             int64 `json:"total" yaml:"total"`
	Outcomes          int64 `json:"outcomes" yaml:"outcomes"`
	Failures          int64 `json:"failures" yaml:"failures"`
	NegativeOverheads int64 `json:"negative_overheads" yaml:"negative_overheads"`

	MinOverheadMs  float64 `json:"min_overhead_ms" yaml:"min_overhead_ms"`
	MaxOverheadMs  float64 `json:"max_overhead_ms" yaml:"max_overhead_ms"`
	MeanOverheadMs float64 `json:"mean_overhead_ms" yaml:"mean_overhead_ms"`

	WallP50    time.Duration `json:"-" yaml:"-"`
	WallP90    time.Duration `json:"-" yaml:"-"`
	WallP99    time.Duration `json:"-" yaml:"-"`
	ServerP50  time.Duration `json:"-" yaml:"-"`
	ServerP90  time.Duration `json:"-" yaml:"-"`
	ServerP99  time.Duration `json:"-" yaml:"-"`
	Duration   time.Duration `json:"-" yaml:"-"`
	WallMean   time.Duration `json:"-" yaml:"-"`
	ServerMean time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	WallP50Ms      float64 `json:"wall_p50_ms" yaml:"wall_p50_ms"`
	WallP90Ms      float64 `json:"wall_p90_ms" yaml:"wall_p90_ms"`
	WallP99Ms      float64 `json:"wall_p99_ms" yaml:"wall_p99_ms"`
	WallMeanMs     float64 `json:"wall_mean_ms" yaml:"wall_mean_ms"`
	ServerP50Ms    float64 `json:"server_p50_ms" yaml:"server_p50_ms"`
	ServerP90Ms    float64 `json:"server_p90_ms" yaml:"server_p90_ms"`
	ServerP99Ms    float64 `json:"server_p99_ms" yaml:"server_p99_ms"`
	ServerMeanMs   float64 `json:"server_mean_ms" yaml:"server_mean_ms"`
	DurationMs     float64 `json:"duration_ms" yaml:"duration_ms"`
	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`

	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`
	StatusCodes    []StatusBucket   `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
}

// Option configures a Collector.
type Option func(*Collector)

// KeepPayloads retains the inference result of every outcome.
func KeepPayloads() Option {
	return func(c *Collector) { c.keepPayloads = true }
}

// WithExporter mirrors every recorded outcome and failure to e.
func WithExporter(e *Exporter) Option {
	return func(c *Collector) { c.exporter = e }
}

func NewCollector(opts ...Option) *Collector {
	// Track durations from 1µs up to 120s with 3 significant figures.
	c := &Collector{
		wallHist:   hdrhistogram.New(1, 120_000_000, 3),
		serverHist: hdrhistogram.New(1, 120_000_000, 3),
		byKind:     make(map[string]int64),
		byStatus:   make(map[int]int64),
		start:      time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start resets the clock used by Elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed is the time since NewCollector or the last Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordOutcome appends one successful measurement. Negative overheads are
// kept and counted as anomalies.
func (c *Collector) RecordOutcome(o inference.Outcome) {
	c.mu.Lock()
	if len(c.overheads) == 0 || o.OverheadMs < c.minOverhead {
		c.minOverhead = o.OverheadMs
	}
	if len(c.overheads) == 0 || o.OverheadMs > c.maxOverhead {
		c.maxOverhead = o.OverheadMs
	}
	c.overheads = append(c.overheads, o.OverheadMs)
	c.sumOverhead += o.OverheadMs
	if o.OverheadMs < 0 {
		c.negative++
	}
	recordDuration(c.wallHist, o.WallClock)
	recordDuration(c.serverHist, o.ServerTime)
	if c.keepPayloads {
		c.payloads = append(c.payloads, o.Result)
	}
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.ObserveOutcome(o)
	}
}

// RecordFailure counts a failed request by its failure kind.
func (c *Collector) RecordFailure(err error) {
	if err == nil {
		return
	}
	kind := inference.KindOf(err)
	var statusErr *inference.StatusError

	c.mu.Lock()
	c.failures++
	c.byKind[string(kind)]++
	if errors.As(err, &statusErr) {
		c.byStatus[statusErr.StatusCode]++
	}
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.ObserveFailure(kind)
	}
}

// Count is the number of recorded outcomes.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overheads)
}

// Mean is the mean overhead in milliseconds. ok is false when nothing has
// been recorded.
func (c *Collector) Mean() (mean float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.overheads) == 0 {
		return 0, false
	}
	return c.sumOverhead / float64(len(c.overheads)), true
}

// Overheads returns a copy of the overhead samples in arrival order.
func (c *Collector) Overheads() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.overheads...)
}

// Payloads returns the retained inference results, if KeepPayloads is set.
func (c *Collector) Payloads() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.payloads...)
}

// Failures returns the failure count.
func (c *Collector) Failures() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Stats computes aggregated statistics over everything recorded so far.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(c.overheads))
	stats := Stats{
		Total:             n + c.failures,
		Outcomes:          n,
		Failures:          c.failures,
		NegativeOverheads: c.negative,
		MinOverheadMs:     c.minOverhead,
		MaxOverheadMs:     c.maxOverhead,
		Duration:          elapsed,
	}
	if n > 0 {
		stats.MeanOverheadMs = c.sumOverhead / float64(n)
		stats.WallP50 = quantile(c.wallHist, 50)
		stats.WallP90 = quantile(c.wallHist, 90)
		stats.WallP99 = quantile(c.wallHist, 99)
		stats.WallMean = time.Duration(c.wallHist.Mean()) * time.Microsecond
		stats.ServerP50 = quantile(c.serverHist, 50)
		stats.ServerP90 = quantile(c.serverHist, 90)
		stats.ServerP99 = quantile(c.serverHist, 99)
		stats.ServerMean = time.Duration(c.serverHist.Mean()) * time.Microsecond
	}

	stats.WallP50Ms = millis(stats.WallP50)
	stats.WallP90Ms = millis(stats.WallP90)
	stats.WallP99Ms = millis(stats.WallP99)
	stats.WallMeanMs = millis(stats.WallMean)
	stats.ServerP50Ms = millis(stats.ServerP50)
	stats.ServerP90Ms = millis(stats.ServerP90)
	stats.ServerP99Ms = millis(stats.ServerP99)
	stats.ServerMeanMs = millis(stats.ServerMean)
	stats.DurationMs = millis(elapsed)
	if elapsed > 0 && stats.Total > 0 {
		stats.RequestsPerSec = float64(stats.Total) / elapsed.Seconds()
	}

	if len(c.byKind) > 0 {
		stats.FailuresByKind = make(map[string]int64, len(c.byKind))
		for k, v := range c.byKind {
			stats.FailuresByKind[k] = v
		}
	}
	stats.StatusCodes = FlattenStatusBuckets(c.byStatus)
	return stats
}

func recordDuration(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	if h.TotalCount() == 0 {
		return 0
	}
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
