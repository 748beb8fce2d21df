package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/loadcurve/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time

	target atomic.Int64
	busy   atomic.Int64
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	p := &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
	p.busy.Store(-1)
	return p
}

// SetTarget records the concurrency of the latest tick.
func (p *ProgressReporter) SetTarget(n int) { p.target.Store(int64(n)) }

// SetBusy records the latest busy worker count.
func (p *ProgressReporter) SetBusy(n int) { p.busy.Store(int64(n)) }

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line(time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	stats := p.collector.Stats(elapsed)
	line := fmt.Sprintf("\rTarget: %d | Requests: %d | Failures: %d | RPS: %.1f",
		p.target.Load(), stats.Total, stats.Failures, stats.RequestsPerSec)
	if stats.Outcomes > 0 {
		line += fmt.Sprintf(" | Overhead: %.1fms", stats.MeanOverheadMs)
	}
	if busy := p.busy.Load(); busy >= 0 {
		line += fmt.Sprintf(" | Busy: %d", busy)
	}
	return line
}
