package metrics_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/torosent/loadcurve/internal/inference"
	"github.com/torosent/loadcurve/internal/metrics"
)

func outcome(wall, server time.Duration) inference.Outcome {
	return inference.Outcome{
		WallClock:  wall,
		ServerTime: server,
		OverheadMs: float64(wall-server) / float64(time.Millisecond),
		Result:     json.RawMessage(`{"ok":true}`),
	}
}

func TestCollectorOverheadStats(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordOutcome(outcome(110*time.Millisecond, 100*time.Millisecond))
	c.RecordOutcome(outcome(130*time.Millisecond, 100*time.Millisecond))
	c.RecordOutcome(outcome(150*time.Millisecond, 100*time.Millisecond))

	if c.Count() != 3 {
		t.Fatalf("expected count 3, got %d", c.Count())
	}
	mean, ok := c.Mean()
	if !ok || mean != 30 {
		t.Fatalf("expected mean 30ms, got %v (ok=%v)", mean, ok)
	}
	want := []float64{10, 30, 50}
	got := c.Overheads()
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	stats := c.Stats(time.Second)
	if stats.MinOverheadMs != 10 || stats.MaxOverheadMs != 50 {
		t.Errorf("unexpected min/max %v/%v", stats.MinOverheadMs, stats.MaxOverheadMs)
	}
	if stats.Total != 3 || stats.Outcomes != 3 || stats.Failures != 0 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.RequestsPerSec != 3 {
		t.Errorf("expected 3 rps, got %v", stats.RequestsPerSec)
	}
}

func TestCollectorMeanEmpty(t *testing.T) {
	c := metrics.NewCollector()
	if _, ok := c.Mean(); ok {
		t.Fatalf("expected no mean for empty collector")
	}
	stats := c.Stats(0)
	if stats.Total != 0 || stats.WallP50 != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestCollectorKeepsNegativeOverhead(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(outcome(90*time.Millisecond, 100*time.Millisecond))
	c.RecordOutcome(outcome(120*time.Millisecond, 100*time.Millisecond))

	if c.Count() != 2 {
		t.Fatalf("negative overhead sample was dropped")
	}
	stats := c.Stats(0)
	if stats.NegativeOverheads != 1 {
		t.Fatalf("expected 1 anomaly, got %d", stats.NegativeOverheads)
	}
	if stats.MinOverheadMs != -10 {
		t.Fatalf("expected min -10ms, got %v", stats.MinOverheadMs)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms of wall clock.
	for i := 1; i <= 100; i++ {
		c.RecordOutcome(outcome(time.Duration(i)*time.Millisecond, 0))
	}

	stats := c.Stats(0)
	if stats.WallP50 < 49*time.Millisecond || stats.WallP50 > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.WallP50)
	}
	if stats.WallP90 < 89*time.Millisecond || stats.WallP90 > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.WallP90)
	}
	if stats.WallP99 < 98*time.Millisecond || stats.WallP99 > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.WallP99)
	}
}

func TestCollectorFailureBreakdown(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordFailure(&inference.TransportError{Op: "send", Err: errors.New("refused")})
	c.RecordFailure(&inference.StatusError{StatusCode: 500})
	c.RecordFailure(&inference.StatusError{StatusCode: 500})
	c.RecordFailure(fmt.Errorf("wrapped: %w", &inference.MalformedResponseError{Reason: "x"}))
	c.RecordFailure(nil)

	stats := c.Stats(0)
	if stats.Failures != 4 {
		t.Fatalf("expected 4 failures, got %d", stats.Failures)
	}
	want := map[string]int64{"transport": 1, "http_status": 2, "malformed_response": 1}
	for kind, n := range want {
		if stats.FailuresByKind[kind] != n {
			t.Errorf("kind %s: expected %d, got %d", kind, n, stats.FailuresByKind[kind])
		}
	}
	if len(stats.StatusCodes) != 1 || stats.StatusCodes[0].Code != "500" || stats.StatusCodes[0].Count != 2 {
		t.Errorf("unexpected status codes %+v", stats.StatusCodes)
	}
}

func TestCollectorPayloadRetention(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(outcome(time.Millisecond, 0))
	if len(c.Payloads()) != 0 {
		t.Fatalf("payloads retained without KeepPayloads")
	}

	kept := metrics.NewCollector(metrics.KeepPayloads())
	kept.RecordOutcome(outcome(time.Millisecond, 0))
	payloads := kept.Payloads()
	if len(payloads) != 1 || string(payloads[0]) != `{"ok":true}` {
		t.Fatalf("unexpected payloads %v", payloads)
	}
}

func TestJSONReportSchema(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(outcome(15*time.Millisecond, 5*time.Millisecond))
	c.RecordFailure(&inference.StatusError{StatusCode: 500})

	data, err := json.Marshal(c.Stats(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	requiredFields := []string{
		"total", "outcomes", "failures", "negative_overheads",
		"min_overhead_ms", "max_overhead_ms", "mean_overhead_ms",
		"wall_p50_ms", "wall_p99_ms", "server_p50_ms", "server_p99_ms",
		"duration_ms", "requests_per_sec", "failures_by_kind", "status_codes",
	}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	workers := 10
	recordsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerWorker; j++ {
				c.RecordOutcome(outcome(2*time.Millisecond, time.Millisecond))
				c.RecordFailure(&inference.StatusError{StatusCode: 503})
			}
		}()
	}
	wg.Wait()

	expected := workers * recordsPerWorker
	if c.Count() != expected {
		t.Errorf("expected %d outcomes, got %d", expected, c.Count())
	}
	if c.Failures() != int64(expected) {
		t.Errorf("expected %d failures, got %d", expected, c.Failures())
	}
	if len(c.Overheads()) != expected {
		t.Errorf("lost overhead samples: %d", len(c.Overheads()))
	}
}
