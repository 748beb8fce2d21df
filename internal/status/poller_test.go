package status_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/loadcurve/internal/status"
	"github.com/torosent/loadcurve/internal/tracing"
)

// statusBody renders a status map with busy Working workers out of total.
func statusBody(busy, total int) string {
	parts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		label := status.LabelIdle
		if i < busy {
			label = status.LabelWorking
		}
		parts = append(parts, fmt.Sprintf(`"Handle(%d)":"%s"`, i, label))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// sequenceServer serves the busy counts in order, then repeats the last one.
func sequenceServer(t *testing.T, counts []int, fail map[int]bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	var mu sync.Mutex
	idx := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mu.Lock()
		i := idx
		idx++
		mu.Unlock()
		if fail[i] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if i >= len(counts) {
			i = len(counts) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statusBody(counts[i], 4)))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChangeDetector(t *testing.T) {
	var d status.ChangeDetector
	var transitions [][2]int
	for _, busy := range []int{2, 2, 3, 3, 1} {
		if from, changed := d.Observe(busy); changed {
			transitions = append(transitions, [2]int{from, busy})
		}
	}
	want := [][2]int{{2, 3}, {3, 1}}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
	if last, ok := d.Last(); !ok || last != 1 {
		t.Fatalf("expected last busy 1, got %d", last)
	}
}

func TestPollerLogsOnlyTransitions(t *testing.T) {
	srv, hits := sequenceServer(t, []int{2, 2, 3, 3, 1}, nil)

	core, logs := observer.New(zapcore.InfoLevel)
	var mu sync.Mutex
	var got []status.Transition
	p, err := status.NewPoller(srv.Client(), srv.URL+"/workers/_status",
		status.WithInterval(time.Millisecond),
		status.WithLogger(zap.New(core).Sugar()),
		status.OnChange(func(tr status.Transition) {
			mu.Lock()
			got = append(got, tr)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return hits.Load() >= 8 })
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if n := logs.FilterMessage("busy workers changed").Len(); n != 2 {
		t.Fatalf("expected 2 log lines, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].From != 2 || got[0].To != 3 || got[1].From != 3 || got[1].To != 1 {
		t.Fatalf("unexpected transitions %+v", got)
	}
	if p.Changes() != 2 {
		t.Fatalf("expected 2 changes, got %d", p.Changes())
	}
}

func TestPollerContinuesAfterFailedPoll(t *testing.T) {
	srv, hits := sequenceServer(t, []int{1, 1, 2}, map[int]bool{1: true})

	core, logs := observer.New(zapcore.WarnLevel)
	var snapshots atomic.Int64
	p, err := status.NewPoller(srv.Client(), srv.URL,
		status.WithInterval(time.Millisecond),
		status.WithLogger(zap.New(core).Sugar()),
		status.OnSnapshot(func(status.Snapshot) { snapshots.Add(1) }),
	)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return hits.Load() >= 5 })
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if p.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", p.Failures())
	}
	if logs.FilterMessage("status poll failed").Len() != 1 {
		t.Fatalf("expected failed poll to be logged once")
	}
	if snapshots.Load() < 3 {
		t.Fatalf("poller stopped after failure, only %d snapshots", snapshots.Load())
	}
}

func TestFetchParsesStatusMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Handle(1)":"Working","Handle(2)":"Idle","Handle(3)":"ShuttingDown","Handle(4)":"Working"}`))
	}))
	defer srv.Close()

	p, err := status.NewPoller(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	snap, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Busy != 2 || snap.Total != 4 {
		t.Fatalf("expected 2/4 busy, got %d/%d", snap.Busy, snap.Total)
	}
	if snap.Labels[status.LabelShuttingDown] != 1 {
		t.Fatalf("expected one shutting down worker, got %v", snap.Labels)
	}
}

func TestFetchRejectsNonObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["Working"]`))
	}))
	defer srv.Close()

	p, err := status.NewPoller(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for array body")
	}
}

func TestFetchRecordsStatusSpan(t *testing.T) {
	srv, _ := sequenceServer(t, []int{2}, map[int]bool{1: true})
	exporter := tracetest.NewInMemoryExporter()
	provider := tracing.New(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), false)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	p, err := status.NewPoller(srv.Client(), srv.URL+"/workers/_status", status.WithTracing(provider))
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("second fetch should fail on a 500")
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want one per fetch", len(spans))
	}
	for i, wantCode := range []codes.Code{codes.Ok, codes.Error} {
		span := spans[i]
		if span.Name != "loadcurve status" {
			t.Errorf("span %d name = %q", i, span.Name)
		}
		if span.Status.Code != wantCode {
			t.Errorf("span %d status = %v, want %v", i, span.Status.Code, wantCode)
		}
	}
	var busy int64 = -1
	for _, kv := range spans[0].Attributes {
		if kv.Key == "loadcurve.busy_workers" {
			busy = kv.Value.AsInt64()
		}
	}
	if busy != 2 {
		t.Errorf("loadcurve.busy_workers = %d, want 2", busy)
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	srv, _ := sequenceServer(t, []int{0}, nil)
	p, err := status.NewPoller(srv.Client(), srv.URL, status.WithInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Poll(ctx)
	for i := 0; i < 3; i++ {
		if _, ok := <-ch; !ok {
			t.Fatalf("sequence ended early at %d", i)
		}
	}
	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("poll channel not closed after cancel")
		}
	}
}

func TestStartTwiceAndStopIdle(t *testing.T) {
	srv, _ := sequenceServer(t, []int{0}, nil)
	p, err := status.NewPoller(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, status.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewPollerValidates(t *testing.T) {
	if _, err := status.NewPoller(nil, "http://x"); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := status.NewPoller(http.DefaultClient, ""); err == nil {
		t.Fatal("expected error without endpoint")
	}
}
