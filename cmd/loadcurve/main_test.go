package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/loadcurve/internal/config"
	"github.com/torosent/loadcurve/internal/runner"
)

// inferenceStub answers inference requests with a fixed server time and
// reports one busy worker on the status endpoint.
type inferenceStub struct {
	inferences atomic.Int64
	polls      atomic.Int64
	failEvery  int64
}

func (s *inferenceStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/inference":
		n := s.inferences.Add(1)
		if s.failEvery > 0 && n%s.failEvery == 0 {
			http.Error(w, "all workers are busy", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[[{"label":"tabby","score":0.91}],{"secs":0,"nanos":1000000}]`)
	case "/workers/_status":
		s.polls.Add(1)
		fmt.Fprint(w, `{"w0":"Working","w1":"Idle"}`)
	default:
		http.NotFound(w, r)
	}
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("\x89PNG fake image"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestRunFlatShapeIssuesPlannedRequests(t *testing.T) {
	stub := &inferenceStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"--target", srv.URL,
		"--image", writeImage(t),
		"--duration", "1s",
		"--interval", "1s",
		"--level", "3",
		"--json-output",
		"--log-level", "error",
		"flat",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if got := stub.inferences.Load(); got != 3 {
		t.Fatalf("server saw %d requests, want 3", got)
	}
	doc := stdout.String()
	if got := gjson.Get(doc, "schedule.launched").Int(); got != 3 {
		t.Fatalf("schedule.launched = %d, want 3\n%s", got, doc)
	}
	if got := gjson.Get(doc, "stats.outcomes").Int(); got != 3 {
		t.Fatalf("stats.outcomes = %d, want 3", got)
	}
	if got := gjson.Get(doc, "mode").String(); got != "flat" {
		t.Fatalf("mode = %q, want flat", got)
	}
	if gjson.Get(doc, "run_id").String() == "" {
		t.Fatalf("missing run_id")
	}
}

func TestRunCountsFailuresWithoutFailingTheRun(t *testing.T) {
	stub := &inferenceStub{failEvery: 2}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"--target", srv.URL,
		"--image", writeImage(t),
		"--workers", "2",
		"--requests-per-worker", "3",
		"--json-output",
		"--log-errors",
		"--log-level", "error",
		"fixed",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	doc := stdout.String()
	if got := gjson.Get(doc, "stats.total").Int(); got != 6 {
		t.Fatalf("stats.total = %d, want 6", got)
	}
	if got := gjson.Get(doc, "stats.failures_by_kind.http_status").Int(); got != 3 {
		t.Fatalf("http_status failures = %d, want 3\n%s", got, doc)
	}
	if got := gjson.Get(doc, "stats.status_codes.0.code").String(); got != "500" {
		t.Fatalf("status code = %q, want 500", got)
	}
}

// observeLogs routes the run logger into an in-memory observer for the
// duration of the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := newLogger
	newLogger = func(string, string) (*zap.SugaredLogger, error) {
		return zap.New(core).Sugar(), nil
	}
	t.Cleanup(func() { newLogger = prev })
	return logs
}

func TestRunLogsEveryFailedRequestByDefault(t *testing.T) {
	logs := observeLogs(t)
	stub := &inferenceStub{failEvery: 1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"--target", srv.URL,
		"--image", writeImage(t),
		"--duration", "1s",
		"--interval", "1s",
		"--level", "3",
		"--json-output",
		"flat",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := gjson.Get(stdout.String(), "schedule.errors").Int(); got != 3 {
		t.Fatalf("schedule.errors = %d, want 3", got)
	}

	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 3 {
		t.Fatalf("expected 3 request failed entries, got %d", len(failed))
	}
	for _, entry := range failed {
		fields := entry.ContextMap()
		if fields["tick"] != int64(0) {
			t.Errorf("tick = %v, want 0", fields["tick"])
		}
		if _, ok := fields["elapsed"].(time.Duration); !ok {
			t.Errorf("elapsed = %#v, want a duration", fields["elapsed"])
		}
		if fields["status"] != int64(http.StatusInternalServerError) {
			t.Errorf("status = %v, want 500", fields["status"])
		}
		if fields["run_id"] == "" || fields["run_id"] == nil {
			t.Errorf("missing run_id on failure entry")
		}
	}
}

func TestRunLogErrorsCanBeDisabled(t *testing.T) {
	logs := observeLogs(t)
	stub := &inferenceStub{failEvery: 1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	err := run(context.Background(), []string{
		"--target", srv.URL,
		"--image", writeImage(t),
		"--workers", "1",
		"--requests-per-worker", "2",
		"--json-output",
		"--log-errors=false",
		"fixed",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if n := logs.FilterMessage("request failed").Len(); n != 0 {
		t.Fatalf("expected no failure entries, got %d", n)
	}
}

func TestRunWatchWorkersAlongsideSchedule(t *testing.T) {
	stub := &inferenceStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	reportPath := filepath.Join(t.TempDir(), "report.yaml")
	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"--target", srv.URL,
		"--image", writeImage(t),
		"--duration", "1s",
		"--interval", "500ms",
		"--level", "1",
		"--watch-workers",
		"--status-interval", "20ms",
		"--json-output",
		"--report-file", reportPath,
		"--log-level", "error",
		"flat",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	doc := stdout.String()
	if got := gjson.Get(doc, "workers.polls").Int(); got < 2 {
		t.Fatalf("workers.polls = %d, want at least 2", got)
	}
	if got := gjson.Get(doc, "workers.last_busy").Int(); got != 1 {
		t.Fatalf("workers.last_busy = %d, want 1", got)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report file: %v", err)
	}
	if !bytes.Contains(data, []byte("transitions:")) {
		t.Fatalf("report file is not YAML:\n%s", data)
	}
}

func TestRunWatchModeStopsWithContext(t *testing.T) {
	stub := &inferenceStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stdout bytes.Buffer
	err := run(ctx, []string{
		"--target", srv.URL,
		"--status-interval", "20ms",
		"--json-output",
		"--log-level", "error",
		"watch",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if stub.polls.Load() == 0 {
		t.Fatal("expected status polls")
	}
	if stub.inferences.Load() != 0 {
		t.Fatal("watch mode must not send inference requests")
	}
	if got := gjson.Get(stdout.String(), "mode").String(); got != "watch" {
		t.Fatalf("mode = %q, want watch", got)
	}
}

func TestExitCodes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown shape", []string{"square"}, 2},
		{"missing shape", nil, 2},
		{"timing on fixed", []string{"--duration", "1s", "fixed"}, 2},
		{"invalid level", []string{"--level=-1", "flat"}, 1},
		{"missing image", []string{"--image", filepath.Join(t.TempDir(), "nope.png"), "--log-level", "error", "flat"}, 1},
		{"help", []string{"--help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(ctx, tt.args, &bytes.Buffer{})
			if got := exitCode(err); got != tt.want {
				t.Fatalf("exitCode(%v) = %d, want %d", err, got, tt.want)
			}
		})
	}
}

func TestBuildShape(t *testing.T) {
	cfg := config.Defaults()

	cfg.Mode = config.ModeSine
	sine, ok := buildShape(&cfg).(runner.Sine)
	if !ok || sine.MaxLevel != 8 || sine.Interval != 750*time.Millisecond {
		t.Fatalf("sine shape = %#v", buildShape(&cfg))
	}

	cfg.Mode = config.ModeGaussian
	gauss, ok := buildShape(&cfg).(runner.Gaussian)
	if !ok || gauss.Amplitude != 5 || gauss.Mean != 3*time.Second {
		t.Fatalf("gaussian shape = %#v", buildShape(&cfg))
	}

	cfg.Mode = config.ModeFlat
	if flat, ok := buildShape(&cfg).(runner.Flat); !ok || flat.Level != 4 {
		t.Fatalf("flat shape = %#v", buildShape(&cfg))
	}

	cfg.Mode = config.ModeFixed
	if buildShape(&cfg) != nil {
		t.Fatal("fixed mode has no shape")
	}
}
