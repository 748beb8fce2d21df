package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/loadcurve/internal/metrics"
	"github.com/torosent/loadcurve/internal/runner"
)

// Report is the end-of-run summary written to stdout and, optionally, a file.
type Report struct {
	RunID     string            `json:"run_id" yaml:"run_id"`
	Mode      string            `json:"mode" yaml:"mode"`
	Target    string            `json:"target" yaml:"target"`
	StartedAt time.Time         `json:"started_at" yaml:"started_at"`
	Schedule  ScheduleSummary   `json:"schedule" yaml:"schedule"`
	Stats     metrics.Stats     `json:"stats" yaml:"stats"`
	Workers   *WorkerSummary    `json:"workers,omitempty" yaml:"workers,omitempty"`
	Payloads  []json.RawMessage `json:"payloads,omitempty" yaml:"-"`
}

// ScheduleSummary mirrors runner.Result with millisecond fields.
type ScheduleSummary struct {
	Policy     string  `json:"policy,omitempty" yaml:"policy,omitempty"`
	Ticks      int     `json:"ticks" yaml:"ticks"`
	Launched   int64   `json:"launched" yaml:"launched"`
	Joined     int64   `json:"joined" yaml:"joined"`
	Errors     int64   `json:"errors" yaml:"errors"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
	SkewMs     float64 `json:"skew_ms" yaml:"skew_ms"`
	Stopped    bool    `json:"stopped" yaml:"stopped"`
}

// WorkerSummary describes the worker status poller's view of the run.
type WorkerSummary struct {
	Polls       int64 `json:"polls" yaml:"polls"`
	Failures    int64 `json:"failures" yaml:"failures"`
	Transitions int64 `json:"transitions" yaml:"transitions"`
	LastBusy    int   `json:"last_busy" yaml:"last_busy"`
}

// Summarize converts a scheduler result for reporting.
func Summarize(res runner.Result, policy string) ScheduleSummary {
	return ScheduleSummary{
		Policy:     policy,
		Ticks:      res.Ticks,
		Launched:   res.Launched,
		Joined:     res.Joined,
		Errors:     res.Errors,
		DurationMs: float64(res.Duration) / float64(time.Millisecond),
		SkewMs:     float64(res.Skew) / float64(time.Millisecond),
		Stopped:    res.Stopped,
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Load Curve Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	fmt.Fprintf(w, "Shape:             %s\n", r.Mode)
	if r.Schedule.Policy != "" {
		fmt.Fprintf(w, "Policy:            %s\n", r.Schedule.Policy)
	}
	fmt.Fprintf(w, "Ticks:             %d\n", r.Schedule.Ticks)
	fmt.Fprintf(w, "Launched:          %d\n", r.Schedule.Launched)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Outcomes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)
	if r.Schedule.Stopped {
		fmt.Fprintln(w, "Stopped early:     yes")
	}
	if r.Schedule.SkewMs > 0 {
		fmt.Fprintf(w, "Max tick skew:     %.1fms\n", r.Schedule.SkewMs)
	}

	if stats.Outcomes > 0 {
		fmt.Fprintln(w, "\nOverhead (wall clock - server time):")
		fmt.Fprintf(w, "  Min:             %.3fms\n", stats.MinOverheadMs)
		fmt.Fprintf(w, "  Max:             %.3fms\n", stats.MaxOverheadMs)
		fmt.Fprintf(w, "  Mean:            %.3fms\n", stats.MeanOverheadMs)
		if stats.NegativeOverheads > 0 {
			fmt.Fprintf(w, "  Negative:        %d\n", stats.NegativeOverheads)
		}
		fmt.Fprintln(w, "\nWall clock:")
		writeLatencies(w, stats.WallP50, stats.WallP90, stats.WallP99, stats.WallMean)
		fmt.Fprintln(w, "\nServer time:")
		writeLatencies(w, stats.ServerP50, stats.ServerP90, stats.ServerP99, stats.ServerMean)
	}

	if len(stats.FailuresByKind) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		kinds := make([]string, 0, len(stats.FailuresByKind))
		for kind := range stats.FailuresByKind {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool {
			if stats.FailuresByKind[kinds[i]] == stats.FailuresByKind[kinds[j]] {
				return kinds[i] < kinds[j]
			}
			return stats.FailuresByKind[kinds[i]] > stats.FailuresByKind[kinds[j]]
		})
		for _, kind := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", metrics.FriendlyErrorName(kind), stats.FailuresByKind[kind])
		}
	}
	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		for _, row := range stats.StatusCodes {
			fmt.Fprintf(w, "  HTTP %s: %d\n", row.Code, row.Count)
		}
	}

	if r.Workers != nil {
		fmt.Fprintln(w, "\nWorkers:")
		fmt.Fprintf(w, "  Polls:           %d\n", r.Workers.Polls)
		fmt.Fprintf(w, "  Poll failures:   %d\n", r.Workers.Failures)
		fmt.Fprintf(w, "  Transitions:     %d\n", r.Workers.Transitions)
		fmt.Fprintf(w, "  Last busy:       %d\n", r.Workers.LastBusy)
	}
}

func writeLatencies(w io.Writer, p50, p90, p99, mean time.Duration) {
	fmt.Fprintf(w, "  Mean:            %s\n", mean)
	fmt.Fprintf(w, "  P50:             %s\n", p50)
	fmt.Fprintf(w, "  P90:             %s\n", p90)
	fmt.Fprintf(w, "  P99:             %s\n", p99)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report. Retained payloads are
// decoded so they render as YAML rather than raw bytes.
func PrintYAMLReport(w io.Writer, r Report) error {
	doc := struct {
		Report   `yaml:",inline"`
		Payloads []interface{} `yaml:"payloads,omitempty"`
	}{Report: r}
	for i, raw := range r.Payloads {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
		doc.Payloads = append(doc.Payloads, v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Format selects how a report is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Write renders r in the given format.
func Write(w io.Writer, r Report, format Format) error {
	switch format {
	case FormatJSON:
		return PrintJSONReport(w, r)
	case FormatYAML:
		return PrintYAMLReport(w, r)
	default:
		PrintReport(w, r)
		return nil
	}
}
