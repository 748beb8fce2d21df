// Package metrics aggregates inference measurements for a loadcurve run.
//
// The central [Collector] receives one call per finished request:
//
//	collector := metrics.NewCollector()
//	collector.RecordOutcome(outcome) // successful request
//	collector.RecordFailure(err)     // transport, status or malformed body
//
//	stats := collector.Stats(elapsed)
//
// Overhead samples (wall clock minus server reported time) are kept in
// arrival order and exposed through [Collector.Overheads]. Negative overheads
// are valid measurements and are counted in [Stats.NegativeOverheads].
//
// Wall clock and server time percentiles come from HDR histograms with
// microsecond resolution.
//
// # Prometheus
//
// An [Exporter] mirrors the collector into a Prometheus registry and can
// serve it while the run is in progress:
//
//	exporter := metrics.NewExporter(runID)
//	collector := metrics.NewCollector(metrics.WithExporter(exporter))
//	go exporter.Serve(ctx, ":9464")
package metrics
