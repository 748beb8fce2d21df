package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Usage is the one-line synopsis printed for usage errors.
const Usage = "loadcurve [flags] sine|gaussian|flat|fixed|watch"

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           Usage,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set. Defaults are
// shown in help only; a flag overrides the config file when it is set.
func configureFlags(flags *pflag.FlagSet) {
	def := Defaults()

	// Target flags
	flags.String("target", def.TargetURL, "Base URL of the inference server")
	flags.String("inference-path", def.InferencePath, "Path of the inference endpoint")
	flags.String("status-path", def.StatusPath, "Path of the worker status endpoint")
	flags.String("image", def.ImageFile, "Image file sent with every request")
	flags.String("inference-type", def.InferenceType, "Inference kind: classification or img2img")
	flags.Int("top-n", def.TopN, "Number of classes requested for classification")
	flags.Duration("timeout", def.Timeout, "Per-request timeout")
	flags.String("policy", def.Policy, "Batch synchronization policy: join or detached")

	// Shape flags
	flags.DurationP("duration", "d", 0, "Run duration of the selected shape (e.g. 10s)")
	flags.DurationP("interval", "i", 0, "Tick interval of the selected shape (e.g. 750ms)")
	flags.Int("max-level", def.Sine.MaxLevel, "Sine peak concurrency")
	flags.Int("baseline", def.Sine.Baseline, "Sine concurrency at the start and end of the run")
	flags.Duration("mean", def.Gaussian.Mean, "Gaussian peak offset")
	flags.Duration("std-dev", def.Gaussian.StdDev, "Gaussian standard deviation")
	flags.Int("amplitude", def.Gaussian.Amplitude, "Gaussian peak concurrency")
	flags.Int("level", def.Flat.Level, "Flat concurrency")
	flags.Int("workers", def.Fixed.Workers, "Closed-loop worker count")
	flags.Int("requests-per-worker", def.Fixed.RequestsPerWorker, "Closed-loop requests issued by each worker")

	// Worker status flags
	flags.Bool("watch-workers", false, "Poll the worker status endpoint during the run")
	flags.Duration("status-interval", def.StatusInterval, "Worker status polling interval")

	// Output flags
	flags.Bool("json-output", false, "Emit the report as JSON")
	flags.Bool("yaml-output", false, "Emit the report as YAML")
	flags.String("report-file", "", "Also write the report to this file")
	flags.Bool("keep-payloads", false, "Keep inference results in memory and include them in the report")
	flags.Bool("log-errors", def.LogErrors, "Log each failed request with its tick and elapsed time")
	flags.String("log-level", def.LogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", def.LogFormat, "Log format: console or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint")
	flags.String("tracing-protocol", def.Tracing.Protocol, "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", def.Tracing.SampleRate, "Fraction of requests traced")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", true, "Inject trace context into request headers")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	texts := []struct {
		name string
		dst  *string
	}{
		{"target", &cfg.TargetURL},
		{"inference-path", &cfg.InferencePath},
		{"status-path", &cfg.StatusPath},
		{"image", &cfg.ImageFile},
		{"inference-type", &cfg.InferenceType},
		{"policy", &cfg.Policy},
		{"report-file", &cfg.ReportFile},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"metrics-addr", &cfg.MetricsAddr},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range texts {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"top-n", &cfg.TopN},
		{"max-level", &cfg.Sine.MaxLevel},
		{"baseline", &cfg.Sine.Baseline},
		{"amplitude", &cfg.Gaussian.Amplitude},
		{"level", &cfg.Flat.Level},
		{"workers", &cfg.Fixed.Workers},
		{"requests-per-worker", &cfg.Fixed.RequestsPerWorker},
	}
	for _, f := range ints {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"watch-workers", &cfg.WatchWorkers},
		{"json-output", &cfg.JSONOutput},
		{"yaml-output", &cfg.YAMLOutput},
		{"keep-payloads", &cfg.KeepPayloads},
		{"log-errors", &cfg.LogErrors},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range bools {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("status-interval") {
		val, err := fs.GetDuration("status-interval")
		if err != nil {
			return err
		}
		cfg.StatusInterval = val
	}
	if fs.Changed("mean") {
		val, err := fs.GetDuration("mean")
		if err != nil {
			return err
		}
		cfg.Gaussian.Mean = val
	}
	if fs.Changed("std-dev") {
		val, err := fs.GetDuration("std-dev")
		if err != nil {
			return err
		}
		cfg.Gaussian.StdDev = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	if fs.Changed("duration") || fs.Changed("interval") {
		timing := timingFor(cfg)
		if timing == nil {
			return &UsageError{Arg: string(cfg.Mode), Err: fmt.Errorf("--duration and --interval apply only to sine, gaussian and flat")}
		}
		if fs.Changed("duration") {
			val, err := fs.GetDuration("duration")
			if err != nil {
				return err
			}
			timing.Duration = val
		}
		if fs.Changed("interval") {
			val, err := fs.GetDuration("interval")
			if err != nil {
				return err
			}
			timing.Interval = val
		}
	}
	return nil
}
