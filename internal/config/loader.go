package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses args in the form [flags] SHAPE [flags]. Settings are layered as
// defaults, then the config file, then flags. A missing or unknown shape is
// returned as *UsageError.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	flagSet := cmd.Flags()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, &UsageError{Err: err}
	}
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	positional := flagSet.Args()
	switch {
	case len(positional) > 1:
		return nil, &UsageError{Arg: strings.Join(positional[1:], " "), Err: errors.New("unexpected arguments")}
	case len(positional) == 1:
		mode, ok := ParseMode(positional[0])
		if !ok {
			return nil, &UsageError{Arg: positional[0], Err: ErrUnknownMode}
		}
		cfg.Mode = mode
	case cfg.Mode == "":
		return nil, &UsageError{Err: errors.New("a shape is required")}
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.ImageFile = strings.TrimSpace(cfg.ImageFile)
	cfg.Policy = strings.ToLower(strings.TrimSpace(cfg.Policy))
	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "shape", "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("shape: %w", err)
		}
		mode, ok := ParseMode(val)
		if !ok {
			return &UsageError{Arg: val, Err: ErrUnknownMode}
		}
		cfg.Mode = mode
	}

	texts := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"target"}, &cfg.TargetURL},
		{[]string{"inference_path", "inferencePath"}, &cfg.InferencePath},
		{[]string{"status_path", "statusPath"}, &cfg.StatusPath},
		{[]string{"image", "image_file", "imageFile"}, &cfg.ImageFile},
		{[]string{"inference_type", "inferenceType"}, &cfg.InferenceType},
		{[]string{"policy"}, &cfg.Policy},
		{[]string{"report_file", "reportFile"}, &cfg.ReportFile},
		{[]string{"log_level", "logLevel"}, &cfg.LogLevel},
		{[]string{"log_format", "logFormat"}, &cfg.LogFormat},
		{[]string{"metrics_addr", "metricsAddr"}, &cfg.MetricsAddr},
	}
	for _, s := range texts {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.keys[0], err)
			}
			*s.dst = val
		}
	}

	bools := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"watch_workers", "watchWorkers"}, &cfg.WatchWorkers},
		{[]string{"json_output", "jsonOutput"}, &cfg.JSONOutput},
		{[]string{"yaml_output", "yamlOutput"}, &cfg.YAMLOutput},
		{[]string{"keep_payloads", "keepPayloads"}, &cfg.KeepPayloads},
		{[]string{"log_errors", "logErrors"}, &cfg.LogErrors},
	}
	for _, b := range bools {
		if raw, ok := lookupSetting(settings, b.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", b.keys[0], err)
			}
			*b.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "top_n", "topN"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("top_n: %w", err)
		}
		cfg.TopN = val
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = val
	}
	if raw, ok := lookupSetting(settings, "status_interval", "statusInterval"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("status_interval: %w", err)
		}
		cfg.StatusInterval = val
	}

	if raw, ok := lookupSetting(settings, "sine"); ok {
		if err := parseSine(raw, &cfg.Sine); err != nil {
			return fmt.Errorf("sine: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "gaussian"); ok {
		if err := parseGaussian(raw, &cfg.Gaussian); err != nil {
			return fmt.Errorf("gaussian: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "flat"); ok {
		if err := parseFlat(raw, &cfg.Flat); err != nil {
			return fmt.Errorf("flat: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "fixed"); ok {
		if err := parseFixed(raw, &cfg.Fixed); err != nil {
			return fmt.Errorf("fixed: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(raw, &cfg.Tracing); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func parseTiming(settings map[string]interface{}, t *Timing) error {
	if raw, ok := lookupSetting(settings, "duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		t.Duration = val
	}
	if raw, ok := lookupSetting(settings, "interval"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		t.Interval = val
	}
	return nil
}

func parseSine(value interface{}, sine *SineConfig) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := parseTiming(settings, &sine.Timing); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "max_level", "maxlevel"); ok {
		if sine.MaxLevel, err = asInt(raw); err != nil {
			return fmt.Errorf("max_level: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "baseline"); ok {
		if sine.Baseline, err = asInt(raw); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
	}
	return nil
}

func parseGaussian(value interface{}, g *GaussianConfig) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := parseTiming(settings, &g.Timing); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "mean"); ok {
		if g.Mean, err = asDuration(raw); err != nil {
			return fmt.Errorf("mean: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "std_dev", "stddev"); ok {
		if g.StdDev, err = asDuration(raw); err != nil {
			return fmt.Errorf("std_dev: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "amplitude"); ok {
		if g.Amplitude, err = asInt(raw); err != nil {
			return fmt.Errorf("amplitude: %w", err)
		}
	}
	return nil
}

func parseFlat(value interface{}, f *FlatConfig) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := parseTiming(settings, &f.Timing); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		if f.Level, err = asInt(raw); err != nil {
			return fmt.Errorf("level: %w", err)
		}
	}
	return nil
}

func parseFixed(value interface{}, f *FixedConfig) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "workers"); ok {
		if f.Workers, err = asInt(raw); err != nil {
			return fmt.Errorf("workers: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "requests_per_worker", "requestsperworker"); ok {
		if f.RequestsPerWorker, err = asInt(raw); err != nil {
			return fmt.Errorf("requests_per_worker: %w", err)
		}
	}
	return nil
}

func parseTracing(value interface{}, t *TracingConfig) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	for key, dst := range map[string]*string{
		"endpoint":     &t.Endpoint,
		"protocol":     &t.Protocol,
		"service_name": &t.ServiceName,
	} {
		if raw, ok := lookupSetting(settings, key); ok {
			if *dst, err = asString(raw); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate"); ok {
		if t.SampleRate, err = asFloat64(raw); err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if t.Insecure, err = asBool(raw); err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}

// timingFor returns the timing of the shaped mode flags apply to.
func timingFor(cfg *Config) *Timing {
	switch cfg.Mode {
	case ModeSine:
		return &cfg.Sine.Timing
	case ModeGaussian:
		return &cfg.Gaussian.Timing
	case ModeFlat:
		return &cfg.Flat.Timing
	}
	return nil
}
