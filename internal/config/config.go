package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Mode selects what a loadcurve invocation does.
type Mode string

const (
	ModeSine     Mode = "sine"
	ModeGaussian Mode = "gaussian"
	ModeFlat     Mode = "flat"
	ModeFixed    Mode = "fixed"
	ModeWatch    Mode = "watch"
)

// Modes lists the accepted selectors in usage order.
var Modes = []Mode{ModeSine, ModeGaussian, ModeFlat, ModeFixed, ModeWatch}

// ParseMode maps a selector to a Mode.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// IsShaped reports whether the mode runs the tick scheduler.
func (m Mode) IsShaped() bool {
	return m == ModeSine || m == ModeGaussian || m == ModeFlat
}

type Config struct {
	Mode           Mode           `mapstructure:"shape"`
	TargetURL      string         `mapstructure:"target"`
	InferencePath  string         `mapstructure:"inference_path"`
	StatusPath     string         `mapstructure:"status_path"`
	ImageFile      string         `mapstructure:"image"`
	InferenceType  string         `mapstructure:"inference_type"`
	TopN           int            `mapstructure:"top_n"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	Policy         string         `mapstructure:"policy"`
	Sine           SineConfig     `mapstructure:"sine"`
	Gaussian       GaussianConfig `mapstructure:"gaussian"`
	Flat           FlatConfig     `mapstructure:"flat"`
	Fixed          FixedConfig    `mapstructure:"fixed"`
	WatchWorkers   bool           `mapstructure:"watch_workers"`
	StatusInterval time.Duration  `mapstructure:"status_interval"`
	JSONOutput     bool           `mapstructure:"json_output"`
	YAMLOutput     bool           `mapstructure:"yaml_output"`
	ReportFile     string         `mapstructure:"report_file"`
	KeepPayloads   bool           `mapstructure:"keep_payloads"`
	LogErrors      bool           `mapstructure:"log_errors"`
	LogLevel       string         `mapstructure:"log_level"`
	LogFormat      string         `mapstructure:"log_format"`
	MetricsAddr    string         `mapstructure:"metrics_addr"`
	Tracing        TracingConfig  `mapstructure:"tracing"`
	ConfigFile     string         `mapstructure:"-"`
}

// Timing is the sampling cadence shared by every shaped mode.
type Timing struct {
	Duration time.Duration `mapstructure:"duration"`
	Interval time.Duration `mapstructure:"interval"`
}

type SineConfig struct {
	Timing   `mapstructure:",squash"`
	MaxLevel int `mapstructure:"max_level"`
	Baseline int `mapstructure:"baseline"`
}

type GaussianConfig struct {
	Timing    `mapstructure:",squash"`
	Mean      time.Duration `mapstructure:"mean"`
	StdDev    time.Duration `mapstructure:"std_dev"`
	Amplitude int           `mapstructure:"amplitude"`
}

type FlatConfig struct {
	Timing `mapstructure:",squash"`
	Level  int `mapstructure:"level"`
}

type FixedConfig struct {
	Workers           int `mapstructure:"workers"`
	RequestsPerWorker int `mapstructure:"requests_per_worker"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether any tracing setting was provided.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Defaults returns the configuration used when neither a file nor a flag
// sets a value.
func Defaults() Config {
	return Config{
		TargetURL:      "http://localhost:9000",
		InferencePath:  "/inference",
		StatusPath:     "/workers/_status",
		ImageFile:      "images/cat.png",
		InferenceType:  "classification",
		TopN:           3,
		Timeout:        30 * time.Second,
		Policy:         "join",
		Sine:           SineConfig{Timing: Timing{Duration: 10 * time.Second, Interval: 750 * time.Millisecond}, MaxLevel: 8},
		Gaussian:       GaussianConfig{Timing: Timing{Duration: 8 * time.Second, Interval: 250 * time.Millisecond}, Mean: 3 * time.Second, StdDev: time.Second, Amplitude: 5},
		Flat:           FlatConfig{Timing: Timing{Duration: 10 * time.Second, Interval: time.Second}, Level: 4},
		Fixed:          FixedConfig{Workers: 6, RequestsPerWorker: 10},
		StatusInterval: 50 * time.Millisecond,
		LogLevel:       "info",
		LogErrors:      true,
		LogFormat:      "console",
		Tracing:        TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// InferenceURL joins the target with the inference path.
func (c Config) InferenceURL() string { return joinURL(c.TargetURL, c.InferencePath) }

// StatusURL joins the target with the status path.
func (c Config) StatusURL() string { return joinURL(c.TargetURL, c.StatusPath) }

// ActiveTiming returns the timing of the selected shaped mode.
func (c Config) ActiveTiming() (Timing, bool) {
	switch c.Mode {
	case ModeSine:
		return c.Sine.Timing, true
	case ModeGaussian:
		return c.Gaussian.Timing, true
	case ModeFlat:
		return c.Flat.Timing, true
	}
	return Timing{}, false
}

func joinURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// ErrUnknownMode is wrapped by UsageError when the selector is not recognized.
var ErrUnknownMode = errors.New("unknown shape")

// UsageError reports a command line that cannot be interpreted. The caller
// prints usage and exits with status 2.
type UsageError struct {
	Arg string
	Err error
}

func (e *UsageError) Error() string {
	if e.Arg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %q", e.Err, e.Arg)
}

func (e *UsageError) Unwrap() error { return e.Err }

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks settings that do not depend on the selected shape's own
// rules; shape parameters are validated again when the plan is compiled.
func (c Config) Validate() error {
	var issues []string

	if _, ok := ParseMode(string(c.Mode)); !ok {
		issues = append(issues, fmt.Sprintf("shape %q is not supported", c.Mode))
	}

	if u, err := url.Parse(strings.TrimSpace(c.TargetURL)); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, "target must be an absolute http(s) URL")
	} else if u.Scheme != "http" && u.Scheme != "https" {
		issues = append(issues, fmt.Sprintf("target scheme %q is not supported", u.Scheme))
	}

	if c.Mode != ModeWatch {
		if strings.TrimSpace(c.ImageFile) == "" {
			issues = append(issues, "image is required")
		}
		switch strings.ToLower(strings.TrimSpace(c.InferenceType)) {
		case "", "classification", "classify", "img2img", "image2image", "imagetoimage":
		default:
			issues = append(issues, fmt.Sprintf("inference_type %q is not supported", c.InferenceType))
		}
		if c.TopN < 0 {
			issues = append(issues, "top_n must be >= 0")
		}
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Policy)) {
	case "", "join", "detached":
	default:
		issues = append(issues, fmt.Sprintf("policy %q is not supported (join or detached)", c.Policy))
	}

	issues = append(issues, c.shapeIssues()...)

	if (c.WatchWorkers || c.Mode == ModeWatch) && c.StatusInterval <= 0 {
		issues = append(issues, "status_interval must be > 0")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format %q is not supported (console or json)", c.LogFormat))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0 and 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.Tracing.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (grpc or http)", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c Config) shapeIssues() []string {
	var issues []string
	timing := func(name string, t Timing) {
		if t.Duration <= 0 {
			issues = append(issues, name+": duration must be > 0")
		}
		if t.Interval <= 0 {
			issues = append(issues, name+": interval must be > 0")
		}
		if t.Duration > 0 && t.Interval > t.Duration {
			issues = append(issues, name+": interval must not exceed duration")
		}
	}

	switch c.Mode {
	case ModeSine:
		timing("sine", c.Sine.Timing)
		if c.Sine.MaxLevel < 0 {
			issues = append(issues, "sine: max_level must be >= 0")
		}
		if c.Sine.Baseline < 0 || c.Sine.Baseline > c.Sine.MaxLevel {
			issues = append(issues, "sine: baseline must be between 0 and max_level")
		}
	case ModeGaussian:
		timing("gaussian", c.Gaussian.Timing)
		if c.Gaussian.StdDev <= 0 {
			issues = append(issues, "gaussian: std_dev must be > 0")
		}
		if c.Gaussian.Amplitude < 0 {
			issues = append(issues, "gaussian: amplitude must be >= 0")
		}
	case ModeFlat:
		timing("flat", c.Flat.Timing)
		if c.Flat.Level < 0 {
			issues = append(issues, "flat: level must be >= 0")
		}
	case ModeFixed:
		if c.Fixed.Workers < 1 {
			issues = append(issues, "fixed: workers must be >= 1")
		}
		if c.Fixed.RequestsPerWorker < 1 {
			issues = append(issues, "fixed: requests_per_worker must be >= 1")
		}
	}
	return issues
}
