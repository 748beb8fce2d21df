package runner

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ShapeKind names a load shape.
type ShapeKind string

const (
	ShapeFlat     ShapeKind = "flat"
	ShapeSine     ShapeKind = "sine"
	ShapeGaussian ShapeKind = "gaussian"
)

// Shape maps a sample offset within a run to a target concurrency level.
// Implementations are immutable values and safe for concurrent use.
type Shape interface {
	Kind() ShapeKind
	Cadence() Timing
	// Target returns the non-negative concurrency level at the given offset.
	Target(offset time.Duration) int
	Validate() error
}

// Timing is the sampling cadence shared by every shape.
type Timing struct {
	Duration time.Duration // total run length
	Interval time.Duration // time between ticks
}

// Samples returns floor(Duration/Interval), or 0 when the timing is invalid.
func (t Timing) Samples() int {
	if t.Duration <= 0 || t.Interval <= 0 {
		return 0
	}
	return int(t.Duration / t.Interval)
}

// SampleAt returns the offset of sample i. Samples are equally spaced in [0, Duration).
func (t Timing) SampleAt(i int) time.Duration {
	n := t.Samples()
	if n == 0 || i <= 0 {
		return 0
	}
	return time.Duration(float64(t.Duration) * float64(i) / float64(n))
}

func (t Timing) issues() []string {
	var issues []string
	if t.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if t.Interval <= 0 {
		issues = append(issues, "interval must be > 0")
	}
	if t.Duration > 0 && t.Interval > 0 && t.Interval > t.Duration {
		issues = append(issues, fmt.Sprintf("interval %s must be <= duration %s", t.Interval, t.Duration))
	}
	return issues
}

// ConfigurationError reports invalid shape parameters. It is always fatal and
// is returned before any request is scheduled.
type ConfigurationError struct {
	Shape  ShapeKind
	Issues []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s shape: invalid configuration", e.Shape)
	}
	return fmt.Sprintf("%s shape: %s", e.Shape, strings.Join(e.Issues, "; "))
}

func configError(kind ShapeKind, issues []string) error {
	if len(issues) == 0 {
		return nil
	}
	return &ConfigurationError{Shape: kind, Issues: issues}
}

// Flat holds a constant level for the whole run.
type Flat struct {
	Timing
	Level int
}

func (f Flat) Kind() ShapeKind { return ShapeFlat }
func (f Flat) Cadence() Timing { return f.Timing }

func (f Flat) Target(time.Duration) int {
	return clampLevel(float64(f.Level))
}

func (f Flat) Validate() error {
	issues := f.Timing.issues()
	if f.Level < 0 {
		issues = append(issues, "level must be >= 0")
	}
	return configError(ShapeFlat, issues)
}

// Sine rises from Baseline to MaxLevel at the midpoint of the run and falls
// back toward Baseline: one half-period of a sine wave.
type Sine struct {
	Timing
	MaxLevel int
	Baseline int
}

func (s Sine) Kind() ShapeKind { return ShapeSine }
func (s Sine) Cadence() Timing { return s.Timing }

func (s Sine) Target(offset time.Duration) int {
	if s.Duration <= 0 {
		return 0
	}
	phase := math.Pi * offset.Seconds() / s.Duration.Seconds()
	span := float64(s.MaxLevel - s.Baseline)
	return clampLevel(float64(s.Baseline) + span*math.Sin(phase))
}

func (s Sine) Validate() error {
	issues := s.Timing.issues()
	if s.MaxLevel < 0 {
		issues = append(issues, "max_level must be >= 0")
	}
	if s.Baseline < 0 {
		issues = append(issues, "baseline must be >= 0")
	}
	if s.Baseline > s.MaxLevel {
		issues = append(issues, "baseline must be <= max_level")
	}
	return configError(ShapeSine, issues)
}

// Gaussian follows a bell curve centred on Mean. The curve is normalised by
// its peak over the sampled offsets so the sample nearest Mean maps to Amplitude.
type Gaussian struct {
	Timing
	Mean      time.Duration
	StdDev    time.Duration
	Amplitude int
}

func (g Gaussian) Kind() ShapeKind { return ShapeGaussian }
func (g Gaussian) Cadence() Timing { return g.Timing }

func (g Gaussian) Target(offset time.Duration) int {
	peak := g.peak()
	if peak <= 0 {
		return 0
	}
	return clampLevel(g.density(offset) / peak * float64(g.Amplitude))
}

func (g Gaussian) Validate() error {
	issues := g.Timing.issues()
	if g.StdDev <= 0 {
		issues = append(issues, "std_dev must be > 0")
	}
	if g.Amplitude < 0 {
		issues = append(issues, "amplitude must be >= 0")
	}
	return configError(ShapeGaussian, issues)
}

func (g Gaussian) density(offset time.Duration) float64 {
	sd := g.StdDev.Seconds()
	if sd <= 0 {
		return 0
	}
	d := offset.Seconds() - g.Mean.Seconds()
	return math.Exp(-(d * d) / (2 * sd * sd))
}

// peak is the largest density over the sample grid. The density is unimodal,
// so it is reached at one of the two samples bracketing Mean.
func (g Gaussian) peak() float64 {
	n := g.Samples()
	if n == 0 {
		return 0
	}
	pos := g.Mean.Seconds() * float64(n) / g.Duration.Seconds()
	lo := clampIndex(int(math.Floor(pos)), n)
	hi := clampIndex(lo+1, n)
	return math.Max(g.density(g.SampleAt(lo)), g.density(g.SampleAt(hi)))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// clampLevel floors v and clamps it at zero. A tiny epsilon absorbs float
// noise so exact peaks such as sin(pi/2)*max do not floor one level low.
func clampLevel(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int(math.Floor(v + 1e-9))
}
