package runner

import (
	"time"
)

// Tick is one evaluation point of a shape.
type Tick struct {
	Index   int
	Offset  time.Duration // nominal sample offset the target was computed at
	Elapsed time.Duration // measured time since the run started; zero until launched
	Target  int
}

// Plan is the compiled, finite sequence of ticks for a shape. It is immutable
// once compiled and may be iterated any number of times.
type Plan struct {
	shape Shape
	ticks []Tick
	total int
	peak  int
}

// CompilePlan validates a shape and samples it. A shape whose timing yields
// zero samples is rejected rather than producing an empty run.
func CompilePlan(shape Shape) (*Plan, error) {
	if shape == nil {
		return nil, &ConfigurationError{Issues: []string{"shape is required"}}
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	timing := shape.Cadence()
	n := timing.Samples()
	if n < 1 {
		return nil, &ConfigurationError{Shape: shape.Kind(), Issues: []string{"duration/interval must yield at least one sample"}}
	}

	plan := &Plan{shape: shape, ticks: make([]Tick, n)}
	for i := 0; i < n; i++ {
		offset := timing.SampleAt(i)
		target := shape.Target(offset)
		plan.ticks[i] = Tick{Index: i, Offset: offset, Target: target}
		plan.total += target
		if target > plan.peak {
			plan.peak = target
		}
	}
	return plan, nil
}

// Shape returns the shape the plan was compiled from.
func (p *Plan) Shape() Shape { return p.shape }

// Len returns the number of ticks.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.ticks)
}

// Ticks returns a copy of the tick sequence.
func (p *Plan) Ticks() []Tick {
	if p == nil {
		return nil
	}
	return append([]Tick(nil), p.ticks...)
}

// Targets returns the target level of every tick in order.
func (p *Plan) Targets() []int {
	if p == nil {
		return nil
	}
	out := make([]int, len(p.ticks))
	for i, t := range p.ticks {
		out[i] = t.Target
	}
	return out
}

// Total is the number of requests a complete run launches.
func (p *Plan) Total() int {
	if p == nil {
		return 0
	}
	return p.total
}

// Peak is the highest target in the plan.
func (p *Plan) Peak() int {
	if p == nil {
		return 0
	}
	return p.peak
}

// Interval returns the tick interval.
func (p *Plan) Interval() time.Duration {
	if p == nil || p.shape == nil {
		return 0
	}
	return p.shape.Cadence().Interval
}
