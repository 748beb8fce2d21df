package status

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/loadcurve/internal/inference"
)

// Worker status labels reported by the server.
const (
	LabelWorking      = "Working"
	LabelIdle         = "Idle"
	LabelShuttingDown = "ShuttingDown"
)

// Snapshot is one observation of the worker status endpoint.
type Snapshot struct {
	Busy      int            // workers labelled Working
	Total     int            // workers present in the response
	Labels    map[string]int // count per label
	SampledAt time.Time
}

// Transition is a change in the busy worker count between two successful
// snapshots.
type Transition struct {
	From     int
	To       int
	Snapshot Snapshot
}

// ChangeDetector turns a stream of busy counts into transitions. The first
// observation sets the baseline and is not a transition.
type ChangeDetector struct {
	prev int
	seen bool
}

// Observe records busy and reports whether it differs from the previous value.
func (d *ChangeDetector) Observe(busy int) (from int, changed bool) {
	if !d.seen {
		d.prev, d.seen = busy, true
		return busy, false
	}
	from = d.prev
	d.prev = busy
	return from, from != busy
}

// Last returns the most recent busy count and whether one has been observed.
func (d *ChangeDetector) Last() (int, bool) { return d.prev, d.seen }

func parseSnapshot(body []byte, at time.Time) (Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return Snapshot{}, &inference.MalformedResponseError{Reason: "status body is not valid JSON", Body: clip(body)}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Snapshot{}, &inference.MalformedResponseError{Reason: "status body is not an object", Body: clip(body)}
	}

	snap := Snapshot{Labels: map[string]int{}, SampledAt: at}
	root.ForEach(func(_, value gjson.Result) bool {
		label := value.String()
		snap.Labels[label]++
		snap.Total++
		if label == LabelWorking {
			snap.Busy++
		}
		return true
	})
	return snap, nil
}

func clip(body []byte) string {
	const limit = 256
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
