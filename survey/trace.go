package survey

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// TracePoint is one stored snapped point of a traversal.
type TracePoint struct {
	Point       orb.Point `json:"point"`
	LocationM   float64   `json:"locationAlongLine"`
	TimestampMs int64     `json:"ts"`
	// Break is set when the point follows a jump against the direction of
	// travel, so the buffer test does not bridge the gap.
	Break bool `json:"break,omitempty"`
}

// Trace accumulates the matched locations of one feature during one traversal.
type Trace struct {
	FeatureID    string
	Points       []TracePoint
	MinLocationM float64
	MaxLocationM float64
	FirstSeenMs  int64
	LastSeenMs   int64
	Samples      int
	// NonMonotonic is set once the surveyor reverses along the line. Fast
	// forward progress does not set it.
	NonMonotonic bool

	geometry  orb.LineString
	lengthM   float64
	lastLocM  float64
	direction int
	// lastHop is set when the newest stored point was reached by a bridged hop.
	lastHop bool

	grid       *CellGrid
	gridRadius float64
}

func newTrace(m MatchResult, ts int64) *Trace {
	return &Trace{
		FeatureID:    m.FeatureID,
		MinLocationM: m.LocationM,
		MaxLocationM: m.LocationM,
		FirstSeenMs:  ts,
		geometry:     m.geometry,
		lengthM:      m.LineLengthM,
		lastLocM:     m.LocationM,
	}
}

// add records one match. Points closer than the minimum spacing to the
// last stored point update the extents but are not stored. The oldest
// point is evicted beyond maxPoints; the location extents cover the whole
// traversal.
func (t *Trace) add(m MatchResult, ts int64, cfg AlgorithmConfig) {
	if m.geometry != nil {
		if !sameLine(t.geometry, m.geometry) {
			t.grid = nil
		}
		t.geometry = m.geometry
		t.lengthM = m.LineLengthM
	}

	tolerance := cfg.BufferRadiusM
	jumped, hopped := false, false
	if t.Samples > 0 {
		delta := m.LocationM - t.lastLocM
		switch {
		case t.direction == 0 && m.LocationM-t.Points[0].LocationM > tolerance:
			t.direction = 1
		case t.direction == 0 && t.Points[0].LocationM-m.LocationM > tolerance:
			t.direction = -1
		case t.direction > 0 && m.LocationM < t.MaxLocationM-tolerance:
			t.NonMonotonic = true
		case t.direction < 0 && m.LocationM > t.MinLocationM+tolerance:
			t.NonMonotonic = true
		}
		// A long hop in the direction of travel is bridged. A long hop
		// against it is a glitch or a return, so neither end is joined.
		if math.Abs(delta) > cfg.JumpCeilingM && float64(t.direction)*delta <= 0 {
			jumped = true
			t.NonMonotonic = true
			if n := len(t.Points); n > 1 && t.lastHop {
				t.Points[n-1].Break = true
			}
		}
		hopped = math.Abs(delta) > cfg.JumpCeilingM && !jumped
	}

	t.Samples++
	t.LastSeenMs = ts
	t.lastLocM = m.LocationM
	t.MinLocationM = math.Min(t.MinLocationM, m.LocationM)
	t.MaxLocationM = math.Max(t.MaxLocationM, m.LocationM)

	if n := len(t.Points); n > 0 && !jumped {
		if DistanceM(t.Points[n-1].Point, m.Snapped) < t.minSpacing(cfg) {
			t.lastHop = false
			return
		}
	}
	t.lastHop = hopped
	t.Points = append(t.Points, TracePoint{
		Point:       m.Snapped,
		LocationM:   m.LocationM,
		TimestampMs: ts,
		Break:       jumped,
	})
	if cfg.MaxTracePoints > 0 && len(t.Points) > cfg.MaxTracePoints {
		drop := len(t.Points) - cfg.MaxTracePoints
		t.Points = append(t.Points[:0:0], t.Points[drop:]...)
		t.Points[0].Break = false
	}
}

// minSpacing is half the buffer radius, widened on long features so the
// point cap holds the line walked twice.
func (t *Trace) minSpacing(cfg AlgorithmConfig) float64 {
	spacing := cfg.BufferRadiusM / 2
	if cfg.MaxTracePoints > 0 {
		spacing = math.Max(spacing, 2*t.lengthM/float64(cfg.MaxTracePoints))
	}
	return spacing
}

// sameLine compares two geometries by length and endpoints.
func sameLine(a, b orb.LineString) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || (a[0] == b[0] && a[len(a)-1] == b[len(b)-1])
}

// runs splits the stored points at breaks into lon/lat line strings.
func (t *Trace) runs() []orb.LineString {
	var out []orb.LineString
	var cur orb.LineString
	for _, p := range t.Points {
		if p.Break && len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, p.Point)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// TraceSnapshot is an immutable copy of a trace for readers outside the engine.
type TraceSnapshot struct {
	FeatureID    string       `json:"featureId"`
	Points       []TracePoint `json:"points"`
	MinLocationM float64      `json:"minLocation"`
	MaxLocationM float64      `json:"maxLocation"`
	LengthM      float64      `json:"lineLengthM"`
	FirstSeenMs  int64        `json:"firstSeen"`
	LastSeenMs   int64        `json:"lastSeen"`
	Samples      int          `json:"samples"`
	NonMonotonic bool         `json:"nonMonotonic"`
}

func (t *Trace) snapshot() TraceSnapshot {
	pts := make([]TracePoint, len(t.Points))
	copy(pts, t.Points)
	return TraceSnapshot{
		FeatureID:    t.FeatureID,
		Points:       pts,
		MinLocationM: t.MinLocationM,
		MaxLocationM: t.MaxLocationM,
		LengthM:      t.lengthM,
		FirstSeenMs:  t.FirstSeenMs,
		LastSeenMs:   t.LastSeenMs,
		Samples:      t.Samples,
		NonMonotonic: t.NonMonotonic,
	}
}

// TraceMemory is the table of active traces keyed by feature id.
type TraceMemory struct {
	traces map[string]*Trace
}

// NewTraceMemory creates an empty trace table.
func NewTraceMemory() *TraceMemory {
	return &TraceMemory{traces: make(map[string]*Trace)}
}

// Get returns the active trace for a feature.
func (tm *TraceMemory) Get(featureID string) (*Trace, bool) {
	t, ok := tm.traces[featureID]
	return t, ok
}

// Append adds a match to the feature's trace, starting one if needed.
func (tm *TraceMemory) Append(m MatchResult, ts int64, cfg AlgorithmConfig) *Trace {
	t, ok := tm.traces[m.FeatureID]
	if !ok {
		t = newTrace(m, ts)
		tm.traces[m.FeatureID] = t
	}
	t.add(m, ts, cfg)
	return t
}

// Clear drops a feature's trace.
func (tm *TraceMemory) Clear(featureID string) {
	delete(tm.traces, featureID)
}

// Len returns the number of active traces.
func (tm *TraceMemory) Len() int {
	return len(tm.traces)
}

// ExpireIdle drops traces not matched within idleMs of nowMs and returns
// their feature ids in sorted order. An idleMs of zero disables expiry.
func (tm *TraceMemory) ExpireIdle(nowMs, idleMs int64) []string {
	if idleMs <= 0 {
		return nil
	}
	var expired []string
	for id, t := range tm.traces {
		if nowMs-t.LastSeenMs > idleMs {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(tm.traces, id)
	}
	return expired
}

// Snapshot copies all traces, sorted by feature id.
func (tm *TraceMemory) Snapshot() []TraceSnapshot {
	out := make([]TraceSnapshot, 0, len(tm.traces))
	for _, t := range tm.traces {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out
}
