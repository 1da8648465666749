package survey

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// PassState is the per-feature state of the pass detector.
type PassState int

const (
	StateIdle PassState = iota
	StateAccumulating
	StatePassed
)

func (s PassState) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StatePassed:
		return "passed"
	default:
		return "idle"
	}
}

// PassHistory records the time of the last confirmed pass per feature.
type PassHistory struct {
	last map[string]int64
}

// NewPassHistory creates an empty history.
func NewPassHistory() *PassHistory {
	return &PassHistory{last: make(map[string]int64)}
}

// Record stores a confirmed pass.
func (h *PassHistory) Record(featureID string, tsMs int64) {
	h.last[featureID] = tsMs
}

// Last returns the timestamp of the last pass of a feature.
func (h *PassHistory) Last(featureID string) (int64, bool) {
	ts, ok := h.last[featureID]
	return ts, ok
}

// CoolingDown reports whether the feature is still inside its cooldown
// window. An expired entry is removed and reported through expired.
func (h *PassHistory) CoolingDown(featureID string, nowMs, cooldownMs int64) (active, expired bool) {
	ts, ok := h.last[featureID]
	if !ok {
		return false, false
	}
	if nowMs-ts < cooldownMs {
		return true, false
	}
	delete(h.last, featureID)
	return false, true
}

// Coverage is the outcome of one coverage evaluation.
type Coverage struct {
	Ratio       float64          `json:"ratio"`
	Strategy    CoverageStrategy `json:"strategy"`
	RangeRatio  float64          `json:"rangeRatio"`
	BufferRatio float64          `json:"bufferRatio"` // -1 when not computed
}

// Meets reports whether the coverage reaches threshold. Equality counts.
func (c Coverage) Meets(threshold float64) bool {
	return c.Ratio >= threshold
}

// RangeRatio is (maxLocation - minLocation) / length, clamped to [0, 1].
func RangeRatio(t *Trace) float64 {
	if t.lengthM <= 0 {
		return 0
	}
	return math.Min(1, (t.MaxLocationM-t.MinLocationM)/t.lengthM)
}

// BufferRatio builds buffers of radiusM around the trace and the feature
// in a local metric frame and returns the share of the feature buffer
// covered by the trace buffer.
func BufferRatio(t *Trace, radiusM float64) float64 {
	if len(t.geometry) < 2 || len(t.Points) == 0 {
		return 0
	}
	frame := newLocalFrame(t.geometry[0])
	if t.grid == nil || t.gridRadius != radiusM {
		t.grid = BufferLine(frame.lineToLocal(t.geometry), radiusM).Grid()
		t.gridRadius = radiusM
	}

	dp := simplify.DouglasPeucker(radiusM / 4)
	var runs []orb.LineString
	for _, run := range t.runs() {
		local := frame.lineToLocal(run)
		if len(local) > 2 {
			if s, ok := dp.Simplify(local.Clone()).(orb.LineString); ok && len(s) > 0 {
				local = s
			}
		}
		runs = append(runs, local)
	}
	return t.grid.CoveredBy(BufferLines(runs, radiusM))
}

// EvaluateCoverage computes the authoritative coverage of a trace under
// the configured strategy. ok is false while the trace cannot be judged:
// fewer than two stored points or a zero-length feature.
func EvaluateCoverage(t *Trace, cfg AlgorithmConfig) (Coverage, bool) {
	if t == nil || len(t.Points) < 2 || t.lengthM <= 0 {
		return Coverage{}, false
	}

	c := Coverage{Strategy: cfg.CoverageStrategy, RangeRatio: RangeRatio(t), BufferRatio: -1}
	switch cfg.CoverageStrategy {
	case CoverageBuffer:
		c.BufferRatio = BufferRatio(t, cfg.BufferRadiusM)
		c.Ratio = c.BufferRatio
	case CoverageRange:
		c.Ratio = c.RangeRatio
	default:
		c.Strategy = CoverageHybrid
		c.Ratio = c.RangeRatio
		// A reversal can inflate the range; confirm against the buffer.
		if t.NonMonotonic && c.RangeRatio >= cfg.OverlapRatio {
			c.BufferRatio = BufferRatio(t, cfg.BufferRadiusM)
			c.Ratio = c.BufferRatio
		}
	}
	return c, true
}
