package survey

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// counterValue converts a stored attribute to an integer counter. Values
// that are absent or not numeric yield ok == false.
func counterValue(v interface{}) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

// NextCounterValue applies one pass to a counter. Decrement floors at 0;
// increment has no ceiling. Absent or non-numeric values start from def.
func NextCounterValue(current interface{}, mode Mode, def int) int {
	v, ok := counterValue(current)
	if !ok {
		v = def
	}
	if mode == ModeIncrement {
		return v + 1
	}
	if v <= 0 {
		return 0
	}
	return v - 1
}

// Mutator writes counter updates back to the network provider.
type Mutator struct {
	network Network
}

// NewMutator returns a mutator bound to network.
func NewMutator(network Network) *Mutator {
	return &Mutator{network: network}
}

// Apply reads the target field of featureID, computes the next value and
// writes it back. It returns the previous raw value and the new counter.
func (m *Mutator) Apply(featureID string, cfg AlgorithmConfig) (old interface{}, next int, err error) {
	old, _ = m.network.Attribute(featureID, cfg.TargetField)
	next = NextCounterValue(old, cfg.Mode, cfg.TargetFieldDefault)
	if err := m.network.SetAttribute(featureID, cfg.TargetField, next); err != nil {
		return old, next, fmt.Errorf("set %s on feature %s: %w", cfg.TargetField, featureID, err)
	}
	return old, next, nil
}
