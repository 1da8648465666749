package survey

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterValue(t *testing.T) {
	tests := []struct {
		name   string
		in     interface{}
		want   int
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(7), 7, true},
		{"float from JSON", 4.0, 4, true},
		{"fractional truncates", 2.9, 2, true},
		{"json number", json.Number("12"), 12, true},
		{"numeric string", " 5 ", 5, true},
		{"nil", nil, 0, false},
		{"word", "many", 0, false},
		{"bool", true, 0, false},
		{"NaN", math.NaN(), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := counterValue(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextCounterValue_DecrementNeverNegative(t *testing.T) {
	starts := []interface{}{nil, -4, 0, 1, 2, 3.5, "7", "x", 1000}
	for _, start := range starts {
		v := NextCounterValue(start, ModeDecrement, 1)
		assert.GreaterOrEqual(t, v, 0, "start %v", start)
		for i := 0; i < 20; i++ {
			v = NextCounterValue(v, ModeDecrement, 1)
			assert.GreaterOrEqual(t, v, 0, "start %v after %d passes", start, i+2)
		}
	}
}

func TestNextCounterValue(t *testing.T) {
	assert.Equal(t, 0, NextCounterValue(nil, ModeDecrement, 1))
	assert.Equal(t, 2, NextCounterValue(3, ModeDecrement, 1))
	assert.Equal(t, 0, NextCounterValue(0, ModeDecrement, 5))
	assert.Equal(t, 2, NextCounterValue(nil, ModeIncrement, 1))
	assert.Equal(t, 11, NextCounterValue("10", ModeIncrement, 1))
	assert.Equal(t, 1, NextCounterValue("blank", ModeIncrement, 0))
}

type failingNetwork struct {
	*MemoryNetwork
	setErr        error
	candidatesErr error
}

func (n *failingNetwork) SetAttribute(id, field string, v interface{}) error {
	if n.setErr != nil {
		return n.setErr
	}
	return n.MemoryNetwork.SetAttribute(id, field, v)
}

func (n *failingNetwork) CandidatesNear(p orb.Point, r float64) ([]LineFeature, error) {
	if n.candidatesErr != nil {
		return nil, n.candidatesErr
	}
	return n.MemoryNetwork.CandidatesNear(p, r)
}

func TestMutator_Apply(t *testing.T) {
	n := mustNetwork(t, LineFeature{
		ID:         "L1",
		Geometry:   eastLine(100),
		Attributes: map[string]interface{}{"target_cnt": 3},
	})
	cfg := DefaultAlgorithmConfig()

	old, next, err := NewMutator(n).Apply("L1", cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, old)
	assert.Equal(t, 2, next)

	v, ok := n.Attribute("L1", "target_cnt")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestMutator_ApplyWriteFailure(t *testing.T) {
	boom := errors.New("read only layer")
	n := &failingNetwork{MemoryNetwork: mustNetwork(t, LineFeature{ID: "L1", Geometry: eastLine(100)}), setErr: boom}

	_, next, err := NewMutator(n).Apply("L1", DefaultAlgorithmConfig())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, next)
}
