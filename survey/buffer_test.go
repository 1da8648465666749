package survey

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func planarLine(pts ...float64) orb.LineString {
	ls := make(orb.LineString, 0, len(pts)/2)
	for i := 0; i+1 < len(pts); i += 2 {
		ls = append(ls, orb.Point{pts[i], pts[i+1]})
	}
	return ls
}

func TestBuffer_Area(t *testing.T) {
	tests := []struct {
		name string
		line orb.LineString
		r    float64
		want float64
		eps  float64
	}{
		{"capsule", planarLine(0, 0, 100, 0), 1, 200 + math.Pi, 0.01},
		{"wide capsule", planarLine(0, 0, 30, 0), 5, 300 + 25*math.Pi, 0.02},
		{"point buffers to circle", planarLine(3, 3), 2, 4 * math.Pi, 0.06},
		// The legs share an r*r square on the inside of the corner and add
		// a quarter disc on the outside.
		{"corner", planarLine(0, 0, 50, 0, 50, 50), 1, 199 + math.Pi + math.Pi/4, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BufferLine(tt.line, tt.r).Area()
			assert.InEpsilon(t, tt.want, got, tt.eps)
		})
	}
}

func TestBuffer_Contains(t *testing.T) {
	b := BufferLine(planarLine(0, 0, 10, 0), 1)
	assert.True(t, b.Contains(orb.Point{5, 0.9}))
	assert.True(t, b.Contains(orb.Point{10.5, 0.5}))
	assert.False(t, b.Contains(orb.Point{5, 1.2}))
	assert.False(t, b.Contains(orb.Point{11.1, 0}))
	assert.False(t, (&Buffer{}).Contains(orb.Point{0, 0}))
}

func TestBuffer_MultiPolygon(t *testing.T) {
	b := BufferLines([]orb.LineString{planarLine(0, 0, 10, 0, 10, 10), planarLine(50, 50, 60, 50)}, 1)
	mp := b.MultiPolygon()
	assert.Len(t, mp, 3)
	for _, poly := range mp {
		ring := poly[0]
		assert.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")
	}
	assert.True(t, b.Bound().Contains(orb.Point{60.5, 50}))
}

func TestIntersectionRatio(t *testing.T) {
	feature := BufferLine(planarLine(0, 0, 100, 0), 1)

	assert.InDelta(t, 1.0, IntersectionRatio(feature, feature), 1e-9)

	// Half the line: 100 + pi of 200 + pi.
	half := BufferLine(planarLine(0, 0, 50, 0), 1)
	assert.InDelta(t, (100+math.Pi)/(200+math.Pi), IntersectionRatio(half, feature), 0.02)

	// Offset by more than two radii: no overlap.
	away := BufferLine(planarLine(0, 5, 100, 5), 1)
	assert.Equal(t, 0.0, IntersectionRatio(away, feature))

	// Two disjoint runs that together cover 40 m.
	runs := BufferLines([]orb.LineString{planarLine(0, 0, 20, 0), planarLine(80, 0, 100, 0)}, 1)
	assert.InDelta(t, (80+2*math.Pi)/(200+math.Pi), IntersectionRatio(runs, feature), 0.03)

	assert.Equal(t, 0.0, IntersectionRatio(feature, &Buffer{}))
}

func TestBuffer_SampleCellCapped(t *testing.T) {
	b := BufferLine(planarLine(0, 0, 200000, 0), 1)
	cell := b.sampleCell()
	assert.Greater(t, cell, 0.25)
	area := (200000.0 + 2) * 2
	assert.LessOrEqual(t, area/(cell*cell), float64(maxSampleCells)+1)
}

func TestCellGrid_Reuse(t *testing.T) {
	grid := BufferLine(planarLine(0, 0, 250, 0), 1).Grid()
	assert.Greater(t, grid.Len(), 0)

	first := BufferLine(planarLine(0, 0, 100, 0), 1)
	both := BufferLines([]orb.LineString{planarLine(0, 0, 100, 0), planarLine(150, 0, 250, 0)}, 1)
	assert.InDelta(t, (200+math.Pi)/(500+math.Pi), grid.CoveredBy(first), 0.02)
	assert.InDelta(t, (400+2*math.Pi)/(500+math.Pi), grid.CoveredBy(both), 0.02)
	assert.Equal(t, 0.0, grid.CoveredBy(&Buffer{}))
	assert.Equal(t, 0.0, (&Buffer{}).Grid().CoveredBy(first))
}
