package survey

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolator_FirstFix(t *testing.T) {
	var ip Interpolator
	p := posAt(0, 0, 1000)
	assert.Equal(t, []Position{p}, ip.Next(p, 0.25, 5))

	prev, ok := ip.Previous()
	require.True(t, ok)
	assert.Equal(t, p, prev)
}

func TestInterpolator_FillsGap(t *testing.T) {
	tests := []struct {
		name  string
		d     float64
		step  float64
		wantN int
	}{
		{"tiny gap above step", 0.3, 0.25, 1},
		{"walking pace", 1.7, 0.25, 6},
		{"one meter step", 4.1, 1, 4},
		{"just under ceiling", 4.9, 0.25, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ip Interpolator
			p0 := posAt(10, 0, 1000)
			p1 := posAt(10+tt.d, 0, 2000)
			ip.Next(p0, tt.step, 5)

			out := ip.Next(p1, tt.step, 5)
			require.Len(t, out, tt.wantN+1)
			assert.Equal(t, p1, out[len(out)-1], "last point must be the raw fix")

			prevLon, prevTs := p0.Lon, p0.TimestampMs
			for i, p := range out[:len(out)-1] {
				assert.Equal(t, 0.0, p.Lat, "point %d not collinear", i)
				assert.Greater(t, p.Lon, prevLon, "point %d out of order", i)
				assert.Less(t, p.Lon, p1.Lon, "point %d not strictly before the fix", i)
				assert.GreaterOrEqual(t, p.TimestampMs, prevTs)
				prevLon, prevTs = p.Lon, p.TimestampMs
			}
			assert.Equal(t, tt.wantN, int(math.Floor(tt.d/tt.step)))
		})
	}
}

func TestInterpolator_Diagonal(t *testing.T) {
	var ip Interpolator
	p0 := posAt(0, 0, 1)
	p1 := posAt(3.3, 4.4, 5001)
	ip.Next(p0, 1, 10)

	out := ip.Next(p1, 1, 10)
	require.Len(t, out, 6)
	for _, p := range out[:5] {
		// On the segment from the origin y/x stays 4/3.
		assert.InDelta(t, 4.0/3.0, p.Lat/p.Lon, 1e-9)
	}
}

func TestInterpolator_CopiesOptionalReadings(t *testing.T) {
	var ip Interpolator
	ip.Next(posAt(0, 0, 1000), 1, 5)
	p1 := posAt(2.5, 0, 2000)
	p1.SpeedMps = floatPtr(1.4)

	out := ip.Next(p1, 1, 5)
	require.Len(t, out, 3)
	assert.Equal(t, 1.4, *out[0].SpeedMps)
}

func TestInterpolator_JumpRestarts(t *testing.T) {
	var ip Interpolator
	ip.Next(posAt(0, 0, 1000), 0.25, 5)

	p1 := posAt(50, 0, 2000)
	assert.Equal(t, []Position{p1}, ip.Next(p1, 0.25, 5))

	// The jumped-to fix becomes the new start.
	p2 := posAt(51.3, 0, 3000)
	assert.Len(t, ip.Next(p2, 0.25, 5), 6)
}

func TestInterpolator_NoFill(t *testing.T) {
	var ip Interpolator
	ip.Next(posAt(0, 0, 1000), 0.25, 5)

	p := posAt(0.2, 0, 2000)
	assert.Equal(t, []Position{p}, ip.Next(p, 0.25, 5), "gap below step")

	q := posAt(3, 0, 3000)
	assert.Equal(t, []Position{q}, ip.Next(q, 0, 5), "interpolation disabled")
}

func TestInterpolator_Reset(t *testing.T) {
	var ip Interpolator
	ip.Next(posAt(0, 0, 1000), 0.25, 5)
	ip.Reset()

	_, ok := ip.Previous()
	assert.False(t, ok)
	p := posAt(3, 0, 2000)
	assert.Equal(t, []Position{p}, ip.Next(p, 0.25, 5))
}
