package survey

import "math"

// Interpolator fills the gap between successive raw fixes with synthetic
// positions so that slow GPS updates still produce a dense trace.
type Interpolator struct {
	prev *Position
}

// Next returns the positions to feed into the matcher for raw fix p, in
// traversal order, ending with p itself. p becomes the previous accepted
// position for the following call.
//
// A jump longer than ceilingM is treated as a fresh start: no synthetic
// points are produced across it. A stepM of zero disables interpolation.
func (ip *Interpolator) Next(p Position, stepM, ceilingM float64) []Position {
	prev := ip.prev
	cur := p
	ip.prev = &cur

	if prev == nil || stepM <= 0 {
		return []Position{p}
	}

	d := DistanceM(prev.Point(), p.Point())
	if d > ceilingM {
		Logf("[INTERP] jump of %.1fm exceeds %.1fm ceiling, restarting at (%.7f, %.7f)", d, ceilingM, p.Lon, p.Lat)
		return []Position{p}
	}
	if d <= stepM {
		return []Position{p}
	}

	steps := int(math.Floor(d / stepM))
	out := make([]Position, 0, steps+1)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps+1)
		pt := lerp(prev.Point(), p.Point(), t)
		out = append(out, Position{
			Lon:         pt[0],
			Lat:         pt[1],
			TimestampMs: prev.TimestampMs + int64(math.Round(t*float64(p.TimestampMs-prev.TimestampMs))),
			AccuracyM:   p.AccuracyM,
			SpeedMps:    p.SpeedMps,
			HeadingDeg:  p.HeadingDeg,
		})
	}
	return append(out, p)
}

// Reset forgets the previous accepted position.
func (ip *Interpolator) Reset() {
	ip.prev = nil
}

// Previous returns the last accepted position, if any.
func (ip *Interpolator) Previous() (Position, bool) {
	if ip.prev == nil {
		return Position{}, false
	}
	return *ip.prev, true
}
