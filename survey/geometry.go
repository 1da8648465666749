package survey

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// localFrame is an equirectangular projection centred on origin. Output
// coordinates are meters east/north of the origin. The projection is affine
// in lon/lat, so interpolation in either space gives the same point.
type localFrame struct {
	origin orb.Point
	cosLat float64
}

const metersPerRadian = orb.EarthRadius

func newLocalFrame(origin orb.Point) localFrame {
	return localFrame{origin: origin, cosLat: math.Cos(origin[1] * math.Pi / 180)}
}

func (f localFrame) toLocal(p orb.Point) orb.Point {
	return orb.Point{
		(p[0] - f.origin[0]) * math.Pi / 180 * f.cosLat * metersPerRadian,
		(p[1] - f.origin[1]) * math.Pi / 180 * metersPerRadian,
	}
}

func (f localFrame) toLonLat(p orb.Point) orb.Point {
	lon := f.origin[0]
	if f.cosLat != 0 {
		lon += p[0] / (f.cosLat * metersPerRadian) * 180 / math.Pi
	}
	return orb.Point{lon, f.origin[1] + p[1]/metersPerRadian*180/math.Pi}
}

func (f localFrame) lineToLocal(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = f.toLocal(p)
	}
	return out
}

// DistanceM returns the great-circle distance between two lon/lat points in meters.
func DistanceM(a, b orb.Point) float64 {
	return geo.Distance(a, b)
}

// LineLengthM returns the geodesic length of a lon/lat line in meters.
func LineLengthM(ls orb.LineString) float64 {
	return geo.Length(ls)
}

// lerp linearly interpolates between a and b at fraction t.
func lerp(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

// segmentFraction returns the clamped fraction along a→b of the orthogonal
// projection of p. Zero-length segments project onto a.
func segmentFraction(a, b, p orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	len2 := dx*dx + dy*dy
	if len2 == 0 {
		return 0
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / len2
	return math.Max(0, math.Min(1, t))
}

// NearestPointOnLine snaps p onto ls. It returns the snapped point, its
// location along the line in meters from the first vertex, and the
// distance from p to the snapped point in meters. On equal distances the
// earliest segment wins.
func NearestPointOnLine(ls orb.LineString, p orb.Point) (snapped orb.Point, locationM, distanceM float64) {
	if len(ls) == 0 {
		return orb.Point{}, 0, math.Inf(1)
	}
	if len(ls) == 1 {
		return ls[0], 0, DistanceM(p, ls[0])
	}

	frame := newLocalFrame(p)
	local := frame.lineToLocal(ls)
	origin := orb.Point{0, 0}

	best := math.Inf(1)
	bestSeg, bestT := 0, 0.0
	for i := 0; i < len(local)-1; i++ {
		t := segmentFraction(local[i], local[i+1], origin)
		q := lerp(local[i], local[i+1], t)
		if d := math.Hypot(q[0], q[1]); d < best {
			best, bestSeg, bestT = d, i, t
		}
	}

	snapped = lerp(ls[bestSeg], ls[bestSeg+1], bestT)
	for i := 0; i < bestSeg; i++ {
		locationM += DistanceM(ls[i], ls[i+1])
	}
	locationM += DistanceM(ls[bestSeg], snapped)
	return snapped, locationM, DistanceM(p, snapped)
}

// PointAlongLine returns the point at locationM meters from the start of
// ls. Locations outside the line clamp to its end points.
func PointAlongLine(ls orb.LineString, locationM float64) orb.Point {
	if len(ls) == 0 {
		return orb.Point{}
	}
	if locationM <= 0 {
		return ls[0]
	}
	walked := 0.0
	for i := 0; i < len(ls)-1; i++ {
		seg := DistanceM(ls[i], ls[i+1])
		if seg > 0 && walked+seg >= locationM {
			return lerp(ls[i], ls[i+1], (locationM-walked)/seg)
		}
		walked += seg
	}
	return ls[len(ls)-1]
}

// ResampleLine returns points every stepM meters along ls, always
// including both end points.
func ResampleLine(ls orb.LineString, stepM float64) orb.LineString {
	total := LineLengthM(ls)
	if len(ls) < 2 || stepM <= 0 || total == 0 {
		return ls.Clone()
	}
	n := int(math.Floor(total / stepM))
	out := make(orb.LineString, 0, n+2)
	for i := 0; i <= n; i++ {
		out = append(out, PointAlongLine(ls, float64(i)*stepM))
	}
	if float64(n)*stepM < total {
		out = append(out, ls[len(ls)-1])
	}
	return out
}

// checkGeometry classifies a candidate geometry. It returns errDegenerate
// for lines that can never be matched, a *MatchingFault for geometry that a
// provider should never have returned, or nil.
func checkGeometry(f LineFeature) error {
	for i, p := range f.Geometry {
		if !validLonLat(p) {
			return &MatchingFault{
				FeatureID: f.ID,
				Reason:    fmt.Sprintf("vertex %d has invalid coordinates %v", i, p),
			}
		}
	}
	if len(f.Geometry) < 2 {
		return errDegenerate
	}
	if LineLengthM(f.Geometry) == 0 {
		return errDegenerate
	}
	return nil
}
