package survey

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	// capSegments is the vertex count of each half-circle end cap.
	capSegments = 8

	// maxSampleCells bounds the grid used to estimate intersection areas.
	maxSampleCells = 60000
)

// bufferPart is the capsule around one segment, kept together with its
// source so the sampler can walk it.
type bufferPart struct {
	from, to orb.Point
	poly     orb.Polygon
	bound    orb.Bound
}

// Buffer is the region within a fixed radius of one or more planar lines,
// stored as one capsule polygon per segment. The union is never dissolved;
// containment and area are evaluated against all parts.
type Buffer struct {
	radius float64
	parts  []bufferPart
	bound  orb.Bound
}

// BufferLines builds the buffer polygon of radius around the given planar
// lines (coordinates in meters). A line that collapses to a single point
// buffers to a circle.
func BufferLines(lines []orb.LineString, radius float64) *Buffer {
	b := &Buffer{radius: radius}
	for _, ls := range lines {
		if len(ls) == 0 {
			continue
		}
		added := false
		for i := 0; i < len(ls)-1; i++ {
			if ls[i] == ls[i+1] {
				continue
			}
			b.add(ls[i], ls[i+1])
			added = true
		}
		if !added {
			b.add(ls[0], ls[0])
		}
	}
	return b
}

// BufferLine is BufferLines for a single line.
func BufferLine(ls orb.LineString, radius float64) *Buffer {
	return BufferLines([]orb.LineString{ls}, radius)
}

func (b *Buffer) add(from, to orb.Point) {
	poly := capsule(from, to, b.radius)
	part := bufferPart{from: from, to: to, poly: poly, bound: poly.Bound()}
	if len(b.parts) == 0 {
		b.bound = part.bound
	} else {
		b.bound = b.bound.Union(part.bound)
	}
	b.parts = append(b.parts, part)
}

// capsule returns a closed counter-clockwise ring around segment from→to.
func capsule(from, to orb.Point, r float64) orb.Polygon {
	theta := math.Atan2(to[1]-from[1], to[0]-from[0])
	ring := make(orb.Ring, 0, 2*(capSegments+1)+1)
	for i := 0; i <= capSegments; i++ {
		a := theta - math.Pi/2 + math.Pi*float64(i)/capSegments
		ring = append(ring, orb.Point{to[0] + r*math.Cos(a), to[1] + r*math.Sin(a)})
	}
	for i := 0; i <= capSegments; i++ {
		a := theta + math.Pi/2 + math.Pi*float64(i)/capSegments
		ring = append(ring, orb.Point{from[0] + r*math.Cos(a), from[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// Empty reports whether the buffer has no area.
func (b *Buffer) Empty() bool {
	return b == nil || len(b.parts) == 0 || b.radius <= 0
}

// Bound returns the bounding box of all parts.
func (b *Buffer) Bound() orb.Bound {
	return b.bound
}

// MultiPolygon returns the undissolved capsule polygons.
func (b *Buffer) MultiPolygon() orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(b.parts))
	for i, p := range b.parts {
		mp[i] = p.poly
	}
	return mp
}

// Contains reports whether pt lies inside any part of the buffer.
func (b *Buffer) Contains(pt orb.Point) bool {
	if b.Empty() || !b.bound.Contains(pt) {
		return false
	}
	for _, p := range b.parts {
		if p.bound.Contains(pt) && planar.PolygonContains(p.poly, pt) {
			return true
		}
	}
	return false
}

type cellKey struct{ x, y int64 }

// cells returns the grid cells of size cell whose centres lie in b.
// Each part is swept in its own frame at half the cell size so every grid
// cell it overlaps is visited at least once.
func (b *Buffer) cells(cell float64) map[cellKey]orb.Point {
	out := make(map[cellKey]orb.Point)
	step := cell / 2
	for _, p := range b.parts {
		dx, dy := p.to[0]-p.from[0], p.to[1]-p.from[1]
		length := math.Hypot(dx, dy)
		ux, uy := 1.0, 0.0
		if length > 0 {
			ux, uy = dx/length, dy/length
		}
		nx, ny := -uy, ux

		for u := -b.radius; u <= length+b.radius+step; u += step {
			for v := -b.radius; v <= b.radius+step; v += step {
				x := p.from[0] + u*ux + v*nx
				y := p.from[1] + u*uy + v*ny
				k := cellKey{int64(math.Floor(x / cell)), int64(math.Floor(y / cell))}
				if _, seen := out[k]; seen {
					continue
				}
				c := orb.Point{(float64(k.x) + 0.5) * cell, (float64(k.y) + 0.5) * cell}
				if b.Contains(c) {
					out[k] = c
				}
			}
		}
	}
	return out
}

// sampleCell picks a grid size near radius/4, coarsened when the sweep
// would exceed maxSampleCells.
func (b *Buffer) sampleCell() float64 {
	cell := b.radius / 4
	var area float64
	for _, p := range b.parts {
		area += (math.Hypot(p.to[0]-p.from[0], p.to[1]-p.from[1]) + 2*b.radius) * 2 * b.radius
	}
	if area/(cell*cell) > maxSampleCells {
		cell = math.Sqrt(area / maxSampleCells)
	}
	return cell
}

// Area estimates the area of the dissolved buffer in square meters.
func (b *Buffer) Area() float64 {
	if b.Empty() {
		return 0
	}
	cell := b.sampleCell()
	return float64(len(b.cells(cell))) * cell * cell
}

// CellGrid is the sampled interior of a buffer. It is built once per
// feature buffer and reused for every ratio against it.
type CellGrid struct {
	cell  float64
	cells map[cellKey]orb.Point
}

// Grid samples b on a grid near radius/4.
func (b *Buffer) Grid() *CellGrid {
	if b.Empty() {
		return &CellGrid{}
	}
	cell := b.sampleCell()
	return &CellGrid{cell: cell, cells: b.cells(cell)}
}

// Len returns the number of sampled cells.
func (g *CellGrid) Len() int {
	return len(g.cells)
}

// CoveredBy returns the share of the grid's cells inside subject. Only the
// cells under each subject part's bound are tested.
func (g *CellGrid) CoveredBy(subject *Buffer) float64 {
	if len(g.cells) == 0 || subject.Empty() {
		return 0
	}
	hit := make(map[cellKey]struct{})
	for _, p := range subject.parts {
		x0, x1 := int64(math.Floor(p.bound.Min[0]/g.cell)), int64(math.Floor(p.bound.Max[0]/g.cell))
		y0, y1 := int64(math.Floor(p.bound.Min[1]/g.cell)), int64(math.Floor(p.bound.Max[1]/g.cell))
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				k := cellKey{x, y}
				if _, done := hit[k]; done {
					continue
				}
				c, ok := g.cells[k]
				if ok && planar.PolygonContains(p.poly, c) {
					hit[k] = struct{}{}
				}
			}
		}
	}
	return float64(len(hit)) / float64(len(g.cells))
}

// IntersectionRatio estimates area(subject ∩ base) / area(base) on a grid
// laid over base. It returns 0 when base has no area.
func IntersectionRatio(subject, base *Buffer) float64 {
	if base.Empty() || subject.Empty() {
		return 0
	}
	return base.Grid().CoveredBy(subject)
}
