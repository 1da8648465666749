package survey

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// Network is the target line network the engine matches against.
// CandidatesNear must return a superset of the features within radiusM
// of p; it may return more.
type Network interface {
	CandidatesNear(p orb.Point, radiusM float64) ([]LineFeature, error)
	Attribute(featureID, field string) (interface{}, bool)
	SetAttribute(featureID, field string, value interface{}) error
}

type networkEntry struct {
	feature LineFeature
	bound   orb.Bound
}

// MemoryNetwork is an in-memory Network. Attribute reads and writes are
// serialized with an RWMutex, so renderers may read while a session writes.
type MemoryNetwork struct {
	mu      sync.RWMutex
	ids     []string
	entries map[string]*networkEntry
}

// NewMemoryNetwork indexes features by id. Duplicate ids are an error.
// Features are stored as given, degenerate ones included; the matcher
// excludes those.
func NewMemoryNetwork(features []LineFeature) (*MemoryNetwork, error) {
	n := &MemoryNetwork{entries: make(map[string]*networkEntry, len(features))}
	for _, f := range features {
		if f.ID == "" {
			return nil, fmt.Errorf("feature without id")
		}
		if _, dup := n.entries[f.ID]; dup {
			return nil, fmt.Errorf("duplicate feature id %q", f.ID)
		}
		attrs := make(map[string]interface{}, len(f.Attributes))
		for k, v := range f.Attributes {
			attrs[k] = v
		}
		f.Attributes = attrs
		f.Geometry = f.Geometry.Clone()
		n.entries[f.ID] = &networkEntry{feature: f, bound: f.Geometry.Bound()}
		n.ids = append(n.ids, f.ID)
	}
	sort.Strings(n.ids)
	return n, nil
}

// NetworkFromGeoJSON builds a network from the LineString features of fc.
// The id is read from idProperty when set, otherwise from the feature id.
// Single-part MultiLineStrings are accepted; other geometries are skipped.
func NetworkFromGeoJSON(fc *geojson.FeatureCollection, idProperty string) (*MemoryNetwork, error) {
	var features []LineFeature
	for i, f := range fc.Features {
		var ls orb.LineString
		switch g := f.Geometry.(type) {
		case orb.LineString:
			ls = g
		case orb.MultiLineString:
			if len(g) != 1 {
				Logf("[NETWORK] skipping feature %d: multilinestring with %d parts", i, len(g))
				continue
			}
			ls = g[0]
		default:
			Logf("[NETWORK] skipping feature %d: unsupported geometry %T", i, f.Geometry)
			continue
		}

		id := featureID(f, idProperty)
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		features = append(features, LineFeature{
			ID:         id,
			Geometry:   ls,
			Attributes: map[string]interface{}(f.Properties),
		})
	}
	return NewMemoryNetwork(features)
}

func featureID(f *geojson.Feature, idProperty string) string {
	if idProperty != "" {
		if v, ok := f.Properties[idProperty]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return ""
}

// CandidatesNear returns features whose bounding box intersects the square
// of radiusM around p, in id order.
func (n *MemoryNetwork) CandidatesNear(p orb.Point, radiusM float64) ([]LineFeature, error) {
	if !validLonLat(p) {
		return nil, fmt.Errorf("candidates near invalid point %v", p)
	}
	area := geo.NewBoundAroundPoint(p, radiusM)

	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []LineFeature
	for _, id := range n.ids {
		e := n.entries[id]
		if !e.bound.Intersects(area) {
			continue
		}
		out = append(out, LineFeature{ID: e.feature.ID, Geometry: e.feature.Geometry})
	}
	return out, nil
}

// Attribute returns one attribute of a feature.
func (n *MemoryNetwork) Attribute(featureID, field string) (interface{}, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[featureID]
	if !ok {
		return nil, false
	}
	v, ok := e.feature.Attributes[field]
	return v, ok
}

// SetAttribute writes one attribute of a feature.
func (n *MemoryNetwork) SetAttribute(featureID, field string, value interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries[featureID]
	if !ok {
		return fmt.Errorf("unknown feature %q", featureID)
	}
	e.feature.Attributes[field] = value
	return nil
}

// Feature returns a copy of one feature.
func (n *MemoryNetwork) Feature(featureID string) (LineFeature, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[featureID]
	if !ok {
		return LineFeature{}, false
	}
	return copyFeature(e.feature), true
}

// Len returns the number of features.
func (n *MemoryNetwork) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.ids)
}

// FeatureCollection exports the network with its current attributes.
func (n *MemoryNetwork) FeatureCollection() *geojson.FeatureCollection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fc := geojson.NewFeatureCollection()
	for _, id := range n.ids {
		f := copyFeature(n.entries[id].feature)
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}

func copyFeature(f LineFeature) LineFeature {
	attrs := make(map[string]interface{}, len(f.Attributes))
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	return LineFeature{ID: f.ID, Geometry: f.Geometry.Clone(), Attributes: attrs}
}
