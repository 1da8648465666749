package survey

import (
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadNetwork reads a GeoJSON FeatureCollection of line features from path.
func LoadNetwork(path, idProperty string) (*MemoryNetwork, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing network %s: %w", path, err)
	}
	n, err := NetworkFromGeoJSON(fc, idProperty)
	if err != nil {
		return nil, fmt.Errorf("building network %s: %w", path, err)
	}
	return n, nil
}

// GPSLogCollection exports raw positions as GeoJSON points. Each feature
// carries the fix time and whatever optional readings the device sent.
func GPSLogCollection(log []Position) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range log {
		f := geojson.NewFeature(p.Point())
		f.Properties["ts"] = p.TimestampMs
		f.Properties["time"] = time.UnixMilli(p.TimestampMs).UTC().Format(time.RFC3339Nano)
		if p.AccuracyM != nil {
			f.Properties["accuracy"] = *p.AccuracyM
		}
		if p.SpeedMps != nil {
			f.Properties["speed"] = *p.SpeedMps
		}
		if p.HeadingDeg != nil {
			f.Properties["heading"] = *p.HeadingDeg
		}
		fc.Append(f)
	}
	return fc
}

// TraceCollection exports active traces as line features. A trace split by
// jumps becomes a MultiLineString.
func TraceCollection(traces []TraceSnapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range traces {
		var parts orb.MultiLineString
		var cur orb.LineString
		for _, p := range t.Points {
			if p.Break && len(cur) > 0 {
				parts = append(parts, cur)
				cur = nil
			}
			cur = append(cur, p.Point)
		}
		if len(cur) > 0 {
			parts = append(parts, cur)
		}

		var g orb.Geometry = parts
		if len(parts) == 1 {
			g = parts[0]
		}
		f := geojson.NewFeature(g)
		f.ID = t.FeatureID
		f.Properties["featureId"] = t.FeatureID
		f.Properties["minLocation"] = t.MinLocationM
		f.Properties["maxLocation"] = t.MaxLocationM
		f.Properties["samples"] = t.Samples
		f.Properties["nonMonotonic"] = t.NonMonotonic
		if t.LengthM > 0 {
			f.Properties["rangeRatio"] = (t.MaxLocationM - t.MinLocationM) / t.LengthM
		}
		fc.Append(f)
	}
	return fc
}
