package survey

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Position is a single location fix reported by the surveyor's device.
// Optional fields are nil when the device did not report them.
type Position struct {
	Lon         float64  `json:"lng"`
	Lat         float64  `json:"lat"`
	TimestampMs int64    `json:"ts"`
	AccuracyM   *float64 `json:"accuracy,omitempty"`
	SpeedMps    *float64 `json:"speed,omitempty"`
	HeadingDeg  *float64 `json:"heading,omitempty"`
}

// Point returns the position as an orb point (lon, lat).
func (p Position) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Validate reports ErrInputRejected for fixes that cannot be matched:
// non-finite or out of range coordinates and missing timestamps.
func (p Position) Validate() error {
	if !validLonLat(p.Point()) {
		return fmt.Errorf("%w: invalid coordinates (%v, %v)", ErrInputRejected, p.Lon, p.Lat)
	}
	if p.TimestampMs <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInputRejected)
	}
	return nil
}

func validLonLat(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90
}

// LineFeature is one segment of the target line network.
// Geometry is ordered lon/lat vertices. Attributes may be nil when a
// provider returns candidates for matching only.
type LineFeature struct {
	ID         string                 `json:"id"`
	Geometry   orb.LineString         `json:"geometry"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MatchResult is the projection of one position onto the nearest eligible feature.
type MatchResult struct {
	FeatureID   string    `json:"featureId"`
	Snapped     orb.Point `json:"snappedPoint"`
	LocationM   float64   `json:"locationAlongLine"`
	DistanceM   float64   `json:"perpendicularDistanceM"`
	LineLengthM float64   `json:"lineLengthM"`

	geometry orb.LineString
}

// Geometry returns the matched feature's geometry.
func (m MatchResult) Geometry() orb.LineString {
	return m.geometry
}

// Mode selects how a pass changes the counter attribute.
type Mode string

const (
	ModeIncrement Mode = "inc"
	ModeDecrement Mode = "dec"
)

// CoverageStrategy selects the authoritative coverage test.
type CoverageStrategy string

const (
	// CoverageRange uses (maxLocation - minLocation) / length.
	CoverageRange CoverageStrategy = "range"
	// CoverageBuffer uses the buffer intersection area ratio.
	CoverageBuffer CoverageStrategy = "buffer"
	// CoverageHybrid uses the range ratio for monotonic traces and the
	// buffer ratio once a trace backtracks or jumps along the line.
	CoverageHybrid CoverageStrategy = "hybrid"
)

// AlgorithmConfig holds the matching parameters. It is read once per tick.
type AlgorithmConfig struct {
	InterpolationStepM float64          `yaml:"interpolationStep" json:"interpolationStep" validate:"gte=0"`
	JumpCeilingM       float64          `yaml:"jumpCeiling" json:"jumpCeiling" validate:"gt=0"`
	SearchRadiusM      float64          `yaml:"searchRadius" json:"searchRadius" validate:"gt=0"`
	OverlapRatio       float64          `yaml:"overlapRatio" json:"overlapRatio" validate:"gte=0,lte=1"`
	BufferRadiusM      float64          `yaml:"bufferRadius" json:"bufferRadius" validate:"gt=0"`
	Mode               Mode             `yaml:"mode" json:"mode" validate:"oneof=inc dec"`
	TargetField        string           `yaml:"targetField" json:"targetField" validate:"required"`
	TargetFieldDefault int              `yaml:"defaultValue" json:"defaultValue"`
	CooldownMs         int64            `yaml:"cooldownMs" json:"cooldownMs" validate:"gte=0"`
	CoverageStrategy   CoverageStrategy `yaml:"coverageStrategy" json:"coverageStrategy" validate:"oneof=range buffer hybrid"`
	MaxTracePoints     int              `yaml:"maxTracePoints" json:"maxTracePoints" validate:"gte=2"`
	TraceIdleTimeoutMs int64            `yaml:"traceIdleTimeoutMs" json:"traceIdleTimeoutMs" validate:"gte=0"` // 0 disables idle eviction
}

// DefaultAlgorithmConfig returns the field-tested defaults.
func DefaultAlgorithmConfig() AlgorithmConfig {
	return AlgorithmConfig{
		InterpolationStepM: 0.25,
		JumpCeilingM:       5,
		SearchRadiusM:      12.5,
		OverlapRatio:       0.9,
		BufferRadiusM:      1.0,
		Mode:               ModeDecrement,
		TargetField:        "target_cnt",
		TargetFieldDefault: 1,
		CooldownMs:         10000,
		CoverageStrategy:   CoverageHybrid,
		MaxTracePoints:     200,
		TraceIdleTimeoutMs: 30000,
	}
}
