package survey

import (
	"encoding/json"
	"fmt"
)

// geolocationPayload is the shape of a browser GeolocationPosition.
type geolocationPayload struct {
	Coords *struct {
		Longitude *float64 `json:"longitude"`
		Latitude  *float64 `json:"latitude"`
		Accuracy  *float64 `json:"accuracy"`
		Speed     *float64 `json:"speed"`
		Heading   *float64 `json:"heading"`
	} `json:"coords"`
	Timestamp float64 `json:"timestamp"`
}

// DecodePosition parses a position message. It accepts the Position JSON
// encoding and the browser geolocation shape
// {"coords": {"longitude", "latitude", ...}, "timestamp"}.
func DecodePosition(data []byte) (Position, error) {
	var geo geolocationPayload
	if err := json.Unmarshal(data, &geo); err != nil {
		return Position{}, fmt.Errorf("decoding position: %w", err)
	}
	if geo.Coords != nil {
		if geo.Coords.Longitude == nil || geo.Coords.Latitude == nil {
			return Position{}, fmt.Errorf("%w: missing coordinates", ErrInputRejected)
		}
		p := Position{
			Lon:         *geo.Coords.Longitude,
			Lat:         *geo.Coords.Latitude,
			TimestampMs: int64(geo.Timestamp),
			AccuracyM:   geo.Coords.Accuracy,
			SpeedMps:    geo.Coords.Speed,
			HeadingDeg:  geo.Coords.Heading,
		}
		return p, p.Validate()
	}

	var raw struct {
		Lon         *float64 `json:"lng"`
		Lat         *float64 `json:"lat"`
		TimestampMs int64    `json:"ts"`
		AccuracyM   *float64 `json:"accuracy"`
		SpeedMps    *float64 `json:"speed"`
		HeadingDeg  *float64 `json:"heading"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Position{}, fmt.Errorf("decoding position: %w", err)
	}
	if raw.Lon == nil || raw.Lat == nil {
		return Position{}, fmt.Errorf("%w: missing coordinates", ErrInputRejected)
	}
	p := Position{
		Lon:         *raw.Lon,
		Lat:         *raw.Lat,
		TimestampMs: raw.TimestampMs,
		AccuracyM:   raw.AccuracyM,
		SpeedMps:    raw.SpeedMps,
		HeadingDeg:  raw.HeadingDeg,
	}
	return p, p.Validate()
}

// DecodePositions parses a JSON array of position messages, as recorded
// for replay. Entries that fail to decode are reported by index.
func DecodePositions(data []byte) ([]Position, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding position list: %w", err)
	}
	out := make([]Position, 0, len(raw))
	for i, r := range raw {
		p, err := DecodePosition(r)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
