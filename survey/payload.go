package survey

import (
	"encoding/base64"
	"fmt"
	"net/http"
)

// StatusPayload is the periodic survey status sent to the outbound channel.
type StatusPayload struct {
	SessionID     string   `json:"sessionId"`
	Surveying     bool     `json:"surveying"`
	MatchedLinkID *string  `json:"matchedLinkId"`
	Lon           float64  `json:"lng"`
	Lat           float64  `json:"lat"`
	SpeedMps      *float64 `json:"speed"`
	HeadingDeg    *float64 `json:"heading"`
	AccuracyM     *float64 `json:"accuracy"`
	PositionTs    int64    `json:"positionTs"`
	TimestampMs   int64    `json:"ts"`
}

// Note event types.
const (
	NoteText  = "text"
	NoteImage = "image"
)

// NotePayload is a field note correlated with the current match.
type NotePayload struct {
	Type      string   `json:"type"`
	EventType string   `json:"eventType"`
	EventData string   `json:"eventData"`
	Loc       Position `json:"loc"`
	LinkID    *string  `json:"linkId"`
	SessionID string   `json:"sessionId"`
	Timestamp int64    `json:"ts"`
}

// Status is the read-only view of a session used to build payloads.
type Status struct {
	SessionID    string
	Surveying    bool
	MatchedID    string
	LastPosition *Position
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// BuildStatus builds the status payload at nowMs. It returns ErrNoFix
// until a position has been seen.
func BuildStatus(s Status, nowMs int64) (StatusPayload, error) {
	if s.LastPosition == nil {
		return StatusPayload{}, ErrNoFix
	}
	p := *s.LastPosition
	return StatusPayload{
		SessionID:     s.SessionID,
		Surveying:     s.Surveying,
		MatchedLinkID: optionalID(s.MatchedID),
		Lon:           p.Lon,
		Lat:           p.Lat,
		SpeedMps:      p.SpeedMps,
		HeadingDeg:    p.HeadingDeg,
		AccuracyM:     p.AccuracyM,
		PositionTs:    p.TimestampMs,
		TimestampMs:   nowMs,
	}, nil
}

// BuildTextNote builds a free text field note.
func BuildTextNote(s Status, text string, nowMs int64) (NotePayload, error) {
	return buildNote(s, NoteText, text, nowMs)
}

// BuildImageNote builds an image field note. The attachment is carried as
// a base64 data URL; contentType is sniffed when empty.
func BuildImageNote(s Status, data []byte, contentType string, nowMs int64) (NotePayload, error) {
	if len(data) == 0 {
		return NotePayload{}, fmt.Errorf("empty attachment")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	url := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	return buildNote(s, NoteImage, url, nowMs)
}

func buildNote(s Status, kind, data string, nowMs int64) (NotePayload, error) {
	if s.LastPosition == nil {
		return NotePayload{}, ErrNoFix
	}
	return NotePayload{
		Type:      "event",
		EventType: kind,
		EventData: data,
		Loc:       *s.LastPosition,
		LinkID:    optionalID(s.MatchedID),
		SessionID: s.SessionID,
		Timestamp: nowMs,
	}, nil
}
