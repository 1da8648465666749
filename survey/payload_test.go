package survey

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStatus(t *testing.T) {
	_, err := BuildStatus(Status{SessionID: "s1"}, 5000)
	assert.ErrorIs(t, err, ErrNoFix)

	p := Position{Lon: 2.1, Lat: 41.3, TimestampMs: 4000, SpeedMps: floatPtr(1.2)}
	got, err := BuildStatus(Status{SessionID: "s1", Surveying: true, MatchedID: "L7", LastPosition: &p}, 5000)
	require.NoError(t, err)
	require.NotNil(t, got.MatchedLinkID)
	assert.Equal(t, "L7", *got.MatchedLinkID)
	assert.Equal(t, int64(4000), got.PositionTs)
	assert.Equal(t, int64(5000), got.TimestampMs)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"sessionId", "surveying", "matchedLinkId", "lng", "lat", "speed", "heading", "accuracy", "positionTs", "ts"} {
		assert.Contains(t, fields, key)
	}
	assert.Nil(t, fields["heading"], "missing readings encode as null")
}

func TestBuildNotes(t *testing.T) {
	p := Position{Lon: 2.1, Lat: 41.3, TimestampMs: 4000}
	s := Status{SessionID: "s1", LastPosition: &p}

	text, err := BuildTextNote(s, "manhole cover missing", 4500)
	require.NoError(t, err)
	assert.Equal(t, "event", text.Type)
	assert.Equal(t, NoteText, text.EventType)
	assert.Nil(t, text.LinkID)
	assert.Equal(t, p, text.Loc)

	_, err = BuildImageNote(s, nil, "", 4500)
	assert.Error(t, err)

	_, err = BuildTextNote(Status{}, "x", 1)
	assert.ErrorIs(t, err, ErrNoFix)

	img, err := BuildImageNote(s, []byte("\xff\xd8\xff\xe0 fake jpeg"), "", 4600)
	require.NoError(t, err)
	assert.Equal(t, NoteImage, img.EventType)
	assert.True(t, strings.HasPrefix(img.EventData, "data:image/jpeg;base64,"), img.EventData)

	explicit, err := BuildImageNote(s, []byte("abc"), "image/webp", 4600)
	require.NoError(t, err)
	assert.Equal(t, "data:image/webp;base64,YWJj", explicit.EventData)
}
