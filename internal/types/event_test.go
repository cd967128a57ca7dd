package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeChannelID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"video prefix lowercased", "Video:Lobby", "video:Lobby"},
		{"audio prefix lowercased", "AUDIO:Mic-1", "audio:Mic-1"},
		{"unrecognized prefix kept literal", "Custom:Thing", "Custom:Thing"},
		{"no prefix gets default", "lobby", "video:lobby"},
		{"trims whitespace", "  video:lobby  ", "video:lobby"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeChannelID(tc.in, "video")
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeChannelIDIdempotent(t *testing.T) {
	inputs := []string{"Video:Lobby", "lobby", "AUDIO:Mic-1", "Custom:Thing", "  video:Foo "}
	for _, in := range inputs {
		once := NormalizeChannelID(in, "video")
		twice := NormalizeChannelID(once, "video")
		require.Equal(t, once, twice, "normalization must be idempotent for %q", in)
	}
}

func TestChannelIDEqual(t *testing.T) {
	require.True(t, ChannelIDEqual("Video:Lobby", "VIDEO:Lobby", "video"))
	require.False(t, ChannelIDEqual("video:lobby", "video:hallway", "video"))
}

func TestMetaUnknownKeysRoundTrip(t *testing.T) {
	in := []byte(`{"channel":"video:lobby","customField":"keep-me","count":3}`)
	var m Meta
	require.NoError(t, json.Unmarshal(in, &m))
	require.Equal(t, "video:lobby", m.Channel)
	require.Equal(t, "keep-me", m.Extra["customField"])

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	require.Equal(t, "keep-me", roundTripped["customField"])
	require.Equal(t, float64(3), roundTripped["count"])
	require.Equal(t, "video:lobby", roundTripped["channel"])
}

func TestPoseForecastMovementFlagsCoercion(t *testing.T) {
	var m Meta
	in := []byte(`{"poseForecast":{"movementFlags":[0,1,1,0]}}`)
	require.NoError(t, json.Unmarshal(in, &m))
	require.NotNil(t, m.PoseForecast)
	require.Equal(t, []bool{false, true, true, false}, m.PoseForecast.MovementFlags)
}

func TestEventJSONShape(t *testing.T) {
	e := Event{
		ID:       1,
		Ts:       1000,
		Source:   "video:lobby",
		Detector: "motion",
		Severity: SeverityWarning,
		Message:  "motion detected",
		Meta:     Meta{Channel: "video:lobby", Camera: "lobby"},
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.Contains(t, string(b), `"id":1`)
	require.Contains(t, string(b), `"camera":"lobby"`)
}
