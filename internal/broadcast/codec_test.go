package broadcast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			"green no reasons",
			Message{Color: mesh.Green, Version: "1.3.0", Timestamp: 1735689600},
			"[ICP-STATUS]GREEN||NO|1.3.0|1735689600",
		},
		{
			"red with reasons and help",
			Message{Color: mesh.Red, Reasons: []string{"Battery", "Temperature"}, HelpRequested: true, Version: "1.3.0", Timestamp: 1735689600},
			"[ICP-STATUS]RED|Battery,Temperature|YES|1.3.0|1735689600",
		},
		{
			"yellow single reason",
			Message{Color: mesh.Yellow, Reasons: []string{"Voltage"}, Version: "2.0.1", Timestamp: 1},
			"[ICP-STATUS]YELLOW|Voltage|NO|2.0.1|1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRejectsDelimitersInReasons(t *testing.T) {
	_, err := Encode(Message{Color: mesh.Red, Reasons: []string{"Bat|tery"}, Version: "1.0", Timestamp: 1})
	assert.Error(t, err)

	_, err = Encode(Message{Color: mesh.Red, Reasons: []string{"Bat,tery"}, Version: "1.0", Timestamp: 1})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		{Color: mesh.Green, Version: "1.3.0", Timestamp: 1735689600},
		{Color: mesh.Yellow, Reasons: []string{"Battery"}, Version: "1.3.0", Timestamp: 1735689600},
		{Color: mesh.Red, Reasons: []string{"Battery", "Voltage", "Temperature"}, HelpRequested: true, Version: "0.9", Timestamp: 42},
	}

	for _, m := range msgs {
		wire, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"missing prefix", "GREEN||NO|1.3.0|1735689600"},
		{"wrong prefix", "[STATUS]GREEN||NO|1.3.0|1735689600"},
		{"too few segments", "[ICP-STATUS]GREEN||NO|1.3.0"},
		{"too many segments", "[ICP-STATUS]GREEN||NO|1.3.0|1|extra"},
		{"bad color", "[ICP-STATUS]PURPLE||NO|1.3.0|1735689600"},
		{"bad help flag", "[ICP-STATUS]GREEN||MAYBE|1.3.0|1735689600"},
		{"bad timestamp", "[ICP-STATUS]GREEN||NO|1.3.0|yesterday"},
		{"negative timestamp", "[ICP-STATUS]GREEN||NO|1.3.0|-5"},
		{"empty reason in list", "[ICP-STATUS]RED|Battery,|NO|1.3.0|1735689600"},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.wire)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("err = %v, want ErrDecode", err)
			}
		})
	}
}

func TestIsStatusText(t *testing.T) {
	assert.True(t, IsStatusText("[ICP-STATUS]GREEN||NO|1.3.0|1"))
	assert.False(t, IsStatusText("hello"))
	assert.False(t, IsStatusText(" [ICP-STATUS]GREEN||NO|1.3.0|1"))
}
