// Package broadcast implements the inter-node status protocol: the pipe
// delimited wire codec, the heartbeat/on-change sender, and the inbound
// receiver.
package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

// Prefix marks a status broadcast inside an ordinary text payload. Messages
// carrying it are filtered away from normal message handling.
const Prefix = "[ICP-STATUS]"

// ErrDecode is wrapped by every decode failure. Malformed broadcasts are
// discarded with a warning and must never be displayed as valid.
var ErrDecode = errors.New("malformed status broadcast")

// Message is a status broadcast payload. A node creates one describing
// itself; it is never mutated after send.
type Message struct {
	Color         mesh.Color
	Reasons       []string
	HelpRequested bool
	Version       string
	Timestamp     int64
}

// Encode renders the message in the fixed wire layout:
//
//	[ICP-STATUS]<color>|<reasons,csv>|<YES|NO>|<version>|<unix_timestamp>
//
// An empty reasons list encodes as an empty segment, never omitted, so the
// field count stays fixed.
func Encode(m Message) (string, error) {
	for _, r := range m.Reasons {
		if strings.ContainsAny(r, "|,") {
			return "", fmt.Errorf("reason %q contains a delimiter", r)
		}
	}
	if strings.Contains(m.Version, "|") {
		return "", fmt.Errorf("version %q contains a delimiter", m.Version)
	}

	help := "NO"
	if m.HelpRequested {
		help = "YES"
	}

	return Prefix + m.Color.String() +
		"|" + strings.Join(m.Reasons, ",") +
		"|" + help +
		"|" + m.Version +
		"|" + strconv.FormatInt(m.Timestamp, 10), nil
}

// IsStatusText reports whether a text payload is a status broadcast.
func IsStatusText(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

// Decode parses a wire message. It fails closed: every malformation yields
// an error wrapping ErrDecode.
func Decode(text string) (Message, error) {
	if !strings.HasPrefix(text, Prefix) {
		return Message{}, fmt.Errorf("%w: missing prefix", ErrDecode)
	}

	parts := strings.Split(text[len(Prefix):], "|")
	if len(parts) != 5 {
		return Message{}, fmt.Errorf("%w: got %d segments, want 5", ErrDecode, len(parts))
	}

	color, err := mesh.ParseColor(parts[0])
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var reasons []string
	if parts[1] != "" {
		reasons = strings.Split(parts[1], ",")
		for _, r := range reasons {
			if r == "" {
				return Message{}, fmt.Errorf("%w: empty reason", ErrDecode)
			}
		}
	}

	var help bool
	switch parts[2] {
	case "YES":
		help = true
	case "NO":
		help = false
	default:
		return Message{}, fmt.Errorf("%w: bad help flag %q", ErrDecode, parts[2])
	}

	ts, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || ts < 0 {
		return Message{}, fmt.Errorf("%w: bad timestamp %q", ErrDecode, parts[4])
	}

	return Message{
		Color:         color,
		Reasons:       reasons,
		HelpRequested: help,
		Version:       parts[3],
		Timestamp:     ts,
	}, nil
}
