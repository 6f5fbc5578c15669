package recorder

import (
	"encoding/json"
	"time"
)

// Kind identifies what happened on the relay.
type Kind string

const (
	KindMarkerAdded        Kind = "marker_added"
	KindMarkerRemoved      Kind = "marker_removed"
	KindPositionUpdate     Kind = "position_update"
	KindChatMessage        Kind = "chat_message"
	KindClientConnected    Kind = "client_connected"
	KindClientDisconnected Kind = "client_disconnected"
)

// Event is one entry of the session log. Payload holds the marker object,
// player payload or raw chat message, depending on Kind.
type Event struct {
	Kind     Kind            `json:"kind"`
	Time     time.Time       `json:"time"`
	ClientID string          `json:"clientId"`
	UserID   string          `json:"userId,omitempty"`
	MarkerID string          `json:"markerId,omitempty"`
	Remote   string          `json:"remote,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Coordinates pulls x/y out of a marker or player payload.
func (e Event) Coordinates() (x, y float64, ok bool) {
	if len(e.Payload) == 0 {
		return 0, 0, false
	}
	var p struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.X == nil || p.Y == nil {
		return 0, 0, false
	}
	return *p.X, *p.Y, true
}
