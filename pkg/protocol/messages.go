// Package protocol defines the JSON messages exchanged between live map
// clients and the relay.
package protocol

import (
	"encoding/json"
)

// Message type constants matching the live map protocol.
const (
	TypeMarkerAdd      = "marker_add"
	TypeMarkerAdded    = "marker_added"
	TypeMarkerRemove   = "marker_remove"
	TypeMarkerRemoved  = "marker_removed"
	TypeMarkersSync    = "markers_sync"
	TypePositionUpdate = "position_update"
	TypePositionsSync  = "positions_sync"
	TypeChatMessage    = "chat_message"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Message is a decoded inbound client message. The concrete type is one of
// MarkerAdd, MarkerRemove, PositionUpdate, ChatMessage, Ping or Unknown.
type Message interface {
	MessageType() string
}

// MarkerAdd asks the relay to store a marker and announce it.
type MarkerAdd struct {
	Marker Marker
}

// MarkerRemove asks the relay to delete a marker by id.
type MarkerRemove struct {
	MarkerID string
}

// PositionUpdate carries a player's latest position. UserID is empty when
// the player payload has no user_id; Raw is the message exactly as received.
type PositionUpdate struct {
	UserID string
	Player json.RawMessage
	Raw    []byte
}

// ChatMessage is relayed verbatim.
type ChatMessage struct {
	Raw []byte
}

// Ping is answered with a Pong carrying the same timestamp.
type Ping struct {
	Timestamp json.RawMessage
}

// Unknown is any well-formed message whose type the relay does not handle.
type Unknown struct {
	Type string
	Raw  []byte
}

func (MarkerAdd) MessageType() string      { return TypeMarkerAdd }
func (MarkerRemove) MessageType() string   { return TypeMarkerRemove }
func (PositionUpdate) MessageType() string { return TypePositionUpdate }
func (ChatMessage) MessageType() string    { return TypeChatMessage }
func (Ping) MessageType() string           { return TypePing }
func (u Unknown) MessageType() string      { return u.Type }

// MarkerAdded announces a stored marker to the other clients.
type MarkerAdded struct {
	Type   string `json:"type"`
	Marker Marker `json:"marker"`
}

// MarkerRemoved announces a deleted marker to the other clients.
type MarkerRemoved struct {
	Type     string `json:"type"`
	MarkerID string `json:"marker_id"`
}

// MarkersSync is the marker half of the join snapshot.
type MarkersSync struct {
	Type    string   `json:"type"`
	Markers []Marker `json:"markers"`
}

// PositionsSync is the position half of the join snapshot.
type PositionsSync struct {
	Type      string            `json:"type"`
	Positions []json.RawMessage `json:"positions"`
}

// Pong answers a Ping.
type Pong struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// EncodeMarkerAdded serializes a marker_added message.
func EncodeMarkerAdded(m Marker) ([]byte, error) {
	return json.Marshal(MarkerAdded{Type: TypeMarkerAdded, Marker: m})
}

// EncodeMarkerRemoved serializes a marker_removed message.
func EncodeMarkerRemoved(id string) ([]byte, error) {
	return json.Marshal(MarkerRemoved{Type: TypeMarkerRemoved, MarkerID: id})
}

// EncodeMarkersSync serializes a markers_sync message. A nil slice is sent as [].
func EncodeMarkersSync(markers []Marker) ([]byte, error) {
	if markers == nil {
		markers = []Marker{}
	}
	return json.Marshal(MarkersSync{Type: TypeMarkersSync, Markers: markers})
}

// EncodePositionsSync serializes a positions_sync message. A nil slice is sent as [].
func EncodePositionsSync(positions []json.RawMessage) ([]byte, error) {
	if positions == nil {
		positions = []json.RawMessage{}
	}
	return json.Marshal(PositionsSync{Type: TypePositionsSync, Positions: positions})
}

// EncodePong serializes a pong echoing the ping's timestamp.
func EncodePong(timestamp json.RawMessage) ([]byte, error) {
	return json.Marshal(Pong{Type: TypePong, Timestamp: timestamp})
}
