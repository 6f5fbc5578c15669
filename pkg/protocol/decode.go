package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is matched by every error Decode returns.
var ErrMalformed = errors.New("malformed message")

// MalformedError describes why an inbound message was rejected.
type MalformedError struct {
	Type  string // message type, empty if it could not be read
	Field string // offending field, empty if the whole message is invalid
	Err   error
}

func (e *MalformedError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("malformed message: %v", e.Err)
	case e.Type == "":
		return fmt.Sprintf("malformed message: field %q: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("malformed %s message: field %q: %v", e.Type, e.Field, e.Err)
	}
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

var (
	errMissing   = errors.New("missing")
	errNotObject = errors.New("not a JSON object")
	errNotString = errors.New("not a string")
)

// Decode parses a single text frame into a typed Message. Messages with a
// type the relay does not know decode to Unknown without error.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MalformedError{Err: err}
	}
	if fields == nil {
		return nil, &MalformedError{Err: errNotObject}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &MalformedError{Field: "type", Err: errMissing}
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return nil, &MalformedError{Field: "type", Err: errNotString}
	}

	switch msgType {
	case TypeMarkerAdd:
		return decodeMarkerAdd(fields)
	case TypeMarkerRemove:
		return decodeMarkerRemove(fields)
	case TypePositionUpdate:
		return decodePositionUpdate(fields, data)
	case TypeChatMessage:
		return ChatMessage{Raw: data}, nil
	case TypePing:
		ts, ok := fields["timestamp"]
		if !ok {
			return nil, &MalformedError{Type: msgType, Field: "timestamp", Err: errMissing}
		}
		return Ping{Timestamp: ts}, nil
	default:
		return Unknown{Type: msgType, Raw: data}, nil
	}
}

func decodeMarkerAdd(fields map[string]json.RawMessage) (Message, error) {
	raw, ok := fields["marker"]
	if !ok {
		return nil, &MalformedError{Type: TypeMarkerAdd, Field: "marker", Err: errMissing}
	}
	if !isObject(raw) {
		return nil, &MalformedError{Type: TypeMarkerAdd, Field: "marker", Err: errNotObject}
	}

	var m Marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &MalformedError{Type: TypeMarkerAdd, Field: "marker", Err: err}
	}

	// user_id and timestamp make up the marker id; any non-null value will do
	if uid, ok := m.Fields["user_id"]; !ok || isNull(uid) {
		return nil, &MalformedError{Type: TypeMarkerAdd, Field: "marker.user_id", Err: errMissing}
	}
	if len(m.Timestamp) == 0 {
		return nil, &MalformedError{Type: TypeMarkerAdd, Field: "marker.timestamp", Err: errMissing}
	}

	return MarkerAdd{Marker: m}, nil
}

func decodeMarkerRemove(fields map[string]json.RawMessage) (Message, error) {
	raw, ok := fields["marker_id"]
	if !ok {
		return nil, &MalformedError{Type: TypeMarkerRemove, Field: "marker_id", Err: errMissing}
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, &MalformedError{Type: TypeMarkerRemove, Field: "marker_id", Err: errNotString}
	}
	return MarkerRemove{MarkerID: id}, nil
}

func decodePositionUpdate(fields map[string]json.RawMessage, data []byte) (Message, error) {
	msg := PositionUpdate{Raw: data}

	raw, ok := fields["player"]
	if !ok || isNull(raw) {
		return msg, nil
	}
	if !isObject(raw) {
		return nil, &MalformedError{Type: TypePositionUpdate, Field: "player", Err: errNotObject}
	}
	msg.Player = raw

	var player map[string]json.RawMessage
	if err := json.Unmarshal(raw, &player); err != nil {
		return nil, &MalformedError{Type: TypePositionUpdate, Field: "player", Err: err}
	}
	if uid, ok := player["user_id"]; ok && !isNull(uid) {
		msg.UserID = KeyText(uid)
	}

	return msg, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
