package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Known marker types. Markers with other types are still accepted.
var MarkerTypes = []string{
	"enemy", "friendly", "attack", "defend", "objective", "pickup", "drop",
	"meet", "infantry", "armor", "air", "naval", "other",
}

// Marker is a tactical annotation placed on the shared map.
// Fields holds every key the client sent except id, exactly as sent, so a
// marker goes back out with the same values, nulls and omissions.
type Marker struct {
	ID        string
	Type      string
	UserID    string // user_id rendered as text, as used in the marker id
	Timestamp json.RawMessage
	Fields    map[string]json.RawMessage
}

// MarkerID builds the identity of a marker from its author and timestamp.
func MarkerID(userID string, timestamp json.RawMessage) string {
	return userID + "_" + TimestampText(timestamp)
}

// TimestampText renders a timestamp for use in identifiers.
func TimestampText(raw json.RawMessage) string {
	return KeyText(raw)
}

// KeyText renders a JSON scalar the way the live map has always formatted
// ids: strings unquoted, integers as written, fractional or exponent
// numbers in shortest float form with at least one decimal ("1500.0"),
// booleans as True/False. Objects and arrays are returned as raw JSON.
func KeyText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case c == 't' && string(raw) == "true":
		return "True"
	case c == 'f' && string(raw) == "false":
		return "False"
	case c == '-' || (c >= '0' && c <= '9'):
		return numberText(string(raw))
	}
	return string(raw)
}

func numberText(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0"
		}
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case err != nil:
		return s
	}
	if abs := math.Abs(f); f != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	out := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// UnmarshalJSON decodes a marker object. A client supplied id is discarded;
// the relay assigns ids. type must be a string and x/y numbers when they
// are present and not null.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("marker is null")
	}
	delete(fields, "id")

	*m = Marker{Fields: fields}
	for key, raw := range fields {
		if isNull(raw) {
			continue
		}
		var err error
		switch key {
		case "type":
			err = json.Unmarshal(raw, &m.Type)
		case "x", "y":
			var f float64
			err = json.Unmarshal(raw, &f)
		case "user_id":
			m.UserID = KeyText(raw)
		case "timestamp":
			m.Timestamp = raw
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

// MarshalJSON writes the marker as received, plus its id. Markers built in
// code without Fields get type, user_id and timestamp from the struct.
func (m Marker) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+4)
	for k, v := range m.Fields {
		out[k] = v
	}
	if m.ID != "" {
		id, _ := json.Marshal(m.ID)
		out["id"] = id
	}
	if _, ok := out["type"]; !ok && m.Type != "" {
		typ, _ := json.Marshal(m.Type)
		out["type"] = typ
	}
	if _, ok := out["user_id"]; !ok && m.UserID != "" {
		uid, _ := json.Marshal(m.UserID)
		out["user_id"] = uid
	}
	if _, ok := out["timestamp"]; !ok && len(m.Timestamp) > 0 {
		out["timestamp"] = m.Timestamp
	}
	return json.Marshal(out)
}

// IsKnownType reports whether the marker type is one of MarkerTypes.
func (m Marker) IsKnownType() bool {
	for _, t := range MarkerTypes {
		if m.Type == t {
			return true
		}
	}
	return false
}
