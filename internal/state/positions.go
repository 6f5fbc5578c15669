package state

import "encoding/json"

// PositionMap keeps the last reported position payload per user_id.
// Entries are never expired; a departed player's last position stays until
// the same user_id reports again.
type PositionMap struct {
	index     map[string]int
	positions []json.RawMessage
}

// NewPositionMap creates an empty PositionMap
func NewPositionMap() *PositionMap {
	return &PositionMap{
		index: make(map[string]int),
	}
}

// Upsert stores the player payload for userID, replacing any previous one.
func (p *PositionMap) Upsert(userID string, player json.RawMessage) {
	if i, ok := p.index[userID]; ok {
		p.positions[i] = player
		return
	}
	p.index[userID] = len(p.positions)
	p.positions = append(p.positions, player)
}

// Len returns the number of players with a known position
func (p *PositionMap) Len() int {
	return len(p.positions)
}

// Snapshot returns all stored payloads. Never nil.
func (p *PositionMap) Snapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(p.positions))
	copy(out, p.positions)
	return out
}
