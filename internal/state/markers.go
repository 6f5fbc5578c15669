// Package state holds the live map state owned by the relay. None of the
// types here lock; the relay serializes every access.
package state

import "github.com/OCAP2/livemap/pkg/protocol"

// MarkerSet maps marker ids to markers, preserving first insertion order so
// snapshots list markers the way they were placed.
type MarkerSet struct {
	index   map[string]int
	markers []protocol.Marker
}

// NewMarkerSet creates an empty MarkerSet
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{
		index: make(map[string]int),
	}
}

// Put stores a marker under m.ID. An existing marker with the same id is
// replaced in place. Reports whether the id was already present.
func (s *MarkerSet) Put(m protocol.Marker) (replaced bool) {
	if i, ok := s.index[m.ID]; ok {
		s.markers[i] = m
		return true
	}
	s.index[m.ID] = len(s.markers)
	s.markers = append(s.markers, m)
	return false
}

// Remove deletes a marker by id and reports whether it existed
func (s *MarkerSet) Remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	copy(s.markers[i:], s.markers[i+1:])
	s.markers[len(s.markers)-1] = protocol.Marker{}
	s.markers = s.markers[:len(s.markers)-1]
	for j := i; j < len(s.markers); j++ {
		s.index[s.markers[j].ID] = j
	}
	return true
}

// Len returns the number of markers
func (s *MarkerSet) Len() int {
	return len(s.markers)
}

// Snapshot returns a copy of all markers. Never nil.
func (s *MarkerSet) Snapshot() []protocol.Marker {
	out := make([]protocol.Marker, len(s.markers))
	copy(out, s.markers)
	return out
}
