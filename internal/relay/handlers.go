package relay

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/livemap/internal/dispatcher"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/pkg/protocol"
)

func (r *Relay) registerHandlers() {
	r.dispatcher.Register(protocol.TypeMarkerAdd, r.handleMarkerAdd, dispatcher.Logged())
	r.dispatcher.Register(protocol.TypeMarkerRemove, r.handleMarkerRemove, dispatcher.Logged())
	r.dispatcher.Register(protocol.TypePositionUpdate, r.handlePositionUpdate)
	r.dispatcher.Register(protocol.TypeChatMessage, r.handleChatMessage, dispatcher.Logged())
	r.dispatcher.Register(protocol.TypePing, r.handlePing)
}

// handleMarkerAdd stores the marker under "{user_id}_{timestamp}" and
// announces it to everyone but the sender. A marker with an existing id
// replaces the old one.
func (r *Relay) handleMarkerAdd(e dispatcher.Event) error {
	m := e.Message.(protocol.MarkerAdd).Marker
	m.ID = protocol.MarkerID(m.UserID, m.Timestamp)

	data, err := protocol.EncodeMarkerAdded(m)
	if err != nil {
		return fmt.Errorf("encoding marker_added: %w", err)
	}

	r.mu.Lock()
	replaced := r.markers.Put(m)
	failed := r.broadcastLocked(data, e.ClientID)
	r.mu.Unlock()

	r.dropFailed(failed)

	if !m.IsKnownType() {
		r.logger.Debug("Stored marker with unrecognized type", "markerId", m.ID, "markerType", m.Type)
	}
	r.logger.Info("Marker added", "markerId", m.ID, "clientId", e.ClientID, "replaced", replaced)

	payload, _ := json.Marshal(m)
	r.record(recorder.Event{
		Kind:     recorder.KindMarkerAdded,
		Time:     e.Received,
		ClientID: e.ClientID,
		UserID:   m.UserID,
		MarkerID: m.ID,
		Payload:  payload,
	})
	return nil
}

// handleMarkerRemove deletes the marker and announces the removal only if
// it existed.
func (r *Relay) handleMarkerRemove(e dispatcher.Event) error {
	id := e.Message.(protocol.MarkerRemove).MarkerID

	data, err := protocol.EncodeMarkerRemoved(id)
	if err != nil {
		return fmt.Errorf("encoding marker_removed: %w", err)
	}

	r.mu.Lock()
	existed := r.markers.Remove(id)
	var failed []sendFailure
	if existed {
		failed = r.broadcastLocked(data, e.ClientID)
	}
	r.mu.Unlock()

	if !existed {
		r.logger.Debug("Ignoring removal of unknown marker", "markerId", id, "clientId", e.ClientID)
		return nil
	}

	r.dropFailed(failed)
	r.logger.Info("Marker removed", "markerId", id, "clientId", e.ClientID)
	r.record(recorder.Event{
		Kind:     recorder.KindMarkerRemoved,
		Time:     e.Received,
		ClientID: e.ClientID,
		MarkerID: id,
	})
	return nil
}

// handlePositionUpdate keeps the latest payload per user_id and relays the
// original message bytes. Updates without a user_id are relayed but not
// stored.
func (r *Relay) handlePositionUpdate(e dispatcher.Event) error {
	pu := e.Message.(protocol.PositionUpdate)

	r.mu.Lock()
	if pu.UserID != "" {
		r.positions.Upsert(pu.UserID, pu.Player)
	}
	failed := r.broadcastLocked(pu.Raw, e.ClientID)
	r.mu.Unlock()

	r.dropFailed(failed)

	if pu.UserID == "" {
		r.logger.Debug("Position update without user_id, not stored", "clientId", e.ClientID)
		return nil
	}
	r.record(recorder.Event{
		Kind:     recorder.KindPositionUpdate,
		Time:     e.Received,
		ClientID: e.ClientID,
		UserID:   pu.UserID,
		Payload:  pu.Player,
	})
	return nil
}

// handleChatMessage forwards the message verbatim.
func (r *Relay) handleChatMessage(e dispatcher.Event) error {
	chat := e.Message.(protocol.ChatMessage)

	r.Broadcast(chat.Raw, e.ClientID)

	r.record(recorder.Event{
		Kind:     recorder.KindChatMessage,
		Time:     e.Received,
		ClientID: e.ClientID,
		Payload:  chat.Raw,
	})
	return nil
}

// handlePing answers the sender only.
func (r *Relay) handlePing(e dispatcher.Event) error {
	ping := e.Message.(protocol.Ping)

	data, err := protocol.EncodePong(ping.Timestamp)
	if err != nil {
		return fmt.Errorf("encoding pong: %w", err)
	}

	p, ok := r.peer(e.ClientID)
	if !ok {
		return fmt.Errorf("pong to %s: %w", e.ClientID, ErrClientClosed)
	}
	if err := p.Send(data); err != nil {
		r.metrics.failed(err)
		return fmt.Errorf("pong to %s: %w", e.ClientID, err)
	}
	return nil
}
