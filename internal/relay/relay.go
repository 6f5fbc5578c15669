// Package relay keeps the shared live map state and fans client mutations out
// to every other connected client.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/livemap/internal/dispatcher"
	"github.com/OCAP2/livemap/internal/logging"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/internal/state"
	"github.com/OCAP2/livemap/pkg/protocol"
)

var (
	// ErrRelayClosed is returned by Register after Shutdown.
	ErrRelayClosed = errors.New("relay is shut down")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
	// ErrSendQueueFull is returned when a client's outbound queue has no room.
	ErrSendQueueFull = errors.New("send queue full")
)

// Peer is a registered connection as seen by the relay. Send must not block;
// Close must not call back into the relay.
type Peer interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Recorder receives a copy of every applied change. Record must not block.
type Recorder interface {
	Record(e recorder.Event)
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Clients   int `json:"clients"`
	Markers   int `json:"markers"`
	Positions int `json:"positions"`
}

// Dependencies holds all dependencies for the relay.
type Dependencies struct {
	Logger   *slog.Logger
	Recorder Recorder
}

// Relay owns the client registry, the marker set and the position map.
// A single mutex serializes every change to them, so all clients observe
// the same order of updates. Sends only enqueue; no network I/O happens
// while the mutex is held.
type Relay struct {
	mu        sync.Mutex
	clients   map[string]Peer
	markers   *state.MarkerSet
	positions *state.PositionMap
	closed    bool

	clientCount atomic.Int64

	dispatcher *dispatcher.Dispatcher
	recorder   Recorder
	logger     *slog.Logger
	metrics    *metrics
}

// sendFailure is a target that could not accept a broadcast.
type sendFailure struct {
	peer Peer
	err  error
}

// New creates a relay with empty state.
func New(deps Dependencies) (*Relay, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		clients:   make(map[string]Peer),
		markers:   state.NewMarkerSet(),
		positions: state.NewPositionMap(),
		recorder:  deps.Recorder,
		logger:    logger.With("component", "relay"),
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	r.dispatcher = d
	r.registerHandlers()

	r.metrics, err = newMetrics(r)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	return r, nil
}

// Register adds a peer and queues the markers_sync and positions_sync
// snapshot for it. Both happen under the state lock, so every later update
// reaches the peer after the snapshot.
func (r *Relay) Register(p Peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}

	markers, err := protocol.EncodeMarkersSync(r.markers.Snapshot())
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("encoding markers snapshot: %w", err)
	}
	positions, err := protocol.EncodePositionsSync(r.positions.Snapshot())
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("encoding positions snapshot: %w", err)
	}

	if err := p.Send(markers); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("sending markers snapshot: %w", err)
	}
	if err := p.Send(positions); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("sending positions snapshot: %w", err)
	}

	r.clients[p.ID()] = p
	count := r.clientCount.Add(1)
	r.mu.Unlock()

	r.logger.Info("Client connected", "clientId", p.ID(), "totalClients", count)
	r.record(recorder.Event{Kind: recorder.KindClientConnected, ClientID: p.ID(), Remote: remoteOf(p)})
	return nil
}

// Unregister removes a peer. Removing an absent peer is a no-op.
func (r *Relay) Unregister(p Peer) {
	r.mu.Lock()
	removed := r.removeLocked(p.ID())
	r.mu.Unlock()

	if removed {
		r.logger.Info("Client disconnected", "clientId", p.ID(), "totalClients", r.clientCount.Load())
		r.record(recorder.Event{Kind: recorder.KindClientDisconnected, ClientID: p.ID(), Remote: remoteOf(p)})
	}
}

func (r *Relay) removeLocked(id string) bool {
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	r.clientCount.Add(-1)
	return true
}

// HandleMessage decodes one inbound frame and applies it. The returned error
// is informational: a bad message never ends the connection.
func (r *Relay) HandleMessage(p Peer, data []byte) error {
	r.metrics.received()

	msg, err := protocol.Decode(data)
	if err != nil {
		r.metrics.invalid()
		r.logger.Warn("Discarding malformed message", "clientId", p.ID(), "error", err)
		return err
	}

	if !r.dispatcher.HasHandler(msg.MessageType()) {
		r.logger.Warn("Ignoring message of unknown type", "clientId", p.ID(), "type", msg.MessageType())
	}
	return r.dispatcher.Dispatch(dispatcher.NewEvent(p.ID(), msg))
}

// Broadcast queues data for every registered peer except the one with id
// exclude (empty excludes nobody). Failed targets are logged and dropped;
// failures are never returned.
func (r *Relay) Broadcast(data []byte, exclude string) {
	r.mu.Lock()
	failed := r.broadcastLocked(data, exclude)
	r.mu.Unlock()

	r.dropFailed(failed)
}

// broadcastLocked must be called with r.mu held. Peers that reject the
// message are removed from the registry and returned for cleanup.
func (r *Relay) broadcastLocked(data []byte, exclude string) []sendFailure {
	var failed []sendFailure
	sent := 0
	for id, p := range r.clients {
		if id == exclude {
			continue
		}
		if err := p.Send(data); err != nil {
			failed = append(failed, sendFailure{peer: p, err: err})
			r.removeLocked(id)
			continue
		}
		sent++
	}
	r.metrics.sent(sent)
	return failed
}

// dropFailed closes lagging peers so they resynchronize on reconnect.
func (r *Relay) dropFailed(failed []sendFailure) {
	for _, f := range failed {
		r.metrics.failed(f.err)
		r.logger.Warn("Dropping client after failed send", "clientId", f.peer.ID(), "error", f.err)
		_ = f.peer.Close()
		r.record(recorder.Event{Kind: recorder.KindClientDisconnected, ClientID: f.peer.ID(), Remote: remoteOf(f.peer)})
	}
}

// peer returns the registered peer with the given id.
func (r *Relay) peer(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[id]
	return p, ok
}

// Stats returns the current client, marker and position counts.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Clients:   len(r.clients),
		Markers:   r.markers.Len(),
		Positions: r.positions.Len(),
	}
}

// ClientCount returns the number of registered clients without taking the
// state lock, so it is safe to call from log handlers.
func (r *Relay) ClientCount() int {
	return int(r.clientCount.Load())
}

// Markers returns a copy of the live marker set.
func (r *Relay) Markers() []protocol.Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markers.Snapshot()
}

// Positions returns a copy of the last known player positions.
func (r *Relay) Positions() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions.Snapshot()
}

// Shutdown closes every registered peer and rejects new registrations.
// Shared state is discarded with the relay; nothing is persisted.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.closed = true
	peers := make([]Peer, 0, len(r.clients))
	for id, p := range r.clients {
		peers = append(peers, p)
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	if err := r.metrics.close(); err != nil {
		r.logger.Warn("Unregistering relay metrics failed", "error", err)
	}
	r.logger.Info("Relay shut down", "closedClients", len(peers))
}

func (r *Relay) record(e recorder.Event) {
	if r.recorder == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	r.recorder.Record(e)
}

// remoteOf returns the peer's remote address when it exposes one.
func remoteOf(p Peer) string {
	if ra, ok := p.(interface{ RemoteAddr() string }); ok {
		return ra.RemoteAddr()
	}
	return ""
}
