package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/livemap/internal/relay"

type metrics struct {
	messagesReceived metric.Int64Counter
	messagesInvalid  metric.Int64Counter
	broadcastSent    metric.Int64Counter
	broadcastFailed  metric.Int64Counter

	stats     metric.Registration
	closeOnce sync.Once
}

// newMetrics creates relay instruments on the global meter (no-op if not
// configured). The gauges read r.Stats, so they must never be collected
// while r.mu is held.
func newMetrics(r *Relay) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	var err error
	if out.messagesReceived, err = m.Int64Counter("relay.messages.received",
		metric.WithDescription("Inbound frames read from clients")); err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	if out.messagesInvalid, err = m.Int64Counter("relay.messages.invalid",
		metric.WithDescription("Inbound frames that failed to decode")); err != nil {
		return nil, fmt.Errorf("creating invalid counter: %w", err)
	}
	if out.broadcastSent, err = m.Int64Counter("relay.broadcast.sent",
		metric.WithDescription("Messages queued to broadcast targets")); err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	if out.broadcastFailed, err = m.Int64Counter("relay.broadcast.failed",
		metric.WithDescription("Sends rejected by a target")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	clients, err := m.Int64ObservableGauge("relay.clients", metric.WithDescription("Registered clients"))
	if err != nil {
		return nil, fmt.Errorf("creating clients gauge: %w", err)
	}
	markers, err := m.Int64ObservableGauge("relay.markers", metric.WithDescription("Live markers"))
	if err != nil {
		return nil, fmt.Errorf("creating markers gauge: %w", err)
	}
	positions, err := m.Int64ObservableGauge("relay.positions", metric.WithDescription("Known player positions"))
	if err != nil {
		return nil, fmt.Errorf("creating positions gauge: %w", err)
	}

	out.stats, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			s := r.Stats()
			o.ObserveInt64(clients, int64(s.Clients))
			o.ObserveInt64(markers, int64(s.Markers))
			o.ObserveInt64(positions, int64(s.Positions))
			return nil
		},
		clients, markers, positions,
	)
	if err != nil {
		return nil, fmt.Errorf("registering stats callback: %w", err)
	}

	return out, nil
}

// close detaches the stats callback so the meter stops reading this relay.
func (m *metrics) close() error {
	var err error
	m.closeOnce.Do(func() { err = m.stats.Unregister() })
	return err
}

func (m *metrics) received() {
	m.messagesReceived.Add(context.Background(), 1)
}

func (m *metrics) invalid() {
	m.messagesInvalid.Add(context.Background(), 1)
}

func (m *metrics) sent(n int) {
	if n > 0 {
		m.broadcastSent.Add(context.Background(), int64(n))
	}
}

func (m *metrics) failed(err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrSendQueueFull):
		reason = "queue_full"
	case errors.Is(err, ErrClientClosed):
		reason = "closed"
	}
	m.broadcastFailed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
