package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/livemap/pkg/protocol"
)

const instrumentationName = "github.com/OCAP2/livemap/internal/dispatcher"

// ErrUnknownType is returned by Dispatch when no handler matches the event type.
var ErrUnknownType = errors.New("unknown message type")

// Event is a decoded message received from a client.
type Event struct {
	Type     string
	ClientID string
	Message  protocol.Message
	Received time.Time
}

// NewEvent wraps a decoded message for dispatch.
func NewEvent(clientID string, msg protocol.Message) Event {
	return Event{
		Type:     msg.MessageType(),
		ClientID: clientID,
		Message:  msg,
		Received: time.Now(),
	}
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers by message type.
// Register all handlers before calling Dispatch from multiple goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	processed metric.Int64Counter
	failed    metric.Int64Counter
	unknown   metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Total events whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.unknown, err = m.Int64Counter(
		"dispatcher.events.unknown",
		metric.WithDescription("Total events with no registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unknown counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given message type with optional configuration.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(msgType, handler)
	}

	d.mu.Lock()
	d.handlers[msgType] = handler
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	h, ok := d.handlers[e.Type]
	d.mu.RUnlock()

	typeAttr := metric.WithAttributes(attribute.String("type", e.Type))

	if !ok {
		d.unknown.Add(context.Background(), 1, typeAttr)
		return fmt.Errorf("%w: %s", ErrUnknownType, e.Type)
	}

	if err := h(e); err != nil {
		d.failed.Add(context.Background(), 1, typeAttr)
		return err
	}
	d.processed.Add(context.Background(), 1, typeAttr)
	return nil
}

// HasHandler returns true if a handler is registered for the message type.
func (d *Dispatcher) HasHandler(msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[msgType]
	return ok
}

func (d *Dispatcher) withLogging(msgType string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling message", "type", msgType, "clientId", e.ClientID)

		err := h(e)

		if err != nil {
			d.logger.Error("message failed", "type", msgType, "clientId", e.ClientID, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "type", msgType, "clientId", e.ClientID, "duration", time.Since(start))
		}

		return err
	}
}
