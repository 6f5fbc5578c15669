package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/OCAP2/livemap/pkg/protocol"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("client-1", protocol.MarkerRemove{MarkerID: "u_1"})

	if e.Type != protocol.TypeMarkerRemove {
		t.Errorf("expected type %q, got %q", protocol.TypeMarkerRemove, e.Type)
	}
	if e.ClientID != "client-1" {
		t.Errorf("expected client-1, got %q", e.ClientID)
	}
	if e.Received.IsZero() {
		t.Error("expected receive time to be set")
	}
}

func TestDispatcher_RoutesByType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got []string
	d.Register(protocol.TypePing, func(e Event) error {
		got = append(got, "ping:"+string(e.Message.(protocol.Ping).Timestamp))
		return nil
	})
	d.Register(protocol.TypeMarkerRemove, func(e Event) error {
		got = append(got, "remove:"+e.Message.(protocol.MarkerRemove).MarkerID)
		return nil
	})

	if err := d.Dispatch(NewEvent("c", protocol.Ping{Timestamp: []byte("1")})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Dispatch(NewEvent("c", protocol.MarkerRemove{MarkerID: "x"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 || got[0] != "ping:1" || got[1] != "remove:x" {
		t.Errorf("unexpected dispatch order: %v", got)
	}
}

func TestDispatcher_UnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(NewEvent("c", protocol.Unknown{Type: "teleport"}))

	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("expected type name in error, got %v", err)
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	boom := errors.New("boom")
	d.Register(protocol.TypeChatMessage, func(e Event) error { return boom })

	err := d.Dispatch(NewEvent("c", protocol.ChatMessage{}))
	if !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.TypePing, func(e Event) error { return nil }, Logged())

	if err := d.Dispatch(NewEvent("c", protocol.Ping{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := logger.count("DEBUG: handling message"); n != 1 {
		t.Errorf("expected 1 start log, got %d", n)
	}
	if n := logger.count("DEBUG: message complete"); n != 1 {
		t.Errorf("expected 1 completion log, got %d", n)
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.TypePing, func(e Event) error {
		return errors.New("test error")
	}, Logged())

	if err := d.Dispatch(NewEvent("c", protocol.Ping{})); err == nil {
		t.Error("expected error")
	}

	if n := logger.count("ERROR: message failed"); n != 1 {
		t.Errorf("expected 1 error log, got %d", n)
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if d.HasHandler(protocol.TypePing) {
		t.Error("expected no handler before registration")
	}

	d.Register(protocol.TypePing, func(e Event) error { return nil })

	if !d.HasHandler(protocol.TypePing) {
		t.Error("expected handler after registration")
	}
}

func TestDispatcher_ConcurrentDispatch(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	count := 0
	d.Register(protocol.TypeChatMessage, func(e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(NewEvent("c", protocol.ChatMessage{}))
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("expected 50 handled, got %d", count)
	}
}
