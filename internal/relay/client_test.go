package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer serves the relay over a real WebSocket endpoint.
func testServer(t *testing.T, r *Relay, cfg ClientConfig) *httptest.Server {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		NewClient(conn, r, cfg, nil).Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *ws.Conn {
	t.Helper()
	c, _, err := ws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readType(t *testing.T, c *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readSnapshot(t *testing.T, c *ws.Conn) (markers, positions []any) {
	t.Helper()
	m := readType(t, c)
	require.Equal(t, "markers_sync", m["type"])
	p := readType(t, c)
	require.Equal(t, "positions_sync", p["type"])
	return m["markers"].([]any), p["positions"].([]any)
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{PongWait: 10 * time.Second, SendBuffer: 1}.withDefaults()

	assert.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, 9*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(64*1024), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBuffer)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestClient_SendAfterClose(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	assert.Equal(t, StateConnecting, c.State())
	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendQueueFull)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send([]byte("c")), ErrClientClosed)
}

func TestClient_EndToEnd(t *testing.T) {
	r, _ := newTestRelay(t)
	srv := testServer(t, r, ClientConfig{})

	alice := dial(t, srv)
	markers, positions := readSnapshot(t, alice)
	assert.Empty(t, markers)
	assert.Empty(t, positions)

	bob := dial(t, srv)
	readSnapshot(t, bob)

	require.NoError(t, alice.WriteMessage(ws.TextMessage,
		[]byte(`{"type":"marker_add","marker":{"type":"attack","x":10,"y":20,"user_id":"alice","timestamp":"2024-01-01T12:00:00"}}`)))

	added := readType(t, bob)
	assert.Equal(t, "marker_added", added["type"])
	assert.Equal(t, "alice_2024-01-01T12:00:00", added["marker"].(map[string]any)["id"])

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(`{"type":"ping","timestamp":42}`)))
	pong := readType(t, alice)
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, float64(42), pong["timestamp"])

	carol := dial(t, srv)
	markers, _ = readSnapshot(t, carol)
	require.Len(t, markers, 1)
}

func TestClient_MalformedFrameKeepsConnection(t *testing.T) {
	r, _ := newTestRelay(t)
	srv := testServer(t, r, ClientConfig{})

	c := dial(t, srv)
	readSnapshot(t, c)

	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte(`{{{`)))
	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte(`{"type":"unknown_thing"}`)))
	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte(`{"type":"ping","timestamp":"still-here"}`)))

	pong := readType(t, c)
	assert.Equal(t, "still-here", pong["timestamp"])
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	r, _ := newTestRelay(t)
	srv := testServer(t, r, ClientConfig{})

	c := dial(t, srv)
	readSnapshot(t, c)
	require.Eventually(t, func() bool { return r.Stats().Clients == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "")))
	_ = c.Close()

	require.Eventually(t, func() bool { return r.Stats().Clients == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ShutdownSendsCloseFrame(t *testing.T) {
	r, _ := newTestRelay(t)
	srv := testServer(t, r, ClientConfig{})

	c := dial(t, srv)
	readSnapshot(t, c)

	r.Shutdown()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "expected normal closure, got %v", err)
}
