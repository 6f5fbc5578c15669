package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/livemap/internal/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.Dependencies{Logger: discardLogger()})
	require.NoError(t, err)
	return r
}

// startServer runs Serve on a random local port and returns its ws:// and
// http:// base URLs.
func startServer(t *testing.T, cfg Config, r *relay.Relay) (wsBase, httpBase string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(cfg, r, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	addr := ln.Addr().String()
	stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}
	return "ws://" + addr, "http://" + addr, stop
}

func readJSON(t *testing.T, c *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConfig_Address(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8765", Config{Host: "0.0.0.0", Port: 8765}.Address())
	assert.Equal(t, "[::1]:9000", Config{Host: "::1", Port: 9000}.Address())
}

func TestHealthAndStats(t *testing.T) {
	r := newRelay(t)
	srv := httptest.NewServer(New(Config{}, r, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"clients":0,"markers":0,"positions":0}`, string(body))
}

func TestPlainGETOnWebSocketPathIsRejected(t *testing.T) {
	srv := httptest.NewServer(New(Config{}, newRelay(t), discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRelayFlow(t *testing.T) {
	r := newRelay(t)
	wsBase, httpBase, stop := startServer(t, Config{}, r)
	defer stop()

	a, _, err := ws.DefaultDialer.Dial(wsBase, nil)
	require.NoError(t, err)
	defer a.Close()
	// any path upgrades with the default mount
	b, _, err := ws.DefaultDialer.Dial(wsBase+"/map", nil)
	require.NoError(t, err)
	defer b.Close()

	for _, c := range []*ws.Conn{a, b} {
		assert.Equal(t, "markers_sync", readJSON(t, c)["type"])
		assert.Equal(t, "positions_sync", readJSON(t, c)["type"])
	}

	require.NoError(t, a.WriteMessage(ws.TextMessage, []byte(`{"type":"position_update","player":{"user_id":"a","x":1,"y":2}}`)))
	update := readJSON(t, b)
	assert.Equal(t, "position_update", update["type"])

	require.NoError(t, a.WriteMessage(ws.TextMessage, []byte(`{"type":"chat_message","username":"a","message":"hi"}`)))
	chat := readJSON(t, b)
	assert.Equal(t, "hi", chat["message"])

	resp, err := http.Get(httpBase + "/stats")
	require.NoError(t, err)
	var stats relay.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, relay.Stats{Clients: 2, Markers: 0, Positions: 1}, stats)
}

func TestOriginAllowlist(t *testing.T) {
	r := newRelay(t)
	wsBase, _, stop := startServer(t, Config{AllowedOrigins: []string{"https://map.example"}}, r)
	defer stop()

	_, resp, err := ws.DefaultDialer.Dial(wsBase, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c, _, err := ws.DefaultDialer.Dial(wsBase, http.Header{"Origin": []string{"https://map.example"}})
	require.NoError(t, err)
	c.Close()

	// no Origin header, as sent by desktop and mobile clients
	c, _, err = ws.DefaultDialer.Dial(wsBase, nil)
	require.NoError(t, err)
	c.Close()
}

func TestShutdownClosesClients(t *testing.T) {
	r := newRelay(t)
	wsBase, _, stop := startServer(t, Config{ShutdownTimeout: time.Second}, r)

	c, _, err := ws.DefaultDialer.Dial(wsBase, nil)
	require.NoError(t, err)
	defer c.Close()
	readJSON(t, c)
	readJSON(t, c)

	stop()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, r.Stats().Clients)
}

func TestStart_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	s := New(Config{Host: "127.0.0.1", Port: port}, newRelay(t), discardLogger())

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), fmt.Sprintf("127.0.0.1:%d", port)))
}
