package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/livemap/internal/config"
	"github.com/OCAP2/livemap/internal/recorder"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleEvents() []recorder.Event {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []recorder.Event{
		{Kind: recorder.KindClientConnected, Time: at, ClientID: "c1", Remote: "10.0.0.1:5000"},
		{Kind: recorder.KindMarkerAdded, Time: at, ClientID: "c1", UserID: "u1", MarkerID: "u1_1",
			Payload: json.RawMessage(`{"id":"u1_1","type":"attack","x":1,"y":2,"user_id":"u1","timestamp":1}`)},
		{Kind: recorder.KindMarkerAdded, Time: at, ClientID: "c1", UserID: "u1", MarkerID: "u1_2"},
	}
}

func TestBackend_WriteAccumulates(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.Init())

	events := sampleEvents()
	require.NoError(t, b.Write(events[:1]))
	require.NoError(t, b.Write(events[1:]))

	got := b.Events()
	require.Len(t, got, 3)
	assert.Equal(t, "u1_2", got[2].MarkerID)

	// returned slice is a copy
	got[0].ClientID = "changed"
	assert.Equal(t, "c1", b.Events()[0].ClientID)
}

func TestBackend_CloseEmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())

	assert.Empty(t, b.ExportPath())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackend_ExportJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	start := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	b := New(config.MemoryConfig{OutputDir: dir})
	b.now = fixedClock(start)
	require.NoError(t, b.Init())
	require.NoError(t, b.Write(sampleEvents()))
	require.NoError(t, b.Close())

	assert.Equal(t, filepath.Join(dir, "livemap_20240304_050607.json"), b.ExportPath())

	data, err := os.ReadFile(b.ExportPath())
	require.NoError(t, err)

	var export Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.True(t, export.Started.Equal(start))
	assert.Len(t, export.Events, 3)
	assert.Equal(t, 2, export.Counts[recorder.KindMarkerAdded])
	assert.Equal(t, 1, export.Counts[recorder.KindClientConnected])
	assert.JSONEq(t, string(sampleEvents()[1].Payload), string(export.Events[1].Payload))
}

func TestBackend_ExportGzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	b.now = fixedClock(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC))
	require.NoError(t, b.Init())
	require.NoError(t, b.Write(sampleEvents()))
	require.NoError(t, b.Close())

	assert.Equal(t, filepath.Join(dir, "livemap_20240304_050607.json.gz"), b.ExportPath())

	f, err := os.Open(b.ExportPath())
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var export Export
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	assert.Len(t, export.Events, 3)
}

func TestBackend_WithRecorder(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	rec, err := recorder.New(b, recorder.Options{BatchSize: 2})
	require.NoError(t, err)

	for _, e := range sampleEvents() {
		rec.Record(e)
	}
	require.NoError(t, rec.Close())

	assert.Len(t, b.Events(), 3)
	assert.NotEmpty(t, b.ExportPath())
}
