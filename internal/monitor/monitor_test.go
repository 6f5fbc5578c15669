package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/livemap/internal/influx"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/internal/relay"
)

type fixedRelay struct{ stats relay.Stats }

func (f fixedRelay) Stats() relay.Stats { return f.stats }

type fixedRecorder struct{ stats recorder.Stats }

func (f fixedRecorder) Stats() recorder.Stats { return f.stats }

type pointSink struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
	err    error
}

func (p *pointSink) WritePoint(point *influxdb2_write.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, point)
	return p.err
}

func (p *pointSink) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.points)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSample_WritesEverywhere(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	statusFile := filepath.Join(t.TempDir(), "status.json")
	sink := &pointSink{}

	s := NewService(Dependencies{
		Relay:        fixedRelay{relay.Stats{Clients: 2, Markers: 5, Positions: 1}},
		Recorder:     fixedRecorder{recorder.Stats{Pending: 3, Written: 10}},
		RecorderType: "sqlite",
		Influx:       sink,
		Logger:       quietLogger(),
		StatusFile:   statusFile,
		Now:          func() time.Time { return at },
	})

	st := s.Sample()
	assert.Equal(t, relay.Stats{Clients: 2, Markers: 5, Positions: 1}, st.Relay)
	require.NotNil(t, st.Recorder)
	assert.Equal(t, uint64(3), st.Recorder.Pending)
	assert.Equal(t, st, s.Last())

	require.Len(t, sink.points, 2)
	assert.Equal(t, influx.MeasurementRelay, sink.points[0].Name())
	assert.Equal(t, influx.MeasurementRecorder, sink.points[1].Name())
	assert.Equal(t, at, sink.points[0].Time())

	data, err := os.ReadFile(statusFile)
	require.NoError(t, err)
	var onDisk Status
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 5, onDisk.Relay.Markers)
	assert.Equal(t, uint64(10), onDisk.Recorder.Written)
}

func TestSample_OptionalDependencies(t *testing.T) {
	s := NewService(Dependencies{
		Relay:  fixedRelay{relay.Stats{Clients: 1}},
		Logger: quietLogger(),
	})

	st := s.Sample()
	assert.Nil(t, st.Recorder)
	assert.Equal(t, 1, st.Relay.Clients)
}

func TestSample_InfluxErrorIsLoggedNotFatal(t *testing.T) {
	sink := &pointSink{err: errors.New("down")}
	s := NewService(Dependencies{
		Relay:  fixedRelay{},
		Influx: sink,
		Logger: quietLogger(),
	})

	s.Sample()
	assert.Equal(t, 1, sink.len())
}

func TestRun_SamplesUntilCancelled(t *testing.T) {
	sink := &pointSink{}
	s := NewService(Dependencies{
		Relay:    fixedRelay{},
		Influx:   sink,
		Logger:   quietLogger(),
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.len() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Run(ctx), "second Run must be rejected")

	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.IsRunning())
}

func TestNewService_Defaults(t *testing.T) {
	s := NewService(Dependencies{Relay: fixedRelay{}})
	assert.Equal(t, 30*time.Second, s.deps.Interval)
	assert.NotNil(t, s.deps.Now)
	assert.NotNil(t, s.logger)
}
