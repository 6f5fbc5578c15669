package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/livemap/internal/influx"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/internal/relay"
)

// StatsSource is the relay state the monitor samples.
type StatsSource interface {
	Stats() relay.Stats
}

// RecorderSource reports recorder queue depth and counters.
type RecorderSource interface {
	Stats() recorder.Stats
}

// PointWriter accepts InfluxDB points.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Relay        StatsSource
	Recorder     RecorderSource // optional
	RecorderType string
	Influx       PointWriter // optional
	Logger       *slog.Logger
	Interval     time.Duration
	StatusFile   string // optional
	Now          func() time.Time
}

// Status is one sample, as written to the status file.
type Status struct {
	Time     time.Time       `json:"time"`
	Relay    relay.Stats     `json:"relay"`
	Recorder *recorder.Stats `json:"recorder,omitempty"`
}

// Service samples relay stats on a fixed interval
type Service struct {
	deps   Dependencies
	logger *slog.Logger

	mu        sync.RWMutex
	isRunning bool
	last      Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, logger: deps.Logger.With("component", "monitor")}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run samples until ctx is done. A second concurrent Run returns an error.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	s.logger.Debug("Starting status monitor", "interval", s.deps.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one reading and publishes it to the log, the status file and
// InfluxDB.
func (s *Service) Sample() Status {
	st := Status{Time: s.deps.Now().UTC(), Relay: s.deps.Relay.Stats()}
	if s.deps.Recorder != nil {
		rs := s.deps.Recorder.Stats()
		st.Recorder = &rs
	}

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	attrs := []any{
		"clients", st.Relay.Clients,
		"markers", st.Relay.Markers,
		"positions", st.Relay.Positions,
	}
	if st.Recorder != nil {
		attrs = append(attrs, "recorderPending", st.Recorder.Pending, "recorderDropped", st.Recorder.Dropped)
	}
	s.logger.Debug("Relay status", attrs...)

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, st); err != nil {
			s.logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(influx.StatsPoint(st.Relay.Clients, st.Relay.Markers, st.Relay.Positions, st.Time)); err != nil {
			s.logger.Error("Error writing relay stats to InfluxDB", "error", err)
		}
		if st.Recorder != nil {
			p := influx.RecorderPoint(s.deps.RecorderType, st.Recorder.Pending, st.Recorder.Written, st.Recorder.Failed, st.Recorder.Dropped, st.Time)
			if err := s.deps.Influx.WritePoint(p); err != nil {
				s.logger.Error("Error writing recorder stats to InfluxDB", "error", err)
			}
		}
	}
	return st
}

// writeStatusFile replaces path atomically so readers never see a partial
// document.
func writeStatusFile(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
