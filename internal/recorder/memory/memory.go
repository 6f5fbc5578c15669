// Package memory is a recorder backend that keeps the session in memory and
// exports it as one JSON document when closed.
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/OCAP2/livemap/internal/config"
	"github.com/OCAP2/livemap/internal/recorder"
)

// Export is the root JSON structure written on close.
type Export struct {
	Started time.Time             `json:"started"`
	Ended   time.Time             `json:"ended"`
	Counts  map[recorder.Kind]int `json:"counts"`
	Events  []recorder.Event      `json:"events"`
}

// Backend accumulates events and exports them on Close.
type Backend struct {
	cfg config.MemoryConfig
	now func() time.Time

	mu             sync.Mutex
	started        time.Time
	events         []recorder.Event
	lastExportPath string
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg, now: time.Now}
}

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = b.now().UTC()
	b.events = b.events[:0]
	return nil
}

func (b *Backend) Write(events []recorder.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

// Close exports the session. An empty session writes nothing.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.exportJSON()
}

// Events returns a copy of everything written so far.
func (b *Backend) Events() []recorder.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

// ExportPath returns the file written by the last Close, if any.
func (b *Backend) ExportPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastExportPath
}

func (b *Backend) buildExport() Export {
	counts := make(map[recorder.Kind]int)
	for _, e := range b.events {
		counts[e.Kind]++
	}
	return Export{
		Started: b.started,
		Ended:   b.now().UTC(),
		Counts:  counts,
		Events:  b.events,
	}
}

func (b *Backend) exportJSON() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := fmt.Sprintf("livemap_%s.json", b.started.Format("20060102_150405"))
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if b.cfg.CompressOutput {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := json.NewEncoder(w).Encode(b.buildExport()); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}

	b.lastExportPath = outputPath
	return nil
}
