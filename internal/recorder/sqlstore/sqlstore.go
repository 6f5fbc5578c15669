// Package sqlstore is a recorder backend writing events to SQLite or
// Postgres through GORM.
package sqlstore

import (
	"fmt"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/OCAP2/livemap/internal/database"
	"github.com/OCAP2/livemap/internal/recorder"
)

// Options configures periodic snapshots of an in-memory SQLite database.
type Options struct {
	DumpPath     string
	DumpInterval time.Duration
}

// Backend writes recorder events into one table per event family.
type Backend struct {
	mgr  *database.Manager
	db   *gorm.DB
	opts Options

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New wraps an opened database. Init migrates the schema.
func New(mgr *database.Manager, opts Options) *Backend {
	return &Backend{
		mgr:  mgr,
		db:   mgr.DB,
		opts: opts,
		stop: make(chan struct{}),
	}
}

// DB exposes the connection for inspection.
func (b *Backend) DB() *gorm.DB { return b.db }

func (b *Backend) dumps() bool {
	return b.mgr.InMemory && b.opts.DumpPath != "" && b.opts.DumpInterval > 0
}

func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if b.dumps() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.mgr.DumpLoop(b.opts.DumpPath, b.opts.DumpInterval, b.stop)
		}()
	}
	return nil
}

// Write stores a batch in one transaction.
func (b *Backend) Write(events []recorder.Event) error {
	var (
		markers     []MarkerEvent
		positions   []PositionEvent
		chats       []ChatEvent
		connections []ConnectionEvent
	)
	for _, e := range events {
		switch e.Kind {
		case recorder.KindMarkerAdded, recorder.KindMarkerRemoved:
			markers = append(markers, toMarkerEvent(e))
		case recorder.KindPositionUpdate:
			positions = append(positions, toPositionEvent(e))
		case recorder.KindChatMessage:
			chats = append(chats, ChatEvent{Time: e.Time, ClientID: e.ClientID, Message: jsonOrNull(e.Payload)})
		case recorder.KindClientConnected, recorder.KindClientDisconnected:
			connections = append(connections, ConnectionEvent{
				Time:      e.Time,
				ClientID:  e.ClientID,
				Remote:    e.Remote,
				Connected: e.Kind == recorder.KindClientConnected,
			})
		}
	}

	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := createAll(tx, markers); err != nil {
			return fmt.Errorf("insert marker events: %w", err)
		}
		if err := createAll(tx, positions); err != nil {
			return fmt.Errorf("insert position events: %w", err)
		}
		if err := createAll(tx, chats); err != nil {
			return fmt.Errorf("insert chat events: %w", err)
		}
		if err := createAll(tx, connections); err != nil {
			return fmt.Errorf("insert connection events: %w", err)
		}
		return nil
	})
}

// Close stops the dump loop, writes a last snapshot and closes the database.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()

	if b.dumps() {
		if err := database.DumpToDisk(b.db, b.opts.DumpPath); err != nil {
			b.mgr.Logger.Error().Err(err).Msg("Final dump failed")
		}
	}
	return b.mgr.Close()
}

func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

func toMarkerEvent(e recorder.Event) MarkerEvent {
	action := "added"
	if e.Kind == recorder.KindMarkerRemoved {
		action = "removed"
	}
	return MarkerEvent{
		Time:     e.Time,
		Action:   action,
		ClientID: e.ClientID,
		UserID:   e.UserID,
		MarkerID: e.MarkerID,
		Position: pointOf(e),
		Marker:   jsonOrNull(e.Payload),
	}
}

func toPositionEvent(e recorder.Event) PositionEvent {
	return PositionEvent{
		Time:     e.Time,
		ClientID: e.ClientID,
		UserID:   e.UserID,
		Position: pointOf(e),
		Player:   jsonOrNull(e.Payload),
	}
}

// pointOf returns the event's map position, or an empty point when the
// payload carries none.
func pointOf(e recorder.Event) geom.Point {
	x, y, ok := e.Coordinates()
	if !ok {
		return geom.Point{}
	}
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY})
}

func jsonOrNull(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}
