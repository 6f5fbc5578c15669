package main

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/OCAP2/livemap/internal/config"
	"github.com/OCAP2/livemap/internal/database"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/internal/recorder/memory"
	"github.com/OCAP2/livemap/internal/recorder/sqlstore"
)

// Recorder types accepted in recorder.type.
const (
	RecorderNone     = "none"
	RecorderMemory   = "memory"
	RecorderSQLite   = "sqlite"
	RecorderPostgres = "postgres"
)

// createRecorderBackend returns nil for "none".
func createRecorderBackend(cfg config.RecorderConfig, zlog zerolog.Logger) (recorder.Backend, error) {
	switch cfg.Type {
	case "", RecorderNone:
		return nil, nil

	case RecorderMemory:
		return memory.New(cfg.Memory), nil

	case RecorderSQLite:
		mgr := database.NewManager(zlog)
		if _, err := mgr.OpenSQLite(""); err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return sqlstore.New(mgr, sqlstore.Options{
			DumpPath:     cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
		}), nil

	case RecorderPostgres:
		mgr := database.NewManager(zlog)
		if _, err := mgr.OpenPostgres(cfg.Postgres); err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		return sqlstore.New(mgr, sqlstore.Options{}), nil

	default:
		return nil, fmt.Errorf("unknown recorder type: %s", cfg.Type)
	}
}

// newRecorder builds the configured recorder, or nil when recording is off.
func newRecorder(cfg config.RecorderConfig, zlog zerolog.Logger, logger *slog.Logger) (*recorder.Recorder, error) {
	backend, err := createRecorderBackend(cfg, zlog)
	if err != nil || backend == nil {
		return nil, err
	}
	rec, err := recorder.New(backend, recorder.Options{
		FlushInterval: cfg.FlushInterval,
		BatchSize:     cfg.BatchSize,
		Logger:        logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Info("Session recorder initialized", "type", cfg.Type)
	return rec, nil
}
