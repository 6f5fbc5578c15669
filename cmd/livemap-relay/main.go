// Command livemap-relay runs the live map WebSocket relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/livemap/internal/config"
	"github.com/OCAP2/livemap/internal/influx"
	"github.com/OCAP2/livemap/internal/logging"
	"github.com/OCAP2/livemap/internal/monitor"
	intOtel "github.com/OCAP2/livemap/internal/otel"
	"github.com/OCAP2/livemap/internal/recorder"
	"github.com/OCAP2/livemap/internal/relay"
	"github.com/OCAP2/livemap/internal/server"
)

// set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "livemap-relay:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := config.Flags()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	configDir, _ := fs.GetString("config-dir")
	configErr := config.Load(configDir)
	if err := config.BindFlags(fs); err != nil {
		return err
	}

	sessionStart := time.Now()
	logFile, err := logging.OpenSessionFile(config.GetString("logsDir"), sessionStart)
	if err != nil {
		return err
	}
	defer logFile.Close()

	otelProvider, err := intOtel.New(intOtel.Config{
		OTelConfig: config.GetOTelConfig(),
		LogWriter:  logFile,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	// the logger is built before the relay it reports on
	var live atomic.Pointer[relay.Relay]
	logOpts := logging.Options{
		Level:    config.GetString("logLevel"),
		File:     logFile,
		Provider: otelProvider.LoggerProvider(),
		Context: logging.ClientCountContext(func() int64 {
			if r := live.Load(); r != nil {
				return int64(r.ClientCount())
			}
			return 0
		}),
	}

	var graylogErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGraylogWriter(gl.Address)
		if err != nil {
			graylogErr = err
		} else {
			defer w.Close()
			logOpts.Graylog = w
		}
	}

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logOpts)
	logger := slogManager.Logger()
	slog.SetDefault(logger)

	logger.Info("Starting livemap relay", "version", Version, "buildDate", BuildDate, "configDir", configDir)
	if configErr != nil {
		logger.Warn("Config file not loaded, using defaults", "error", configErr)
	}
	if graylogErr != nil {
		logger.Warn("Graylog disabled", "error", graylogErr)
	}

	zlog := newInfraLogger(logFile, config.GetString("logLevel"))

	rec, err := newRecorder(config.GetRecorderConfig(), zlog, logger)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	deps := relay.Dependencies{Logger: logger}
	if rec != nil {
		deps.Recorder = rec
	}
	r, err := relay.New(deps)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	live.Store(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var influxMgr *influx.Manager
	if ic := config.GetInfluxConfig(); ic.Enabled {
		influxMgr = influx.NewManager(zlog, ic)
		if err := influxMgr.Connect(ctx); err != nil {
			logger.Error("InfluxDB unavailable", "error", err)
			influxMgr = nil
		}
	}

	sc := config.GetServerConfig()
	srv := server.New(server.Config{
		Host:            sc.Host,
		Port:            sc.Port,
		Path:            sc.Path,
		AllowedOrigins:  sc.AllowedOrigins,
		ShutdownTimeout: sc.ShutdownTimeout,
		Client: relay.ClientConfig{
			WriteWait:      sc.WriteWait,
			PongWait:       sc.PongWait,
			MaxMessageSize: sc.MaxMessageSize,
			SendBuffer:     sc.SendBuffer,
		},
	}, r, logger)

	monDeps := monitor.Dependencies{
		Relay:        r,
		RecorderType: config.GetRecorderConfig().Type,
		Logger:       logger,
		Interval:     config.GetMonitorConfig().Interval,
		StatusFile:   config.GetMonitorConfig().StatusFile,
	}
	if rec != nil {
		monDeps.Recorder = rec
	}
	if influxMgr != nil {
		monDeps.Influx = influxMgr
	}
	mon := monitor.NewService(monDeps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	if rec != nil {
		g.Go(func() error { return rec.Run(gctx) })
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("Relay stopped with error", "error", runErr)
	} else {
		logger.Info("Relay stopped")
	}

	shutdown(logger, rec, influxMgr, otelProvider, slogManager)
	return runErr
}

// shutdown releases sinks in dependency order. The server and relay are
// already closed when it runs.
func shutdown(logger *slog.Logger, rec *recorder.Recorder, influxMgr *influx.Manager, otelProvider *intOtel.Provider, slogManager *logging.SlogManager) {
	if rec != nil {
		if err := rec.Close(); err != nil {
			logger.Error("Recorder close failed", "error", err)
		}
	}
	if influxMgr != nil {
		if err := influxMgr.Close(); err != nil {
			logger.Error("InfluxDB close failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := slogManager.Flush(ctx); err != nil {
		logger.Warn("Log flush failed", "error", err)
	}
	if err := otelProvider.Shutdown(ctx); err != nil {
		logger.Warn("OTel shutdown failed", "error", err)
	}
}

// newInfraLogger builds the zerolog logger used by the database and InfluxDB
// managers.
func newInfraLogger(file io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, file)
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
