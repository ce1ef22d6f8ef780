package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/link"
	"github.com/anytx/dsmlink/internal/publish"
	"github.com/anytx/dsmlink/internal/radio/sim"
	"github.com/anytx/dsmlink/internal/storage"
)

const (
	storageDir  = "data"
	eventBuffer = 4096
	simFrames   = 1024
)

// ErrNoSPIBus is returned when a hardware radio is requested on a host build.
var ErrNoSPIBus = errors.New("no SPI bus available on this platform; use radio.type 'sim' or the anytx firmware")

// Run drives the link described by config until ctx is done or the link
// duration elapses.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	tx, simTx, err := createTransceiver(&config.Radio, logger)
	if err != nil {
		return fmt.Errorf("failed to create transceiver: %w", err)
	}

	runnerOptions := []func(*link.Runner){
		link.WithLogger(logger),
		link.WithDuration(time.Duration(config.Link.Duration)),
	}
	if config.Link.FaultThreshold > 0 {
		runnerOptions = append(runnerOptions, link.WithFaultThreshold(config.Link.FaultThreshold))
	}

	runner, err := link.New(config.Link.Config, tx, createSticks(&config.Link.Sticks), runnerOptions...)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}

	session := runner.Session()

	var (
		store     storage.Store
		sessionID int64
	)
	if config.Storage.Enabled {
		sqlite, dbPath, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer func() {
			if err := sqlite.Close(); err != nil {
				logger.Error("closing storage", slog.String("error", err.Error()))
			}
		}()

		var runID string
		sessionID, runID, err = sqlite.CreateSession(ctx, config.Link.Protocol.String(), string(config.Radio.Type), session.Identity().String(), config.Link)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		store = sqlite

		logger.Info("recording link",
			slog.String("path", dbPath),
			slog.Int64("session", sessionID),
			slog.String("run", runID))
	}

	var recorderOptions []func(*Recorder)
	recorderOptions = append(recorderOptions, WithMaxBatchSize(config.Storage.MaxBatchSize))

	var publisher *publish.Publisher
	if config.MQTT.Enabled {
		if publisher, err = publish.Dial(config.MQTT.Broker, publish.WithLogger(logger), publish.WithQoS(config.MQTT.QoS)); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer publisher.Close()

		recorderOptions = append(recorderOptions, WithSink(publisher))
		logger.Info("publishing link", slog.String("topic", publisher.Topic("#")))
	}

	recorder := NewRecorder(store, sessionID, logger, recorderOptions...)

	linkCtx, stop := context.WithCancel(ctx)
	defer stop()

	events := make(chan link.Event, eventBuffer)
	g, gCtx := errgroup.WithContext(linkCtx)

	g.Go(func() error {
		defer stop()
		return runner.Run(gCtx, events)
	})

	g.Go(func() error {
		return recorder.Consume(gCtx, events)
	})

	if interval := time.Duration(config.Settings.StatsInterval); interval > 0 {
		g.Go(func() error {
			reportStats(gCtx, runner, publisher, interval, logger)
			return nil
		})
	}

	if simTx != nil && config.Link.Telemetry && config.Radio.TelemetryInterval > 0 {
		feeder := NewFeeder(simTx, time.Duration(config.Radio.TelemetryInterval), time.Now)
		g.Go(func() error {
			return feeder.Run(gCtx)
		})
	}

	err = g.Wait()
	logStats(runner.Stats(), 0, logger)
	return err
}

func createTransceiver(config *RadioConfig, logger *slog.Logger) (dsm.Transceiver, *sim.Transceiver, error) {
	switch config.Type {
	case RadioSim, "":
		id, err := config.mfgID()
		if err != nil {
			return nil, nil, err
		}
		tx := sim.New(sim.WithMfgID(id), sim.WithLogger(logger), sim.WithFrameLimit(simFrames))
		return tx, tx, nil

	case RadioCYRF6936:
		return nil, nil, ErrNoSPIBus

	default:
		return nil, nil, fmt.Errorf("unknown radio type '%s'", config.Type)
	}
}

func createSticks(config *SticksConfig) dsm.ChannelSource {
	if config.Mode == SticksSweep {
		period := time.Duration(config.Period)
		if period == 0 {
			period = defaultSweepPeriod
		}
		return link.NewSweep(period, dsm.DefaultChannelMax, time.Now)
	}
	return link.NewStatic(config.Values...)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbPath := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbPath = config.DataDirectory
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(wd, dbPath)
		}
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, "", fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, "", fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("dsmlink_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), dbPath, nil
}

// reportStats logs the runner counters and the hop rate every interval.
func reportStats(ctx context.Context, runner *link.Runner, publisher *publish.Publisher, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastHops uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats := runner.Stats()
			rate := float64(stats.Hops-lastHops) / interval.Seconds()
			lastHops = stats.Hops

			logStats(stats, rate, logger)

			if publisher != nil {
				if err := publisher.PublishStats(now, stats); err != nil {
					logger.Warn("publishing stats", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func logStats(stats link.Stats, rate float64, logger *slog.Logger) {
	attrs := []any{
		slog.String("steps", humanize.Comma(int64(stats.Steps))),
		slog.String("hops", humanize.Comma(int64(stats.Hops))),
		slog.String("telemetry", humanize.Comma(int64(stats.Telemetry))),
		slog.String("faults", humanize.Comma(int64(stats.Faults))),
		slog.String("dropped", humanize.Comma(int64(stats.Dropped))),
		slog.String("overruns", humanize.Comma(int64(stats.Overruns))),
	}
	if rate > 0 {
		attrs = append(attrs, slog.String("rate", humanize.SIWithDigits(rate, 1, "hop/s")))
	}
	logger.Info("link stats", slog.Group("stats", attrs...))
}
