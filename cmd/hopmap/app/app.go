package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yookoala/realpath"

	"github.com/anytx/dsmlink/internal/spectrum"
	"github.com/anytx/dsmlink/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	m, session, err := readHops(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer := NewRenderer(RenderConfig{
		Location:      config.TimeZone,
		CellWidth:     config.CellWidth,
		NoAnnotations: config.NoAnnotations,
		Title: fmt.Sprintf("Session %d: %s %s via %s",
			session.ID, session.Protocol, session.Identity, session.Transceiver),
	})

	img, err := renderer.Render(m)
	if err != nil {
		return fmt.Errorf("rendering hop map: %w", err)
	}

	if err = writeImage(config.OutputFile, config.Format, img); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	path := config.OutputFile
	if rp, err := realpath.Realpath(path); err == nil {
		path = rp
	}
	logger.Info("hop map written",
		slog.Group("image",
			slog.String("destination", path),
			slog.String("format", string(config.Format)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	return nil
}

func readHops(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*HopMap, *spectrum.LinkSession, error) {
	opts := []storage.ReaderOption{
		storage.WithSpanDuration(config.Span),
		storage.WithChannelRange(0, spectrum.NumChannels-1),
	}

	var filters []any
	if config.MinTimestamp != nil {
		opts = append(opts, storage.WithStartTime(*config.MinTimestamp))
		filters = append(filters, slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)))
	}
	if config.MaxTimestamp != nil {
		opts = append(opts, storage.WithEndTime(*config.MaxTimestamp))
		filters = append(filters, slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))
	}
	filters = append(filters, slog.Duration("span", config.Span))

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadHops(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	m := NewHopMap(config.Span)
	for iter.Next(ctx) {
		m.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, nil, err
	}

	logger.Info("finished reading hops",
		slog.Group("stats",
			slog.String("minTimestamp", m.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", m.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("hops", humanize.Comma(int64(m.Hops))),
			slog.String("rows", humanize.Comma(int64(m.Height))),
			slog.Int("channels", m.UsedChannels()),
		))

	return m, iter.Session(), nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{Quality: 98})
	default:
		return png.Encode(out, img)
	}
}
