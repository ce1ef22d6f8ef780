package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/twpayne/go-kml"
	"github.com/twpayne/go-kmz"
	"github.com/yookoala/realpath"

	"github.com/anytx/dsmlink/internal/storage"
)

// Run exports the GPS track of a recorded session as KML or KMZ.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}

	track, err := store.GPSTrack(ctx, config.SessionID)
	if err != nil {
		return err
	}

	faults, err := store.Faults(ctx, config.SessionID)
	if err != nil {
		return err
	}

	doc, err := buildDocument(session, track, faults, config.Points)
	if err != nil {
		return err
	}

	if err = writeDocument(config.OutputFile, config.Compress, doc); err != nil {
		return fmt.Errorf("writing track: %w", err)
	}

	path := config.OutputFile
	if rp, err := realpath.Realpath(path); err == nil {
		path = rp
	}
	logger.Info("track written",
		slog.String("destination", path),
		slog.Int("fixes", len(track)),
		slog.Int("faults", len(faults)))

	return nil
}

func writeDocument(path string, compress bool, doc kml.Element) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	return encode(out, compress, doc)
}

func encode(w io.Writer, compress bool, doc kml.Element) error {
	if compress {
		return kmz.NewKMZ(doc).WriteIndent(w, "", "  ")
	}
	return kml.KML(doc).WriteIndent(w, "", "  ")
}
