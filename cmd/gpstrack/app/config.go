package app

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	DBPath     string
	SessionID  int64
	OutputFile string

	// Compress writes a KMZ archive instead of plain KML.
	Compress bool

	// Points adds a placemark for every fix next to the track line.
	Points bool
}

// NewConfigFromCLI parses the command line flags.
func NewConfigFromCLI() (*Config, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	c := &Config{}

	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.BoolVar(&c.Compress, "kmz", false, "Generate KMZ (vice KML)")
	fs.BoolVar(&c.Points, "points", false, "Add a placemark for every GPS fix")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.SessionID <= 0:
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	}
	if err != nil {
		fs.Usage()
		return nil, err
	}

	ext := ".kml"
	if c.Compress {
		ext = ".kmz"
	}
	c.OutputFile = strings.TrimSuffix(c.OutputFile, filepath.Ext(c.OutputFile)) + ext
	return c, nil
}
