package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultSpan      = 100 * time.Millisecond
	defaultCellWidth = 8
)

type ImageFormat string

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

type Config struct {
	DBPath     string
	SessionID  int64
	OutputFile string
	Format     ImageFormat

	// Span is the time covered by one image row.
	Span      time.Duration
	CellWidth int

	MinTimestamp *time.Time
	MaxTimestamp *time.Time
	TimeZone     *time.Location

	NoAnnotations bool
}

func NewConfig() *Config {
	return &Config{
		Format:    ImagePNG,
		Span:      defaultSpan,
		CellWidth: defaultCellWidth,
		TimeZone:  time.Local,
	}
}

// NewConfigFromCLI parses the command line flags.
func NewConfigFromCLI() (*Config, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, from, to, tz string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.DurationVar(&c.Span, "span", defaultSpan, "Time covered by one image row")
	fs.IntVar(&c.CellWidth, "cell", defaultCellWidth, "Width of one RF channel column in pixels")
	fs.StringVar(&from, "from", "", "Only render hops at or after this time (RFC 3339)")
	fs.StringVar(&to, "to", "", "Only render hops at or before this time (RFC 3339)")
	fs.StringVar(&tz, "tz", "Local", "Time zone of the time scale")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as time and channel scales")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)
	if imageFormat == "jpg" {
		imageFormat = string(ImageJPEG)
	}

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.SessionID <= 0:
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.Span <= 0:
		err = fmt.Errorf("invalid span: %s", c.Span)
	case c.CellWidth <= 0:
		err = fmt.Errorf("invalid cell width: %d", c.CellWidth)
	}
	if err == nil {
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		}
	}
	if err == nil {
		c.MinTimestamp, err = parseTime(from)
	}
	if err == nil {
		c.MaxTimestamp, err = parseTime(to)
	}
	if err == nil {
		c.TimeZone, err = time.LoadLocation(tz)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}
