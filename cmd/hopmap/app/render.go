package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/anytx/dsmlink/internal/spectrum"
)

const (
	dpi            = 72.0
	fontSize       = 12.0
	tickMarkLength = 5
	rowsPerLabel   = 60
	channelsLabel  = 10
	legendSwatch   = 10

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 100
	defaultBottomBorder = 50
	defaultRightBorder  = 20

	defaultTimeFormat     = "15:04:05.000"
	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int // Space for channel scale
	Left   int // Space for time scale
	Bottom int // Space for information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for hop map visualization
type RenderConfig struct {
	// Time display configuration
	TimeFormat     string         // Format string for time labels
	DatetimeFormat string         // Format string for the info bar
	Location       *time.Location // Timezone for time display

	CellWidth     int     // Width of one channel column in pixels
	FontSize      float64 // Font size in points
	NoAnnotations bool

	// Info bar header, e.g. the session description
	Title string

	BorderConfig BorderConfig
}

// Renderer draws a HopMap as channel columns against time rows.
type Renderer struct {
	config  RenderConfig
	palette *Palette
}

// NewRenderer creates a new hop map renderer with the given configuration
func NewRenderer(config RenderConfig) *Renderer {
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.CellWidth <= 0 {
		config.CellWidth = defaultCellWidth
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
	} else {
		if config.BorderConfig.Top == 0 {
			config.BorderConfig.Top = defaultTopBorder
		}
		if config.BorderConfig.Left == 0 {
			config.BorderConfig.Left = defaultLeftBorder
		}
		if config.BorderConfig.Bottom == 0 {
			config.BorderConfig.Bottom = defaultBottomBorder
		}
		if config.BorderConfig.Right == 0 {
			config.BorderConfig.Right = defaultRightBorder
		}
	}

	return &Renderer{config: config, palette: NewPalette()}
}

// Render creates an image of the hop map with annotations
func (r *Renderer) Render(m *HopMap) (*image.RGBA, error) {
	if m.Height == 0 {
		return nil, fmt.Errorf("hop map is empty")
	}

	b := r.config.BorderConfig
	mapWidth := m.Width * r.config.CellWidth
	img := image.NewRGBA(image.Rect(0, 0, b.Left+mapWidth+b.Right, b.Top+m.Height+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(b.Left, b.Top, b.Left+mapWidth, b.Top+m.Height)
	draw.Draw(img, area, image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(r.config)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, m, r.palette); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	r.renderMap(img, area, m)
	return img, nil
}

func (r *Renderer) renderMap(img *image.RGBA, area image.Rectangle, m *HopMap) {
	cw := r.config.CellWidth

	for y, row := range m.Rows {
		imgY := area.Min.Y + y
		for _, p := range row {
			x0 := area.Min.X + int(p.Channel)*cw
			if p.Hops == 0 {
				// column separators keep idle channels readable
				if cw > 2 {
					img.Set(x0, imgY, gridColor)
				}
				continue
			}

			c := r.palette.Color(p, m.MaxCellHops)
			for x := x0; x < x0+cw; x++ {
				img.Set(x, imgY, c)
			}
		}
	}
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, m *HopMap, p *Palette) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *HopMap, *Palette) error
	}{
		{"drawing channel scale", a.drawChannelScale},
		{"drawing time scale", a.drawTimeScale},
		{"drawing info bar", a.drawInfoBar},
	}
	for _, op := range ops {
		if err := op.fn(img, m, p); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawChannelScale(img *image.RGBA, m *HopMap, _ *Palette) error {
	b := a.config.BorderConfig
	textY := b.Top - tickMarkLength - a.fontHeight()/2

	for ch := 0; ch < m.Width; ch += channelsLabel {
		x := b.Left + ch*a.config.CellWidth + a.config.CellWidth/2

		for y := b.Top - tickMarkLength; y < b.Top; y++ {
			img.Set(x, y, color.Black)
		}

		label := humanHz(spectrum.ChannelFrequency(uint8(ch)))
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing channel label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, m *HopMap, _ *Palette) error {
	b := a.config.BorderConfig
	metrics := a.fontFace.Metrics()

	for y := 0; y < m.Height; y += rowsPerLabel {
		imgY := b.Top + y

		for x := b.Left - tickMarkLength; x < b.Left; x++ {
			img.Set(x, imgY, color.Black)
		}

		ts := m.TimestampStart.Add(time.Duration(y) * m.Span).In(a.config.Location)
		textY := imgY + a.fontHeight()/2 - metrics.Descent.Round()
		if _, err := a.context.DrawString(ts.Format(a.config.TimeFormat), freetype.Pt(5, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, m *HopMap, p *Palette) error {
	b := a.config.BorderConfig
	lineHeight := a.fontHeight() + 2
	textY := img.Bounds().Max.Y - b.Bottom + lineHeight

	var sb strings.Builder
	if a.config.Title != "" {
		sb.WriteString(a.config.Title)
		sb.WriteString("; ")
	}
	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		m.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		m.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)))
	if _, err := a.context.DrawString(sb.String(), freetype.Pt(b.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	stats := fmt.Sprintf("%s hops on %d channels; 1 row = %s; 1 column = %s",
		humanize.Comma(int64(m.Hops)),
		m.UsedChannels(),
		m.Span,
		humanHz(spectrum.ChannelWidth))
	textY += lineHeight
	if _, err := a.context.DrawString(stats, freetype.Pt(b.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	// legend at the right end of the stats line
	x := b.Left + m.Width*a.config.CellWidth
	legend := p.Legend()
	for i := len(legend) - 1; i >= 0; i-- {
		e := legend[i]
		x -= font.MeasureString(a.fontFace, e.Label).Round() + legendSwatch + 12

		swatch := image.Rect(x, textY-legendSwatch, x+legendSwatch, textY)
		draw.Draw(img, swatch, image.NewUniform(e.Color), image.Point{}, draw.Src)
		if _, err := a.context.DrawString(e.Label, freetype.Pt(x+legendSwatch+3, textY)); err != nil {
			return fmt.Errorf("drawing legend: %w", err)
		}
	}
	return nil
}

func humanHz(hz float64) string {
	v, prefix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%s %sHz", humanize.FtoaWithDigits(v, 3), prefix)
}
