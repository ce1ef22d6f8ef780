package app

import (
	"image/color"

	"github.com/mazznoer/colorgrad"

	"github.com/anytx/dsmlink/internal/spectrum"
)

// minShade keeps single hops visible against the background.
const minShade = 0.35

var (
	backgroundColor = color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 0xff}
	gridColor       = color.RGBA{R: 0x30, G: 0x30, B: 0x3a, A: 0xff}
)

// Palette colours a cell by its dominant sub-link and CRC seed polarity.
// The shade grows with the number of hops in the cell.
type Palette struct {
	a, aInverted colorgrad.Gradient
	b, bInverted colorgrad.Gradient
}

func NewPalette() *Palette {
	return &Palette{
		a:         colorgrad.Blues(),
		aInverted: colorgrad.Purples(),
		b:         colorgrad.Oranges(),
		bInverted: colorgrad.Reds(),
	}
}

// Color returns the colour of p when the busiest cell holds maxHops hops.
func (p *Palette) Color(pt spectrum.ChannelPoint, maxHops int) color.Color {
	if pt.Hops == 0 || maxHops <= 0 {
		return backgroundColor
	}

	t := minShade + (1-minShade)*float64(min(pt.Hops, maxHops))/float64(maxHops)
	inverted := pt.Inverted*2 > pt.Hops

	var grad colorgrad.Gradient
	switch {
	case pt.SubLinkB > pt.SubLinkA && inverted:
		grad = p.bInverted
	case pt.SubLinkB > pt.SubLinkA:
		grad = p.b
	case inverted:
		grad = p.aInverted
	default:
		grad = p.a
	}
	return grad.At(t)
}

// Legend returns the full-shade colour of every sub-link and polarity pair.
func (p *Palette) Legend() []LegendEntry {
	return []LegendEntry{
		{Label: "A", Color: p.a.At(1)},
		{Label: "A inv", Color: p.aInverted.At(1)},
		{Label: "B", Color: p.b.At(1)},
		{Label: "B inv", Color: p.bInverted.At(1)},
	}
}

type LegendEntry struct {
	Label string
	Color color.Color
}
