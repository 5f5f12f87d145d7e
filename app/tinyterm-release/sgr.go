package tinyterm

import "image/color"

// SGR parameter IDs understood by the terminal.
const (
	SGRReset          = 0
	SGRBold           = 1
	SGRFgBlack        = 30
	SGRFgRed          = 31
	SGRFgGreen        = 32
	SGRFgYellow       = 33
	SGRFgBlue         = 34
	SGRFgMagenta      = 35
	SGRFgCyan         = 36
	SGRFgWhite        = 37
	SGRSetFgColor     = 38
	SGRDefaultFgColor = 39
	SGRBgBlack        = 40
	SGRBgRed          = 41
	SGRBgGreen        = 42
	SGRBgYellow       = 43
	SGRBgBlue         = 44
	SGRBgMagenta      = 45
	SGRBgCyan         = 46
	SGRBgWhite        = 47
	SGRSetBgColor     = 48
	SGRDefaultBgColor = 49
)

// Color is an index into the 8 colour ANSI palette.
type Color uint8

const (
	ColorBlack Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
)

var palette = [...]color.RGBA{
	ColorBlack:   {0x00, 0x00, 0x00, 0xff},
	ColorRed:     {0xff, 0x00, 0x00, 0xff},
	ColorGreen:   {0x00, 0xff, 0x00, 0xff},
	ColorYellow:  {0xff, 0xff, 0x00, 0xff},
	ColorBlue:    {0x00, 0x00, 0xff, 0xff},
	ColorMagenta: {0xff, 0x00, 0xff, 0xff},
	ColorCyan:    {0x00, 0xff, 0xff, 0xff},
	ColorWhite:   {0xff, 0xff, 0xff, 0xff},
}

// RGBA returns the palette colour. Indexes past the palette wrap.
func (c Color) RGBA() color.RGBA {
	return palette[int(c)%len(palette)]
}

type sgrAttrs struct {
	attrs byte
	fgcol color.RGBA
	bgcol color.RGBA
}

func (a *sgrAttrs) reset() {
	a.attrs = 0
	a.fgcol = ColorWhite.RGBA()
	a.bgcol = ColorBlack.RGBA()
}

func (a *sgrAttrs) setFG(c Color) { a.fgcol = c.RGBA() }
func (a *sgrAttrs) setBG(c Color) { a.bgcol = c.RGBA() }
