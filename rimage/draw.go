package rimage

import (
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	labelFont     *truetype.Font
	labelFontOnce sync.Once
)

// LabelFont returns the parsed Go regular font used for overlay labels.
func LabelFont() *truetype.Font {
	labelFontOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic(err)
		}
		labelFont = f
	})
	return labelFont
}

// DrawLabel writes text with its baseline starting at p. The text gets a one pixel outline in the
// inverse of c so it stays readable on both black and white squares.
func DrawLabel(dc *gg.Context, text string, p r2.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(LabelFont(), &truetype.Options{Size: size}))
	r, g, b, _ := c.RGBA()
	dc.SetColor(color.RGBA{R: 255 - uint8(r>>8), G: 255 - uint8(g>>8), B: 255 - uint8(b>>8), A: 255})
	for _, d := range [][2]float64{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		dc.DrawString(text, p.X+d[0], p.Y+d[1])
	}
	dc.SetColor(c)
	dc.DrawString(text, p.X, p.Y)
}
