package rimage

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// ToGray converts any image to an 8-bit grayscale image whose bounds start at the origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	gray := image.NewGray(image.Rect(0, 0, nrgba.Bounds().Dx(), nrgba.Bounds().Dy()))
	draw.Draw(gray, gray.Bounds(), nrgba, nrgba.Bounds().Min, draw.Src)
	return gray
}

// BlurGray applies a gaussian blur of the given sigma. A non-positive sigma returns the input.
func BlurGray(gray *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return gray
	}
	return ToGray(imaging.Blur(gray, sigma))
}

// GrayToDense returns the luminance of a gray image as a rows x cols matrix.
func GrayToDense(gray *image.Gray) *mat.Dense {
	b := gray.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(y, x, float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
		}
	}
	return out
}

// BilinearGray samples the gray image at a sub-pixel location, clamping at the borders.
func BilinearGray(gray *image.Gray, x, y float64) float64 {
	b := gray.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x0 := int(x)
	y0 := int(y)
	if x < 0 {
		x0--
	}
	if y < 0 {
		y0--
	}
	fx := x - float64(x0)
	fy := y - float64(y0)
	at := func(px, py int) float64 {
		px = clamp(px, 0, b.Dx()-1)
		py = clamp(py, 0, b.Dy()-1)
		return float64(gray.GrayAt(b.Min.X+px, b.Min.Y+py).Y)
	}
	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bottom := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}
