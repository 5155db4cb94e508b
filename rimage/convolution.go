package rimage

import (
	"image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/utils"
)

// Kernel is a convolution kernel. Values are indexed [y][x].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the kernel's size.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel value at x, y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// GetBlur3 returns a normalized 3x3 box blur.
func GetBlur3() Kernel {
	const n = 1. / 9.
	return Kernel{[][]float64{
		{n, n, n},
		{n, n, n},
		{n, n, n},
	},
		3,
		3,
	}
}

// reflect101 maps an out of range index back inside [0, n) mirroring around the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// ConvolveGrayFloat64 implements a gray float64 image convolution with the Kernel filter, anchored at the
// kernel center with reflected borders. There is no clamping in this case.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if filter.Width%2 == 0 || filter.Height%2 == 0 {
		return nil, errors.Errorf("kernel size must be odd, got %dx%d", filter.Width, filter.Height)
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	ax, ay := filter.Width/2, filter.Height/2

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := float64(0)
		for ky := 0; ky < filter.Height; ky++ {
			py := reflect101(y+ky-ay, h)
			for kx := 0; kx < filter.Width; kx++ {
				px := reflect101(x+kx-ax, w)
				sum += m.At(py, px) * filter.At(kx, ky)
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}
