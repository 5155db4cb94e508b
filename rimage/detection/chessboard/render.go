package chessboard

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/utils"
)

// renderSamples is the supersampling factor per axis.
const renderSamples = 3

// RenderView draws the board as the camera would see it from pose ext, including lens distortion. The board
// has a one square white margin around its squares and sits on a white background.
func RenderView(board transform.CheckerboardConfig, intr *transform.CameraIntrinsic, ext transform.CameraExtrinsic) (*image.Gray, error) {
	if err := board.CheckValid(); err != nil {
		return nil, err
	}
	if intr.ImageSize.Width <= 0 || intr.ImageSize.Height <= 0 {
		return nil, transform.NewInvalidParameterError("intrinsic has no image size")
	}
	ct, err := transform.NewCoordinateTransformer(intr, &ext)
	if err != nil {
		return nil, err
	}
	size := image.Point{X: intr.ImageSize.Width, Y: intr.ImageSize.Height}
	out := image.NewGray(image.Rectangle{Max: size})
	utils.ParallelForEachPixel(size, func(x, y int) {
		sum := 0.
		for sy := 0; sy < renderSamples; sy++ {
			for sx := 0; sx < renderSamples; sx++ {
				p := r2.Point{
					X: float64(x) + (float64(sx)+0.5)/renderSamples - 0.5,
					Y: float64(y) + (float64(sy)+0.5)/renderSamples - 0.5,
				}
				sum += boardIntensity(ct, board, p)
			}
		}
		out.SetGray(x, y, color.Gray{Y: uint8(math.Round(sum / (renderSamples * renderSamples)))})
	})
	return out, nil
}

// RenderTarget draws a printable, fronto-parallel board with pxPerSquare pixels per square and a one square
// margin.
func RenderTarget(board transform.CheckerboardConfig, pxPerSquare int) (*image.Gray, error) {
	if err := board.CheckValid(); err != nil {
		return nil, err
	}
	if pxPerSquare < 1 {
		return nil, transform.NewInvalidParameterError("pixels per square must be positive, got %d", pxPerSquare)
	}
	w, h := (board.Cols+3)*pxPerSquare, (board.Rows+3)*pxPerSquare
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(x, y, color.Gray{Y: uint8(squareIntensity(board,
				float64(x)/float64(pxPerSquare)-1, float64(y)/float64(pxPerSquare)-1))})
		}
	}
	return out, nil
}

func boardIntensity(ct *transform.CoordinateTransformer, board transform.CheckerboardConfig, p r2.Point) float64 {
	w, err := ct.PixelToWorldPoint(p, 0)
	if err != nil || math.IsNaN(w.X) || math.IsNaN(w.Y) {
		return 255
	}
	// the point must be in front of the camera
	c, err := ct.WorldToCameraPoint(w)
	if err != nil || c.Z <= 0 {
		return 255
	}
	return squareIntensity(board, w.X/board.SquareSize+1, w.Y/board.SquareSize+1)
}

// squareIntensity takes board coordinates in squares, where the first inner corner is at (1, 1).
func squareIntensity(board transform.CheckerboardConfig, u, v float64) float64 {
	if u < 0 || v < 0 || u >= float64(board.Cols+1) || v >= float64(board.Rows+1) {
		return 255
	}
	if (int(math.Floor(u))+int(math.Floor(v)))%2 == 0 {
		return 0
	}
	return 255
}
