package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into saddle points.
type SaddleConfiguration struct {
	BlurSigma      float64 `json:"blur_sigma" mapstructure:"blur_sigma"`           // gaussian blur applied before differentiation
	ScoreThreshold float64 `json:"score_threshold" mapstructure:"score_threshold"` // minimum saddle score as a fraction of the image maximum
	NMSWindowSize  int     `json:"win_size" mapstructure:"win_size"`               // half size of the non-maximum suppression window
	RingRadius     float64 `json:"ring_radius" mapstructure:"ring_radius"`         // radius of the circle sampled to classify a saddle as an X junction
	MaxPointDist   float64 `json:"max_point_dist" mapstructure:"max_point_dist"`   // snapping distance as a fraction of the local grid spacing
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSigma:      1.5,
	ScoreThreshold: 0.1,
	NMSWindowSize:  5,
	RingRadius:     5,
	MaxPointDist:   0.35,
}

// SaddlePoint is a candidate chessboard corner with its saddle score.
type SaddlePoint struct {
	Point r2.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// GetSaddleMap returns the saddle score of every pixel: the negated Hessian determinant, clamped at 0.
func GetSaddleMap(img *mat.Dense) (*mat.Dense, error) {
	hessian, err := computePixelWiseHessianDeterminant(img)
	if err != nil {
		return nil, err
	}
	// saddle points are points where determinant of hessian is <0
	hessian.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, nil
}

// NonMaxSuppression keeps the points of img that are the maximum of their (2*winSize+1)² neighborhood and at
// least thresh. Plateaus keep only their first point in row-major order.
func NonMaxSuppression(img *mat.Dense, winSize int, thresh float64) []image.Point {
	h, w := img.Dims()
	var out []image.Point
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := img.At(i, j)
			if v <= 0 || v < thresh {
				continue
			}
			isMax := true
			for di := -winSize; di <= winSize && isMax; di++ {
				for dj := -winSize; dj <= winSize; dj++ {
					y, x := i+di, j+dj
					if (di == 0 && dj == 0) || y < 0 || y >= h || x < 0 || x >= w {
						continue
					}
					n := img.At(y, x)
					// earlier neighbors win ties
					if n > v || (n == v && (di < 0 || (di == 0 && dj < 0))) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				out = append(out, image.Point{X: j, Y: i})
			}
		}
	}
	return out
}

// subPixelPeak refines an integer maximum of m with a separable quadratic fit.
func subPixelPeak(m *mat.Dense, p image.Point) r2.Point {
	h, w := m.Dims()
	out := r2.Point{X: float64(p.X), Y: float64(p.Y)}
	if p.X > 0 && p.X < w-1 {
		l, c, r := m.At(p.Y, p.X-1), m.At(p.Y, p.X), m.At(p.Y, p.X+1)
		if d := l - 2*c + r; d < 0 {
			out.X += math.Max(-0.5, math.Min(0.5, (l-r)/(2*d)))
		}
	}
	if p.Y > 0 && p.Y < h-1 {
		u, c, b := m.At(p.Y-1, p.X), m.At(p.Y, p.X), m.At(p.Y+1, p.X)
		if d := u - 2*c + b; d < 0 {
			out.Y += math.Max(-0.5, math.Min(0.5, (u-b)/(2*d)))
		}
	}
	return out
}

// ringTransitions counts the light/dark changes on a circle around p. Inner chessboard corners have four;
// the L shaped corners on the board's border have two.
func ringTransitions(gray *image.Gray, p r2.Point, radius float64) int {
	const samples = 24
	vals := make([]float64, samples)
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := range vals {
		a := 2 * math.Pi * float64(k) / samples
		vals[k] = rimage.BilinearGray(gray, p.X+radius*math.Cos(a), p.Y+radius*math.Sin(a))
		lo = math.Min(lo, vals[k])
		hi = math.Max(hi, vals[k])
	}
	if hi-lo < 10 {
		return 0
	}
	mid := (lo + hi) / 2
	transitions := 0
	for k := range vals {
		if (vals[k] > mid) != (vals[(k+1)%samples] > mid) {
			transitions++
		}
	}
	return transitions
}

// GetSaddlePoints finds X junction candidates in a gray image, strongest first.
func GetSaddlePoints(gray *image.Gray, conf *SaddleConfiguration) ([]SaddlePoint, error) {
	blurred := rimage.BlurGray(gray, conf.BlurSigma)
	saddleMap, err := GetSaddleMap(rimage.GrayToDense(blurred))
	if err != nil {
		return nil, err
	}
	maxScore := mat.Max(saddleMap)
	if maxScore <= 0 {
		return nil, nil
	}
	peaks := NonMaxSuppression(saddleMap, conf.NMSWindowSize, conf.ScoreThreshold*maxScore)
	out := make([]SaddlePoint, 0, len(peaks))
	for _, p := range peaks {
		pt := subPixelPeak(saddleMap, p)
		if ringTransitions(blurred, pt, conf.RingRadius) != 4 {
			continue
		}
		out = append(out, SaddlePoint{Point: pt, Score: saddleMap.At(p.Y, p.X)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// getMinSaddleDistance returns the saddle point that minimizes the distance with r2.Point pt, as well as this
// minimum distance.
func getMinSaddleDistance(saddlePoints []r2.Point, pt r2.Point) (int, float64) {
	bestDist := math.Inf(1)
	best := -1
	for i, saddlePt := range saddlePoints {
		if dist := pt.Sub(saddlePt).Norm(); dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best, bestDist
}
