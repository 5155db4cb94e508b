package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"
)

// Finder locates the inner corners of a cols x rows chessboard (pattern is (cols, rows)). On success the
// corners are ordered row by row.
type Finder interface {
	FindCorners(gray *image.Gray, pattern image.Point) ([]r2.Point, bool)
}

// Refiner moves corners to sub-pixel accuracy within a search window of the given half size.
type Refiner interface {
	RefineCorners(gray *image.Gray, corners []r2.Point, window image.Point, criteria TermCriteria) []r2.Point
}

// SaddleFinder finds chessboards by fitting a grid to the saddle points of the image.
type SaddleFinder struct {
	Conf SaddleConfiguration
}

// NewSaddleFinder returns a SaddleFinder with DefaultSaddleConf.
func NewSaddleFinder() *SaddleFinder {
	return &SaddleFinder{Conf: DefaultSaddleConf}
}

// FindCorners fits the grid to all X junctions first. Clutter outside the board can pull the hull off the
// board, so on failure it retries with only the strongest candidates.
func (sf *SaddleFinder) FindCorners(gray *image.Gray, pattern image.Point) ([]r2.Point, bool) {
	conf := sf.Conf
	if conf == (SaddleConfiguration{}) {
		conf = DefaultSaddleConf
	}
	saddles, err := GetSaddlePoints(gray, &conf)
	if err != nil {
		return nil, false
	}
	n := pattern.X * pattern.Y
	if n <= 0 || len(saddles) < n {
		return nil, false
	}
	points := lo.Map(saddles, func(s SaddlePoint, _ int) r2.Point { return s.Point })
	tried := map[int]bool{}
	for _, limit := range []int{len(points), 2 * n, 3 * n / 2, n} {
		if limit > len(points) || limit < n || tried[limit] {
			continue
		}
		tried[limit] = true
		if corners, ok := fitGrid(points[:limit], pattern, conf.MaxPointDist); ok {
			return corners, true
		}
	}
	return nil, false
}
