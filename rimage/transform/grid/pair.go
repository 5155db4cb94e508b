package grid

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/camcalib/rimage/transform"
)

// Correspondence is a pixel and the world point it images.
type Correspondence struct {
	ID    int
	Image r2.Point
	World r3.Vector
}

// Pair zips detected corners with generated grid points on the plane Z=z. The two must have the same length.
func Pair(corners []r2.Point, points []Point, z float64) ([]Correspondence, error) {
	if len(corners) != len(points) {
		return nil, transform.NewInvalidParameterError("%d corners but %d grid points", len(corners), len(points))
	}
	return lo.Map(points, func(p Point, k int) Correspondence {
		return Correspondence{
			ID:    p.ID,
			Image: corners[k],
			World: r3.Vector{X: p.Physical.X, Y: p.Physical.Y, Z: z},
		}
	}), nil
}

// Split returns the index aligned image and world points of a correspondence set.
func Split(corr []Correspondence) ([]r2.Point, []r3.Vector) {
	img := lo.Map(corr, func(c Correspondence, _ int) r2.Point { return c.Image })
	world := lo.Map(corr, func(c Correspondence, _ int) r3.Vector { return c.World })
	return img, world
}
