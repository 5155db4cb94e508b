// Package pnp solves the perspective-n-point problem: recovering a camera's pose from known world
// points and their pixel observations.
package pnp

import (
	"strings"

	"go.viam.com/camcalib/rimage/transform"
)

// Algorithm names a pose solving family.
type Algorithm string

// The supported pose solving families.
const (
	Iterative  = Algorithm("iterative")
	EPnP       = Algorithm("epnp")
	P3P        = Algorithm("p3p")
	AP3P       = Algorithm("ap3p")
	IPPE       = Algorithm("ippe")
	IPPESquare = Algorithm("ippe_square")
)

// Algorithms lists every supported family in display order.
var Algorithms = []Algorithm{Iterative, EPnP, P3P, AP3P, IPPE, IPPESquare}

// ParseAlgorithm returns the algorithm with the given name, ignoring case and surrounding space.
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, alg := range Algorithms {
		if string(alg) == name {
			return alg, nil
		}
	}
	return "", transform.NewInvalidParameterError("unknown pose algorithm %q", name)
}

func (alg Algorithm) String() string {
	return string(alg)
}

// MinPoints is the fewest correspondences the algorithm accepts.
func (alg Algorithm) MinPoints() int {
	switch alg {
	case P3P, AP3P:
		return 3
	default:
		return 4
	}
}
