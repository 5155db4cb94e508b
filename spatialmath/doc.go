// Package spatialmath defines the rotation representations used by camera poses: Rodrigues
// rotation vectors, R4 axis angles and rotation matrices.
package spatialmath
