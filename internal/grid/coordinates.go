package grid

import (
	"fmt"
	"math"
)

// ChunkCoord identifies a fixed-size grid cell in the horizontal plane.
// X runs along the world X axis, Z along the world Z axis. Coordinates are
// derived from world positions by floor division with the configured chunk
// size, so a position at exactly a chunk boundary belongs to the higher cell.
type ChunkCoord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// String returns the canonical "x_z" form used in logs and content keys.
func (c ChunkCoord) String() string {
	return fmt.Sprintf("%d_%d", c.X, c.Z)
}

// FromWorld maps a world-space position to the chunk coordinate containing it.
// chunkSize is the edge length of one chunk in world units.
func FromWorld(x, z, chunkSize float64) ChunkCoord {
	return ChunkCoord{
		X: int(math.Floor(x / chunkSize)),
		Z: int(math.Floor(z / chunkSize)),
	}
}

// Center returns the world-space center of the chunk.
func Center(c ChunkCoord, chunkSize float64) (x, z float64) {
	x = (float64(c.X) + 0.5) * chunkSize
	z = (float64(c.Z) + 0.5) * chunkSize
	return x, z
}

// Distance returns the Euclidean distance between two chunk coordinates,
// measured in chunk units.
func Distance(a, b ChunkCoord) float64 {
	dx := float64(a.X - b.X)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// Within reports whether b lies within radius chunk units of a, inclusive.
// This is the membership test used for priority and hysteresis checks.
func Within(a, b ChunkCoord, radius float64) bool {
	return Distance(a, b) <= radius
}

// CoordsInRadius returns every chunk coordinate whose Euclidean distance from
// center is strictly less than radius, in chunk units. A radius of 2 therefore
// yields the 3x3 block around the center: the diagonal neighbours at distance
// sqrt(2) are included, the axis cells at distance exactly 2 are not.
// Iteration order is unspecified.
func CoordsInRadius(center ChunkCoord, radius float64) []ChunkCoord {
	if radius <= 0 {
		return nil
	}

	bound := int(math.Ceil(radius))
	var coords []ChunkCoord
	for dx := -bound; dx <= bound; dx++ {
		for dz := -bound; dz <= bound; dz++ {
			c := ChunkCoord{X: center.X + dx, Z: center.Z + dz}
			if Distance(center, c) < radius {
				coords = append(coords, c)
			}
		}
	}
	return coords
}

// Validate rejects chunk sizes that cannot partition the plane.
func Validate(chunkSize float64) error {
	if chunkSize <= 0 || math.IsNaN(chunkSize) || math.IsInf(chunkSize, 0) {
		return fmt.Errorf("invalid chunk size: %f", chunkSize)
	}
	return nil
}
