package core

import (
	"math"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// EarthRadiusKm is the mean Earth radius of the spherical embedding used for
// every index key (kilometres).
const EarthRadiusKm = 6371.0

// Vec3 is a point of the spherical embedding, in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line (chord) distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// IsFinite reports whether every coordinate is finite.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// ToCartesian embeds (lat, lon) in degrees on a sphere of the given radius.
// NaN and Inf inputs propagate to the output.
func ToCartesian(lat, lon, radius float64) Vec3 {
	phi := lat * math.Pi / 180
	lambda := lon * math.Pi / 180
	return Vec3{
		X: radius * math.Cos(phi) * math.Cos(lambda),
		Y: radius * math.Cos(phi) * math.Sin(lambda),
		Z: radius * math.Sin(phi),
	}
}

// LatLonToCartesian is the transform used on every index build and query
// path. Index keys must be produced by this one function.
func LatLonToCartesian(p model.GeoPoint) Vec3 {
	return ToCartesian(p.Lat, p.Lon, EarthRadiusKm)
}

// ToGeographic recovers latitude and longitude (degrees) from an embedded
// point. The origin maps to (0, 0).
func ToGeographic(v Vec3) model.GeoPoint {
	r := v.Norm()
	if r == 0 {
		return model.GeoPoint{}
	}
	return model.GeoPoint{
		Lat: math.Asin(v.Z/r) * 180 / math.Pi,
		Lon: math.Atan2(v.Y, v.X) * 180 / math.Pi,
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
