package shared

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Coordinates is a WGS84 GPS point with optional reported accuracy in meters
// (negative means unknown).
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// NewCoordinates validates latitude/longitude bounds.
func NewCoordinates(lat, lng float64) (Coordinates, error) {
	if lat < -90 || lat > 90 {
		return Coordinates{}, fmt.Errorf("%w: latitude %f out of range", ErrValidation, lat)
	}
	if lng < -180 || lng > 180 {
		return Coordinates{}, fmt.Errorf("%w: longitude %f out of range", ErrValidation, lng)
	}
	return Coordinates{Latitude: lat, Longitude: lng, Accuracy: -1}, nil
}

// WithAccuracy attaches a reported GPS accuracy.
func (c Coordinates) WithAccuracy(meters float64) (Coordinates, error) {
	if meters < 0 {
		return Coordinates{}, fmt.Errorf("%w: accuracy must not be negative", ErrValidation)
	}
	c.Accuracy = meters
	return c, nil
}

// DistanceMeters computes the haversine great-circle distance to other.
func (c Coordinates) DistanceMeters(other Coordinates) float64 {
	lat1 := c.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - c.Latitude) * math.Pi / 180
	dLng := (other.Longitude - c.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WithinRadius reports whether other lies within radiusMeters of c.
func (c Coordinates) WithinRadius(other Coordinates, radiusMeters float64) bool {
	return c.DistanceMeters(other) <= radiusMeters
}

// AccuracyAcceptable reports whether the reported accuracy is known and at
// most maxMeters. Proof photos with worse accuracy are rejected upstream.
func (c Coordinates) AccuracyAcceptable(maxMeters float64) bool {
	return c.Accuracy >= 0 && c.Accuracy <= maxMeters
}

// Blur jitters the point by a random offset of at most maxMeters. Used for
// location privacy when exposing worksite positions, not for security.
func (c Coordinates) Blur(maxMeters float64) Coordinates {
	if maxMeters <= 0 {
		return c
	}
	dist := randFloat() * maxMeters
	bearing := randFloat() * 2 * math.Pi

	dLat := dist * math.Cos(bearing) / earthRadiusMeters * 180 / math.Pi
	dLng := dist * math.Sin(bearing) / (earthRadiusMeters * math.Cos(c.Latitude*math.Pi/180)) * 180 / math.Pi

	blurred := Coordinates{
		Latitude:  math.Max(-90, math.Min(90, c.Latitude+dLat)),
		Longitude: c.Longitude + dLng,
		Accuracy:  c.Accuracy,
	}
	if blurred.Longitude > 180 {
		blurred.Longitude -= 360
	}
	if blurred.Longitude < -180 {
		blurred.Longitude += 360
	}
	return blurred
}

// randFloat returns a crypto-seeded float in [0, 1).
func randFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
}
