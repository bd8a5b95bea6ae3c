package types

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// GeoPoint is a WGS84 coordinate pair (longitude first, as in GeoJSON)
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// NewGeoPoint creates a validated geo point
func NewGeoPoint(lon, lat float64) (GeoPoint, error) {
	p := GeoPoint{Lon: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate checks that the coordinates are within range
func (p GeoPoint) Validate() error {
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude out of range: %f", p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude out of range: %f", p.Lat)
	}
	return nil
}

// IsZero checks if the point is the zero value
func (p GeoPoint) IsZero() bool {
	return p.Lon == 0 && p.Lat == 0
}

// DistanceKm returns the great-circle distance to another point in kilometers
func (p GeoPoint) DistanceKm(other GeoPoint) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLon := (other.Lon - p.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
