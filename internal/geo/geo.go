package geo

import (
	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"catalogsync/internal/models"
)

// HashPrecision is the geohash length stored per building (~150m cells).
const HashPrecision = 7

var world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// NewPoint validates a latitude/longitude pair. Zero coordinates are treated as
// a missing value since feeds use them as a placeholder.
func NewPoint(lat, lng float64) (*models.GeoPoint, bool) {
	p := orb.Point{lng, lat}
	if !world.Contains(p) || (lat == 0 && lng == 0) {
		return nil, false
	}
	return &models.GeoPoint{Lat: lat, Lng: lng}, true
}

// DistanceMeters returns the geodesic distance between two points.
func DistanceMeters(a, b models.GeoPoint) float64 {
	return orbgeo.Distance(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}

// Hash encodes a point as a geohash of HashPrecision characters.
func Hash(p models.GeoPoint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, HashPrecision)
}
