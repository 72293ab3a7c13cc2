package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/models"
)

func TestNewPoint(t *testing.T) {
	p, ok := NewPoint(-33.4372, -70.6506)
	require.True(t, ok)
	assert.Equal(t, models.GeoPoint{Lat: -33.4372, Lng: -70.6506}, *p)

	_, ok = NewPoint(95, 10)
	assert.False(t, ok)

	_, ok = NewPoint(10, -190)
	assert.False(t, ok)

	_, ok = NewPoint(0, 0)
	assert.False(t, ok)
}

func TestDistanceMeters(t *testing.T) {
	plazaDeArmas := models.GeoPoint{Lat: -33.4378, Lng: -70.6504}
	sameSpot := plazaDeArmas
	assert.InDelta(t, 0, DistanceMeters(plazaDeArmas, sameSpot), 1e-6)

	// roughly 0.01 degrees of latitude
	north := models.GeoPoint{Lat: -33.4278, Lng: -70.6504}
	assert.InDelta(t, 1112, DistanceMeters(plazaDeArmas, north), 10)
}

func TestHash(t *testing.T) {
	h := Hash(models.GeoPoint{Lat: -33.4378, Lng: -70.6504})
	assert.Len(t, h, HashPrecision)
	assert.Equal(t, h, Hash(models.GeoPoint{Lat: -33.43781, Lng: -70.65041}))
}
