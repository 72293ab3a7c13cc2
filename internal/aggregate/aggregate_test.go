package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/models"
)

func intPtr(n int) *int { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestDeriveTypologyFiltersUnavailable(t *testing.T) {
	b := models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: "1D1B", Price: 500000, Disponible: true, M2: 40},
		{ID: "2", Tipologia: "1D1B", Price: 300000, Disponible: false, M2: 35},
	}}

	agg := Derive(b)

	assert.True(t, agg.HasAvailability)
	require.NotNil(t, agg.PrecioDesde)
	assert.Equal(t, 500000, *agg.PrecioDesde)
	assert.Equal(t, &models.PriceRange{Min: 500000, Max: 500000}, agg.PrecioRango)
	require.Len(t, agg.TypologySummary, 1)
	s := agg.TypologySummary[0]
	assert.Equal(t, "1D1B", s.Code)
	assert.Equal(t, 1, s.Unidades)
	assert.Equal(t, &models.PriceRange{Min: 500000, Max: 500000}, s.PriceRange)
	assert.Equal(t, &models.AreaRange{Min: 40, Max: 40}, s.AreaRange)
	assert.False(t, s.HasPromo)
}

func TestDeriveUniformFields(t *testing.T) {
	same := Derive(models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: "1D1B", Price: 1, Disponible: true, Bedrooms: intPtr(1), Bathrooms: intPtr(1)},
		{ID: "2", Tipologia: "1D1B", Price: 2, Disponible: true, Bedrooms: intPtr(1)},
	}})
	require.Len(t, same.TypologySummary, 1)
	require.NotNil(t, same.TypologySummary[0].Bedrooms)
	assert.Equal(t, 1, *same.TypologySummary[0].Bedrooms)
	assert.Nil(t, same.TypologySummary[0].Bathrooms)

	mixed := Derive(models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: "1D1B", Price: 1, Disponible: true, Bedrooms: intPtr(1)},
		{ID: "2", Tipologia: "1D1B", Price: 2, Disponible: true, Bedrooms: intPtr(2)},
	}})
	require.Len(t, mixed.TypologySummary, 1)
	assert.Nil(t, mixed.TypologySummary[0].Bedrooms)
}

func TestDeriveAreaRange(t *testing.T) {
	agg := Derive(models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: "2D2B", Price: 600000, Disponible: true, AreaInteriorM2: floatPtr(20), AreaExteriorM2: floatPtr(3)},
		{ID: "2", Tipologia: "2D2B", Price: 650000, Disponible: true, M2: 50},
		{ID: "3", Tipologia: "2D2B", Price: 0, Disponible: true},
	}})

	require.Len(t, agg.TypologySummary, 1)
	s := agg.TypologySummary[0]
	assert.Equal(t, 3, s.Unidades)
	assert.Equal(t, &models.AreaRange{Min: 23, Max: 50}, s.AreaRange)
	assert.Equal(t, &models.PriceRange{Min: 600000, Max: 650000}, s.PriceRange)
	assert.Equal(t, 600000, *agg.PrecioDesde)
}

func TestDeriveGroupingIsExact(t *testing.T) {
	agg := Derive(models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: " 1D1B", Price: 1, Disponible: true},
		{ID: "2", Tipologia: "1D1B ", Price: 1, Disponible: true},
		{ID: "3", Tipologia: "1d1b", Price: 1, Disponible: true},
		{ID: "4", Tipologia: "Studio", Price: 1, Disponible: true},
	}})

	codes := make([]string, 0, len(agg.TypologySummary))
	for _, s := range agg.TypologySummary {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []string{"1D1B", "1d1b", "Studio"}, codes)
	assert.Equal(t, 2, agg.TypologySummary[0].Unidades)
}

func TestDerivePromoFlags(t *testing.T) {
	units := []models.Unit{
		{ID: "1", Tipologia: "1D1B", Price: 1, Disponible: true},
		{ID: "2", Tipologia: "2D1B", Price: 1, Disponible: true, Promotions: []models.PromotionBadge{{Label: "1 mes gratis", Type: models.BadgeFreeMonth}}},
	}

	agg := Derive(models.Building{Units: units})
	require.Len(t, agg.TypologySummary, 2)
	assert.False(t, agg.TypologySummary[0].HasPromo)
	assert.True(t, agg.TypologySummary[1].HasPromo)

	agg = Derive(models.Building{Units: units, Badges: []models.PromotionBadge{{Label: "Sin aval", Type: models.BadgeNoGuarantee}}})
	assert.True(t, agg.TypologySummary[0].HasPromo)
}

func TestDeriveEmpty(t *testing.T) {
	for _, b := range []models.Building{
		{},
		{Units: []models.Unit{{ID: "1", Tipologia: "1D1B", Price: 400000}}},
	} {
		agg := Derive(b)
		assert.False(t, agg.HasAvailability)
		assert.Nil(t, agg.PrecioDesde)
		assert.Nil(t, agg.PrecioRango)
		assert.NotNil(t, agg.TypologySummary)
		assert.Empty(t, agg.TypologySummary)
	}
}

func TestDeriveOnlyZeroPrices(t *testing.T) {
	agg := Derive(models.Building{Units: []models.Unit{{ID: "1", Tipologia: "1D1B", Disponible: true}}})
	assert.True(t, agg.HasAvailability)
	assert.Nil(t, agg.PrecioDesde)
	require.Len(t, agg.TypologySummary, 1)
	assert.Nil(t, agg.TypologySummary[0].PriceRange)
	assert.Nil(t, agg.TypologySummary[0].AreaRange)
}

func TestDeriveDoesNotMutate(t *testing.T) {
	b := models.Building{Units: []models.Unit{
		{ID: "1", Tipologia: " 1D1B ", Price: 10, Disponible: true, Bedrooms: intPtr(1)},
	}}
	agg := Derive(b)
	*agg.TypologySummary[0].Bedrooms = 9
	assert.Equal(t, " 1D1B ", b.Units[0].Tipologia)
	assert.Equal(t, 1, *b.Units[0].Bedrooms)
}
