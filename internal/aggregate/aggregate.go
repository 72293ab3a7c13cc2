// Package aggregate derives read-only rollups from a canonical building.
package aggregate

import (
	"strings"

	"catalogsync/internal/models"
)

// Derive computes the availability, price and typology rollup of b. It never
// mutates b. Typologies are grouped by their exact trimmed code, so "1D1B"
// and "1d1b" end up in different groups.
func Derive(b models.Building) models.BuildingAggregate {
	agg := models.BuildingAggregate{TypologySummary: []models.TypologySummary{}}

	var available []models.Unit
	for _, u := range b.Units {
		if u.Disponible {
			available = append(available, u)
		}
	}
	if len(available) == 0 {
		return agg
	}
	agg.HasAvailability = true

	if r := priceRange(available); r != nil {
		agg.PrecioRango = r
		from := r.Min
		agg.PrecioDesde = &from
	}

	buildingPromo := len(b.Badges) > 0
	var order []string
	groups := make(map[string][]models.Unit)
	for _, u := range available {
		code := strings.TrimSpace(u.Tipologia)
		if _, ok := groups[code]; !ok {
			order = append(order, code)
		}
		groups[code] = append(groups[code], u)
	}

	for _, code := range order {
		units := groups[code]
		summary := models.TypologySummary{
			Code:       code,
			Unidades:   len(units),
			PriceRange: priceRange(units),
			AreaRange:  areaRange(units),
			Bedrooms:   uniform(units, func(u models.Unit) *int { return u.Bedrooms }),
			Bathrooms:  uniform(units, func(u models.Unit) *int { return u.Bathrooms }),
			HasPromo:   buildingPromo,
		}
		for _, u := range units {
			if len(u.Promotions) > 0 {
				summary.HasPromo = true
				break
			}
		}
		agg.TypologySummary = append(agg.TypologySummary, summary)
	}
	return agg
}

func priceRange(units []models.Unit) *models.PriceRange {
	var r *models.PriceRange
	for _, u := range units {
		if u.Price <= 0 {
			continue
		}
		if r == nil {
			r = &models.PriceRange{Min: u.Price, Max: u.Price}
			continue
		}
		r.Min = min(r.Min, u.Price)
		r.Max = max(r.Max, u.Price)
	}
	return r
}

func areaRange(units []models.Unit) *models.AreaRange {
	var r *models.AreaRange
	for _, u := range units {
		area := u.TotalArea()
		if area <= 0 {
			continue
		}
		if r == nil {
			r = &models.AreaRange{Min: area, Max: area}
			continue
		}
		r.Min = min(r.Min, area)
		r.Max = max(r.Max, area)
	}
	return r
}

// uniform returns the value shared by every unit, or nil when any unit is
// missing it or disagrees.
func uniform(units []models.Unit, field func(models.Unit) *int) *int {
	var shared *int
	for _, u := range units {
		v := field(u)
		if v == nil {
			return nil
		}
		if shared == nil {
			n := *v
			shared = &n
			continue
		}
		if *shared != *v {
			return nil
		}
	}
	return shared
}
