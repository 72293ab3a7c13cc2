package models

// PriceRange is an inclusive price interval.
type PriceRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// AreaRange is an inclusive area interval in m2.
type AreaRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// TypologySummary describes the available units sharing one tipologia code.
type TypologySummary struct {
	Code       string      `json:"code"`
	Bedrooms   *int        `json:"bedrooms,omitempty"`
	Bathrooms  *int        `json:"bathrooms,omitempty"`
	Unidades   int         `json:"unidades"`
	PriceRange *PriceRange `json:"priceRange,omitempty"`
	AreaRange  *AreaRange  `json:"areaRange,omitempty"`
	HasPromo   bool        `json:"hasPromo"`
}

// BuildingAggregate is derived from a Building and never persisted as truth.
type BuildingAggregate struct {
	HasAvailability bool              `json:"hasAvailability"`
	PrecioDesde     *int              `json:"precioDesde,omitempty"`
	PrecioRango     *PriceRange       `json:"precioRango,omitempty"`
	TypologySummary []TypologySummary `json:"typologySummary"`
}
