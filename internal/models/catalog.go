package models

// UnitStatus is the lifecycle state reported for a unit.
type UnitStatus string

const (
	StatusAvailable UnitStatus = "available"
	StatusReserved  UnitStatus = "reserved"
	StatusRented    UnitStatus = "rented"
	StatusUnknown   UnitStatus = "unknown"

	// StatusInactive is only ever written by the reconciler (quarantine and soft-delete).
	StatusInactive UnitStatus = "inactive"
)

// Orientation is the compass orientation of a unit.
type Orientation string

// Orientations is the closed set of accepted orientations.
var Orientations = []string{"N", "S", "E", "O", "NE", "NO", "SE", "SO", "NS", "EO"}

// ServiceLevel is the operating tier of a building.
type ServiceLevel string

const (
	ServicePro      ServiceLevel = "pro"
	ServiceStandard ServiceLevel = "standard"
)

// Badge types used by the promotion lookup table.
const (
	BadgeDiscount    = "DISCOUNT"
	BadgeFreeMonth   = "FREE_MONTH"
	BadgeNoGuarantee = "NO_GUARANTEE"
	BadgeNoBrokerFee = "NO_BROKER_FEE"
	BadgeServicePro  = "SERVICE_PRO"
	BadgePetFriendly = "PET_FRIENDLY"
	BadgeFurnished   = "FURNISHED"
)

// PromotionBadge is a promotion label resolved through the badge table.
type PromotionBadge struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Unit is one rentable unit in the canonical model.
type Unit struct {
	ID              string  `json:"id"`
	Tipologia       string  `json:"tipologia"`
	M2              float64 `json:"m2"`
	Price           int     `json:"price"`
	Estacionamiento bool    `json:"estacionamiento"`
	Bodega          bool    `json:"bodega"`
	Disponible      bool    `json:"disponible"`

	Bedrooms        *int             `json:"bedrooms,omitempty"`
	Bathrooms       *int             `json:"bathrooms,omitempty"`
	AreaInteriorM2  *float64         `json:"area_interior_m2,omitempty"`
	AreaExteriorM2  *float64         `json:"area_exterior_m2,omitempty"`
	Orientacion     Orientation      `json:"orientacion,omitempty"`
	Piso            *int             `json:"piso,omitempty"`
	Amoblado        *bool            `json:"amoblado,omitempty"`
	PetFriendly     *bool            `json:"petFriendly,omitempty"`
	ParkingOptions  []string         `json:"parkingOptions,omitempty"`
	ParkingOptional bool             `json:"parkingOptional,omitempty"`
	StorageOptions  []string         `json:"storageOptions,omitempty"`
	StorageOptional bool             `json:"storageOptional,omitempty"`
	DiscountPct     *float64         `json:"discountPct,omitempty"`
	Status          UnitStatus       `json:"status,omitempty"`
	Promotions      []PromotionBadge `json:"promotions,omitempty"`
}

// TotalArea returns interior+exterior when both are positive, otherwise
// whichever one is positive, otherwise the raw m2.
func (u Unit) TotalArea() float64 {
	var interior, exterior float64
	if u.AreaInteriorM2 != nil {
		interior = *u.AreaInteriorM2
	}
	if u.AreaExteriorM2 != nil {
		exterior = *u.AreaExteriorM2
	}
	switch {
	case interior > 0 && exterior > 0:
		return interior + exterior
	case interior > 0:
		return interior
	case exterior > 0:
		return exterior
	default:
		return u.M2
	}
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Transit describes the closest public transport stop.
type Transit struct {
	Name           string   `json:"name"`
	Line           string   `json:"line,omitempty"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
}

// Building is a building listing with its units.
type Building struct {
	ID        string   `json:"id"`
	Slug      string   `json:"slug"`
	Name      string   `json:"name"`
	Comuna    string   `json:"comuna"`
	Address   string   `json:"address"`
	Amenities []string `json:"amenities"`
	Gallery   []string `json:"gallery"`
	Units     []Unit   `json:"units"`

	CoverImage     string           `json:"coverImage,omitempty"`
	Media          []string         `json:"media,omitempty"`
	Badges         []PromotionBadge `json:"badges,omitempty"`
	ServiceLevel   ServiceLevel     `json:"serviceLevel,omitempty"`
	NearestTransit *Transit         `json:"nearestTransit,omitempty"`
	Location       *GeoPoint        `json:"location,omitempty"`
	Geohash        string           `json:"geohash,omitempty"`
}
