package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"catalogsync/config"
	"catalogsync/internal/geo"
	"catalogsync/internal/models"
	"catalogsync/internal/normalize"
)

var serviceLevels = []string{string(models.ServicePro), string(models.ServiceStandard)}

// statusLabels maps folded feed status labels onto UnitStatus. Anything else
// is left undefined rather than assumed available.
var statusLabels = map[string]models.UnitStatus{
	"available":   models.StatusAvailable,
	"disponible":  models.StatusAvailable,
	"reserved":    models.StatusReserved,
	"reservado":   models.StatusReserved,
	"reservada":   models.StatusReserved,
	"rented":      models.StatusRented,
	"leased":      models.StatusRented,
	"arrendado":   models.StatusRented,
	"arrendada":   models.StatusRented,
	"unknown":     models.StatusUnknown,
	"desconocido": models.StatusUnknown,
}

// Adapter maps raw provider records into the canonical model.
type Adapter struct {
	lookups *config.Lookups
	parser  normalize.Parser
}

// New creates an adapter. A nil lookups uses the built-in tables.
func New(lookups *config.Lookups, parser normalize.Parser) *Adapter {
	if lookups == nil {
		lookups = config.DefaultLookups()
	}
	return &Adapter{lookups: lookups, parser: parser}
}

// Mapped is the outcome of mapping one raw building.
type Mapped struct {
	Building  models.Building
	UnitsSeen int
	Invalid   []*ValidationError
}

// MapUnit maps one raw unit and validates it against the unit schema.
func (a *Adapter) MapUnit(raw Record) (models.Unit, error) {
	u := models.Unit{
		ID:        normalize.String(raw.Get("id", "unit_id")),
		Tipologia: normalize.String(raw.Get("tipologia", "typology")),
	}

	u.Price, _ = a.parser.Int(raw.Get("price", "precio"))

	interior, hasInterior := a.parser.Area(raw.Get("area_interior", "area_interior_m2"))
	exterior, hasExterior := a.parser.Area(raw.Get("area_exterior", "area_exterior_m2"))
	total, hasTotal := a.parser.Area(raw.Get("m2", "area_total"))
	switch {
	case hasInterior && hasExterior:
		u.M2 = interior + exterior
	case hasInterior:
		u.M2 = interior
	case hasExterior:
		u.M2 = exterior
	case hasTotal:
		u.M2 = total
	}
	if hasInterior {
		u.AreaInteriorM2 = &interior
	}
	if hasExterior {
		u.AreaExteriorM2 = &exterior
	}

	if status, ok := statusLabels[normalize.Label(normalize.String(raw.Get("status", "estado")))]; ok {
		u.Status = status
	}
	u.Disponible = normalize.Bool(raw.Get("disponible", "available")) || u.Status == models.StatusAvailable

	parking := normalize.IDs(raw.Get("parking_ids", "estacionamientos"))
	storage := normalize.IDs(raw.Get("storage_ids", "bodegas"))
	u.ParkingOptions, u.ParkingOptional = parking.IDs, parking.HasOptional
	u.StorageOptions, u.StorageOptional = storage.IDs, storage.HasOptional
	u.Estacionamiento = normalize.Bool(raw.Get("estacionamiento", "parking")) || len(parking.IDs) > 0
	u.Bodega = normalize.Bool(raw.Get("bodega", "storage")) || len(storage.IDs) > 0

	u.Bedrooms = a.optionalInt(raw.Get("bedrooms", "dormitorios"))
	u.Bathrooms = a.optionalInt(raw.Get("bathrooms", "banos"))
	u.Piso = a.optionalInt(raw.Get("piso", "floor"))
	u.Amoblado = optionalBool(raw.Get("amoblado", "furnished"))
	u.PetFriendly = optionalBool(raw.Get("pet_friendly", "petFriendly"))
	if o, ok := normalize.EnumFold(raw.Get("orientacion", "orientation"), models.Orientations); ok {
		u.Orientacion = models.Orientation(o)
	}
	if pct, ok := a.parser.Percent(raw.Get("discount_pct", "descuento")); ok {
		u.DiscountPct = &pct
	}
	u.Promotions = a.badges(raw.Get("promotions", "badges"))

	if err := validate(unitSchema, u); err != nil {
		return models.Unit{}, &ValidationError{Entity: "unit", ID: u.ID, Err: err}
	}
	return u, nil
}

// MapBuilding maps a raw building and its units. Units that fail validation
// are reported in Mapped.Invalid and left out; only a building-level schema
// failure is returned as an error.
func (a *Adapter) MapBuilding(raw RawBuilding) (Mapped, error) {
	f := raw.Fields
	b := models.Building{
		ID:         normalize.String(f.Get("id", "building_id")),
		Slug:       normalize.String(f.Get("slug")),
		Name:       normalize.String(f.Get("name", "nombre")),
		Comuna:     normalize.String(f.Get("comuna", "commune")),
		Address:    normalize.String(f.Get("address", "direccion")),
		Amenities:  a.amenities(f.Get("amenities", "amenidades")),
		Gallery:    stringList(f.Get("gallery", "images")),
		CoverImage: normalize.String(f.Get("coverImage", "cover_image")),
		Media:      stringList(f.Get("media")),
		Badges:     a.badges(f.Get("badges", "promotions")),
		Units:      []models.Unit{},
	}
	if b.Slug == "" {
		b.Slug = b.ID
	}

	if level, ok := normalize.EnumFold(f.Get("serviceLevel", "service_level"), serviceLevels); ok {
		b.ServiceLevel = models.ServiceLevel(level)
	} else if hasBadge(b.Badges, models.BadgeServicePro) {
		b.ServiceLevel = models.ServicePro
	}

	lat, hasLat := a.parser.Number(f.Get("lat", "latitude"))
	lng, hasLng := a.parser.Number(f.Get("lng", "longitude"))
	if hasLat && hasLng {
		if p, ok := geo.NewPoint(lat, lng); ok {
			b.Location = p
			b.Geohash = geo.Hash(*p)
		}
	}
	b.NearestTransit = a.transit(f.Get("nearestTransit", "nearest_transit"), b.Location)

	out := Mapped{UnitsSeen: len(raw.Units)}
	seen := make(map[string]struct{}, len(raw.Units))
	for _, ru := range raw.Units {
		u, err := a.MapUnit(ru)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				verr = &ValidationError{Entity: "unit", ID: normalize.String(ru.Get("id", "unit_id")), Err: err}
			}
			out.Invalid = append(out.Invalid, verr)
			continue
		}
		if _, dup := seen[u.ID]; dup {
			out.Invalid = append(out.Invalid, &ValidationError{
				Entity: "unit",
				ID:     u.ID,
				Err:    fmt.Errorf("duplicate unit id in building %q", b.ID),
			})
			continue
		}
		seen[u.ID] = struct{}{}
		b.Units = append(b.Units, u)
	}

	if err := validate(buildingSchema, b); err != nil {
		return Mapped{UnitsSeen: len(raw.Units)}, &ValidationError{Entity: "building", ID: b.ID, Err: err}
	}
	out.Building = b
	return out, nil
}

func (a *Adapter) optionalInt(v any) *int {
	n, ok := a.parser.Int(v)
	if !ok {
		return nil
	}
	return &n
}

func optionalBool(v any) *bool {
	if v == nil {
		return nil
	}
	b := normalize.Bool(v)
	return &b
}

func (a *Adapter) amenities(v any) []string {
	keys := []string{}
	seen := make(map[string]struct{})
	for _, label := range labels(v) {
		key, ok := a.lookups.Amenity(label)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (a *Adapter) badges(v any) []models.PromotionBadge {
	var out []models.PromotionBadge
	seen := make(map[models.PromotionBadge]struct{})
	for _, label := range labels(v) {
		typ, ok := a.lookups.BadgeType(label)
		if !ok {
			continue
		}
		badge := models.PromotionBadge{Label: label, Type: typ}
		if _, dup := seen[badge]; dup {
			continue
		}
		seen[badge] = struct{}{}
		out = append(out, badge)
	}
	return out
}

func (a *Adapter) transit(v any, from *models.GeoPoint) *models.Transit {
	var r Record
	switch t := v.(type) {
	case map[string]any:
		r = Record(t)
	case Record:
		r = t
	case string:
		if name := strings.TrimSpace(t); name != "" {
			return &models.Transit{Name: name}
		}
		return nil
	default:
		return nil
	}

	tr := &models.Transit{
		Name: normalize.String(r.Get("name", "nombre")),
		Line: normalize.String(r.Get("line", "linea")),
	}
	if tr.Name == "" {
		return nil
	}

	if d, ok := a.parser.Number(r.Get("distanceMeters", "distance_m", "distancia")); ok && d >= 0 {
		tr.DistanceMeters = &d
		return tr
	}

	lat, hasLat := a.parser.Number(r.Get("lat", "latitude"))
	lng, hasLng := a.parser.Number(r.Get("lng", "longitude"))
	if from != nil && hasLat && hasLng {
		if to, ok := geo.NewPoint(lat, lng); ok {
			d := geo.DistanceMeters(*from, *to)
			tr.DistanceMeters = &d
		}
	}
	return tr
}

func hasBadge(badges []models.PromotionBadge, typ string) bool {
	for _, b := range badges {
		if b.Type == typ {
			return true
		}
	}
	return false
}

// labels flattens arrays of strings, arrays of {label|name} objects and
// pipe-delimited strings into trimmed labels.
func labels(v any) []string {
	var out []string
	switch t := v.(type) {
	case nil:
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case map[string]any:
				if s := normalize.String(Record(it).Get("label", "name")); s != "" {
					out = append(out, s)
				}
			default:
				if s := normalize.String(it); s != "" {
					out = append(out, s)
				}
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(t, "|") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case json.Number:
		out = append(out, t.String())
	}
	return out
}

func stringList(v any) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, s := range labels(v) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
