package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"catalogsync/internal/models"
	"catalogsync/internal/normalize"
)

// Lookups holds the closed label tables used by the adapter. Keys are folded
// with normalize.Label.
type Lookups struct {
	mu        sync.RWMutex
	amenities map[string]string
	badges    map[string]string
}

// lookupFile is the YAML shape accepted by LoadLookups.
type lookupFile struct {
	Amenities map[string]string `yaml:"amenities"`
	Badges    map[string]string `yaml:"badges"`
}

var defaultAmenities = map[string]string{
	"gimnasio":                   "gym",
	"gym":                        "gym",
	"piscina":                    "pool",
	"pool":                       "pool",
	"quincho":                    "bbq",
	"quinchos":                   "bbq",
	"zona bbq":                   "bbq",
	"lavanderia":                 "laundry",
	"cowork":                     "cowork",
	"coworking":                  "cowork",
	"sala de cine":               "cinema",
	"bicicletero":                "bike_parking",
	"estacionamiento de visitas": "visitor_parking",
	"conserjeria":                "concierge",
	"conserjeria 24/7":           "concierge",
	"terraza":                    "rooftop",
	"rooftop":                    "rooftop",
	"sala multiuso":              "multipurpose_room",
	"sala gourmet":               "gourmet_room",
	"salon gourmet":              "gourmet_room",
	"juegos infantiles":          "playground",
	"ascensor":                   "elevator",
	"cargador autos electricos":  "ev_charger",
	"wifi areas comunes":         "common_wifi",
	"pet friendly":               "pet_friendly",
	"areas verdes":               "green_areas",
}

var defaultBadges = map[string]string{
	"descuento":         models.BadgeDiscount,
	"oferta":            models.BadgeDiscount,
	"precio rebajado":   models.BadgeDiscount,
	"1 mes gratis":      models.BadgeFreeMonth,
	"primer mes gratis": models.BadgeFreeMonth,
	"mes gratis":        models.BadgeFreeMonth,
	"sin aval":          models.BadgeNoGuarantee,
	"sin comision":      models.BadgeNoBrokerFee,
	"sin corretaje":     models.BadgeNoBrokerFee,
	"servicio pro":      models.BadgeServicePro,
	"edificio pro":      models.BadgeServicePro,
	"service pro":       models.BadgeServicePro,
	"pet friendly":      models.BadgePetFriendly,
	"acepta mascotas":   models.BadgePetFriendly,
	"amoblado":          models.BadgeFurnished,
}

// DefaultLookups returns the built-in tables.
func DefaultLookups() *Lookups {
	l := &Lookups{
		amenities: make(map[string]string, len(defaultAmenities)),
		badges:    make(map[string]string, len(defaultBadges)),
	}
	l.merge(lookupFile{Amenities: defaultAmenities, Badges: defaultBadges})
	return l
}

// LoadLookups returns the built-in tables extended with the YAML file at
// path. An empty path returns the defaults.
func LoadLookups(path string) (*Lookups, error) {
	l := DefaultLookups()
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup tables: %w", err)
	}

	var file lookupFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lookup tables: %w", err)
	}

	l.merge(file)
	return l, nil
}

func (l *Lookups) merge(file lookupFile) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for label, key := range file.Amenities {
		if folded := normalize.Label(label); folded != "" && key != "" {
			l.amenities[folded] = key
		}
	}
	for label, typ := range file.Badges {
		if folded := normalize.Label(label); folded != "" && typ != "" {
			l.badges[folded] = typ
		}
	}
}

// Amenity returns the canonical key for a free-text amenity label.
func (l *Lookups) Amenity(label string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key, ok := l.amenities[normalize.Label(label)]
	return key, ok
}

// BadgeType returns the badge type for a free-text promotion label.
func (l *Lookups) BadgeType(label string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	typ, ok := l.badges[normalize.Label(label)]
	return typ, ok
}
