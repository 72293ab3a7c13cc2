package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/models"
)

// Quarantine forces a unit without a usable price to inactive, whatever the
// feed claimed. It reports whether the unit was changed.
func Quarantine(u models.Unit) (models.Unit, bool) {
	if u.Price > 0 {
		return u, false
	}
	u.Disponible = false
	u.Status = models.StatusInactive
	return u, true
}

// ToBuildingRow converts a canonical building into its row. Units are
// stored separately and are not part of the payload.
func ToBuildingRow(provider string, b models.Building, at time.Time) (*database.BuildingRow, error) {
	b.Units = nil
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode building %s: %w", b.ID, err)
	}
	return &database.BuildingRow{
		Provider:         provider,
		SourceBuildingID: b.ID,
		Slug:             b.Slug,
		Name:             b.Name,
		Comuna:           b.Comuna,
		Address:          b.Address,
		ServiceLevel:     string(b.ServiceLevel),
		Geohash:          b.Geohash,
		Payload:          payload,
		UpdatedAt:        at,
	}, nil
}

// ToUnitRow converts a canonical unit into its row under buildingID.
// FirstSeenAt is only honoured on insert.
func ToUnitRow(provider string, buildingID int64, u models.Unit, at time.Time) (database.UnitRow, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return database.UnitRow{}, fmt.Errorf("failed to encode unit %s: %w", u.ID, err)
	}
	return database.UnitRow{
		Provider:     provider,
		SourceUnitID: u.ID,
		BuildingID:   buildingID,
		Tipologia:    u.Tipologia,
		M2:           u.M2,
		Price:        u.Price,
		Disponible:   u.Disponible,
		Status:       string(u.Status),
		Payload:      payload,
		FirstSeenAt:  at,
		UpdatedAt:    at,
	}, nil
}

// FromRows rebuilds the canonical building from its persisted rows. The
// disponible and status columns win over the payload since soft-delete only
// rewrites the columns.
func FromRows(b *database.BuildingRow, units []database.UnitRow) (models.Building, error) {
	var out models.Building
	if err := json.Unmarshal(b.Payload, &out); err != nil {
		return models.Building{}, fmt.Errorf("failed to decode building %s: %w", b.SourceBuildingID, err)
	}
	out.Units = make([]models.Unit, 0, len(units))
	for _, row := range units {
		var u models.Unit
		if err := json.Unmarshal(row.Payload, &u); err != nil {
			return models.Building{}, fmt.Errorf("failed to decode unit %s: %w", row.SourceUnitID, err)
		}
		u.Disponible = row.Disponible
		u.Status = models.UnitStatus(row.Status)
		out.Units = append(out.Units, u)
	}
	return out, nil
}
