package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"catalogsync/internal/models"
)

type sourceKey struct {
	provider string
	sourceID string
}

// MemoryStore is a process-local StorageBackend with the same keying rules
// as the SQL stores. Nothing survives Close.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	buildings  map[sourceKey]*BuildingRow
	units      map[sourceKey]*UnitRow
	history    []HistoryRow
	aggregates map[int64]AggregateRow
	runs       map[string]models.IngestRun
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buildings:  make(map[sourceKey]*BuildingRow),
		units:      make(map[sourceKey]*UnitRow),
		aggregates: make(map[int64]AggregateRow),
		runs:       make(map[string]models.IngestRun),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) UpsertBuilding(ctx context.Context, row *BuildingRow) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey{row.Provider, row.SourceBuildingID}
	if existing, ok := m.buildings[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = m.id()
		if row.CreatedAt.IsZero() {
			row.CreatedAt = row.UpdatedAt
		}
	}
	stored := *row
	stored.Payload = append([]byte(nil), row.Payload...)
	m.buildings[key] = &stored
	return row.ID, nil
}

func (m *MemoryStore) ExistingUnits(ctx context.Context, provider string, buildingID int64) ([]UnitRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []UnitRef
	for key, u := range m.units {
		if key.provider == provider && u.BuildingID == buildingID {
			refs = append(refs, UnitRef{ID: u.ID, SourceUnitID: u.SourceUnitID, Disponible: u.Disponible, Status: u.Status})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (m *MemoryStore) UpsertUnits(ctx context.Context, rows []UnitRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		key := sourceKey{r.Provider, r.SourceUnitID}
		stored := r
		stored.Payload = append([]byte(nil), r.Payload...)
		if existing, ok := m.units[key]; ok {
			stored.ID = existing.ID
			stored.FirstSeenAt = existing.FirstSeenAt
		} else {
			stored.ID = m.id()
		}
		m.units[key] = &stored
	}
	return nil
}

func (m *MemoryStore) SoftDeleteUnits(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	n := 0
	for _, u := range m.units {
		if _, ok := wanted[u.ID]; ok {
			u.Disponible = false
			u.Status = string(models.StatusInactive)
			u.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RefreshAggregates(ctx context.Context, provider string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.aggregates {
		if a.Provider == provider {
			delete(m.aggregates, id)
		}
	}
	for key, b := range m.buildings {
		if key.provider != provider {
			continue
		}
		agg := AggregateRow{BuildingID: b.ID, Provider: b.Provider, SourceBuildingID: b.SourceBuildingID, RefreshedAt: at}
		for _, u := range m.units {
			if u.BuildingID != b.ID || !u.Disponible {
				continue
			}
			agg.AvailableUnits++
			if u.Price <= 0 {
				continue
			}
			if agg.PrecioDesde == nil || u.Price < *agg.PrecioDesde {
				p := u.Price
				agg.PrecioDesde = &p
			}
			if agg.PrecioHasta == nil || u.Price > *agg.PrecioHasta {
				p := u.Price
				agg.PrecioHasta = &p
			}
		}
		m.aggregates[b.ID] = agg
	}
	return nil
}

func (m *MemoryStore) Snapshot(ctx context.Context, provider string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, u := range m.units {
		if key.provider != provider {
			continue
		}
		m.history = append(m.history, HistoryRow{
			ID:         m.id(),
			UnitID:     u.ID,
			Provider:   provider,
			Price:      u.Price,
			Disponible: u.Disponible,
			Status:     u.Status,
			CapturedAt: at,
		})
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountPriceDrops(ctx context.Context, provider string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[int64]int)
	for key, u := range m.units {
		if key.provider == provider && u.Price > 0 {
			current[u.ID] = u.Price
		}
	}
	dropped := make(map[int64]struct{})
	for _, h := range m.history {
		price, ok := current[h.UnitID]
		if ok && !h.CapturedAt.Before(since) && h.Price > price {
			dropped[h.UnitID] = struct{}{}
		}
	}
	return len(dropped), nil
}

func (m *MemoryStore) CountNewListings(ctx context.Context, provider string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, u := range m.units {
		if key.provider == provider && !u.FirstSeenAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	for _, h := range m.history {
		if !h.CapturedAt.Before(before) {
			kept = append(kept, h)
		}
	}
	purged := len(m.history) - len(kept)
	m.history = kept
	return purged, nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[run.ID]
	if !ok || stored.FinishedAt != nil {
		return ErrRunClosed
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, provider string, limit int) ([]models.IngestRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []models.IngestRun
	for _, r := range m.runs {
		if provider == "" || r.Provider == provider {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) FindBuilding(ctx context.Context, provider, sourceBuildingID string) (*BuildingRow, []UnitRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buildings[sourceKey{provider, sourceBuildingID}]
	if !ok {
		return nil, nil, ErrNotFound
	}
	found := *b
	var units []UnitRow
	for _, u := range m.units {
		if u.BuildingID == b.ID {
			units = append(units, *u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return &found, units, nil
}

func (m *MemoryStore) ListAggregates(ctx context.Context, provider string) ([]AggregateRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AggregateRow
	for _, a := range m.aggregates {
		if a.Provider == provider {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceBuildingID < out[j].SourceBuildingID })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
