// Package database persists the canonical catalog behind the StorageBackend
// interface. Three implementations exist: SQLite through gorm, PostgreSQL
// through pgx, and an in-memory store for tests and dry runs.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"catalogsync/config"
	"catalogsync/internal/models"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrRunClosed is returned when finishing a run that is unknown or already finished.
	ErrRunClosed = errors.New("run not found or already finished")
)

// StorageBackend is the full set of storage operations used by ingestion,
// maintenance and the read API. Rows are keyed by the external
// (provider, source id) pair so replays update in place.
type StorageBackend interface {
	UpsertBuilding(ctx context.Context, row *BuildingRow) (int64, error)
	ExistingUnits(ctx context.Context, provider string, buildingID int64) ([]UnitRef, error)
	UpsertUnits(ctx context.Context, rows []UnitRow) error
	SoftDeleteUnits(ctx context.Context, ids []int64, at time.Time) (int, error)

	RefreshAggregates(ctx context.Context, provider string, at time.Time) error
	Snapshot(ctx context.Context, provider string, at time.Time) (int, error)
	CountPriceDrops(ctx context.Context, provider string, since time.Time) (int, error)
	CountNewListings(ctx context.Context, provider string, since time.Time) (int, error)
	PurgeHistory(ctx context.Context, before time.Time) (int, error)

	CreateRun(ctx context.Context, run *models.IngestRun) error
	FinishRun(ctx context.Context, run *models.IngestRun) error
	ListRuns(ctx context.Context, provider string, limit int) ([]models.IngestRun, error)

	FindBuilding(ctx context.Context, provider, sourceBuildingID string) (*BuildingRow, []UnitRow, error)
	ListAggregates(ctx context.Context, provider string) ([]AggregateRow, error)

	Close() error
}

var (
	_ StorageBackend = (*SQLiteStore)(nil)
	_ StorageBackend = (*PostgresStore)(nil)
	_ StorageBackend = (*MemoryStore)(nil)
)

// BuildingRow is the persisted form of a building. Payload holds the
// canonical building without its units.
type BuildingRow struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Provider         string    `gorm:"not null;uniqueIndex:idx_buildings_source"`
	SourceBuildingID string    `gorm:"column:source_building_id;not null;uniqueIndex:idx_buildings_source"`
	Slug             string    `gorm:"not null"`
	Name             string    `gorm:"not null"`
	Comuna           string    `gorm:"not null"`
	Address          string    `gorm:"not null"`
	ServiceLevel     string    `gorm:"not null"`
	Geohash          string    `gorm:"not null;index"`
	Payload          []byte    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (BuildingRow) TableName() string { return "buildings" }

// UnitRow is the persisted form of a unit. Disponible and Status are kept
// as columns because quarantine and soft-delete rewrite them.
type UnitRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Provider     string    `gorm:"not null;uniqueIndex:idx_units_source"`
	SourceUnitID string    `gorm:"column:source_unit_id;not null;uniqueIndex:idx_units_source"`
	BuildingID   int64     `gorm:"column:building_id;not null;index"`
	Tipologia    string    `gorm:"not null"`
	M2           float64   `gorm:"column:m2;not null"`
	Price        int       `gorm:"not null"`
	Disponible   bool      `gorm:"not null"`
	Status       string    `gorm:"not null"`
	Payload      []byte    `gorm:"not null"`
	FirstSeenAt  time.Time `gorm:"column:first_seen_at;not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UnitRow) TableName() string { return "units" }

// UnitRef is the slice of a persisted unit the reconciler diffs against.
type UnitRef struct {
	ID           int64
	SourceUnitID string
	Disponible   bool
	Status       string
}

// HistoryRow is one point-in-time observation of a unit.
type HistoryRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UnitID     int64     `gorm:"column:unit_id;not null;index"`
	Provider   string    `gorm:"not null"`
	Price      int       `gorm:"not null"`
	Disponible bool      `gorm:"not null"`
	Status     string    `gorm:"not null"`
	CapturedAt time.Time `gorm:"column:captured_at;not null;index"`
}

func (HistoryRow) TableName() string { return "unit_history" }

// AggregateRow is the refreshed per-building availability rollup used for
// listings. The full typology breakdown is derived on read.
type AggregateRow struct {
	BuildingID       int64     `gorm:"column:building_id;primaryKey;autoIncrement:false" json:"-"`
	Provider         string    `gorm:"not null;index" json:"provider"`
	SourceBuildingID string    `gorm:"column:source_building_id;not null" json:"id"`
	AvailableUnits   int       `gorm:"not null" json:"availableUnits"`
	PrecioDesde      *int      `json:"precioDesde,omitempty"`
	PrecioHasta      *int      `json:"precioHasta,omitempty"`
	RefreshedAt      time.Time `gorm:"not null" json:"refreshedAt"`
}

func (AggregateRow) TableName() string { return "building_aggregates" }

// RunRow is the persisted form of models.IngestRun.
type RunRow struct {
	ID               string `gorm:"primaryKey"`
	Provider         string `gorm:"not null;index"`
	Source           string `gorm:"not null"`
	StartedAt        time.Time
	FinishedAt       *time.Time
	RowsTotal        int
	RowsValid        int
	UnitsUpserted    int
	UnitsSoftDeleted int
	AlertsCount      int
	BuildingsSkipped int
	Warning          bool
}

func (RunRow) TableName() string { return "ingest_runs" }

func runRow(r *models.IngestRun) RunRow {
	return RunRow{
		ID:               r.ID,
		Provider:         r.Provider,
		Source:           r.Source,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		RowsTotal:        r.RowsTotal,
		RowsValid:        r.RowsValid,
		UnitsUpserted:    r.UnitsUpserted,
		UnitsSoftDeleted: r.UnitsSoftDeleted,
		AlertsCount:      r.AlertsCount,
		BuildingsSkipped: r.BuildingsSkipped,
		Warning:          r.Warning,
	}
}

func (r RunRow) model() models.IngestRun {
	return models.IngestRun{
		ID:               r.ID,
		Provider:         r.Provider,
		Source:           r.Source,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		RowsTotal:        r.RowsTotal,
		RowsValid:        r.RowsValid,
		UnitsUpserted:    r.UnitsUpserted,
		UnitsSoftDeleted: r.UnitsSoftDeleted,
		AlertsCount:      r.AlertsCount,
		BuildingsSkipped: r.BuildingsSkipped,
		Warning:          r.Warning,
	}
}

// PersistenceError reports a failed storage operation for one entity.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a lock or serialization failure that
// is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}

// Open builds the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (StorageBackend, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.Storage.DatabaseURL, logger)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
