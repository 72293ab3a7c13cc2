package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"catalogsync/internal/models"
)

// unitBatchSize bounds the number of rows per INSERT statement.
const unitBatchSize = 200

// SQLiteStore is the gorm-backed StorageBackend used for single-node deployments.
type SQLiteStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and migrates it.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// single writer, concurrent buildings queue here instead of failing with SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := MigrateSchema(db); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("SQLite storage ready")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// MigrateSchema creates or updates every catalog table.
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&BuildingRow{}, &UnitRow{}, &HistoryRow{}, &AggregateRow{}, &RunRow{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertBuilding(ctx context.Context, row *BuildingRow) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "source_building_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"slug", "name", "comuna", "address", "service_level", "geohash", "payload", "updated_at",
			}),
		}).Create(row).Error
		if err != nil {
			return err
		}
		// the conflict path does not report the existing id
		return tx.Model(&BuildingRow{}).
			Where("provider = ? AND source_building_id = ?", row.Provider, row.SourceBuildingID).
			Select("id").
			Scan(&row.ID).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert building: %w", err)
	}
	return row.ID, nil
}

func (s *SQLiteStore) ExistingUnits(ctx context.Context, provider string, buildingID int64) ([]UnitRef, error) {
	var refs []UnitRef
	err := s.db.WithContext(ctx).Model(&UnitRow{}).
		Select("id, source_unit_id, disponible, status").
		Where("provider = ? AND building_id = ?", provider, buildingID).
		Order("id").
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing units: %w", err)
	}
	return refs, nil
}

func (s *SQLiteStore) UpsertUnits(ctx context.Context, rows []UnitRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "source_unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"building_id", "tipologia", "m2", "price", "disponible", "status", "payload", "updated_at",
		}),
	}).CreateInBatches(rows, unitBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert units: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteUnits(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Model(&UnitRow{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"disponible": false,
			"status":     string(models.StatusInactive),
			"updated_at": at,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to soft-delete units: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *SQLiteStore) RefreshAggregates(ctx context.Context, provider string, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider = ?", provider).Delete(&AggregateRow{}).Error; err != nil {
			return err
		}
		return tx.Exec(refreshAggregatesSQL("?", "?"), at, provider).Error
	})
	if err != nil {
		return fmt.Errorf("failed to refresh aggregates: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context, provider string, at time.Time) (int, error) {
	result := s.db.WithContext(ctx).Exec(`
		INSERT INTO unit_history (unit_id, provider, price, disponible, status, captured_at)
		SELECT id, provider, price, disponible, status, ?
		FROM units
		WHERE provider = ?
	`, at, provider)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to snapshot units: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *SQLiteStore) CountPriceDrops(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Raw(priceDropsSQL("?", "?"), provider, since).Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count price drops: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) CountNewListings(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&UnitRow{}).
		Where("provider = ? AND first_seen_at >= ?", provider, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count new listings: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("captured_at < ?", before).Delete(&HistoryRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge unit history: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	row := runRow(run)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	result := s.db.WithContext(ctx).Model(&RunRow{}).
		Where("id = ? AND finished_at IS NULL", run.ID).
		Updates(map[string]any{
			"finished_at":        run.FinishedAt,
			"rows_total":         run.RowsTotal,
			"rows_valid":         run.RowsValid,
			"units_upserted":     run.UnitsUpserted,
			"units_soft_deleted": run.UnitsSoftDeleted,
			"alerts_count":       run.AlertsCount,
			"buildings_skipped":  run.BuildingsSkipped,
			"warning":            run.Warning,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRunClosed
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, provider string, limit int) ([]models.IngestRun, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	var rows []RunRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]models.IngestRun, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, r.model())
	}
	return runs, nil
}

func (s *SQLiteStore) FindBuilding(ctx context.Context, provider, sourceBuildingID string) (*BuildingRow, []UnitRow, error) {
	var b BuildingRow
	err := s.db.WithContext(ctx).
		Where("provider = ? AND source_building_id = ?", provider, sourceBuildingID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find building: %w", err)
	}

	var units []UnitRow
	if err := s.db.WithContext(ctx).Where("building_id = ?", b.ID).Order("id").Find(&units).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load building units: %w", err)
	}
	return &b, units, nil
}

func (s *SQLiteStore) ListAggregates(ctx context.Context, provider string) ([]AggregateRow, error) {
	var rows []AggregateRow
	err := s.db.WithContext(ctx).
		Where("provider = ?", provider).
		Order("source_building_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// refreshAggregatesSQL rebuilds one provider's rows of building_aggregates.
// The placeholders are the refresh time and the provider.
func refreshAggregatesSQL(atArg, providerArg string) string {
	return `
		INSERT INTO building_aggregates
			(building_id, provider, source_building_id, available_units, precio_desde, precio_hasta, refreshed_at)
		SELECT b.id, b.provider, b.source_building_id,
			COALESCE(SUM(CASE WHEN u.disponible THEN 1 ELSE 0 END), 0),
			MIN(CASE WHEN u.disponible AND u.price > 0 THEN u.price END),
			MAX(CASE WHEN u.disponible AND u.price > 0 THEN u.price END),
			` + atArg + `
		FROM buildings b
		LEFT JOIN units u ON u.building_id = b.id
		WHERE b.provider = ` + providerArg + `
		GROUP BY b.id, b.provider, b.source_building_id`
}

// priceDropsSQL counts priced units whose current price is below any price
// captured since the window start.
func priceDropsSQL(providerArg, sinceArg string) string {
	return `
		SELECT COUNT(DISTINCT u.id)
		FROM units u
		JOIN unit_history h ON h.unit_id = u.id
		WHERE u.provider = ` + providerArg + `
			AND h.captured_at >= ` + sinceArg + `
			AND u.price > 0
			AND h.price > u.price`
}
