package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"catalogsync/internal/models"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS buildings (
		id                 BIGSERIAL PRIMARY KEY,
		provider           TEXT NOT NULL,
		source_building_id TEXT NOT NULL,
		slug               TEXT NOT NULL,
		name               TEXT NOT NULL,
		comuna             TEXT NOT NULL,
		address            TEXT NOT NULL,
		service_level      TEXT NOT NULL,
		geohash            TEXT NOT NULL,
		payload            JSONB NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (provider, source_building_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_buildings_geohash ON buildings (geohash)`,
	`CREATE TABLE IF NOT EXISTS units (
		id             BIGSERIAL PRIMARY KEY,
		provider       TEXT NOT NULL,
		source_unit_id TEXT NOT NULL,
		building_id    BIGINT NOT NULL REFERENCES buildings (id),
		tipologia      TEXT NOT NULL,
		m2             DOUBLE PRECISION NOT NULL,
		price          INTEGER NOT NULL,
		disponible     BOOLEAN NOT NULL,
		status         TEXT NOT NULL,
		payload        JSONB NOT NULL,
		first_seen_at  TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (provider, source_unit_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_units_building ON units (building_id)`,
	`CREATE INDEX IF NOT EXISTS idx_units_first_seen ON units (provider, first_seen_at)`,
	`CREATE TABLE IF NOT EXISTS unit_history (
		id          BIGSERIAL PRIMARY KEY,
		unit_id     BIGINT NOT NULL,
		provider    TEXT NOT NULL,
		price       INTEGER NOT NULL,
		disponible  BOOLEAN NOT NULL,
		status      TEXT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_history_unit ON unit_history (unit_id, captured_at)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_history_captured ON unit_history (captured_at)`,
	`CREATE TABLE IF NOT EXISTS building_aggregates (
		building_id        BIGINT PRIMARY KEY REFERENCES buildings (id),
		provider           TEXT NOT NULL,
		source_building_id TEXT NOT NULL,
		available_units    INTEGER NOT NULL,
		precio_desde       INTEGER,
		precio_hasta       INTEGER,
		refreshed_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_building_aggregates_provider ON building_aggregates (provider)`,
	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id                 TEXT PRIMARY KEY,
		provider           TEXT NOT NULL,
		source             TEXT NOT NULL,
		started_at         TIMESTAMPTZ NOT NULL,
		finished_at        TIMESTAMPTZ,
		rows_total         INTEGER NOT NULL DEFAULT 0,
		rows_valid         INTEGER NOT NULL DEFAULT 0,
		units_upserted     INTEGER NOT NULL DEFAULT 0,
		units_soft_deleted INTEGER NOT NULL DEFAULT 0,
		alerts_count       INTEGER NOT NULL DEFAULT 0,
		buildings_skipped  INTEGER NOT NULL DEFAULT 0,
		warning            BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_runs_provider ON ingest_runs (provider, started_at DESC)`,
}

// PostgresStore is the pgx-backed StorageBackend for shared deployments.
// Concurrent writers are serialized by the unique (provider, source id) keys.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStore connects, pings and migrates the database at url.
func NewPostgresStore(ctx context.Context, url string, logger *logrus.Logger) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL configuration is required")
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.WithField("host", poolConfig.ConnConfig.Host).Info("PostgreSQL storage ready")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertBuilding(ctx context.Context, row *BuildingRow) (int64, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO buildings
			(provider, source_building_id, slug, name, comuna, address, service_level, geohash, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (provider, source_building_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			comuna = EXCLUDED.comuna,
			address = EXCLUDED.address,
			service_level = EXCLUDED.service_level,
			geohash = EXCLUDED.geohash,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		row.Provider, row.SourceBuildingID, row.Slug, row.Name, row.Comuna, row.Address,
		row.ServiceLevel, row.Geohash, string(row.Payload), row.UpdatedAt,
	).Scan(&row.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert building: %w", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) ExistingUnits(ctx context.Context, provider string, buildingID int64) ([]UnitRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_unit_id, disponible, status
		FROM units
		WHERE provider = $1 AND building_id = $2
		ORDER BY id`, provider, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing units: %w", err)
	}
	defer rows.Close()

	var refs []UnitRef
	for rows.Next() {
		var r UnitRef
		if err := rows.Scan(&r.ID, &r.SourceUnitID, &r.Disponible, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) UpsertUnits(ctx context.Context, rows []UnitRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := 0; i < len(rows); i += unitBatchSize {
		j := min(i+unitBatchSize, len(rows))
		b := &pgx.Batch{}
		for _, r := range rows[i:j] {
			b.Queue(`
				INSERT INTO units
					(provider, source_unit_id, building_id, tipologia, m2, price, disponible, status, payload, first_seen_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (provider, source_unit_id) DO UPDATE SET
					building_id = EXCLUDED.building_id,
					tipologia = EXCLUDED.tipologia,
					m2 = EXCLUDED.m2,
					price = EXCLUDED.price,
					disponible = EXCLUDED.disponible,
					status = EXCLUDED.status,
					payload = EXCLUDED.payload,
					updated_at = EXCLUDED.updated_at`,
				r.Provider, r.SourceUnitID, r.BuildingID, r.Tipologia, r.M2, r.Price,
				r.Disponible, r.Status, string(r.Payload), r.FirstSeenAt, r.UpdatedAt,
			)
		}
		br := tx.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to upsert unit %s: %w", rows[k].SourceUnitID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit units: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteUnits(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE units SET disponible = false, status = $2, updated_at = $3
		WHERE id = ANY($1)`, ids, string(models.StatusInactive), at)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete units: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RefreshAggregates(ctx context.Context, provider string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM building_aggregates WHERE provider = $1`, provider); err != nil {
		return fmt.Errorf("failed to clear aggregates: %w", err)
	}
	if _, err := tx.Exec(ctx, refreshAggregatesSQL("$1::timestamptz", "$2"), at, provider); err != nil {
		return fmt.Errorf("failed to refresh aggregates: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Snapshot(ctx context.Context, provider string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO unit_history (unit_id, provider, price, disponible, status, captured_at)
		SELECT id, provider, price, disponible, status, $2::timestamptz
		FROM units
		WHERE provider = $1`, provider, at)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot units: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountPriceDrops(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, priceDropsSQL("$1", "$2"), provider, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count price drops: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountNewListings(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM units WHERE provider = $1 AND first_seen_at >= $2`,
		provider, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count new listings: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unit_history WHERE captured_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge unit history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_runs (id, provider, source, started_at)
		VALUES ($1, $2, $3, $4)`, run.ID, run.Provider, run.Source, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs SET
			finished_at = $2,
			rows_total = $3,
			rows_valid = $4,
			units_upserted = $5,
			units_soft_deleted = $6,
			alerts_count = $7,
			buildings_skipped = $8,
			warning = $9
		WHERE id = $1 AND finished_at IS NULL`,
		run.ID, run.FinishedAt, run.RowsTotal, run.RowsValid, run.UnitsUpserted,
		run.UnitsSoftDeleted, run.AlertsCount, run.BuildingsSkipped, run.Warning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunClosed
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, provider string, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider, source, started_at, finished_at, rows_total, rows_valid,
			units_upserted, units_soft_deleted, alerts_count, buildings_skipped, warning
		FROM ingest_runs
		WHERE $1 = '' OR provider = $1
		ORDER BY started_at DESC
		LIMIT $2`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.IngestRun
	for rows.Next() {
		var r models.IngestRun
		err := rows.Scan(&r.ID, &r.Provider, &r.Source, &r.StartedAt, &r.FinishedAt,
			&r.RowsTotal, &r.RowsValid, &r.UnitsUpserted, &r.UnitsSoftDeleted,
			&r.AlertsCount, &r.BuildingsSkipped, &r.Warning)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) FindBuilding(ctx context.Context, provider, sourceBuildingID string) (*BuildingRow, []UnitRow, error) {
	var b BuildingRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, source_building_id, slug, name, comuna, address, service_level,
			geohash, payload, created_at, updated_at
		FROM buildings
		WHERE provider = $1 AND source_building_id = $2`, provider, sourceBuildingID,
	).Scan(&b.ID, &b.Provider, &b.SourceBuildingID, &b.Slug, &b.Name, &b.Comuna, &b.Address,
		&b.ServiceLevel, &b.Geohash, &b.Payload, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find building: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, provider, source_unit_id, building_id, tipologia, m2, price, disponible,
			status, payload, first_seen_at, updated_at
		FROM units
		WHERE building_id = $1
		ORDER BY id`, b.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load building units: %w", err)
	}
	defer rows.Close()

	var units []UnitRow
	for rows.Next() {
		var u UnitRow
		err := rows.Scan(&u.ID, &u.Provider, &u.SourceUnitID, &u.BuildingID, &u.Tipologia, &u.M2,
			&u.Price, &u.Disponible, &u.Status, &u.Payload, &u.FirstSeenAt, &u.UpdatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to load building units: %w", err)
	}
	return &b, units, nil
}

func (s *PostgresStore) ListAggregates(ctx context.Context, provider string) ([]AggregateRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT building_id, provider, source_building_id, available_units, precio_desde, precio_hasta, refreshed_at
		FROM building_aggregates
		WHERE provider = $1
		ORDER BY source_building_id`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var a AggregateRow
		err := rows.Scan(&a.BuildingID, &a.Provider, &a.SourceBuildingID, &a.AvailableUnits,
			&a.PrecioDesde, &a.PrecioHasta, &a.RefreshedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
