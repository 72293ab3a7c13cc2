package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/config"
	"catalogsync/internal/adapter"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/source"
)

func testConfig(workers int) *config.Config {
	cfg := &config.Config{}
	cfg.Ingest.Workers = workers
	cfg.Ingest.MaxRetries = 1
	cfg.Ingest.RetryDelay = time.Millisecond
	cfg.Maintenance.HistoryRetentionDays = 180
	cfg.Maintenance.PriceDropWindow = 7 * 24 * time.Hour
	cfg.Maintenance.NewListingWindow = 24 * time.Hour
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func feedDir(t *testing.T, files map[string]string) source.Source {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	src, err := source.Resolve(dir, &config.Config{}, quietLogger())
	require.NoError(t, err)
	return src
}

func unitsJSON(ids ...string) string {
	parts := make([]string, 0, len(ids))
	for i, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"id":%q,"tipologia":"1D1B","m2":40,"price":%d,"disponible":true}`, id, 400000+i*1000))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func storedUnits(t *testing.T, store database.StorageBackend, provider, id string) map[string]models.Unit {
	t.Helper()
	row, rows, err := store.FindBuilding(context.Background(), provider, id)
	require.NoError(t, err)
	b, err := reconcile.FromRows(row, rows)
	require.NoError(t, err)
	out := make(map[string]models.Unit)
	for _, u := range b.Units {
		out[u.ID] = u
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(1), store, nil, quietLogger())

	src := feedDir(t, map[string]string{"acme.json": `{
		"id": "b1", "name": "Edificio Uno", "comuna": "Santiago", "address": "Calle 1",
		"units": [
			{"id": "u1", "tipologia": "1D1B", "m2": 40, "price": 400000, "disponible": true},
			{"id": "u2", "tipologia": "1D1B", "m2": 38, "price": 0, "disponible": true}
		]
	}`})

	summary, err := p.Run(context.Background(), "acme", src)
	require.NoError(t, err)

	run := summary.Run
	assert.Equal(t, 2, run.RowsTotal)
	assert.Equal(t, 2, run.RowsValid)
	assert.Equal(t, 2, run.UnitsUpserted)
	assert.Zero(t, run.UnitsSoftDeleted)
	assert.Equal(t, 2, run.AlertsCount, "both units are new listings")
	assert.False(t, run.Warning)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, summary.Quarantined)

	agg := summary.Aggregates["b1"]
	assert.True(t, agg.HasAvailability)
	require.NotNil(t, agg.PrecioDesde)
	assert.Equal(t, 400000, *agg.PrecioDesde)

	units := storedUnits(t, store, "acme", "b1")
	assert.False(t, units["u2"].Disponible)
	assert.Equal(t, models.StatusInactive, units["u2"].Status)

	runs, err := store.ListRuns(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, 2, runs[0].UnitsUpserted)
}

func TestRunIsIdempotent(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(2), store, nil, quietLogger())
	ctx := context.Background()

	_, err := p.Run(ctx, "acme", feedDir(t, map[string]string{
		"a.json": `[{"id":"b1","units":` + unitsJSON("A", "B", "Z") + `},{"id":"b2","units":` + unitsJSON("C") + `}]`,
	}))
	require.NoError(t, err)

	src := feedDir(t, map[string]string{
		"a.json": `[{"id":"b1","units":` + unitsJSON("A", "B") + `},{"id":"b2","units":` + unitsJSON("C") + `}]`,
	})

	first, err := p.Run(ctx, "acme", src)
	require.NoError(t, err)
	before := storedUnits(t, store, "acme", "b1")

	second, err := p.Run(ctx, "acme", src)
	require.NoError(t, err)
	after := storedUnits(t, store, "acme", "b1")

	assert.Equal(t, first.Run.RowsTotal, second.Run.RowsTotal)
	assert.Equal(t, first.Run.UnitsUpserted, second.Run.UnitsUpserted)
	assert.Equal(t, 1, first.Run.UnitsSoftDeleted)
	assert.Equal(t, first.Run.UnitsSoftDeleted, second.Run.UnitsSoftDeleted)
	assert.Equal(t, before, after)
	assert.False(t, after["Z"].Disponible)

	aggs, err := store.ListAggregates(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, aggs, 2)
}

func TestRunReconcilesVanishedUnits(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(1), store, nil, quietLogger())
	ctx := context.Background()

	_, err := p.Run(ctx, "acme", feedDir(t, map[string]string{
		"f.json": `{"id":"b1","units":` + unitsJSON("A", "B", "C") + `}`,
	}))
	require.NoError(t, err)

	summary, err := p.Run(ctx, "acme", feedDir(t, map[string]string{
		"f.json": `{"id":"b1","units":[
			{"id":"A","tipologia":"2D1B","m2":41,"price":410000,"disponible":true},
			{"id":"C","tipologia":"1D1B","m2":40,"price":402000,"disponible":false}
		]}`,
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Run.UnitsSoftDeleted)

	units := storedUnits(t, store, "acme", "b1")
	assert.False(t, units["B"].Disponible)
	assert.Equal(t, models.StatusInactive, units["B"].Status)
	assert.Equal(t, "2D1B", units["A"].Tipologia)
	assert.Equal(t, 410000, units["A"].Price)
	assert.False(t, units["C"].Disponible)
}

func TestRunSourceFailureLeavesRunOpen(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(1), store, nil, quietLogger())
	ctx := context.Background()

	_, err := p.Run(ctx, "acme", feedDir(t, map[string]string{
		"f.json": `{"id":"b1","units":` + unitsJSON("A") + `}`,
	}))
	require.NoError(t, err)
	before := storedUnits(t, store, "acme", "b1")

	src, err := source.Resolve(filepath.Join(t.TempDir(), "missing"), &config.Config{}, quietLogger())
	require.NoError(t, err)

	summary, err := p.Run(ctx, "acme", src)
	require.Error(t, err)
	assert.Nil(t, summary.Run.FinishedAt)

	runs, err := store.ListRuns(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	failed := runs[0]
	if failed.ID != summary.Run.ID {
		failed = runs[1]
	}
	assert.Equal(t, summary.Run.ID, failed.ID)
	assert.Nil(t, failed.FinishedAt)
	assert.Zero(t, failed.RowsTotal)
	assert.Zero(t, failed.UnitsSoftDeleted)

	// no building was touched
	assert.Equal(t, before, storedUnits(t, store, "acme", "b1"))
}

func TestRunCountsInvalidRows(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(1), store, nil, quietLogger())

	summary, err := p.Run(context.Background(), "acme", feedDir(t, map[string]string{
		"f.json": `[
			{"id":"b1","units":[{"id":"A","price":"1.200"},{"tipologia":"no id"}]},
			{"name":"no id","units":[{"id":"X"},{"id":"Y"}]}
		]`,
	}))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Run.RowsTotal)
	assert.Equal(t, 1, summary.Run.RowsValid)
	assert.Equal(t, 1, summary.Run.UnitsUpserted)
	assert.Equal(t, 1, summary.Run.BuildingsSkipped)
	assert.Equal(t, 3, summary.Invalid)
	assert.Equal(t, 1, summary.Ambiguous)
}

// flakyStore fails selected operations on top of the memory store.
type flakyStore struct {
	*database.MemoryStore
	failBuilding string
	failRefresh  bool
	onUpsert     func()
}

func (s *flakyStore) UpsertBuilding(ctx context.Context, row *database.BuildingRow) (int64, error) {
	if s.onUpsert != nil {
		s.onUpsert()
		return 0, ctx.Err()
	}
	if row.SourceBuildingID == s.failBuilding {
		return 0, errors.New("constraint violation")
	}
	return s.MemoryStore.UpsertBuilding(ctx, row)
}

func (s *flakyStore) RefreshAggregates(ctx context.Context, provider string, at time.Time) error {
	if s.failRefresh {
		return errors.New("refresh failed")
	}
	return s.MemoryStore.RefreshAggregates(ctx, provider, at)
}

func TestRunContinuesPastBuildingFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: database.NewMemoryStore(), failBuilding: "b1"}
	p := New(testConfig(1), store, nil, quietLogger())

	summary, err := p.Run(context.Background(), "acme", feedDir(t, map[string]string{
		"f.json": `[{"id":"b1","units":` + unitsJSON("A") + `},{"id":"b2","units":` + unitsJSON("B", "C") + `}]`,
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Run.RowsTotal)
	assert.Equal(t, 3, summary.Run.RowsValid)
	assert.Equal(t, 2, summary.Run.UnitsUpserted)
	assert.Equal(t, 1, summary.Run.BuildingsSkipped)
	assert.NotNil(t, summary.Run.FinishedAt)

	_, _, err = store.FindBuilding(context.Background(), "acme", "b1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRunMaintenanceFailureSetsWarning(t *testing.T) {
	store := &flakyStore{MemoryStore: database.NewMemoryStore(), failRefresh: true}
	p := New(testConfig(1), store, nil, quietLogger())

	summary, err := p.Run(context.Background(), "acme", feedDir(t, map[string]string{
		"f.json": `{"id":"b1","units":` + unitsJSON("A") + `}`,
	}))
	require.NoError(t, err)
	assert.True(t, summary.Run.Warning)
	assert.Equal(t, 1, summary.Run.UnitsUpserted)
	assert.Equal(t, 1, summary.Run.AlertsCount)
}

type stubSource struct {
	buildings []adapter.RawBuilding
}

func (s stubSource) Load(context.Context) ([]adapter.RawBuilding, error) { return s.buildings, nil }
func (s stubSource) String() string                                     { return "stub" }

func TestRunCancellationLeavesRunOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &flakyStore{MemoryStore: database.NewMemoryStore(), onUpsert: cancel}
	p := New(testConfig(1), store, nil, quietLogger())

	src := stubSource{buildings: []adapter.RawBuilding{
		{Fields: adapter.Record{"id": "b1"}},
		{Fields: adapter.Record{"id": "b2"}},
	}}
	_, err := p.Run(ctx, "acme", src)
	require.ErrorIs(t, err, context.Canceled)

	runs, err := store.ListRuns(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].FinishedAt)
}

type recordingNotifier struct {
	runs []models.IngestRun
}

func (n *recordingNotifier) NotifyRun(_ context.Context, run models.IngestRun) error {
	n.runs = append(n.runs, run)
	return errors.New("telegram down")
}

func TestRunNotifies(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(1), store, nil, quietLogger())
	notifier := &recordingNotifier{}
	p.SetNotifier(notifier)

	summary, err := p.Run(context.Background(), "acme", feedDir(t, map[string]string{
		"f.json": `{"id":"b1","units":` + unitsJSON("A") + `}`,
	}))
	require.NoError(t, err, "notification failures do not fail the run")
	require.Len(t, notifier.runs, 1)
	assert.Equal(t, summary.Run.ID, notifier.runs[0].ID)
}

func TestRunWithWorkerPool(t *testing.T) {
	store := database.NewMemoryStore()
	p := New(testConfig(4), store, nil, quietLogger())

	var buildings []string
	for i := 0; i < 25; i++ {
		buildings = append(buildings, fmt.Sprintf(`{"id":"b%d","units":%s}`, i,
			unitsJSON(fmt.Sprintf("b%d-1", i), fmt.Sprintf("b%d-2", i))))
	}

	summary, err := p.Run(context.Background(), "acme", feedDir(t, map[string]string{
		"f.json": "[" + strings.Join(buildings, ",") + "]",
	}))
	require.NoError(t, err)
	assert.Equal(t, 50, summary.Run.RowsTotal)
	assert.Equal(t, 50, summary.Run.UnitsUpserted)
	assert.Len(t, summary.Aggregates, 25)
}
