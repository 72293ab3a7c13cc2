package reconcile

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"catalogsync/internal/database"
	"catalogsync/internal/models"
)

// MockStore is a mock implementation of database.StorageBackend
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertBuilding(ctx context.Context, row *database.BuildingRow) (int64, error) {
	args := m.Called(ctx, row)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ExistingUnits(ctx context.Context, provider string, buildingID int64) ([]database.UnitRef, error) {
	args := m.Called(ctx, provider, buildingID)
	refs, _ := args.Get(0).([]database.UnitRef)
	return refs, args.Error(1)
}

func (m *MockStore) UpsertUnits(ctx context.Context, rows []database.UnitRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockStore) SoftDeleteUnits(ctx context.Context, ids []int64, at time.Time) (int, error) {
	args := m.Called(ctx, ids, at)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) RefreshAggregates(ctx context.Context, provider string, at time.Time) error {
	args := m.Called(ctx, provider, at)
	return args.Error(0)
}

func (m *MockStore) Snapshot(ctx context.Context, provider string, at time.Time) (int, error) {
	args := m.Called(ctx, provider, at)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CountPriceDrops(ctx context.Context, provider string, since time.Time) (int, error) {
	args := m.Called(ctx, provider, since)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CountNewListings(ctx context.Context, provider string, since time.Time) (int, error) {
	args := m.Called(ctx, provider, since)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockStore) ListRuns(ctx context.Context, provider string, limit int) ([]models.IngestRun, error) {
	args := m.Called(ctx, provider, limit)
	runs, _ := args.Get(0).([]models.IngestRun)
	return runs, args.Error(1)
}

func (m *MockStore) FindBuilding(ctx context.Context, provider, sourceBuildingID string) (*database.BuildingRow, []database.UnitRow, error) {
	args := m.Called(ctx, provider, sourceBuildingID)
	b, _ := args.Get(0).(*database.BuildingRow)
	units, _ := args.Get(1).([]database.UnitRow)
	return b, units, args.Error(2)
}

func (m *MockStore) ListAggregates(ctx context.Context, provider string) ([]database.AggregateRow, error) {
	args := m.Called(ctx, provider)
	rows, _ := args.Get(0).([]database.AggregateRow)
	return rows, args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}
