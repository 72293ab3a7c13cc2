package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/database"
)

func TestMaintainCountsAlerts(t *testing.T) {
	store := database.NewMemoryStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcileBuilding(ctx, "acme", building("b1", unit("A", 500000, true), unit("B", 600000, true)))
	require.NoError(t, err)
	report, err := r.Maintain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Snapshotted)
	assert.Equal(t, 2, report.NewListings)
	assert.Zero(t, report.PriceDrops)

	r.now = func() time.Time { return fixedNow.Add(48 * time.Hour) }
	_, err = r.ReconcileBuilding(ctx, "acme", building("b1", unit("A", 450000, true), unit("B", 600000, true)))
	require.NoError(t, err)
	report, err = r.Maintain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PriceDrops)
	assert.Zero(t, report.NewListings)
	assert.Equal(t, 1, report.Alerts())

	aggs, err := store.ListAggregates(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, 450000, *aggs[0].PrecioDesde)
}

func TestMaintainPurgesOldHistory(t *testing.T) {
	store := database.NewMemoryStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcileBuilding(ctx, "acme", building("b1", unit("A", 1, true)))
	require.NoError(t, err)
	_, err = r.Maintain(ctx, "acme")
	require.NoError(t, err)

	r.now = func() time.Time { return fixedNow.Add(181 * 24 * time.Hour) }
	report, err := r.Maintain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
}

func TestMaintainContinuesAfterFailures(t *testing.T) {
	store := &MockStore{}
	refreshErr := errors.New("refresh failed")
	purgeErr := errors.New("purge failed")
	store.On("RefreshAggregates", mock.Anything, "acme", fixedNow).Return(refreshErr)
	store.On("Snapshot", mock.Anything, "acme", fixedNow).Return(3, nil)
	store.On("CountPriceDrops", mock.Anything, "acme", fixedNow.Add(-7*24*time.Hour)).Return(2, nil)
	store.On("CountNewListings", mock.Anything, "acme", fixedNow.Add(-24*time.Hour)).Return(1, nil)
	store.On("PurgeHistory", mock.Anything, fixedNow.Add(-180*24*time.Hour)).Return(0, purgeErr)

	r := newTestReconciler(store)
	report, err := r.Maintain(context.Background(), "acme")

	var merr *MaintenanceError
	require.ErrorAs(t, err, &merr)
	assert.ErrorIs(t, err, refreshErr)
	assert.ErrorIs(t, err, purgeErr)
	assert.Equal(t, 3, report.Alerts())
	assert.Equal(t, 3, report.Snapshotted)
	store.AssertExpectations(t)
}
