package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// MaintenanceError collects the post-batch steps that failed. It never
// invalidates the run counters; callers turn it into a run warning.
type MaintenanceError struct {
	Provider string
	Err      error
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("maintenance for %s: %v", e.Provider, e.Err)
}

func (e *MaintenanceError) Unwrap() error {
	return e.Err
}

// MaintenanceReport holds what the post-batch steps produced.
type MaintenanceReport struct {
	Snapshotted int
	PriceDrops  int
	NewListings int
	Purged      int
}

// Alerts is the run's alerts_count.
func (m MaintenanceReport) Alerts() int {
	return m.PriceDrops + m.NewListings
}

// Maintain runs once after all buildings: refresh aggregates, snapshot
// prices, count alerts and purge old history. Every step runs even if an
// earlier one failed.
func (r *Reconciler) Maintain(ctx context.Context, provider string) (MaintenanceReport, error) {
	at := r.now()
	cfg := r.config.Maintenance
	var report MaintenanceReport
	var errs []error

	if err := r.store.RefreshAggregates(ctx, provider, at); err != nil {
		errs = append(errs, err)
	}

	if n, err := r.store.Snapshot(ctx, provider, at); err != nil {
		errs = append(errs, err)
	} else {
		report.Snapshotted = n
	}

	if n, err := r.store.CountPriceDrops(ctx, provider, at.Add(-cfg.PriceDropWindow)); err != nil {
		errs = append(errs, err)
	} else {
		report.PriceDrops = n
	}

	if n, err := r.store.CountNewListings(ctx, provider, at.Add(-cfg.NewListingWindow)); err != nil {
		errs = append(errs, err)
	} else {
		report.NewListings = n
	}

	retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
	if n, err := r.store.PurgeHistory(ctx, at.Add(-retention)); err != nil {
		errs = append(errs, err)
	} else {
		report.Purged = n
	}

	r.logger.WithFields(logrus.Fields{
		"provider":     provider,
		"snapshotted":  report.Snapshotted,
		"price_drops":  report.PriceDrops,
		"new_listings": report.NewListings,
		"purged":       report.Purged,
	}).Info("Maintenance completed")

	if len(errs) > 0 {
		return report, &MaintenanceError{Provider: provider, Err: errors.Join(errs...)}
	}
	return report, nil
}
