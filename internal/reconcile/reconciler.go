// Package reconcile writes canonical buildings to storage: upsert by external
// key, diff against what was stored, soft-delete what vanished and run the
// post-batch maintenance.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"catalogsync/config"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
)

// Reconciler owns the canonical-to-row mapping for one storage backend.
type Reconciler struct {
	store  database.StorageBackend
	logger *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// Result summarises one reconciled building.
type Result struct {
	// Building is the input after quarantine
	Building    models.Building
	Upserted    int
	SoftDeleted int
	Quarantined int
}

// NewReconciler creates a reconciler writing to store.
func NewReconciler(store database.StorageBackend, cfg *config.Config, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileBuilding upserts b and its units for provider, then soft-deletes
// the stored units that are no longer in the feed. Any storage failure is
// returned as a *database.PersistenceError and leaves the units untouched
// for this run if the building itself could not be written.
func (r *Reconciler) ReconcileBuilding(ctx context.Context, provider string, b models.Building) (Result, error) {
	at := r.now()
	key := provider + "/" + b.ID
	res := Result{Building: b}

	res.Building.Units = make([]models.Unit, len(b.Units))
	for i, u := range b.Units {
		q, changed := Quarantine(u)
		if changed {
			res.Quarantined++
		}
		res.Building.Units[i] = q
	}

	buildingRow, err := ToBuildingRow(provider, res.Building, at)
	if err != nil {
		return res, &database.PersistenceError{Op: "encode building", Key: key, Err: err}
	}

	var buildingID int64
	err = r.withRetry(ctx, "upsert building", key, func() error {
		var upsertErr error
		buildingID, upsertErr = r.store.UpsertBuilding(ctx, buildingRow)
		return upsertErr
	})
	if err != nil {
		return res, &database.PersistenceError{Op: "upsert building", Key: key, Err: err}
	}

	// before set, read ahead of any unit write for this building
	var before []database.UnitRef
	err = r.withRetry(ctx, "fetch existing units", key, func() error {
		var fetchErr error
		before, fetchErr = r.store.ExistingUnits(ctx, provider, buildingID)
		return fetchErr
	})
	if err != nil {
		return res, &database.PersistenceError{Op: "fetch existing units", Key: key, Err: err}
	}

	after := make(map[string]struct{}, len(res.Building.Units))
	rows := make([]database.UnitRow, 0, len(res.Building.Units))
	for _, u := range res.Building.Units {
		row, err := ToUnitRow(provider, buildingID, u, at)
		if err != nil {
			return res, &database.PersistenceError{Op: "encode unit", Key: key + "/" + u.ID, Err: err}
		}
		rows = append(rows, row)
		after[u.ID] = struct{}{}
	}

	if len(rows) > 0 {
		err = r.withRetry(ctx, "upsert units", key, func() error {
			return r.store.UpsertUnits(ctx, rows)
		})
		if err != nil {
			return res, &database.PersistenceError{Op: "upsert units", Key: key, Err: err}
		}
		res.Upserted = len(rows)
	}

	var missing []int64
	for _, ref := range before {
		// rows already inactive are rewritten with the same values, so
		// replays report the same soft-delete set
		if _, ok := after[ref.SourceUnitID]; !ok {
			missing = append(missing, ref.ID)
		}
	}

	if len(missing) > 0 {
		err = r.withRetry(ctx, "soft-delete units", key, func() error {
			_, deleteErr := r.store.SoftDeleteUnits(ctx, missing, at)
			return deleteErr
		})
		if err != nil {
			return res, &database.PersistenceError{Op: "soft-delete units", Key: key, Err: err}
		}
		res.SoftDeleted = len(missing)
	}

	r.logger.WithFields(logrus.Fields{
		"provider":     provider,
		"building_id":  b.ID,
		"upserted":     res.Upserted,
		"soft_deleted": res.SoftDeleted,
		"quarantined":  res.Quarantined,
	}).Debug("Reconciled building")

	return res, nil
}

// withRetry runs fn, retrying transient storage errors up to
// Ingest.MaxRetries times with Ingest.RetryDelay between attempts.
func (r *Reconciler) withRetry(ctx context.Context, op, key string, fn func() error) error {
	maxRetries := r.config.Ingest.MaxRetries
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.WithFields(logrus.Fields{
				"op":      op,
				"key":     key,
				"attempt": attempt,
			}).Infof("Retrying %s, attempt %d of %d", op, attempt, maxRetries)

			timer := time.NewTimer(r.config.Ingest.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !database.IsTransient(err) {
			return err
		}
		r.logger.WithError(err).WithField("op", op).Warn("Transient storage failure")
	}

	return fmt.Errorf("failed to %s after %d attempts: %w", op, maxRetries+1, err)
}
