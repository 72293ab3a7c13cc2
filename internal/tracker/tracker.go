// Package tracker records one ingestion pass as a persisted run with counters.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalogsync/internal/database"
	"catalogsync/internal/models"
)

// ErrRunFinished is returned when Finish is called twice for the same run.
var ErrRunFinished = errors.New("run already finished")

// Tracker creates and finalizes run records.
type Tracker struct {
	store  database.StorageBackend
	logger *logrus.Logger
	now    func() time.Time
}

// Run is an open run. Counter methods are safe for concurrent use.
type Run struct {
	mu       sync.Mutex
	record   models.IngestRun
	counters models.RunCounters
	finished bool
}

func NewTracker(store database.StorageBackend, logger *logrus.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start persists a new open run for provider and source.
func (t *Tracker) Start(ctx context.Context, provider, source string) (*Run, error) {
	run := &Run{record: models.IngestRun{
		ID:        uuid.NewString(),
		Provider:  provider,
		Source:    source,
		StartedAt: t.now(),
	}}
	if err := t.store.CreateRun(ctx, &run.record); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"run_id":   run.record.ID,
		"provider": provider,
		"source":   source,
	}).Info("Run started")
	return run, nil
}

// Finish stamps finished_at and writes every counter in one update. It
// succeeds at most once per run.
func (t *Tracker) Finish(ctx context.Context, run *Run) (models.IngestRun, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.finished {
		return run.record, ErrRunFinished
	}

	record := run.record
	record.Apply(run.counters)
	finishedAt := t.now()
	record.FinishedAt = &finishedAt

	if err := t.store.FinishRun(ctx, &record); err != nil {
		if errors.Is(err, database.ErrRunClosed) {
			run.finished = true
			return run.record, ErrRunFinished
		}
		return run.record, fmt.Errorf("failed to finish run %s: %w", record.ID, err)
	}

	run.record = record
	run.finished = true
	return record, nil
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.record.ID
}

// Record returns a copy of the run with the current counters applied.
func (r *Run) Record() models.IngestRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.record
	record.Apply(r.counters)
	return record
}

// Observe adds seen raw units and how many of them mapped to valid units.
func (r *Run) Observe(seen, valid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.RowsTotal += seen
	r.counters.RowsValid += valid
}

// Reconciled adds the result of a successfully written building.
func (r *Run) Reconciled(upserted, softDeleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.UnitsUpserted += upserted
	r.counters.UnitsSoftDeleted += softDeleted
}

// SkipBuilding counts a building that was not written this run.
func (r *Run) SkipBuilding() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.BuildingsSkipped++
}

// SetAlerts sets alerts_count.
func (r *Run) SetAlerts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.AlertsCount = n
}

// Warn raises the run-level warning flag.
func (r *Run) Warn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Warning = true
}

// Counters returns a snapshot of the counters.
func (r *Run) Counters() models.RunCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}
