// Package pipeline runs one ingestion pass: load the feed, map, reconcile,
// maintain and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"catalogsync/config"
	"catalogsync/internal/adapter"
	"catalogsync/internal/aggregate"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
	"catalogsync/internal/normalize"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/source"
	"catalogsync/internal/tracker"
)

// Notifier receives every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run models.IngestRun) error
}

// Pipeline wires the adapter, reconciler and tracker over one storage backend.
type Pipeline struct {
	config     *config.Config
	lookups    *config.Lookups
	reconciler *reconcile.Reconciler
	tracker    *tracker.Tracker
	notifier   Notifier
	logger     *logrus.Logger
}

// Summary is the outcome of a run, including what is not persisted on the
// run record.
type Summary struct {
	Run         models.IngestRun
	Invalid     int
	Quarantined int
	Ambiguous   int
	Maintenance reconcile.MaintenanceReport
	// Aggregates holds the rollup of every reconciled building, by building id
	Aggregates map[string]models.BuildingAggregate
}

// runState is what one Run accumulates besides the tracker counters.
type runState struct {
	run         *tracker.Run
	invalid     atomic.Int64
	quarantined atomic.Int64
	ambiguous   atomic.Int64

	mu         sync.Mutex
	aggregates map[string]models.BuildingAggregate
}

func New(cfg *config.Config, store database.StorageBackend, lookups *config.Lookups, logger *logrus.Logger) *Pipeline {
	if lookups == nil {
		lookups = config.DefaultLookups()
	}
	return &Pipeline{
		config:     cfg,
		lookups:    lookups,
		reconciler: reconcile.NewReconciler(store, cfg, logger),
		tracker:    tracker.NewTracker(store, logger),
		logger:     logger,
	}
}

// SetNotifier registers n to be told about finished runs.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Run ingests src for provider. The run record is created first; a source
// failure aborts before any building is touched and leaves that record open.
// Cancelling ctx aborts the run the same way. Entity-level failures are
// counted, never returned.
func (p *Pipeline) Run(ctx context.Context, provider string, src source.Source) (Summary, error) {
	if p.config.Ingest.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Ingest.RunTimeout)
		defer cancel()
	}

	log := p.logger.WithFields(logrus.Fields{
		"provider": provider,
		"source":   src.String(),
	})

	run, err := p.tracker.Start(ctx, provider, src.String())
	if err != nil {
		log.WithError(err).Error("Failed to start run")
		return Summary{}, err
	}
	log = log.WithField("run_id", run.ID())

	state := &runState{run: run, aggregates: make(map[string]models.BuildingAggregate)}

	raw, err := src.Load(ctx)
	if err != nil {
		if errors.Is(err, source.ErrFormatMismatch) {
			log.WithError(err).Error("Feed format mismatch, aborting run")
		} else {
			log.WithError(err).Error("Failed to load feed, aborting run")
		}
		summary := p.summary(state, run.Record())
		p.logSummary(log, summary, "source_failed")
		return summary, fmt.Errorf("failed to load source: %w", err)
	}

	mapper := adapter.New(p.lookups, normalize.Parser{
		OnAmbiguous: func(rawValue string, value float64) {
			state.ambiguous.Add(1)
			log.WithFields(logrus.Fields{"raw": rawValue, "value": value}).Debug("Ambiguous thousands separator")
		},
	})

	g := new(errgroup.Group)
	g.SetLimit(max(p.config.Ingest.Workers, 1))
	for _, b := range raw {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processBuilding(ctx, provider, mapper, state, b)
		})
	}
	waitErr := g.Wait()
	if waitErr == nil {
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		summary := p.summary(state, run.Record())
		p.logSummary(log, summary, "aborted")
		return summary, fmt.Errorf("run %s aborted: %w", run.ID(), waitErr)
	}

	report, err := p.reconciler.Maintain(ctx, provider)
	if err != nil {
		log.WithError(err).Warn("Maintenance failed, run flagged with warning")
		run.Warn()
	}
	run.SetAlerts(report.Alerts())

	record, err := p.tracker.Finish(ctx, run)
	summary := p.summary(state, record)
	summary.Maintenance = report
	if err != nil {
		summary.Run = run.Record()
		p.logSummary(log, summary, "unfinished")
		return summary, err
	}
	p.logSummary(log, summary, "finished")

	if p.notifier != nil {
		if err := p.notifier.NotifyRun(ctx, record); err != nil {
			log.WithError(err).Warn("Failed to send run notification")
		}
	}
	return summary, nil
}

// processBuilding maps and reconciles one raw building. It only returns an
// error when ctx is done.
func (p *Pipeline) processBuilding(ctx context.Context, provider string, mapper *adapter.Adapter, state *runState, raw adapter.RawBuilding) error {
	log := p.logger.WithFields(logrus.Fields{
		"provider":    provider,
		"building_id": raw.ID(),
	})

	mapped, err := mapper.MapBuilding(raw)
	state.run.Observe(mapped.UnitsSeen, len(mapped.Building.Units))
	state.invalid.Add(int64(len(mapped.Invalid)))
	for _, inv := range mapped.Invalid {
		log.WithError(inv).WithField("unit_id", inv.ID).Debug("Skipping invalid unit")
	}
	if err != nil {
		state.invalid.Add(int64(mapped.UnitsSeen))
		log.WithError(err).Warn("Skipping invalid building")
		state.run.SkipBuilding()
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := p.reconciler.ReconcileBuilding(ctx, provider, mapped.Building)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.WithError(err).Error("Failed to reconcile building, skipping")
		state.run.SkipBuilding()
		return nil
	}
	state.run.Reconciled(res.Upserted, res.SoftDeleted)
	state.quarantined.Add(int64(res.Quarantined))

	agg := aggregate.Derive(res.Building)
	state.mu.Lock()
	state.aggregates[res.Building.ID] = agg
	state.mu.Unlock()

	log.WithFields(logrus.Fields{
		"units":            res.Upserted,
		"soft_deleted":     res.SoftDeleted,
		"has_availability": agg.HasAvailability,
		"typologies":       len(agg.TypologySummary),
	}).Debug("Building ingested")
	return nil
}

func (p *Pipeline) summary(state *runState, record models.IngestRun) Summary {
	state.mu.Lock()
	defer state.mu.Unlock()
	aggs := make(map[string]models.BuildingAggregate, len(state.aggregates))
	for id, a := range state.aggregates {
		aggs[id] = a
	}
	return Summary{
		Run:         record,
		Invalid:     int(state.invalid.Load()),
		Quarantined: int(state.quarantined.Load()),
		Ambiguous:   int(state.ambiguous.Load()),
		Aggregates:  aggs,
	}
}

func (p *Pipeline) logSummary(log *logrus.Entry, s Summary, status string) {
	entry := log.WithFields(logrus.Fields{
		"status":             status,
		"rows_total":         s.Run.RowsTotal,
		"rows_valid":         s.Run.RowsValid,
		"units_upserted":     s.Run.UnitsUpserted,
		"units_soft_deleted": s.Run.UnitsSoftDeleted,
		"alerts_count":       s.Run.AlertsCount,
		"buildings_skipped":  s.Run.BuildingsSkipped,
		"warning":            s.Run.Warning,
		"invalid":            s.Invalid,
		"quarantined":        s.Quarantined,
		"ambiguous_numbers":  s.Ambiguous,
	})
	if status == "finished" && !s.Run.Warning {
		entry.Info("Run summary")
		return
	}
	entry.Warn("Run summary")
}
