package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"catalogsync/config"
)

// IngestFunc runs one ingestion for a provider.
type IngestFunc func(ctx context.Context, provider string) error

// Scheduler runs ingestion for a fixed set of providers on an interval
type Scheduler struct {
	ingest    IngestFunc
	logger    *logrus.Logger
	interval  time.Duration
	providers []string
	stopChan  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	jobMutex  sync.Mutex // Ensures sequential job execution
}

// NewScheduler creates a new scheduler
func NewScheduler(ingest IngestFunc, interval time.Duration, providers []string, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	normalized := make([]string, 0, len(providers))
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		key := config.NormalizeProvider(p)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, key)
	}

	return &Scheduler{
		ingest:    ingest,
		logger:    logger,
		interval:  interval,
		providers: normalized,
		stopChan:  make(chan struct{}),
	}
}

// Enabled reports whether Start would schedule anything.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0 && len(s.providers) > 0
}

// Start runs every provider once and then on each tick until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("Scheduler disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runScheduler(ctx)
}

func (s *Scheduler) runScheduler(ctx context.Context) {
	defer s.wg.Done()

	s.logger.WithFields(logrus.Fields{
		"interval":  s.interval.String(),
		"providers": s.providers,
	}).Info("Running startup ingestion")
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ingests every provider sequentially. A failing provider does not
// stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	for _, provider := range s.providers {
		if ctx.Err() != nil {
			return
		}
		log := s.logger.WithField("provider", provider)
		log.Info("Starting scheduled ingestion")

		start := time.Now()
		if err := s.ingest(ctx, provider); err != nil {
			log.WithError(err).Error("Scheduled ingestion failed")
			continue
		}
		log.WithField("duration", time.Since(start).String()).Info("Scheduled ingestion completed")
	}
}

// Stop gracefully stops the scheduler, cancelling an ingestion in flight
func (s *Scheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
