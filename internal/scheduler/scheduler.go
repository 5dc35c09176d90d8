package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rahulxs/geo-dashboard/internal/cache"
	"github.com/rahulxs/geo-dashboard/internal/geo"
)

// Scheduler runs the background jobs: periodic cache sweeps and warm
// refreshes of tracked places.
type Scheduler struct {
	scheduler *gocron.Scheduler
	orch      *geo.Orchestrator
	store     *cache.Store

	places          []string
	sweepInterval   time.Duration
	refreshInterval time.Duration
}

// New creates a new Scheduler.
func New(orch *geo.Orchestrator, store *cache.Store, places []string, sweepInterval, refreshInterval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler:       gocron.NewScheduler(time.UTC),
		orch:            orch,
		store:           store,
		places:          places,
		sweepInterval:   sweepInterval,
		refreshInterval: refreshInterval,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.sweepInterval > 0 {
		_, err := s.scheduler.Every(s.sweepInterval).Do(func() {
			if removed := s.store.Sweep(); removed > 0 {
				slog.Debug("cache sweep", "removed", removed)
			}
		})
		if err != nil {
			return err
		}
	}

	if s.refreshInterval > 0 && len(s.places) > 0 {
		_, err := s.scheduler.Every(s.refreshInterval).Do(s.refreshTracked)
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// refreshTracked resolves every tracked place so its cache entries stay warm.
func (s *Scheduler) refreshTracked() {
	slog.Info("refreshing tracked places", "count", len(s.places))

	var wg sync.WaitGroup
	for _, place := range s.places {
		place := place
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := s.orch.Resolve(ctx, geo.RawQuery{Kind: geo.KindSearch, Text: place}); err != nil {
				slog.Warn("tracked refresh failed", "place", place, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
