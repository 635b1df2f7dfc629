// Package scheduler drives saved-search alerts and audience syncs on wall-clock cadences
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/config"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/robfig/cron/v3"
)

// Sweep names
const (
	SweepInstantAlerts  = "instant_alerts"
	SweepPeriodicAlerts = "periodic_alerts"
	SweepAudienceSync   = "audience_sync"
	SweepAlertCleanup   = "alert_cleanup"
	SweepStaleSyncs     = "stale_syncs"
)

var ErrUnknownSweep = errors.New("unknown sweep")

// Scheduler enumerates due subscriptions on every tick and enqueues one job
// per subscription. It holds no state between ticks.
type Scheduler struct {
	searches     repository.SavedSearchRepository
	audiences    repository.AudienceRepository
	records      repository.AudienceSyncRecordRepository
	dispatcher   jobs.Dispatcher
	alerts       *AlertProcessor
	orchestrator *AudienceSyncOrchestrator
	cfg          config.SchedulerConfig
	logger       *log.Logger
	now          func() time.Time

	cron *cron.Cron
}

func NewScheduler(
	searches repository.SavedSearchRepository,
	audiences repository.AudienceRepository,
	records repository.AudienceSyncRecordRepository,
	dispatcher jobs.Dispatcher,
	alerts *AlertProcessor,
	orchestrator *AudienceSyncOrchestrator,
	cfg config.SchedulerConfig,
	logger *log.Logger,
) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.StaleSyncAfter <= 0 {
		cfg.StaleSyncAfter = 30 * time.Minute
	}
	return &Scheduler{
		searches:     searches,
		audiences:    audiences,
		records:      records,
		dispatcher:   dispatcher,
		alerts:       alerts,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logger,
		now:          utils.UTCNow,
	}
}

// Start registers the sweeps with a UTC cron and returns a stop function
// that waits for running ticks.
func (s *Scheduler) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)
	c := cron.New(cron.WithLocation(time.UTC))

	entries := []struct {
		spec  string
		sweep string
	}{
		{s.cfg.InstantAlertSpec, SweepInstantAlerts},
		{s.cfg.PeriodicAlertSpec, SweepPeriodicAlerts},
		{s.cfg.AudienceSyncSpec, SweepAudienceSync},
		{s.cfg.AlertCleanupSpec, SweepAlertCleanup},
		{s.cfg.StaleSyncSpec, SweepStaleSyncs},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		sweep := e.sweep
		if _, err := c.AddFunc(e.spec, func() { s.tick(ctx, sweep) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s (%q): %w", sweep, e.spec, err)
		}
	}

	s.cron = c
	c.Start()
	s.logger.Printf("scheduler: started with %d sweeps", len(c.Entries()))

	return func() {
		cancel()
		<-c.Stop().Done()
	}, nil
}

// RunNow runs one sweep on the calling goroutine
func (s *Scheduler) RunNow(ctx context.Context, sweep string) error {
	switch sweep {
	case SweepInstantAlerts:
		return s.sweepAlerts(ctx, []models.AlertFrequency{models.AlertFrequencyInstant})
	case SweepPeriodicAlerts:
		return s.sweepAlerts(ctx, []models.AlertFrequency{
			models.AlertFrequencyDaily,
			models.AlertFrequencyWeekly,
			models.AlertFrequencyMonthly,
		})
	case SweepAudienceSync:
		return s.sweepAudiences(ctx)
	case SweepAlertCleanup:
		return s.cleanupAlerts(ctx)
	case SweepStaleSyncs:
		return s.reapStale(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSweep, sweep)
	}
}

// tick isolates a sweep: failures and panics are logged and the next tick runs as scheduled
func (s *Scheduler) tick(ctx context.Context, sweep string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("scheduler: panic in sweep=%s: %v\n%s", sweep, r, debug.Stack())
			sweepsTotal.WithLabelValues(sweep, "panic").Inc()
		}
	}()

	if err := s.RunNow(ctx, sweep); err != nil {
		s.logger.Printf("scheduler: sweep=%s failed after %s: %v", sweep, time.Since(start), err)
		sweepsTotal.WithLabelValues(sweep, "failed").Inc()
		return
	}
	sweepsTotal.WithLabelValues(sweep, "ok").Inc()
}

func (s *Scheduler) sweepAlerts(ctx context.Context, frequencies []models.AlertFrequency) error {
	candidates, err := s.searches.ListSchedulable(ctx, frequencies)
	if err != nil {
		return fmt.Errorf("list saved searches: %w", err)
	}

	now := s.now()
	enqueued := 0
	for _, search := range candidates {
		if !IsSavedSearchDue(search, now) {
			continue
		}
		if err := s.dispatcher.Enqueue(ctx, jobs.NewJob(jobs.KindAlertEvaluate, search.ID)); err != nil {
			s.logger.Printf("scheduler: enqueue alert for saved search id=%s failed: %v", search.ID, err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Printf("scheduler: enqueued %d of %d saved searches", enqueued, len(candidates))
	}
	return nil
}

func (s *Scheduler) sweepAudiences(ctx context.Context) error {
	now := s.now()
	candidates, err := s.audiences.ListAutoSyncDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due audiences: %w", err)
	}

	enqueued := 0
	for _, audience := range candidates {
		latest, err := s.records.LatestByAudience(ctx, audience.ID)
		if err != nil {
			s.logger.Printf("scheduler: latest sync of audience id=%s failed: %v", audience.ID, err)
			continue
		}
		if !IsAudienceDue(audience, latest, now, s.cfg.StaleSyncAfter) {
			continue
		}

		rec, err := s.orchestrator.BeginAttempt(ctx, audience.ID, models.SyncTriggerAutoSync)
		if err != nil {
			s.logger.Printf("scheduler: begin sync of audience id=%s failed: %v", audience.ID, err)
			continue
		}
		job := jobs.NewJob(jobs.KindAudienceSync, audience.ID)
		job.SyncRecordID = &rec.ID
		job.Trigger = models.SyncTriggerAutoSync
		if err := s.dispatcher.Enqueue(ctx, job); err != nil {
			s.logger.Printf("scheduler: enqueue sync of audience id=%s failed: %v", audience.ID, err)
			s.orchestrator.AbandonAttempt(ctx, rec, err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Printf("scheduler: enqueued %d of %d audiences", enqueued, len(candidates))
	}
	return nil
}

func (s *Scheduler) cleanupAlerts(ctx context.Context) error {
	days := s.cfg.AlertRetentionDays
	if days <= 0 {
		return nil
	}
	n, err := s.alerts.CleanupOldAlerts(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Printf("scheduler: deleted %d alerts older than %d days", n, days)
	}
	return nil
}

func (s *Scheduler) reapStale(ctx context.Context) error {
	n, err := s.orchestrator.ReapStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Printf("scheduler: failed %d stale sync attempts", n)
	}
	return nil
}
