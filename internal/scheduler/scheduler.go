package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/temperature-monitoring/internal/metrics"
	"github.com/i474232898/temperature-monitoring/internal/selection"
)

// Syncer pulls upstream readings into the local store; monitoring.Service implements it.
type Syncer interface {
	Sync(ctx context.Context, orgID string, lookback time.Duration) (int, error)
}

// Scheduler periodically syncs readings for configured organizations and
// expires idle chart sessions.
type Scheduler struct {
	scheduler *gocron.Scheduler
	syncer    Syncer
	sessions  *selection.Registry
	metrics   *metrics.Recorder
	orgs      []string
	interval  time.Duration
	lookback  time.Duration
}

// New creates a new Scheduler. sessions and rec may be nil.
func New(orgs []string, interval, lookback time.Duration, syncer Syncer, sessions *selection.Registry, rec *metrics.Recorder) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		syncer:    syncer,
		sessions:  sessions,
		metrics:   rec,
		orgs:      orgs,
		interval:  interval,
		lookback:  lookback,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.orgs) == 0 {
		log.Println("scheduler: no organizations configured; sync disabled")
	} else {
		seconds := int(s.interval.Seconds())
		if seconds <= 0 {
			seconds = 300
		}
		if _, err := s.scheduler.Every(seconds).Seconds().Do(s.RunSync); err != nil {
			return err
		}
	}

	if s.sessions != nil {
		if _, err := s.scheduler.Every(1).Minute().Do(s.sweepSessions); err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// RunSync syncs every configured organization concurrently and waits for all of them.
func (s *Scheduler) RunSync() {
	log.Println("scheduler: running reading sync job")

	var wg sync.WaitGroup
	for _, org := range s.orgs {
		org := org
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			n, err := s.syncer.Sync(ctx, org, s.lookback)
			s.metrics.SyncRun(err)
			if err != nil {
				log.Printf("scheduler: sync failed for org %s: %v", org, err)
				return
			}
			s.metrics.Ingested("sync", n, 0)
			log.Printf("DEBUG: scheduler: synced %d readings for org %s", n, org)
		}()
	}
	wg.Wait()
	log.Println("scheduler: completed reading sync job")
}

func (s *Scheduler) sweepSessions() {
	if n := s.sessions.Sweep(time.Now()); n > 0 {
		log.Printf("scheduler: expired %d idle chart sessions", n)
	}
	s.metrics.SessionsOpen(s.sessions.Len())
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
