package monitor

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/metrics"
)

// Scheduler walks the managed cameras on a fixed interval and hands each
// one to a worker. Cameras that are mid-probe or waiting out a backoff
// are skipped by Service.Tick itself.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	workers  int
	jitter   time.Duration

	jobs   chan uuid.UUID
	stop   chan struct{}
	doneWG sync.WaitGroup
}

type SchedulerConfig struct {
	Interval time.Duration // sweep period, default 60s
	Workers  int           // concurrent probes, default 8
	Jitter   time.Duration // random start delay spread, default 2s
}

func NewScheduler(svc *Service, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 2 * time.Second
	}
	return &Scheduler{
		svc:      svc,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		jitter:   cfg.Jitter,
		jobs:     make(chan uuid.UUID, 256),
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.doneWG.Add(1)
		go s.worker(ctx)
	}
	s.doneWG.Add(1)
	go s.loop(ctx)
	log.Printf("Monitor: scheduler started (interval=%s workers=%d)", s.interval, s.workers)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.doneWG.Wait()
	log.Println("Monitor: scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.doneWG.Done()
	if s.jitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(s.jitter)))):
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			close(s.jobs)
			return
		case <-ctx.Done():
			close(s.jobs)
			return
		}
	}
}

// sweep enqueues every managed camera. A full queue drops the remainder
// rather than stalling the ticker; the next sweep picks them up.
func (s *Scheduler) sweep() {
	for _, id := range s.svc.Store().IDs() {
		select {
		case s.jobs <- id:
		default:
			metrics.QueueDropped()
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.doneWG.Done()
	for id := range s.jobs {
		s.svc.Tick(ctx, id)
	}
}
