package monitor

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/metrics"
	"github.com/ohmvision/camconnect/internal/probe"
)

// Event is raised on health transitions and reconnection outcomes. The
// business layer turns these into user-facing notifications.
type Event struct {
	CameraID uuid.UUID `json:"camera_id"`
	Type     string    `json:"type"` // health_transition, reconnect_recovered, reconnect_gave_up
	From     Level     `json:"from,omitempty"`
	To       Level     `json:"to,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

const (
	EventHealthTransition   = "health_transition"
	EventReconnectRecovered = "reconnect_recovered"
	EventReconnectGaveUp    = "reconnect_gave_up"
)

// EventSink receives monitor events. Implementations must not block.
type EventSink interface {
	Publish(evt Event)
}

// Persister stores resolved connections durably. Optional; a nil persister
// keeps everything in memory.
type Persister interface {
	SaveConnection(ctx context.Context, conn *ResolvedConnection) error
	DeleteConnection(ctx context.Context, cameraID uuid.UUID) error
	AppendHealth(ctx context.Context, rec HealthRecord) error
}

// Service owns camera health state: it applies probe outcomes, drives the
// reconnection machine, and answers manual operations.
type Service struct {
	store *Store
	clock Clock
	sink  EventSink
	repo  Persister

	probeTimeout time.Duration
}

type ServiceConfig struct {
	ProbeTimeout time.Duration // health-check probe bound, default 10s
	Clock        Clock
	Sink         EventSink
	Repo         Persister
}

func NewService(store *Store, cfg ServiceConfig) *Service {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &Service{
		store:        store,
		clock:        cfg.Clock,
		sink:         cfg.Sink,
		repo:         cfg.Repo,
		probeTimeout: cfg.ProbeTimeout,
	}
}

func (s *Service) Store() *Store { return s.store }

// Register makes a camera managed, persisting its resolved connection.
// It returns the camera id, generated when the caller supplied none.
func (s *Service) Register(ctx context.Context, conn ResolvedConnection) (uuid.UUID, error) {
	if conn.PrimaryURL == "" || conn.Type == "" {
		return uuid.Nil, ErrNoResolvedConnection
	}
	if conn.CameraID == uuid.Nil {
		conn.CameraID = uuid.New()
	}
	if conn.ResolvedAt.IsZero() {
		conn.ResolvedAt = s.clock.Now()
	}
	s.store.Put(conn)
	if s.repo != nil {
		if err := s.repo.SaveConnection(ctx, &conn); err != nil {
			log.Printf("Monitor: persist connection %s failed: %v", conn.CameraID, err)
		}
	}
	return conn.CameraID, nil
}

// Unregister removes a camera from monitoring and persistence.
func (s *Service) Unregister(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	s.store.Remove(id)
	if s.repo != nil {
		if err := s.repo.DeleteConnection(ctx, id); err != nil {
			log.Printf("Monitor: delete connection %s failed: %v", id, err)
		}
	}
	return nil
}

// tickAction is what the dispatcher decided a camera needs this tick.
type tickAction int

const (
	actionNone tickAction = iota
	actionHealthCheck
	actionReconnect
)

// planTick decides, under the camera lock, what this tick should do and
// marks the attempt in flight. The scheduler never probes a camera while
// a reconnection attempt is running.
func (s *Service) planTick(id uuid.UUID) (tickAction, ResolvedConnection, uint64) {
	var (
		action tickAction
		conn   ResolvedConnection
		gen    uint64
	)
	err := s.store.withEntry(id, func(e *entry) {
		conn = e.conn
		gen = e.generation
		if e.inFlight {
			return
		}
		if e.recon != nil {
			if e.recon.GivingUp {
				return // manual intervention required
			}
			if !s.clock.Now().Before(e.recon.NextAttemptAt) {
				e.inFlight = true
				action = actionReconnect
			}
			return // backoff pending: suppress the regular health probe
		}
		e.inFlight = true
		action = actionHealthCheck
	})
	if err != nil {
		return actionNone, conn, 0
	}
	return action, conn, gen
}

// Tick runs one scheduling step for one camera. Called by the scheduler's
// workers and by tests driving a virtual clock.
func (s *Service) Tick(ctx context.Context, id uuid.UUID) {
	action, conn, gen := s.planTick(id)
	switch action {
	case actionHealthCheck:
		res := probe.Test(ctx, conn.Candidate(), s.probeTimeoutFor(conn))
		metrics.ObserveProbe(string(conn.Type), res.Success, time.Duration(res.ResponseTimeMS)*time.Millisecond)
		s.applyHealthResult(ctx, id, gen, res, false)
	case actionReconnect:
		res := probe.Test(ctx, conn.Candidate(), s.probeTimeoutFor(conn))
		metrics.ObserveProbe(string(conn.Type), res.Success, time.Duration(res.ResponseTimeMS)*time.Millisecond)
		s.applyReconnectResult(ctx, id, gen, res)
	}
}

func (s *Service) probeTimeoutFor(conn ResolvedConnection) time.Duration {
	if conn.Config.ProbeTimeout > 0 {
		return conn.Config.ProbeTimeout
	}
	return s.probeTimeout
}

// applyHealthResult folds a probe outcome into the health record. Results
// from a superseded generation are dropped: a manual operation that raced
// this probe already wrote fresher state.
func (s *Service) applyHealthResult(ctx context.Context, id uuid.UUID, gen uint64, res probe.Result, manual bool) {
	var (
		transition *Event
		record     HealthRecord
		applied    bool
	)
	err := s.store.withEntry(id, func(e *entry) {
		e.inFlight = false
		if !manual && e.generation != gen {
			return // stale automatic result
		}
		if manual {
			e.generation++
		}

		prev := e.health.Level
		now := s.clock.Now()
		e.health.LastCheck = now

		if res.Success {
			e.health.Level = LevelFor(res.ResponseTimeMS)
			e.health.LastResponseMS = res.ResponseTimeMS
			e.health.ConsecutiveFailures = 0
			e.health.LastError = ""
			if e.recon != nil {
				e.recon = nil
				e.health.LastRecovery = &now
			}
		} else {
			e.health.Level = LevelOffline
			e.health.ConsecutiveFailures++
			e.health.LastError = res.Error
			if e.health.LastError == "" {
				e.health.LastError = string(res.Reason)
			}
			// Every offline check hands the camera to the reconnection
			// machine, including a camera whose very first probe fails
			// without ever reporting healthy.
			if e.recon == nil {
				e.recon = s.newReconnectionState(id, now)
			}
		}
		e.window.Add(e.health.Level != LevelOffline)
		e.health.UptimePct = e.window.Pct()

		if e.health.Level != prev {
			transition = &Event{
				CameraID: id, Type: EventHealthTransition,
				From: prev, To: e.health.Level,
				Error: e.health.LastError, At: now,
			}
		}
		record = e.health
		applied = true
	})
	if err != nil || !applied {
		return
	}

	if transition != nil {
		metrics.RecordTransition(string(transition.To))
		s.emit(*transition)
	}
	if s.repo != nil {
		if err := s.repo.AppendHealth(ctx, record); err != nil {
			log.Printf("Monitor: append health %s failed: %v", id, err)
		}
	}
}

// CheckNow performs an out-of-band probe and applies it immediately. The
// generation bump makes any concurrent automatic tick's result stale.
func (s *Service) CheckNow(ctx context.Context, id uuid.UUID) (HealthRecord, error) {
	snap, err := s.store.Get(id)
	if err != nil {
		return HealthRecord{}, err
	}
	if snap.Connection.PrimaryURL == "" {
		return HealthRecord{}, ErrNoResolvedConnection
	}

	res := probe.Test(ctx, snap.Connection.Candidate(), s.probeTimeoutFor(snap.Connection))
	s.applyHealthResult(ctx, id, 0, res, true)

	snap, err = s.store.Get(id)
	return snap.Health, err
}

// GlobalStatus aggregates every camera's health for the dashboard.
type GlobalStatus struct {
	Total        int           `json:"total"`
	Online       int           `json:"online"`
	Offline      int           `json:"offline"`
	ByLevel      map[Level]int `json:"by_level"`
	AvgUptimePct float64       `json:"avg_uptime_pct"`
}

func (s *Service) GlobalStatus() GlobalStatus {
	snaps := s.store.All()
	status := GlobalStatus{ByLevel: map[Level]int{}}
	var uptime float64
	for _, snap := range snaps {
		status.Total++
		status.ByLevel[snap.Health.Level]++
		if snap.Health.Level == LevelOffline {
			status.Offline++
		} else {
			status.Online++
		}
		uptime += snap.Health.UptimePct
	}
	if status.Total > 0 {
		status.AvgUptimePct = uptime / float64(status.Total)
	}
	for level, n := range status.ByLevel {
		metrics.SetLevelCount(string(level), n)
	}
	return status
}

func (s *Service) emit(evt Event) {
	if s.sink != nil {
		s.sink.Publish(evt)
	}
}
