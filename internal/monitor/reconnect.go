package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/metrics"
	"github.com/ohmvision/camconnect/internal/probe"
)

var ErrNoResolvedConnection = errors.New("camera has no resolved connection")

const (
	reconnectBaseDelay  = 10 * time.Second
	reconnectMaxDelay   = 5 * time.Minute
	reconnectMaxRetries = 5
)

func (s *Service) newReconnectionState(id uuid.UUID, now time.Time) *ReconnectionState {
	return &ReconnectionState{
		CameraID:      id,
		Attempts:      0,
		MaxAttempts:   reconnectMaxRetries,
		CurrentDelay:  reconnectBaseDelay,
		NextAttemptAt: now.Add(reconnectBaseDelay),
		StartedAt:     now,
	}
}

// applyReconnectResult folds the outcome of one reconnection attempt:
// success dissolves the machine and restores the health record, failure
// doubles the delay until the attempt budget is exhausted.
func (s *Service) applyReconnectResult(ctx context.Context, id uuid.UUID, gen uint64, res probe.Result) {
	var (
		events  []Event
		record  HealthRecord
		applied bool
	)
	err := s.store.withEntry(id, func(e *entry) {
		e.inFlight = false
		if e.generation != gen {
			return // manual operation superseded this attempt
		}
		if e.recon == nil {
			return
		}
		now := s.clock.Now()
		e.recon.Attempts++
		e.health.LastCheck = now

		if res.Success {
			attempts := e.recon.Attempts
			e.recon = nil
			prev := e.health.Level
			e.health.Level = LevelFor(res.ResponseTimeMS)
			e.health.LastResponseMS = res.ResponseTimeMS
			e.health.ConsecutiveFailures = 0
			e.health.LastError = ""
			e.health.LastRecovery = &now
			e.window.Add(true)
			e.health.UptimePct = e.window.Pct()
			events = append(events,
				Event{CameraID: id, Type: EventHealthTransition, From: prev, To: e.health.Level, At: now},
				Event{CameraID: id, Type: EventReconnectRecovered, To: e.health.Level, At: now},
			)
			log.Printf("Monitor: camera %s recovered after %d attempt(s)", id, attempts)
		} else {
			e.health.ConsecutiveFailures++
			e.health.LastError = res.Error
			e.window.Add(false)
			e.health.UptimePct = e.window.Pct()
			if e.recon.Attempts >= e.recon.MaxAttempts {
				e.recon.GivingUp = true
				events = append(events, Event{
					CameraID: id, Type: EventReconnectGaveUp,
					To: LevelOffline, Error: res.Error, At: now,
				})
				log.Printf("Monitor: camera %s gave up after %d attempts", id, e.recon.Attempts)
			} else {
				e.recon.CurrentDelay *= 2
				if e.recon.CurrentDelay > reconnectMaxDelay {
					e.recon.CurrentDelay = reconnectMaxDelay
				}
				e.recon.NextAttemptAt = now.Add(e.recon.CurrentDelay)
			}
		}
		record = e.health
		applied = true
	})
	if err != nil || !applied {
		return
	}

	metrics.RecordReconnectAttempt(res.Success)
	for _, evt := range events {
		if evt.Type == EventHealthTransition {
			metrics.RecordTransition(string(evt.To))
		}
		s.emit(evt)
	}
	if s.repo != nil {
		if err := s.repo.AppendHealth(ctx, record); err != nil {
			log.Printf("Monitor: append health %s failed: %v", id, err)
		}
	}
}

// Reconnect is the manual trigger: it cancels any pending backoff, resets
// the attempt budget, and probes immediately. Works whether the machine
// had given up or never started.
func (s *Service) Reconnect(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	var (
		conn ResolvedConnection
		gen  uint64
	)
	err := s.store.withEntry(id, func(e *entry) {
		e.generation++
		gen = e.generation
		e.inFlight = true
		now := s.clock.Now()
		e.recon = s.newReconnectionState(id, now)
		e.recon.NextAttemptAt = now
		conn = e.conn
	})
	if err != nil {
		return Snapshot{}, err
	}
	if conn.PrimaryURL == "" {
		s.store.withEntry(id, func(e *entry) { e.inFlight = false })
		return Snapshot{}, ErrNoResolvedConnection
	}

	res := probe.Test(ctx, conn.Candidate(), s.probeTimeoutFor(conn))
	s.applyReconnectResult(ctx, id, gen, res)
	return s.store.Get(id)
}
