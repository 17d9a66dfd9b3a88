package monitor

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotManaged reports a camera the store has never seen. A setup
	// error, not a health state.
	ErrNotManaged = errors.New("camera is not managed")
)

// entry is the full per-camera state. All mutation happens under mu; the
// scheduler, the reconnection machine and manual operations serialize on
// it per camera, never globally.
type entry struct {
	mu sync.Mutex

	conn   ResolvedConnection
	health HealthRecord
	window *uptimeWindow
	recon  *ReconnectionState

	// generation invalidates stale in-flight probe results: manual
	// operations bump it, and an automatic tick only applies its outcome
	// if the generation it started under is still current.
	generation uint64

	// inFlight guards the mutual exclusion between scheduler ticks and
	// reconnection attempts on the same camera.
	inFlight bool
}

// Store is the owned registry of camera state, passed by reference to the
// scheduler and reconnection manager. Dashboard reads are snapshots.
type Store struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

func NewStore() *Store {
	return &Store{entries: map[uuid.UUID]*entry{}}
}

// Put registers or replaces a camera's resolved connection. Health state
// starts fresh on replacement because the endpoint changed.
func (s *Store) Put(conn ResolvedConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[conn.CameraID] = &entry{
		conn:   conn,
		health: HealthRecord{CameraID: conn.CameraID, Level: LevelOffline},
		window: newUptimeWindow(),
	}
}

// Remove drops a camera entirely.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// IDs returns every managed camera id, sorted for deterministic dispatch.
func (s *Store) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) get(id uuid.UUID) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// withEntry runs fn under the camera's lock.
func (s *Store) withEntry(id uuid.UUID, fn func(e *entry)) error {
	e, ok := s.get(id)
	if !ok {
		return ErrNotManaged
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
	return nil
}

// Snapshot is a consistent copy of one camera's state.
type Snapshot struct {
	Connection   ResolvedConnection `json:"connection"`
	Health       HealthRecord       `json:"health"`
	Reconnection *ReconnectionState `json:"reconnection,omitempty"`
}

// Get returns a snapshot for one camera. The copy is deep: callers never
// observe a half-updated record.
func (s *Store) Get(id uuid.UUID) (Snapshot, error) {
	var snap Snapshot
	err := s.withEntry(id, func(e *entry) {
		snap = snapshotLocked(e)
	})
	return snap, err
}

// All returns snapshots of every camera, each internally consistent.
func (s *Store) All() []Snapshot {
	ids := s.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := s.Get(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

func snapshotLocked(e *entry) Snapshot {
	snap := Snapshot{Connection: e.conn, Health: e.health}
	if e.recon != nil {
		rc := *e.recon
		snap.Reconnection = &rc
	}
	return snap
}
