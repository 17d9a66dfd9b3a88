package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/probe"
)

// Level is the discrete health classification of a camera link.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelFair      Level = "fair"
	LevelPoor      Level = "poor"
	LevelOffline   Level = "offline"
)

// Response time thresholds, in milliseconds.
const (
	thresholdExcellent = 500
	thresholdGood      = 1500
	thresholdFair      = 3000
)

// LevelFor classifies a successful probe's response time. Pure function of
// the latest outcome; prior state never matters.
func LevelFor(responseMS int) Level {
	switch {
	case responseMS < thresholdExcellent:
		return LevelExcellent
	case responseMS < thresholdGood:
		return LevelGood
	case responseMS < thresholdFair:
		return LevelFair
	default:
		return LevelPoor
	}
}

// ConnConfig carries per-camera probe tuning.
type ConnConfig struct {
	ProbeTimeout  time.Duration `json:"probe_timeout_ms"`
	RTSPTransport string        `json:"rtsp_transport,omitempty"` // tcp or udp
	VerifyTLS     bool          `json:"verify_tls,omitempty"`
}

// ResolvedConnection is the durable per-camera record produced by
// auto-detection. Mutated only by re-detection or manual edit.
type ResolvedConnection struct {
	CameraID     uuid.UUID            `json:"camera_id"`
	Type         probe.ConnectionType `json:"connection_type"`
	PrimaryURL   string               `json:"primary_stream_url"`
	SecondaryURL string               `json:"secondary_stream_url,omitempty"`
	SnapshotURL  string               `json:"snapshot_url,omitempty"`
	Manufacturer string               `json:"manufacturer,omitempty"`
	Username     string               `json:"-"`
	Password     string               `json:"-"`
	Config       ConnConfig           `json:"config"`
	ResolvedAt   time.Time            `json:"resolved_at"`
}

// Candidate rebuilds the probe attempt unit for this connection.
func (rc *ResolvedConnection) Candidate() probe.Candidate {
	return probe.Candidate{
		Type:         rc.Type,
		URL:          rc.PrimaryURL,
		Source:       probe.SourceDeclared,
		Manufacturer: rc.Manufacturer,
		Username:     rc.Username,
		Password:     rc.Password,
		VerifyTLS:    rc.Config.VerifyTLS,
	}
}

// HealthRecord is the scheduler-owned mutable health state of one camera.
type HealthRecord struct {
	CameraID            uuid.UUID  `json:"camera_id"`
	Level               Level      `json:"level"`
	LastCheck           time.Time  `json:"last_check"`
	LastResponseMS      int        `json:"last_response_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	UptimePct           float64    `json:"uptime_pct"`
	LastError           string     `json:"last_error,omitempty"`
	LastRecovery        *time.Time `json:"last_recovery,omitempty"`
}

// ReconnectionState is the per-camera backoff machine. Created whenever a
// check finds the camera offline, cleared on success.
type ReconnectionState struct {
	CameraID      uuid.UUID     `json:"camera_id"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	CurrentDelay  time.Duration `json:"current_delay_ms"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	GivingUp      bool          `json:"giving_up"`
	StartedAt     time.Time     `json:"started_at"`
}

// uptimeWindow is a bounded ring of tick outcomes covering the 30-day
// uptime statistic at one check per minute.
const uptimeWindowSlots = 30 * 24 * 60

type uptimeWindow struct {
	slots []bool
	next  int
}

func newUptimeWindow() *uptimeWindow {
	return &uptimeWindow{slots: make([]bool, 0, 1024)}
}

func (w *uptimeWindow) Add(up bool) {
	if len(w.slots) < uptimeWindowSlots {
		w.slots = append(w.slots, up)
		return
	}
	// Full: overwrite the oldest slot.
	w.slots[w.next] = up
	w.next = (w.next + 1) % uptimeWindowSlots
}

func (w *uptimeWindow) Pct() float64 {
	if len(w.slots) == 0 {
		return 0
	}
	up := 0
	for _, s := range w.slots {
		if s {
			up++
		}
	}
	return float64(up) / float64(len(w.slots)) * 100.0
}
