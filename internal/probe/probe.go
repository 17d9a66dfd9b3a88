package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// ConnectionType identifies one of the supported transports. The set is
// closed: every variant has exactly one registered Prober.
type ConnectionType string

const (
	TypeRTSP          ConnectionType = "rtsp"
	TypeRTMP          ConnectionType = "rtmp"
	TypeONVIF         ConnectionType = "onvif"
	TypeHTTPMJPEG     ConnectionType = "http_mjpeg"
	TypeHTTPSSnapshot ConnectionType = "https_snapshot"
	TypeWebRTC        ConnectionType = "webrtc"
	TypeHLS           ConnectionType = "hls"
	TypeCloudAPI      ConnectionType = "cloud_api"
	TypeWebhook       ConnectionType = "webhook"
	TypeNVRDVR        ConnectionType = "nvr_dvr"
	TypeUSB           ConnectionType = "usb"
	TypeFile          ConnectionType = "file"
)

// AllTypes lists every supported connection type in declaration order.
var AllTypes = []ConnectionType{
	TypeRTSP, TypeRTMP, TypeONVIF, TypeHTTPMJPEG, TypeHTTPSSnapshot,
	TypeWebRTC, TypeHLS, TypeCloudAPI, TypeWebhook, TypeNVRDVR,
	TypeUSB, TypeFile,
}

// FailureReason is the typed outcome of a failed probe. Probe failures are
// data, never errors that cross component boundaries.
type FailureReason string

const (
	ReasonUnreachable FailureReason = "unreachable"
	ReasonAuthFailure FailureReason = "auth_failed"
	ReasonTimeout     FailureReason = "timeout"
	ReasonUnsupported FailureReason = "unsupported_protocol"
)

// CandidateSource records where a candidate URL came from.
type CandidateSource string

const (
	SourceTemplate CandidateSource = "template"
	SourceDeclared CandidateSource = "declared"
)

// Candidate is one attempt unit: a connection type plus a fully resolved URL.
type Candidate struct {
	Type         ConnectionType `json:"connection_type"`
	URL          string         `json:"url"`
	Source       CandidateSource `json:"source"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Username     string         `json:"-"`
	Password     string         `json:"-"`
	VerifyTLS    bool           `json:"-"`
}

// Result is the outcome of probing one candidate. Metric fields stay zero
// when the transport cannot report them.
type Result struct {
	Success        bool            `json:"success"`
	Type           ConnectionType  `json:"connection_type"`
	URL            string          `json:"url"`
	Source         CandidateSource `json:"source,omitempty"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	Capabilities   []string        `json:"capabilities,omitempty"`
	ResponseTimeMS int             `json:"response_time_ms"`
	Resolution     string          `json:"resolution,omitempty"`
	FPS            float64         `json:"fps,omitempty"`
	Reason         FailureReason   `json:"error_reason,omitempty"`
	Error          string          `json:"error_message,omitempty"`
}

// Prober proves liveness of one connection type within a bounded time.
// Implementations must close every transport resource they open and must
// report ReasonTimeout rather than block past the deadline.
type Prober interface {
	Test(ctx context.Context, c Candidate, timeout time.Duration) Result
}

var (
	regMu    sync.RWMutex
	registry = map[ConnectionType]Prober{}
)

// Register binds a prober to a connection type. Later registrations win,
// which lets tests swap in fakes.
func Register(t ConnectionType, p Prober) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[t] = p
}

// Get returns the prober for a connection type.
func Get(t ConnectionType) (Prober, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	p, ok := registry[t]
	return p, ok
}

// Test dispatches a candidate to its registered prober. Unknown types come
// back as unsupported_protocol, not as a panic or error.
func Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	p, ok := Get(c.Type)
	if !ok {
		return fail(c, 0, ReasonUnsupported, "no prober for connection type "+string(c.Type))
	}
	return p.Test(ctx, c, timeout)
}

// fail builds a failure result carrying the candidate's identity.
func fail(c Candidate, rtt int, reason FailureReason, msg string) Result {
	return Result{
		Type:           c.Type,
		URL:            c.URL,
		Source:         c.Source,
		Manufacturer:   c.Manufacturer,
		Capabilities:   c.Capabilities,
		ResponseTimeMS: rtt,
		Reason:         reason,
		Error:          msg,
	}
}

// succeed builds a success result carrying the candidate's identity.
func succeed(c Candidate, rtt int) Result {
	return Result{
		Success:        true,
		Type:           c.Type,
		URL:            c.URL,
		Source:         c.Source,
		Manufacturer:   c.Manufacturer,
		Capabilities:   c.Capabilities,
		ResponseTimeMS: rtt,
	}
}

// classify maps a transport error to the failure taxonomy.
func classify(err error) FailureReason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return ReasonTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ReasonTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "no such host") {
		return ReasonUnreachable
	}
	return ReasonUnreachable
}

func elapsedMS(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
