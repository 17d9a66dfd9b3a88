package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const probeUserAgent = "OhmVision-CamConnect/1.0"

// RTSPProber performs a minimal OPTIONS handshake over raw TCP. It never
// negotiates a stream; a parseable status line is enough to prove liveness.
type RTSPProber struct {
	// DefaultPort is used when the URL carries none. 554 for cameras,
	// NVR relays often expose the same port.
	DefaultPort string
}

func init() {
	Register(TypeRTSP, &RTSPProber{DefaultPort: "554"})
	// An NVR/DVR relay speaks the same exchange against the recorder's
	// channel path, so the prober is shared.
	Register(TypeNVRDVR, &RTSPProber{DefaultPort: "554"})
}

func (p *RTSPProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	u, err := url.Parse(c.URL)
	if err != nil {
		return fail(c, 0, ReasonUnsupported, "invalid url: "+err.Error())
	}

	port := u.Port()
	if port == "" {
		port = p.DefaultPort
	}
	address := net.JoinHostPort(u.Hostname(), port)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fail(c, elapsedMS(start), ReasonUnreachable, err.Error())
	}

	req := fmt.Sprintf("OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: %s\r\n\r\n", c.URL, probeUserAgent)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fail(c, elapsedMS(start), classify(err), "write failed: "+err.Error())
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), "read failed: "+err.Error())
	}

	rtt := elapsedMS(start)

	code, ok := parseRTSPStatus(statusLine)
	if !ok {
		// Something answered on the port but it does not speak RTSP.
		return fail(c, rtt, ReasonUnsupported, "malformed response: "+strings.TrimSpace(statusLine))
	}

	switch {
	case strings.HasPrefix(code, "2"):
		return succeed(c, rtt)
	case code == "401" || code == "403":
		return fail(c, rtt, ReasonAuthFailure, "rtsp "+code)
	default:
		return fail(c, rtt, ReasonUnsupported, "rtsp "+code)
	}
}

// parseRTSPStatus extracts the status code from "RTSP/1.0 200 OK".
func parseRTSPStatus(line string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(line), " ")
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return "", false
	}
	return parts[1], true
}
