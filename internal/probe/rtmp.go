package probe

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"
)

// RTMPProber sends the C0+C1 handshake bytes and expects S0 back. That is
// the cheapest exchange that distinguishes an RTMP endpoint from an open
// port that speaks something else.
type RTMPProber struct{}

func init() {
	Register(TypeRTMP, &RTMPProber{})
}

const rtmpVersion = 0x03

func (p *RTMPProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	u, err := url.Parse(c.URL)
	if err != nil {
		return fail(c, 0, ReasonUnsupported, "invalid url: "+err.Error())
	}
	port := u.Port()
	if port == "" {
		port = "1935"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fail(c, elapsedMS(start), ReasonUnreachable, err.Error())
	}

	// C0 (version) + C1 (1536 bytes: time, zero, random).
	c0c1 := make([]byte, 1+1536)
	c0c1[0] = rtmpVersion
	if _, err := conn.Write(c0c1); err != nil {
		return fail(c, elapsedMS(start), classify(err), "handshake write failed: "+err.Error())
	}

	s0 := make([]byte, 1)
	if _, err := io.ReadFull(conn, s0); err != nil {
		return fail(c, elapsedMS(start), classify(err), "handshake read failed: "+err.Error())
	}

	rtt := elapsedMS(start)
	if s0[0] != rtmpVersion {
		return fail(c, rtt, ReasonUnsupported, "unexpected rtmp version byte")
	}
	return succeed(c, rtt)
}
