package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// newHTTPClient builds a bounded resty client for one probe attempt.
// Cameras almost universally present self-signed certificates, so TLS
// verification is opt-in per candidate.
func newHTTPClient(timeout time.Duration, verifyTLS bool) *resty.Client {
	r := resty.New()
	r.SetTimeout(timeout)
	r.SetHeader("User-Agent", probeUserAgent)
	if !verifyTLS {
		r.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return r
}

// ONVIFProber posts a GetSystemDateAndTime envelope to the device service.
// The call is the only ONVIF operation devices answer without WS-Security,
// which makes it the standard liveness check.
type ONVIFProber struct{}

func init() {
	Register(TypeONVIF, &ONVIFProber{})
}

const onvifGetSystemDateAndTime = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <tds:GetSystemDateAndTime xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>
  </s:Body>
</s:Envelope>`

func (p *ONVIFProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/soap+xml; charset=utf-8").
		SetBody(onvifGetSystemDateAndTime).
		Post(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	rtt := elapsedMS(start)
	switch {
	case resp.StatusCode() == 200 && bytes.Contains(resp.Body(), []byte("SystemDateAndTime")):
		return succeed(c, rtt)
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return fail(c, rtt, ReasonAuthFailure, fmt.Sprintf("onvif %d", resp.StatusCode()))
	default:
		return fail(c, rtt, ReasonUnsupported, fmt.Sprintf("onvif %d", resp.StatusCode()))
	}
}

// MJPEGProber opens the stream and reads just enough of the body to see the
// multipart boundary, then closes. It never buffers frames.
type MJPEGProber struct{}

func init() {
	Register(TypeHTTPMJPEG, &MJPEGProber{})
}

func (p *MJPEGProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	req := client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := req.Get(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}
	body := resp.RawBody()
	defer body.Close()

	if r := httpStatusReason(resp.StatusCode()); r != "" {
		return fail(c, elapsedMS(start), r, fmt.Sprintf("http %d", resp.StatusCode()))
	}

	contentType := resp.Header().Get("Content-Type")
	chunk := make([]byte, 512)
	n, _ := io.ReadFull(body, chunk)
	chunk = chunk[:n]

	rtt := elapsedMS(start)
	if strings.Contains(contentType, "multipart/x-mixed-replace") ||
		(bytes.Contains(chunk, []byte("--")) && bytes.Contains(chunk, []byte("Content-Type"))) {
		return succeed(c, rtt)
	}
	return fail(c, rtt, ReasonUnsupported, "not an mjpeg stream: "+contentType)
}

// SnapshotProber fetches a still image over HTTP(S). Resolution is read
// from the JPEG SOF header when present; no image decoding happens here.
type SnapshotProber struct{}

func init() {
	Register(TypeHTTPSSnapshot, &SnapshotProber{})
}

func (p *SnapshotProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	req := client.R().SetContext(ctx)
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := req.Get(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	if r := httpStatusReason(resp.StatusCode()); r != "" {
		return fail(c, elapsedMS(start), r, fmt.Sprintf("http %d", resp.StatusCode()))
	}

	contentType := resp.Header().Get("Content-Type")
	rtt := elapsedMS(start)
	if !strings.HasPrefix(contentType, "image/") {
		return fail(c, rtt, ReasonUnsupported, "not an image: "+contentType)
	}

	res := succeed(c, rtt)
	if w, h, ok := jpegDimensions(resp.Body()); ok {
		res.Resolution = fmt.Sprintf("%dx%d", w, h)
	}
	return res
}

// HLSProber fetches the playlist and validates the M3U8 signature. Master
// playlists carry resolution and frame rate in stream-inf attributes.
type HLSProber struct{}

func init() {
	Register(TypeHLS, &HLSProber{})
}

var (
	hlsResolutionRe = regexp.MustCompile(`RESOLUTION=(\d+x\d+)`)
	hlsFrameRateRe  = regexp.MustCompile(`FRAME-RATE=([\d.]+)`)
)

func (p *HLSProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	req := client.R().SetContext(ctx)
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := req.Get(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	if r := httpStatusReason(resp.StatusCode()); r != "" {
		return fail(c, elapsedMS(start), r, fmt.Sprintf("http %d", resp.StatusCode()))
	}

	body := resp.Body()
	rtt := elapsedMS(start)
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U")) {
		return fail(c, rtt, ReasonUnsupported, "not an m3u8 playlist")
	}

	res := succeed(c, rtt)
	if m := hlsResolutionRe.FindSubmatch(body); m != nil {
		res.Resolution = string(m[1])
	}
	if m := hlsFrameRateRe.FindSubmatch(body); m != nil {
		if fps, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			res.FPS = fps
		}
	}
	return res
}

// WebRTCProber checks the signaling endpoint. A 405 still proves a listener
// is there; WebRTC session setup itself belongs to the media plane.
type WebRTCProber struct{}

func init() {
	Register(TypeWebRTC, &WebRTCProber{})
}

func (p *WebRTCProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	resp, err := client.R().SetContext(ctx).Get(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	rtt := elapsedMS(start)
	switch {
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return fail(c, rtt, ReasonAuthFailure, fmt.Sprintf("signaling %d", resp.StatusCode()))
	case resp.StatusCode() < 500:
		return succeed(c, rtt)
	default:
		return fail(c, rtt, ReasonUnsupported, fmt.Sprintf("signaling %d", resp.StatusCode()))
	}
}

// CloudAPIProber is a presence check against a vendor API base. It reports
// no metrics by design.
type CloudAPIProber struct{}

func init() {
	Register(TypeCloudAPI, &CloudAPIProber{})
}

func (p *CloudAPIProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, true)
	resp, err := client.R().SetContext(ctx).Get(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	rtt := elapsedMS(start)
	// Anything the API answers, including 401 for missing tokens, proves the
	// service is reachable. Token exchange is the business layer's job.
	if resp.StatusCode() < 500 {
		return succeed(c, rtt)
	}
	return fail(c, rtt, ReasonUnreachable, fmt.Sprintf("cloud api %d", resp.StatusCode()))
}

// WebhookProber verifies the device's callback endpoint accepts requests.
type WebhookProber struct{}

func init() {
	Register(TypeWebhook, &WebhookProber{})
}

func (p *WebhookProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	client := newHTTPClient(timeout, c.VerifyTLS)
	resp, err := client.R().SetContext(ctx).Head(c.URL)
	if err != nil {
		return fail(c, elapsedMS(start), classify(err), err.Error())
	}

	rtt := elapsedMS(start)
	if resp.StatusCode() < 500 {
		return succeed(c, rtt)
	}
	return fail(c, rtt, ReasonUnreachable, fmt.Sprintf("webhook endpoint %d", resp.StatusCode()))
}

// httpStatusReason maps an HTTP status to a failure reason, empty on 2xx.
func httpStatusReason(code int) FailureReason {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == 401 || code == 403:
		return ReasonAuthFailure
	default:
		return ReasonUnsupported
	}
}

// jpegDimensions scans JPEG markers for the SOF segment and returns the
// frame dimensions without decoding pixel data.
func jpegDimensions(data []byte) (width, height int, ok bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, false
	}
	i := 2
	for i+9 < len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker >= 0xC0 && marker <= 0xC3 {
			height = int(data[i+5])<<8 | int(data[i+6])
			width = int(data[i+7])<<8 | int(data[i+8])
			return width, height, true
		}
		if marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD9) {
			i += 2
			continue
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		i += 2 + segLen
	}
	return 0, 0, false
}
