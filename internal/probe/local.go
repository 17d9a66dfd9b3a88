package probe

import (
	"context"
	"os"
	"strings"
	"time"
)

// LocalProber handles usb device nodes and stored files. Both reduce to
// "can the path be opened"; the open time is the reported response time.
type LocalProber struct{}

func init() {
	Register(TypeUSB, &LocalProber{})
	Register(TypeFile, &LocalProber{})
}

func (p *LocalProber) Test(ctx context.Context, c Candidate, timeout time.Duration) Result {
	start := time.Now()

	path := strings.TrimPrefix(c.URL, "file://")
	if path == "" {
		return fail(c, 0, ReasonUnsupported, "empty path")
	}

	done := make(chan Result, 1)
	go func() {
		info, err := os.Stat(path)
		if err != nil {
			done <- fail(c, elapsedMS(start), ReasonUnreachable, err.Error())
			return
		}
		if c.Type == TypeFile && info.Size() == 0 {
			done <- fail(c, elapsedMS(start), ReasonUnsupported, "empty file")
			return
		}
		f, err := os.Open(path)
		if err != nil {
			done <- fail(c, elapsedMS(start), ReasonUnreachable, err.Error())
			return
		}
		f.Close()
		done <- succeed(c, elapsedMS(start))
	}()

	select {
	case res := <-done:
		return res
	case <-time.After(timeout):
		// A stuck device node (unplugged USB) can hang open(2); the probe
		// still has to return.
		return fail(c, elapsedMS(start), ReasonTimeout, "open timed out")
	case <-ctx.Done():
		return fail(c, elapsedMS(start), ReasonTimeout, ctx.Err().Error())
	}
}
