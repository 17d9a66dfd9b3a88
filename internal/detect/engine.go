// Package detect expands the candidate URL space for a device and races the
// connection probes to find the method that actually works.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ohmvision/camconnect/internal/metrics"
	"github.com/ohmvision/camconnect/internal/probe"
	"github.com/ohmvision/camconnect/internal/profiles"
)

// ConfigError marks setup-time input problems. It is the only error class
// detection reports synchronously; probe failures are result data.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// DeviceTarget is the immutable input to one detection run.
type DeviceTarget struct {
	Host         string `json:"ip"`
	Port         int    `json:"port,omitempty"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Channel      int    `json:"channel,omitempty"`

	// A collaborator-declared endpoint is probed first, ahead of any
	// template expansion.
	DeclaredType probe.ConnectionType `json:"connection_type,omitempty"`
	DeclaredURL  string               `json:"primary_stream_url,omitempty"`
}

// Report is the outcome of one detection run. Recommended is nil when no
// candidate succeeded; All always carries every probed candidate's result,
// ranked, for diagnostics.
type Report struct {
	Recommended *probe.Result  `json:"recommended,omitempty"`
	All         []probe.Result `json:"all"`
}

// Options tune the engine. Zero values select the defaults.
type Options struct {
	ProbeTimeout  time.Duration // per candidate, default 5s
	MaxCandidates int           // per device, default 24
	MaxInFlight   int           // system-wide concurrent probes, default 32
	BatchWorkers  int           // concurrent devices in BatchTest, default 8
	RankWindow    float64       // tie-break comparability window, default 0.20
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 5 * time.Second
	}
	if out.MaxCandidates <= 0 {
		out.MaxCandidates = 24
	}
	if out.MaxInFlight <= 0 {
		out.MaxInFlight = 32
	}
	if out.BatchWorkers <= 0 {
		out.BatchWorkers = 8
	}
	if out.RankWindow <= 0 {
		out.RankWindow = 0.20
	}
	return out
}

type Engine struct {
	registry *profiles.Registry
	opts     Options
	// sem bounds in-flight probes across AutoDetect and BatchTest so a
	// batch cannot flood the local network.
	sem chan struct{}
}

func New(registry *profiles.Registry, opts Options) *Engine {
	o := opts.withDefaults()
	return &Engine{
		registry: registry,
		opts:     o,
		sem:      make(chan struct{}, o.MaxInFlight),
	}
}

// Candidates expands the probe-worthy candidate list for a target, in
// declaration order, capped at MaxCandidates.
func (e *Engine) Candidates(target DeviceTarget) []probe.Candidate {
	var out []probe.Candidate

	if target.DeclaredURL != "" && target.DeclaredType != "" {
		out = append(out, probe.Candidate{
			Type:         target.DeclaredType,
			URL:          target.DeclaredURL,
			Source:       probe.SourceDeclared,
			Manufacturer: target.Manufacturer,
			Username:     target.Username,
			Password:     target.Password,
		})
	}

	id := e.registry.DetectManufacturer(target.Manufacturer)
	prof := e.registry.Get(id) // unknown degrades to generic

	in := profiles.ExpandInput{
		Host:     target.Host,
		Port:     target.Port,
		Username: target.Username,
		Password: target.Password,
		Channel:  target.Channel,
	}
	out = append(out, prof.Expand(in)...)

	if len(out) > e.opts.MaxCandidates {
		out = out[:e.opts.MaxCandidates]
	}
	return out
}

// AutoDetect probes every candidate for the target concurrently and ranks
// the outcomes. A single candidate's failure never aborts the run; only a
// missing host is rejected.
func (e *Engine) AutoDetect(ctx context.Context, target DeviceTarget) (*Report, error) {
	if target.Host == "" {
		return nil, &ConfigError{Msg: "device target requires an ip or host"}
	}

	candidates := e.Candidates(target)
	if len(candidates) == 0 {
		return nil, &ConfigError{Msg: fmt.Sprintf("no candidates for manufacturer %q", target.Manufacturer)}
	}

	results := make([]probe.Result, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c probe.Candidate) {
			defer wg.Done()
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				results[i] = probe.Result{
					Type: c.Type, URL: c.URL, Source: c.Source,
					Manufacturer: c.Manufacturer, Capabilities: c.Capabilities,
					Reason: probe.ReasonTimeout, Error: ctx.Err().Error(),
				}
				return
			}
			start := time.Now()
			results[i] = probe.Test(ctx, c, e.opts.ProbeTimeout)
			metrics.ObserveProbe(string(c.Type), results[i].Success, time.Since(start))
		}(i, c)
	}
	wg.Wait()

	ranked := rank(results, e.opts.RankWindow)
	report := &Report{All: ranked}
	if len(ranked) > 0 && ranked[0].Success {
		rec := ranked[0]
		report.Recommended = &rec
	}
	return report, nil
}

// BatchResult pairs one target with its detection report.
type BatchResult struct {
	Target DeviceTarget `json:"camera"`
	Report *Report      `json:"report,omitempty"`
	Err    string       `json:"error,omitempty"`
}

// BatchTest runs detection for many devices with a bounded worker pool.
// Probe-level concurrency stays capped system-wide by the shared semaphore.
func (e *Engine) BatchTest(ctx context.Context, targets []DeviceTarget) []BatchResult {
	out := make([]BatchResult, len(targets))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.opts.BatchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report, err := e.AutoDetect(ctx, targets[i])
				out[i] = BatchResult{Target: targets[i], Report: report}
				if err != nil {
					out[i].Err = err.Error()
				}
			}
		}()
	}

	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}
