// Package status probes the health endpoints of the services capnet
// depends on and folds them into one report.
package status

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

// Service states.
const (
	StateOK       = "ok"
	StateDegraded = "degraded"
	StateError    = "error"
	StateStale    = "stale"
	StateOff      = "off"
	StateStub     = "stub"
)

// ProbeResult is the outcome of a single GET {base}/health.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	Status    int    `json:"status,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type Service struct {
	Status    string            `json:"status"`
	LatencyMs *int64            `json:"latencyMs"`
	Details   map[string]string `json:"details"`
}

type Report struct {
	OK        bool               `json:"ok"`
	CheckedAt string             `json:"checkedAt"`
	Services  map[string]Service `json:"services"`
}

// Targets names what to probe. Empty URLs are reported as "off".
type Targets struct {
	StoreKind     string
	TrustGraphURL string
	WakeNetURL    string
}

type Prober struct {
	client  *resty.Client
	timeout time.Duration
	now     func() time.Time
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{client: resty.New(), timeout: timeout, now: time.Now}
}

// Probe issues GET {baseURL}/health under the prober timeout.
func (p *Prober) Probe(ctx context.Context, baseURL string) ProbeResult {
	return p.ProbeURL(ctx, strings.TrimRight(baseURL, "/")+"/health", "")
}

// ProbeURL issues GET url, with a bearer token when one is given. Any 2xx
// counts as OK.
func (p *Prober) ProbeURL(ctx context.Context, url, bearer string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := p.client.R().SetContext(ctx)
	if bearer != "" {
		req.SetAuthToken(bearer)
	}
	start := p.now()
	resp, err := req.Get(url)
	latency := p.now().Sub(start).Milliseconds()
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return ProbeResult{OK: false, LatencyMs: latency, Error: reason}
	}
	return ProbeResult{OK: resp.IsSuccess(), Status: resp.StatusCode(), LatencyMs: latency}
}

// Check probes TrustGraph and WakeNet concurrently. verbose adds store and
// URL details. The report is OK unless some service is in error or stale.
func (p *Prober) Check(ctx context.Context, t Targets, verbose bool) Report {
	services := map[string]Service{
		"capnet":     p.self(t, verbose),
		"runtime":    {Status: StateOff, Details: map[string]string{}},
		"settlement": {Status: StateStub, Details: map[string]string{}},
	}

	var trust, wake Service
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// a TrustGraph timeout is an error, unlike WakeNet
		trust = p.remote(gctx, t.TrustGraphURL, StateError, verbose)
		return nil
	})
	g.Go(func() error {
		wake = p.remote(gctx, t.WakeNetURL, StateStale, verbose)
		return nil
	})
	_ = g.Wait()
	services["trustgraph"] = trust
	services["wakenet"] = wake

	ok := true
	for _, s := range services {
		if s.Status == StateError || s.Status == StateStale {
			ok = false
		}
	}
	return Report{OK: ok, CheckedAt: p.now().UTC().Format(time.RFC3339Nano), Services: services}
}

func (p *Prober) self(t Targets, verbose bool) Service {
	var zero int64
	s := Service{Status: StateDegraded, LatencyMs: &zero, Details: map[string]string{}}
	if t.StoreKind == "kv" {
		s.Status = StateOK
	}
	if verbose {
		s.Details["store"] = t.StoreKind
	}
	return s
}

func (p *Prober) remote(ctx context.Context, url, onTimeout string, verbose bool) Service {
	if url == "" {
		return Service{Status: StateOff, Details: map[string]string{}}
	}
	res := p.Probe(ctx, url)
	s := Service{Status: StateOK, LatencyMs: &res.LatencyMs, Details: map[string]string{}}
	switch {
	case res.OK:
	case res.Error == "timeout":
		s.Status = onTimeout
	default:
		s.Status = StateError
	}
	if verbose {
		s.Details["url"] = url
	}
	return s
}
