package probe

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/ratelimit"

	"kptv-player/work/candidates"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/utils"
)

// Prober performs cheap HEAD pre-checks against stream candidates so an
// obviously dead URL can be skipped before the session spends a full
// watchdog window on it. Probing is advisory only: a panel that rejects
// HEAD still gets its turn in the candidate order, so a failed probe never
// removes a candidate, it only reorders confidence.
type Prober struct {
	httpClient *client.HeaderSettingClient
	cfg        *config.Config
	log        *logger.Logger
	limiter    ratelimit.Limiter
}

// Result pairs a candidate with the outcome of its probe.
type Result struct {
	Candidate candidates.Candidate
	Alive     bool
	Status    int
	Elapsed   time.Duration
}

// NewProber creates a prober sharing the application's HTTP client.
// Probes are rate limited so a long candidate list cannot hammer a panel.
func NewProber(httpClient *client.HeaderSettingClient, cfg *config.Config, log *logger.Logger) *Prober {
	return &Prober{
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
		limiter:    ratelimit.New(5),
	}
}

// Check issues a single HEAD request against one candidate URL.
func (p *Prober) Check(ctx context.Context, cand candidates.Candidate) Result {
	p.limiter.Take()

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, cand.URL, nil)
	if err != nil {
		return Result{Candidate: cand, Elapsed: time.Since(start)}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if p.cfg.Debug {
			p.log.Debug("{probe - check} HEAD %s failed: %v", utils.LogURL(p.cfg, cand.URL), err)
		}
		return Result{Candidate: cand, Elapsed: time.Since(start)}
	}
	resp.Body.Close()

	// Some panels answer HEAD with 405 yet serve GET fine; treat only
	// hard auth and not-found answers as dead.
	alive := resp.StatusCode < 400 ||
		resp.StatusCode == http.StatusMethodNotAllowed

	return Result{
		Candidate: cand,
		Alive:     alive,
		Status:    resp.StatusCode,
		Elapsed:   time.Since(start),
	}
}

// Rank probes every candidate and returns the list reordered so probed-alive
// candidates come first, each group keeping its original relative order.
// The original list is never shrunk.
func (p *Prober) Rank(ctx context.Context, cands []candidates.Candidate) []candidates.Candidate {
	if len(cands) < 2 {
		return cands
	}

	alive := make([]candidates.Candidate, 0, len(cands))
	dead := make([]candidates.Candidate, 0)

	for _, cand := range cands {
		if ctx.Err() != nil {
			// Probing is best effort; hand back what we have plus the rest
			// untouched.
			alive = append(alive, cand)
			continue
		}

		res := p.Check(ctx, cand)
		if res.Alive {
			alive = append(alive, cand)
		} else {
			dead = append(dead, cand)
		}
	}

	return append(alive, dead...)
}
