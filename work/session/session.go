package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kptv-player/work/adapter"
	"kptv-player/work/candidates"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/surface"
	"kptv-player/work/utils"
)

// Phase is the externally observable state of a playback session.
type Phase int

const (
	PhaseResolving Phase = iota // Trying candidates, loading indicator shown
	PhasePlaying                // First frame reached, content is rendering
	PhaseExhausted              // Every candidate failed, content unreachable
)

func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "resolving"
	}
}

// PlayingFatalPolicy decides what a fatal decoder error means once the
// session already reached Playing. This is the one real behavioral
// difference between the live and on-demand machines; everything else is
// shared.
type PlayingFatalPolicy int

const (
	// PlayingFatalIgnore treats mid-play fatals as an expected end of
	// stream (on-demand assets finish; that is not an error).
	PlayingFatalIgnore PlayingFatalPolicy = iota

	// PlayingFatalReconnect silently rebuilds the same candidate's
	// adapter without bound and without surfacing anything to the user
	// (live feeds hiccup; the channel that played stays the channel).
	PlayingFatalReconnect
)

// PolicyForKind returns the mid-play fatal policy matching a content kind.
func PolicyForKind(kind candidates.Kind) PlayingFatalPolicy {
	if kind.IsLive() {
		return PlayingFatalReconnect
	}
	return PlayingFatalIgnore
}

// AdapterFactory builds decoder adapters for candidate attempts.
// Satisfied by adapter.Factory.
type AdapterFactory interface {
	New(format candidates.TransportFormat, sink surface.Surface, url string, ev adapter.Events) (adapter.Adapter, error)
}

// Snapshot is the observable state handed to the UI. Phase transitions are
// exposed as state, never as commands or errors.
type Snapshot struct {
	Kind           string `json:"kind"`
	Phase          string `json:"phase"`
	Cursor         int    `json:"cursor"`
	CandidateCount int    `json:"candidateCount"`
	CandidateLabel string `json:"candidateLabel"`
	EverPlayed     bool   `json:"everPlayed"`
	Reconnecting   bool   `json:"reconnecting"`
}

// Session is one playback attempt over a ranked candidate list. It owns
// the current candidate cursor, the watchdog timer and the lifecycle of
// exactly one decoder adapter at a time.
//
// All decoder events and timer callbacks are guarded by an attempt token:
// every new adapter attempt increments the token, and callbacks carrying a
// stale token are discarded. That is what makes a cancelled watchdog or a
// late response from a torn-down adapter harmless.
type Session struct {
	mu sync.Mutex

	kind       candidates.Kind
	policy     PlayingFatalPolicy
	candidates []candidates.Candidate
	cursor     int
	phase      Phase
	everPlayed bool

	attempt      uint64 // token of the current adapter attempt
	adapter      adapter.Adapter
	reconnecting bool
	closed       bool

	watchdog  *time.Timer
	reconnect *time.Timer

	factory AdapterFactory
	sink    surface.Surface
	cfg     *config.Config
	log     *logger.Logger
}

// New creates a session in Resolving(0). Start must be called to attach
// the first candidate.
func New(kind candidates.Kind, policy PlayingFatalPolicy, cands []candidates.Candidate, factory AdapterFactory, sink surface.Surface, cfg *config.Config, log *logger.Logger) *Session {
	return &Session{
		kind:       kind,
		policy:     policy,
		candidates: cands,
		phase:      PhaseResolving,
		factory:    factory,
		sink:       sink,
		cfg:        cfg,
		log:        log,
	}
}

// Start attaches candidate 0 and arms the watchdog.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("session already closed")
	}
	if len(s.candidates) == 0 {
		s.phase = PhaseExhausted
		metrics.SessionTransitions.WithLabelValues(s.kind.String(), s.phase.String()).Inc()
		return errors.New("no stream candidates available")
	}

	metrics.SessionTransitions.WithLabelValues(s.kind.String(), PhaseResolving.String()).Inc()
	s.attachCurrentLocked()
	return nil
}

// Close ends the session: full adapter teardown, all timers cancelled.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	label := ""
	if s.cursor < len(s.candidates) {
		label = s.candidates[s.cursor].Label
	}

	return Snapshot{
		Kind:           s.kind.String(),
		Phase:          s.phase.String(),
		Cursor:         s.cursor,
		CandidateCount: len(s.candidates),
		CandidateLabel: label,
		EverPlayed:     s.everPlayed,
		Reconnecting:   s.reconnecting,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// eventsFor binds adapter events to one attempt token.
func (s *Session) eventsFor(token uint64) adapter.Events {
	return adapter.Events{
		OnFirstFrame: func() { s.onFirstFrame(token) },
		OnFatalError: func(err error) { s.onFatal(token, err) },
		OnRecoverable: func(kind adapter.RecoverableKind, err error) {
			s.onRecoverable(token, kind, err)
		},
	}
}

// attachCurrentLocked builds and attaches the adapter for the candidate at
// the cursor and arms the watchdog. A construction or attach failure is an
// immediate fatal for this attempt: the session advances right away
// instead of waiting out the watchdog.
func (s *Session) attachCurrentLocked() {
	cand := s.candidates[s.cursor]
	s.attempt++
	token := s.attempt

	if s.cfg.Debug {
		s.log.Debug("{session - attach} candidate %d/%d (%s, %s) %s",
			s.cursor+1, len(s.candidates), cand.Format, cand.Path,
			utils.LogURL(s.cfg, cand.URL))
	}

	if br, ok := s.sink.(*surface.Broadcaster); ok {
		br.SetFormat(cand.Format.String())
	}

	ad, err := s.factory.New(cand.Format, s.sink, cand.URL, s.eventsFor(token))
	if err == nil {
		s.adapter = ad
		err = ad.Attach()
	}
	if err != nil {
		s.log.Warn("{session - attach} candidate %d failed to start: %v", s.cursor, err)
		s.advanceLocked("construct")
		return
	}

	s.armWatchdogLocked(token)
}

// armWatchdogLocked starts the per-candidate loading watchdog.
func (s *Session) armWatchdogLocked(token uint64) {
	s.stopWatchdogLocked()
	s.watchdog = time.AfterFunc(s.cfg.WatchdogTimeout, func() {
		s.onWatchdog(token)
	})
}

func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// teardownLocked runs the full release sequence for the current attempt:
// timers first, then the adapter. This must precede anything observable on
// every transition out of "attached to candidate N" so a stale adapter's
// delayed callback cannot corrupt the next candidate's state.
func (s *Session) teardownLocked() {
	s.stopWatchdogLocked()
	s.stopReconnectLocked()

	if s.adapter != nil {
		s.adapter.Release()
		s.adapter = nil
	}
}

// advanceLocked moves past a failed candidate: teardown, cursor forward,
// next attach or exhaustion.
func (s *Session) advanceLocked(reason string) {
	s.teardownLocked()
	metrics.CandidateFailures.WithLabelValues(s.kind.String(), reason).Inc()

	s.cursor++
	if s.cursor < len(s.candidates) {
		s.attachCurrentLocked()
		return
	}

	s.cursor = len(s.candidates) - 1
	s.phase = PhaseExhausted
	metrics.SessionTransitions.WithLabelValues(s.kind.String(), s.phase.String()).Inc()
	s.log.Info("{session - advance} all %d candidates failed, content unreachable", len(s.candidates))
}

// onWatchdog fires when a candidate spent the full watchdog window in
// Resolving without producing a first frame.
func (s *Session) onWatchdog(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.attempt || s.phase != PhaseResolving {
		return
	}
	s.advanceLocked("watchdog")
}

// onFirstFrame handles decoded output beginning. Idempotent: once Playing,
// further first-frame events are no-ops.
func (s *Session) onFirstFrame(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.attempt || s.phase != PhaseResolving {
		return
	}

	s.stopWatchdogLocked()
	s.phase = PhasePlaying
	s.everPlayed = true
	s.reconnecting = false
	metrics.SessionTransitions.WithLabelValues(s.kind.String(), s.phase.String()).Inc()
	s.log.Info("{session - playing} candidate %d reached first frame", s.cursor)
}

// onFatal handles a fatal decode/network error from the adapter.
func (s *Session) onFatal(token uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.attempt {
		return
	}

	switch s.phase {
	case PhaseResolving:
		// Same as the watchdog firing, just without the wait.
		s.advanceLocked("fatal")

	case PhasePlaying:
		switch s.policy {
		case PlayingFatalReconnect:
			s.scheduleReconnectLocked(err)
		default:
			// On-demand: end of stream is expected, not an error.
			if s.cfg.Debug {
				s.log.Debug("{session - fatal} on-demand stream ended: %v", err)
			}
		}
	}
}

// onRecoverable logs self-healed decoder errors; they have no
// session-level effect.
func (s *Session) onRecoverable(token uint64, kind adapter.RecoverableKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.attempt {
		return
	}
	if s.cfg.Debug {
		s.log.Debug("{session - recoverable} %s error self-healing: %v", kind, err)
	}
}

// scheduleReconnectLocked arms the silent-reconnect timer for the current
// candidate. A plain connection cut reconnects faster than a decode
// error. The loop is unbounded: a live channel may reconnect forever and
// never surfaces an error to a user who was already watching.
func (s *Session) scheduleReconnectLocked(cause error) {
	delay := s.cfg.ReconnectDelayError
	trigger := "error"
	if errors.Is(cause, adapter.ErrStreamEnded) {
		delay = s.cfg.ReconnectDelayEOF
		trigger = "eof"
	}

	s.reconnecting = true
	metrics.SilentReconnects.WithLabelValues(trigger).Inc()

	token := s.attempt
	s.stopReconnectLocked()
	s.reconnect = time.AfterFunc(delay, func() {
		s.doReconnect(token)
	})
}

// doReconnect reloads the same candidate's adapter in place; if the reload
// itself fails, the adapter is recreated from scratch at the same URL.
func (s *Session) doReconnect(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.attempt || s.phase != PhasePlaying {
		return
	}
	s.reconnect = nil

	if s.adapter != nil {
		if err := s.adapter.Reload(); err == nil {
			s.reconnecting = false
			return
		}
	}

	// Reload failed: recreate the adapter from scratch at the same URL.
	if s.adapter != nil {
		s.adapter.Release()
		s.adapter = nil
	}

	cand := s.candidates[s.cursor]
	s.attempt++
	newToken := s.attempt

	ad, err := s.factory.New(cand.Format, s.sink, cand.URL, s.eventsFor(newToken))
	if err == nil {
		s.adapter = ad
		err = ad.Attach()
	}
	if err != nil {
		// Still broken; keep trying on the error cadence.
		s.log.Warn("{session - reconnect} rebuild failed, retrying: %v", err)
		s.reconnect = time.AfterFunc(s.cfg.ReconnectDelayError, func() {
			s.doReconnect(newToken)
		})
		return
	}
	s.reconnecting = false
}

// Describe returns a short human-readable summary for logs.
func (s *Session) Describe() string {
	snap := s.Snapshot()
	return fmt.Sprintf("%s session: %s (candidate %d/%d)",
		snap.Kind, snap.Phase, snap.Cursor+1, snap.CandidateCount)
}
