package adapter

import (
	"errors"
	"fmt"
	"sync/atomic"

	"kptv-player/work/candidates"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/surface"
)

// RecoverableKind classifies recoverable decoder errors. Network-class
// errors trigger a manifest reload, decode-class errors a decoder-state
// recovery; neither reaches the session state machine.
type RecoverableKind int

const (
	RecoverableNetwork RecoverableKind = iota
	RecoverableDecode
)

func (k RecoverableKind) String() string {
	if k == RecoverableDecode {
		return "decode"
	}
	return "network"
}

// ErrStreamEnded marks the upstream closing the connection. For a live
// feed this means the server cut the stream, not that playback finished;
// the session layer decides whether that is an end or a reconnect.
var ErrStreamEnded = errors.New("upstream ended the stream")

// Events are the asynchronous signals an adapter raises toward its
// session. All callbacks fire from adapter goroutines; the session guards
// them with its own active-attempt checks, so a released adapter firing a
// straggler callback is harmless but still suppressed here where possible.
type Events struct {
	OnFirstFrame  func()
	OnFatalError  func(err error)
	OnRecoverable func(kind RecoverableKind, err error)
}

// Adapter is the uniform capability surface over the format-specific
// decode/render backends. Lifecycle is strictly nested inside one
// candidate attempt: created on attempt start, released before the next
// candidate is tried or the session ends. Never shared across candidates
// or sessions.
type Adapter interface {
	// Attach begins ingesting the stream and raising events. It returns
	// quickly; decoding happens on the adapter's own goroutine.
	Attach() error

	// Reload unloads and reloads the same URL in place, keeping the
	// instance. Used by the live silent-reconnect path.
	Reload() error

	// Release fully tears the adapter down: stop ingest, detach from the
	// surface, release the decode engine. Idempotent and safe on every
	// exit path, including mid-setup.
	Release()
}

// Factory builds the adapter variant matching a candidate's transport
// format. Construction failures are reported as errors, never panics, so
// a broken candidate counts as one failed attempt instead of crashing the
// session.
type Factory struct {
	HTTPClient *client.HeaderSettingClient
	Config     *config.Config
	Log        *logger.Logger
}

// New creates the adapter for one candidate attempt writing into the
// given surface.
func (f *Factory) New(format candidates.TransportFormat, sink surface.Surface, url string, ev Events) (Adapter, error) {
	if sink == nil {
		return nil, fmt.Errorf("adapter: nil render surface")
	}

	switch format {
	case candidates.FormatRawTransport:
		return newMPEGTS(f, sink, url, ev), nil
	case candidates.FormatSegmented:
		return newHLS(f, sink, url, ev), nil
	case candidates.FormatProgressive, candidates.FormatUnknown:
		return newProgressive(f, sink, url, ev), nil
	default:
		return nil, fmt.Errorf("adapter: unsupported transport format %v", format)
	}
}

// emitter suppresses event delivery once the owning adapter is released,
// so released resources cannot fire callbacks into a later attempt.
type emitter struct {
	events   Events
	released *atomic.Bool
}

func (e *emitter) firstFrame() {
	if !e.released.Load() && e.events.OnFirstFrame != nil {
		e.events.OnFirstFrame()
	}
}

func (e *emitter) fatal(err error) {
	if !e.released.Load() && e.events.OnFatalError != nil {
		e.events.OnFatalError(err)
	}
}

func (e *emitter) recoverable(kind RecoverableKind, err error) {
	if !e.released.Load() && e.events.OnRecoverable != nil {
		e.events.OnRecoverable(kind, err)
	}
}
