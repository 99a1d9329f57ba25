package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"kptv-player/work/surface"
	"kptv-player/work/utils"
)

// Progressive plays a single progressive file (mp4, mkv, unknown
// containers) by streaming it straight into the render surface. The
// first-frame signal is raised once media bytes actually flow, the
// equivalent of the native element's time-advanced event.
type Progressive struct {
	factory *Factory
	sink    surface.Surface
	url     string

	mu       sync.Mutex
	cancel   context.CancelFunc
	released atomic.Bool
	emit     *emitter
}

func newProgressive(f *Factory, sink surface.Surface, url string, ev Events) *Progressive {
	p := &Progressive{
		factory: f,
		sink:    sink,
		url:     url,
	}
	p.emit = &emitter{events: ev, released: &p.released}
	return p
}

// Attach starts streaming the file on a background goroutine.
func (p *Progressive) Attach() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released.Load() {
		return fmt.Errorf("progressive adapter already released")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.run(ctx)
	return nil
}

// Reload stops the current ingest and restarts at the same URL. The old
// ingest goroutine notices its cancelled context and exits silently; it
// is never waited on, since waiting from a session callback would
// deadlock against the event it is trying to deliver.
func (p *Progressive) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released.Load() {
		return fmt.Errorf("progressive adapter already released")
	}

	p.stopLocked()
	p.sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.run(ctx)
	return nil
}

// Release tears down ingest. Idempotent; a second call is a no-op.
// Event delivery is suppressed before cancellation so the ingest
// goroutine cannot fire callbacks into a later attempt.
func (p *Progressive) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Progressive) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// run streams the file body into the surface until EOF, error or cancel.
func (p *Progressive) run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.emit.fatal(err)
		return
	}

	resp, err := p.factory.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.emit.fatal(err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.emit.fatal(fmt.Errorf("progressive fetch: HTTP %d", resp.StatusCode))
		return
	}

	if p.factory.Config.Debug {
		p.factory.Log.Debug("{adapter - progressive} streaming %s", utils.LogURL(p.factory.Config, p.url))
	}

	sawMedia := false
	buf := make([]byte, 64*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := p.sink.Write(buf[:n]); werr != nil {
				p.emit.fatal(werr)
				return
			}
			if !sawMedia {
				sawMedia = true
				p.emit.firstFrame()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				p.emit.fatal(ErrStreamEnded)
				return
			}
			p.emit.fatal(err)
			return
		}
	}
}
