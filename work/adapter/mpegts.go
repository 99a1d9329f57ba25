package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"kptv-player/work/surface"
	"kptv-player/work/utils"

	"github.com/asticode/go-astits"
)

// tsStashSize is the read-ahead stash for continuous live ingestion.
// Large enough to ride out brief upstream hiccups without starving the
// demuxer.
const tsStashSize = 1 << 20

// MPEGTS plays a raw MPEG transport-stream byte feed. The feed is teed:
// every byte the demuxer consumes is simultaneously written to the render
// surface, while the demuxer itself only watches the packet stream to
// detect the first decodable video frame and stream discontinuities.
//
// For a live feed, the upstream closing the connection is not an end of
// playback; it surfaces as ErrStreamEnded and the session's
// silent-reconnect loop takes it from there.
type MPEGTS struct {
	factory *Factory
	sink    surface.Surface
	url     string

	mu       sync.Mutex
	cancel   context.CancelFunc
	released atomic.Bool
	emit     *emitter
}

func newMPEGTS(f *Factory, sink surface.Surface, url string, ev Events) *MPEGTS {
	m := &MPEGTS{
		factory: f,
		sink:    sink,
		url:     url,
	}
	m.emit = &emitter{events: ev, released: &m.released}
	return m
}

// Attach starts ingesting and demuxing on a background goroutine.
func (m *MPEGTS) Attach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released.Load() {
		return fmt.Errorf("mpegts adapter already released")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go m.run(ctx)
	return nil
}

// Reload drops the current connection and re-ingests the same URL. This
// is the unload/load/resume step of the live silent-reconnect loop.
func (m *MPEGTS) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released.Load() {
		return fmt.Errorf("mpegts adapter already released")
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go m.run(ctx)
	return nil
}

// Release stops ingest and suppresses further events. Idempotent.
func (m *MPEGTS) Release() {
	if !m.released.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// run connects, tees the byte stream into the surface and demuxes it for
// event detection until the upstream ends or the context is cancelled.
func (m *MPEGTS) run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		m.emit.fatal(err)
		return
	}

	resp, err := m.factory.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			m.emit.fatal(err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.emit.fatal(fmt.Errorf("transport-stream fetch: HTTP %d", resp.StatusCode))
		return
	}

	if m.factory.Config.Debug {
		m.factory.Log.Debug("{adapter - mpegts} ingesting %s", utils.LogURL(m.factory.Config, m.url))
	}

	stash := bufio.NewReaderSize(resp.Body, tsStashSize)
	dmx := astits.NewDemuxer(ctx, io.TeeReader(stash, m.sink))

	sawFrame := false
	for {
		d, err := dmx.NextData()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, astits.ErrNoMorePackets) ||
				errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrUnexpectedEOF) {
				// "Loading completed" on a live feed: the server cut the
				// connection, playback did not end.
				m.emit.fatal(ErrStreamEnded)
				return
			}
			m.emit.fatal(err)
			return
		}

		if !sawFrame && d.PES != nil && d.PES.Header != nil && isVideoStreamID(d.PES.Header.StreamID) {
			sawFrame = true
			m.emit.firstFrame()
		}
	}
}

// isVideoStreamID reports whether a PES stream ID is in the video range
// (0xE0-0xEF per ISO 13818-1).
func isVideoStreamID(id uint8) bool {
	return id >= 0xE0 && id <= 0xEF
}
