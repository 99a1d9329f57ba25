package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"kptv-player/work/surface"
	"kptv-player/work/utils"

	"github.com/grafov/m3u8"
)

// hlsMaxRetries is the internal retry budget for manifest and fragment
// loads. The manifest engine retries generously on its own; only a fully
// exhausted budget escalates to the state machine as fatal.
const hlsMaxRetries = 10

// hlsRetryDelay spaces internal retries of manifest/fragment loads.
const hlsRetryDelay = time.Second

// HLS plays a segmented-manifest stream: it polls the media playlist,
// fetches new segments in order and writes them into the render surface.
// Master playlists are resolved to their highest-bandwidth variant first.
type HLS struct {
	factory *Factory
	sink    surface.Surface
	url     string

	mu       sync.Mutex
	cancel   context.CancelFunc
	released atomic.Bool
	emit     *emitter
}

func newHLS(f *Factory, sink surface.Surface, url string, ev Events) *HLS {
	h := &HLS{
		factory: f,
		sink:    sink,
		url:     url,
	}
	h.emit = &emitter{events: ev, released: &h.released}
	return h
}

// Attach starts the playlist/segment loop on a background goroutine.
func (h *HLS) Attach() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released.Load() {
		return fmt.Errorf("hls adapter already released")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go h.run(ctx)
	return nil
}

// Reload restarts the playlist loop from scratch at the same URL.
func (h *HLS) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released.Load() {
		return fmt.Errorf("hls adapter already released")
	}

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go h.run(ctx)
	return nil
}

// Release stops the loop and suppresses further events. Idempotent.
func (h *HLS) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// run is the playlist polling loop. Network-class failures reload the
// manifest after a short delay; decode-class failures re-decode it. Both
// consume the shared retry budget before escalating to fatal.
func (h *HLS) run(ctx context.Context) {
	retries := 0
	sawMedia := false
	var nextSeq uint64

	for ctx.Err() == nil {
		media, base, err := h.fetchMediaPlaylist(ctx, h.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries++
			if retries > hlsMaxRetries {
				h.emit.fatal(err)
				return
			}
			h.emit.recoverable(classifyHLSError(err), err)
			if !sleepCtx(ctx, hlsRetryDelay) {
				return
			}
			continue
		}
		retries = 0

		// Walk segments we have not served yet, in playlist order.
		segmentFailed := false
		for i, seg := range media.Segments {
			if seg == nil {
				break
			}
			seq := media.SeqNo + uint64(i)
			if seq < nextSeq {
				continue
			}

			segURL := resolveRef(base, seg.URI)
			if err := h.copySegment(ctx, segURL); err != nil {
				if ctx.Err() != nil {
					return
				}
				retries++
				if retries > hlsMaxRetries {
					h.emit.fatal(err)
					return
				}
				h.emit.recoverable(RecoverableNetwork, err)
				segmentFailed = true
				break
			}

			nextSeq = seq + 1
			if !sawMedia {
				sawMedia = true
				h.emit.firstFrame()
			}
		}

		if media.Closed && !segmentFailed {
			// ENDLIST on a live feed means the server stopped publishing.
			h.emit.fatal(ErrStreamEnded)
			return
		}

		// Re-poll at half the target duration, bounded to sane values.
		delay := time.Duration(media.TargetDuration/2*1000) * time.Millisecond
		if delay < time.Second {
			delay = time.Second
		}
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// fetchMediaPlaylist fetches and decodes the playlist at rawURL. A master
// playlist is resolved one level deep to its highest-bandwidth variant.
func (h *HLS) fetchMediaPlaylist(ctx context.Context, rawURL string) (*m3u8.MediaPlaylist, *url.URL, error) {
	body, base, err := h.fetch(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, nil, fmt.Errorf("decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		return playlist.(*m3u8.MediaPlaylist), base, nil

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		variant := pickBestVariant(master)
		if variant == nil {
			return nil, nil, fmt.Errorf("decode playlist: master playlist has no variants")
		}

		if h.factory.Config.Debug {
			h.factory.Log.Debug("{adapter - hls} selected variant %d bps from %s",
				variant.Bandwidth, utils.LogURL(h.factory.Config, rawURL))
		}

		variantURL := resolveRef(base, variant.URI)
		vbody, vbase, err := h.fetch(ctx, variantURL)
		if err != nil {
			return nil, nil, err
		}
		defer vbody.Close()

		vp, vt, err := m3u8.DecodeFrom(vbody, true)
		if err != nil {
			return nil, nil, fmt.Errorf("decode variant playlist: %w", err)
		}
		if vt != m3u8.MEDIA {
			return nil, nil, fmt.Errorf("decode variant playlist: nested master playlist")
		}
		return vp.(*m3u8.MediaPlaylist), vbase, nil

	default:
		return nil, nil, fmt.Errorf("decode playlist: unknown list type")
	}
}

// fetch performs one GET returning the body and the response URL as the
// base for relative segment references.
func (h *HLS) fetch(ctx context.Context, rawURL string) (io.ReadCloser, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := h.factory.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("playlist fetch: HTTP %d", resp.StatusCode)
	}
	return resp.Body, resp.Request.URL, nil
}

// copySegment streams one media segment into the render surface.
func (h *HLS) copySegment(ctx context.Context, segURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return err
	}

	resp, err := h.factory.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("segment fetch: HTTP %d", resp.StatusCode)
	}

	_, err = io.Copy(h.sink, resp.Body)
	return err
}

// pickBestVariant returns the highest-bandwidth variant of a master
// playlist, or nil when there is none.
func pickBestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// classifyHLSError separates manifest decode problems from transport ones.
func classifyHLSError(err error) RecoverableKind {
	if err == nil {
		return RecoverableNetwork
	}
	msg := err.Error()
	if len(msg) >= 6 && msg[:6] == "decode" {
		return RecoverableDecode
	}
	return RecoverableNetwork
}

// resolveRef resolves a possibly-relative playlist reference against base.
func resolveRef(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// sleepCtx sleeps for d unless the context ends first. Returns false when
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
