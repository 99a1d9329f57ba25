package surface

import (
	"context"
	"net/http"
	"time"

	"kptv-player/work/metrics"

	"github.com/puzpuzpuz/xsync/v3"
)

// Broadcaster is the playback output surface: a ring buffer fed by the
// active decoder adapter and drained by any number of attached HTTP
// consumers. It is the one-to-many distribution point between the
// playback-resolution engine and whatever is actually rendering.
type Broadcaster struct {
	buffer    *ringBuffer
	consumers *xsync.MapOf[string, *consumer]
	format    string
}

// consumer is one attached output reader with its own ring position and a
// wakeup channel the writer pulses on new data.
type consumer struct {
	pos    int64
	wakeup chan struct{}
}

// NewBroadcaster creates a playback output surface with the given ring
// buffer capacity in bytes.
func NewBroadcaster(bufferSize int64) *Broadcaster {
	return &Broadcaster{
		buffer:    newRingBuffer(bufferSize),
		consumers: xsync.NewMapOf[string, *consumer](),
		format:    "unknown",
	}
}

// SetFormat records the transport format currently feeding the surface,
// used only as a metrics label.
func (b *Broadcaster) SetFormat(format string) {
	b.format = format
}

// Write feeds media bytes into the ring and wakes all attached consumers.
func (b *Broadcaster) Write(p []byte) (int, error) {
	b.buffer.write(p)
	metrics.OutputBytes.WithLabelValues(b.format).Add(float64(len(p)))

	b.consumers.Range(func(_ string, c *consumer) bool {
		select {
		case c.wakeup <- struct{}{}:
		default: // consumer already has a pending wakeup
		}
		return true
	})
	return len(p), nil
}

// Reset marks a stream discontinuity: the ring is cleared and every
// consumer is rewound so no consumer splices bytes from two different
// candidates together.
func (b *Broadcaster) Reset() {
	b.buffer.reset()
	b.consumers.Range(func(_ string, c *consumer) bool {
		c.pos = 0
		return true
	})
}

// Destroy tears the surface down permanently. Attached consumers drain and
// disconnect on their next read.
func (b *Broadcaster) Destroy() {
	b.buffer.destroy()
	b.consumers.Range(func(id string, c *consumer) bool {
		b.consumers.Delete(id)
		close(c.wakeup)
		return true
	})
}

// ServeConsumer streams the output to one HTTP client until the client
// disconnects, the context ends or the surface is destroyed. Data is
// flushed per chunk so playback starts immediately.
func (b *Broadcaster) ServeConsumer(ctx context.Context, id string, w http.ResponseWriter) {
	flusher, _ := w.(http.Flusher)

	c := &consumer{
		// Start at the oldest retained byte so a late joiner still gets
		// the stream head the demuxer needs.
		pos:    0,
		wakeup: make(chan struct{}, 1),
	}
	b.consumers.Store(id, c)
	metrics.OutputConsumers.Inc()
	defer func() {
		b.consumers.Delete(id)
		metrics.OutputConsumers.Dec()
	}()

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	chunk := make([]byte, 32*1024)
	for {
		n, next := b.buffer.readFrom(c.pos, chunk)
		if n > 0 {
			c.pos = next
			if _, err := w.Write(chunk[:n]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			continue
		}

		if b.buffer.destroyed.Load() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.wakeup:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			// periodic destroyed/ctx re-check while the stream is idle
		}
	}
}
