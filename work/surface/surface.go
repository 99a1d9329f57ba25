package surface

import (
	"sync"
	"sync/atomic"
)

// Surface is the render sink a decoder adapter writes decoded or remuxed
// media bytes into. Exactly one adapter owns a surface at a time;
// ownership transfers only after the previous adapter's release. Reset
// marks a discontinuity so consumers drop buffered data from the previous
// attempt instead of splicing two different streams together.
type Surface interface {
	Write(p []byte) (int, error)
	Reset()
}

// Null is a Surface that discards everything. Used when playback is
// resolved but no consumer is attached yet.
type Null struct{}

func (Null) Write(p []byte) (int, error) { return len(p), nil }
func (Null) Reset()                      {}

// ringBuffer is a circular buffer supporting one writer and multiple
// concurrent readers, each tracking its own read position. Old data is
// overwritten when the buffer wraps; a lagging reader skips forward to
// the oldest byte still present.
type ringBuffer struct {
	data      []byte
	size      int64
	writePos  atomic.Int64
	destroyed atomic.Bool
	mu        sync.RWMutex
}

func newRingBuffer(size int64) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// write appends data, wrapping circularly. Silently ignored after destroy.
func (rb *ringBuffer) write(data []byte) {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() || rb.data == nil {
		return
	}

	writePos := rb.writePos.Load()
	for i, b := range data {
		rb.data[(writePos+int64(i))%rb.size] = b
	}
	rb.writePos.Add(int64(len(data)))
}

// readFrom copies bytes between pos and the current write position into
// dst. Returns the number of bytes copied and the new position. A reader
// that fell further behind than the buffer holds is snapped forward to
// the oldest retained byte.
func (rb *ringBuffer) readFrom(pos int64, dst []byte) (int, int64) {
	if rb.destroyed.Load() {
		return 0, pos
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() || rb.data == nil {
		return 0, pos
	}

	writePos := rb.writePos.Load()
	if pos >= writePos {
		return 0, pos
	}
	if writePos-pos > rb.size {
		pos = writePos - rb.size
	}

	n := writePos - pos
	if n > int64(len(dst)) {
		n = int64(len(dst))
	}
	for i := int64(0); i < n; i++ {
		dst[i] = rb.data[(pos+i)%rb.size]
	}
	return int(n), pos + n
}

// reset clears content and rewinds the write position.
func (rb *ringBuffer) reset() {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.writePos.Store(0)
}

// destroy zeroes the storage and makes the buffer unusable. Irreversible.
func (rb *ringBuffer) destroy() {
	if !rb.destroyed.CompareAndSwap(false, true) {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.data {
		rb.data[i] = 0
	}
	rb.data = nil
	rb.writePos.Store(0)
}
