package assist

import (
	"sync"
	"time"

	"github.com/partnerly/callmesh/internal/media"
)

// RollingBuffer keeps the trailing window of captured audio. Chunks
// older than the window are pruned on every append and on the periodic
// prune tick, so memory stays bounded for arbitrary call lengths.
type RollingBuffer struct {
	mu     sync.Mutex
	window time.Duration
	chunks []media.Chunk
}

func NewRollingBuffer(window time.Duration) *RollingBuffer {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &RollingBuffer{window: window}
}

func (b *RollingBuffer) Append(c media.Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	b.pruneLocked(c.At)
}

func (b *RollingBuffer) Prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(now)
}

func (b *RollingBuffer) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	drop := 0
	for drop < len(b.chunks) && b.chunks[drop].At.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.chunks = append(b.chunks[:0], b.chunks[drop:]...)
	}
}

// Snapshot copies the current window without clearing it.
func (b *RollingBuffer) Snapshot() []media.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]media.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Flush returns the current window and clears the buffer.
func (b *RollingBuffer) Flush() []media.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.chunks
	b.chunks = nil
	return out
}

func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Span is the timestamp distance between the oldest and newest chunk.
func (b *RollingBuffer) Span() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) < 2 {
		return 0
	}
	return b.chunks[len(b.chunks)-1].At.Sub(b.chunks[0].At)
}

func joinChunks(chunks []media.Chunk) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c.Data)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}
