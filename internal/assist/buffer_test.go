package assist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/partnerly/callmesh/internal/media"
)

func chunkAt(at time.Time, data string) media.Chunk {
	return media.Chunk{Data: []byte(data), At: at}
}

func TestRollingBufferKeepsOnlyTheWindow(t *testing.T) {
	b := NewRollingBuffer(10 * time.Second)
	base := time.Now()

	// one chunk per second for half a minute
	for i := 0; i < 30; i++ {
		b.Append(chunkAt(base.Add(time.Duration(i)*time.Second), "x"))
	}

	assert.LessOrEqual(t, b.Span(), 10*time.Second)
	assert.Equal(t, 11, b.Len())

	// the survivors are the newest chunks
	snapshot := b.Snapshot()
	assert.Equal(t, base.Add(29*time.Second), snapshot[len(snapshot)-1].At)
}

func TestPruneTrimsIdleBuffer(t *testing.T) {
	b := NewRollingBuffer(10 * time.Second)
	base := time.Now()

	b.Append(chunkAt(base, "x"))
	b.Append(chunkAt(base.Add(time.Second), "y"))
	assert.Equal(t, 2, b.Len())

	b.Prune(base.Add(30 * time.Second))
	assert.Equal(t, 0, b.Len())
}

func TestSnapshotKeepsFlushClears(t *testing.T) {
	b := NewRollingBuffer(time.Minute)
	base := time.Now()

	b.Append(chunkAt(base, "a"))
	b.Append(chunkAt(base.Add(time.Second), "b"))

	snap := b.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, 2, b.Len())

	flushed := b.Flush()
	assert.Len(t, flushed, 2)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Flush())
}

func TestJoinChunksPreservesOrder(t *testing.T) {
	base := time.Now()
	chunks := []media.Chunk{
		chunkAt(base, "one"),
		chunkAt(base.Add(time.Second), "two"),
		chunkAt(base.Add(2*time.Second), "three"),
	}
	assert.Equal(t, []byte("onetwothree"), joinChunks(chunks))
	assert.Empty(t, joinChunks(nil))
}
