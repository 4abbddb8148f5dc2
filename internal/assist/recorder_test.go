package assist

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerly/callmesh/internal/media"
)

func TestRecorderDrainsTapIntoBuffer(t *testing.T) {
	buffer := NewRollingBuffer(time.Minute)
	rec := NewRecorder(buffer, 10*time.Millisecond, nil)

	feed := make(chan media.Chunk, 8)
	var released atomic.Bool
	require.NoError(t, rec.Start(Tap{C: feed, Cancel: func() { released.Store(true) }}))
	require.True(t, rec.Running())

	now := time.Now()
	feed <- media.Chunk{Data: []byte("one"), At: now}
	feed <- media.Chunk{Data: []byte("two"), At: now.Add(time.Millisecond)}

	assert.Eventually(t, func() bool { return buffer.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	rec.Stop()
	assert.False(t, rec.Running())
	assert.True(t, released.Load(), "stop must release the tap")

	// idempotent
	rec.Stop()
}

func TestRecorderMergesTwoFeedsInArrivalOrder(t *testing.T) {
	buffer := NewRollingBuffer(time.Minute)
	rec := NewRecorder(buffer, 10*time.Millisecond, nil)

	local := make(chan media.Chunk, 8)
	remote := make(chan media.Chunk, 8)
	require.NoError(t, rec.Start(
		Tap{C: local, Cancel: func() {}},
		Tap{C: remote, Cancel: func() {}},
	))
	defer rec.Stop()

	now := time.Now()
	local <- media.Chunk{Data: []byte("l"), At: now}
	remote <- media.Chunk{Data: []byte("r"), At: now.Add(time.Millisecond)}
	local <- media.Chunk{Data: []byte("l"), At: now.Add(2 * time.Millisecond)}

	assert.Eventually(t, func() bool { return buffer.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRecorderRejectsDoubleStart(t *testing.T) {
	rec := NewRecorder(NewRollingBuffer(time.Minute), 10*time.Millisecond, nil)

	feed := make(chan media.Chunk)
	require.NoError(t, rec.Start(Tap{C: feed, Cancel: func() {}}))
	defer rec.Stop()

	err := rec.Start(Tap{C: feed, Cancel: func() {}})
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestRecorderRequiresATap(t *testing.T) {
	rec := NewRecorder(NewRollingBuffer(time.Minute), 10*time.Millisecond, nil)
	assert.ErrorIs(t, rec.Start(), ErrNoAudioSource)
}

func TestParseSource(t *testing.T) {
	for _, raw := range []string{"local", "peer", "mixed"} {
		src, err := ParseSource(raw)
		require.NoError(t, err)
		assert.Equal(t, Source(raw), src)
	}
	_, err := ParseSource("satellite")
	assert.Error(t, err)
}
