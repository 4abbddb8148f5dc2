package assist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/partnerly/callmesh/internal/media"
)

type Source string

const (
	SourceLocal Source = "local"
	SourcePeer  Source = "peer"
	SourceMixed Source = "mixed"
)

func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceLocal, SourcePeer, SourceMixed:
		return Source(raw), nil
	default:
		return "", errors.New("assist: unknown audio source " + raw)
	}
}

var (
	ErrNoAudioSource    = errors.New("assist: no audio available for the selected source")
	ErrAlreadyRecording = errors.New("assist: recording already active")
	ErrNotRecording     = errors.New("assist: recording is not active")
)

// Tap is one audio feed plus its release func.
type Tap struct {
	C      <-chan media.Chunk
	Cancel func()
}

// Recorder drains one or more taps into the rolling buffer. With two
// taps (the mixed source) the feeds are joined in arrival order. A prune
// ticker trims the buffer even while the feeds are quiet.
type Recorder struct {
	buffer        *RollingBuffer
	pruneInterval time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	taps    []Tap
}

func NewRecorder(buffer *RollingBuffer, pruneInterval time.Duration, log *slog.Logger) *Recorder {
	if pruneInterval <= 0 {
		pruneInterval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{buffer: buffer, pruneInterval: pruneInterval, log: log}
}

func (r *Recorder) Start(taps ...Tap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRecording
	}
	if len(taps) == 0 {
		return ErrNoAudioSource
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go r.run(ctx, taps, done)

	r.running = true
	r.cancel = cancel
	r.done = done
	r.taps = taps
	return nil
}

func (r *Recorder) run(ctx context.Context, taps []Tap, done chan struct{}) {
	var wg sync.WaitGroup

	for _, tap := range taps {
		wg.Add(1)
		go func(tap Tap) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-tap.C:
					if !ok {
						return
					}
					r.buffer.Append(chunk)
				}
			}
		}(tap)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.buffer.Prune(now)
			}
		}
	}()

	wg.Wait()
	close(done)
}

// Stop halts draining and releases every tap. Idempotent.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	taps := r.taps
	r.running = false
	r.cancel = nil
	r.done = nil
	r.taps = nil
	r.mu.Unlock()

	cancel()
	<-done
	for _, tap := range taps {
		tap.Cancel()
	}
}

func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
