package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
)

// Chunk is one timestamped slice of captured audio, as delivered to taps.
type Chunk struct {
	Data []byte
	At   time.Time
}

// Stream is the local capture held by a session: one audio and one video
// track plus the mic/camera enable flags. Toggling a flag never replaces
// the track objects, so every consumer (peer connections, assist taps)
// keeps observing the same identities.
type Stream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mic atomic.Bool
	cam atomic.Bool

	mu      sync.Mutex
	taps    map[int]chan Chunk
	nextTap int
}

func newStream(audio, video *webrtc.TrackLocalStaticSample) *Stream {
	s := &Stream{
		audio: audio,
		video: video,
		taps:  make(map[int]chan Chunk),
	}
	s.mic.Store(true)
	s.cam.Store(true)
	return s
}

func (s *Stream) AudioTrack() *webrtc.TrackLocalStaticSample { return s.audio }
func (s *Stream) VideoTrack() *webrtc.TrackLocalStaticSample { return s.video }

func (s *Stream) MicEnabled() bool   { return s.mic.Load() }
func (s *Stream) VideoEnabled() bool { return s.cam.Load() }

func (s *Stream) SetMicEnabled(enabled bool)   { s.mic.Store(enabled) }
func (s *Stream) SetVideoEnabled(enabled bool) { s.cam.Store(enabled) }

// TapAudio registers a consumer of captured audio chunks. The returned
// cancel func must be called when the consumer is done; it is safe to
// call more than once.
func (s *Stream) TapAudio() (<-chan Chunk, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextTap
	s.nextTap++

	ch := make(chan Chunk, 64)
	s.taps[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if tap, ok := s.taps[id]; ok {
				delete(s.taps, id)
				close(tap)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Stream) forwardAudio(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tap := range s.taps {
		select {
		case tap <- c:
		default:
			// slow consumer, drop rather than stall the capture pump
		}
	}
}

func (s *Stream) closeTaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tap := range s.taps {
		delete(s.taps, id)
		close(tap)
	}
}
