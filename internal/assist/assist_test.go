package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerly/callmesh/internal/media"
)

// fakeBackend is an in-process stand-in for the AI service.
type fakeBackend struct {
	mu            sync.Mutex
	remaining     bool
	transcription string
	answer        string
	suggestion    string

	transcribeHits atomic.Int32
	answerHits     atomic.Int32
	suggestHits    atomic.Int32

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{
		remaining:     true,
		transcription: "we should ship on friday",
		answer:        "yes, friday was agreed",
		suggestion:    "ask about the release checklist",
	}

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		remaining := b.remaining
		transcription := b.transcription
		answer := b.answer
		suggestion := b.suggestion
		b.mu.Unlock()

		switch r.URL.Path {
		case "/ai/usage":
			json.NewEncoder(w).Encode(map[string]bool{"remaining": remaining})
		case "/ai/transcribe":
			b.transcribeHits.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"text": transcription})
		case "/ai/answer":
			b.answerHits.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"text": answer})
		case "/ai/suggest":
			b.suggestHits.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"text": suggestion})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) setRemaining(v bool) {
	b.mu.Lock()
	b.remaining = v
	b.mu.Unlock()
}

// fakeSources hands out taps backed by plain channels.
type fakeSources struct {
	local    chan media.Chunk
	peer     chan media.Chunk
	localErr error
	peerErr  error

	localReleased atomic.Bool
	peerReleased  atomic.Bool
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		local: make(chan media.Chunk, 64),
		peer:  make(chan media.Chunk, 64),
	}
}

func (f *fakeSources) LocalTap() (Tap, error) {
	if f.localErr != nil {
		return Tap{}, f.localErr
	}
	return Tap{C: f.local, Cancel: func() { f.localReleased.Store(true) }}, nil
}

func (f *fakeSources) PeerTap() (Tap, error) {
	if f.peerErr != nil {
		return Tap{}, f.peerErr
	}
	return Tap{C: f.peer, Cancel: func() { f.peerReleased.Store(true) }}, nil
}

type noticeLog struct {
	mu       sync.Mutex
	messages []string
}

func (n *noticeLog) add(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *noticeLog) contains(message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if m == message {
			return true
		}
	}
	return false
}

func newAssistSession(t *testing.T, backend *fakeBackend, sources *fakeSources, notices *noticeLog) *Session {
	t.Helper()
	s := New(Config{
		UserID:          "alice",
		BufferWindow:    30 * time.Second,
		PruneInterval:   10 * time.Millisecond,
		AmbientInterval: 30 * time.Millisecond,
		StreamChunkSize: 4,
		StreamDelay:     time.Millisecond,
		Notify:          notices.add,
	}, NewClient(backend.srv.URL, time.Second, nil), sources, nil)
	t.Cleanup(s.Stop)
	return s
}

func feedAudio(sources *fakeSources, n int) {
	now := time.Now()
	for i := 0; i < n; i++ {
		sources.local <- media.Chunk{Data: []byte("opus"), At: now.Add(time.Duration(i) * 20 * time.Millisecond)}
	}
}

func TestStartRecordingRejectsMissingSource(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	sources.peerErr = ErrNoAudioSource
	notices := &noticeLog{}
	s := newAssistSession(t, backend, sources, notices)

	require.NoError(t, s.SetSource(SourcePeer))
	err := s.StartRecording(context.Background())
	assert.ErrorIs(t, err, ErrNoAudioSource)
	assert.False(t, s.Recording())
	assert.True(t, notices.contains("no audio available for the selected source"))
}

func TestMixedSourceReleasesLocalWhenPeerMissing(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	sources.peerErr = ErrNoAudioSource
	s := newAssistSession(t, backend, sources, &noticeLog{})

	require.NoError(t, s.SetSource(SourceMixed))
	err := s.StartRecording(context.Background())
	assert.ErrorIs(t, err, ErrNoAudioSource)
	assert.True(t, sources.localReleased.Load(), "local tap must be released on partial failure")
}

func TestStopRecordingTranscribes(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	s := newAssistSession(t, backend, sources, &noticeLog{})

	require.NoError(t, s.StartRecording(context.Background()))
	require.True(t, s.Recording())

	// the source cannot change mid-recording
	assert.ErrorIs(t, s.SetSource(SourcePeer), ErrAlreadyRecording)
	assert.ErrorIs(t, s.StartRecording(context.Background()), ErrAlreadyRecording)

	feedAudio(sources, 3)
	require.Eventually(t, func() bool { return s.buffer.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	text, err := s.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "we should ship on friday", text)
	assert.Equal(t, text, s.Transcript())
	assert.False(t, s.Recording())
	assert.True(t, sources.localReleased.Load())
}

func TestStopRecordingWithoutAudio(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	notices := &noticeLog{}
	s := newAssistSession(t, backend, sources, notices)

	_, err := s.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)

	require.NoError(t, s.StartRecording(context.Background()))
	_, err = s.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrEmptyTranscription)
	assert.True(t, notices.contains("no audio was captured"))
	assert.Equal(t, int32(0), backend.transcribeHits.Load())
}

func TestFlushAndContinueKeepsRecording(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	s := newAssistSession(t, backend, sources, &noticeLog{})

	_, err := s.FlushAndContinue(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)

	require.NoError(t, s.StartRecording(context.Background()))
	feedAudio(sources, 3)
	require.Eventually(t, func() bool { return s.buffer.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	text, err := s.FlushAndContinue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "we should ship on friday", text)
	assert.True(t, s.Recording(), "capture must keep running after a flush")
	assert.Equal(t, 0, s.buffer.Len())

	// new audio after the flush lands in the cleared buffer
	feedAudio(sources, 2)
	require.Eventually(t, func() bool { return s.buffer.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPromptStreamsResponse(t *testing.T) {
	backend := newFakeBackend(t)
	s := newAssistSession(t, backend, newFakeSources(), &noticeLog{})

	assert.ErrorIs(t, s.Prompt(context.Background(), "   ", nil), ErrEmptyPrompt)

	var chunks atomic.Int32
	err := s.Prompt(context.Background(), "did we pick a date?", func(string) {
		chunks.Add(1)
	})
	require.NoError(t, err)

	assert.Equal(t, "yes, friday was agreed", s.Response())
	assert.Greater(t, chunks.Load(), int32(1), "the response must arrive in chunks")
	assert.Equal(t, int32(1), backend.answerHits.Load())
}

func TestQuotaGateBlocksPromptAndStopsRecording(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setRemaining(false)
	sources := newFakeSources()
	notices := &noticeLog{}
	s := newAssistSession(t, backend, sources, notices)

	require.NoError(t, s.StartRecording(context.Background()))
	require.True(t, s.Recording())

	err := s.Prompt(context.Background(), "anything left?", nil)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Equal(t, int32(0), backend.answerHits.Load(), "the backend must not be called past the gate")
	assert.False(t, s.Recording(), "quota exhaustion stops the recording")
	assert.True(t, notices.contains("daily assistant limit reached"))
}

func TestQuotaGateBlocksTranscription(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setRemaining(false)
	sources := newFakeSources()

	// the ambient loop stays dormant here so only the stop path hits the gate
	s := New(Config{
		UserID:          "alice",
		BufferWindow:    30 * time.Second,
		PruneInterval:   10 * time.Millisecond,
		AmbientInterval: time.Hour,
	}, NewClient(backend.srv.URL, time.Second, nil), sources, nil)
	t.Cleanup(s.Stop)

	require.NoError(t, s.StartRecording(context.Background()))
	feedAudio(sources, 2)
	require.Eventually(t, func() bool { return s.buffer.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err := s.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int32(0), backend.transcribeHits.Load())
}

func TestAmbientLoopStreamsSuggestion(t *testing.T) {
	backend := newFakeBackend(t)
	sources := newFakeSources()
	s := newAssistSession(t, backend, sources, &noticeLog{})

	require.NoError(t, s.StartRecording(context.Background()))
	feedAudio(sources, 4)

	assert.Eventually(t, func() bool {
		return s.Suggestion() == "ask about the release checklist"
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, backend.suggestHits.Load(), int32(1))

	s.Stop()
	assert.False(t, s.Recording())
}
