package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/partnerly/callmesh/internal/media"
	"github.com/partnerly/callmesh/lib/logger/sl"
)

var ErrEmptyPrompt = errors.New("assist: prompt is empty")

// SourceProvider resolves the audio feeds behind the selectable sources.
type SourceProvider interface {
	LocalTap() (Tap, error)
	PeerTap() (Tap, error)
}

// Notifier surfaces a user-visible notice; failures here degrade one
// assist operation, never the call.
type Notifier func(message string)

type Config struct {
	UserID          string
	BufferWindow    time.Duration
	PruneInterval   time.Duration
	AmbientInterval time.Duration
	StreamChunkSize int
	StreamDelay     time.Duration
	Notify          Notifier
}

// Session is the optional AI-assist layer over an active call. Three
// operations share the rolling buffer: transcribe on demand, prompt and
// answer, and the periodic ambient suggestion. Each one checks the daily
// usage quota independently before touching the backend.
type Session struct {
	cfg     Config
	ai      *Client
	sources SourceProvider
	log     *slog.Logger

	buffer   *RollingBuffer
	recorder *Recorder

	mu           sync.Mutex
	source       Source
	transcript   string
	response     string
	suggestion   string
	promptCancel context.CancelFunc

	ambientMu     sync.Mutex
	ambientCancel context.CancelFunc
	ambientDone   chan struct{}
}

func New(cfg Config, ai *Client, sources SourceProvider, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string) {}
	}
	if cfg.AmbientInterval <= 0 {
		cfg.AmbientInterval = 45 * time.Second
	}

	buffer := NewRollingBuffer(cfg.BufferWindow)
	return &Session{
		cfg:      cfg,
		ai:       ai,
		sources:  sources,
		log:      log,
		buffer:   buffer,
		recorder: NewRecorder(buffer, cfg.PruneInterval, log),
		source:   SourceLocal,
	}
}

// SetSource selects which stream feeds the recorder. Rejected while a
// recording is active.
func (s *Session) SetSource(src Source) error {
	if s.recorder.Running() {
		return ErrAlreadyRecording
	}
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	return nil
}

func (s *Session) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// StartRecording resolves the selected source to concrete taps and
// starts draining them. A source with no stream behind it is rejected
// here, before any recorder state is touched.
func (s *Session) StartRecording(ctx context.Context) error {
	const op = "assist.startRecording"

	if s.recorder.Running() {
		return ErrAlreadyRecording
	}

	taps, err := s.resolveTaps()
	if err != nil {
		s.cfg.Notify("no audio available for the selected source")
		return err
	}

	if err := s.recorder.Start(taps...); err != nil {
		for _, tap := range taps {
			tap.Cancel()
		}
		return err
	}

	s.startAmbient()
	s.log.Info("recording started", slog.String("op", op), slog.String("source", string(s.Source())))
	return nil
}

// StopRecording halts capture, flushes the buffer and transcribes it.
func (s *Session) StopRecording(ctx context.Context) (string, error) {
	if !s.recorder.Running() {
		return "", ErrNotRecording
	}

	s.stopAmbient()
	s.recorder.Stop()

	return s.transcribeChunks(ctx, s.buffer.Flush())
}

// FlushAndContinue transcribes the buffered audio without interrupting
// capture: the buffer is snapshotted and cleared, the transcript stored,
// and recording keeps running so the buffer keeps growing.
func (s *Session) FlushAndContinue(ctx context.Context) (string, error) {
	if !s.recorder.Running() {
		return "", ErrNotRecording
	}
	return s.transcribeChunks(ctx, s.buffer.Flush())
}

// Prompt sends free text plus the current transcript context to the
// generation endpoint and streams the answer into the response field.
// A newer prompt cancels the stream of the previous one.
func (s *Session) Prompt(ctx context.Context, text string, onChunk func(string)) error {
	const op = "assist.prompt"

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}

	if err := s.checkQuota(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.promptCancel != nil {
		s.promptCancel()
	}
	promptCtx, cancel := context.WithCancel(ctx)
	s.promptCancel = cancel
	transcript := s.transcript
	s.mu.Unlock()
	defer cancel()

	answer, err := s.ai.Answer(promptCtx, text, transcript, s.cfg.UserID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Error("answer generation failed", slog.String("op", op), sl.Err(err))
		s.cfg.Notify("the assistant could not answer, please try again")
		return err
	}

	s.setResponse("")
	return streamText(promptCtx, answer, s.cfg.StreamChunkSize, s.cfg.StreamDelay, func(chunk string) {
		s.appendResponse(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	})
}

// Stop tears the whole sub-session down: in-flight streams, the ambient
// loop and the recorder. Callable from any call termination path.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.promptCancel != nil {
		s.promptCancel()
		s.promptCancel = nil
	}
	s.mu.Unlock()

	s.stopAmbient()
	s.recorder.Stop()
}

func (s *Session) Recording() bool { return s.recorder.Running() }

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}

func (s *Session) Suggestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestion
}

func (s *Session) resolveTaps() ([]Tap, error) {
	switch s.Source() {
	case SourceLocal:
		tap, err := s.sources.LocalTap()
		if err != nil {
			return nil, err
		}
		return []Tap{tap}, nil
	case SourcePeer:
		tap, err := s.sources.PeerTap()
		if err != nil {
			return nil, err
		}
		return []Tap{tap}, nil
	case SourceMixed:
		local, err := s.sources.LocalTap()
		if err != nil {
			return nil, err
		}
		remote, err := s.sources.PeerTap()
		if err != nil {
			local.Cancel()
			return nil, err
		}
		return []Tap{local, remote}, nil
	default:
		return nil, ErrNoAudioSource
	}
}

func (s *Session) transcribeChunks(ctx context.Context, chunks []media.Chunk) (string, error) {
	const op = "assist.transcribe"

	if len(chunks) == 0 {
		s.cfg.Notify("no audio was captured")
		return "", ErrEmptyTranscription
	}

	if err := s.checkQuota(ctx); err != nil {
		return "", err
	}

	text, err := s.ai.Transcribe(ctx, joinChunks(chunks), s.cfg.UserID)
	if err != nil {
		s.log.Error("transcription failed", slog.String("op", op), sl.Err(err))
		s.cfg.Notify("transcription failed, the call is unaffected")
		return "", err
	}

	s.mu.Lock()
	s.transcript = text
	s.mu.Unlock()
	return text, nil
}

// checkQuota gates every backend operation. When the daily limit is
// reached the user is notified and any active recording stops.
func (s *Session) checkQuota(ctx context.Context) error {
	remaining, err := s.ai.UsageRemaining(ctx, s.cfg.UserID)
	if err != nil {
		s.log.Warn("usage check failed", sl.Err(err))
		s.cfg.Notify("could not verify the assistant usage limit")
		return err
	}
	if !remaining {
		s.cfg.Notify("daily assistant limit reached")
		if s.recorder.Running() {
			s.stopAmbient()
			s.recorder.Stop()
		}
		return ErrQuotaExceeded
	}
	return nil
}

func (s *Session) startAmbient() {
	s.ambientMu.Lock()
	defer s.ambientMu.Unlock()
	if s.ambientCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.ambientCancel = cancel
	s.ambientDone = done

	go s.ambientLoop(ctx, done)
}

// clearAmbientState drops the cancel handle without waiting, for the
// case where the ambient goroutine retires itself.
func (s *Session) clearAmbientState() {
	s.ambientMu.Lock()
	if s.ambientCancel != nil {
		s.ambientCancel()
	}
	s.ambientCancel = nil
	s.ambientDone = nil
	s.ambientMu.Unlock()
}

func (s *Session) stopAmbient() {
	s.ambientMu.Lock()
	cancel := s.ambientCancel
	done := s.ambientDone
	s.ambientCancel = nil
	s.ambientDone = nil
	s.ambientMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// ambientLoop periodically snapshots the rolling buffer, transcribes it
// and streams a suggestion. It runs concurrently with, and independently
// of, manual prompts.
func (s *Session) ambientLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.AmbientInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snapshot := s.buffer.Snapshot()
		if len(snapshot) == 0 {
			continue
		}

		// checkQuota would stop the ambient loop from inside itself, so
		// the gate is inlined here without the stopAmbient call.
		remaining, err := s.ai.UsageRemaining(ctx, s.cfg.UserID)
		if err != nil {
			s.log.Warn("usage check failed", sl.Err(err))
			continue
		}
		if !remaining {
			s.cfg.Notify("daily assistant limit reached")
			s.recorder.Stop()
			s.clearAmbientState()
			return
		}

		text, err := s.ai.Transcribe(ctx, joinChunks(snapshot), s.cfg.UserID)
		if err != nil {
			s.log.Warn("ambient transcription failed", sl.Err(err))
			continue
		}

		suggestion, err := s.ai.Suggest(ctx, text, s.cfg.UserID)
		if err != nil {
			s.log.Warn("suggestion generation failed", sl.Err(err))
			continue
		}

		s.setSuggestion("")
		if err := streamText(ctx, suggestion, s.cfg.StreamChunkSize, s.cfg.StreamDelay, s.appendSuggestion); err != nil {
			return
		}
	}
}

func (s *Session) setResponse(text string) {
	s.mu.Lock()
	s.response = text
	s.mu.Unlock()
}

func (s *Session) appendResponse(chunk string) {
	s.mu.Lock()
	s.response += chunk
	s.mu.Unlock()
}

func (s *Session) setSuggestion(text string) {
	s.mu.Lock()
	s.suggestion = text
	s.mu.Unlock()
}

func (s *Session) appendSuggestion(chunk string) {
	s.mu.Lock()
	s.suggestion += chunk
	s.mu.Unlock()
}
