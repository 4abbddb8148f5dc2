package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/internal/media"
	"github.com/partnerly/callmesh/internal/peer"
	"github.com/partnerly/callmesh/lib/logger/sl"
)

var (
	ErrCallActive = errors.New("session: a call is already active")
	ErrNoCall     = errors.New("session: no active call")
	ErrNoMedia    = errors.New("session: local media is not acquired")
)

// Signaler is the slice of the signaling client the session consumes.
type Signaler interface {
	Events() <-chan domain.Envelope
	CreateRoom(ctx context.Context, partnershipID, title, createdByID string) (string, error)
	JoinRoom(ctx context.Context, callID string) error
	EndRoom(ctx context.Context, callID string) error
	SendSignal(ctx context.Context, to string, data json.RawMessage) error
	SetActiveCall(callID string)
	ClearActiveCall()
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible transient message. Failures in this subsystem
// degrade one feature and surface here; they never tear the page down.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

const maxNotices = 32

type Config struct {
	UserID            string
	STUNServers       []string
	MinSignalInterval time.Duration
	CallTimeout       time.Duration
}

// State is a point-in-time snapshot for the control API. Incoming is a
// call a partner started that the local user has not joined yet.
type State struct {
	Status           domain.CallStatus    `json:"status"`
	Call             *domain.CallSession  `json:"call,omitempty"`
	Incoming         *domain.CallSession  `json:"incoming,omitempty"`
	Participants     []domain.Participant `json:"participants"`
	ParticipantCount int                  `json:"participant_count"`
	MicEnabled       bool                 `json:"mic_enabled"`
	VideoEnabled     bool                 `json:"video_enabled"`
	Notices          []Notice             `json:"notices"`
}

// Session is the call lifecycle state machine for the local user. UI
// commands drive it from one side, relay events from the other; only one
// call may be active at a time.
type Session struct {
	cfg    Config
	log    *slog.Logger
	signal Signaler
	media  *media.Acquirer
	peers  *peer.Manager

	mu         sync.Mutex
	status     domain.CallStatus
	call       *domain.CallSession
	incoming   *domain.CallSession
	notices    []Notice
	assistStop func()
}

func New(cfg Config, signal Signaler, acquirer *media.Acquirer, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		log:    log,
		signal: signal,
		media:  acquirer,
		status: domain.CallStatusNone,
	}
	s.peers = peer.NewManager(s.buildPeer, log)
	return s
}

func (s *Session) Peers() *peer.Manager { return s.peers }

func (s *Session) Media() *media.Acquirer { return s.media }

// SetAssistStopper registers the teardown hook for an attached assist
// sub-session, so every call termination path stops it too.
func (s *Session) SetAssistStopper(stop func()) {
	s.mu.Lock()
	s.assistStop = stop
	s.mu.Unlock()
}

// Run consumes relay events until ctx is done or the event stream
// closes. It is the single goroutine mutating the roster from the relay
// side.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.signal.Events():
			if !ok {
				s.handleConnectError("signaling event stream closed")
				return
			}
			s.handleEvent(ctx, e)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, e domain.Envelope) {
	switch e.Type {
	case domain.EventUserJoined:
		s.onUserJoined(ctx, e.UserID)
	case domain.EventUserLeft:
		s.onUserLeft(e.UserID)
	case domain.EventSignal:
		s.onSignal(ctx, e)
	case domain.EventCallCreated:
		s.onCallCreated(e)
	case domain.EventCallEnded:
		s.onCallEnded(e.CallID)
	case domain.EventError:
		s.notify(NoticeWarn, "signaling error: "+e.Message)
	case domain.EventConnectError:
		s.handleConnectError(e.Message)
	default:
		s.log.Debug("ignoring relay event", slog.String("type", string(e.Type)))
	}
}

// CreateCall starts a new call. Rejected with a user-visible notice when
// a call is already active.
func (s *Session) CreateCall(ctx context.Context, partnershipID, title string) (*domain.CallSession, error) {
	const op = "session.createCall"
	log := s.log.With(slog.String("op", op), slog.String("partnership_id", partnershipID))

	s.mu.Lock()
	if !s.status.Idle() {
		s.mu.Unlock()
		s.notify(NoticeWarn, "already in a call, end it before starting another")
		return nil, ErrCallActive
	}
	s.status = domain.CallStatusCreating
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	callID, err := s.signal.CreateRoom(reqCtx, partnershipID, title, s.cfg.UserID)
	if err != nil {
		log.Error("room creation failed", sl.Err(err))
		s.setStatus(domain.CallStatusError)
		s.notify(NoticeError, "could not create the call")
		return nil, err
	}

	call := domain.NewCallSession(callID, title, partnershipID, s.cfg.UserID)

	s.mu.Lock()
	s.call = call
	s.status = domain.CallStatusWaiting
	s.mu.Unlock()
	s.signal.SetActiveCall(callID)

	s.acquireMedia(ctx)

	log.Info("call created", slog.String("call_id", callID))
	return call, nil
}

// JoinCall joins an existing call by id.
func (s *Session) JoinCall(ctx context.Context, callID string) error {
	const op = "session.joinCall"
	log := s.log.With(slog.String("op", op), slog.String("call_id", callID))

	s.mu.Lock()
	if !s.status.Idle() {
		s.mu.Unlock()
		s.notify(NoticeWarn, "already in a call, end it before joining another")
		return ErrCallActive
	}
	s.status = domain.CallStatusConnecting
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.signal.JoinRoom(reqCtx, callID); err != nil {
		log.Error("join failed", sl.Err(err))
		s.setStatus(domain.CallStatusError)
		s.notify(NoticeError, "could not join the call")
		return err
	}

	s.mu.Lock()
	call := domain.NewCallSession(callID, "", "", "")
	if s.incoming != nil && s.incoming.ID == callID {
		call = s.incoming
		s.incoming = nil
	}
	s.call = call
	s.status = domain.CallStatusWaiting
	s.mu.Unlock()
	s.signal.SetActiveCall(callID)

	s.acquireMedia(ctx)

	log.Info("joined call")
	return nil
}

// EndCall terminates the active call: notifies the relay, then
// synchronously destroys every peer and releases local media.
func (s *Session) EndCall(ctx context.Context) error {
	s.mu.Lock()
	call := s.call
	s.mu.Unlock()

	if call == nil {
		return ErrNoCall
	}

	if err := s.signal.EndRoom(ctx, call.ID); err != nil {
		s.log.Warn("end-room notify failed", sl.Err(err))
	}

	s.cleanup(domain.CallStatusNone)
	s.notify(NoticeInfo, "call ended")
	return nil
}

// Dispose tears everything down regardless of how termination was
// triggered: normal end, error or navigation away. Safe without a call.
func (s *Session) Dispose() {
	s.mu.Lock()
	call := s.call
	s.mu.Unlock()

	if call != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.signal.EndRoom(ctx, call.ID); err != nil {
			s.log.Warn("end-room notify failed", sl.Err(err))
		}
		cancel()
	}

	s.cleanup(domain.CallStatusNone)
}

func (s *Session) ToggleMic() (bool, error) {
	stream := s.media.Stream()
	if stream == nil {
		return false, ErrNoMedia
	}
	enabled := !stream.MicEnabled()
	stream.SetMicEnabled(enabled)
	s.log.Info("mic toggled", slog.Bool("enabled", enabled))
	return enabled, nil
}

func (s *Session) ToggleVideo() (bool, error) {
	stream := s.media.Stream()
	if stream == nil {
		return false, ErrNoMedia
	}
	enabled := !stream.VideoEnabled()
	stream.SetVideoEnabled(enabled)
	s.log.Info("video toggled", slog.Bool("enabled", enabled))
	return enabled, nil
}

func (s *Session) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	status := s.status
	call := s.call
	incoming := s.incoming
	notices := make([]Notice, len(s.notices))
	copy(notices, s.notices)
	s.mu.Unlock()

	participants := s.peers.Participants()
	count := 0
	if call != nil {
		count = 1 + len(participants)
	}

	state := State{
		Status:           status,
		Call:             call,
		Incoming:         incoming,
		Participants:     participants,
		ParticipantCount: count,
		Notices:          notices,
	}
	if stream := s.media.Stream(); stream != nil {
		state.MicEnabled = stream.MicEnabled()
		state.VideoEnabled = stream.VideoEnabled()
	}
	return state
}

func (s *Session) onUserJoined(ctx context.Context, userID string) {
	s.mu.Lock()
	inCall := s.call != nil
	if inCall && s.status == domain.CallStatusWaiting {
		s.status = domain.CallStatusConnecting
	}
	s.mu.Unlock()

	if !inCall || userID == s.cfg.UserID {
		return
	}

	conn, created, err := s.peers.Ensure(userID)
	if err != nil {
		s.notify(NoticeWarn, "could not connect to a participant")
		return
	}
	if conn == nil {
		return
	}

	if created {
		if err := conn.StartOffer(ctx); err != nil {
			s.log.Warn("offer failed", slog.String("user_id", userID), sl.Err(err))
			s.peers.Remove(userID)
			s.notify(NoticeWarn, "could not connect to a participant")
		}
	}
}

func (s *Session) onUserLeft(userID string) {
	s.peers.Remove(userID)
	s.recomputeConnected()
	s.notify(NoticeInfo, "a participant left the call")
}

func (s *Session) onSignal(ctx context.Context, e domain.Envelope) {
	s.mu.Lock()
	inCall := s.call != nil
	s.mu.Unlock()
	if !inCall {
		return
	}

	payload, err := domain.DecodeSignalPayload(e.Data)
	if err != nil {
		s.log.Warn("dropping malformed signal payload", slog.String("from", e.From), sl.Err(err))
		return
	}

	conn, _, err := s.peers.Ensure(e.From)
	if err != nil {
		s.notify(NoticeWarn, "could not connect to a participant")
		return
	}
	if conn == nil {
		return
	}

	if err := conn.HandleSignal(ctx, payload); err != nil {
		s.log.Warn("signal handling failed", slog.String("from", e.From), sl.Err(err))
		return
	}
	s.peers.MarkEstablished(e.From)
}

// onCallCreated handles the broadcast for a call a partner started. The
// local create-room ack is correlated inside the signaling client, so
// anything arriving here is someone else's call: remember it so the
// control-API consumer can join by id.
func (s *Session) onCallCreated(e domain.Envelope) {
	s.mu.Lock()
	ours := s.call != nil && s.call.ID == e.CallID
	if !ours {
		s.incoming = domain.NewCallSession(e.CallID, e.Title, e.PartnershipID, e.CreatedByID)
	}
	s.mu.Unlock()

	if ours {
		return
	}

	message := "a partner started a call"
	if e.Title != "" {
		message += ": " + e.Title
	}
	s.notify(NoticeInfo, message)
}

func (s *Session) onCallEnded(callID string) {
	s.mu.Lock()
	if s.incoming != nil && s.incoming.ID == callID {
		s.incoming = nil
	}
	active := s.call != nil && s.call.ID == callID
	s.mu.Unlock()

	if !active {
		return
	}

	s.cleanup(domain.CallStatusNone)
	s.notify(NoticeInfo, "the call was ended")
}

func (s *Session) handleConnectError(message string) {
	if message == "" {
		message = "signaling connection lost"
	}

	// any remembered incoming call is stale once the relay is gone
	s.mu.Lock()
	s.incoming = nil
	s.mu.Unlock()

	s.notify(NoticeError, message)
	s.cleanup(domain.CallStatusDisconnected)
}

// onRemoteStream fires once a peer delivers its media.
func (s *Session) onRemoteStream(userID string) {
	s.peers.MarkEstablished(userID)

	s.mu.Lock()
	if s.status == domain.CallStatusConnecting || s.status == domain.CallStatusWaiting {
		s.status = domain.CallStatusConnected
	}
	s.mu.Unlock()

	s.notify(NoticeInfo, "a participant connected")
}

// onPeerLost handles ICE failure for one participant: that peer drops,
// the call survives for everyone else.
func (s *Session) onPeerLost(userID string) {
	s.peers.Remove(userID)
	s.recomputeConnected()
	s.notify(NoticeWarn, "a participant's connection was lost")
}

func (s *Session) recomputeConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.CallStatusConnected && s.peers.StreamingCount() == 0 {
		s.status = domain.CallStatusWaiting
	}
}

func (s *Session) buildPeer(userID string) (*peer.Conn, error) {
	return peer.NewConn(peer.ConnConfig{
		UserID:            userID,
		STUNServers:       s.cfg.STUNServers,
		MinSignalInterval: s.cfg.MinSignalInterval,
		Sender:            s.signal,
		Stream:            s.media.Stream(),
		Log:               s.log,
		OnRemoteStream:    s.onRemoteStream,
		OnConnectionLost:  s.onPeerLost,
	})
}

func (s *Session) acquireMedia(ctx context.Context) {
	if _, err := s.media.Acquire(ctx); err != nil {
		s.log.Warn("media acquisition failed", sl.Err(err))
		s.notify(NoticeWarn, "continuing without camera and microphone")
	}
}

// cleanup is the single teardown path: assist first, then peers, then
// media, all within the calling goroutine.
func (s *Session) cleanup(final domain.CallStatus) {
	s.mu.Lock()
	stop := s.assistStop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	s.peers.CloseAll()
	s.media.Release()
	s.signal.ClearActiveCall()

	s.mu.Lock()
	s.call = nil
	s.status = final
	s.mu.Unlock()
}

// Notify surfaces a user-visible transient notice through the session,
// so attached layers (like assist) share one notice stream.
func (s *Session) Notify(level NoticeLevel, message string) {
	s.notify(level, message)
}

func (s *Session) setStatus(status domain.CallStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) notify(level NoticeLevel, message string) {
	s.mu.Lock()
	s.notices = append(s.notices, Notice{Level: level, Message: message, At: time.Now().UTC()})
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
	s.mu.Unlock()

	s.log.Info("notice", slog.String("level", string(level)), slog.String("message", message))
}
