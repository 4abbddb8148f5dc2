package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/internal/media"
	"github.com/partnerly/callmesh/lib/logger/sl"
)

// NegotiationState is the local tag gating which inbound signals are
// accepted. It is the only defense against out-of-order delivery across
// the relay, so it lives here, outside the webrtc library.
type NegotiationState int

const (
	StateStable NegotiationState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
)

func (s NegotiationState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	default:
		return "unknown"
	}
}

var ErrConnClosed = errors.New("peer: connection closed")

// SignalSender relays an opaque payload to one remote user.
type SignalSender interface {
	SendSignal(ctx context.Context, to string, data json.RawMessage) error
}

type ConnConfig struct {
	UserID            string
	STUNServers       []string
	MinSignalInterval time.Duration
	Sender            SignalSender
	Stream            *media.Stream
	Log               *slog.Logger
	OnRemoteStream    func(userID string)
	OnConnectionLost  func(userID string)
}

// Conn owns exactly one webrtc peer connection to a remote participant.
type Conn struct {
	userID string
	pc     *webrtc.PeerConnection
	sender SignalSender
	log    *slog.Logger

	mu     sync.Mutex
	state  NegotiationState
	queued []webrtc.ICECandidateInit

	sigMu      sync.Mutex
	lastSignal time.Time
	minGap     time.Duration

	tapMu   sync.Mutex
	taps    map[int]chan media.Chunk
	nextTap int

	hasRemoteStream atomic.Bool
	streamOnce      sync.Once
	lostOnce        sync.Once
	closed          atomic.Bool

	onRemoteStream   func(string)
	onConnectionLost func(string)
	joinedAt         time.Time
}

func NewConn(cfg ConnConfig) (*Conn, error) {
	if cfg.Sender == nil {
		return nil, errors.New("peer: signal sender is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("peer: create connection: %w", err)
	}

	c := &Conn{
		userID:           cfg.UserID,
		pc:               pc,
		sender:           cfg.Sender,
		log:              cfg.Log.With(slog.String("remote_user", cfg.UserID)),
		state:            StateStable,
		minGap:           cfg.MinSignalInterval,
		taps:             make(map[int]chan media.Chunk),
		onRemoteStream:   cfg.OnRemoteStream,
		onConnectionLost: cfg.OnConnectionLost,
		joinedAt:         time.Now().UTC(),
	}

	if cfg.Stream != nil {
		if _, err := pc.AddTrack(cfg.Stream.AudioTrack()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("peer: add audio track: %w", err)
		}
		if _, err := pc.AddTrack(cfg.Stream.VideoTrack()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("peer: add video track: %w", err)
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.closed.Load() {
			return
		}
		init := cand.ToJSON()
		if err := c.sendPayload(context.Background(), domain.SignalPayload{Candidate: &init}); err != nil {
			c.log.Warn("candidate relay failed", sl.Err(err))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleRemoteTrack(track)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
			if c.closed.Load() {
				return
			}
			c.log.Warn("ice connection lost", slog.String("state", state.String()))
			c.lostOnce.Do(func() {
				if c.onConnectionLost != nil {
					c.onConnectionLost(c.userID)
				}
			})
		}
	})

	return c, nil
}

func (c *Conn) UserID() string { return c.userID }

func (c *Conn) State() NegotiationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) HasRemoteStream() bool { return c.hasRemoteStream.Load() }

func (c *Conn) JoinedAt() time.Time { return c.joinedAt }

// StartOffer begins negotiation toward the remote user. Only legal while
// stable; a renegotiation attempt mid-exchange is refused.
func (c *Conn) StartOffer(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.mu.Lock()
	if c.state != StateStable {
		c.mu.Unlock()
		return fmt.Errorf("peer: cannot offer while %s", c.state)
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("peer: create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("peer: set local offer: %w", err)
	}
	c.state = StateHaveLocalOffer
	desc := c.pc.LocalDescription()
	c.mu.Unlock()

	return c.sendPayload(ctx, domain.SignalPayload{SDP: desc})
}

// HandleSignal applies one relayed payload. Out-of-order offers and
// answers are dropped without error per the state tag; candidates that
// arrive before a remote description are queued.
func (c *Conn) HandleSignal(ctx context.Context, p domain.SignalPayload) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	if p.SDP != nil {
		switch p.SDP.Type {
		case webrtc.SDPTypeOffer:
			return c.handleOffer(ctx, p.SDP)
		case webrtc.SDPTypeAnswer:
			return c.handleAnswer(p.SDP)
		default:
			c.log.Warn("ignoring sdp", slog.String("sdp_type", p.SDP.Type.String()))
			return nil
		}
	}
	return c.handleCandidate(*p.Candidate)
}

func (c *Conn) handleOffer(ctx context.Context, sdp *webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.state != StateStable {
		c.log.Debug("ignoring out-of-order offer", slog.String("state", c.state.String()))
		c.mu.Unlock()
		return nil
	}

	if err := c.pc.SetRemoteDescription(*sdp); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("peer: set remote offer: %w", err)
	}
	c.state = StateHaveRemoteOffer
	c.flushQueuedLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("peer: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("peer: set local answer: %w", err)
	}
	c.state = StateStable
	desc := c.pc.LocalDescription()
	c.mu.Unlock()

	return c.sendPayload(ctx, domain.SignalPayload{SDP: desc})
}

func (c *Conn) handleAnswer(sdp *webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateHaveLocalOffer {
		c.log.Debug("ignoring out-of-order answer", slog.String("state", c.state.String()))
		return nil
	}

	if err := c.pc.SetRemoteDescription(*sdp); err != nil {
		return fmt.Errorf("peer: set remote answer: %w", err)
	}
	c.state = StateStable
	c.flushQueuedLocked()
	return nil
}

func (c *Conn) handleCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc.RemoteDescription() == nil {
		c.queued = append(c.queued, cand)
		return nil
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("peer: add candidate: %w", err)
	}
	return nil
}

func (c *Conn) flushQueuedLocked() {
	for _, cand := range c.queued {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn("queued candidate rejected", sl.Err(err))
		}
	}
	c.queued = nil
}

// sendPayload relays one negotiation payload, enforcing the minimum
// inter-signal interval so rapid renegotiation cannot flood the relay.
func (c *Conn) sendPayload(ctx context.Context, p domain.SignalPayload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}

	// reserve the next send slot first so the wait happens outside the
	// lock and a cancelled caller never blocks the others
	c.sigMu.Lock()
	var wait time.Duration
	if c.minGap > 0 {
		if gap := c.minGap - time.Since(c.lastSignal); gap > 0 {
			wait = gap
		}
	}
	c.lastSignal = time.Now().Add(wait)
	c.sigMu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return c.sender.SendSignal(ctx, c.userID, data)
}

func (c *Conn) handleRemoteTrack(track *webrtc.TrackRemote) {
	c.log.Info("remote track received",
		slog.String("kind", track.Kind().String()),
		slog.String("track_id", track.ID()),
	)

	c.hasRemoteStream.Store(true)
	c.streamOnce.Do(func() {
		if c.onRemoteStream != nil {
			c.onRemoteStream(c.userID)
		}
	})

	if track.Kind() == webrtc.RTPCodecTypeAudio {
		go c.pumpRemoteAudio(track)
	}
}

func (c *Conn) pumpRemoteAudio(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.forwardAudio(media.Chunk{Data: pkt.Payload, At: time.Now()})
	}
}

// TapAudio registers a consumer of the remote participant's audio.
func (c *Conn) TapAudio() (<-chan media.Chunk, func()) {
	c.tapMu.Lock()
	defer c.tapMu.Unlock()

	id := c.nextTap
	c.nextTap++

	ch := make(chan media.Chunk, 64)
	c.taps[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.tapMu.Lock()
			if tap, ok := c.taps[id]; ok {
				delete(c.taps, id)
				close(tap)
			}
			c.tapMu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Conn) forwardAudio(chunk media.Chunk) {
	c.tapMu.Lock()
	defer c.tapMu.Unlock()
	for _, tap := range c.taps {
		select {
		case tap <- chunk:
		default:
		}
	}
}

// Close tears the peer object down. Idempotent; after Close no callback
// fires and no signal is sent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.tapMu.Lock()
	for id, tap := range c.taps {
		delete(c.taps, id)
		close(tap)
	}
	c.tapMu.Unlock()

	return c.pc.Close()
}
