package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/lib/logger/sl"
)

var (
	ErrClosed       = errors.New("signaling: client closed")
	ErrJoinRejected = errors.New("signaling: join rejected")
)

type Config struct {
	URL        string
	UserID     string
	MaxRetries int
	RetryDelay time.Duration
}

// Client keeps one long-lived websocket to the call-signaling relay.
// It announces the local identity on every (re)connect, correlates the
// room lifecycle requests with their ack events and surfaces everything
// else on Events as validated envelopes.
type Client struct {
	cfg Config
	log *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	pendMu  sync.Mutex
	pending map[domain.EventType]chan domain.Envelope

	mu         sync.Mutex
	activeCall string

	events chan domain.Envelope
	done   chan struct{}
	once   sync.Once
}

func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.UserID == "" {
		return nil, errors.New("signaling: user id is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		pending: make(map[domain.EventType]chan domain.Envelope),
		events:  make(chan domain.Envelope, 32),
		done:    make(chan struct{}),
	}

	if err := c.announce(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()

	log.Info("signaling connected", slog.String("url", cfg.URL), slog.String("user_id", cfg.UserID))
	return c, nil
}

// Events delivers relay pushes: user-joined, user-left, call-created,
// call-ended, signal, error and the locally synthesized connect_error.
// The channel closes once the client is closed or reconnection gives up.
func (c *Client) Events() <-chan domain.Envelope {
	return c.events
}

func (c *Client) CreateRoom(ctx context.Context, partnershipID, title, createdByID string) (string, error) {
	resp, err := c.request(ctx, domain.Envelope{
		Type:          domain.EventCreateRoom,
		PartnershipID: partnershipID,
		Title:         title,
		CreatedByID:   createdByID,
	}, domain.EventCallCreated)
	if err != nil {
		return "", err
	}
	return resp.CallID, nil
}

func (c *Client) JoinRoom(ctx context.Context, callID string) error {
	resp, err := c.request(ctx, domain.Envelope{
		Type:   domain.EventJoinRoom,
		CallID: callID,
	}, domain.EventRoomJoined)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrJoinRejected, resp.Message)
	}
	return nil
}

func (c *Client) EndRoom(ctx context.Context, callID string) error {
	return c.send(domain.Envelope{Type: domain.EventEndRoom, CallID: callID})
}

// SendSignal relays an opaque negotiation payload to one remote user.
// The payload is never interpreted here.
func (c *Client) SendSignal(ctx context.Context, to string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(domain.Envelope{
		Type: domain.EventSignal,
		From: c.cfg.UserID,
		To:   to,
		Data: data,
	})
}

// SetActiveCall records the call the client should re-join after a
// reconnect. ClearActiveCall drops it.
func (c *Client) SetActiveCall(callID string) {
	c.mu.Lock()
	c.activeCall = callID
	c.mu.Unlock()
}

func (c *Client) ClearActiveCall() {
	c.SetActiveCall("")
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.connMu.Unlock()
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) announce() error {
	return c.send(domain.Envelope{Type: domain.EventJoin, UserID: c.cfg.UserID})
}

func (c *Client) send(e domain.Envelope) error {
	if c.closed() {
		return ErrClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return c.conn.WriteJSON(e)
}

// request registers a waiter for the ack event type before sending, so
// a fast relay cannot reply into the void.
func (c *Client) request(ctx context.Context, req domain.Envelope, ackType domain.EventType) (domain.Envelope, error) {
	ch := make(chan domain.Envelope, 1)

	c.pendMu.Lock()
	if _, busy := c.pending[ackType]; busy {
		c.pendMu.Unlock()
		return domain.Envelope{}, fmt.Errorf("signaling: %s request already in flight", req.Type)
	}
	c.pending[ackType] = ch
	c.pendMu.Unlock()

	cleanup := func() {
		c.pendMu.Lock()
		if c.pending[ackType] == ch {
			delete(c.pending, ackType)
		}
		c.pendMu.Unlock()
	}

	if err := c.send(req); err != nil {
		cleanup()
		return domain.Envelope{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return domain.Envelope{}, ctx.Err()
	case <-c.done:
		cleanup()
		return domain.Envelope{}, ErrClosed
	}
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.closed() {
				return
			}
			c.log.Warn("signaling read failed", sl.Err(err))
			if !c.reconnect() {
				c.deliver(domain.Envelope{
					Type:    domain.EventConnectError,
					Message: "signaling connection lost",
				})
				return
			}
			continue
		}

		e, err := domain.DecodeEnvelope(raw)
		if err != nil {
			c.log.Warn("dropping malformed relay frame", sl.Err(err))
			continue
		}
		c.deliver(e)
	}
}

func (c *Client) deliver(e domain.Envelope) {
	c.pendMu.Lock()
	if ch, ok := c.pending[e.Type]; ok && c.acksLocalRequest(e) {
		delete(c.pending, e.Type)
		c.pendMu.Unlock()
		ch <- e
		return
	}
	c.pendMu.Unlock()

	select {
	case c.events <- e:
	default:
		c.log.Debug("dropping relay event", slog.String("type", string(e.Type)))
	}
}

// acksLocalRequest reports whether a frame can be the reply to the local
// pending request. call-created is also broadcast for calls started by
// partners; those carry another creator id and belong on Events even
// while our own create-room is in flight.
func (c *Client) acksLocalRequest(e domain.Envelope) bool {
	if e.Type != domain.EventCallCreated {
		return true
	}
	return e.CreatedByID == "" || e.CreatedByID == c.cfg.UserID
}

// reconnect retries the relay with a fixed backoff and a bounded attempt
// count, re-announcing identity and re-joining any call still considered
// active. Join-room is idempotent on the relay side.
func (c *Client) reconnect() bool {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(c.cfg.RetryDelay):
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.log.Warn("signaling reconnect failed",
				slog.Int("attempt", attempt),
				slog.Int("max", c.cfg.MaxRetries),
				sl.Err(err),
			)
			continue
		}

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = conn
		c.connMu.Unlock()

		if err := c.announce(); err != nil {
			c.log.Warn("identity announce failed after reconnect", sl.Err(err))
			c.connMu.Lock()
			conn.Close()
			c.conn = nil
			c.connMu.Unlock()
			continue
		}

		c.mu.Lock()
		active := c.activeCall
		c.mu.Unlock()
		if active != "" {
			if err := c.send(domain.Envelope{Type: domain.EventJoinRoom, CallID: active}); err != nil {
				c.log.Warn("call re-join failed after reconnect", sl.Err(err))
			}
		}

		c.log.Info("signaling reconnected", slog.Int("attempt", attempt))
		return true
	}
	return false
}
