package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

type EventType string

const (
	// client -> relay
	EventJoin       EventType = "join"
	EventCreateRoom EventType = "create-room"
	EventJoinRoom   EventType = "join-room"
	EventEndRoom    EventType = "end-room"

	// both directions
	EventSignal EventType = "signal"

	// relay -> client
	EventUserJoined  EventType = "user-joined"
	EventUserLeft    EventType = "user-left"
	EventCallCreated EventType = "call-created"
	EventRoomJoined  EventType = "room-joined"
	EventCallEnded   EventType = "call-ended"
	EventError       EventType = "error"

	// synthesized locally when reconnection gives up
	EventConnectError EventType = "connect_error"
)

var (
	ErrUnknownEvent   = errors.New("unknown signal event type")
	ErrMalformedEvent = errors.New("malformed signal event")
	ErrInvalidPayload = errors.New("invalid signal payload")
)

// Envelope is the wire message exchanged with the signaling relay.
// One struct covers every event type; Validate checks the fields
// required for the tagged type before the event is dispatched.
type Envelope struct {
	Type          EventType       `json:"type"`
	CallID        string          `json:"call_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	Title         string          `json:"title,omitempty"`
	PartnershipID string          `json:"partnership_id,omitempty"`
	CreatedByID   string          `json:"created_by_id,omitempty"`
	OK            bool            `json:"ok,omitempty"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses and validates a relay frame at the boundary,
// so the session loop only ever sees well-formed tagged events.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) Validate() error {
	switch e.Type {
	case EventJoin:
		if e.UserID == "" {
			return fmt.Errorf("%w: join requires user_id", ErrMalformedEvent)
		}
	case EventCreateRoom:
		if e.PartnershipID == "" || e.CreatedByID == "" {
			return fmt.Errorf("%w: create-room requires partnership_id and created_by_id", ErrMalformedEvent)
		}
	case EventJoinRoom, EventEndRoom, EventCallEnded:
		if e.CallID == "" {
			return fmt.Errorf("%w: %s requires call_id", ErrMalformedEvent, e.Type)
		}
	case EventSignal:
		if e.From == "" && e.To == "" {
			return fmt.Errorf("%w: signal requires from or to", ErrMalformedEvent)
		}
		if len(e.Data) == 0 {
			return fmt.Errorf("%w: signal requires data", ErrMalformedEvent)
		}
	case EventUserJoined, EventUserLeft:
		if e.UserID == "" {
			return fmt.Errorf("%w: %s requires user_id", ErrMalformedEvent, e.Type)
		}
	case EventCallCreated:
		if e.CallID == "" {
			return fmt.Errorf("%w: call-created requires call_id", ErrMalformedEvent)
		}
	case EventRoomJoined, EventError, EventConnectError:
		// message-only events, nothing mandatory
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, string(e.Type))
	}
	return nil
}

// SignalPayload is the opaque data relayed between two peers: either a
// session description or a single ICE candidate, never both.
type SignalPayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func DecodeSignalPayload(data json.RawMessage) (SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SignalPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if (p.SDP == nil) == (p.Candidate == nil) {
		return SignalPayload{}, fmt.Errorf("%w: exactly one of sdp or candidate expected", ErrInvalidPayload)
	}
	return p, nil
}

func (p SignalPayload) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}
