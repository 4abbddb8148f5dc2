package domain

import "time"

type CallStatus string

const (
	CallStatusNone         CallStatus = "none"
	CallStatusCreating     CallStatus = "creating"
	CallStatusWaiting      CallStatus = "waiting"
	CallStatusConnecting   CallStatus = "connecting"
	CallStatusConnected    CallStatus = "connected"
	CallStatusError        CallStatus = "error"
	CallStatusDisconnected CallStatus = "disconnected"
)

// Idle reports whether a new call may be started from this status.
// Error and disconnected fall back to idle so the user can retry.
func (s CallStatus) Idle() bool {
	return s == CallStatusNone || s == CallStatusError || s == CallStatusDisconnected
}

// CallSession is one active or pending call owned by the local user.
// The ID is assigned by the signaling relay on creation.
type CallSession struct {
	ID            string
	Title         string
	PartnershipID string
	CreatedByID   string
	StartedAt     time.Time
}

func NewCallSession(id, title, partnershipID, createdByID string) *CallSession {
	return &CallSession{
		ID:            id,
		Title:         title,
		PartnershipID: partnershipID,
		CreatedByID:   createdByID,
		StartedAt:     time.Now().UTC(),
	}
}

type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "pending"
	ParticipantStatusConnected ParticipantStatus = "connected"
)

// Participant is a snapshot of one remote peer in the current call.
type Participant struct {
	UserID   string            `json:"user_id"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
}
