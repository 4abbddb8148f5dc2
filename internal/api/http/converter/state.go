package converter

import (
	"time"

	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/internal/session"
)

type CallResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	PartnershipID string    `json:"partnership_id,omitempty"`
	CreatedByID   string    `json:"created_by_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

type StateResponse struct {
	Status           domain.CallStatus    `json:"status"`
	Call             *CallResponse        `json:"call,omitempty"`
	Incoming         *CallResponse        `json:"incoming,omitempty"`
	Participants     []domain.Participant `json:"participants"`
	ParticipantCount int                  `json:"participant_count"`
	MicEnabled       bool                 `json:"mic_enabled"`
	VideoEnabled     bool                 `json:"video_enabled"`
	Notices          []session.Notice     `json:"notices"`
}

func StateToApi(s session.State) *StateResponse {
	resp := &StateResponse{
		Status:           s.Status,
		Participants:     s.Participants,
		ParticipantCount: s.ParticipantCount,
		MicEnabled:       s.MicEnabled,
		VideoEnabled:     s.VideoEnabled,
		Notices:          s.Notices,
	}

	if s.Call != nil {
		resp.Call = callToApi(s.Call)
	}
	if s.Incoming != nil {
		resp.Incoming = callToApi(s.Incoming)
	}

	return resp
}

func callToApi(call *domain.CallSession) *CallResponse {
	return &CallResponse{
		ID:            call.ID,
		Title:         call.Title,
		PartnershipID: call.PartnershipID,
		CreatedByID:   call.CreatedByID,
		StartedAt:     call.StartedAt,
	}
}
