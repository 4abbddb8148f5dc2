package assist

import (
	"github.com/partnerly/callmesh/internal/session"
)

// SessionSources resolves audio taps from the live call session: the
// local source taps the acquired stream, the peer source taps whichever
// remote participant is streaming.
type SessionSources struct {
	call *session.Session
}

func NewSessionSources(call *session.Session) *SessionSources {
	return &SessionSources{call: call}
}

func (p *SessionSources) LocalTap() (Tap, error) {
	stream := p.call.Media().Stream()
	if stream == nil {
		return Tap{}, ErrNoAudioSource
	}
	ch, cancel := stream.TapAudio()
	return Tap{C: ch, Cancel: cancel}, nil
}

func (p *SessionSources) PeerTap() (Tap, error) {
	conn := p.call.Peers().FirstStreaming()
	if conn == nil {
		return Tap{}, ErrNoAudioSource
	}
	ch, cancel := conn.TapAudio()
	return Tap{C: ch, Cancel: cancel}, nil
}
