package peer

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/lib/logger/sl"
)

var ErrPeerNotFound = errors.New("peer: not found")

// Manager is the roster of remote participants. It guarantees at most
// one connection per user id for the lifetime of a call: creation is
// guarded by a pending flag so racing user-joined and incoming-signal
// events cannot build two peer objects for the same remote user. The
// first request wins; the rest are dropped until the pending state
// clears.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*Conn
	pending map[string]bool

	newConn func(userID string) (*Conn, error)
	log     *slog.Logger
}

func NewManager(newConn func(userID string) (*Conn, error), log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		conns:   make(map[string]*Conn),
		pending: make(map[string]bool),
		newConn: newConn,
		log:     log,
	}
}

// Ensure returns the connection for userID, creating it when absent.
// A nil connection with created=false means a creation for that user is
// already pending and this request was dropped.
func (m *Manager) Ensure(userID string) (conn *Conn, created bool, err error) {
	m.mu.Lock()
	if existing, ok := m.conns[userID]; ok {
		m.mu.Unlock()
		return existing, false, nil
	}
	if m.pending[userID] {
		m.mu.Unlock()
		m.log.Debug("duplicate peer creation dropped", slog.String("user_id", userID))
		return nil, false, nil
	}
	m.pending[userID] = true
	m.mu.Unlock()

	conn, err = m.newConn(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.pending, userID)
		m.log.Error("peer creation failed", slog.String("user_id", userID), sl.Err(err))
		return nil, false, err
	}
	m.conns[userID] = conn
	return conn, true, nil
}

// MarkEstablished clears the pending flag once the first signal exchange
// or the remote stream has succeeded for userID.
func (m *Manager) MarkEstablished(userID string) {
	m.mu.Lock()
	delete(m.pending, userID)
	m.mu.Unlock()
}

func (m *Manager) Get(userID string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[userID]
}

// Remove destroys the peer object for userID, if any.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	conn := m.conns[userID]
	delete(m.conns, userID)
	delete(m.pending, userID)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Warn("peer close failed", slog.String("user_id", userID), sl.Err(err))
		}
	}
}

// CloseAll destroys every peer object. Runs synchronously; after it
// returns no peer outlives the call.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Conn)
	m.pending = make(map[string]bool)
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			m.log.Warn("peer close failed", slog.String("user_id", conn.UserID()), sl.Err(err))
		}
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// StreamingCount reports how many peers have delivered a remote stream.
func (m *Manager) StreamingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, conn := range m.conns {
		if conn.HasRemoteStream() {
			n++
		}
	}
	return n
}

// FirstStreaming returns any peer that has a remote stream, used as the
// default remote audio source for the assist recorder.
func (m *Manager) FirstStreaming() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.conns {
		if conn.HasRemoteStream() {
			return conn
		}
	}
	return nil
}

func (m *Manager) Participants() []domain.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Participant, 0, len(m.conns))
	for userID, conn := range m.conns {
		status := domain.ParticipantStatusPending
		if conn.HasRemoteStream() {
			status = domain.ParticipantStatusConnected
		}
		out = append(out, domain.Participant{
			UserID:   userID,
			Status:   status,
			JoinedAt: conn.JoinedAt(),
		})
	}
	return out
}
