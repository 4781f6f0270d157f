package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/finance-bot/internal/ledger"
	"github.com/zombor/finance-bot/internal/metrics"
)

// DefaultIdleTimeout is how long a session may sit untouched before it is
// treated as cancelled
const DefaultIdleTimeout = 10 * time.Minute

// Machine owns every user's receipt session. The mutex guards map access
// only; callers serialize one user's events with a Locker.
type Machine struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	idle     time.Duration
	now      func() time.Time
}

// NewMachine creates a Machine with the given idle timeout
func NewMachine(idle time.Duration) *Machine {
	return NewMachineWithClock(idle, time.Now)
}

// NewMachineWithClock creates a Machine with a custom clock for testing
func NewMachineWithClock(idle time.Duration, now func() time.Time) *Machine {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Machine{
		sessions: make(map[int64]*Session),
		idle:     idle,
		now:      now,
	}
}

// Begin starts a session for a freshly read receipt, replacing whatever the
// user had open. The replaced session is returned so its photo can be
// cleaned up.
func (m *Machine) Begin(userID int64, receipt ledger.Receipt, photo string) (previous *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if old, ok := m.sessions[userID]; ok {
		p := old.clone()
		previous = &p
	} else {
		metrics.SessionsActive.Inc()
	}

	m.sessions[userID] = &Session{
		UserID:    userID,
		State:     AwaitingMode,
		Receipt:   receipt,
		Photo:     photo,
		StartedAt: now,
		UpdatedAt: now,
	}
	return previous
}

// SelectMode builds the candidate transactions for mode. It only applies in
// AwaitingMode; selecting again after that is a no-op.
func (m *Machine) SelectMode(userID int64, mode Mode) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.current(userID)
	if err != nil {
		return s.copyOrZero(), err
	}
	if s.State != AwaitingMode {
		return m.invalid(s, "select mode")
	}

	now := m.now()
	candidates, err := Candidates(userID, s.Receipt, mode, s.Photo, now)
	if err != nil {
		return s.clone(), err
	}

	s.Mode = mode
	s.Candidates = candidates
	s.State = AwaitingConfirmation
	s.UpdatedAt = now
	return s.clone(), nil
}

// Confirm ends the session and returns it with the candidates to store
func (m *Machine) Confirm(userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.current(userID)
	if err != nil {
		return s.copyOrZero(), err
	}
	if s.State != AwaitingConfirmation {
		return m.invalid(s, "confirm")
	}

	m.remove(userID)
	return s.clone(), nil
}

// Reopen puts a confirmed session back in AwaitingConfirmation holding only
// the candidates that were not stored, so the user can confirm again. It does
// nothing when there is nothing left or the user already has a new session.
func (m *Machine) Reopen(confirmed Session, unsaved []ledger.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(unsaved) == 0 {
		return false
	}
	if _, ok := m.sessions[confirmed.UserID]; ok {
		return false
	}

	s := confirmed.clone()
	s.State = AwaitingConfirmation
	s.Candidates = append([]ledger.Transaction(nil), unsaved...)
	s.UpdatedAt = m.now()
	m.sessions[s.UserID] = &s
	metrics.SessionsActive.Inc()
	return true
}

// Cancel discards the user's session
func (m *Machine) Cancel(userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.current(userID)
	if err != nil {
		return s.copyOrZero(), err
	}

	m.remove(userID)
	return s.clone(), nil
}

// Get returns a copy of the user's open session
func (m *Machine) Get(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.current(userID)
	if err != nil {
		return Session{}, false
	}
	return s.clone(), true
}

// Sweep drops every idle session and returns them
func (m *Machine) Sweep() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Session
	now := m.now()
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > m.idle {
			expired = append(expired, s.clone())
			m.remove(id)
		}
	}
	return expired
}

// Active is the number of open sessions, idle ones included
func (m *Machine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// current returns the user's live session. An idle session is removed and
// returned alongside ErrExpired.
func (m *Machine) current(userID int64) (*Session, error) {
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrInvalidTransition
	}
	if m.now().Sub(s.UpdatedAt) > m.idle {
		slog.Debug("receipt session expired", "user_id", userID, "state", s.State)
		m.remove(userID)
		return s, ErrExpired
	}
	return s, nil
}

func (m *Machine) invalid(s *Session, event string) (Session, error) {
	slog.Debug("ignoring receipt event", "user_id", s.UserID, "event", event, "state", s.State)
	return s.clone(), ErrInvalidTransition
}

func (m *Machine) remove(userID int64) {
	if _, ok := m.sessions[userID]; ok {
		delete(m.sessions, userID)
		metrics.SessionsActive.Dec()
	}
}

func (s *Session) copyOrZero() Session {
	if s == nil {
		return Session{}
	}
	return s.clone()
}
