// Package session implements the debounced face login/logout state machine.
//
// A Manager tracks a single face session: whether a face is in view, whether
// that continuous appearance has already been searched against the identity
// store, the search outcome, and an optional pending registration. All state
// lives behind one mutex which is never held across I/O; callers embed, search
// and store outside the lock and then report results back.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

// ErrNoFaceDetected is returned when a registration is requested without a face in view.
var ErrNoFaceDetected = errors.New("no face detected")

// State is the coarse state of the session.
type State string

const (
	StateNoFace        State = "no_face"
	StateSearchPending State = "search_pending"
	StateRecognized    State = "recognized"
	StateUnknown       State = "unknown"
)

// Registration is a request to store the face currently in view under UserID.
type Registration struct {
	ID          string
	UserID      string
	BBox        facematch.BBox
	RequestedAt time.Time
}

// FaceInfo is a point-in-time copy of the session.
type FaceInfo struct {
	HasFace             bool            `json:"has_face"`
	BBox                *facematch.BBox `json:"bbox,omitempty"`
	LastSeen            *time.Time      `json:"last_seen,omitempty"`
	SearchPerformed     bool            `json:"search_performed"`
	UserID              string          `json:"user_id,omitempty"`
	IsRecognized        bool            `json:"is_recognized"`
	PendingRegistration string          `json:"pending_registration,omitempty"`
	State               State           `json:"state"`
}

// Stats summarizes session configuration and counters.
type Stats struct {
	State           State         `json:"state"`
	Timeout         time.Duration `json:"-"`
	TimeoutSeconds  float64       `json:"timeout_seconds"`
	HasPending      bool          `json:"has_pending_registration"`
	StartedAt       time.Time     `json:"started_at"`
	Logins          int           `json:"logins"`
	Logouts         int           `json:"logouts"`
	Registrations   int           `json:"registrations"`
	CurrentUserID   string        `json:"current_user_id,omitempty"`
	FaceVisibleTime float64       `json:"face_visible_seconds"`
}

type state struct {
	hasFace         bool
	bbox            facematch.BBox
	firstSeen       time.Time
	lastSeen        time.Time
	searchPerformed bool
	userID          string
	isRecognized    bool
	pending         *Registration
}

// Manager owns the face session state.
type Manager struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	timeout time.Duration
	started time.Time
	st      state

	logins        int
	logouts       int
	registrations int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for last-seen timestamps and the timeout law.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a Manager with the given absence timeout.
func NewManager(timeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		clock:   clockwork.NewRealClock(),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.clock.Now()
	return m
}

// Timeout returns the configured absence grace period.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// OnFaceObserved records a face at bbox. It returns true only on the
// transition from no face to face, which also clears search_performed.
func (m *Manager) OnFaceObserved(bbox facematch.BBox) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.st.bbox = bbox
	m.st.lastSeen = now
	if m.st.hasFace {
		return false
	}

	m.st.hasFace = true
	m.st.firstSeen = now
	m.st.searchPerformed = false
	m.st.userID = ""
	m.st.isRecognized = false
	return true
}

// OnFaceAbsent reports a frame without a face. When the last sighting is at
// least timeout old the session is reset and true is returned (logout).
// Inside the grace period, or with no face session, nothing changes.
func (m *Manager) OnFaceAbsent(timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.hasFace {
		return false
	}
	if m.clock.Since(m.st.lastSeen) < timeout {
		return false
	}

	if m.st.isRecognized {
		m.logouts++
	}
	m.st = state{}
	return true
}

// MarkRecognized records a successful search for the face in view.
// It is ignored when no face is in view.
func (m *Manager) MarkRecognized(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.hasFace {
		return
	}
	if !m.st.isRecognized || m.st.userID != userID {
		m.logins++
	}
	m.st.userID = userID
	m.st.isRecognized = true
	m.st.searchPerformed = true
}

// MarkUnknown records a search with no match for the face in view.
// It is ignored when no face is in view.
func (m *Manager) MarkUnknown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.hasFace {
		return
	}
	m.st.userID = ""
	m.st.isRecognized = false
	m.st.searchPerformed = true
}

// ShouldSearch reports whether the face in view still needs an identity search.
func (m *Manager) ShouldSearch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.hasFace && !m.st.searchPerformed
}

// RequestRegistration queues userID for registration using bbox. A nil bbox
// fails with ErrNoFaceDetected. A newer request replaces an older one.
func (m *Manager) RequestRegistration(userID string, bbox *facematch.BBox) (Registration, error) {
	if bbox == nil {
		return Registration{}, ErrNoFaceDetected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestLocked(userID, *bbox), nil
}

// RegisterCurrentFace queues userID for registration using the face
// currently in view, reading and writing the state under one lock.
func (m *Manager) RegisterCurrentFace(userID string) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.hasFace {
		return Registration{}, ErrNoFaceDetected
	}
	return m.requestLocked(userID, m.st.bbox), nil
}

func (m *Manager) requestLocked(userID string, bbox facematch.BBox) Registration {
	reg := Registration{
		ID:          uuid.NewString(),
		UserID:      userID,
		BBox:        bbox,
		RequestedAt: m.clock.Now(),
	}
	m.st.pending = &reg
	return reg
}

// PendingRegistration returns the pending registration, if any, without clearing it.
func (m *Manager) PendingRegistration() (Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.pending == nil {
		return Registration{}, false
	}
	return *m.st.pending, true
}

// CommitPendingRegistration clears the pending registration if it is still
// the request identified by id. It returns false when a newer request has
// replaced it or it was already cleared.
func (m *Manager) CommitPendingRegistration(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.pending == nil || m.st.pending.ID != id {
		return false
	}
	m.st.pending = nil
	m.registrations++
	return true
}

// ClearPendingRegistration drops any pending registration.
func (m *Manager) ClearPendingRegistration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.pending = nil
}

// Reset returns the session to no face, dropping any pending registration.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = state{}
}

// CurrentBBox returns the bbox of the face in view.
func (m *Manager) CurrentBBox() (facematch.BBox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.hasFace {
		return facematch.BBox{}, false
	}
	return m.st.bbox, true
}

// CurrentUserID returns the recognized user in view.
func (m *Manager) CurrentUserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.isRecognized {
		return "", false
	}
	return m.st.userID, true
}

// Snapshot returns a copy of the session.
func (m *Manager) Snapshot() FaceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := FaceInfo{
		HasFace:         m.st.hasFace,
		SearchPerformed: m.st.searchPerformed,
		UserID:          m.st.userID,
		IsRecognized:    m.st.isRecognized,
		State:           m.stateLocked(),
	}
	if m.st.hasFace {
		bbox := m.st.bbox
		lastSeen := m.st.lastSeen
		info.BBox = &bbox
		info.LastSeen = &lastSeen
	}
	if m.st.pending != nil {
		info.PendingRegistration = m.st.pending.UserID
	}
	return info
}

// Stats returns counters and configuration of the session.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		State:          m.stateLocked(),
		Timeout:        m.timeout,
		TimeoutSeconds: m.timeout.Seconds(),
		HasPending:     m.st.pending != nil,
		StartedAt:      m.started,
		Logins:         m.logins,
		Logouts:        m.logouts,
		Registrations:  m.registrations,
	}
	if m.st.isRecognized {
		s.CurrentUserID = m.st.userID
	}
	if m.st.hasFace {
		s.FaceVisibleTime = m.st.lastSeen.Sub(m.st.firstSeen).Seconds()
	}
	return s
}

func (m *Manager) stateLocked() State {
	switch {
	case !m.st.hasFace:
		return StateNoFace
	case !m.st.searchPerformed:
		return StateSearchPending
	case m.st.isRecognized:
		return StateRecognized
	default:
		return StateUnknown
	}
}
