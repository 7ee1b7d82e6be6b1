package monitor

import (
	"sync"
	"time"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// State is the monitor loop's externally visible state.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateStreaming    State = "STREAMING"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
)

// Stats collects run counters for the status API. Safe for concurrent use:
// the loop writes, the API reads.
type Stats struct {
	mu sync.RWMutex

	state     State
	startedAt time.Time

	lastPunch   *models.PunchEvent
	lastPunchAt time.Time
	lastError   string

	punches         uint64
	idleTicks       uint64
	reconnects      uint64
	delivered       uint64
	rejected        uint64
	transportFailed uint64
	authFailed      uint64
	observed        uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	State       State              `json:"state"`
	StartedAt   time.Time          `json:"startedAt"`
	LastPunch   *models.PunchEvent `json:"lastPunch,omitempty"`
	LastPunchAt *time.Time         `json:"lastPunchAt,omitempty"`
	LastError   string             `json:"lastError,omitempty"`
	Counters    map[string]uint64  `json:"counters"`
}

// NewStats creates an idle stats collector.
func NewStats() *Stats {
	return &Stats{state: StateIdle}
}

func (s *Stats) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stats) setStarted(at time.Time) {
	s.mu.Lock()
	s.startedAt = at
	s.mu.Unlock()
}

func (s *Stats) observeIdleTick() {
	s.mu.Lock()
	s.idleTicks++
	s.mu.Unlock()
}

func (s *Stats) observeReconnect() {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
}

func (s *Stats) observeError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Stats) observePunch(ev *models.PunchEvent, at time.Time) {
	s.mu.Lock()
	s.punches++
	s.lastPunch = ev
	s.lastPunchAt = at
	s.mu.Unlock()
}

func (s *Stats) observeOutcome(kind models.OutcomeKind) {
	s.mu.Lock()
	switch kind {
	case models.OutcomeDelivered:
		s.delivered++
	case models.OutcomeRejected:
		s.rejected++
	case models.OutcomeTransportFailed:
		s.transportFailed++
	case models.OutcomeAuthFailed:
		s.authFailed++
	case models.OutcomeObserved:
		s.observed++
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:     s.state,
		StartedAt: s.startedAt,
		LastPunch: s.lastPunch,
		LastError: s.lastError,
		Counters: map[string]uint64{
			"punches":         s.punches,
			"idleTicks":       s.idleTicks,
			"reconnects":      s.reconnects,
			"delivered":       s.delivered,
			"rejected":        s.rejected,
			"transportFailed": s.transportFailed,
			"authFailed":      s.authFailed,
			"observed":        s.observed,
		},
	}
	if !s.lastPunchAt.IsZero() {
		at := s.lastPunchAt
		snap.LastPunchAt = &at
	}

	return snap
}
