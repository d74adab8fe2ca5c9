package monitor

import (
	"context"
	"strings"
	"sync"
	"time"
)

type State int32

const (
	Active State = iota
	Matched
	Stopped
	Expired
	Replaced
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Matched:
		return "matched"
	case Stopped:
		return "stopped"
	case Expired:
		return "expired"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session waits for one inbound payment to one owner. It leaves Active
// exactly once and never re-enters it.
type Session struct {
	ID               string
	OwnerID          string
	BaselineRecordID uint64
	// BaselineKnown is false when the baseline query failed; only
	// StartedAt is then used to tell new records from old ones.
	BaselineKnown bool
	StartedAt     time.Time

	mu     sync.Mutex
	state  State
	match  *Record
	endAt  time.Time
	done   chan struct{}
	cancel context.CancelFunc
}

// SessionInfo is a read-only copy of a session.
type SessionInfo struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	BaselineRecordID uint64    `json:"baseline_record_id"`
	BaselineKnown    bool      `json:"baseline_known"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	State            State     `json:"state"`
	Match            *Record   `json:"match,omitempty"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Active() bool { return s.State() == Active }

// Done is closed when the session leaves Active.
func (s *Session) Done() <-chan struct{} { return s.done }

// Match returns the matched record once the session is Matched.
func (s *Session) Match() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil {
		return Record{}, false
	}
	return *s.match, true
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		BaselineRecordID: s.BaselineRecordID,
		BaselineKnown:    s.BaselineKnown,
		StartedAt:        s.StartedAt,
		EndedAt:          s.endAt,
		State:            s.state,
	}
	if s.match != nil {
		m := *s.match
		info.Match = &m
	}
	return info
}

// finish moves an active session to state. It is the compare-and-swap every
// path goes through; only the caller that gets true may act on the end.
func (s *Session) finish(state State, rec *Record, at time.Time) bool {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.match = rec
	s.endAt = at
	s.mu.Unlock()

	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

// newer reports whether r completed after the session started. Either
// signal is enough; ids and clocks may disagree slightly.
func (s *Session) newer(r Record) bool {
	if s.BaselineKnown && r.ID > s.BaselineRecordID {
		return true
	}
	return r.settledAt().After(s.StartedAt)
}

func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}
