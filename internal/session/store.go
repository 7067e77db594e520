// Package session owns the mutable per-session authentication state: the
// latest MFA requirement, the outstanding challenge, and the verified flag.
// All reads and mutations of one session are serialized through its own
// lock, so a racing re-evaluate and verify can never leave two outstanding
// challenges for the same session. Cross-session operations need no
// coordination.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trustengine/backend/internal/core"
)

// IssuedChallenge is the stored (server-side) form of a challenge. Only the
// bcrypt hash of the OTP is retained; the plaintext code leaves the process
// exactly once, inside the issuance descriptor.
type IssuedChallenge struct {
	ChallengeID         string
	RequiredFactors     []core.Factor
	OTPHash             []byte
	DeviceProofRequired bool
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Consumed            bool
}

// Expired reports whether the challenge TTL has elapsed.
func (c *IssuedChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// State is the composite per-session record. It must only be accessed inside
// Store.With, which holds the session's lock.
type State struct {
	SessionID   string
	SubjectID   string
	Requirement *core.MfaRequirement
	Challenge   *IssuedChallenge
	Phase       core.ChallengePhase
	Verified    bool
	UpdatedAt   time.Time
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Store is the arena of session states indexed by session ID. The outer
// RWMutex guards the map; each entry carries its own lock for serialized
// per-session mutation.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty session arena.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// With runs fn with exclusive access to the session's state, creating the
// state on first use. Mutations made by fn are retained.
func (s *Store) With(sessionID string, fn func(*State) error) error {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		e, ok = s.entries[sessionID]
		if !ok {
			e = &entry{state: State{
				SessionID: sessionID,
				Phase:     core.PhaseNoRequirement,
			}}
			s.entries[sessionID] = e
		}
		s.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.state)
}

// Snapshot returns a copy of the session's state, or false if the session
// does not exist. The copy shares no mutable structure with the live state.
func (s *Store) Snapshot(sessionID string) (State, bool) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.state
	if e.state.Requirement != nil {
		req := *e.state.Requirement
		snap.Requirement = &req
	}
	if e.state.Challenge != nil {
		ch := *e.state.Challenge
		snap.Challenge = &ch
	}
	return snap, true
}

// Delete removes a session's state entirely (session ended or expired).
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
}

// Count returns the number of tracked sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops sessions idle longer than maxIdle. A zero UpdatedAt marks an
// entry that was created but never carried a requirement or challenge, such
// as a verify against an unknown session ID; those are always reclaimable.
// Expiry correctness never depends on the sweeper; it exists for memory
// hygiene only.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	swept := 0
	for _, id := range ids {
		s.mu.RLock()
		e, ok := s.entries[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		idle := e.state.UpdatedAt.IsZero() || e.state.UpdatedAt.Before(cutoff)
		e.mu.Unlock()

		if idle {
			s.Delete(id)
			swept++
		}
	}

	if swept > 0 {
		slog.Info("session sweep", "swept", swept, "active", s.Count())
	}
	return swept
}

// StartSweeper launches a background goroutine that sweeps idle sessions on
// the given interval until stop is closed.
func (s *Store) StartSweeper(interval, maxIdle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}
