package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustengine/backend/internal/core"
)

func TestWithCreatesOnFirstUse(t *testing.T) {
	s := NewStore()

	err := s.With("sess-1", func(st *State) error {
		assert.Equal(t, "sess-1", st.SessionID)
		assert.Equal(t, core.PhaseNoRequirement, st.Phase)
		st.SubjectID = "user-1"
		return nil
	})
	require.NoError(t, err)

	snap, ok := s.Snapshot("sess-1")
	require.True(t, ok)
	assert.Equal(t, "user-1", snap.SubjectID)
	assert.Equal(t, 1, s.Count())
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.With("sess-1", func(st *State) error {
		st.Requirement = &core.MfaRequirement{SessionID: "sess-1", Level: core.LevelPasswordOTP}
		st.Challenge = &IssuedChallenge{ChallengeID: "ch-1"}
		return nil
	}))

	snap, ok := s.Snapshot("sess-1")
	require.True(t, ok)
	snap.Requirement.Level = core.LevelBlocked
	snap.Challenge.Consumed = true

	live, _ := s.Snapshot("sess-1")
	assert.Equal(t, core.LevelPasswordOTP, live.Requirement.Level)
	assert.False(t, live.Challenge.Consumed)
}

func TestConcurrentMutationSerialized(t *testing.T) {
	s := NewStore()
	const goroutines = 64
	const iterations = 50

	// Each goroutine alternates between installing a fresh challenge and
	// consuming the outstanding one. Under per-session serialization there
	// is never more than one unconsumed challenge at any instant.
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				_ = s.With("hot-session", func(st *State) error {
					if st.Challenge != nil && !st.Challenge.Consumed {
						st.Challenge.Consumed = true
						st.Phase = core.PhaseSuperseded
					} else {
						st.Challenge = &IssuedChallenge{
							ChallengeID: "ch",
							ExpiresAt:   time.Now().Add(time.Minute),
						}
						st.Phase = core.PhaseChallengeIssued
					}
					// Invariant check while holding the lock.
					outstanding := 0
					if st.Challenge != nil && !st.Challenge.Consumed {
						outstanding++
					}
					if outstanding > 1 {
						t.Errorf("more than one outstanding challenge")
					}
					return nil
				})
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Count())
}

func TestSweepDropsIdleSessions(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.With("old", func(st *State) error {
		st.UpdatedAt = time.Now().Add(-2 * time.Hour)
		return nil
	}))
	require.NoError(t, s.With("fresh", func(st *State) error {
		st.UpdatedAt = time.Now()
		return nil
	}))

	swept := s.Sweep(time.Hour)

	assert.Equal(t, 1, swept)
	_, ok := s.Snapshot("old")
	assert.False(t, ok)
	_, ok = s.Snapshot("fresh")
	assert.True(t, ok)
}

func TestSweepReclaimsUntouchedSessions(t *testing.T) {
	s := NewStore()

	// Entries created by an error path never stamp UpdatedAt; the sweeper
	// must still reclaim them regardless of the idle window.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.With(fmt.Sprintf("garbage-%d", i), func(st *State) error {
			return nil
		}))
	}
	require.Equal(t, 10, s.Count())

	swept := s.Sweep(time.Hour)

	assert.Equal(t, 10, swept)
	assert.Zero(t, s.Count())
}

func TestDelete(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.With("gone", func(st *State) error { return nil }))

	s.Delete("gone")

	_, ok := s.Snapshot("gone")
	assert.False(t, ok)
	assert.Zero(t, s.Count())
}

func TestChallengeExpiry(t *testing.T) {
	now := time.Now()
	ch := &IssuedChallenge{ExpiresAt: now.Add(300 * time.Second)}

	assert.False(t, ch.Expired(now))
	assert.False(t, ch.Expired(now.Add(300*time.Second)))
	assert.True(t, ch.Expired(now.Add(301*time.Second)))
}
