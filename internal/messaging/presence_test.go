package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dmsync/internal/imtypes"
)

func typing(userID string, on bool) *imtypes.TypingSignal {
	return &imtypes.TypingSignal{ConversationKey: "alice:bob", UserID: userID, IsTyping: on, ObservedAt: time.Now()}
}

func newTestPresence(clock *manualClock) (*Presence, *[]TypingState) {
	var changes []TypingState
	p := NewPresence("alice", 3*time.Second, clock.AfterFunc, func(s TypingState) { changes = append(changes, s) })
	return p, &changes
}

func TestPresence_ExpiresAfterWindowAndNotBefore(t *testing.T) {
	clock := &manualClock{}
	p, _ := newTestPresence(clock)

	p.Observe(typing("bob", true))
	assert.Equal(t, PeerTyping, p.State())

	clock.Advance(2999 * time.Millisecond)
	assert.Equal(t, PeerTyping, p.State())

	clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, p.State())
}

func TestPresence_RepeatedStartResetsTimer(t *testing.T) {
	clock := &manualClock{}
	p, changes := newTestPresence(clock)

	p.Observe(typing("bob", true))
	clock.Advance(2 * time.Second)
	p.Observe(typing("bob", true))
	clock.Advance(2 * time.Second)
	assert.Equal(t, PeerTyping, p.State(), "window is measured from the last start")

	clock.Advance(time.Second)
	assert.Equal(t, Idle, p.State())
	assert.Equal(t, []TypingState{PeerTyping, Idle}, *changes)
	assert.Equal(t, 0, clock.pending())
}

func TestPresence_StopBeforeExpiry(t *testing.T) {
	clock := &manualClock{}
	p, _ := newTestPresence(clock)

	p.Observe(typing("bob", true))
	p.Observe(typing("bob", false))
	assert.Equal(t, Idle, p.State())
	assert.Equal(t, 0, clock.pending())
}

func TestPresence_IgnoresOwnSignals(t *testing.T) {
	clock := &manualClock{}
	p, changes := newTestPresence(clock)

	p.Observe(typing("alice", true))
	p.Observe(nil)
	assert.Equal(t, Idle, p.State())
	assert.Empty(t, *changes)
}

func TestPresence_StaleExpiryIgnored(t *testing.T) {
	var fired []func()
	schedule := func(d time.Duration, fn func()) func() bool {
		fired = append(fired, fn)
		// stop reports failure, as if the timer had already fired
		return func() bool { return false }
	}
	p := NewPresence("alice", 3*time.Second, schedule, nil)

	p.Observe(typing("bob", true))
	p.Observe(typing("bob", true))

	fired[0]()
	assert.Equal(t, PeerTyping, p.State(), "expiry of a replaced timer is a no-op")
	fired[1]()
	assert.Equal(t, Idle, p.State())
}

func TestPresence_HoldAndReset(t *testing.T) {
	clock := &manualClock{}
	p, _ := newTestPresence(clock)

	p.Hold(1500 * time.Millisecond)
	assert.Equal(t, PeerTyping, p.State())
	p.Reset()
	assert.Equal(t, Idle, p.State())
	assert.Equal(t, 0, clock.pending())
	assert.Equal(t, "idle", p.State().String())
}
