package messaging

import (
	"time"

	"dmsync/internal/imtypes"
)

// TypingState is the remote participant's composing state as seen locally.
type TypingState int

const (
	Idle TypingState = iota
	PeerTyping
)

func (s TypingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PeerTyping:
		return "peer_typing"
	}
	return "unknown"
}

// Scheduler runs fn after d and returns a function that cancels it. The Session's
// scheduler re-enters its event loop before calling fn.
type Scheduler func(d time.Duration, fn func()) (cancel func() bool)

// Presence tracks whether the other participant is typing. Only the peer's
// signals count; the local user's own signals are ignored. A typing-start arms
// an expiry timer measured from the last start, replacing any outstanding one.
type Presence struct {
	selfID   string
	timeout  time.Duration
	schedule Scheduler
	onChange func(TypingState)

	state  TypingState
	gen    uint64
	cancel func() bool
}

// NewPresence returns a state machine in Idle. onChange may be nil.
func NewPresence(selfID string, timeout time.Duration, schedule Scheduler, onChange func(TypingState)) *Presence {
	return &Presence{
		selfID:   selfID,
		timeout:  timeout,
		schedule: schedule,
		onChange: onChange,
	}
}

// State returns the current state.
func (p *Presence) State() TypingState { return p.state }

// Observe feeds one typing signal into the machine.
func (p *Presence) Observe(sig *imtypes.TypingSignal) {
	if sig == nil || sig.UserID == p.selfID {
		return
	}
	if sig.IsTyping {
		p.arm(p.timeout)
		return
	}
	p.stopTimer()
	p.set(Idle)
}

// Hold forces PeerTyping for d regardless of inbound signals. Used while the
// scripted agent "composes" its reply.
func (p *Presence) Hold(d time.Duration) {
	p.arm(d)
}

// Reset returns to Idle and discards any pending expiry.
func (p *Presence) Reset() {
	p.stopTimer()
	p.set(Idle)
}

func (p *Presence) arm(d time.Duration) {
	p.stopTimer()
	p.gen++
	gen := p.gen
	p.cancel = p.schedule(d, func() { p.expire(gen) })
	p.set(PeerTyping)
}

// expire is the timer callback; a callback from a replaced timer is ignored.
func (p *Presence) expire(gen uint64) {
	if gen != p.gen {
		return
	}
	p.cancel = nil
	p.set(Idle)
}

func (p *Presence) stopTimer() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	// invalidate a callback that already fired but has not run yet
	p.gen++
}

func (p *Presence) set(s TypingState) {
	if p.state == s {
		return
	}
	p.state = s
	if p.onChange != nil {
		p.onChange(s)
	}
}
