package humy

import (
	"sync"
	"time"
)

const (
	// DefaultTypingWindow is how long an inbound typing signal stays on.
	DefaultTypingWindow = 1500 * time.Millisecond
	// DefaultTypingIdle is the keystroke pause after which "stopped
	// typing" is sent.
	DefaultTypingIdle = 1 * time.Second
)

// PresenceState is what the conversation header shows.
type PresenceState struct {
	Typing       bool
	Participants int
}

// ============================================================================
// Inbound
// ============================================================================

// Presence tracks the remote typing flag and the participant count.
type Presence struct {
	window time.Duration

	mu     sync.Mutex
	state  PresenceState
	timer  *time.Timer
	gen    uint64
	closed bool

	onChange listeners[PresenceState]
}

// NewPresence creates a tracker whose typing flag expires after window.
func NewPresence(window time.Duration) *Presence {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Presence{window: window}
}

// OnChange registers a handler for state changes.
func (p *Presence) OnChange(h func(PresenceState)) func() { return p.onChange.add(h) }

// HandleTyping applies an inbound typing signal. A true signal switches
// the flag on and re-arms its expiry; false switches it off immediately.
func (p *Presence) HandleTyping(isTyping bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if isTyping {
		p.timer = time.AfterFunc(p.window, func() { p.expire(gen) })
	}
	changed := p.state.Typing != isTyping
	p.state.Typing = isTyping
	st := p.state
	p.mu.Unlock()

	if changed {
		p.onChange.emit(st)
	}
}

// HandleCount overwrites the participant count.
func (p *Presence) HandleCount(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	changed := p.state.Participants != n
	p.state.Participants = n
	st := p.state
	p.mu.Unlock()

	if changed {
		p.onChange.emit(st)
	}
}

// State returns the current presence.
func (p *Presence) State() PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Typing reports whether someone is typing.
func (p *Presence) Typing() bool { return p.State().Typing }

// Participants returns the last reported participant count.
func (p *Presence) Participants() int { return p.State().Participants }

// Close cancels the pending expiry.
func (p *Presence) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Presence) expire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.closed || !p.state.Typing {
		p.mu.Unlock()
		return
	}
	p.state.Typing = false
	p.timer = nil
	st := p.state
	p.mu.Unlock()

	p.onChange.emit(st)
}

// ============================================================================
// Outbound
// ============================================================================

// TypingThrottle turns keystrokes into at most one "typing" signal per
// burst, followed by "stopped" after the idle period.
type TypingThrottle struct {
	idle time.Duration
	send func(typing bool) error

	mu      sync.Mutex
	active  bool
	stopped bool
	timer   *time.Timer
	gen     uint64
}

// NewTypingThrottle creates a throttle that reports through send.
func NewTypingThrottle(idle time.Duration, send func(typing bool) error) *TypingThrottle {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingThrottle{idle: idle, send: send}
}

// Keystroke records one keystroke. The first keystroke of a burst sends
// typing=true; every keystroke pushes the typing=false signal back.
// After Stop it returns ErrStopped and sends nothing.
func (t *TypingThrottle) Keystroke() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	start := !t.active
	t.mu.Unlock()

	if start {
		if err := t.send(true); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	t.active = true
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.idleFired(gen) })
	return nil
}

// Active reports whether a burst is in progress.
func (t *TypingThrottle) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Stop cancels the pending signal without sending it. The throttle cannot
// be restarted.
func (t *TypingThrottle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.gen++
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingThrottle) idleFired(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	_ = t.send(false)
}
