package humy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig tunes reconnection and heartbeat.
type RealtimeConfig struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HeartbeatInterval  time.Duration
	// MaxReconnectAttempts stops retrying after this many consecutive
	// failures; 0 retries forever.
	MaxReconnectAttempts int
}

// Defaults applied to zero RealtimeConfig fields.
const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultHeartbeatInterval  = 25 * time.Second
)

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// ReconnectEvent is reported each time a retry is scheduled.
type ReconnectEvent struct {
	Attempt int
	Delay   time.Duration
}

// ============================================================================
// Backoff
// ============================================================================

// backoff yields min(max, base*2^attempt) without jitter.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (b *backoff) next() time.Duration {
	d := b.max
	if b.attempt < 62 {
		if v := b.base << uint(b.attempt); v > 0 && v < b.max {
			d = v
		}
	}
	b.attempt++
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}

// ============================================================================
// Supervisor
// ============================================================================

// SupervisorConfig describes one supervised socket.
type SupervisorConfig struct {
	// Name prefixes log lines, e.g. "chat" or "notify".
	Name string
	// URL builds the socket URL for a token, which may be "".
	URL      func(token string) string
	Dialer   Dialer
	Tokens   TokenSource
	Realtime RealtimeConfig
	Logger   zerolog.Logger
}

// Supervisor keeps at most one live Connection open, reconnecting with
// exponential backoff until stopped or refused for authentication.
type Supervisor struct {
	cfg SupervisorConfig
	log zerolog.Logger

	mu       sync.Mutex
	state    ConnectionState
	gen      uint64
	conn     *Connection
	backoff  backoff
	retry    *time.Timer
	stopBeat chan struct{}
	hadToken bool
	stopped  bool
	err      error
	ctx      context.Context
	cancel   context.CancelFunc

	onState     listeners[ConnectionState]
	onFrame     listeners[[]byte]
	onReconnect listeners[ReconnectEvent]
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	cfg.Realtime.defaults()
	if cfg.Tokens == nil {
		cfg.Tokens = StaticToken("")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebSocketDialer{}
	}
	if cfg.Name == "" {
		cfg.Name = "realtime"
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateIdle,
		backoff: backoff{
			base: cfg.Realtime.ReconnectBaseDelay,
			max:  cfg.Realtime.ReconnectMaxDelay,
		},
	}
}

// OnState registers a handler for state transitions.
func (s *Supervisor) OnState(h func(ConnectionState)) func() { return s.onState.add(h) }

// OnFrame registers a handler for raw inbound frames of the live connection.
func (s *Supervisor) OnFrame(h func([]byte)) func() { return s.onFrame.add(h) }

// OnReconnecting registers a handler called whenever a retry is scheduled.
func (s *Supervisor) OnReconnecting(h func(ReconnectEvent)) func() { return s.onReconnect.add(h) }

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the supervisor went terminal, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// NeedsAuth reports whether the supervisor stopped because it has no
// usable credentials.
func (s *Supervisor) NeedsAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosedTerminal && s.err == ErrAuthRequired
}

// Start begins connecting. It is a no-op unless the supervisor is idle.
// Cancelling ctx stops the supervisor as Stop does.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateIdle || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	done := s.ctx.Done()
	s.mu.Unlock()

	go func() {
		<-done
		s.Stop()
	}()
	s.connect()
}

// cancelledLocked reports whether the Start context is done.
func (s *Supervisor) cancelledLocked() bool {
	return s.ctx != nil && s.ctx.Err() != nil
}

// Stop cancels pending retries and the heartbeat, closes the live
// connection and moves to closed_terminal. It is safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.state
	s.state = StateClosedTerminal
	if s.err == nil {
		s.err = ErrStopped
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if prev != StateClosedTerminal {
		s.log.Debug().Msgf("[%s] stopped", s.cfg.Name)
		s.onState.emit(StateClosedTerminal)
	}
}

// Send marshals v and writes it on the live connection. It returns
// ErrNotReady unless the state is open.
func (s *Supervisor) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotReady
	}
	return conn.Send(data)
}

func (s *Supervisor) connect() {
	s.mu.Lock()
	if s.stopped || s.state == StateClosedTerminal {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.retry = nil
	ctx := s.ctx
	s.mu.Unlock()

	token := s.cfg.Tokens.Token()
	if token == "" {
		s.log.Warn().Msgf("[%s] no access token, connecting without one", s.cfg.Name)
	}

	conn := NewConnection(ConnectionEvents{
		OnOpen:    func() { s.handleOpen(gen) },
		OnMessage: func(data []byte) { s.handleFrame(gen, data) },
		OnClose:   func(code int, err error) { s.handleClose(gen, code, err) },
	}, s.log)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.hadToken = token != ""
	s.state = StateConnecting
	s.mu.Unlock()
	s.onState.emit(StateConnecting)

	url := s.cfg.URL(token)
	go func() {
		if err := conn.Open(ctx, s.cfg.Dialer, url); err != nil {
			s.handleClose(gen, closeCode(err), err)
		}
	}()
}

func (s *Supervisor) handleOpen(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.err = nil
	s.backoff.reset()
	s.stopHeartbeatLocked()
	stop := make(chan struct{})
	s.stopBeat = stop
	conn := s.conn
	s.mu.Unlock()

	s.log.Info().Msgf("[%s] connected", s.cfg.Name)
	s.onState.emit(StateOpen)

	s.ping(conn)
	go s.heartbeat(conn, stop)
}

func (s *Supervisor) handleFrame(gen uint64, data []byte) {
	s.mu.Lock()
	current := gen == s.gen && !s.stopped
	s.mu.Unlock()
	if !current {
		return
	}
	s.onFrame.emit(data)
}

func (s *Supervisor) handleClose(gen uint64, code int, err error) {
	s.mu.Lock()
	if gen != s.gen || s.stopped || s.state == StateClosedTerminal {
		s.mu.Unlock()
		return
	}
	if s.cancelledLocked() {
		s.mu.Unlock()
		s.Stop()
		return
	}
	s.stopHeartbeatLocked()
	s.conn = nil

	if code == CloseUnauthorized || !s.hadToken {
		s.state = StateClosedTerminal
		s.err = ErrAuthRequired
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		s.log.Warn().Int("code", code).Err(err).Msgf("[%s] authentication required, not reconnecting", s.cfg.Name)
		s.onState.emit(StateClosedTerminal)
		return
	}

	limit := s.cfg.Realtime.MaxReconnectAttempts
	if limit > 0 && s.backoff.attempt >= limit {
		s.state = StateClosedTerminal
		s.err = ErrRetriesExhausted
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		s.log.Error().Int("attempts", limit).Msgf("[%s] giving up", s.cfg.Name)
		s.onState.emit(StateClosedTerminal)
		return
	}

	delay := s.backoff.next()
	attempt := s.backoff.attempt
	s.state = StateClosedRetrying
	s.retry = time.AfterFunc(delay, func() { s.retryFired(gen) })
	s.mu.Unlock()

	s.log.Info().Int("code", code).Err(err).Dur("delay", delay).Msgf("[%s] disconnected, retry %d", s.cfg.Name, attempt)
	s.onState.emit(StateClosedRetrying)
	s.onReconnect.emit(ReconnectEvent{Attempt: attempt, Delay: delay})
}

func (s *Supervisor) retryFired(gen uint64) {
	s.mu.Lock()
	ok := gen == s.gen && !s.stopped && s.state == StateClosedRetrying
	cancelled := s.cancelledLocked()
	s.mu.Unlock()
	switch {
	case ok && cancelled:
		s.Stop()
	case ok:
		s.connect()
	}
}

func (s *Supervisor) heartbeat(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Realtime.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.ping(conn)
		}
	}
}

func (s *Supervisor) ping(conn *Connection) {
	if conn == nil {
		return
	}
	if err := conn.SendJSON(newPing(time.Now())); err != nil {
		s.log.Debug().Err(err).Msgf("[%s] ping failed", s.cfg.Name)
	}
}

func (s *Supervisor) stopHeartbeatLocked() {
	if s.stopBeat != nil {
		close(s.stopBeat)
		s.stopBeat = nil
	}
}
