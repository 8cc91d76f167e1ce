package humy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionOptions tunes a Session. Zero values pick defaults.
type SessionOptions struct {
	Dialer   Dialer
	Realtime RealtimeConfig
	// Identity overrides the identity read from the access token.
	Identity *Identity
	// TypingWindow and TypingIdle default to DefaultTypingWindow and
	// DefaultTypingIdle.
	TypingWindow time.Duration
	TypingIdle   time.Duration
	// NotificationCapacity bounds the toast buffer.
	NotificationCapacity int
}

// Session is one logged-in user: a notification bus running for the whole
// session plus any number of open rooms.
type Session struct {
	client   *Client
	opts     SessionOptions
	identity Identity
	bus      *NotificationBus
	log      zerolog.Logger

	mu     sync.Mutex
	rooms  map[*Room]struct{}
	closed bool
}

// ErrSessionClosed is returned by OpenRoom after Close.
var ErrSessionClosed = errors.New("humy: session closed")

// NewSession prepares a session for client's current token.
func NewSession(client *Client, opts SessionOptions) *Session {
	log := client.Logger()
	if opts.Dialer == nil {
		opts.Dialer = &WebSocketDialer{HTTPClient: client.HTTPClient()}
	}

	var identity Identity
	if opts.Identity != nil {
		identity = *opts.Identity
	} else if token := client.Token(); token != "" {
		id, err := IdentityFromToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("[session] cannot read identity from token")
		}
		identity = id
	}

	s := &Session{
		client:   client,
		opts:     opts,
		identity: identity,
		log:      log,
		rooms:    make(map[*Room]struct{}),
	}
	s.bus = NewNotificationBus(BusConfig{
		URL:      client.NotificationsSocketURL,
		Dialer:   opts.Dialer,
		Tokens:   client.Tokens(),
		MarkRead: client,
		Realtime: opts.Realtime,
		Logger:   log,
		Capacity: opts.NotificationCapacity,
	})
	return s
}

// Start connects the notification bus.
func (s *Session) Start(ctx context.Context) {
	s.bus.Start(ctx)
}

// Bus returns the session's notification bus.
func (s *Session) Bus() *NotificationBus { return s.bus }

// Identity returns the local user.
func (s *Session) Identity() Identity { return s.identity }

// Client returns the REST client.
func (s *Session) Client() *Client { return s.client }

// OpenRoom loads a conversation's newest page and connects its socket.
func (s *Session) OpenRoom(ctx context.Context, conv Conversation) (*Room, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	room, err := openRoom(ctx, roomConfig{
		conv:     conv,
		client:   s.client,
		identity: s.identity,
		dialer:   s.opts.Dialer,
		realtime: s.opts.Realtime,
		typing:   s.opts.TypingWindow,
		idle:     s.opts.TypingIdle,
		log:      s.log,
		onClose:  s.forget,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		room.Close()
		return nil, ErrSessionClosed
	}
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
	return room, nil
}

// Rooms returns how many rooms are open.
func (s *Session) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Close closes every room and stops the bus.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := make([]*Room, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	s.bus.Stop()
}

func (s *Session) forget(r *Room) {
	s.mu.Lock()
	delete(s.rooms, r)
	s.mu.Unlock()
}
