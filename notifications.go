package humy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultNotificationCapacity bounds the toast ring buffer.
const DefaultNotificationCapacity = 50

// MarkReader is the server call behind "mark all read".
type MarkReader interface {
	MarkAllRead(ctx context.Context) (*MarkReadResult, error)
}

// BusConfig configures a NotificationBus.
type BusConfig struct {
	URL      func(token string) string
	Dialer   Dialer
	Tokens   TokenSource
	MarkRead MarkReader
	Realtime RealtimeConfig
	Logger   zerolog.Logger
	// Capacity of the toast buffer; DefaultNotificationCapacity when 0.
	Capacity int
	Now      func() time.Time
}

// NotificationBus owns the unread counter and the recent toasts of one
// session. It runs its own supervised socket from Start until Stop.
type NotificationBus struct {
	cfg BusConfig
	sup *Supervisor
	log zerolog.Logger

	mu     sync.Mutex
	unread int
	items  []NotificationItem

	onSnapshot listeners[NotificationSnapshot]
	onEvent    listeners[NotificationEvent]
}

// NewNotificationBus creates a stopped bus.
func NewNotificationBus(cfg BusConfig) *NotificationBus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultNotificationCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &NotificationBus{cfg: cfg, log: cfg.Logger}
	b.sup = NewSupervisor(SupervisorConfig{
		Name:     "notify",
		URL:      cfg.URL,
		Dialer:   cfg.Dialer,
		Tokens:   cfg.Tokens,
		Realtime: cfg.Realtime,
		Logger:   cfg.Logger,
	})
	b.sup.OnFrame(b.handleFrame)
	b.sup.OnState(func(ConnectionState) { b.publish() })
	return b
}

// Start connects the notification socket. Calling it again has no effect.
func (b *NotificationBus) Start(ctx context.Context) {
	b.sup.Start(ctx)
}

// Stop closes the socket for good; it is meant for logout.
func (b *NotificationBus) Stop() {
	b.sup.Stop()
}

// State returns the socket state.
func (b *NotificationBus) State() ConnectionState {
	return b.sup.State()
}

// NeedsAuth reports whether the socket gave up for lack of credentials.
func (b *NotificationBus) NeedsAuth() bool {
	return b.sup.NeedsAuth()
}

// Err returns why the socket stopped, if it did.
func (b *NotificationBus) Err() error {
	return b.sup.Err()
}

// Subscribe registers a snapshot listener and returns its unsubscribe func.
func (b *NotificationBus) Subscribe(fn func(NotificationSnapshot)) func() {
	return b.onSnapshot.add(fn)
}

// OnEvent registers a listener for every recognized inbound event.
func (b *NotificationBus) OnEvent(fn func(NotificationEvent)) func() {
	return b.onEvent.add(fn)
}

// UnreadCount returns the current counter.
func (b *NotificationBus) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

// Snapshot returns the counter, a copy of the toasts and the socket state.
func (b *NotificationBus) Snapshot() NotificationSnapshot {
	b.mu.Lock()
	items := make([]NotificationItem, len(b.items))
	copy(items, b.items)
	unread := b.unread
	b.mu.Unlock()
	return NotificationSnapshot{Unread: unread, Items: items, State: b.sup.State()}
}

// MarkAllRead asks the server to mark everything read and zeroes the
// counter only if that succeeds.
func (b *NotificationBus) MarkAllRead(ctx context.Context) error {
	if b.cfg.MarkRead == nil {
		return fmt.Errorf("mark all read: no mark-read endpoint configured")
	}
	if _, err := b.cfg.MarkRead.MarkAllRead(ctx); err != nil {
		b.log.Warn().Err(err).Msg("[notify] mark all read failed")
		return fmt.Errorf("mark all read: %w", err)
	}
	b.mu.Lock()
	b.unread = 0
	b.mu.Unlock()
	b.publish()
	return nil
}

// Apply feeds one event into the bus as if it arrived on the socket.
func (b *NotificationBus) Apply(ev NotificationEvent) {
	b.mu.Lock()
	switch e := ev.(type) {
	case InitFrame:
		b.unread = nonNegative(e.UnreadCount)
	case NotificationFrame:
		if e.UnreadCount != nil {
			b.unread = nonNegative(*e.UnreadCount)
		} else {
			b.unread++
		}
		b.prependLocked(e.Type, e.Payload)
	case LegacyFrame:
		b.unread++
		b.prependLocked(e.Type, e.Raw)
	case UnknownNotification:
		b.mu.Unlock()
		b.log.Debug().RawJSON("frame", e.Raw).Msg("[notify] ignoring unknown frame")
		return
	default:
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.onEvent.emit(ev)
	b.publish()
}

func (b *NotificationBus) handleFrame(raw []byte) {
	ev, err := ParseNotificationFrame(raw)
	if err != nil {
		b.log.Debug().Err(err).Msg("[notify] dropping frame")
		return
	}
	b.Apply(ev)
}

func (b *NotificationBus) prependLocked(typ string, payload json.RawMessage) {
	title, text := NotificationText(typ, payload)
	item := NotificationItem{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Text:      text,
		Payload:   payload,
		CreatedAt: b.cfg.Now(),
	}
	items := make([]NotificationItem, 0, min(len(b.items)+1, b.cfg.Capacity))
	items = append(items, item)
	for _, it := range b.items {
		if len(items) == b.cfg.Capacity {
			break
		}
		items = append(items, it)
	}
	b.items = items
}

func (b *NotificationBus) publish() {
	if b.onSnapshot.len() == 0 {
		return
	}
	b.onSnapshot.emit(b.Snapshot())
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// NotificationText maps a notification type and payload to a toast title
// and body. Both "friend:request" and "friend.request" spellings are known.
func NotificationText(typ string, payload json.RawMessage) (title, text string) {
	p := gjson.ParseBytes(payload)
	switch typ {
	case "friend:request", "friend.request":
		return "Friend request", prefixed("From ", p.Get("from_name").String())
	case "friend:accept", "friend.accept":
		return "Request accepted", suffixed(p.Get("by_name").String(), " is now your friend")
	case "dm:badge", "dm.badge":
		return "New message", prefixed("From ", p.Get("from_name").String())
	case "dm:read", "dm.read":
		return "Message read", suffixed(p.Get("by_name").String(), " read your message")
	case "presence":
		if p.Get("online").Bool() {
			return "Status", "Friend online"
		}
		return "Status", "Friend offline"
	}
	title = p.Get("title").String()
	if title == "" {
		title = "Notification"
	}
	return title, p.Get("text").String()
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

func suffixed(s, suffix string) string {
	if s == "" {
		return ""
	}
	return s + suffix
}
