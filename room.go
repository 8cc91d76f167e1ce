package humy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Conversation identifies a room or a direct conversation.
type Conversation struct {
	ID   string
	Kind ConversationKind
}

// RoomConversation names a public room.
func RoomConversation(id string) Conversation {
	return Conversation{ID: id, Kind: KindRoom}
}

// DirectConversation names a one-to-one conversation.
func DirectConversation(id string) Conversation {
	return Conversation{ID: id, Kind: KindDirect}
}

// RoomEventKind tells subscribers what changed.
type RoomEventKind string

const (
	// EventMessages: the timeline changed.
	EventMessages RoomEventKind = "messages"
	// EventScrollToBottom: the timeline grew at the end.
	EventScrollToBottom RoomEventKind = "scroll_to_bottom"
	// EventHistory: an older page was merged; Added says how many.
	EventHistory RoomEventKind = "history"
	// EventPresence: typing flag or participant count changed.
	EventPresence RoomEventKind = "presence"
	// EventState: the socket state changed.
	EventState RoomEventKind = "state"
)

// RoomEvent is delivered to Room subscribers.
type RoomEvent struct {
	Kind     RoomEventKind
	Added    int
	Presence PresenceState
	State    ConnectionState
}

type roomConfig struct {
	conv     Conversation
	client   *Client
	identity Identity
	dialer   Dialer
	realtime RealtimeConfig
	typing   time.Duration
	idle     time.Duration
	log      zerolog.Logger
	onClose  func(*Room)
}

// Room is one open conversation: its history, live socket, timeline and
// presence.
type Room struct {
	conv     Conversation
	client   *Client
	identity Identity
	log      zerolog.Logger

	pager    *Pager
	timeline *Timeline
	presence *Presence
	typing   *TypingThrottle
	sup      *Supervisor

	events    listeners[RoomEvent]
	closeOnce sync.Once
	onClose   func(*Room)
}

// openRoom loads the newest page, then connects the live socket. A failed
// first page returns the error and opens nothing.
func openRoom(ctx context.Context, cfg roomConfig) (*Room, error) {
	r := &Room{
		conv:     cfg.conv,
		client:   cfg.client,
		identity: cfg.identity,
		log:      cfg.log,
		pager:    NewPager(cfg.client.History(cfg.conv.Kind), cfg.log),
		timeline: NewTimeline(cfg.identity),
		presence: NewPresence(cfg.typing),
		onClose:  cfg.onClose,
	}

	page, err := r.pager.LoadFirstPage(ctx, cfg.conv.ID)
	if err != nil {
		return nil, err
	}
	r.timeline.Reset(cfg.conv.ID, page.Messages)

	client := cfg.client
	r.sup = NewSupervisor(SupervisorConfig{
		Name:     "chat",
		URL:      func(token string) string { return client.ChatSocketURL(cfg.conv.ID, token) },
		Dialer:   cfg.dialer,
		Tokens:   client.Tokens(),
		Realtime: cfg.realtime,
		Logger:   cfg.log,
	})
	r.typing = NewTypingThrottle(cfg.idle, func(typing bool) error {
		return r.sup.Send(newOutboundTyping(r.identity.Name(), typing))
	})

	r.sup.OnFrame(r.handleFrame)
	r.sup.OnState(func(st ConnectionState) {
		r.events.emit(RoomEvent{Kind: EventState, State: st})
	})
	r.presence.OnChange(func(p PresenceState) {
		r.events.emit(RoomEvent{Kind: EventPresence, Presence: p})
	})

	r.log.Info().Str("conversation", cfg.conv.ID).Int("messages", len(page.Messages)).Msg("[chat] room opened")
	r.sup.Start(context.WithoutCancel(ctx))
	return r, nil
}

// Conversation returns what this room shows.
func (r *Room) Conversation() Conversation { return r.conv }

// Subscribe registers a listener and returns its unsubscribe func.
func (r *Room) Subscribe(fn func(RoomEvent)) func() { return r.events.add(fn) }

// Messages returns the ordered timeline.
func (r *Room) Messages() []Message { return r.timeline.Messages() }

// HasMore reports whether older history exists.
func (r *Room) HasMore() bool { return r.pager.HasMore() }

// Presence returns the typing flag and participant count.
func (r *Room) Presence() PresenceState { return r.presence.State() }

// State returns the socket state.
func (r *Room) State() ConnectionState { return r.sup.State() }

// NeedsAuth reports whether the socket gave up for lack of credentials.
func (r *Room) NeedsAuth() bool { return r.sup.NeedsAuth() }

// Err returns why the socket stopped, if it did.
func (r *Room) Err() error { return r.sup.Err() }

// LoadOlder merges the previous page into the timeline and returns how many
// messages were added. It returns 0 and no error when nothing is older.
func (r *Room) LoadOlder(ctx context.Context) (int, error) {
	page, err := r.pager.LoadOlder(ctx)
	if err != nil || page == nil {
		return 0, err
	}
	added := r.timeline.Merge(page.Messages)
	r.events.emit(RoomEvent{Kind: EventHistory, Added: added})
	if added > 0 {
		r.events.emit(RoomEvent{Kind: EventMessages})
	}
	return added, nil
}

// Send shows content immediately as a pending message and writes it to the
// socket. If the socket is not open the pending message is removed again
// and ErrNotReady is returned.
func (r *Room) Send(content string) (Message, error) {
	m, err := r.timeline.AddOptimistic(content, time.Now())
	if err != nil {
		return Message{}, err
	}
	r.events.emit(RoomEvent{Kind: EventMessages})
	r.events.emit(RoomEvent{Kind: EventScrollToBottom})

	if err := r.sup.Send(newOutboundMessage(m.Content, r.identity.Name(), m.ID)); err != nil {
		r.timeline.Remove(m.ID)
		r.events.emit(RoomEvent{Kind: EventMessages})
		r.log.Warn().Err(err).Str("conversation", r.conv.ID).Msg("[chat] send failed")
		return Message{}, err
	}
	return m, nil
}

// Keystroke reports local typing activity.
func (r *Room) Keystroke() error {
	return r.typing.Keystroke()
}

// Close stops the socket and timers. It is safe to call more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.typing.Stop()
		r.sup.Stop()
		r.presence.Close()
		r.events.clear()
		if r.onClose != nil {
			r.onClose(r)
		}
		r.log.Info().Str("conversation", r.conv.ID).Msg("[chat] room closed")
	})
}

func (r *Room) handleFrame(raw []byte) {
	frame, err := ParseChatFrame(raw)
	if err != nil {
		r.log.Debug().Err(err).Msg("[chat] dropping frame")
		return
	}

	switch f := frame.(type) {
	case MessageFrame:
		res := r.timeline.ApplyLive(f.Message)
		r.events.emit(RoomEvent{Kind: EventMessages})
		if res.Added {
			r.events.emit(RoomEvent{Kind: EventScrollToBottom})
		}
	case TypingFrame:
		if r.identity.DisplayName != "" && f.User == r.identity.DisplayName {
			return
		}
		r.presence.HandleTyping(f.IsTyping)
	case PresenceFrame:
		r.presence.HandleCount(f.Count)
	case DeleteFrame:
		// Cached older pages may still hold the message.
		r.client.InvalidateHistory(r.conv.ID)
		if r.timeline.Remove(f.ID) {
			r.events.emit(RoomEvent{Kind: EventMessages})
		}
	case UnknownFrame:
		r.log.Debug().Str("type", f.Type).Msg("[chat] ignoring frame")
	}
}
