package humy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// routeDialer sends notification sockets and chat sockets to separate fakes.
type routeDialer struct {
	chat   *fakeDialer
	notify *fakeDialer
}

func (r *routeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if strings.Contains(url, "/ws/notifications/") {
		return r.notify.Dial(ctx, url)
	}
	return r.chat.Dial(ctx, url)
}

type eventLog struct {
	mu    sync.Mutex
	kinds []RoomEventKind
}

func (l *eventLog) record(ev RoomEvent) {
	l.mu.Lock()
	l.kinds = append(l.kinds, ev.Kind)
	l.mu.Unlock()
}

func (l *eventLog) has(kind RoomEventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.kinds = nil
	l.mu.Unlock()
}

func newTestSession(t *testing.T, d Dialer) (*Session, *fakeAPI) {
	t.Helper()
	api, srv := newTestAPI(t)
	client := NewClient(StaticToken("tok"), WithBaseURL(srv.URL))
	s := NewSession(client, SessionOptions{
		Dialer:       d,
		Identity:     &Identity{UserID: "1", DisplayName: "alice"},
		TypingWindow: 30 * time.Millisecond,
		TypingIdle:   20 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s, api
}

func TestSessionRoomLifecycle(t *testing.T) {
	d := &routeDialer{chat: &fakeDialer{}, notify: &fakeDialer{}}
	s, _ := newTestSession(t, d)
	ctx := context.Background()

	s.Start(ctx)
	waitFor(t, "notification socket", func() bool { return s.Bus().State() == StateOpen })

	room, err := s.OpenRoom(ctx, RoomConversation("42"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Rooms() != 1 {
		t.Fatalf("rooms = %d", s.Rooms())
	}
	events := &eventLog{}
	room.Subscribe(events.record)

	got := room.Messages()
	if !equalStrings(ids(got), []string{"1", "2"}) {
		t.Fatalf("first page = %v", ids(got))
	}
	if !got[0].IsOwn || got[1].IsOwn {
		t.Fatalf("ownership = %v %v", got[0].IsOwn, got[1].IsOwn)
	}
	if !room.HasMore() {
		t.Fatal("expected older history")
	}

	waitFor(t, "chat socket", func() bool { return room.State() == StateOpen })
	if u := d.chat.lastURL(); !strings.HasSuffix(u, "/ws/chat/42/?token=tok") || !strings.HasPrefix(u, "ws://") {
		t.Fatalf("chat url = %q", u)
	}
	conn := d.chat.lastConn()

	t.Run("send and confirm", func(t *testing.T) {
		events.reset()
		sent, err := room.Send("  hello ")
		if err != nil {
			t.Fatal(err)
		}
		if !events.has(EventMessages) || !events.has(EventScrollToBottom) {
			t.Fatal("expected timeline events")
		}
		frames := conn.framesOfType("message")
		if len(frames) != 1 {
			t.Fatalf("frames = %v", frames)
		}
		f := frames[0]
		if f.Get("content").String() != "hello" || f.Get("displayName").String() != "alice" || f.Get("tempId").String() != sent.ID || f.Get("temp_id").String() != sent.ID {
			t.Fatalf("frame = %s", f.Raw)
		}

		conn.deliver(`{"type":"chat.message","data":{"id":3,"room":"42","author_id":1,"username":"alice","content":"hello","created_at":"` +
			time.Now().UTC().Format(time.RFC3339Nano) + `","tempId":"` + sent.ID + `"}}`)
		waitFor(t, "confirmation", func() bool {
			_, confirmed := findMessage(room, "3")
			_, pending := findMessage(room, sent.ID)
			return confirmed && !pending
		})
		m, _ := findMessage(room, "3")
		if !m.IsOwn || m.Pending {
			t.Fatalf("confirmed = %+v", m)
		}
	})

	t.Run("live message from someone else", func(t *testing.T) {
		conn.deliver(`{"type":"message","data":{"id":4,"room":"42","author_id":7,"content":"yo","created_at":"` +
			time.Now().UTC().Add(time.Second).Format(time.RFC3339Nano) + `"}}`)
		waitFor(t, "live message", func() bool { _, ok := findMessage(room, "4"); return ok })
		all := room.Messages()
		if all[len(all)-1].ID != "4" || all[len(all)-1].IsOwn {
			t.Fatalf("tail = %+v", all[len(all)-1])
		}
	})

	t.Run("typing and presence", func(t *testing.T) {
		conn.deliver(`{"type":"typing","user":"alice","isTyping":true}`)
		conn.deliver(`{"type":"presence","count":5}`)
		waitFor(t, "count", func() bool { return room.Presence().Participants == 5 })
		if room.Presence().Typing {
			t.Fatal("own typing echo must be ignored")
		}

		conn.deliver(`{"type":"typing","user":"bob","isTyping":true}`)
		waitFor(t, "typing", func() bool { return room.Presence().Typing })
		waitFor(t, "typing expiry", func() bool { return !room.Presence().Typing })
	})

	t.Run("delete", func(t *testing.T) {
		conn.deliver(`{"type":"message.delete","data":{"id":2}}`)
		waitFor(t, "delete", func() bool { _, ok := findMessage(room, "2"); return !ok })
	})

	t.Run("poison frames are ignored", func(t *testing.T) {
		conn.deliver(`{{{`)
		conn.deliver(`{"type":"mystery"}`)
		conn.deliver(`{"type":"presence","count":6}`)
		waitFor(t, "later frame", func() bool { return room.Presence().Participants == 6 })
		if room.State() != StateOpen {
			t.Fatalf("state = %s", room.State())
		}
	})

	t.Run("load older", func(t *testing.T) {
		n, err := room.LoadOlder(ctx)
		if err != nil || n != 1 {
			t.Fatalf("added = %d, err = %v", n, err)
		}
		if room.Messages()[0].ID != "0" || room.HasMore() {
			t.Fatalf("head = %v hasMore=%v", ids(room.Messages()), room.HasMore())
		}
		if n, err := room.LoadOlder(ctx); n != 0 || err != nil {
			t.Fatalf("exhausted = %d, %v", n, err)
		}
	})

	t.Run("keystrokes", func(t *testing.T) {
		room.Keystroke()
		room.Keystroke()
		waitFor(t, "typing stop", func() bool { return len(conn.framesOfType("typing")) == 2 })
		frames := conn.framesOfType("typing")
		if !frames[0].Get("isTyping").Bool() || frames[1].Get("isTyping").Bool() || frames[0].Get("user").String() != "alice" {
			t.Fatalf("typing frames = %v", frames)
		}
	})

	room.Close()
	room.Close()
	if s.Rooms() != 0 {
		t.Fatalf("rooms after close = %d", s.Rooms())
	}
	if !conn.isClosed() {
		t.Fatal("chat socket should be closed")
	}
	before := len(room.Messages())
	if _, err := room.Send("late"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("send after close: %v", err)
	}
	if len(room.Messages()) != before {
		t.Fatal("failed send must not leave an entry behind")
	}
	if err := room.Keystroke(); !errors.Is(err, ErrStopped) {
		t.Fatalf("keystroke after close: %v", err)
	}

	s.Close()
	if s.Bus().State() != StateClosedTerminal {
		t.Fatalf("bus state = %s", s.Bus().State())
	}
	if _, err := s.OpenRoom(ctx, RoomConversation("42")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("open after close: %v", err)
	}
}

func TestRoomDeleteInvalidatesCachedHistory(t *testing.T) {
	api, srv := newTestAPI(t)
	client := NewClient(StaticToken("tok"), WithBaseURL(srv.URL), WithCache(NewMemoryCache(time.Minute)))
	d := &fakeDialer{}
	s := NewSession(client, SessionOptions{Dialer: d, Identity: &Identity{UserID: "1", DisplayName: "alice"}})
	defer s.Close()
	ctx := context.Background()

	room, err := s.OpenRoom(ctx, RoomConversation("42"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := room.LoadOlder(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chat socket", func() bool { return room.State() == StateOpen })

	requests := api.count()
	if _, err := client.FetchRoomPage(ctx, "42", "older"); err != nil {
		t.Fatal(err)
	}
	if n := api.count(); n != requests {
		t.Fatalf("older page should come from the cache: %d -> %d", requests, n)
	}

	d.lastConn().deliver(`{"type":"message.delete","data":{"id":0}}`)
	waitFor(t, "delete", func() bool { _, ok := findMessage(room, "0"); return !ok })

	if _, err := client.FetchRoomPage(ctx, "42", "older"); err != nil {
		t.Fatal(err)
	}
	if n := api.count(); n != requests+1 {
		t.Fatalf("requests after delete = %d, want %d", n, requests+1)
	}
}

func TestRoomSendNotReady(t *testing.T) {
	refused := &fakeDialer{fail: func(int) error { return errors.New("refused") }}
	s, _ := newTestSession(t, &routeDialer{chat: refused, notify: &fakeDialer{}})

	room, err := s.OpenRoom(context.Background(), RoomConversation("42"))
	if err != nil {
		t.Fatal(err)
	}
	defer room.Close()

	before := len(room.Messages())
	if _, err := room.Send("hello"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v", err)
	}
	if len(room.Messages()) != before {
		t.Fatal("optimistic entry should be removed when the socket is not open")
	}
	if _, err := room.Send("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank send: %v", err)
	}
}

func TestOpenRoomFirstPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"down"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := &fakeDialer{}
	client := NewClient(StaticToken("tok"), WithBaseURL(srv.URL))
	s := NewSession(client, SessionOptions{Dialer: d})
	defer s.Close()

	_, err := s.OpenRoom(context.Background(), DirectConversation("dm-1"))
	if !IsRetryable(err) {
		t.Fatalf("err = %v", err)
	}
	if d.dials() != 0 || s.Rooms() != 0 {
		t.Fatal("no socket should be opened when history fails")
	}
}

func TestSessionIdentityFromToken(t *testing.T) {
	tok := signedToken(t, map[string]any{"user_id": 5, "username": "eve"})
	s := NewSession(NewClient(StaticToken(tok)), SessionOptions{Dialer: &fakeDialer{}})
	defer s.Close()
	if id := s.Identity(); id.UserID != "5" || id.DisplayName != "eve" {
		t.Fatalf("identity = %+v", id)
	}

	anon := NewSession(NewClient(nil), SessionOptions{Dialer: &fakeDialer{}})
	defer anon.Close()
	if id := anon.Identity(); id.UserID != "" || id.Name() != DefaultNickname {
		t.Fatalf("anonymous identity = %+v", id)
	}
}

func findMessage(r *Room, id string) (Message, bool) {
	for _, m := range r.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
