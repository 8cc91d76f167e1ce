package humy

import (
	"encoding/json"
	"testing"
	"time"
)

// ============================================================================
// Chat frames
// ============================================================================

func TestParseChatFrameMessage(t *testing.T) {
	aliases := []string{"message", "chat_message", "chat.message", "group.message", "room.message"}
	for _, typ := range aliases {
		t.Run(typ, func(t *testing.T) {
			raw := `{"type":"` + typ + `","data":{"id":7,"room":"42","author_id":3,"username":"alice","content":"hi","created_at":"2026-01-01T12:00:00Z","tempId":"tmp-1"}}`
			f, err := ParseChatFrame([]byte(raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			mf, ok := f.(MessageFrame)
			if !ok {
				t.Fatalf("got %T", f)
			}
			m := mf.Message
			if m.ID != "7" || m.ConversationID != "42" || m.Author() != "3" || m.DisplayName != "alice" || m.Content != "hi" {
				t.Fatalf("message = %+v", m)
			}
			if m.ClientID != "tmp-1" {
				t.Fatalf("client id = %q", m.ClientID)
			}
			if !m.CreatedAt.Equal(baseTime) {
				t.Fatalf("created_at = %v", m.CreatedAt)
			}
		})
	}

	t.Run("top level payload", func(t *testing.T) {
		f, err := ParseChatFrame([]byte(`{"type":"message","id":"m1","content":"flat","user":"9"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		m := f.(MessageFrame).Message
		if m.ID != "m1" || m.Content != "flat" || m.Author() != "9" {
			t.Fatalf("message = %+v", m)
		}
	})

	t.Run("echo token next to data", func(t *testing.T) {
		f, err := ParseChatFrame([]byte(`{"type":"chat.message","temp_id":"tmp-x","data":{"id":1,"content":"a"}}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got := f.(MessageFrame).Message.ClientID; got != "tmp-x" {
			t.Fatalf("client id = %q", got)
		}
	})

	t.Run("message without id is rejected", func(t *testing.T) {
		if _, err := ParseChatFrame([]byte(`{"type":"message","data":{"content":"a"}}`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestParseChatFrameOthers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ChatFrame
	}{
		{"typing on", `{"type":"typing","user":"bob","isTyping":true}`, TypingFrame{User: "bob", IsTyping: true}},
		{"typing off", `{"type":"typing","user":"bob","isTyping":false}`, TypingFrame{User: "bob"}},
		{"presence", `{"type":"presence","count":4}`, PresenceFrame{Count: 4}},
		{"room presence", `{"type":"room.presence","data":{"count":2}}`, PresenceFrame{Count: 2}},
		{"delete top level", `{"type":"delete","id":5}`, DeleteFrame{ID: "5"}},
		{"delete in data", `{"type":"message.delete","data":{"id":"abc"}}`, DeleteFrame{ID: "abc"}},
		{"chat_delete", `{"type":"chat_delete","id":"x"}`, DeleteFrame{ID: "x"}},
		{"message_deleted", `{"type":"message_deleted","id":"y"}`, DeleteFrame{ID: "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChatFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		got, err := ParseChatFrame([]byte(`{"type":"pong"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		u, ok := got.(UnknownFrame)
		if !ok || u.Type != "pong" {
			t.Fatalf("got %#v", got)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{`not json`, `[1,2]`, `"text"`, `{"type":"delete"}`} {
			if _, err := ParseChatFrame([]byte(raw)); err == nil {
				t.Errorf("%s: expected error", raw)
			}
		}
	})
}

// ============================================================================
// Notification frames
// ============================================================================

func TestParseNotificationFrame(t *testing.T) {
	t.Run("init", func(t *testing.T) {
		ev, err := ParseNotificationFrame([]byte(`{"kind":"meta:init","unread_count":5}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if ev != (InitFrame{UnreadCount: 5}) {
			t.Fatalf("got %#v", ev)
		}
	})

	t.Run("init negative clamps", func(t *testing.T) {
		ev, _ := ParseNotificationFrame([]byte(`{"kind":"meta:init","unread_count":-2}`))
		if ev != (InitFrame{}) {
			t.Fatalf("got %#v", ev)
		}
	})

	t.Run("notification with count", func(t *testing.T) {
		ev, err := ParseNotificationFrame([]byte(`{"kind":"notification","type":"friend:request","unread_count":3,"payload":{"from_name":"Ann"}}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		nf := ev.(NotificationFrame)
		if nf.Type != "friend:request" || nf.UnreadCount == nil || *nf.UnreadCount != 3 {
			t.Fatalf("got %#v", nf)
		}
		if string(nf.Payload) != `{"from_name":"Ann"}` {
			t.Fatalf("payload = %s", nf.Payload)
		}
	})

	t.Run("notification without count", func(t *testing.T) {
		ev, _ := ParseNotificationFrame([]byte(`{"kind":"notification","type":"dm:badge"}`))
		nf := ev.(NotificationFrame)
		if nf.UnreadCount != nil || nf.Payload != nil {
			t.Fatalf("got %#v", nf)
		}
	})

	t.Run("legacy", func(t *testing.T) {
		raw := `{"type":"friend.accept","by_name":"Zed"}`
		ev, _ := ParseNotificationFrame([]byte(raw))
		lf, ok := ev.(LegacyFrame)
		if !ok || lf.Type != "friend.accept" || string(lf.Raw) != raw {
			t.Fatalf("got %#v", ev)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		ev, _ := ParseNotificationFrame([]byte(`{"hello":"world"}`))
		if _, ok := ev.(UnknownNotification); !ok {
			t.Fatalf("got %#v", ev)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := ParseNotificationFrame([]byte(`{`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

// ============================================================================
// Outbound frames
// ============================================================================

func TestOutboundFrames(t *testing.T) {
	b, _ := json.Marshal(newOutboundMessage("hi", "alice", "tmp-1"))
	want := `{"type":"message","content":"hi","displayName":"alice","tempId":"tmp-1","temp_id":"tmp-1"}`
	if string(b) != want {
		t.Fatalf("message = %s", b)
	}

	b, _ = json.Marshal(newOutboundTyping("alice", true))
	if string(b) != `{"type":"typing","user":"alice","isTyping":true}` {
		t.Fatalf("typing = %s", b)
	}

	b, _ = json.Marshal(newPing(time.UnixMilli(1700000000123)))
	if string(b) != `{"type":"ping","ts":1700000000123}` {
		t.Fatalf("ping = %s", b)
	}
}
