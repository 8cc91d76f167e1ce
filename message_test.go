package humy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("author fallbacks", func(t *testing.T) {
		tests := []struct {
			raw  string
			want string
		}{
			{`{"id":1,"author_id":10,"author":{"id":11},"user_id":12}`, "10"},
			{`{"id":1,"author":{"id":11},"user_id":12}`, "11"},
			{`{"id":1,"author":13,"user_id":12}`, "13"},
			{`{"id":1,"user_id":12,"user":14}`, "12"},
			{`{"id":1,"user":14}`, "14"},
			{`{"id":1,"author_id":null,"user":"u"}`, "u"},
		}
		for _, tt := range tests {
			m, err := DecodeMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("%s: %v", tt.raw, err)
			}
			if m.Author() != tt.want {
				t.Errorf("%s: author = %q, want %q", tt.raw, m.Author(), tt.want)
			}
		}
	})

	t.Run("no author", func(t *testing.T) {
		m, err := DecodeMessage([]byte(`{"id":"a","content":"x"}`))
		if err != nil {
			t.Fatal(err)
		}
		if m.AuthorID != nil {
			t.Fatalf("author = %q", *m.AuthorID)
		}
	})

	t.Run("conversation keys", func(t *testing.T) {
		for raw, want := range map[string]string{
			`{"id":1,"room":5}`:                 "5",
			`{"id":1,"conversation":"c"}`:       "c",
			`{"id":1,"conversation_id":"d"}`:    "d",
			`{"id":1,"room":{"id":3},"conversation_id":"e"}`: "e",
		} {
			m, _ := DecodeMessage([]byte(raw))
			if m.ConversationID != want {
				t.Errorf("%s: conversation = %q, want %q", raw, m.ConversationID, want)
			}
		}
	})

	t.Run("echo keys", func(t *testing.T) {
		for _, key := range echoKeys {
			m, _ := DecodeMessage([]byte(`{"id":1,"` + key + `":"tmp-9"}`))
			if m.ClientID != "tmp-9" {
				t.Errorf("%s: client id = %q", key, m.ClientID)
			}
		}
	})

	t.Run("missing id", func(t *testing.T) {
		for _, raw := range []string{`{}`, `{"id":null}`, `{"id":""}`, `[]`, `nope`} {
			if _, err := DecodeMessage([]byte(raw)); err == nil {
				t.Errorf("%s: expected error", raw)
			}
		}
	})

	t.Run("bad timestamp falls back to now", func(t *testing.T) {
		m, _ := DecodeMessage([]byte(`{"id":1,"created_at":"yesterday"}`))
		if m.CreatedAt.IsZero() {
			t.Fatal("expected a timestamp")
		}
	})
}

func TestDecodeMessagesSkipsMalformed(t *testing.T) {
	page, err := decodePage([]byte(`[{"id":1},{"content":"no id"},{"id":2}]`), "r")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(page.Messages); !equalStrings(got, []string{"1", "2"}) {
		t.Fatalf("ids = %v", got)
	}
	for _, m := range page.Messages {
		if m.ConversationID != "r" {
			t.Fatalf("conversation = %q", m.ConversationID)
		}
	}
}

func TestChooseNickname(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"alice"}, "alice"},
		{[]string{"  bob  "}, "bob"},
		{[]string{"a@b.com", "carol"}, "carol"},
		{[]string{"+1 (555) 123-4567", "dave"}, "dave"},
		{[]string{"5551234567"}, DefaultNickname},
		{[]string{"", " "}, DefaultNickname},
		{[]string{"agent 007"}, "agent 007"},
		{nil, DefaultNickname},
	}
	for _, tt := range tests {
		if got := chooseNickname(tt.in...); got != tt.want {
			t.Errorf("chooseNickname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("ж", 100)
	if got := SafeDisplayName(long); len([]rune(got)) != maxNicknameLen {
		t.Fatalf("len = %d", len([]rune(got)))
	}
}

func TestGuessAttachmentKind(t *testing.T) {
	tests := []struct {
		url, typ, name, mime string
		want                 AttachmentKind
	}{
		{"https://cdn/x.bin", "", "", "audio/ogg", AttachmentAudio},
		{"https://cdn/x.bin", "", "", "video/mp4", AttachmentVideo},
		{"https://cdn/x.bin", "", "", "image/png", AttachmentImage},
		{"https://cdn/x.bin", "image", "", "", AttachmentImage},
		{"https://cdn/photo.JPG?sig=1", "", "", "", AttachmentImage},
		{"https://cdn/voice.webm", "", "", "", AttachmentAudio},
		{"https://cdn/clip.mov#t=1", "", "", "", AttachmentVideo},
		{"", "", "song.mp3", "", AttachmentAudio},
		{"https://cdn/report.pdf", "", "", "", AttachmentFile},
		{"", "", "report.pdf", "", AttachmentNone},
		{"", "", "", "", AttachmentNone},
	}
	for _, tt := range tests {
		if got := GuessAttachmentKind(tt.url, tt.typ, tt.name, tt.mime); got != tt.want {
			t.Errorf("GuessAttachmentKind(%q,%q,%q,%q) = %q, want %q", tt.url, tt.typ, tt.name, tt.mime, got, tt.want)
		}
	}

	t.Run("decoded with message", func(t *testing.T) {
		m, _ := DecodeMessage([]byte(`{"id":1,"attachment_url":"https://cdn/a.png","attachment_name":"a.png","attachment_type":"file","meta":{"mime":"image/png"}}`))
		if m.Attachment == nil || m.Attachment.Kind != AttachmentImage || m.Attachment.Name != "a.png" || m.Attachment.Type != "file" {
			t.Fatalf("attachment = %+v", m.Attachment)
		}
		m, _ = DecodeMessage([]byte(`{"id":1,"content":"plain"}`))
		if m.Attachment != nil {
			t.Fatalf("attachment = %+v", m.Attachment)
		}
	})
}

func TestFlexString(t *testing.T) {
	var n ServerNotification
	for raw, want := range map[string]string{
		`{"id":17}`:    "17",
		`{"id":"abc"}`: "abc",
		`{"id":null}`:  "",
	} {
		n = ServerNotification{}
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if n.ID.String() != want {
			t.Errorf("%s: id = %q", raw, n.ID)
		}
	}
	if err := json.Unmarshal([]byte(`{"id":true}`), &n); err == nil {
		t.Fatal("expected error for bool id")
	}
}
