package humy

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// ============================================================================
// Chat frames (inbound)
// ============================================================================

// ChatFrame is one inbound frame on a conversation socket. The concrete type
// is one of MessageFrame, TypingFrame, PresenceFrame, DeleteFrame or
// UnknownFrame.
type ChatFrame interface {
	chatFrame()
}

// MessageFrame carries a new or updated message.
type MessageFrame struct {
	Message Message
}

// TypingFrame reports whether a participant is typing.
type TypingFrame struct {
	User     string
	IsTyping bool
}

// PresenceFrame carries the participant count.
type PresenceFrame struct {
	Count int
}

// DeleteFrame removes a message from every timeline.
type DeleteFrame struct {
	ID string
}

// UnknownFrame is any well-formed frame with an unrecognized type.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (MessageFrame) chatFrame()  {}
func (TypingFrame) chatFrame()   {}
func (PresenceFrame) chatFrame() {}
func (DeleteFrame) chatFrame()   {}
func (UnknownFrame) chatFrame()  {}

var errMalformedFrame = errors.New("humy: malformed frame")

// ParseChatFrame decodes one conversation frame. Frames that are not JSON
// objects return an error and should be dropped.
func ParseChatFrame(raw []byte) (ChatFrame, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errMalformedFrame
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil, errMalformedFrame
	}
	typ := r.Get("type").String()
	data := r.Get("data")

	switch typ {
	case "message", "chat_message", "chat.message", "group.message", "room.message":
		src := data
		if !src.IsObject() {
			src = r
		}
		m, err := DecodeMessage([]byte(src.Raw))
		if err != nil {
			return nil, err
		}
		// Echo tokens may sit next to data instead of inside it.
		if m.ClientID == "" {
			m.ClientID = echoToken(r)
		}
		return MessageFrame{Message: m}, nil
	case "typing":
		src := data
		if !src.IsObject() {
			src = r
		}
		return TypingFrame{
			User:     src.Get("user").String(),
			IsTyping: src.Get("isTyping").Bool(),
		}, nil
	case "presence", "room.presence":
		src := data
		if !src.IsObject() {
			src = r
		}
		return PresenceFrame{Count: int(src.Get("count").Int())}, nil
	case "delete", "chat_delete", "message.delete", "message_deleted":
		id := r.Get("id")
		if !present(id) {
			id = data.Get("id")
		}
		if !present(id) || id.String() == "" {
			return nil, errMalformedFrame
		}
		return DeleteFrame{ID: id.String()}, nil
	}
	return UnknownFrame{Type: typ, Raw: json.RawMessage(raw)}, nil
}

// ============================================================================
// Notification frames (inbound)
// ============================================================================

// NotificationEvent is one inbound frame on the notification socket: an
// InitFrame, NotificationFrame, LegacyFrame or UnknownNotification.
type NotificationEvent interface {
	notificationEvent()
}

// InitFrame is the unread snapshot sent after connecting.
type InitFrame struct {
	UnreadCount int
}

// NotificationFrame is a typed notification. UnreadCount is nil when the
// server did not include an authoritative count.
type NotificationFrame struct {
	Type        string
	UnreadCount *int
	Payload     json.RawMessage
}

// LegacyFrame is the older {type, ...} shape. Raw holds the whole frame.
type LegacyFrame struct {
	Type string
	Raw  json.RawMessage
}

// UnknownNotification is any object frame that matches no known shape.
type UnknownNotification struct {
	Raw json.RawMessage
}

func (InitFrame) notificationEvent()           {}
func (NotificationFrame) notificationEvent()   {}
func (LegacyFrame) notificationEvent()         {}
func (UnknownNotification) notificationEvent() {}

// ParseNotificationFrame decodes one notification socket frame.
func ParseNotificationFrame(raw []byte) (NotificationEvent, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errMalformedFrame
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil, errMalformedFrame
	}

	switch r.Get("kind").String() {
	case "meta:init":
		n := int(r.Get("unread_count").Int())
		if n < 0 {
			n = 0
		}
		return InitFrame{UnreadCount: n}, nil
	case "notification":
		f := NotificationFrame{Type: r.Get("type").String()}
		if c := r.Get("unread_count"); c.Type == gjson.Number {
			n := int(c.Int())
			f.UnreadCount = &n
		}
		if p := r.Get("payload"); present(p) {
			f.Payload = json.RawMessage(p.Raw)
		}
		return f, nil
	}

	if t := r.Get("type"); t.Type == gjson.String {
		return LegacyFrame{Type: t.String(), Raw: json.RawMessage(raw)}, nil
	}
	return UnknownNotification{Raw: json.RawMessage(raw)}, nil
}

// ============================================================================
// Outbound frames
// ============================================================================

type pingFrame struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

func newPing(now time.Time) pingFrame {
	return pingFrame{Type: "ping", TS: now.UnixMilli()}
}

// outboundMessage carries the temporary id under both spellings so either
// server convention can echo it back.
type outboundMessage struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	DisplayName string `json:"displayName"`
	TempID      string `json:"tempId,omitempty"`
	TempIDSnake string `json:"temp_id,omitempty"`
}

func newOutboundMessage(content, displayName, tempID string) outboundMessage {
	return outboundMessage{
		Type:        "message",
		Content:     content,
		DisplayName: displayName,
		TempID:      tempID,
		TempIDSnake: tempID,
	}
}

type outboundTyping struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

func newOutboundTyping(user string, typing bool) outboundTyping {
	return outboundTyping{Type: "typing", User: user, IsTyping: typing}
}
