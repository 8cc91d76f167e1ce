package humy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotReady is returned when sending on a connection that is not open.
	ErrNotReady = errors.New("humy: connection not open")
	// ErrAuthRequired marks a terminal stop that needs a fresh login.
	ErrAuthRequired = errors.New("humy: authentication required")
	// ErrStopped is reported after an explicit Stop or Close.
	ErrStopped = errors.New("humy: stopped")
	// ErrRetriesExhausted is reported when MaxReconnectAttempts is reached.
	ErrRetriesExhausted = errors.New("humy: reconnect attempts exhausted")
	// ErrLoadInFlight is returned when an older-page load is already running.
	ErrLoadInFlight = errors.New("humy: history load already in flight")
	// ErrStaleResponse is returned when a page arrives for a conversation
	// or cursor that is no longer current.
	ErrStaleResponse = errors.New("humy: stale history response")
	// ErrEmptyMessage is returned when sending blank content.
	ErrEmptyMessage = errors.New("humy: empty message")
	// ErrNoConversation is returned by LoadOlder before a first page.
	ErrNoConversation = errors.New("humy: no conversation loaded")
)

// CloseUnauthorized is the application close code the server uses when the
// socket's token is rejected.
const CloseUnauthorized = 4401

// CloseError describes how a live connection ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (%d)", e.Code)
	}
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// APIError represents a non-2xx answer from the REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether err is worth retrying later: network failures,
// rate limiting and server-side errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ============================================================================
// Connection state
// ============================================================================

// ConnectionState is the supervisor's view of its socket.
type ConnectionState string

const (
	StateIdle           ConnectionState = "idle"
	StateConnecting     ConnectionState = "connecting"
	StateOpen           ConnectionState = "open"
	StateClosedRetrying ConnectionState = "closed_retrying"
	StateClosedTerminal ConnectionState = "closed_terminal"
)

// ============================================================================
// Messages
// ============================================================================

// TempIDPrefix marks ids assigned locally to optimistic messages.
const TempIDPrefix = "tmp-"

// AttachmentKind is the rendering class of an attachment.
type AttachmentKind string

const (
	AttachmentNone  AttachmentKind = ""
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is passed through from the server untouched, apart from Kind.
type Attachment struct {
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
	Type string         `json:"type,omitempty"`
	Mime string         `json:"mime,omitempty"`
	Kind AttachmentKind `json:"kind"`
}

// Message is one entry of a conversation timeline.
type Message struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	AuthorID       *string     `json:"author_id,omitempty"`
	DisplayName    string      `json:"display_name"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	IsOwn   bool `json:"-"`
	Pending bool `json:"-"`
}

// IsTemporary reports whether the message still carries a local id.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Author returns the author id or "" when unknown.
func (m Message) Author() string {
	if m.AuthorID == nil {
		return ""
	}
	return *m.AuthorID
}

// ============================================================================
// History
// ============================================================================

// Page is one cursor page of conversation history.
type Page struct {
	ConversationID string
	Messages       []Message
	// Cursor points at the next older page; "" when exhausted.
	Cursor string
}

// HasMore reports whether an older page exists.
func (p *Page) HasMore() bool {
	return p != nil && p.Cursor != ""
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationItem is a toast shown to the user.
type NotificationItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Text      string          `json:"text"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationSnapshot is what bus subscribers observe.
type NotificationSnapshot struct {
	Unread int
	Items  []NotificationItem
	State  ConnectionState
}

// MarkReadResult is the server's answer to a mark-read call.
type MarkReadResult struct {
	Updated     int `json:"updated"`
	UnreadCount int `json:"unread_count"`
}

// ServerNotification is a stored notification as listed by the REST API.
type ServerNotification struct {
	ID        flexString      `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationList is one page of ServerNotification.
type NotificationList struct {
	Count   int                  `json:"count"`
	Next    string               `json:"next"`
	Results []ServerNotification `json:"results"`
}
