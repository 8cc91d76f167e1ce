// Package humy is the Go client for Humy chat's real-time layer: supervised
// sockets for conversations and notifications, cursor-paged history, an
// ordered message timeline with optimistic sends, typing/presence and an
// unread notification counter.
//
// Example:
//
//	client := humy.NewClient(humy.StaticToken(token), humy.WithBaseURL("https://humy.example"))
//	session := humy.NewSession(client, humy.SessionOptions{})
//	session.Start(ctx)
//	defer session.Close()
//
//	room, _ := session.OpenRoom(ctx, humy.RoomConversation("42"))
//	room.Subscribe(func(ev humy.RoomEvent) { ... })
//	room.Send("hello")
package humy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL  = "http://127.0.0.1:8000"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 30

	messagesCacheTTL = 30 * time.Second
)

// Client talks to the REST API and builds socket URLs.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	tokens     TokenSource
	cache      Cache
	log        zerolog.Logger
	pageSize   int
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithWebSocketURL overrides the socket origin, e.g. "wss://ws.humy.example".
// By default it is derived from the base URL.
func WithWebSocketURL(u string) ClientOption {
	return func(c *Client) { c.wsURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithCache caches immutable history pages.
func WithCache(cache Cache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = logger }
}

func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a client. tokens may be nil for anonymous use.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tokens:   tokens,
		log:      zerolog.Nop(),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	return c
}

// Token returns the current access token, or "".
func (c *Client) Token() string {
	return c.tokens.Token()
}

// Tokens returns the client's token source.
func (c *Client) Tokens() TokenSource {
	return c.tokens
}

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger {
	return c.log
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("[api] request")
	return data, nil
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		e.Code = r.Get("code").String()
		e.Message = r.Get("detail").String()
		if e.Message == "" {
			e.Message = r.Get("message").String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// History
// ============================================================================

// ConversationKind selects the history endpoint of a conversation. Both
// kinds share the chat socket.
type ConversationKind string

const (
	KindRoom   ConversationKind = "room"
	KindDirect ConversationKind = "direct"
)

// FetchRoomPage fetches one page of a public room's history.
func (c *Client) FetchRoomPage(ctx context.Context, roomID, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.fetchPage(ctx, "chat-messages-"+roomID, "/api/messages/", q, roomID, cursor)
}

// FetchDirectPage fetches one page of a direct conversation's history.
func (c *Client) FetchDirectPage(ctx context.Context, conversationID, cursor string) (*Page, error) {
	var q url.Values
	if cursor != "" {
		q = url.Values{}
		q.Set("cursor", cursor)
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages/"
	return c.fetchPage(ctx, "conversation-messages-"+conversationID, path, q, conversationID, cursor)
}

// History returns the HistorySource for conversations of kind.
func (c *Client) History(kind ConversationKind) HistorySource {
	if kind == KindDirect {
		return HistorySourceFunc(c.FetchDirectPage)
	}
	return HistorySourceFunc(c.FetchRoomPage)
}

// InvalidateHistory drops cached pages of a conversation.
func (c *Client) InvalidateHistory(conversationID string) {
	mc, ok := c.cache.(*MemoryCache)
	if !ok {
		return
	}
	mc.Invalidate("chat-messages-" + conversationID + ":")
	mc.Invalidate("conversation-messages-" + conversationID + ":")
}

// fetchPage loads a page, consulting the cache for cursor pages only: the
// newest page changes with every message, older ones do not.
func (c *Client) fetchPage(ctx context.Context, cacheKey, path string, q url.Values, conversationID, cursor string) (*Page, error) {
	key := cacheKey + ":" + cursor
	if c.cache != nil && cursor != "" {
		if data, ok := c.cache.Get(key); ok {
			return decodePage(data, conversationID)
		}
	}

	data, err := c.doRequest(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	page, err := decodePage(data, conversationID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && cursor != "" {
		c.cache.Set(key, data, messagesCacheTTL)
	}
	return page, nil
}

// decodePage accepts {results, next} or a bare array.
func decodePage(data []byte, conversationID string) (*Page, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to unmarshal response: invalid json")
	}
	r := gjson.ParseBytes(data)
	page := &Page{ConversationID: conversationID}
	switch {
	case r.IsArray():
		page.Messages = decodeMessages(r)
	case r.IsObject():
		page.Messages = decodeMessages(r.Get("results"))
		page.Cursor = ExtractCursor(r.Get("next").String())
	default:
		return nil, fmt.Errorf("failed to unmarshal response: unexpected page shape")
	}
	for i := range page.Messages {
		if page.Messages[i].ConversationID == "" {
			page.Messages[i].ConversationID = conversationID
		}
	}
	return page, nil
}

// ============================================================================
// Notifications
// ============================================================================

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) (*MarkReadResult, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/api/notifications/mark-read/", map[string]any{"all": true}, nil)
	if err != nil {
		return nil, err
	}
	return decodeMarkRead(data)
}

// MarkRead marks the given notifications read.
func (c *Client) MarkRead(ctx context.Context, ids []int64) (*MarkReadResult, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/notifications/mark-read/", map[string]any{"ids": ids}, nil)
	if err != nil {
		return nil, err
	}
	return decodeMarkRead(data)
}

func decodeMarkRead(data []byte) (*MarkReadResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &MarkReadResult{}, nil
	}
	return decodeJSON[MarkReadResult](data)
}

// ListUnread lists unread notifications, newest first.
func (c *Client) ListUnread(ctx context.Context, page, pageSize int) (*NotificationList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	q := url.Values{}
	q.Set("is_read", "false")
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	data, err := c.doRequest(ctx, http.MethodGet, "/api/notifications/", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[NotificationList](data)
}

// ============================================================================
// Socket URLs
// ============================================================================

func (c *Client) socketBase() string {
	if c.wsURL != "" {
		return c.wsURL
	}
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

func withToken(u, token string) string {
	if token == "" {
		return u
	}
	return u + "?token=" + url.QueryEscape(token)
}

// ChatSocketURL returns the socket URL of a conversation.
func (c *Client) ChatSocketURL(id, token string) string {
	return withToken(c.socketBase()+"/ws/chat/"+url.PathEscape(id)+"/", token)
}

// NotificationsSocketURL returns the notification socket URL.
func (c *Client) NotificationsSocketURL(token string) string {
	return withToken(c.socketBase()+"/ws/notifications/", token)
}
