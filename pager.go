package humy

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// HistorySource fetches one page of a conversation's history. An empty
// cursor requests the newest page.
type HistorySource interface {
	FetchPage(ctx context.Context, conversationID, cursor string) (*Page, error)
}

// HistorySourceFunc adapts a function to HistorySource.
type HistorySourceFunc func(ctx context.Context, conversationID, cursor string) (*Page, error)

func (f HistorySourceFunc) FetchPage(ctx context.Context, conversationID, cursor string) (*Page, error) {
	return f(ctx, conversationID, cursor)
}

// Pager walks a conversation's history backwards, one page at a time.
// At most one older-page request runs at once; responses that arrive after
// the conversation changed are discarded.
type Pager struct {
	source HistorySource
	log    zerolog.Logger

	mu           sync.Mutex
	conversation string
	cursor       string
	loaded       bool
	inFlight     bool
	epoch        uint64
}

// NewPager creates a pager reading from source.
func NewPager(source HistorySource, logger zerolog.Logger) *Pager {
	return &Pager{source: source, log: logger}
}

// LoadFirstPage switches to conversationID and fetches its newest page.
// Messages come back sorted ascending by CreatedAt.
func (p *Pager) LoadFirstPage(ctx context.Context, conversationID string) (*Page, error) {
	p.mu.Lock()
	p.epoch++
	epoch := p.epoch
	p.conversation = conversationID
	p.cursor = ""
	p.loaded = false
	p.inFlight = false
	p.mu.Unlock()

	page, err := p.source.FetchPage(ctx, conversationID, "")

	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		return nil, ErrStaleResponse
	}
	if err != nil {
		p.log.Warn().Err(err).Str("conversation", conversationID).Msg("[history] first page failed")
		return nil, err
	}
	p.cursor = page.Cursor
	p.loaded = true
	page.ConversationID = conversationID
	SortMessages(page.Messages)
	return page, nil
}

// LoadOlder fetches the page before the last one loaded. It returns
// (nil, nil) when there is nothing older, ErrLoadInFlight when a load is
// already running and ErrStaleResponse when the conversation changed while
// waiting. A failed load leaves the cursor as it was, so calling again
// retries the same page.
func (p *Pager) LoadOlder(ctx context.Context) (*Page, error) {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return nil, ErrNoConversation
	}
	if p.cursor == "" {
		p.mu.Unlock()
		return nil, nil
	}
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrLoadInFlight
	}
	p.inFlight = true
	epoch, conv, cursor := p.epoch, p.conversation, p.cursor
	p.mu.Unlock()

	page, err := p.source.FetchPage(ctx, conv, cursor)

	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch || p.cursor != cursor {
		return nil, ErrStaleResponse
	}
	p.inFlight = false
	if err != nil {
		p.log.Warn().Err(err).Str("conversation", conv).Msg("[history] older page failed")
		return nil, err
	}
	p.cursor = page.Cursor
	page.ConversationID = conv
	SortMessages(page.Messages)
	return page, nil
}

// HasMore reports whether an older page exists.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.cursor != ""
}

// Loading reports whether an older-page request is running.
func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Cursor returns the cursor of the next older page.
func (p *Pager) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Conversation returns the current conversation id.
func (p *Pager) Conversation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversation
}

// SortMessages orders messages ascending by CreatedAt, keeping the input
// order for equal timestamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// ExtractCursor returns the "cursor" query parameter of a pagination link,
// or "" when the link is empty or has none.
func ExtractCursor(next string) string {
	if next == "" {
		return ""
	}
	if u, err := url.Parse(next); err == nil {
		if c := u.Query().Get("cursor"); c != "" {
			return c
		}
	}
	// Tolerate links that do not parse as URLs.
	i := strings.Index(next, "cursor=")
	if i < 0 || (i > 0 && next[i-1] != '?' && next[i-1] != '&') {
		return ""
	}
	raw := next[i+len("cursor="):]
	if j := strings.IndexByte(raw, '&'); j >= 0 {
		raw = raw[:j]
	}
	if v, err := url.QueryUnescape(raw); err == nil {
		return v
	}
	return raw
}
