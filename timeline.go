package humy

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// echoMatchWindow bounds how far apart an optimistic entry and an untagged
// echo of the same text may be.
const echoMatchWindow = 10 * time.Second

// LiveResult describes what ApplyLive did.
type LiveResult struct {
	// Added is true when the timeline grew.
	Added bool
	// Updated is true when an existing message changed in place.
	Updated bool
	// Replaced is the temporary id that the message confirmed, if any.
	Replaced string
}

// Timeline is one conversation's ordered message list. Messages are unique
// by ID and kept in ascending CreatedAt order; entries with equal timestamps
// keep their arrival order.
type Timeline struct {
	mu           sync.Mutex
	conversation string
	identity     Identity
	items        []Message
}

// NewTimeline creates an empty timeline for the given local user.
func NewTimeline(identity Identity) *Timeline {
	return &Timeline{identity: identity}
}

// SetIdentity changes the local user and recomputes ownership.
func (t *Timeline) SetIdentity(id Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identity = id
	for i := range t.items {
		if t.items[i].IsTemporary() {
			continue
		}
		t.items[i].IsOwn = id.Owns(t.items[i])
	}
}

// Conversation returns the conversation the timeline currently shows.
func (t *Timeline) Conversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversation
}

// Reset replaces the whole timeline with the first page of a conversation.
func (t *Timeline) Reset(conversationID string, batch []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversation = conversationID
	t.items = t.items[:0:0]
	seen := make(map[string]bool, len(batch))
	for _, m := range batch {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		t.items = append(t.items, t.prepare(m))
	}
	sort.SliceStable(t.items, func(i, j int) bool {
		return t.items[i].CreatedAt.Before(t.items[j].CreatedAt)
	})
}

// Merge inserts a backfill batch. Messages already present are left alone
// and nothing is removed. It returns how many messages were added.
func (t *Timeline) Merge(batch []Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, m := range batch {
		if m.ID == "" || t.indexOf(m.ID) >= 0 {
			continue
		}
		t.insert(t.prepare(m))
		added++
	}
	return added
}

// ApplyLive reconciles one message received on the socket. In order: an
// echo of a pending temporary id replaces it; a known id is updated in
// place; an untagged own message matching a recent pending entry by text
// replaces it; anything else is inserted.
func (t *Timeline) ApplyLive(m Message) LiveResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ID == "" {
		return LiveResult{}
	}
	m = t.prepare(m)

	if m.ClientID != "" {
		if i := t.indexOf(m.ClientID); i >= 0 && t.items[i].IsTemporary() {
			return t.confirm(i, m)
		}
	}

	if i := t.indexOf(m.ID); i >= 0 {
		prev := t.items[i]
		m.IsOwn = m.IsOwn || prev.IsOwn
		if m.ClientID == "" {
			m.ClientID = prev.ClientID
		}
		if m.CreatedAt.Equal(prev.CreatedAt) {
			t.items[i] = m
		} else {
			t.removeAt(i)
			t.insert(m)
		}
		return LiveResult{Updated: true}
	}

	if t.mightBeOwn(m) {
		if i := t.pendingEcho(m); i >= 0 {
			return t.confirm(i, m)
		}
	}

	t.insert(m)
	return LiveResult{Added: true}
}

// AddOptimistic appends a pending local message and returns it. The caller
// sends it with the returned temporary id.
func (t *Timeline) AddOptimistic(content string, now time.Time) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Message{
		ID:             TempIDPrefix + uuid.NewString(),
		ConversationID: t.conversation,
		DisplayName:    t.identity.Name(),
		Content:        content,
		CreatedAt:      now.UTC(),
		IsOwn:          true,
		Pending:        true,
	}
	if t.identity.UserID != "" {
		author := t.identity.UserID
		m.AuthorID = &author
	}
	m.ClientID = m.ID
	t.insert(m)
	return m, nil
}

// Remove drops a message by id.
func (t *Timeline) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.removeAt(i)
	return true
}

// Messages returns a copy of the ordered messages.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.items))
	copy(out, t.items)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Get returns the message with the given id.
func (t *Timeline) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(id); i >= 0 {
		return t.items[i], true
	}
	return Message{}, false
}

// ── internals (t.mu held) ───────────────────────────────

func (t *Timeline) prepare(m Message) Message {
	if m.ConversationID == "" {
		m.ConversationID = t.conversation
	}
	m.IsOwn = t.identity.Owns(m)
	m.Pending = false
	return m
}

func (t *Timeline) confirm(i int, m Message) LiveResult {
	tempID := t.items[i].ID
	m.IsOwn = true
	m.ClientID = tempID
	if m.AuthorID == nil {
		m.AuthorID = t.items[i].AuthorID
	}
	t.removeAt(i)
	if j := t.indexOf(m.ID); j >= 0 {
		// The server id arrived earlier through another path.
		t.removeAt(j)
	}
	t.insert(m)
	return LiveResult{Replaced: tempID}
}

// mightBeOwn reports whether m can be matched against pending entries.
// Some servers omit the author on live frames, so an authorless message
// carrying the local display name qualifies too.
func (t *Timeline) mightBeOwn(m Message) bool {
	if m.IsOwn {
		return true
	}
	return m.AuthorID == nil && m.DisplayName == t.identity.Name()
}

func (t *Timeline) pendingEcho(m Message) int {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return -1
	}
	for i, p := range t.items {
		if !p.Pending || !p.IsTemporary() {
			continue
		}
		if strings.TrimSpace(p.Content) != content {
			continue
		}
		d := m.CreatedAt.Sub(p.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < echoMatchWindow {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOf(id string) int {
	for i := range t.items {
		if t.items[i].ID == id {
			return i
		}
	}
	return -1
}

// insert places m after every entry with CreatedAt <= m.CreatedAt.
func (t *Timeline) insert(m Message) {
	i := sort.Search(len(t.items), func(i int) bool {
		return t.items[i].CreatedAt.After(m.CreatedAt)
	})
	t.items = append(t.items, Message{})
	copy(t.items[i+1:], t.items[i:])
	t.items[i] = m
}

func (t *Timeline) removeAt(i int) {
	t.items = append(t.items[:i], t.items[i+1:]...)
}
