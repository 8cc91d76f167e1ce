package humy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// Read; drop makes Read fail as if the server closed the socket.
type fakeConn struct {
	in     chan []byte
	drops  chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	code    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		drops:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.drops:
		return nil, err
	case <-c.closed:
		return nil, &CloseError{Code: closeNormal}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.code = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) deliver(frame string) { c.in <- []byte(frame) }

func (c *fakeConn) drop(code int) { c.drops <- &CloseError{Code: code} }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// framesOfType returns the written frames whose "type" equals typ.
func (c *fakeConn) framesOfType(typ string) []gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gjson.Result
	for _, w := range c.written {
		if r := gjson.ParseBytes(w); r.Get("type").String() == typ {
			out = append(out, r)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. fail, when set, decides per attempt
// (1-based) whether the dial is refused.
type fakeDialer struct {
	fail func(n int) error

	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.urls = append(d.urls, url)
	n := len(d.urls)
	d.mu.Unlock()

	if d.fail != nil {
		if err := d.fail(n); err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// msg builds a server message sent offset after baseTime.
func msg(id, author, content string, offset time.Duration) Message {
	m := Message{ID: id, Content: content, DisplayName: "someone", CreatedAt: baseTime.Add(offset)}
	if author != "" {
		m.AuthorID = strPtr(author)
	}
	return m
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
