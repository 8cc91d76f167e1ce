package humy

import "sync"

// listeners is an ordered set of callbacks. Callbacks run synchronously on
// the emitting goroutine; a panicking callback does not stop the others.
type listeners[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id int
	fn func(T)
}

// add registers fn and returns a function that removes it.
func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	entries := l.entries
	l.mu.RUnlock()
	for _, e := range entries {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			e.fn(v)
		}()
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
