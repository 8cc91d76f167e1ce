package humy

import "testing"

func TestListeners(t *testing.T) {
	var l listeners[int]
	var got []string

	removeA := l.add(func(v int) { got = append(got, "a") })
	l.add(func(v int) { panic("bad listener") })
	l.add(func(v int) { got = append(got, "c") })

	l.emit(1)
	if !equalStrings(got, []string{"a", "c"}) {
		t.Fatalf("calls = %v", got)
	}

	removeA()
	removeA()
	if l.len() != 2 {
		t.Fatalf("len = %d", l.len())
	}

	got = nil
	l.emit(2)
	if !equalStrings(got, []string{"c"}) {
		t.Fatalf("calls = %v", got)
	}

	l.clear()
	got = nil
	l.emit(3)
	if len(got) != 0 || l.len() != 0 {
		t.Fatalf("after clear: %v", got)
	}
}

func TestListenersRemoveDuringEmit(t *testing.T) {
	var l listeners[int]
	calls := 0
	var remove func()
	remove = l.add(func(int) {
		calls++
		remove()
	})
	l.add(func(int) { calls++ })

	l.emit(0)
	l.emit(0)
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
