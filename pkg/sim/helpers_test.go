package sim

import (
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recorder collects callback arguments.
type recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *recorder[E]) record(ev E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder[E]) snapshot() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.events...)
}

func (r *recorder[E]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder[E]) last() E {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero E
	if len(r.events) == 0 {
		return zero
	}
	return r.events[len(r.events)-1]
}
