package hal

import (
	"context"
	"fmt"
	"sync"

	"github.com/mazen160/go-random"
)

type waiter[E any] struct {
	ch    chan E
	match func(E) bool
}

// Waiter turns driver callbacks into something a goroutine can block on. The
// driver callback calls Notify; blocking helpers register before starting an
// operation and wait for a matching event. Notify never blocks, so it is safe
// to call from the callback context.
type Waiter[E any] struct {
	mu      sync.Mutex
	waiters map[string]*waiter[E] // waiting goroutines keyed by random id
}

// NewWaiter returns an empty Waiter.
func NewWaiter[E any]() *Waiter[E] {
	return &Waiter[E]{waiters: make(map[string]*waiter[E])}
}

// Register adds a waiter released by the first event for which match returns
// true. A nil match accepts any event.
func (obj *Waiter[E]) Register(match func(E) bool) (string, <-chan E, error) {
	id, err := random.String(16)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate random id: %w", err)
	}
	w := &waiter[E]{ch: make(chan E, 1), match: match}
	obj.mu.Lock()
	obj.waiters[id] = w
	obj.mu.Unlock()
	return id, w.ch, nil
}

// Cancel drops a registration that will not be waited on any more.
func (obj *Waiter[E]) Cancel(id string) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	delete(obj.waiters, id)
}

// Notify releases every waiter whose match accepts ev.
func (obj *Waiter[E]) Notify(ev E) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	for id, w := range obj.waiters {
		if w.match != nil && !w.match(ev) {
			continue
		}
		w.ch <- ev
		close(w.ch)
		delete(obj.waiters, id)
	}
}

// Pending returns the number of registered waiters.
func (obj *Waiter[E]) Pending() int {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return len(obj.waiters)
}

// Await registers for a matching event, runs start and blocks until the
// event arrives or ctx is done. An acceptance error from start is returned
// as is; a done context yields ErrTimeout wrapping the context error.
func Await[E any](ctx context.Context, obj *Waiter[E], match func(E) bool, start func() error) (E, error) {
	var zero E
	id, ch, err := obj.Register(match)
	if err != nil {
		return zero, err
	}
	if err := start(); err != nil {
		obj.Cancel(id)
		return zero, err
	}
	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		obj.Cancel(id)
		return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
