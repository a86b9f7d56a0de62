package hal

import (
	"reflect"
	"sync"
)

// State is the lifecycle state of a driver instance.
type State int32

const (
	StateUninitialized State = iota
	StateIdle
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Lifecycle holds the initialized flag and the single callback slot of a
// driver instance. CB must be a func type. The zero value is uninitialized.
type Lifecycle[CB any] struct {
	mu          sync.RWMutex
	dispatchMu  sync.Mutex // held while a callback runs
	initialized bool
	cb          CB
}

// Initialize stores cb and moves to the idle state. It fails with
// ErrAlreadyInitialized when called twice and with ErrParameter for a nil
// callback; the state is left untouched in both cases.
func (l *Lifecycle[CB]) Initialize(cb CB) error {
	if isNilFunc(cb) {
		return ErrParameter
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return ErrAlreadyInitialized
	}
	l.cb = cb
	l.initialized = true
	return nil
}

// Uninitialize drops the callback. It reports whether the instance was
// initialized, so callers can skip hardware teardown on the no-op path.
//
// Uninitialize waits for a callback in progress to return, so no callback
// runs once it has returned. It must not be called from the callback.
func (l *Lifecycle[CB]) Uninitialize() bool {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return false
	}
	var zero CB
	l.cb = zero
	l.initialized = false
	return true
}

// Initialized reports whether Initialize succeeded and Uninitialize has not
// run since.
func (l *Lifecycle[CB]) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// Ready returns ErrNotInitialized unless the instance is initialized.
func (l *Lifecycle[CB]) Ready() error {
	if !l.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

// Callback returns the registered callback. ok is false once the instance is
// uninitialized, in which case nothing must be signaled.
func (l *Lifecycle[CB]) Callback() (cb CB, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cb, l.initialized
}

// Dispatch calls fn with the registered callback unless the instance is
// uninitialized. Callbacks of one instance never run concurrently.
func (l *Lifecycle[CB]) Dispatch(fn func(cb CB)) bool {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	cb, ok := l.Callback()
	if !ok {
		return false
	}
	fn(cb)
	return true
}

// State folds the initialized flag and the busy flags of chans into one
// lifecycle state.
func (l *Lifecycle[CB]) State(chans ...*Channel) State {
	if !l.Initialized() {
		return StateUninitialized
	}
	for _, c := range chans {
		if c.Busy() {
			return StateBusy
		}
	}
	return StateIdle
}

func isNilFunc(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Func && rv.IsNil()
}
