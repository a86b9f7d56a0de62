package sim

import (
	"sync"
	"time"
)

// Clock paces a simulated device.
type Clock interface {
	// Tick blocks until the device may move one unit. It returns false if
	// abort is closed first.
	Tick(abort <-chan struct{}) bool
}

// FreeClock ticks every Period, or immediately when Period is zero.
type FreeClock struct {
	Period time.Duration
}

func (obj FreeClock) Tick(abort <-chan struct{}) bool {
	if obj.Period <= 0 {
		select {
		case <-abort:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(obj.Period)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-abort:
		return false
	}
}

// ManualClock ticks only when stepped. Tokens from Step accumulate until
// devices consume them, so stepping ahead of a device is fine.
type ManualClock struct {
	mu     sync.Mutex
	tokens int
	signal chan struct{}
}

func NewManualClock() *ManualClock {
	return &ManualClock{signal: make(chan struct{})}
}

// Step releases n ticks.
func (obj *ManualClock) Step(n int) {
	if n <= 0 {
		return
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.tokens += n
	close(obj.signal)
	obj.signal = make(chan struct{})
}

// Pending returns the number of released ticks not consumed yet.
func (obj *ManualClock) Pending() int {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.tokens
}

func (obj *ManualClock) Tick(abort <-chan struct{}) bool {
	for {
		select {
		case <-abort:
			return false
		default:
		}

		obj.mu.Lock()
		if obj.tokens > 0 {
			obj.tokens--
			obj.mu.Unlock()
			return true
		}
		signal := obj.signal
		obj.mu.Unlock()

		select {
		case <-signal:
		case <-abort:
			return false
		}
	}
}
