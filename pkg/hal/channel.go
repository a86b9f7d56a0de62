package hal

import (
	"sync"
	"sync/atomic"
)

// Op identifies one accepted data-movement operation on a Channel. Backends
// carry it into their completion path so that progress and terminal events of
// an aborted operation never leak into the next one.
type Op struct {
	gen   uint64
	abort <-chan struct{}
}

// Aborted is closed when the operation is aborted or the driver is
// uninitialized.
func (o Op) Aborted() <-chan struct{} {
	return o.abort
}

// Channel is the busy window and unit counter of one transfer direction.
// Half-duplex peripherals use a single Channel, full-duplex ones use one per
// direction.
type Channel struct {
	mu    sync.Mutex
	busy  bool
	gen   uint64
	abort chan struct{}
	count atomic.Uint32
}

// Begin opens the busy window. It fails with ErrBusy while an operation is
// outstanding and otherwise resets the counter to zero.
func (c *Channel) Begin() (Op, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return Op{}, ErrBusy
	}
	return c.beginLocked(), nil
}

func (c *Channel) beginLocked() Op {
	c.busy = true
	c.gen++
	c.abort = make(chan struct{})
	c.count.Store(0)
	return Op{gen: c.gen, abort: c.abort}
}

// BeginBoth opens the busy windows of tx and rx together, or neither.
func BeginBoth(tx, rx *Channel) (Op, Op, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	rx.mu.Lock()
	defer rx.mu.Unlock()
	if tx.busy || rx.busy {
		return Op{}, Op{}, ErrBusy
	}
	return tx.beginLocked(), rx.beginLocked(), nil
}

// End closes the busy window of op. It returns false when op is no longer
// current (aborted or superseded); the caller must then not signal a
// terminal event for it.
func (c *Channel) End(op Op) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy || c.gen != op.gen {
		return false
	}
	c.busy = false
	return true
}

// Abort terminates the outstanding operation, if any, and reports whether
// there was one.
func (c *Channel) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy {
		return false
	}
	c.busy = false
	c.gen++
	close(c.abort)
	return true
}

// Current reports whether op is the outstanding operation.
func (c *Channel) Current(op Op) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy && c.gen == op.gen
}

// Add advances the counter by n units if op is still current.
func (c *Channel) Add(op Op, n uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy || c.gen != op.gen {
		return false
	}
	c.count.Add(n)
	return true
}

// Busy reports whether an operation is outstanding.
func (c *Channel) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Count returns the units moved by the current or most recent operation.
func (c *Channel) Count() uint32 {
	return c.count.Load()
}
