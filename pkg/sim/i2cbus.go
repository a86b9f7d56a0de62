package sim

import (
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/i2c"
)

// ConditionKind is a START, repeated START or STOP on the bus.
type ConditionKind int

const (
	Start ConditionKind = iota
	RepeatedStart
	Stop
)

func (k ConditionKind) String() string {
	switch k {
	case Start:
		return "S"
	case RepeatedStart:
		return "Sr"
	case Stop:
		return "P"
	default:
		return "?"
	}
}

// Condition is one entry of the bus log. Addr and Read are zero for STOP.
type Condition struct {
	Kind ConditionKind
	Addr uint32
	Read bool
}

func (c Condition) String() string {
	if c.Kind == Stop {
		return c.Kind.String()
	}
	dir := "W"
	if c.Read {
		dir = "R"
	}
	return fmt.Sprintf("%s %#x %s", c.Kind, c.Addr, dir)
}

// Target is a device answering on the bus. The bus calls it with its own
// lock held; a target must not call back into the bus.
type Target interface {
	// Address is called after a START or repeated START naming the target;
	// returning false NACKs the address.
	Address(read, generalCall bool) bool
	// Write receives one byte from the master; false NACKs it.
	Write(b byte) bool
	// Read returns the next byte for the master.
	Read() byte
	// Stop ends the transaction.
	Stop()
}

type busEntry struct {
	target Target
	gc     bool // also answers the general call
}

// Bus connects simulated I2C masters and targets. A master that finishes a
// transfer with xferPending keeps the bus; its next transfer starts with a
// repeated START and any other master loses arbitration meanwhile.
type Bus struct {
	mu       sync.Mutex
	targets  map[uint32]busEntry
	owner    *I2C
	active   []Target
	log      []Condition
	arbLost  bool
	busError bool
}

func NewBus() *Bus {
	return &Bus{targets: make(map[uint32]busEntry)}
}

func busKey(addr uint32) uint32 {
	return addr & (i2c.AddressMask | i2c.Address10Bit)
}

// Attach places t at addr. The AddressGeneralCall flag makes it answer the
// general call as well.
func (obj *Bus) Attach(addr uint32, t Target) error {
	if !i2c.ValidAddress(addr) {
		return fmt.Errorf("%w: address %#x", hal.ErrParameter, addr)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	key := busKey(addr)
	if _, ok := obj.targets[key]; ok {
		return fmt.Errorf("%w: address %#x in use", hal.ErrParameter, key)
	}
	obj.targets[key] = busEntry{target: t, gc: addr&i2c.AddressGeneralCall != 0}
	return nil
}

// Detach removes the target at addr.
func (obj *Bus) Detach(addr uint32) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	delete(obj.targets, busKey(addr))
}

// Conditions returns the bus log.
func (obj *Bus) Conditions() []Condition {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return append([]Condition(nil), obj.log...)
}

// ResetLog clears the bus log.
func (obj *Bus) ResetLog() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.log = nil
}

// InjectArbitrationLost makes the next bus cycle of any master lose
// arbitration.
func (obj *Bus) InjectArbitrationLost() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.arbLost = true
}

// InjectBusError makes the next bus cycle of any master fail with a
// misplaced START or STOP.
func (obj *Bus) InjectBusError() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.busError = true
}

// faultLocked consumes an injected fault.
func (obj *Bus) faultLocked(m *I2C) i2c.Event {
	switch {
	case obj.arbLost:
		obj.arbLost = false
		obj.resetLocked(m)
		return i2c.EventArbitrationLost
	case obj.busError:
		obj.busError = false
		obj.resetLocked(m)
		return i2c.EventBusError
	}
	return 0
}

func (obj *Bus) resetLocked(m *I2C) {
	if obj.owner != m {
		return
	}
	obj.endLocked()
	obj.owner = nil
}

func (obj *Bus) endLocked() {
	for _, t := range obj.active {
		t.Stop()
	}
	obj.active = nil
}

// start addresses the targets at addr. It reports whether any of them
// acknowledged, or the fault that ended the cycle.
func (obj *Bus) start(m *I2C, addr uint32, read bool) (bool, i2c.Event) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if ev := obj.faultLocked(m); ev != 0 {
		return false, ev
	}
	switch obj.owner {
	case nil:
		obj.owner = m
		obj.log = append(obj.log, Condition{Kind: Start, Addr: addr, Read: read})
	case m:
		obj.endLocked()
		obj.log = append(obj.log, Condition{Kind: RepeatedStart, Addr: addr, Read: read})
	default:
		return false, i2c.EventArbitrationLost
	}

	key := busKey(addr)
	if key == i2c.GeneralCallAddress {
		for _, e := range obj.targets {
			if e.gc && e.target.Address(false, true) {
				obj.active = append(obj.active, e.target)
			}
		}
	} else if e, ok := obj.targets[key]; ok && e.target.Address(read, false) {
		obj.active = append(obj.active, e.target)
	}
	return len(obj.active) > 0, 0
}

// write sends b to the addressed targets and reports whether any of them
// acknowledged.
func (obj *Bus) write(m *I2C, b byte) (bool, i2c.Event) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if ev := obj.faultLocked(m); ev != 0 {
		return false, ev
	}
	if obj.owner != m {
		return false, 0
	}
	ack := false
	for _, t := range obj.active {
		if t.Write(b) {
			ack = true
		}
	}
	return ack, 0
}

// read clocks one byte in from the addressed target. An idle bus reads 0xFF.
func (obj *Bus) read(m *I2C) (byte, i2c.Event) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if ev := obj.faultLocked(m); ev != 0 {
		return 0, ev
	}
	if obj.owner != m || len(obj.active) == 0 {
		return 0xFF, 0
	}
	return obj.active[0].Read(), 0
}

// stop ends the transaction of m with a STOP.
func (obj *Bus) stop(m *I2C) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.owner != m {
		return
	}
	obj.endLocked()
	obj.owner = nil
	obj.log = append(obj.log, Condition{Kind: Stop})
}

// clear releases the bus whoever holds it, as nine clock pulses followed by
// a STOP would.
func (obj *Bus) clear() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.endLocked()
	obj.owner = nil
	obj.log = append(obj.log, Condition{Kind: Stop})
}

// Memory is an EEPROM-like target with one-byte word addressing: the first
// byte of a write sets the address pointer, further bytes are stored and
// reads continue from the pointer. The pointer survives a repeated START.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	ptr     int
	pointer bool // next written byte is the word address
}

// NewMemory returns a target of size bytes, up to 256, filled with 0xFF.
func NewMemory(size int) *Memory {
	size = min(max(size, 1), 256)
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &Memory{data: data}
}

func (obj *Memory) Address(read, generalCall bool) bool {
	if generalCall {
		return false
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.pointer = !read
	return true
}

func (obj *Memory) Write(b byte) bool {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.pointer {
		obj.ptr = int(b) % len(obj.data)
		obj.pointer = false
		return true
	}
	obj.data[obj.ptr] = b
	obj.ptr = (obj.ptr + 1) % len(obj.data)
	return true
}

func (obj *Memory) Read() byte {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	b := obj.data[obj.ptr]
	obj.ptr = (obj.ptr + 1) % len(obj.data)
	return b
}

func (obj *Memory) Stop() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.pointer = false
}

// Bytes returns a copy of the memory content.
func (obj *Memory) Bytes() []byte {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return append([]byte(nil), obj.data...)
}
