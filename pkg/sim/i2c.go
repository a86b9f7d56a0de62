package sim

import (
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/i2c"
)

// I2C is a controller on a simulated Bus. As master it moves one byte per
// tick (the address phase takes one tick too). As slave it is driven by the
// master addressing its own address; a slave addressed without a matching
// SlaveTransmit or SlaveReceive outstanding signals SlaveTransmit or
// SlaveReceive and NACKs the address.
type I2C struct {
	lc    hal.Lifecycle[i2c.SignalEvent]
	ch    hal.Channel
	bus   *Bus
	clock Clock

	addrMu sync.Mutex // guards own; never held together with mu
	own    uint32

	mu          sync.Mutex
	speed       i2c.BusSpeed
	master      bool
	receiving   bool
	generalCall bool
	arbLost     bool
	busError    bool

	// outstanding slave operation
	slaveOp     hal.Op
	slaveBuf    []byte
	slaveActive bool // addressed in the current transaction
}

// NewI2C returns a controller connected to bus.
func NewI2C(bus *Bus, clock Clock) *I2C {
	return &I2C{bus: bus, clock: clock}
}

func (obj *I2C) Initialize(cb i2c.SignalEvent) error {
	return obj.lc.Initialize(cb)
}

func (obj *I2C) Uninitialize() error {
	obj.ch.Abort()
	obj.bus.stop(obj)
	obj.addrMu.Lock()
	if obj.own != 0 {
		obj.bus.Detach(obj.own)
		obj.own = 0
	}
	obj.addrMu.Unlock()
	obj.mu.Lock()
	obj.slaveBuf = nil
	obj.slaveActive = false
	obj.mu.Unlock()
	obj.lc.Uninitialize()
	return nil
}

func (obj *I2C) MasterTransmit(addr uint32, data []byte, xferPending bool) error {
	return obj.startMaster(addr, data, false, xferPending)
}

func (obj *I2C) MasterReceive(addr uint32, data []byte, xferPending bool) error {
	return obj.startMaster(addr, data, true, xferPending)
}

func (obj *I2C) startMaster(addr uint32, data []byte, read, xferPending bool) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(data) == 0 || !i2c.ValidAddress(addr) || addr&i2c.AddressGeneralCall != 0 {
		return fmt.Errorf("%w: %d bytes to %#x", hal.ErrParameter, len(data), addr)
	}
	if read && busKey(addr) == i2c.GeneralCallAddress {
		return fmt.Errorf("%w: receive from the general call address", hal.ErrParameter)
	}
	op, err := obj.ch.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.master = true
	obj.receiving = read
	obj.generalCall = false
	obj.arbLost = false
	obj.busError = false
	obj.mu.Unlock()

	hal.LogDebug(hal.ComponentI2C, "master transfer accepted", "addr", addr, "len", len(data), "read", read, "pending", xferPending)
	go func() {
		if ev := obj.masterTransfer(op, addr, data, read, xferPending); ev != 0 {
			obj.finish(op, ev)
		}
	}()
	return nil
}

// masterTransfer runs one master transfer and returns its terminal event, or
// zero when the transfer was aborted.
func (obj *I2C) masterTransfer(op hal.Op, addr uint32, data []byte, read, xferPending bool) i2c.Event {
	if !obj.clock.Tick(op.Aborted()) || !obj.ch.Current(op) {
		return 0
	}
	acked, fault := obj.bus.start(obj, addr, read)
	if fault != 0 {
		return obj.fault(fault)
	}
	if !acked {
		obj.bus.stop(obj)
		return i2c.EventTransferDone | i2c.EventTransferIncomplete | i2c.EventAddressNack
	}

	for i := range data {
		if !obj.clock.Tick(op.Aborted()) || !obj.ch.Current(op) {
			return 0
		}
		if read {
			b, fault := obj.bus.read(obj)
			if fault != 0 {
				return obj.fault(fault)
			}
			data[i] = b
		} else {
			ack, fault := obj.bus.write(obj, data[i])
			if fault != 0 {
				return obj.fault(fault)
			}
			if !ack {
				obj.bus.stop(obj)
				return i2c.EventTransferDone | i2c.EventTransferIncomplete
			}
		}
		obj.ch.Add(op, 1)
	}
	if !xferPending {
		obj.bus.stop(obj)
	}
	return i2c.EventTransferDone
}

func (obj *I2C) fault(ev i2c.Event) i2c.Event {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if ev == i2c.EventArbitrationLost {
		obj.arbLost = true
	} else {
		obj.busError = true
	}
	return ev | i2c.EventTransferIncomplete
}

func (obj *I2C) finish(op hal.Op, ev i2c.Event) {
	if !obj.ch.End(op) {
		return
	}
	hal.LogDebug(hal.ComponentI2C, "transfer finished", "event", ev, "count", obj.ch.Count())
	obj.signal(ev)
}

func (obj *I2C) signal(ev i2c.Event) {
	obj.lc.Dispatch(func(cb i2c.SignalEvent) {
		cb(ev)
	})
}

func (obj *I2C) SlaveTransmit(data []byte) error {
	return obj.startSlave(data, false)
}

func (obj *I2C) SlaveReceive(data []byte) error {
	return obj.startSlave(data, true)
}

func (obj *I2C) startSlave(data []byte, receive bool) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty slave buffer", hal.ErrParameter)
	}
	obj.addrMu.Lock()
	own := obj.own
	obj.addrMu.Unlock()
	if own == 0 {
		return fmt.Errorf("%w: no own address set", hal.ErrGeneric)
	}
	op, err := obj.ch.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.master = false
	obj.receiving = receive
	obj.generalCall = false
	obj.arbLost = false
	obj.busError = false
	obj.slaveOp = op
	obj.slaveBuf = data
	obj.slaveActive = false
	obj.mu.Unlock()
	hal.LogDebug(hal.ComponentI2C, "slave transfer accepted", "len", len(data), "receive", receive)
	return nil
}

func (obj *I2C) GetDataCount() uint32 {
	return obj.ch.Count()
}

func (obj *I2C) SetBusSpeed(speed i2c.BusSpeed) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if speed.Hz() == 0 {
		return fmt.Errorf("%w: bus speed %d", hal.ErrUnsupported, speed)
	}
	if obj.ch.Busy() {
		return hal.ErrBusy
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.speed = speed
	return nil
}

// BusSpeed returns the configured bus speed.
func (obj *I2C) BusSpeed() i2c.BusSpeed {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.speed
}

func (obj *I2C) SetOwnAddress(addr uint32) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if !i2c.ValidAddress(addr) {
		return fmt.Errorf("%w: own address %#x", hal.ErrParameter, addr)
	}
	if obj.ch.Busy() {
		return hal.ErrBusy
	}
	obj.addrMu.Lock()
	defer obj.addrMu.Unlock()
	if obj.own != 0 {
		obj.bus.Detach(obj.own)
		obj.own = 0
	}
	if addr == 0 {
		return nil
	}
	if err := obj.bus.Attach(addr, slavePort{obj}); err != nil {
		return fmt.Errorf("failed to attach own address: %w", err)
	}
	obj.own = addr
	return nil
}

func (obj *I2C) ClearBus() error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.ch.Abort()
	obj.bus.clear()
	op, err := obj.ch.Begin()
	if err != nil {
		return err
	}
	go func() {
		if obj.clock.Tick(op.Aborted()) {
			obj.finish(op, i2c.EventBusCleared)
		}
	}()
	return nil
}

func (obj *I2C) AbortTransfer() error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if obj.ch.Abort() {
		hal.LogDebug(hal.ComponentI2C, "transfer aborted", "count", obj.ch.Count())
	}
	obj.bus.stop(obj)
	obj.mu.Lock()
	obj.slaveActive = false
	obj.mu.Unlock()
	return nil
}

func (obj *I2C) State() hal.State {
	return obj.lc.State(&obj.ch)
}

func (obj *I2C) GetStatus() i2c.Status {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return i2c.Status{
		Busy:            obj.ch.Busy(),
		Master:          obj.master,
		Receiving:       obj.receiving,
		GeneralCall:     obj.generalCall,
		ArbitrationLost: obj.arbLost,
		BusError:        obj.busError,
	}
}

// slavePort is the bus side of an I2C controller in slave mode.
type slavePort struct {
	obj *I2C
}

func (p slavePort) Address(read, generalCall bool) bool {
	obj := p.obj
	obj.mu.Lock()
	pending := obj.slaveBuf != nil && obj.ch.Current(obj.slaveOp) && obj.receiving != read
	if pending {
		obj.slaveActive = true
		obj.generalCall = generalCall
	}
	obj.mu.Unlock()
	if pending {
		return true
	}

	ev := i2c.EventSlaveReceive
	if read {
		ev = i2c.EventSlaveTransmit
	}
	if generalCall {
		ev |= i2c.EventGeneralCall
	}
	obj.signal(ev)
	return false
}

func (p slavePort) Write(b byte) bool {
	obj := p.obj
	obj.mu.Lock()
	if !obj.slaveActive || !obj.receiving || !obj.ch.Current(obj.slaveOp) {
		obj.mu.Unlock()
		return false
	}
	op := obj.slaveOp
	n := obj.ch.Count()
	obj.slaveBuf[n] = b
	obj.ch.Add(op, 1)
	full := int(n)+1 == len(obj.slaveBuf)
	ev := obj.slaveEventLocked(i2c.EventTransferDone)
	if full {
		obj.slaveActive = false
	}
	obj.mu.Unlock()

	if full {
		obj.finish(op, ev)
	}
	return true
}

func (p slavePort) Read() byte {
	obj := p.obj
	obj.mu.Lock()
	if !obj.slaveActive || obj.receiving || !obj.ch.Current(obj.slaveOp) {
		obj.mu.Unlock()
		return 0xFF
	}
	op := obj.slaveOp
	n := obj.ch.Count()
	b := obj.slaveBuf[n]
	obj.ch.Add(op, 1)
	empty := int(n)+1 == len(obj.slaveBuf)
	ev := obj.slaveEventLocked(i2c.EventTransferDone)
	if empty {
		obj.slaveActive = false
	}
	obj.mu.Unlock()

	if empty {
		obj.finish(op, ev)
	}
	return b
}

func (p slavePort) Stop() {
	obj := p.obj
	obj.mu.Lock()
	if !obj.slaveActive {
		obj.mu.Unlock()
		return
	}
	obj.slaveActive = false
	op := obj.slaveOp
	ev := obj.slaveEventLocked(i2c.EventTransferDone | i2c.EventTransferIncomplete)
	obj.mu.Unlock()
	obj.finish(op, ev)
}

func (obj *I2C) slaveEventLocked(ev i2c.Event) i2c.Event {
	if obj.generalCall {
		ev |= i2c.EventGeneralCall
	}
	return ev
}
