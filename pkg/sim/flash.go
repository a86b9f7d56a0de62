package sim

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

type FlashOption func(*Flash)

// WithoutChipErase makes EraseChip unsupported, as on devices that only
// erase sector by sector.
func WithoutChipErase() FlashOption {
	return func(obj *Flash) {
		obj.chipErase = false
	}
}

// Flash is a RAM backed NOR flash. Programming can only clear bits; a
// program unit that would need a 0 to 1 transition fails the operation with
// EventError. Reads and programs move one page per tick, erases one sector
// per tick.
type Flash struct {
	lc        hal.Lifecycle[flash.SignalEvent]
	ch        hal.Channel
	clock     Clock
	info      flash.Info
	chipErase bool

	mu     sync.Mutex
	mem    []byte
	failed atomic.Bool // latched status error
	inject atomic.Bool // fail the next unit
}

// NewFlash returns an erased device with the given geometry.
func NewFlash(info flash.Info, clock Clock, opts ...FlashOption) (*Flash, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create flash: %w", err)
	}
	obj := &Flash{
		clock:     clock,
		info:      info,
		chipErase: true,
		mem:       bytes.Repeat([]byte{info.ErasedValue}, int(info.Size())),
	}
	for _, opt := range opts {
		opt(obj)
	}
	return obj, nil
}

func (obj *Flash) Initialize(cb flash.SignalEvent) error {
	if err := obj.lc.Initialize(cb); err != nil {
		return err
	}
	hal.LogDebug(hal.ComponentFlash, "initialized", "size", obj.info.Size())
	return nil
}

func (obj *Flash) Uninitialize() error {
	obj.ch.Abort()
	if obj.lc.Uninitialize() {
		hal.LogDebug(hal.ComponentFlash, "uninitialized")
	}
	return nil
}

func (obj *Flash) ReadData(addr uint32, data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(data) == 0 || !obj.info.Contains(addr, len(data)) {
		return fmt.Errorf("%w: read of %d bytes at %#x", hal.ErrParameter, len(data), addr)
	}
	op, err := obj.begin()
	if err != nil {
		return err
	}
	base := obj.index(addr)
	hal.LogDebug(hal.ComponentFlash, "read accepted", "addr", addr, "len", len(data))
	go obj.run(op, len(data), int(obj.info.PageSize), func(off, n int) int {
		obj.mu.Lock()
		defer obj.mu.Unlock()
		return copy(data[off:off+n], obj.mem[base+off:])
	})
	return nil
}

func (obj *Flash) ProgramData(addr uint32, data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	unit := obj.info.ProgramUnit
	if len(data) == 0 || addr%unit != 0 || uint32(len(data))%unit != 0 {
		return fmt.Errorf("%w: program of %d bytes at %#x not aligned to %d", hal.ErrParameter, len(data), addr, unit)
	}
	if !obj.info.Contains(addr, len(data)) {
		return fmt.Errorf("%w: program of %d bytes at %#x", hal.ErrParameter, len(data), addr)
	}
	op, err := obj.begin()
	if err != nil {
		return err
	}
	src := bytes.Clone(data)
	base := obj.index(addr)
	hal.LogDebug(hal.ComponentFlash, "program accepted", "addr", addr, "len", len(data))
	go obj.run(op, len(src), int(obj.info.PageSize), func(off, n int) int {
		obj.mu.Lock()
		defer obj.mu.Unlock()
		done := 0
		for done < n {
			cells := obj.mem[base+off+done : base+off+done+int(unit)]
			want := src[off+done : off+done+int(unit)]
			if !programmable(cells, want) {
				hal.LogDebug(hal.ComponentFlash, "program needs erase", "addr", addr+uint32(off+done))
				break
			}
			for i := range cells {
				cells[i] &= want[i]
			}
			done += int(unit)
		}
		return done
	})
	return nil
}

func (obj *Flash) EraseSector(addr uint32) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	sector, ok := obj.info.Sector(addr)
	if !ok {
		return fmt.Errorf("%w: no sector at %#x", hal.ErrParameter, addr)
	}
	op, err := obj.begin()
	if err != nil {
		return err
	}
	hal.LogDebug(hal.ComponentFlash, "sector erase accepted", "start", sector.Start, "size", sector.Size())
	go obj.erase(op, []flash.SectorInfo{sector})
	return nil
}

func (obj *Flash) EraseChip() error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if !obj.chipErase {
		return fmt.Errorf("%w: chip erase", hal.ErrUnsupported)
	}
	op, err := obj.begin()
	if err != nil {
		return err
	}
	hal.LogDebug(hal.ComponentFlash, "chip erase accepted")
	go obj.erase(op, obj.sectors())
	return nil
}

func (obj *Flash) GetDataCount() uint32 {
	return obj.ch.Count()
}

// State reports whether the driver is uninitialized, idle or running an
// operation.
func (obj *Flash) State() hal.State {
	return obj.lc.State(&obj.ch)
}

func (obj *Flash) GetStatus() flash.Status {
	return flash.Status{
		Busy:  obj.ch.Busy(),
		Error: obj.failed.Load(),
	}
}

func (obj *Flash) GetInfo() flash.Info {
	return obj.info
}

// InjectError makes the next unit of the current or next operation fail.
func (obj *Flash) InjectError() {
	obj.inject.Store(true)
}

// Peek returns a copy of n bytes of memory at addr.
func (obj *Flash) Peek(addr uint32, n int) ([]byte, error) {
	if !obj.info.Contains(addr, n) {
		return nil, fmt.Errorf("%w: peek of %d bytes at %#x", hal.ErrParameter, n, addr)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	i := obj.index(addr)
	return bytes.Clone(obj.mem[i : i+n]), nil
}

func (obj *Flash) begin() (hal.Op, error) {
	op, err := obj.ch.Begin()
	if err != nil {
		return op, err
	}
	obj.failed.Store(false)
	return op, nil
}

func (obj *Flash) index(addr uint32) int {
	return int(addr - obj.info.Base())
}

func (obj *Flash) sectors() []flash.SectorInfo {
	if obj.info.Sectors != nil {
		return obj.info.Sectors
	}
	sectors := make([]flash.SectorInfo, obj.info.SectorCount)
	for i := range sectors {
		start := uint32(i) * obj.info.SectorSize
		sectors[i] = flash.SectorInfo{Start: start, End: start + obj.info.SectorSize - 1}
	}
	return sectors
}

func (obj *Flash) erase(op hal.Op, sectors []flash.SectorInfo) {
	for _, s := range sectors {
		if !obj.clock.Tick(op.Aborted()) || !obj.ch.Current(op) {
			return
		}
		if obj.inject.CompareAndSwap(true, false) {
			obj.finish(op, true)
			return
		}
		obj.mu.Lock()
		cells := obj.mem[obj.index(s.Start) : obj.index(s.End)+1]
		for i := range cells {
			cells[i] = obj.info.ErasedValue
		}
		obj.mu.Unlock()
		obj.ch.Add(op, s.Size())
	}
	obj.finish(op, false)
}

// run moves total bytes in chunks of unit, one chunk per tick. step returns
// the bytes it handled; a short count fails the operation.
func (obj *Flash) run(op hal.Op, total, unit int, step func(off, n int) int) {
	for off := 0; off < total; off += unit {
		if !obj.clock.Tick(op.Aborted()) || !obj.ch.Current(op) {
			return
		}
		n := min(unit, total-off)
		if obj.inject.CompareAndSwap(true, false) {
			obj.finish(op, true)
			return
		}
		done := step(off, n)
		obj.ch.Add(op, uint32(done))
		if done < n {
			obj.finish(op, true)
			return
		}
	}
	obj.finish(op, false)
}

func (obj *Flash) finish(op hal.Op, failed bool) {
	ev := flash.EventReady
	if failed {
		ev |= flash.EventError
		if obj.ch.Current(op) {
			obj.failed.Store(true)
		}
	}
	if !obj.ch.End(op) {
		return
	}
	hal.LogDebug(hal.ComponentFlash, "operation finished", "event", ev, "count", obj.ch.Count())
	obj.lc.Dispatch(func(cb flash.SignalEvent) {
		cb(ev)
	})
}

func programmable(cells, want []byte) bool {
	for i := range cells {
		if want[i]&^cells[i] != 0 {
			return false
		}
	}
	return true
}
