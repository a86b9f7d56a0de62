package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/spi"
)

// Peer is the device at the other end of a SPI bus. It is handed every item
// clocked out and returns the item clocked in during the same frame.
type Peer func(item uint32) uint32

// Loopback is a Peer with MISO wired to MOSI.
func Loopback(item uint32) uint32 {
	return item
}

// SPI is a simulated SPI controller moving one item per tick. Items are
// little endian in the transfer buffers.
type SPI struct {
	lc    hal.Lifecycle[spi.SignalEvent]
	ch    hal.Channel
	clock Clock
	peer  Peer

	mu        sync.Mutex
	settings  spi.Settings
	defaultTx uint32
	ss        uint32
	dataLost  bool
	modeFault bool

	injectLost  atomic.Bool
	injectFault atomic.Bool
}

// NewSPI returns a controller talking to peer; a nil peer is Loopback.
func NewSPI(peer Peer, clock Clock) *SPI {
	if peer == nil {
		peer = Loopback
	}
	return &SPI{peer: peer, clock: clock}
}

func (obj *SPI) Initialize(cb spi.SignalEvent) error {
	return obj.lc.Initialize(cb)
}

func (obj *SPI) Uninitialize() error {
	obj.ch.Abort()
	obj.mu.Lock()
	obj.settings = spi.Settings{}
	obj.ss = spi.SSInactive
	obj.mu.Unlock()
	obj.lc.Uninitialize()
	return nil
}

func (obj *SPI) Send(data []byte) error {
	return obj.start(data, nil, len(data))
}

func (obj *SPI) Receive(data []byte) error {
	return obj.start(nil, data, len(data))
}

func (obj *SPI) Transfer(out, in []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(out) != len(in) {
		return fmt.Errorf("%w: transfer buffers of %d and %d bytes", hal.ErrParameter, len(out), len(in))
	}
	return obj.start(out, in, len(out))
}

func (obj *SPI) start(out, in []byte, size int) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	settings := obj.settings
	defaultTx := obj.defaultTx
	obj.mu.Unlock()
	if settings.Mode == spi.ModeInactive {
		return fmt.Errorf("%w: bus mode not configured", hal.ErrGeneric)
	}
	itemSize := settings.ItemSize()
	n, err := hal.Items(size, itemSize)
	if err != nil {
		return err
	}
	op, err := obj.ch.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.dataLost = false
	obj.modeFault = false
	obj.mu.Unlock()

	hal.LogDebug(hal.ComponentSPI, "transfer accepted", "items", n, "send", out != nil, "receive", in != nil)
	go obj.run(op, out, in, int(n), itemSize, settings, defaultTx)
	return nil
}

func (obj *SPI) run(op hal.Op, out, in []byte, n, itemSize int, settings spi.Settings, defaultTx uint32) {
	mask := itemMask(settings.DataBits)
	for i := 0; i < n; i++ {
		if !obj.clock.Tick(op.Aborted()) || !obj.ch.Current(op) {
			return
		}
		if settings.Master() && settings.SSMode == spi.SSMasterHWInput && obj.injectFault.CompareAndSwap(true, false) {
			obj.mu.Lock()
			obj.modeFault = true
			obj.settings.Mode = spi.ModeInactive
			obj.mu.Unlock()
			obj.finish(op, spi.EventModeFault)
			return
		}

		item := defaultTx
		if out != nil {
			item = getItem(out[i*itemSize:], itemSize)
		}
		got := obj.peer(item&mask) & mask
		if obj.injectLost.CompareAndSwap(true, false) {
			obj.mu.Lock()
			obj.dataLost = true
			obj.mu.Unlock()
			obj.signal(spi.EventDataLost)
		} else if in != nil {
			putItem(in[i*itemSize:], itemSize, got)
		}
		obj.ch.Add(op, 1)
	}
	obj.finish(op, spi.EventTransferComplete)
}

func (obj *SPI) finish(op hal.Op, ev spi.Event) {
	if !obj.ch.End(op) {
		return
	}
	hal.LogDebug(hal.ComponentSPI, "transfer finished", "event", ev, "count", obj.ch.Count())
	obj.signal(ev)
}

func (obj *SPI) signal(ev spi.Event) {
	obj.lc.Dispatch(func(cb spi.SignalEvent) {
		cb(ev)
	})
}

func (obj *SPI) GetDataCount() uint32 {
	return obj.ch.Count()
}

func (obj *SPI) Control(control uint32, arg uint32) (uint32, error) {
	if err := obj.lc.Ready(); err != nil {
		return 0, err
	}
	code := control & spi.ControlMask
	if spi.IsMode(control) {
		return 0, obj.configure(control, arg)
	}

	switch code {
	case spi.ControlSetBusSpeed:
		if arg == 0 {
			return 0, fmt.Errorf("%w: bus speed 0", hal.ErrParameter)
		}
		if obj.ch.Busy() {
			return 0, hal.ErrBusy
		}
		obj.mu.Lock()
		obj.settings.BusSpeed = arg
		obj.mu.Unlock()
		return 0, nil
	case spi.ControlGetBusSpeed:
		obj.mu.Lock()
		defer obj.mu.Unlock()
		return obj.settings.BusSpeed, nil
	case spi.ControlSetDefaultTxValue:
		obj.mu.Lock()
		obj.defaultTx = arg
		obj.mu.Unlock()
		return 0, nil
	case spi.ControlSS:
		if arg != spi.SSInactive && arg != spi.SSActive {
			return 0, fmt.Errorf("%w: slave select %d", hal.ErrParameter, arg)
		}
		obj.mu.Lock()
		defer obj.mu.Unlock()
		if !obj.settings.Master() || obj.settings.SSMode != spi.SSMasterSoftware {
			return 0, fmt.Errorf("%w: slave select is not under software control", hal.ErrGeneric)
		}
		obj.ss = arg
		return 0, nil
	case spi.ControlAbortTransfer:
		if obj.ch.Abort() {
			hal.LogDebug(hal.ComponentSPI, "transfer aborted", "count", obj.ch.Count())
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: control %#x", hal.ErrUnsupported, code)
	}
}

func (obj *SPI) configure(control, arg uint32) error {
	settings, err := spi.Decode(control, arg)
	if err != nil {
		return err
	}
	if obj.ch.Busy() {
		return hal.ErrBusy
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.settings = settings
	obj.ss = spi.SSInactive
	obj.modeFault = false
	hal.LogDebug(hal.ComponentSPI, "mode configured", "mode", settings.Mode, "bits", settings.DataBits, "speed", settings.BusSpeed)
	return nil
}

func (obj *SPI) State() hal.State {
	return obj.lc.State(&obj.ch)
}

func (obj *SPI) GetStatus() spi.Status {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return spi.Status{
		Busy:      obj.ch.Busy(),
		DataLost:  obj.dataLost,
		ModeFault: obj.modeFault,
	}
}

// Settings returns the active bus settings.
func (obj *SPI) Settings() spi.Settings {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.settings
}

// SlaveSelect returns the software slave select state.
func (obj *SPI) SlaveSelect() uint32 {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.ss
}

// InjectDataLost drops the next received item with a DataLost event.
func (obj *SPI) InjectDataLost() {
	obj.injectLost.Store(true)
}

// InjectModeFault deactivates the slave select input during the next item,
// which faults a master using the hardware slave select input.
func (obj *SPI) InjectModeFault() {
	obj.injectFault.Store(true)
}

func itemMask(bits uint32) uint32 {
	if bits >= 32 {
		return 0xFFFFFFFF
	}
	return 1<<bits - 1
}

func getItem(b []byte, size int) uint32 {
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func putItem(b []byte, size int, v uint32) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
