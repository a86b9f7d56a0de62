package sim

import (
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

// fifoSize is the receive FIFO depth in characters. Characters arriving
// without a receive outstanding wait there; one more is an overflow.
const fifoSize = 256

// USART is a simulated serial port. Two ports are wired back to back with
// Connect: TX to RX, RTS to CTS and DTR to DSR. The transmitting side moves
// one character per tick of its clock.
//
// Characters sent with a different baud rate, character size or stop bits
// than the receiver uses arrive with a framing error; a parity mismatch
// arrives with a parity error. A receive that holds some characters when
// the line goes idle signals RxTimeout and stays outstanding.
//
// In synchronous modes the master clocks both directions. A synchronous
// slave has no transfer goroutine of its own; its operations progress as the
// master clocks characters.
type USART struct {
	lc    hal.Lifecycle[usart.SignalEvent]
	tx    hal.Channel
	rx    hal.Channel
	clock Clock

	mu          sync.Mutex
	peer        *USART
	settings    usart.Settings
	txEnabled   bool
	rxEnabled   bool
	defaultTx   uint32
	txOp        hal.Op
	rxOp        hal.Op
	txBuf       []byte // synchronous slave transmit data
	rxBuf       []byte
	xfer        bool // outstanding operation is a Transfer
	fifo        []uint32
	txUnderflow bool
	rxOverflow  bool
	rxBreak     bool
	rxFraming   bool
	rxParity    bool

	// modem lines
	rts        bool
	dtr        bool
	cts        bool
	dsr        bool
	dcd        bool
	ri         bool
	ctsChanged chan struct{}

	injectFraming bool
	injectParity  bool
}

// NewUSART returns a port configured with usart.DefaultSettings, transmitter
// and receiver enabled.
func NewUSART(clock Clock) *USART {
	return &USART{
		clock:      clock,
		settings:   usart.DefaultSettings(),
		txEnabled:  true,
		rxEnabled:  true,
		ctsChanged: make(chan struct{}),
	}
}

// Connect wires a and b back to back.
func Connect(a, b *USART) {
	a.mu.Lock()
	a.peer = b
	rtsA, dtrA := a.rts, a.dtr
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	rtsB, dtrB := b.rts, b.dtr
	b.mu.Unlock()

	b.setInput(usart.EventCTS, rtsA)
	b.setInput(usart.EventDSR, dtrA)
	a.setInput(usart.EventCTS, rtsB)
	a.setInput(usart.EventDSR, dtrB)
}

func (obj *USART) Initialize(cb usart.SignalEvent) error {
	return obj.lc.Initialize(cb)
}

func (obj *USART) Uninitialize() error {
	obj.abortTx()
	obj.abortRx()
	obj.mu.Lock()
	obj.fifo = nil
	obj.mu.Unlock()
	obj.lc.Uninitialize()
	return nil
}

func (obj *USART) Send(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	settings, enabled := obj.settings, obj.txEnabled
	obj.mu.Unlock()
	if !enabled {
		return fmt.Errorf("%w: transmitter disabled", hal.ErrGeneric)
	}
	size := settings.ItemSize()
	n, err := hal.Items(len(data), size)
	if err != nil {
		return err
	}
	op, err := obj.tx.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.txOp = op
	obj.txBuf = nil
	obj.xfer = false
	obj.txUnderflow = false
	if settings.Mode == usart.Mode(usart.ModeSynchronousSlave) {
		obj.txBuf = data
		obj.mu.Unlock()
		return nil
	}
	obj.mu.Unlock()

	hal.LogDebug(hal.ComponentUSART, "send accepted", "items", n)
	go obj.run(job{txOp: op, out: data, n: int(n), size: size, settings: settings, tx: true, done: usart.EventSendComplete | usart.EventTxComplete})
	return nil
}

func (obj *USART) Receive(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	settings, enabled, defaultTx := obj.settings, obj.rxEnabled, obj.defaultTx
	obj.mu.Unlock()
	if !enabled {
		return fmt.Errorf("%w: receiver disabled", hal.ErrGeneric)
	}
	size := settings.ItemSize()
	n, err := hal.Items(len(data), size)
	if err != nil {
		return err
	}
	op, err := obj.rx.Begin()
	if err != nil {
		return err
	}
	obj.armRx(op, data, false)
	hal.LogDebug(hal.ComponentUSART, "receive accepted", "items", n)

	if settings.Mode == usart.Mode(usart.ModeSynchronousMaster) {
		go obj.run(job{rxOp: op, in: data, n: int(n), size: size, settings: settings, rx: true, defaultTx: defaultTx, done: usart.EventReceiveComplete})
		return nil
	}
	obj.drainFIFO(op, size)
	return nil
}

func (obj *USART) Transfer(out, in []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	settings, enabled := obj.settings, obj.txEnabled && obj.rxEnabled
	obj.mu.Unlock()
	if !settings.Synchronous() {
		return fmt.Errorf("%w: transfer in asynchronous mode", hal.ErrUnsupported)
	}
	if !enabled {
		return fmt.Errorf("%w: transmitter or receiver disabled", hal.ErrGeneric)
	}
	if len(out) != len(in) {
		return fmt.Errorf("%w: transfer buffers of %d and %d bytes", hal.ErrParameter, len(out), len(in))
	}
	size := settings.ItemSize()
	n, err := hal.Items(len(out), size)
	if err != nil {
		return err
	}
	txOp, rxOp, err := hal.BeginBoth(&obj.tx, &obj.rx)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.txOp = txOp
	obj.txUnderflow = false
	obj.txBuf = nil
	obj.mu.Unlock()
	obj.armRx(rxOp, in, true)

	if settings.Mode == usart.Mode(usart.ModeSynchronousSlave) {
		obj.mu.Lock()
		obj.txBuf = out
		obj.mu.Unlock()
		return nil
	}
	go obj.run(job{txOp: txOp, rxOp: rxOp, out: out, in: in, n: int(n), size: size, settings: settings, tx: true, rx: true, done: usart.EventTransferComplete})
	return nil
}

func (obj *USART) armRx(op hal.Op, data []byte, xfer bool) {
	obj.mu.Lock()
	obj.rxOp = op
	obj.rxBuf = data
	obj.xfer = xfer
	obj.rxOverflow = false
	obj.rxBreak = false
	obj.rxFraming = false
	obj.rxParity = false
	obj.mu.Unlock()
	obj.autoRTS()
}

// drainFIFO moves waiting characters into a new receive.
func (obj *USART) drainFIFO(op hal.Op, size int) {
	obj.mu.Lock()
	moved := 0
	for len(obj.fifo) > 0 && int(obj.rx.Count())*size < len(obj.rxBuf) {
		putItem(obj.rxBuf[int(obj.rx.Count())*size:], size, obj.fifo[0])
		obj.fifo = obj.fifo[1:]
		obj.rx.Add(op, 1)
		moved++
	}
	full := int(obj.rx.Count())*size == len(obj.rxBuf)
	peer := obj.peer
	obj.mu.Unlock()

	switch {
	case moved > 0 && full:
		go obj.finishRx(op, usart.EventReceiveComplete)
	case moved > 0 && (peer == nil || !peer.tx.Busy()):
		go obj.idle(op)
	}
}

type job struct {
	txOp      hal.Op
	rxOp      hal.Op
	out       []byte
	in        []byte
	n         int
	size      int
	settings  usart.Settings
	tx        bool
	rx        bool
	defaultTx uint32
	done      usart.Event
}

func (j job) current(obj *USART) bool {
	return (!j.tx || obj.tx.Current(j.txOp)) && (!j.rx || obj.rx.Current(j.rxOp))
}

func (j job) aborted() <-chan struct{} {
	if j.tx {
		return j.txOp.Aborted()
	}
	return j.rxOp.Aborted()
}

// run clocks the characters of one operation out (and in, in synchronous
// master mode).
func (obj *USART) run(j job) {
	mask := itemMask(uint32(j.settings.DataBits))
	for i := 0; i < j.n; i++ {
		if !obj.clock.Tick(j.aborted()) || !j.current(obj) {
			return
		}
		if j.tx && !obj.waitCTS(j) {
			return
		}
		item := j.defaultTx
		if j.out != nil {
			item = getItem(j.out[i*j.size:], j.size)
		}

		obj.mu.Lock()
		peer := obj.peer
		obj.mu.Unlock()
		var in uint32 = 0xFFFFFFFF
		if peer != nil {
			peer.deliver(item&mask, j.settings, false)
			if j.in != nil {
				in = peer.supply()
			}
		}
		if j.in != nil {
			putItem(j.in[i*j.size:], j.size, in&mask)
		}
		if j.tx {
			obj.tx.Add(j.txOp, 1)
		}
		if j.rx {
			obj.rx.Add(j.rxOp, 1)
		}
	}

	ended := true
	if j.tx {
		ended = obj.tx.End(j.txOp) && ended
	}
	if j.rx {
		ended = obj.rx.End(j.rxOp) && ended
		obj.autoRTS()
	}
	if !ended {
		return
	}
	hal.LogDebug(hal.ComponentUSART, "operation finished", "event", j.done, "items", j.n)
	obj.signal(j.done)

	obj.mu.Lock()
	peer := obj.peer
	obj.mu.Unlock()
	if peer != nil && j.tx && !j.settings.Synchronous() {
		peer.lineIdle()
	}
}

// waitCTS holds the transmitter while hardware flow control is on and CTS
// is inactive.
func (obj *USART) waitCTS(j job) bool {
	if j.settings.FlowControl != usart.FlowCTS && j.settings.FlowControl != usart.FlowRTSCTS {
		return true
	}
	for {
		obj.mu.Lock()
		cts, changed := obj.cts, obj.ctsChanged
		obj.mu.Unlock()
		if cts {
			return true
		}
		select {
		case <-changed:
		case <-j.aborted():
			return false
		}
	}
}

// deliver receives one character from the peer.
func (obj *USART) deliver(item uint32, from usart.Settings, brk bool) {
	if !obj.lc.Initialized() {
		return
	}
	obj.mu.Lock()
	if !obj.rxEnabled {
		obj.mu.Unlock()
		return
	}
	var ev usart.Event
	own := obj.settings
	baudMismatch := from.Baud != own.Baud && !own.Synchronous()
	framing := obj.injectFraming || baudMismatch || from.DataBits != own.DataBits || from.StopBits != own.StopBits
	parity := obj.injectParity || from.Parity != own.Parity
	obj.injectFraming, obj.injectParity = false, false

	switch {
	case brk:
		obj.rxBreak = true
		ev |= usart.EventRxBreak
	case framing:
		obj.rxFraming = true
		ev |= usart.EventRxFramingError
	case parity:
		obj.rxParity = true
		ev |= usart.EventRxParityError
	}

	op := obj.rxOp
	full := false
	size := own.ItemSize()
	switch {
	case brk:
	case obj.rx.Current(op) && int(obj.rx.Count())*size < len(obj.rxBuf):
		putItem(obj.rxBuf[int(obj.rx.Count())*size:], size, item)
		obj.rx.Add(op, 1)
		full = int(obj.rx.Count())*size == len(obj.rxBuf) && !obj.xfer
	case len(obj.fifo) < fifoSize:
		obj.fifo = append(obj.fifo, item)
	default:
		obj.rxOverflow = true
		ev |= usart.EventRxOverflow
	}
	obj.mu.Unlock()

	if full && obj.rx.End(op) {
		ev |= usart.EventReceiveComplete
		obj.autoRTS()
	}
	if ev != 0 {
		obj.signal(ev)
	}
}

// supply hands the synchronous master the next character of this slave.
func (obj *USART) supply() uint32 {
	if !obj.lc.Initialized() {
		return 0xFFFFFFFF
	}
	obj.mu.Lock()
	op := obj.txOp
	size := obj.settings.ItemSize()
	if obj.txBuf == nil || !obj.tx.Current(op) {
		first := !obj.txUnderflow
		obj.txUnderflow = true
		item := obj.defaultTx
		obj.mu.Unlock()
		if first {
			obj.signal(usart.EventTxUnderflow)
		}
		return item
	}
	off := int(obj.tx.Count()) * size
	item := getItem(obj.txBuf[off:], size)
	obj.tx.Add(op, 1)
	txDone := off+size == len(obj.txBuf)
	xfer, rxOp := obj.xfer, obj.rxOp
	rxDone := int(obj.rx.Count())*size == len(obj.rxBuf)
	obj.mu.Unlock()

	switch {
	case !txDone:
	case !xfer:
		if obj.tx.End(op) {
			obj.signal(usart.EventSendComplete | usart.EventTxComplete)
		}
	case rxDone:
		if obj.tx.End(op) && obj.rx.End(rxOp) {
			obj.signal(usart.EventTransferComplete)
		}
	}
	return item
}

// lineIdle is called when the peer stops transmitting.
func (obj *USART) lineIdle() {
	obj.mu.Lock()
	op := obj.rxOp
	obj.mu.Unlock()
	obj.idle(op)
}

func (obj *USART) idle(op hal.Op) {
	if obj.rx.Current(op) && obj.rx.Count() > 0 {
		obj.signal(usart.EventRxTimeout)
	}
}

func (obj *USART) finishRx(op hal.Op, ev usart.Event) {
	if obj.rx.End(op) {
		obj.autoRTS()
		obj.signal(ev)
	}
}

func (obj *USART) signal(ev usart.Event) {
	obj.lc.Dispatch(func(cb usart.SignalEvent) {
		cb(ev)
	})
}

func (obj *USART) GetTxCount() uint32 {
	return obj.tx.Count()
}

func (obj *USART) GetRxCount() uint32 {
	return obj.rx.Count()
}

func (obj *USART) Control(control uint32, arg uint32) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if usart.IsMode(control) {
		return obj.configure(control, arg)
	}
	switch code := control & usart.ControlMask; code {
	case usart.ControlSetDefaultTxValue:
		obj.mu.Lock()
		obj.defaultTx = arg
		obj.mu.Unlock()
	case usart.ControlTx, usart.ControlRx:
		if arg > 1 {
			return fmt.Errorf("%w: enable argument %d", hal.ErrParameter, arg)
		}
		obj.mu.Lock()
		if code == usart.ControlTx {
			obj.txEnabled = arg == 1
		} else {
			obj.rxEnabled = arg == 1
		}
		obj.mu.Unlock()
	case usart.ControlBreak:
		if arg > 1 {
			return fmt.Errorf("%w: break argument %d", hal.ErrParameter, arg)
		}
		if arg == 1 {
			obj.mu.Lock()
			peer, settings := obj.peer, obj.settings
			obj.mu.Unlock()
			if peer != nil {
				peer.deliver(0, settings, true)
			}
		}
	case usart.ControlAbortSend:
		obj.abortTx()
	case usart.ControlAbortReceive:
		obj.abortRx()
	case usart.ControlAbortTransfer:
		obj.abortTx()
		obj.abortRx()
	default:
		return fmt.Errorf("%w: control %#x", hal.ErrUnsupported, code)
	}
	return nil
}

func (obj *USART) configure(control, arg uint32) error {
	settings, err := usart.Decode(control, arg)
	if err != nil {
		return err
	}
	switch uint32(settings.Mode) {
	case usart.ModeAsynchronous, usart.ModeSynchronousMaster, usart.ModeSynchronousSlave:
	default:
		return fmt.Errorf("%w: mode %#x", hal.ErrUnsupported, settings.Mode)
	}
	if obj.tx.Busy() || obj.rx.Busy() {
		return hal.ErrBusy
	}
	obj.mu.Lock()
	obj.settings = settings
	obj.mu.Unlock()
	obj.autoRTS()
	hal.LogDebug(hal.ComponentUSART, "mode configured", "mode", settings.Mode, "baud", settings.Baud, "bits", settings.DataBits)
	return nil
}

func (obj *USART) abortTx() {
	if obj.tx.Abort() {
		hal.LogDebug(hal.ComponentUSART, "send aborted", "count", obj.tx.Count())
	}
	obj.mu.Lock()
	obj.txBuf = nil
	obj.mu.Unlock()
}

func (obj *USART) abortRx() {
	if obj.rx.Abort() {
		hal.LogDebug(hal.ComponentUSART, "receive aborted", "count", obj.rx.Count())
	}
	obj.autoRTS()
}

// State reports whether the driver is uninitialized, idle or running an
// operation.
func (obj *USART) State() hal.State {
	return obj.lc.State(&obj.tx, &obj.rx)
}

func (obj *USART) GetStatus() usart.Status {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return usart.Status{
		TxBusy:         obj.tx.Busy(),
		RxBusy:         obj.rx.Busy(),
		TxUnderflow:    obj.txUnderflow,
		RxOverflow:     obj.rxOverflow,
		RxBreak:        obj.rxBreak,
		RxFramingError: obj.rxFraming,
		RxParityError:  obj.rxParity,
	}
}

func (obj *USART) SetModemControl(control usart.ModemControl) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	flow := obj.settings.FlowControl
	obj.mu.Unlock()
	switch control {
	case usart.RTSClear, usart.RTSSet:
		if flow == usart.FlowRTS || flow == usart.FlowRTSCTS {
			return fmt.Errorf("%w: RTS is under hardware flow control", hal.ErrUnsupported)
		}
		obj.setOutput(usart.EventCTS, control == usart.RTSSet)
	case usart.DTRClear, usart.DTRSet:
		obj.setOutput(usart.EventDSR, control == usart.DTRSet)
	default:
		return fmt.Errorf("%w: modem control %d", hal.ErrParameter, control)
	}
	return nil
}

func (obj *USART) GetModemStatus() usart.ModemStatus {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return usart.ModemStatus{CTS: obj.cts, DSR: obj.dsr, DCD: obj.dcd, RI: obj.ri}
}

// SetDCD drives the carrier detect input.
func (obj *USART) SetDCD(active bool) {
	obj.setInput(usart.EventDCD, active)
}

// SetRing drives the ring indicator input.
func (obj *USART) SetRing(active bool) {
	obj.setInput(usart.EventRI, active)
}

// InjectFramingError corrupts the stop bit of the next received character.
func (obj *USART) InjectFramingError() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.injectFraming = true
}

// InjectParityError flips the parity of the next received character.
func (obj *USART) InjectParityError() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.injectParity = true
}

// autoRTS drives RTS from the receiver under hardware flow control: active
// while a receive is outstanding.
func (obj *USART) autoRTS() {
	obj.mu.Lock()
	flow := obj.settings.FlowControl
	obj.mu.Unlock()
	if flow != usart.FlowRTS && flow != usart.FlowRTSCTS {
		return
	}
	obj.setOutput(usart.EventCTS, obj.rx.Busy())
}

// setOutput drives RTS (peer event CTS) or DTR (peer event DSR).
func (obj *USART) setOutput(peerEvent usart.Event, active bool) {
	obj.mu.Lock()
	if peerEvent == usart.EventCTS {
		obj.rts = active
	} else {
		obj.dtr = active
	}
	peer := obj.peer
	obj.mu.Unlock()
	if peer != nil {
		peer.setInput(peerEvent, active)
	}
}

// setInput changes a modem input and signals the change.
func (obj *USART) setInput(ev usart.Event, active bool) {
	obj.mu.Lock()
	var line *bool
	switch ev {
	case usart.EventCTS:
		line = &obj.cts
	case usart.EventDSR:
		line = &obj.dsr
	case usart.EventDCD:
		line = &obj.dcd
	case usart.EventRI:
		line = &obj.ri
	}
	changed := *line != active
	*line = active
	if changed && ev == usart.EventCTS {
		close(obj.ctsChanged)
		obj.ctsChanged = make(chan struct{})
	}
	obj.mu.Unlock()

	if changed {
		obj.signal(ev)
	}
}
