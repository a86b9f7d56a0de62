package linux

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
	"github.com/tarm/serial"
)

const (
	// IdleTimeout is the read timeout of the tty. A receive holding some
	// characters signals RxTimeout once the line stays quiet this long.
	IdleTimeout = 100 * time.Millisecond

	fifoSize  = 256
	readChunk = 512
	// writeChunk bounds how much is handed to the tty between abort checks.
	writeChunk = 64
)

// USART is an asynchronous serial port on a tty. The port is opened on
// Initialize and reopened when the line settings change; settings the tty
// rejects leave the previous ones in place. A send that fails on a tty write
// error ends with SendComplete|TxUnderflow and latches TxUnderflow until the
// next send. Synchronous modes,
// hardware flow control, break and the modem lines are not available
// through the tty layer and report ErrUnsupported.
type USART struct {
	name string
	lc   hal.Lifecycle[usart.SignalEvent]
	tx   hal.Channel
	rx   hal.Channel

	mu         sync.Mutex
	port       *serial.Port
	readerDone chan struct{}
	settings   usart.Settings
	txEnabled  bool
	rxEnabled  bool
	defaultTx  uint32
	rxOp       hal.Op
	rxBuf      []byte
	rxFresh    bool // characters arrived since the last RxTimeout
	fifo       []byte
	rxOverflow bool
	txFailed   bool // last send stopped on a tty write error
}

// NewUSART returns a port for the tty name, e.g. "/dev/ttyS0".
func NewUSART(name string) *USART {
	return &USART{
		name:      name,
		settings:  usart.DefaultSettings(),
		txEnabled: true,
		rxEnabled: true,
	}
}

// portConfig maps line settings onto a tty configuration.
func portConfig(name string, s usart.Settings) (*serial.Config, error) {
	if uint32(s.Mode) != usart.ModeAsynchronous {
		return nil, fmt.Errorf("%w: mode %#x on a tty", hal.ErrUnsupported, s.Mode)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return nil, fmt.Errorf("%w: %d data bits on a tty", hal.ErrUnsupported, s.DataBits)
	}
	if s.FlowControl != usart.FlowNone {
		return nil, fmt.Errorf("%w: hardware flow control on a tty", hal.ErrUnsupported)
	}
	config := &serial.Config{
		Name:        name,
		Baud:        int(s.Baud),
		Size:        byte(s.DataBits),
		ReadTimeout: IdleTimeout,
	}
	switch s.Parity {
	case usart.ParityNone:
		config.Parity = serial.ParityNone
	case usart.ParityEven:
		config.Parity = serial.ParityEven
	case usart.ParityOdd:
		config.Parity = serial.ParityOdd
	default:
		return nil, fmt.Errorf("%w: parity %#x", hal.ErrUnsupported, s.Parity)
	}
	switch s.StopBits {
	case usart.StopBits1:
		config.StopBits = serial.Stop1
	case usart.StopBits2:
		config.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("%w: stop bits %#x on a tty", hal.ErrUnsupported, s.StopBits)
	}
	return config, nil
}

func (obj *USART) Initialize(cb usart.SignalEvent) error {
	if err := obj.lc.Initialize(cb); err != nil {
		return err
	}
	obj.mu.Lock()
	settings := obj.settings
	obj.mu.Unlock()
	if err := obj.open(settings); err != nil {
		obj.lc.Uninitialize()
		return err
	}
	return nil
}

func (obj *USART) Uninitialize() error {
	obj.abortTx()
	obj.abortRx()
	err := obj.close()
	obj.mu.Lock()
	obj.fifo = nil
	obj.mu.Unlock()
	obj.lc.Uninitialize()
	return err
}

func (obj *USART) open(settings usart.Settings) error {
	config, err := portConfig(obj.name, settings)
	if err != nil {
		return err
	}
	port, err := serial.OpenPort(config)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %v", hal.ErrGeneric, obj.name, err)
	}
	done := make(chan struct{})
	obj.mu.Lock()
	obj.port = port
	obj.readerDone = done
	obj.settings = settings
	obj.mu.Unlock()
	go obj.read(port, done)
	hal.LogInfo(hal.ComponentUSART, "serial port opened", "tty", obj.name, "baud", settings.Baud, "bits", settings.DataBits)
	return nil
}

func (obj *USART) close() error {
	obj.mu.Lock()
	port, done := obj.port, obj.readerDone
	obj.port, obj.readerDone = nil, nil
	obj.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := port.Flush(); err != nil {
		hal.LogWarn(hal.ComponentUSART, "failed to flush serial port", "tty", obj.name, "error", err)
	}
	err := port.Close()
	<-done
	if err != nil {
		return fmt.Errorf("%w: failed to close serial port %s: %v", hal.ErrGeneric, obj.name, err)
	}
	return nil
}

// read runs for the lifetime of one opened port.
func (obj *USART) read(port *serial.Port, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readChunk)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			obj.received(buf[:n])
		}
		switch {
		case err == nil && n > 0:
		case err == nil, errors.Is(err, io.EOF):
			obj.lineIdle()
		default:
			hal.LogDebug(hal.ComponentUSART, "reader stopped", "tty", obj.name, "error", err)
			return
		}
	}
}

func (obj *USART) received(data []byte) {
	obj.mu.Lock()
	if !obj.rxEnabled {
		obj.mu.Unlock()
		return
	}
	var ev usart.Event
	op := obj.rxOp
	full := false
	for _, b := range data {
		switch {
		case !full && obj.rx.Current(op) && int(obj.rx.Count()) < len(obj.rxBuf):
			obj.rxBuf[obj.rx.Count()] = b
			obj.rx.Add(op, 1)
			obj.rxFresh = true
			full = int(obj.rx.Count()) == len(obj.rxBuf)
		case len(obj.fifo) < fifoSize:
			obj.fifo = append(obj.fifo, b)
		default:
			if !obj.rxOverflow {
				ev |= usart.EventRxOverflow
			}
			obj.rxOverflow = true
		}
	}
	obj.mu.Unlock()

	if full && obj.rx.End(op) {
		ev |= usart.EventReceiveComplete
	}
	if ev != 0 {
		obj.signal(ev)
	}
}

func (obj *USART) lineIdle() {
	obj.mu.Lock()
	op, fresh := obj.rxOp, obj.rxFresh
	obj.rxFresh = false
	obj.mu.Unlock()
	if fresh && obj.rx.Current(op) && obj.rx.Count() > 0 {
		obj.signal(usart.EventRxTimeout)
	}
}

func (obj *USART) Send(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty send", hal.ErrParameter)
	}
	obj.mu.Lock()
	port, enabled := obj.port, obj.txEnabled
	obj.mu.Unlock()
	if !enabled {
		return fmt.Errorf("%w: transmitter disabled", hal.ErrGeneric)
	}
	if port == nil {
		return fmt.Errorf("%w: serial port %s is not open", hal.ErrGeneric, obj.name)
	}
	op, err := obj.tx.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.txFailed = false
	obj.mu.Unlock()
	hal.LogDebug(hal.ComponentUSART, "send accepted", "bytes", len(data))
	go obj.write(port, op, data)
	return nil
}

func (obj *USART) write(port *serial.Port, op hal.Op, data []byte) {
	for off := 0; off < len(data); {
		select {
		case <-op.Aborted():
			return
		default:
		}
		end := min(off+writeChunk, len(data))
		n, err := port.Write(data[off:end])
		obj.tx.Add(op, uint32(n))
		off += n
		if err != nil {
			hal.LogError(hal.ComponentUSART, "failed to send data", "tty", obj.name, "sent", off, "error", err)
			if obj.tx.End(op) {
				obj.mu.Lock()
				obj.txFailed = true
				obj.mu.Unlock()
				obj.signal(usart.EventSendComplete | usart.EventTxUnderflow)
			}
			return
		}
	}
	if obj.tx.End(op) {
		obj.signal(usart.EventSendComplete | usart.EventTxComplete)
	}
}

func (obj *USART) Receive(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty receive", hal.ErrParameter)
	}
	obj.mu.Lock()
	port, enabled := obj.port, obj.rxEnabled
	obj.mu.Unlock()
	if !enabled {
		return fmt.Errorf("%w: receiver disabled", hal.ErrGeneric)
	}
	if port == nil {
		return fmt.Errorf("%w: serial port %s is not open", hal.ErrGeneric, obj.name)
	}
	op, err := obj.rx.Begin()
	if err != nil {
		return err
	}

	obj.mu.Lock()
	obj.rxOp = op
	obj.rxBuf = data
	obj.rxFresh = false
	obj.rxOverflow = false
	n := copy(data, obj.fifo)
	obj.fifo = obj.fifo[n:]
	obj.rx.Add(op, uint32(n))
	obj.rxFresh = n > 0
	obj.mu.Unlock()

	hal.LogDebug(hal.ComponentUSART, "receive accepted", "bytes", len(data), "buffered", n)
	if n == len(data) {
		go func() {
			if obj.rx.End(op) {
				obj.signal(usart.EventReceiveComplete)
			}
		}()
	}
	return nil
}

func (obj *USART) Transfer(out, in []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	return fmt.Errorf("%w: transfer needs a synchronous mode", hal.ErrUnsupported)
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
	if _, err := portConfig(obj.name, settings); err != nil {
		return err
	}
	if obj.tx.Busy() || obj.rx.Busy() {
		return hal.ErrBusy
	}
	obj.mu.Lock()
	prev := obj.settings
	obj.mu.Unlock()
	if prev == settings {
		return nil
	}
	if err := obj.close(); err != nil {
		return err
	}
	err = obj.open(settings)
	if err == nil {
		return nil
	}
	// the tty rejected the new settings, go back to the old ones
	if rerr := obj.open(prev); rerr != nil {
		hal.LogError(hal.ComponentUSART, "failed to reopen serial port", "tty", obj.name, "error", rerr)
		return errors.Join(err, rerr)
	}
	return err
}

func (obj *USART) abortTx() {
	if obj.tx.Abort() {
		hal.LogDebug(hal.ComponentUSART, "send aborted", "count", obj.tx.Count())
	}
}

func (obj *USART) abortRx() {
	if obj.rx.Abort() {
		hal.LogDebug(hal.ComponentUSART, "receive aborted", "count", obj.rx.Count())
	}
}

func (obj *USART) State() hal.State {
	return obj.lc.State(&obj.tx, &obj.rx)
}

func (obj *USART) GetStatus() usart.Status {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return usart.Status{
		TxBusy:      obj.tx.Busy(),
		RxBusy:      obj.rx.Busy(),
		TxUnderflow: obj.txFailed,
		RxOverflow:  obj.rxOverflow,
	}
}

func (obj *USART) SetModemControl(control usart.ModemControl) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	return fmt.Errorf("%w: modem control on a tty", hal.ErrUnsupported)
}

func (obj *USART) GetModemStatus() usart.ModemStatus {
	return usart.ModemStatus{}
}

func (obj *USART) signal(ev usart.Event) {
	obj.lc.Dispatch(func(cb usart.SignalEvent) {
		cb(ev)
	})
}
