package e22

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/sim"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

// fakeRSSI is appended to injected messages while REG3 enables RSSI.
const fakeRSSI = 0x40

// fakeE22 plays the module on the far side of a simulated serial link. It
// follows M0/M1, pulls AUX low while busy and answers register commands in
// sleep mode.
type fakeE22 struct {
	t      *testing.T
	port   *sim.USART
	bank   *sim.GPIO
	pins   Pins
	buf    []byte
	events chan usart.Event
	inject chan []byte
	stop   chan struct{}
	done   chan struct{}
	errors atomic.Int32 // framing and parity errors seen

	mu          sync.Mutex
	regs        [8]byte
	mode        ChipMode
	transmitted [][]byte
}

func newFakeE22(t *testing.T, port *sim.USART, bank *sim.GPIO, pins Pins, regs [8]byte) *fakeE22 {
	t.Helper()
	f := &fakeE22{
		t:      t,
		port:   port,
		bank:   bank,
		pins:   pins,
		buf:    make([]byte, 64),
		events: make(chan usart.Event, 64),
		inject: make(chan []byte),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		regs:   regs,
	}
	err := port.Initialize(func(ev usart.Event) {
		if hal.Any(ev, usart.EventRxFramingError|usart.EventRxParityError) {
			f.errors.Add(1)
		}
		select {
		case f.events <- ev:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := bank.Drive(pins.AUX, 1); err != nil {
		t.Fatal(err)
	}
	f.mode = f.lineMode()
	f.applySerial()
	f.arm()
	go f.run()
	t.Cleanup(f.close)
	return f
}

func (f *fakeE22) close() {
	close(f.stop)
	<-f.done
	f.port.Uninitialize()
}

// lineMode reads M0/M1; undriven lines float high.
func (f *fakeE22) lineMode() ChipMode {
	m0, driving := f.bank.Output(f.pins.M0)
	if !driving {
		m0 = 1
	}
	m1, driving := f.bank.Output(f.pins.M1)
	if !driving {
		m1 = 1
	}
	return modeOf(m0, m1)
}

func (f *fakeE22) applySerial() {
	baud, parityBit := uint32(9600), usart.ParityNone
	if f.mode != ModeSleep {
		f.mu.Lock()
		reg0 := f.regs[REG0]
		f.mu.Unlock()
		baud = serialBaudMap[baudRate(reg0&0xE0)]
		parityBit = serialParityMap[parity(reg0&0x18)]
	}
	if err := f.port.Control(usart.ControlAbortReceive, 0); err != nil {
		f.t.Errorf("fake: abort receive: %v", err)
	}
	if err := f.port.Control(serialSettings(baud, parityBit)); err != nil {
		f.t.Errorf("fake: configure serial: %v", err)
	}
}

func (f *fakeE22) arm() {
	if err := f.port.Receive(f.buf); err != nil {
		f.t.Errorf("fake: receive: %v", err)
	}
}

func (f *fakeE22) run() {
	defer close(f.done)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case ev := <-f.events:
			if hal.Any(ev, usart.EventReceiveComplete|usart.EventRxTimeout) {
				f.take()
			}
		case msg := <-f.inject:
			f.emit(msg)
		case <-ticker.C:
			f.pollMode()
		}
	}
}

func (f *fakeE22) take() {
	f.port.Control(usart.ControlAbortReceive, 0)
	n := f.port.GetRxCount()
	chunk := append([]byte(nil), f.buf[:n]...)
	f.arm()
	if len(chunk) == 0 {
		return
	}

	f.bank.Drive(f.pins.AUX, 0)
	defer f.bank.Drive(f.pins.AUX, 1)
	if f.mode != ModeSleep {
		f.mu.Lock()
		f.transmitted = append(f.transmitted, chunk)
		f.mu.Unlock()
		return
	}
	if rsp := f.command(chunk); rsp != nil {
		f.send(rsp)
	}
}

func (f *fakeE22) command(cmd []byte) []byte {
	if len(cmd) < 3 || int(cmd[1])+int(cmd[2]) > len(f.regs) {
		return nil
	}
	addr, n := int(cmd[1]), int(cmd[2])
	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd[0] {
	case cmdGetReg:
		params := make([]byte, n)
		for i := range params {
			if addr+i < readableRegisters {
				params[i] = f.regs[addr+i]
			}
		}
		return append([]byte{cmdGetReg, cmd[1], cmd[2]}, params...)
	case cmdSetRegPermanent, cmdSetRegTemporary:
		params := cmd[3:]
		if len(params) != n {
			return nil
		}
		copy(f.regs[addr:], params)
		return append([]byte{cmdGetReg, cmd[1], cmd[2]}, params...)
	}
	return nil
}

func (f *fakeE22) send(data []byte) {
	if err := f.port.Send(data); err != nil {
		f.t.Errorf("fake: send: %v", err)
		return
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Has(usart.EventSendComplete) {
				return
			}
		case <-timeout:
			f.t.Errorf("fake: send did not complete")
			return
		}
	}
}

func (f *fakeE22) emit(msg []byte) {
	f.mu.Lock()
	if f.regs[REG3]&byte(RSSI_ENABLE) != 0 {
		msg = append(append([]byte(nil), msg...), fakeRSSI)
	}
	f.mu.Unlock()
	f.bank.Drive(f.pins.AUX, 0)
	f.send(msg)
	f.bank.Drive(f.pins.AUX, 1)
}

func (f *fakeE22) pollMode() {
	if f.lineMode() == f.mode {
		return
	}
	// let both lines settle
	time.Sleep(time.Millisecond)
	mode := f.lineMode()
	if mode == f.mode {
		return
	}
	f.bank.Drive(f.pins.AUX, 0)
	f.mode = mode
	f.applySerial()
	f.arm()
	f.bank.Drive(f.pins.AUX, 1)
}

// Inject makes the module emit msg as if received over the air.
func (f *fakeE22) Inject(msg []byte) {
	f.inject <- msg
}

func (f *fakeE22) Registers() [8]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs
}

func (f *fakeE22) Transmitted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.transmitted...)
}
