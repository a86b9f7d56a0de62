package e22

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/sim"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

// 9600 8N1, 2.4k air rate, channel 0x17, WOR 2000ms
var defaultRegs = [8]byte{0x00, 0x00, 0x62, 0x00, 0x17, 0x03, 0x00, 0x00}

type rig struct {
	fake   *fakeE22
	hw     *HWHandler
	module *Module
	msgs   chan Message
}

func newRig(t *testing.T) *rig {
	t.Helper()
	a := sim.NewUSART(sim.FreeClock{})
	b := sim.NewUSART(sim.FreeClock{})
	sim.Connect(a, b)
	bank := sim.NewGPIO(8)
	pins := Pins{M0: 1, M1: 2, AUX: 3}

	r := &rig{msgs: make(chan Message, 8)}
	r.fake = newFakeE22(t, b, bank, pins, defaultRegs)
	hw, err := NewHWHandler(a, bank, pins, WithTimeout(2*time.Second), WithModeSettle(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := hw.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})
	r.hw = hw
	r.module, err = NewModule(hw, func(msg Message, err error) {
		if err != nil {
			t.Errorf("message error: %v", err)
			return
		}
		r.msgs <- msg
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func (r *rig) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-r.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return Message{}
	}
}

func TestModuleReadsConfiguration(t *testing.T) {
	r := newRig(t)
	if got := r.module.Registers(); !bytes.Equal(got[:readableRegisters], defaultRegs[:readableRegisters]) {
		t.Errorf("Registers() = % x, want % x", got, defaultRegs)
	}
	mode, err := r.hw.GetMode()
	if err != nil || mode != ModeSleep {
		t.Errorf("GetMode() = %v, %v; want sleep", mode, err)
	}
	if conf := r.module.GetModuleConfiguration(); !strings.Contains(conf, "REG [4]") {
		t.Errorf("GetModuleConfiguration() = %q", conf)
	}
}

func TestModuleSendAndReceive(t *testing.T) {
	r := newRig(t)
	if err := r.hw.SetMode(ModeNormal); err != nil {
		t.Fatal(err)
	}
	if err := r.module.SendMessage("ASTATUS"); err != nil {
		t.Fatal(err)
	}
	sent := r.fake.Transmitted()
	if len(sent) != 1 || string(sent[0]) != "ASTATUS" {
		t.Errorf("transmitted %q", sent)
	}

	r.fake.Inject([]byte("pong"))
	msg := r.next(t)
	if string(msg.Payload) != "pong" || msg.RSSI != 0 {
		t.Errorf("received %+v", msg)
	}
}

func TestConfigBuilderWrite(t *testing.T) {
	r := newRig(t)
	err := NewConfigBuilder(r.module).
		Address(0, 3).
		Channel(23).
		TransmissionMethod(TRANSMISSION_FIXED).
		RSSIState(RSSI_ENABLE).
		NextMode(ModeNormal).
		WritePermanentConfig()
	if err != nil {
		t.Fatal(err)
	}

	want := [8]byte{0x00, 0x03, 0x62, 0x00, 23, 0x03 | 0x40 | 0x80, 0x00, 0x00}
	if got := r.fake.Registers(); got != want {
		t.Errorf("module registers = % x, want % x", got, want)
	}
	if got := r.module.Registers(); !bytes.Equal(got, want[:]) {
		t.Errorf("model registers = % x, want % x", got, want)
	}
	if mode, _ := r.hw.GetMode(); mode != ModeNormal {
		t.Errorf("mode after write = %v", mode)
	}

	if err := r.module.SendFixedMessage(0, 3, 23, "x"); err != nil {
		t.Fatal(err)
	}
	sent := r.fake.Transmitted()
	if len(sent) != 1 || !bytes.Equal(sent[0], []byte{0, 3, 23, 'x'}) {
		t.Errorf("transmitted % x", sent)
	}

	r.fake.Inject([]byte("hi"))
	msg := r.next(t)
	if string(msg.Payload) != "hi" || msg.RSSI != fakeRSSI {
		t.Errorf("received %+v", msg)
	}
}

func TestSerialSettingsFollowRegisters(t *testing.T) {
	r := newRig(t)
	err := NewConfigBuilder(r.module).
		SerialBaudRate(BAUD_19200).
		SerialParityBit(PARITY_8E1).
		NextMode(ModeNormal).
		WriteTemporaryConfig()
	if err != nil {
		t.Fatal(err)
	}
	if r.hw.serialPortData.serialBaud != 19200 || r.hw.serialPortData.serialParityBit != usart.ParityEven {
		t.Errorf("serial port at %+v", *r.hw.serialPortData)
	}

	if err := r.module.SendMessage("fast"); err != nil {
		t.Fatal(err)
	}
	r.fake.Inject([]byte("back"))
	if msg := r.next(t); string(msg.Payload) != "back" {
		t.Errorf("received %+v", msg)
	}
	if n := r.fake.errors.Load(); n != 0 {
		t.Errorf("%d line errors, serial settings diverged", n)
	}

	// configuration is always exchanged at 9600 8N1
	if err := r.hw.SetMode(ModeSleep); err != nil {
		t.Fatal(err)
	}
	if r.hw.serialPortData.serialBaud != 9600 {
		t.Errorf("sleep mode baud = %d", r.hw.serialPortData.serialBaud)
	}
}

func TestModuleErrors(t *testing.T) {
	r := newRig(t)
	if err := r.module.SendMessage("zzz"); err == nil {
		t.Error("SendMessage() in sleep mode succeeded")
	}
	if err := NewConfigBuilder(r.module).WritePermanentConfig(); err == nil {
		t.Error("writing an unchanged configuration succeeded")
	}
	if err := r.hw.SetMode(ModeNormal); err != nil {
		t.Fatal(err)
	}
	if err := r.module.SendFixedMessage(0, 1, 2, "x"); err == nil {
		t.Error("SendFixedMessage() in transparent mode succeeded")
	}
	if err := r.hw.RegisterOnMessageCb(func([]byte, error) {}); err == nil {
		t.Error("second RegisterOnMessageCb() succeeded")
	}
	if err := r.hw.SetMode(ChipMode(9)); !errors.Is(err, hal.ErrParameter) {
		t.Errorf("SetMode(9) = %v", err)
	}
}

func TestReadSerialTimeout(t *testing.T) {
	r := newRig(t)
	r.hw.timeout = 20 * time.Millisecond
	if _, err := r.hw.ReadSerial(); !errors.Is(err, hal.ErrTimeout) {
		t.Errorf("ReadSerial() = %v, want ErrTimeout", err)
	}
}
