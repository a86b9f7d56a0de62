package e22

import (
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

type Message struct {
	Payload []byte
	RSSI    uint8
}

type OnMessageCb func(Message, error)

const (
	cmdSetRegPermanent byte = 0xC0
	cmdGetReg          byte = 0xC1
	cmdSetRegTemporary byte = 0xC2
)

type chipRsp struct {
	command   byte
	startAddr byte
	length    byte
	params    []byte
}

var serialBaudMap = map[baudRate]uint32{
	BAUD_1200:   1200,
	BAUD_2400:   2400,
	BAUD_4800:   4800,
	BAUD_9600:   9600,
	BAUD_19200:  19200,
	BAUD_38400:  38400,
	BAUD_57600:  57600,
	BAUD_115200: 115200,
}

var serialParityMap = map[parity]usart.Parity{
	PARITY_8N1: usart.ParityNone,
	PARITY_8O1: usart.ParityOdd,
	PARITY_8E1: usart.ParityEven,
}

// Module keeps a model of the module registers in sync with the chip and
// sends messages through it.
type Module struct {
	mu        sync.RWMutex // guards registers
	registers registersCollection
	hw        Handler
	onMsgCb   OnMessageCb
}

// NewModule reads the configuration stored on the chip, stages the matching
// serial settings and returns the chip to the mode it was in.
func NewModule(hw Handler, cb OnMessageCb) (*Module, error) {
	mode, err := hw.GetMode()
	if err != nil {
		return nil, fmt.Errorf("failed to get chip mode: %w", err)
	}
	ch := &Module{
		hw:        hw,
		registers: newRegistersCollection(),
		onMsgCb:   cb,
	}
	err = hw.RegisterOnMessageCb(ch.onMessageHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to register OnMessageCb: %w", err)
	}
	data, err := ch.readChipRegisters(ADD_H, readableRegisters)
	if err != nil {
		return nil, err
	}
	err = ch.saveConfig(data)
	if err != nil {
		return nil, err
	}
	ch.updateSerialStreamConfig()
	err = ch.hw.SetMode(mode)
	if err != nil {
		return nil, fmt.Errorf("failed to set chip mode: %w", err)
	}
	return ch, nil
}

func (obj *Module) onMessageHandler(msg []byte, err error) {
	if obj.onMsgCb == nil {
		return
	}
	if err != nil {
		obj.onMsgCb(Message{}, err)
		return
	}
	obj.mu.RLock()
	rssi := obj.registers[REG3].(*Reg3).enableRSSI == RSSI_ENABLE
	obj.mu.RUnlock()
	if !rssi {
		obj.onMsgCb(Message{Payload: msg}, nil)
		return
	}
	// the module appends the RSSI byte to every message
	if len(msg) < 2 {
		obj.onMsgCb(Message{}, fmt.Errorf("invalid message received, %d bytes with RSSI enabled", len(msg)))
		return
	}
	obj.onMsgCb(Message{Payload: msg[:len(msg)-1], RSSI: msg[len(msg)-1]}, nil)
}

func (obj *Module) readChipRegisters(startingAddress RegAddress, length uint8) ([]byte, error) {
	err := obj.hw.SetMode(ModeSleep)
	if err != nil {
		return nil, fmt.Errorf("failed to set chip mode in get config: %w", err)
	}
	err = obj.hw.WriteSerial([]byte{cmdGetReg, startingAddress.ToByte(), length})
	if err != nil {
		return nil, fmt.Errorf("failed to write get config bytes: %w", err)
	}
	data, err := obj.hw.ReadSerial()
	if err != nil {
		return nil, fmt.Errorf("failed to read config from serial: %w", err)
	}
	return data, nil
}

func (obj *Module) saveConfig(data []byte) error {
	rsp, err := parseChipResponse(data)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if err := obj.registers.Update(rsp.startAddr, rsp.params); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	hal.LogDebug(hal.ComponentE22, "registers updated", "start", rsp.startAddr, "length", rsp.length)
	return nil
}

func getConfigSetRequest(temporary bool, registers registersCollection) []byte {
	params := registers[:]
	//  don't write crypt bytes if not set in new config
	if registers[CRYPT_H].GetValue() == 0 && registers[CRYPT_L].GetValue() == 0 {
		params = registers[:readableRegisters]
	}
	data := make([]byte, 0, len(params)+3)
	cmd := cmdSetRegPermanent
	if temporary {
		cmd = cmdSetRegTemporary
	}
	// start from the first register, data[2] defines param length
	data = append(data, cmd, ADD_H.ToByte(), byte(len(params)))
	for _, reg := range params {
		data = append(data, reg.GetValue())
	}
	return data
}

func parseChipResponse(data []byte) (chipRsp, error) {
	if len(data) < 4 {
		return chipRsp{}, fmt.Errorf("invalid command, %d bytes", len(data))
	}
	if data[0] != cmdGetReg {
		return chipRsp{}, fmt.Errorf("invalid command %#02x", data[0])
	}
	rsp := chipRsp{
		command:   data[0],
		startAddr: data[1],
		length:    data[2],
		params:    data[3:],
	}
	if int(rsp.length) != len(rsp.params) {
		return chipRsp{}, fmt.Errorf("invalid command, mismatch in length and params count")
	}
	return rsp, nil
}

// updateSerialStreamConfig stages the baud rate and parity held in REG0.
func (obj *Module) updateSerialStreamConfig() {
	obj.mu.RLock()
	reg0 := obj.registers[REG0].(*Reg0)
	baud, ok := serialBaudMap[reg0.baudRate]
	parityBit := serialParityMap[reg0.parityBit]
	obj.mu.RUnlock()
	if !ok {
		baud = 9600
	}
	obj.hw.StageSerialPortConfig(baud, parityBit)
}

func (obj *Module) WriteConfigToChip(temporaryConfig bool, stagedRegisters registersCollection) error {
	obj.mu.RLock()
	same := stagedRegisters.EqualTo(obj.registers) &&
		stagedRegisters[CRYPT_H].GetValue() == 0 && stagedRegisters[CRYPT_L].GetValue() == 0
	obj.mu.RUnlock()
	if same {
		return fmt.Errorf("new register setup is the same as the setup on the chip, ignoring")
	}
	currentMode, err := obj.hw.GetMode()
	if err != nil {
		return fmt.Errorf("failed to get current chip mode: %w", err)
	}
	err = obj.hw.SetMode(ModeSleep)
	if err != nil {
		return fmt.Errorf("failed to start config builder: %w", err)
	}
	err = obj.hw.WriteSerial(getConfigSetRequest(temporaryConfig, stagedRegisters))
	if err != nil {
		return fmt.Errorf("failed to write config to the chip: %w", err)
	}
	chipCfg, err := obj.hw.ReadSerial()
	if err != nil {
		return fmt.Errorf("failed to receive set config response: %w", err)
	}
	err = obj.saveConfig(chipCfg)
	if err != nil {
		return fmt.Errorf("failed to save chip config to lib model: %w", err)
	}
	obj.updateSerialStreamConfig()

	obj.mu.RLock()
	same = stagedRegisters.EqualTo(obj.registers)
	obj.mu.RUnlock()
	if !same {
		return fmt.Errorf("current chip configuration is not the same as the written one")
	}

	err = obj.hw.SetMode(currentMode)
	if err != nil {
		return fmt.Errorf("failed to set next chip mode: %w", err)
	}
	return nil
}

func (obj *Module) checkTransmitMode() error {
	currentMode, err := obj.hw.GetMode()
	if err != nil {
		return err
	}
	if currentMode == ModeSleep || currentMode == ModePowerSave {
		return fmt.Errorf("can't send message while E22 module is in mode %s. Change the mode to ModeNormal or ModeWakeUp", currentMode)
	}
	return nil
}

func (obj *Module) SendMessage(message string) error {
	if err := obj.checkTransmitMode(); err != nil {
		return err
	}
	if err := obj.hw.WriteSerial([]byte(message)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (obj *Module) SendFixedMessage(addressHigh byte, addressLow byte, channel byte, message string) error {
	if err := obj.checkTransmitMode(); err != nil {
		return err
	}
	obj.mu.RLock()
	method := obj.registers[REG3].(*Reg3).transmissionMethod
	obj.mu.RUnlock()
	if method == TRANSMISSION_TRANSPARENT {
		return fmt.Errorf("can't send fixed message while module has TRANSMISSION_TRANSPARENT setup, reconfigure module to TRANSMISSION_FIXED mode")
	}
	msgBytes := append([]byte{addressHigh, addressLow, channel}, message...)
	if err := obj.hw.WriteSerial(msgBytes); err != nil {
		return fmt.Errorf("failed to send fixed message: %w", err)
	}
	return nil
}

// Registers returns the raw register values of the model.
func (obj *Module) Registers() []byte {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.registers.Values()
}

func (obj *Module) GetModuleConfiguration() string {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.registers.String()
}
