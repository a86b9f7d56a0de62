package e22

import "fmt"

// ConfigBuilder stages changes to the module registers. Everything not
// changed keeps the value read from the chip.
type ConfigBuilder struct {
	chip            *Module
	stagedRegisters registersCollection
	nextMode        *ChipMode
}

// NewConfigBuilder constructs ConfigBuilder
func NewConfigBuilder(chip *Module) *ConfigBuilder {
	chip.mu.RLock()
	defer chip.mu.RUnlock()
	return &ConfigBuilder{
		chip:            chip,
		stagedRegisters: chip.registers.Copy(),
	}
}

func stage[R Register](b *ConfigBuilder, addr RegAddress, apply func(r R)) *ConfigBuilder {
	apply(b.stagedRegisters[addr].(R))
	return b
}

// Address set module address
func (obj *ConfigBuilder) Address(addressHigh uint8, addressLow uint8) *ConfigBuilder {
	stage(obj, ADD_H, func(r *AddH) { r.address = addressHigh })
	return stage(obj, ADD_L, func(r *AddL) { r.address = addressLow })
}

// SerialBaudRate sets the baud rate used outside of sleep mode.
func (obj *ConfigBuilder) SerialBaudRate(br baudRate) *ConfigBuilder {
	return stage(obj, REG0, func(r *Reg0) { r.baudRate = br })
}

// SerialParityBit sets the parity used outside of sleep mode.
func (obj *ConfigBuilder) SerialParityBit(parityBit parity) *ConfigBuilder {
	return stage(obj, REG0, func(r *Reg0) { r.parityBit = parityBit })
}

func (obj *ConfigBuilder) AirDataRate(adRate airDataRate) *ConfigBuilder {
	return stage(obj, REG0, func(r *Reg0) { r.adRate = adRate })
}

// SubPacketLength set module data packet length
func (obj *ConfigBuilder) SubPacketLength(subPacketLength subPacket) *ConfigBuilder {
	return stage(obj, REG1, func(r *Reg1) { r.subPacket = subPacketLength })
}

func (obj *ConfigBuilder) RSSIAmbientNoiseState(state rssiAmbientNoise) *ConfigBuilder {
	return stage(obj, REG1, func(r *Reg1) { r.ambientNoiseRSSI = state })
}

func (obj *ConfigBuilder) TransmittingPower(power transmittingPower) *ConfigBuilder {
	return stage(obj, REG1, func(r *Reg1) { r.transmittingPower = power })
}

// Channel sets chip channel, range 0-80, Actual frequency = 850.125 + CH *1M
func (obj *ConfigBuilder) Channel(channel uint8) *ConfigBuilder {
	// SetValue clamps to the 80 channels the chip supports
	return stage(obj, REG2, func(r *Reg2) { r.SetValue(channel) })
}

// RSSIState enables the RSSI byte appended to received messages.
func (obj *ConfigBuilder) RSSIState(state enableRSSI) *ConfigBuilder {
	return stage(obj, REG3, func(r *Reg3) { r.enableRSSI = state })
}

// TransmissionMethod select transparent or fixed method
func (obj *ConfigBuilder) TransmissionMethod(method transmissionMethod) *ConfigBuilder {
	return stage(obj, REG3, func(r *Reg3) { r.transmissionMethod = method })
}

func (obj *ConfigBuilder) LBTState(state lbt) *ConfigBuilder {
	return stage(obj, REG3, func(r *Reg3) { r.lbtEnable = state })
}

// WORCycle sets the wake on receive cycle.
func (obj *ConfigBuilder) WORCycle(wor worCycle) *ConfigBuilder {
	return stage(obj, REG3, func(r *Reg3) { r.worCycle = wor })
}

// Crypt set encryption key that is not readable, make sure that other side uses the same key
func (obj *ConfigBuilder) Crypt(cryptHigh uint8, cryptLow uint8) *ConfigBuilder {
	stage(obj, CRYPT_H, func(r *CryptH) { r.value = cryptHigh })
	return stage(obj, CRYPT_L, func(r *CryptL) { r.value = cryptLow })
}

// NextMode selects the mode the chip is left in after the write. Without it
// the chip returns to the mode it was in.
func (obj *ConfigBuilder) NextMode(mode ChipMode) *ConfigBuilder {
	obj.nextMode = &mode
	return obj
}

// WritePermanentConfig writes new config to the chip
func (obj *ConfigBuilder) WritePermanentConfig() error {
	return obj.write(false)
}

// WriteTemporaryConfig writes new config to the chip but, on chip reboot config is lost
func (obj *ConfigBuilder) WriteTemporaryConfig() error {
	return obj.write(true)
}

func (obj *ConfigBuilder) write(temporary bool) error {
	if err := obj.chip.WriteConfigToChip(temporary, obj.stagedRegisters); err != nil {
		return err
	}
	if obj.nextMode == nil {
		return nil
	}
	if err := obj.chip.hw.SetMode(*obj.nextMode); err != nil {
		return fmt.Errorf("failed to set next chip mode: %w", err)
	}
	return nil
}
