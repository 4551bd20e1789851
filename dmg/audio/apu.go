// Package audio implements the four-channel APU, its frame sequencer, the
// mixer and the adaptive resampler that converts the native ~1.048576 MHz
// stream to the host sample rate.
package audio

import (
	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
)

// TicksPerSample is the number of T-cycles between mixer output samples; the
// mixer runs at one sample per machine cycle.
const TicksPerSample = 4

// MixerRate is the native output rate of the mixer in Hz.
const MixerRate = 4194304 / TicksPerSample

// APU is the audio unit: a register file over four generators, mixed and
// resampled. The frame sequencer is clocked externally from the divider (bit
// 12 falling edge, 512 Hz), so DIV writes can clock it early.
type APU struct {
	powered bool

	ch1 *squareChannel
	ch2 *squareChannel
	ch3 *waveChannel
	ch4 *noiseChannel

	// raw register bytes for readback; readMask is OR'd over them
	regs [0x17]uint8

	frameStep   uint8
	sampleClock int

	nr50 uint8
	nr51 uint8

	resampler *Resampler
}

// New builds an APU in the post-bootrom state, producing samples into the
// given resampler.
func New(resampler *Resampler) *APU {
	a := &APU{
		powered:   true,
		ch1:       newSquareChannel(true),
		ch2:       newSquareChannel(false),
		ch3:       newWaveChannel(),
		ch4:       newNoiseChannel(),
		resampler: resampler,
	}
	a.loadBootState()
	return a
}

// loadBootState applies the register values the bootrom leaves behind.
func (a *APU) loadBootState() {
	for reg, v := range map[uint16]uint8{
		addr.NR10: 0x80, addr.NR11: 0xBF, addr.NR12: 0xF3, addr.NR14: 0xBF,
		addr.NR21: 0x3F, addr.NR22: 0x00, addr.NR24: 0xBF,
		addr.NR30: 0x7F, addr.NR31: 0xFF, addr.NR32: 0x9F, addr.NR34: 0xBF,
		addr.NR41: 0xFF, addr.NR42: 0x00, addr.NR43: 0x00, addr.NR44: 0xBF,
		addr.NR50: 0x77, addr.NR51: 0xF3,
	} {
		a.writeDecoded(reg, v)
	}
	// boot leaves channel 1 flagged on but silent
	a.ch1.enabled = false
}

// FrameSequencerTick advances the 512 Hz sequencer one step: lengths on
// 0/2/4/6, sweep on 2/6, envelopes on 7.
func (a *APU) FrameSequencerTick() {
	if !a.powered {
		return
	}
	switch a.frameStep {
	case 0, 4:
		a.clockLengths()
	case 2, 6:
		a.clockLengths()
		a.ch1.clockSweep()
	case 7:
		a.ch1.env.clock()
		a.ch2.env.clock()
		a.ch4.env.clock()
	}
	a.frameStep = (a.frameStep + 1) & 7
}

func (a *APU) clockLengths() {
	a.ch1.length.clock(&a.ch1.enabled)
	a.ch2.length.clock(&a.ch2.enabled)
	a.ch3.length.clock(&a.ch3.enabled)
	a.ch4.length.clock(&a.ch4.enabled)
}

// Tick advances the generators and emits one mixed sample per machine cycle.
func (a *APU) Tick(tCycles int) {
	if a.powered {
		a.ch1.tick(tCycles)
		a.ch2.tick(tCycles)
		a.ch3.tick(tCycles)
		a.ch4.tick(tCycles)
	}

	a.sampleClock += tCycles
	for a.sampleClock >= TicksPerSample {
		a.sampleClock -= TicksPerSample
		left, right := a.mix()
		if a.resampler != nil {
			a.resampler.Push(left, right)
		}
	}
}

// dacOutput converts a channel's 0-15 digital level to the signed DAC range.
// A disabled DAC contributes silence, not the DAC floor.
func dacOutput(level uint8, dacOn bool) int {
	if !dacOn {
		return 0
	}
	return int(level)*2 - 15
}

// mix produces one stereo sample: per-channel DACs, NR51 panning, NR50
// master volume.
func (a *APU) mix() (int16, int16) {
	if !a.powered {
		return 0, 0
	}

	outs := [4]int{
		dacOutput(a.ch1.output(), dacEnabled(a.ch1.envReg)),
		dacOutput(a.ch2.output(), dacEnabled(a.ch2.envReg)),
		dacOutput(a.ch3.output(), a.ch3.dacOn),
		dacOutput(a.ch4.output(), dacEnabled(a.ch4.envReg)),
	}

	var left, right int
	for i, out := range outs {
		if a.nr51&(1<<(4+i)) != 0 {
			left += out
		}
		if a.nr51&(1<<i) != 0 {
			right += out
		}
	}

	left *= int(a.nr50>>4&0x07) + 1
	right *= int(a.nr50&0x07) + 1

	// 4 channels * 15 * 8 = 480 full scale; scale into int16 range
	return int16(left * 64), int16(right * 64)
}

// register file

// readMask gives the bits that read back as written; everything else reads 1.
var readMask = map[uint16]uint8{
	addr.NR10: 0x80, addr.NR11: 0x3F, addr.NR12: 0x00, addr.NR13: 0xFF, addr.NR14: 0xBF,
	0xFF15: 0xFF, addr.NR21: 0x3F, addr.NR22: 0x00, addr.NR23: 0xFF, addr.NR24: 0xBF,
	addr.NR30: 0x7F, addr.NR31: 0xFF, addr.NR32: 0x9F, addr.NR33: 0xFF, addr.NR34: 0xBF,
	0xFF1F: 0xFF, addr.NR41: 0xFF, addr.NR42: 0x00, addr.NR43: 0x00, addr.NR44: 0xBF,
	addr.NR50: 0x00, addr.NR51: 0x00,
}

// ReadRegister serves 0xFF10-0xFF3F.
func (a *APU) ReadRegister(address uint16) uint8 {
	switch {
	case address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd:
		return a.ch3.ram[address-addr.WaveRAMStart]
	case address == addr.NR52:
		v := uint8(0x70)
		if a.powered {
			v |= 0x80
		}
		v |= boolBit(a.ch1.enabled)
		v |= boolBit(a.ch2.enabled) << 1
		v |= boolBit(a.ch3.enabled) << 2
		v |= boolBit(a.ch4.enabled) << 3
		return v
	case address >= addr.NR10 && address <= addr.NR51:
		mask, known := readMask[address]
		if !known {
			return 0xFF
		}
		return a.regs[address-addr.NR10] | mask
	}
	return 0xFF
}

// WriteRegister serves 0xFF10-0xFF3F. With NR52 bit 7 clear only NR52 and
// wave RAM are writable; dropping power zeroes every register except wave
// RAM.
func (a *APU) WriteRegister(address uint16, value uint8) {
	switch {
	case address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd:
		a.ch3.ram[address-addr.WaveRAMStart] = value
		return
	case address == addr.NR52:
		wasOn := a.powered
		a.powered = value&0x80 != 0
		if wasOn && !a.powered {
			a.powerOff()
		}
		if !wasOn && a.powered {
			a.frameStep = 0
		}
		return
	}

	if !a.powered {
		return
	}
	if address >= addr.NR10 && address <= addr.NR51 {
		a.regs[address-addr.NR10] = value
		a.writeDecoded(address, value)
	}
}

func (a *APU) powerOff() {
	for r := addr.NR10; r <= addr.NR51; r++ {
		a.regs[r-addr.NR10] = 0
	}
	frameStep := a.frameStep
	a.ch1 = newSquareChannel(true)
	a.ch2 = newSquareChannel(false)
	a.ch3.enabled = false
	a.ch3.dacOn = false
	a.ch3.volume = 0
	a.ch3.freq = 0
	a.ch3.length = lengthCounter{max: 256}
	a.ch4 = newNoiseChannel()
	a.nr50 = 0
	a.nr51 = 0
	a.frameStep = frameStep
}

// writeDecoded updates channel state for a register write.
func (a *APU) writeDecoded(address uint16, value uint8) {
	switch address {
	case addr.NR10:
		a.ch1.sweepReg = value
	case addr.NR11:
		a.ch1.duty = value >> 6
		a.ch1.length.load(value & 0x3F)
	case addr.NR12:
		a.ch1.envReg = value
		a.ch1.env.load(value)
		if !dacEnabled(value) {
			a.ch1.enabled = false
		}
	case addr.NR13:
		a.ch1.freq = a.ch1.freq&0x700 | uint16(value)
	case addr.NR14:
		a.ch1.freq = a.ch1.freq&0x0FF | uint16(value&0x07)<<8
		a.ch1.length.enabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch1.trigger()
		}

	case addr.NR21:
		a.ch2.duty = value >> 6
		a.ch2.length.load(value & 0x3F)
	case addr.NR22:
		a.ch2.envReg = value
		a.ch2.env.load(value)
		if !dacEnabled(value) {
			a.ch2.enabled = false
		}
	case addr.NR23:
		a.ch2.freq = a.ch2.freq&0x700 | uint16(value)
	case addr.NR24:
		a.ch2.freq = a.ch2.freq&0x0FF | uint16(value&0x07)<<8
		a.ch2.length.enabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch2.trigger()
		}

	case addr.NR30:
		a.ch3.dacOn = value&0x80 != 0
		if !a.ch3.dacOn {
			a.ch3.enabled = false
		}
	case addr.NR31:
		a.ch3.length.load(value)
	case addr.NR32:
		a.ch3.volume = value >> 5 & 0x03
	case addr.NR33:
		a.ch3.freq = a.ch3.freq&0x700 | uint16(value)
	case addr.NR34:
		a.ch3.freq = a.ch3.freq&0x0FF | uint16(value&0x07)<<8
		a.ch3.length.enabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch3.trigger()
		}

	case addr.NR41:
		a.ch4.length.load(value & 0x3F)
	case addr.NR42:
		a.ch4.envReg = value
		a.ch4.env.load(value)
		if !dacEnabled(value) {
			a.ch4.enabled = false
		}
	case addr.NR43:
		a.ch4.shift = value >> 4
		a.ch4.width7 = value&0x08 != 0
		a.ch4.divisor = value & 0x07
	case addr.NR44:
		a.ch4.length.enabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch4.trigger()
		}

	case addr.NR50:
		a.nr50 = value
	case addr.NR51:
		a.nr51 = value
	}
}
