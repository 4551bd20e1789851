// Package cpu implements the SM83 core. The CPU is the only driver of time:
// every bus access it makes advances the rest of the machine by one machine
// cycle before the value is observed, so mid-instruction effects (PPU mode
// changes, timer edges, DMA progress) land on the exact cycle hardware
// produces them.
package cpu

import (
	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
	"github.com/dotmatrix-emu/dotmatrix/dmg/bit"
)

// Bus is the machine as seen from the CPU. Tick advances every passive
// component by the given number of machine cycles.
type Bus interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
	Tick(mCycles int)
}

// flag masks in F, low 4 bits always zero
const (
	flagZ uint8 = 0x80
	flagN uint8 = 0x40
	flagH uint8 = 0x20
	flagC uint8 = 0x10
)

// CPU holds the SM83 register file and execution state.
type CPU struct {
	a, f uint8
	b, c uint8
	d, e uint8
	h, l uint8
	sp   uint16
	pc   uint16

	ime       bool
	eiPending bool // EI enables IME after the following instruction
	halted    bool
	stopped   bool
	haltBug   bool // next fetch does not advance PC

	steps  uint64 // instructions retired
	cycles uint64 // machine cycles elapsed
	m      int    // machine cycles of the step in progress

	bus Bus
}

// New returns a CPU attached to the bus. Registers hold their reset values;
// use SetBootState for the post-bootrom state when no bootrom runs.
func New(bus Bus) *CPU {
	return &CPU{bus: bus}
}

// SetBootState loads the register values the DMG bootrom leaves behind.
func (c *CPU) SetBootState() {
	c.setAF(0x01B0)
	c.setBC(0x0013)
	c.setDE(0x00D8)
	c.setHL(0x014D)
	c.sp = 0xFFFE
	c.pc = 0x0100
}

// tick advances the machine by one machine cycle.
func (c *CPU) tick() {
	c.m++
	c.bus.Tick(1)
}

// read8 performs a one-cycle memory read: the machine moves first, then the
// value is sampled.
func (c *CPU) read8(address uint16) uint8 {
	c.tick()
	return c.bus.Read(address)
}

// write8 performs a one-cycle memory write.
func (c *CPU) write8(address uint16, value uint8) {
	c.tick()
	c.bus.Write(address, value)
}

// fetch8 reads the byte at PC and advances it.
func (c *CPU) fetch8() uint8 {
	v := c.read8(c.pc)
	c.pc++
	return v
}

// fetch16 reads a little-endian word at PC.
func (c *CPU) fetch16() uint16 {
	low := c.fetch8()
	high := c.fetch8()
	return bit.Combine(high, low)
}

// Step runs one instruction, one interrupt service sequence, or one halted
// idle cycle, and returns the machine cycles elapsed.
func (c *CPU) Step() int {
	c.m = 0

	pending := c.pendingInterrupts()

	if c.ime && pending != 0 {
		c.service(pending)
		c.cycles += uint64(c.m)
		return c.m
	}

	if c.halted || c.stopped {
		if pending != 0 {
			// IME=0 with a pending interrupt: leave HALT without servicing.
			c.halted = false
			c.stopped = false
		} else {
			c.tick()
			c.cycles += uint64(c.m)
			return c.m
		}
	}

	enableIME := c.eiPending

	opcode := c.fetchOpcode()
	c.execute(opcode)
	c.steps++

	// EI takes effect only after the instruction that follows it. A DI in
	// that slot clears eiPending and wins; an EI re-arms it harmlessly.
	if enableIME && c.eiPending {
		c.eiPending = false
		c.ime = true
	}

	c.cycles += uint64(c.m)
	return c.m
}

// fetchOpcode reads the next opcode byte, honoring the halt bug: the byte is
// fetched but PC stays, so the following fetch sees it again.
func (c *CPU) fetchOpcode() uint8 {
	v := c.read8(c.pc)
	if c.haltBug {
		c.haltBug = false
	} else {
		c.pc++
	}
	return v
}

// pendingInterrupts returns IE & IF over the five interrupt lines. The
// sampling reads do not consume bus cycles.
func (c *CPU) pendingInterrupts() uint8 {
	return c.bus.Read(addr.IE) & c.bus.Read(addr.IF) & 0x1F
}

// service runs the 5-cycle interrupt entry for the highest-priority pending
// source: two internal cycles, the PC push, and the vector jump.
func (c *CPU) service(pending uint8) {
	c.ime = false
	c.eiPending = false
	c.halted = false
	c.stopped = false

	var irq addr.Interrupt
	for i := uint8(0); i < 5; i++ {
		if bit.IsSet(i, pending) {
			irq = addr.Interrupt(i)
			break
		}
	}

	c.bus.Write(addr.IF, bit.Clear(uint8(irq), c.bus.Read(addr.IF)))

	c.tick()
	c.tick()
	c.write8(c.sp-1, bit.High(c.pc))
	c.write8(c.sp-2, bit.Low(c.pc))
	c.sp -= 2
	c.pc = irq.Vector()
	c.tick()
}

// halt enters low-power mode, or arms the halt bug when an unmasked interrupt
// is already pending while IME is off.
func (c *CPU) halt() {
	if !c.ime && c.pendingInterrupts() != 0 {
		c.haltBug = true
		return
	}
	c.halted = true
}

// register pair accessors

func (c *CPU) setAF(v uint16) { c.a = bit.High(v); c.f = bit.Low(v) & 0xF0 }
func (c *CPU) getAF() uint16  { return bit.Combine(c.a, c.f) }
func (c *CPU) setBC(v uint16) { c.b = bit.High(v); c.c = bit.Low(v) }
func (c *CPU) getBC() uint16  { return bit.Combine(c.b, c.c) }
func (c *CPU) setDE(v uint16) { c.d = bit.High(v); c.e = bit.Low(v) }
func (c *CPU) getDE() uint16  { return bit.Combine(c.d, c.e) }
func (c *CPU) setHL(v uint16) { c.h = bit.High(v); c.l = bit.Low(v) }
func (c *CPU) getHL() uint16  { return bit.Combine(c.h, c.l) }

// flag helpers

func (c *CPU) setFlag(mask uint8, on bool) {
	if on {
		c.f |= mask
	} else {
		c.f &^= mask
	}
}

func (c *CPU) flagSet(mask uint8) bool { return c.f&mask != 0 }

func (c *CPU) carryBit() uint8 {
	if c.flagSet(flagC) {
		return 1
	}
	return 0
}

// state accessors used by the machine, debugger and tests

func (c *CPU) A() uint8       { return c.a }
func (c *CPU) F() uint8       { return c.f }
func (c *CPU) B() uint8       { return c.b }
func (c *CPU) C() uint8       { return c.c }
func (c *CPU) D() uint8       { return c.d }
func (c *CPU) E() uint8       { return c.e }
func (c *CPU) H() uint8       { return c.h }
func (c *CPU) L() uint8       { return c.l }
func (c *CPU) SP() uint16     { return c.sp }
func (c *CPU) PC() uint16     { return c.pc }
func (c *CPU) IME() bool      { return c.ime }
func (c *CPU) Halted() bool   { return c.halted }
func (c *CPU) Cycles() uint64 { return c.cycles }

// SetPC moves the program counter, used by tests.
func (c *CPU) SetPC(pc uint16) { c.pc = pc }

// SetSP moves the stack pointer, used by tests.
func (c *CPU) SetSP(sp uint16) { c.sp = sp }
