package cpu

import "github.com/dotmatrix-emu/dotmatrix/dmg/bit"

// The SM83 opcode space is regular enough that most of it decodes by bit
// field: 0x40-0xBF is two dense blocks (loads and ALU) indexed by a 3-bit
// register code, and the whole CB prefix is algorithmic. The remaining
// opcodes go through a flat switch. Cycle counts are not tabulated: each
// memory access and each internal cycle ticks the bus as it happens, so the
// published timings fall out of the access sequences.

// register codes used by the dense blocks: B C D E H L (HL) A
const regIndirectHL = 6

// getR8 reads the register selected by a 3-bit code; code 6 is the byte at
// (HL) and costs a memory cycle.
func (c *CPU) getR8(code uint8) uint8 {
	switch code {
	case 0:
		return c.b
	case 1:
		return c.c
	case 2:
		return c.d
	case 3:
		return c.e
	case 4:
		return c.h
	case 5:
		return c.l
	case regIndirectHL:
		return c.read8(c.getHL())
	default:
		return c.a
	}
}

// setR8 writes the register selected by a 3-bit code; code 6 stores to (HL).
func (c *CPU) setR8(code uint8, value uint8) {
	switch code {
	case 0:
		c.b = value
	case 1:
		c.c = value
	case 2:
		c.d = value
	case 3:
		c.e = value
	case 4:
		c.h = value
	case 5:
		c.l = value
	case regIndirectHL:
		c.write8(c.getHL(), value)
	default:
		c.a = value
	}
}

// aluOp dispatches the 8 accumulator operations selected by bits 5-3 of the
// dense ALU block (and of the immediate forms 0xC6-0xFE).
func (c *CPU) aluOp(op uint8, value uint8) {
	switch op {
	case 0:
		c.add(value)
	case 1:
		c.adc(value)
	case 2:
		c.sub(value)
	case 3:
		c.sbc(value)
	case 4:
		c.and(value)
	case 5:
		c.xor(value)
	case 6:
		c.or(value)
	default:
		c.cp(value)
	}
}

// condition evaluates the 2-bit condition code NZ, Z, NC, C.
func (c *CPU) condition(code uint8) bool {
	switch code {
	case 0:
		return !c.flagSet(flagZ)
	case 1:
		return c.flagSet(flagZ)
	case 2:
		return !c.flagSet(flagC)
	default:
		return c.flagSet(flagC)
	}
}

// push16 spends the internal cycle and writes high byte first, as the
// hardware does.
func (c *CPU) push16(value uint16) {
	c.tick()
	c.write8(c.sp-1, bit.High(value))
	c.write8(c.sp-2, bit.Low(value))
	c.sp -= 2
}

func (c *CPU) pop16() uint16 {
	low := c.read8(c.sp)
	high := c.read8(c.sp + 1)
	c.sp += 2
	return bit.Combine(high, low)
}

func (c *CPU) execute(opcode uint8) {
	switch {
	case opcode == 0x76:
		c.halt()
		return
	case opcode >= 0x40 && opcode <= 0x7F:
		// LD r,r'
		c.setR8(opcode>>3&0x07, c.getR8(opcode&0x07))
		return
	case opcode >= 0x80 && opcode <= 0xBF:
		// ALU A,r
		c.aluOp(opcode>>3&0x07, c.getR8(opcode&0x07))
		return
	}

	switch opcode {
	case 0x00: // NOP

	case 0x01: // LD BC,nn
		c.setBC(c.fetch16())
	case 0x11: // LD DE,nn
		c.setDE(c.fetch16())
	case 0x21: // LD HL,nn
		c.setHL(c.fetch16())
	case 0x31: // LD SP,nn
		c.sp = c.fetch16()

	case 0x02: // LD (BC),A
		c.write8(c.getBC(), c.a)
	case 0x12: // LD (DE),A
		c.write8(c.getDE(), c.a)
	case 0x0A: // LD A,(BC)
		c.a = c.read8(c.getBC())
	case 0x1A: // LD A,(DE)
		c.a = c.read8(c.getDE())

	case 0x22: // LD (HL+),A
		c.write8(c.getHL(), c.a)
		c.setHL(c.getHL() + 1)
	case 0x32: // LD (HL-),A
		c.write8(c.getHL(), c.a)
		c.setHL(c.getHL() - 1)
	case 0x2A: // LD A,(HL+)
		c.a = c.read8(c.getHL())
		c.setHL(c.getHL() + 1)
	case 0x3A: // LD A,(HL-)
		c.a = c.read8(c.getHL())
		c.setHL(c.getHL() - 1)

	case 0x06, 0x0E, 0x16, 0x1E, 0x26, 0x2E, 0x36, 0x3E: // LD r,n
		c.setR8(opcode>>3&0x07, c.fetch8())

	case 0x03: // INC BC
		c.tick()
		c.setBC(c.getBC() + 1)
	case 0x13: // INC DE
		c.tick()
		c.setDE(c.getDE() + 1)
	case 0x23: // INC HL
		c.tick()
		c.setHL(c.getHL() + 1)
	case 0x33: // INC SP
		c.tick()
		c.sp++
	case 0x0B: // DEC BC
		c.tick()
		c.setBC(c.getBC() - 1)
	case 0x1B: // DEC DE
		c.tick()
		c.setDE(c.getDE() - 1)
	case 0x2B: // DEC HL
		c.tick()
		c.setHL(c.getHL() - 1)
	case 0x3B: // DEC SP
		c.tick()
		c.sp--

	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C: // INC r
		code := opcode >> 3 & 0x07
		c.setR8(code, c.inc(c.getR8(code)))
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D: // DEC r
		code := opcode >> 3 & 0x07
		c.setR8(code, c.dec(c.getR8(code)))

	case 0x09: // ADD HL,BC
		c.tick()
		c.addToHL(c.getBC())
	case 0x19: // ADD HL,DE
		c.tick()
		c.addToHL(c.getDE())
	case 0x29: // ADD HL,HL
		c.tick()
		c.addToHL(c.getHL())
	case 0x39: // ADD HL,SP
		c.tick()
		c.addToHL(c.sp)

	case 0x07: // RLCA
		c.a = c.rlc(c.a, false)
	case 0x0F: // RRCA
		c.a = c.rrc(c.a, false)
	case 0x17: // RLA
		c.a = c.rl(c.a, false)
	case 0x1F: // RRA
		c.a = c.rr(c.a, false)

	case 0x08: // LD (nn),SP
		address := c.fetch16()
		c.write8(address, bit.Low(c.sp))
		c.write8(address+1, bit.High(c.sp))

	case 0x10: // STOP
		c.fetch8() // padding byte
		c.stopped = true

	case 0x18: // JR e
		offset := int8(c.fetch8())
		c.tick()
		c.pc += uint16(offset)
	case 0x20, 0x28, 0x30, 0x38: // JR cc,e
		offset := int8(c.fetch8())
		if c.condition(opcode >> 3 & 0x03) {
			c.tick()
			c.pc += uint16(offset)
		}

	case 0x27: // DAA
		c.daa()
	case 0x2F: // CPL
		c.a = ^c.a
		c.setFlag(flagN, true)
		c.setFlag(flagH, true)
	case 0x37: // SCF
		c.setFlag(flagN, false)
		c.setFlag(flagH, false)
		c.setFlag(flagC, true)
	case 0x3F: // CCF
		c.setFlag(flagN, false)
		c.setFlag(flagH, false)
		c.setFlag(flagC, !c.flagSet(flagC))

	case 0xC6, 0xCE, 0xD6, 0xDE, 0xE6, 0xEE, 0xF6, 0xFE: // ALU A,n
		c.aluOp(opcode>>3&0x07, c.fetch8())

	case 0xC0, 0xC8, 0xD0, 0xD8: // RET cc
		c.tick()
		if c.condition(opcode >> 3 & 0x03) {
			c.pc = c.pop16()
			c.tick()
		}
	case 0xC9: // RET
		c.pc = c.pop16()
		c.tick()
	case 0xD9: // RETI
		c.pc = c.pop16()
		c.tick()
		c.ime = true

	case 0xC1: // POP BC
		c.setBC(c.pop16())
	case 0xD1: // POP DE
		c.setDE(c.pop16())
	case 0xE1: // POP HL
		c.setHL(c.pop16())
	case 0xF1: // POP AF
		c.setAF(c.pop16())

	case 0xC5: // PUSH BC
		c.push16(c.getBC())
	case 0xD5: // PUSH DE
		c.push16(c.getDE())
	case 0xE5: // PUSH HL
		c.push16(c.getHL())
	case 0xF5: // PUSH AF
		c.push16(c.getAF())

	case 0xC3: // JP nn
		c.pc = c.fetch16()
		c.tick()
	case 0xC2, 0xCA, 0xD2, 0xDA: // JP cc,nn
		target := c.fetch16()
		if c.condition(opcode >> 3 & 0x03) {
			c.pc = target
			c.tick()
		}
	case 0xE9: // JP HL
		c.pc = c.getHL()

	case 0xCD: // CALL nn
		target := c.fetch16()
		c.push16(c.pc)
		c.pc = target
	case 0xC4, 0xCC, 0xD4, 0xDC: // CALL cc,nn
		target := c.fetch16()
		if c.condition(opcode >> 3 & 0x03) {
			c.push16(c.pc)
			c.pc = target
		}

	case 0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF: // RST
		c.push16(c.pc)
		c.pc = uint16(opcode & 0x38)

	case 0xCB:
		c.executeCB(c.fetch8())

	case 0xE0: // LDH (n),A
		c.write8(0xFF00+uint16(c.fetch8()), c.a)
	case 0xF0: // LDH A,(n)
		c.a = c.read8(0xFF00 + uint16(c.fetch8()))
	case 0xE2: // LD (C),A
		c.write8(0xFF00+uint16(c.c), c.a)
	case 0xF2: // LD A,(C)
		c.a = c.read8(0xFF00 + uint16(c.c))
	case 0xEA: // LD (nn),A
		c.write8(c.fetch16(), c.a)
	case 0xFA: // LD A,(nn)
		c.a = c.read8(c.fetch16())

	case 0xE8: // ADD SP,e
		offset := c.fetch8()
		c.tick()
		c.tick()
		c.sp = c.spOffset(offset)
	case 0xF8: // LD HL,SP+e
		offset := c.fetch8()
		c.tick()
		c.setHL(c.spOffset(offset))
	case 0xF9: // LD SP,HL
		c.tick()
		c.sp = c.getHL()

	case 0xF3: // DI
		c.ime = false
		c.eiPending = false
	case 0xFB: // EI
		c.eiPending = true

	default:
		// 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD:
		// undefined opcodes lock the hardware; treating them as NOPs keeps
		// misbehaving guests running instead of crashing the host.
	}
}

// executeCB runs a CB-prefixed opcode. The prefix space is fully regular:
// bits 7-6 select the group, 5-3 the sub-operation or bit index, 2-0 the
// register.
func (c *CPU) executeCB(opcode uint8) {
	reg := opcode & 0x07
	index := opcode >> 3 & 0x07

	switch opcode >> 6 {
	case 0: // rotates and shifts
		value := c.getR8(reg)
		switch index {
		case 0:
			value = c.rlc(value, true)
		case 1:
			value = c.rrc(value, true)
		case 2:
			value = c.rl(value, true)
		case 3:
			value = c.rr(value, true)
		case 4:
			value = c.sla(value)
		case 5:
			value = c.sra(value)
		case 6:
			value = c.swap(value)
		default:
			value = c.srl(value)
		}
		c.setR8(reg, value)
	case 1: // BIT b,r
		c.testBit(index, c.getR8(reg))
	case 2: // RES b,r
		c.setR8(reg, c.getR8(reg)&^(1<<index))
	default: // SET b,r
		c.setR8(reg, c.getR8(reg)|1<<index)
	}
}
