package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
)

// testBus is a flat 64 KiB memory with a cycle counter, enough to execute
// any instruction stream.
type testBus struct {
	mem   [0x10000]uint8
	ticks int
}

func (b *testBus) Read(address uint16) uint8         { return b.mem[address] }
func (b *testBus) Write(address uint16, value uint8) { b.mem[address] = value }
func (b *testBus) Tick(mCycles int)                  { b.ticks += mCycles }

func newTestCPU(program ...uint8) (*CPU, *testBus) {
	bus := &testBus{}
	c := New(bus)
	c.pc = 0x0100
	c.sp = 0xFFFE
	copy(bus.mem[0x0100:], program)
	return c, bus
}

func TestStepReturnsMachineCycles(t *testing.T) {
	tests := []struct {
		name    string
		program []uint8
		cycles  int
	}{
		{"NOP", []uint8{0x00}, 1},
		{"LD B,n", []uint8{0x06, 0x42}, 2},
		{"LD BC,nn", []uint8{0x01, 0x34, 0x12}, 3},
		{"LD (HL),n", []uint8{0x36, 0x7F}, 3},
		{"INC BC", []uint8{0x03}, 2},
		{"INC (HL)", []uint8{0x34}, 3},
		{"ADD HL,DE", []uint8{0x19}, 2},
		{"LD (nn),SP", []uint8{0x08, 0x00, 0xC0}, 5},
		{"PUSH BC", []uint8{0xC5}, 4},
		{"POP BC", []uint8{0xC1}, 3},
		{"JP nn", []uint8{0xC3, 0x00, 0x02}, 4},
		{"JP HL", []uint8{0xE9}, 1},
		{"CALL nn", []uint8{0xCD, 0x00, 0x02}, 6},
		{"RET", []uint8{0xC9}, 4},
		{"RETI", []uint8{0xD9}, 4},
		{"RST 18", []uint8{0xDF}, 4},
		{"ADD SP,e", []uint8{0xE8, 0x01}, 4},
		{"LD HL,SP+e", []uint8{0xF8, 0x01}, 3},
		{"LD SP,HL", []uint8{0xF9}, 2},
		{"LDH (n),A", []uint8{0xE0, 0x80}, 3},
		{"LD A,(nn)", []uint8{0xFA, 0x00, 0xC0}, 4},
		{"CB RLC B", []uint8{0xCB, 0x00}, 2},
		{"CB BIT 0,(HL)", []uint8{0xCB, 0x46}, 3},
		{"CB SET 0,(HL)", []uint8{0xCB, 0xC6}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, bus := newTestCPU(tt.program...)
			got := c.Step()
			assert.Equal(t, tt.cycles, got, "returned cycles")
			assert.Equal(t, tt.cycles, bus.ticks, "bus ticks")
		})
	}
}

func TestConditionalTimings(t *testing.T) {
	tests := []struct {
		name     string
		program  []uint8
		carry    bool
		cycles   int
	}{
		{"JR NZ taken", []uint8{0x20, 0x05}, false, 3},
		{"JR Z not taken", []uint8{0x28, 0x05}, false, 2},
		{"JP C taken", []uint8{0xDA, 0x00, 0x02}, true, 4},
		{"JP C not taken", []uint8{0xDA, 0x00, 0x02}, false, 3},
		{"CALL NC taken", []uint8{0xD4, 0x00, 0x02}, false, 6},
		{"CALL C not taken", []uint8{0xDC, 0x00, 0x02}, false, 3},
		{"RET NC taken", []uint8{0xD0}, false, 5},
		{"RET C not taken", []uint8{0xD8}, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCPU(tt.program...)
			c.setFlag(flagC, tt.carry)
			// Z starts clear so NZ is taken, Z is not
			c.setFlag(flagZ, false)
			assert.Equal(t, tt.cycles, c.Step())
		})
	}
}

func TestArithmeticFlags(t *testing.T) {
	t.Run("ADD half carry", func(t *testing.T) {
		c, _ := newTestCPU(0x80) // ADD A,B
		c.a = 0x0F
		c.b = 0x01
		c.Step()
		assert.Equal(t, uint8(0x10), c.a)
		assert.False(t, c.flagSet(flagZ))
		assert.True(t, c.flagSet(flagH))
		assert.False(t, c.flagSet(flagC))
	})

	t.Run("ADD carry and zero", func(t *testing.T) {
		c, _ := newTestCPU(0x80)
		c.a = 0xFF
		c.b = 0x01
		c.Step()
		assert.Equal(t, uint8(0x00), c.a)
		assert.True(t, c.flagSet(flagZ))
		assert.True(t, c.flagSet(flagH))
		assert.True(t, c.flagSet(flagC))
	})

	t.Run("ADC uses carry", func(t *testing.T) {
		c, _ := newTestCPU(0x88) // ADC A,B
		c.a = 0x00
		c.b = 0xFF
		c.setFlag(flagC, true)
		c.Step()
		assert.Equal(t, uint8(0x00), c.a)
		assert.True(t, c.flagSet(flagZ))
		assert.True(t, c.flagSet(flagC))
		assert.True(t, c.flagSet(flagH))
	})

	t.Run("SUB borrow", func(t *testing.T) {
		c, _ := newTestCPU(0x90) // SUB B
		c.a = 0x10
		c.b = 0x20
		c.Step()
		assert.Equal(t, uint8(0xF0), c.a)
		assert.True(t, c.flagSet(flagN))
		assert.True(t, c.flagSet(flagC))
		assert.False(t, c.flagSet(flagH))
	})

	t.Run("SBC half borrow", func(t *testing.T) {
		c, _ := newTestCPU(0x98) // SBC A,B
		c.a = 0x10
		c.b = 0x00
		c.setFlag(flagC, true)
		c.Step()
		assert.Equal(t, uint8(0x0F), c.a)
		assert.True(t, c.flagSet(flagH))
		assert.False(t, c.flagSet(flagC))
	})

	t.Run("CP leaves A", func(t *testing.T) {
		c, _ := newTestCPU(0xB8) // CP B
		c.a = 0x42
		c.b = 0x42
		c.Step()
		assert.Equal(t, uint8(0x42), c.a)
		assert.True(t, c.flagSet(flagZ))
	})

	t.Run("AND sets H", func(t *testing.T) {
		c, _ := newTestCPU(0xA0) // AND B
		c.a = 0xF0
		c.b = 0x0F
		c.Step()
		assert.Equal(t, uint8(0x00), c.a)
		assert.Equal(t, flagZ|flagH, c.f)
	})

	t.Run("XOR clears all but Z", func(t *testing.T) {
		c, _ := newTestCPU(0xA8) // XOR B
		c.a = 0xAA
		c.b = 0xAA
		c.f = 0xF0
		c.Step()
		assert.Equal(t, flagZ, c.f)
	})
}

func TestIncDecPreserveCarry(t *testing.T) {
	c, _ := newTestCPU(0x04) // INC B
	c.b = 0xFF
	c.setFlag(flagC, true)
	c.Step()
	assert.Equal(t, uint8(0x00), c.b)
	assert.True(t, c.flagSet(flagZ))
	assert.True(t, c.flagSet(flagH))
	assert.True(t, c.flagSet(flagC), "INC must not touch C")

	c, _ = newTestCPU(0x05) // DEC B
	c.b = 0x10
	c.Step()
	assert.Equal(t, uint8(0x0F), c.b)
	assert.True(t, c.flagSet(flagH))
	assert.True(t, c.flagSet(flagN))
}

func TestRotateAClearZ(t *testing.T) {
	// RLCA/RLA/RRCA/RRA always clear Z, even on a zero result
	c, _ := newTestCPU(0x07) // RLCA
	c.a = 0x00
	c.f = 0xF0
	c.Step()
	assert.Equal(t, uint8(0x00), c.f, "RLCA clears Z/N/H and C from bit 7")

	c, _ = newTestCPU(0x07)
	c.a = 0x80
	c.Step()
	assert.Equal(t, uint8(0x01), c.a)
	assert.True(t, c.flagSet(flagC))
	assert.False(t, c.flagSet(flagZ))

	// CB-prefixed RLC sets Z on zero result
	c, _ = newTestCPU(0xCB, 0x00) // RLC B
	c.b = 0x00
	c.Step()
	assert.True(t, c.flagSet(flagZ))
}

func TestDAA(t *testing.T) {
	tests := []struct {
		name       string
		a, b       uint8
		op         uint8 // ADD or SUB opcode
		wantA      uint8
		wantCarry  bool
	}{
		{"15+27=42", 0x15, 0x27, 0x80, 0x42, false},
		{"99+01=00 carry", 0x99, 0x01, 0x80, 0x00, true},
		{"45-18=27", 0x45, 0x18, 0x90, 0x27, false},
		{"20-50=70 borrow", 0x20, 0x50, 0x90, 0x70, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCPU(tt.op, 0x27) // ALU then DAA
			c.a = tt.a
			c.b = tt.b
			c.Step()
			c.Step()
			assert.Equal(t, tt.wantA, c.a)
			assert.Equal(t, tt.wantCarry, c.flagSet(flagC))
			assert.False(t, c.flagSet(flagH), "DAA clears H")
		})
	}
}

func TestSPOffsetFlags(t *testing.T) {
	// H and C come from the low byte of SP + unsigned immediate
	c, _ := newTestCPU(0xE8, 0x01) // ADD SP,+1
	c.sp = 0x00FF
	c.Step()
	assert.Equal(t, uint16(0x0100), c.sp)
	assert.True(t, c.flagSet(flagC))
	assert.True(t, c.flagSet(flagH))
	assert.False(t, c.flagSet(flagZ), "ADD SP,e always clears Z")

	c, _ = newTestCPU(0xF8, 0xFF) // LD HL,SP-1
	c.sp = 0x0000
	c.Step()
	assert.Equal(t, uint16(0xFFFF), c.getHL())
	assert.False(t, c.flagSet(flagC), "low byte 0x00 + 0xFF carries nothing")
}

func TestLoadsAndStack(t *testing.T) {
	t.Run("LD (HL+),A", func(t *testing.T) {
		c, bus := newTestCPU(0x22)
		c.a = 0x5A
		c.setHL(0xC000)
		c.Step()
		assert.Equal(t, uint8(0x5A), bus.mem[0xC000])
		assert.Equal(t, uint16(0xC001), c.getHL())
	})

	t.Run("PUSH POP round trip", func(t *testing.T) {
		c, _ := newTestCPU(0xC5, 0xD1) // PUSH BC; POP DE
		c.setBC(0x1234)
		c.Step()
		c.Step()
		assert.Equal(t, uint16(0x1234), c.getDE())
	})

	t.Run("POP AF masks low nibble", func(t *testing.T) {
		c, bus := newTestCPU(0xF1)
		c.sp = 0xC000
		bus.mem[0xC000] = 0xFF
		bus.mem[0xC001] = 0x12
		c.Step()
		assert.Equal(t, uint8(0xF0), c.f, "F low 4 bits always zero")
		assert.Equal(t, uint8(0x12), c.a)
	})
}

func TestCallRetRoundTrip(t *testing.T) {
	c, _ := newTestCPU(0xCD, 0x00, 0x02) // CALL 0x0200
	c.bus.(*testBus).mem[0x0200] = 0xC9   // RET
	c.Step()
	require.Equal(t, uint16(0x0200), c.pc)
	c.Step()
	assert.Equal(t, uint16(0x0103), c.pc)
	assert.Equal(t, uint16(0xFFFE), c.sp)
}

func TestInterruptService(t *testing.T) {
	c, bus := newTestCPU(0x00)
	c.ime = true
	bus.mem[addr.IE] = 0x1F
	bus.mem[addr.IF] = 0x05 // VBlank and Timer pending

	cycles := c.Step()

	assert.Equal(t, 5, cycles, "service sequence is 5 machine cycles")
	assert.Equal(t, uint16(0x0040), c.pc, "VBlank wins priority")
	assert.Equal(t, uint8(0x04), bus.mem[addr.IF], "only the serviced bit clears")
	assert.False(t, c.ime)
	// PC 0x0100 pushed
	assert.Equal(t, uint8(0x01), bus.mem[0xFFFD])
	assert.Equal(t, uint8(0x00), bus.mem[0xFFFC])
}

func TestInterruptPriorityOrder(t *testing.T) {
	for i := uint8(0); i < 5; i++ {
		c, bus := newTestCPU(0x00)
		c.ime = true
		bus.mem[addr.IE] = 0x1F
		bus.mem[addr.IF] = 0x10 | 1<<i // joypad plus one higher
		c.Step()
		assert.Equal(t, addr.Interrupt(i).Vector(), c.pc)
	}
}

func TestEIDelay(t *testing.T) {
	c, bus := newTestCPU(0xFB, 0x00, 0x00) // EI; NOP; NOP
	bus.mem[addr.IE] = 0x01
	bus.mem[addr.IF] = 0x01

	c.Step() // EI
	assert.False(t, c.ime, "IME not set during EI")
	c.Step() // NOP runs before the interrupt can be taken
	assert.True(t, c.ime, "IME set after the following instruction")
	assert.Equal(t, uint16(0x0102), c.pc)

	c.Step() // now the interrupt is serviced
	assert.Equal(t, uint16(0x0040), c.pc)
}

func TestEIThenDIDoesNotEnable(t *testing.T) {
	c, _ := newTestCPU(0xFB, 0xF3, 0x00) // EI; DI; NOP
	c.Step()
	c.Step()
	c.Step()
	assert.False(t, c.ime)
}

func TestHaltWakesWithoutServiceWhenIMEClear(t *testing.T) {
	c, bus := newTestCPU(0x76, 0x00) // HALT; NOP
	c.ime = false

	c.Step() // HALT, nothing pending: halts
	require.True(t, c.halted)
	assert.Equal(t, 1, c.Step(), "halted idle consumes one machine cycle")

	bus.mem[addr.IE] = 0x04
	bus.mem[addr.IF] = 0x04
	c.Step()
	assert.False(t, c.halted, "pending interrupt ends HALT")
	assert.Equal(t, uint16(0x0102), c.pc, "no service with IME clear")
	assert.Equal(t, uint8(0x04), bus.mem[addr.IF], "IF untouched")
}

func TestHaltBugFetchesByteTwice(t *testing.T) {
	// HALT with IME=0 and a pending unmasked interrupt does not halt, and the
	// following byte is fetched twice. With LD A,n next, the operand read
	// re-reads the opcode: A ends up 0x3E.
	c, bus := newTestCPU(0x76, 0x3E, 0x99)
	bus.mem[addr.IE] = 0x01
	bus.mem[addr.IF] = 0x01
	c.ime = false

	c.Step() // HALT arms the bug
	require.False(t, c.halted)

	c.Step() // LD A,n with the duplicated fetch
	assert.Equal(t, uint8(0x3E), c.a)
	// PC now points at 0x99, which executes next as its own opcode
	assert.Equal(t, uint16(0x0102), c.pc)
}

func TestHaltServicesWithIMESet(t *testing.T) {
	c, bus := newTestCPU(0x76) // HALT
	c.ime = true
	c.Step()
	require.True(t, c.halted)

	bus.mem[addr.IE] = 0x01
	bus.mem[addr.IF] = 0x01
	c.Step()
	assert.Equal(t, uint16(0x0040), c.pc)
	assert.False(t, c.halted)
}

func TestCBRegisterDecode(t *testing.T) {
	t.Run("SWAP A", func(t *testing.T) {
		c, _ := newTestCPU(0xCB, 0x37)
		c.a = 0xF1
		c.Step()
		assert.Equal(t, uint8(0x1F), c.a)
	})

	t.Run("BIT 7,H", func(t *testing.T) {
		c, _ := newTestCPU(0xCB, 0x7C)
		c.h = 0x80
		c.Step()
		assert.False(t, c.flagSet(flagZ))
		assert.True(t, c.flagSet(flagH))
	})

	t.Run("RES 3,(HL)", func(t *testing.T) {
		c, bus := newTestCPU(0xCB, 0x9E)
		c.setHL(0xC000)
		bus.mem[0xC000] = 0xFF
		c.Step()
		assert.Equal(t, uint8(0xF7), bus.mem[0xC000])
	})

	t.Run("SRA keeps sign", func(t *testing.T) {
		c, _ := newTestCPU(0xCB, 0x28) // SRA B
		c.b = 0x81
		c.Step()
		assert.Equal(t, uint8(0xC0), c.b)
		assert.True(t, c.flagSet(flagC))
	})
}

func TestJRBackward(t *testing.T) {
	c, _ := newTestCPU(0x18, 0xFE) // JR -2: loop to itself
	c.Step()
	assert.Equal(t, uint16(0x0100), c.pc)
}
