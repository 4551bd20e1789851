package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
)

func TestDIVCountsAt16384Hz(t *testing.T) {
	var tm Timer
	tm.Tick(255)
	assert.Equal(t, uint8(0), tm.Read(addr.DIV))
	tm.Tick(1)
	assert.Equal(t, uint8(1), tm.Read(addr.DIV))
}

func TestDIVWriteResets(t *testing.T) {
	var tm Timer
	tm.Tick(0x1234)
	require.NotZero(t, tm.Read(addr.DIV))
	tm.Write(addr.DIV, 0xA5) // value is irrelevant
	assert.Equal(t, uint8(0), tm.Read(addr.DIV))
}

func TestTIMAFallingEdgeLaw(t *testing.T) {
	// TAC=0x05: bit 3, one increment every 16 T-cycles
	var tm Timer
	tm.Write(addr.TAC, 0x05)

	tm.Tick(15)
	assert.Equal(t, uint8(0), tm.Read(addr.TIMA))
	tm.Tick(1)
	assert.Equal(t, uint8(1), tm.Read(addr.TIMA))

	tm.Tick(16 * 10)
	assert.Equal(t, uint8(11), tm.Read(addr.TIMA))
}

func TestTIMARatePerTACSelect(t *testing.T) {
	periods := map[uint8]int{0x04: 1024, 0x05: 16, 0x06: 64, 0x07: 256}
	for tac, period := range periods {
		var tm Timer
		tm.Write(addr.TAC, tac)
		tm.Tick(period * 8)
		assert.Equal(t, uint8(8), tm.Read(addr.TIMA), "TAC=0x%02X", tac)
	}
}

func TestDIVWriteCanIncrementTIMA(t *testing.T) {
	// With the selected bit high, resetting the divider is a falling edge.
	var tm Timer
	tm.Write(addr.TAC, 0x05) // bit 3
	tm.Tick(8)               // divider = 8, bit 3 high
	require.Equal(t, uint8(0), tm.Read(addr.TIMA))

	tm.Write(addr.DIV, 0x00)
	assert.Equal(t, uint8(1), tm.Read(addr.TIMA), "spurious increment on DIV write")

	// with the bit low there is no edge
	tm.Write(addr.DIV, 0x00)
	assert.Equal(t, uint8(1), tm.Read(addr.TIMA))
}

func TestTACDisableEdge(t *testing.T) {
	var tm Timer
	tm.Write(addr.TAC, 0x05)
	tm.Tick(8) // selected bit high
	tm.Write(addr.TAC, 0x00)
	assert.Equal(t, uint8(1), tm.Read(addr.TIMA), "disabling with the bit high clocks once")
}

func TestOverflowReloadWindow(t *testing.T) {
	// TAC=0x05, TMA=0xFE, TIMA=0xFF: after the overflow edge TIMA reads 0
	// for 4 T-cycles, then TMA, with the interrupt at the reload.
	var tm Timer
	fired := 0
	tm.Interrupt = func() { fired++ }
	tm.Write(addr.TAC, 0x05)
	tm.Write(addr.TMA, 0xFE)
	tm.Write(addr.TIMA, 0xFF)

	tm.Tick(16) // overflow edge
	require.Equal(t, uint8(0x00), tm.Read(addr.TIMA))
	require.Zero(t, fired, "interrupt is delayed")

	tm.Tick(3)
	assert.Equal(t, uint8(0x00), tm.Read(addr.TIMA), "still in the window")
	assert.Zero(t, fired)

	tm.Tick(1)
	assert.Equal(t, uint8(0xFE), tm.Read(addr.TIMA), "TMA loaded after 4 T-cycles")
	assert.Equal(t, 1, fired, "interrupt exactly at reload")
}

func TestTIMAWriteInWindowCancelsReload(t *testing.T) {
	var tm Timer
	fired := 0
	tm.Interrupt = func() { fired++ }
	tm.Write(addr.TAC, 0x05)
	tm.Write(addr.TMA, 0xFE)
	tm.Write(addr.TIMA, 0xFF)

	tm.Tick(16) // overflow
	tm.Write(addr.TIMA, 0x42)
	tm.Tick(8)

	assert.Equal(t, uint8(0x42), tm.Read(addr.TIMA))
	assert.Zero(t, fired, "write in the window cancels the pending interrupt")
}

func TestTMAWriteInWindowPropagates(t *testing.T) {
	var tm Timer
	tm.Write(addr.TAC, 0x05)
	tm.Write(addr.TMA, 0xFE)
	tm.Write(addr.TIMA, 0xFF)

	tm.Tick(16) // overflow
	tm.Tick(3)
	tm.Write(addr.TMA, 0x77)
	tm.Tick(1) // reload cycle
	assert.Equal(t, uint8(0x77), tm.Read(addr.TIMA), "new TMA reaches the delayed load")
}

func TestFrameSequencerHookOnDIVBit(t *testing.T) {
	var tm Timer
	ticks := 0
	tm.FrameSequencer = func() { ticks++ }

	tm.Tick(8192) // one 512 Hz period
	assert.Equal(t, 1, ticks)

	tm.Tick(8192 * 4)
	assert.Equal(t, 5, ticks)
}

func TestFrameSequencerClockedByDIVWrite(t *testing.T) {
	var tm Timer
	ticks := 0
	tm.FrameSequencer = func() { ticks++ }

	tm.Tick(8192 / 2) // frame sequencer bit now high
	tm.Write(addr.DIV, 0)
	assert.Equal(t, 1, ticks, "DIV write with the bit high clocks the sequencer")
}

func TestTACUpperBitsReadOne(t *testing.T) {
	var tm Timer
	tm.Write(addr.TAC, 0x05)
	assert.Equal(t, uint8(0xFD), tm.Read(addr.TAC))
}
