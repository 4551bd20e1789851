// Package serial provides devices for the SB/SC registers. The DMG link
// cable itself is out of scope; the log sink exists because test ROMs report
// their results over serial.
package serial

import (
	"log/slog"
	"strings"

	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
	"github.com/dotmatrix-emu/dotmatrix/dmg/bit"
)

// transferCycles is the DMG internal-clock transfer duration per byte.
const transferCycles = 4096

// LogSink is a serial device with no partner: outgoing bytes are captured
// and logged line by line, incoming bytes read as 0xFF. Transfers complete
// after the hardware byte time and raise the serial interrupt.
type LogSink struct {
	sb uint8
	sc uint8

	countdown int

	line     []byte
	captured strings.Builder

	// Interrupt is called when a transfer completes.
	Interrupt func()
}

// NewLogSink returns a sink wired to the given interrupt request.
func NewLogSink(interrupt func()) *LogSink {
	return &LogSink{Interrupt: interrupt}
}

func (s *LogSink) Read(address uint16) uint8 {
	switch address {
	case addr.SB:
		return s.sb
	case addr.SC:
		return s.sc | 0x7E
	}
	return 0xFF
}

func (s *LogSink) Write(address uint16, value uint8) {
	switch address {
	case addr.SB:
		s.sb = value
	case addr.SC:
		s.sc = value
		// transfer starts on internal clock with the start bit set
		if bit.IsSet(7, value) && bit.IsSet(0, value) && s.countdown == 0 {
			s.capture(s.sb)
			s.countdown = transferCycles
		}
	}
}

// Tick advances an active transfer.
func (s *LogSink) Tick(tCycles int) {
	if s.countdown == 0 {
		return
	}
	s.countdown -= tCycles
	if s.countdown <= 0 {
		s.countdown = 0
		s.sb = 0xFF // no partner drives the line
		s.sc = bit.Clear(7, s.sc)
		if s.Interrupt != nil {
			s.Interrupt()
		}
	}
}

func (s *LogSink) capture(b uint8) {
	s.captured.WriteByte(b)
	if b == '\n' || b == 0 {
		if len(s.line) > 0 {
			slog.Info("serial", "line", string(s.line))
			s.line = s.line[:0]
		}
		return
	}
	s.line = append(s.line, b)
}

// Output returns everything the guest has sent so far. Test harnesses watch
// this for the pass/fail strings the blargg ROMs print.
func (s *LogSink) Output() string {
	return s.captured.String()
}
