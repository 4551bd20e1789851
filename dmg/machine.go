// Package dmg assembles the emulation core: one Machine owns the CPU, bus,
// PPU, APU, timer, joypad, DMA and cartridge, and steps them on a shared
// clock. The host drives time through RunFrame and receives output through
// the frame and sample sinks.
package dmg

import (
	"errors"
	"fmt"

	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
	"github.com/dotmatrix-emu/dotmatrix/dmg/audio"
	"github.com/dotmatrix-emu/dotmatrix/dmg/cpu"
	"github.com/dotmatrix-emu/dotmatrix/dmg/memory"
	"github.com/dotmatrix-emu/dotmatrix/dmg/serial"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

// ErrHostAborted reports that a host sink rejected output; the run stops
// cleanly with machine state intact so the host can still save.
var ErrHostAborted = errors.New("dmg: host aborted")

// postBootDivider is the divider value after the DMG bootrom hands over.
const postBootDivider = 0xABCC

// FrameSink receives each completed 160x144 frame. The buffer is only valid
// for the duration of the call.
type FrameSink interface {
	Frame(fb *video.FrameBuffer) error
}

// InputPoller supplies the 8-button state, pressed = 1. It is polled once at
// the start of every frame.
type InputPoller interface {
	Poll() memory.Buttons
}

type nopFrameSink struct{}

func (nopFrameSink) Frame(*video.FrameBuffer) error { return nil }

type nopInput struct{}

func (nopInput) Poll() memory.Buttons { return 0 }

// Option configures a Machine at construction.
type Option func(*Machine)

// WithBootrom maps a 256-byte bootrom; execution then starts at 0x0000 with
// cleared registers instead of the post-bootrom state.
func WithBootrom(image []byte) Option {
	return func(m *Machine) { m.bootrom = image }
}

// WithFrameSink directs completed frames to the given sink.
func WithFrameSink(sink FrameSink) Option {
	return func(m *Machine) { m.frameSink = sink }
}

// WithAudioSink directs resampled PCM at hostRate to the given sink.
func WithAudioSink(sink audio.SampleSink, hostRate int) Option {
	return func(m *Machine) { m.audioSink = sink; m.hostRate = hostRate }
}

// WithInput installs the button poller.
func WithInput(poller InputPoller) Option {
	return func(m *Machine) { m.input = poller }
}

// WithBatteryRAM restores a save file into the cartridge RAM at power-on.
func WithBatteryRAM(data []byte) Option {
	return func(m *Machine) { m.saveData = data }
}

// Machine is one DMG instance. All mutable state lives here; instances are
// independent, which keeps runs deterministic and testable side by side.
type Machine struct {
	cpu       *cpu.CPU
	mmu       *memory.MMU
	ppu       *video.PPU
	apu       *audio.APU
	resampler *audio.Resampler
	serial    *serial.LogSink
	cart      *memory.Cartridge

	frameSink FrameSink
	audioSink audio.SampleSink
	input     InputPoller
	hostRate  int

	bootrom  []byte
	saveData []byte

	clock   uint64 // T-cycles since power-on
	target  uint64 // clock value at which the current frame ends
	hostErr error
}

// New powers on a Machine around the given ROM image.
func New(rom []byte, opts ...Option) (*Machine, error) {
	cart, err := memory.NewCartridge(rom)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		cart:      cart,
		frameSink: nopFrameSink{},
		input:     nopInput{},
		hostRate:  48000,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.saveData != nil {
		if err := cart.LoadBatteryRAM(m.saveData); err != nil {
			return nil, err
		}
	}

	m.mmu = memory.NewMMU(cart)
	m.ppu = video.New()
	m.resampler = audio.NewResampler(m.hostRate, m.audioSink)
	m.apu = audio.New(m.resampler)
	m.serial = serial.NewLogSink(func() { m.mmu.RequestInterrupt(addr.SerialInterrupt) })
	m.mmu.Attach(m.ppu, m.apu, m.serial)
	m.mmu.Timer.FrameSequencer = m.apu.FrameSequencerTick
	m.ppu.RequestInterrupt = m.mmu.RequestInterrupt
	m.ppu.FrameComplete = m.onFrame

	m.cpu = cpu.New(m)

	if len(m.bootrom) == 256 {
		m.mmu.SetBootrom(m.bootrom)
	} else {
		if len(m.bootrom) != 0 {
			return nil, fmt.Errorf("dmg: bootrom must be 256 bytes, got %d", len(m.bootrom))
		}
		m.cpu.SetBootState()
		m.mmu.Timer.SetDivider(postBootDivider)
	}

	return m, nil
}

// Read implements cpu.Bus.
func (m *Machine) Read(address uint16) uint8 {
	return m.mmu.Read(address)
}

// Write implements cpu.Bus.
func (m *Machine) Write(address uint16, value uint8) {
	m.mmu.Write(address, value)
}

// Tick implements cpu.Bus: every passive component advances by the same
// machine cycles, in lockstep, before the CPU observes its access.
func (m *Machine) Tick(mCycles int) {
	t := mCycles * 4
	m.clock += uint64(t)
	m.mmu.Timer.Tick(t)
	m.mmu.DMA.Tick(t)
	m.ppu.Tick(t)
	m.apu.Tick(t)
	m.serial.Tick(t)
}

func (m *Machine) onFrame(fb *video.FrameBuffer) {
	if err := m.frameSink.Frame(fb); err != nil && m.hostErr == nil {
		m.hostErr = fmt.Errorf("%w: frame sink: %v", ErrHostAborted, err)
	}
}

// RunFrame advances the machine by exactly one frame of master clock
// (70224 T-cycles), polling the installed InputPoller once at frame start;
// without one, the state last given to SetButtons is kept. It returns
// ErrHostAborted if a sink rejected output; the machine state stays valid.
func (m *Machine) RunFrame() error {
	if m.hostErr != nil {
		return m.hostErr
	}

	if _, none := m.input.(nopInput); !none {
		m.mmu.Joypad.Set(m.input.Poll())
	}

	m.target += video.FrameDots
	for m.clock < m.target && m.hostErr == nil {
		m.cpu.Step()
	}

	if err := m.resampler.Flush(); err != nil && m.hostErr == nil {
		m.hostErr = fmt.Errorf("%w: audio sink: %v", ErrHostAborted, err)
	}
	return m.hostErr
}

// Step runs a single CPU instruction, for tests and debuggers.
func (m *Machine) Step() int {
	return m.cpu.Step()
}

// Clock returns the master clock in T-cycles since power-on.
func (m *Machine) Clock() uint64 { return m.clock }

// Frames returns the number of frames the PPU has completed.
func (m *Machine) Frames() uint64 { return m.ppu.Frames() }

// CPU exposes the processor, for debuggers and tests.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// PPU exposes the video unit, for debuggers and tests.
func (m *Machine) PPU() *video.PPU { return m.ppu }

// Cartridge exposes the loaded cartridge.
func (m *Machine) Cartridge() *memory.Cartridge { return m.cart }

// SetButtons overrides the joypad state between frames, used by event-driven
// front ends instead of an InputPoller.
func (m *Machine) SetButtons(state memory.Buttons) {
	m.mmu.Joypad.Set(state)
}

// AudioFeedback forwards the host buffer fill fraction to the resampler.
func (m *Machine) AudioFeedback(fill float64) {
	m.resampler.Feedback(fill)
}

// SerialOutput returns everything the guest wrote to the serial port.
func (m *Machine) SerialOutput() string {
	return m.serial.Output()
}

// BatteryRAM snapshots the cartridge RAM for the host save path.
func (m *Machine) BatteryRAM() []byte {
	return m.cart.BatteryRAM()
}
