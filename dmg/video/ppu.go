package video

import (
	"github.com/dotmatrix-emu/dotmatrix/dmg/addr"
	"github.com/dotmatrix-emu/dotmatrix/dmg/bit"
)

// PPU modes as exposed in STAT bits 1-0.
const (
	ModeHBlank  = 0
	ModeVBlank  = 1
	ModeOAMScan = 2
	ModeDrawing = 3
)

const (
	dotsPerLine   = 456
	linesPerFrame = 154
	oamScanDots   = 80

	// FrameDots is the length of one full frame in T-cycles.
	FrameDots = dotsPerLine * linesPerFrame
)

// PPU owns VRAM, OAM and the LCD register file, and walks the 154-line dot
// state machine. It raises VBlank/STAT interrupts through callbacks and hands
// each completed frame to the machine.
type PPU struct {
	vram [0x2000]uint8
	oam  [160]uint8

	lcdc uint8
	stat uint8 // bits 6-3 as written; 2-0 synthesized on read
	scy  uint8
	scx  uint8
	ly   uint8
	lyc  uint8
	bgp  uint8
	obp0 uint8
	obp1 uint8
	wy   uint8
	wx   uint8

	mode uint8
	dot  int

	fb FrameBuffer

	spriteStore [10]sprite
	lineSprites []sprite

	// mode 3 pipeline
	fetch   fetcher
	bgQ     bgFIFO
	objQ    objFIFO
	lx      int // pixels emitted on the current line
	discard int // SCX&7 pixels dropped at line start
	pause   int // dots left in a sprite fetch stall

	// window state
	wyHit     bool // LY>=WY seen at a line start this frame
	winActive bool // window drawing on the current line
	winDrawn  bool
	winLine   int

	// STAT interrupt line, edges only
	statLine bool
	lycEqual bool

	enabled   bool
	skipStats bool // suppress STAT irqs on the first line after LCD enable

	frames uint64

	// RequestInterrupt is wired to the interrupt controller.
	RequestInterrupt func(addr.Interrupt)
	// FrameComplete receives each finished frame.
	FrameComplete func(*FrameBuffer)
}

// New returns a PPU in the post-bootrom state: LCD on, first line, mode 2.
func New() *PPU {
	p := &PPU{
		lcdc:    0x91,
		bgp:     0xFC,
		obp0:    0xFF,
		obp1:    0xFF,
		mode:    ModeOAMScan,
		enabled: true,
	}
	p.lineSprites = p.spriteStore[:0]
	return p
}

// Frames returns the number of completed frames.
func (p *PPU) Frames() uint64 { return p.frames }

// Mode returns the current PPU mode.
func (p *PPU) Mode() uint8 { return p.mode }

// LY returns the current line as the guest sees it.
func (p *PPU) LY() uint8 { return p.effectiveLY() }

// Framebuffer exposes the working frame, used by debug front ends.
func (p *PPU) Framebuffer() *FrameBuffer { return &p.fb }

// Tick advances the PPU by the given number of dots (T-cycles).
func (p *PPU) Tick(tCycles int) {
	if !p.enabled {
		return
	}
	for range tCycles {
		p.stepDot()
	}
}

func (p *PPU) stepDot() {
	if p.dot == 0 {
		p.startLine()
	}
	if p.dot == oamScanDots && p.mode == ModeOAMScan {
		p.enterDrawing()
	}

	switch p.mode {
	case ModeOAMScan:
		if p.dot%2 == 1 {
			p.scanOAMEntry(p.dot / 2)
		}
	case ModeDrawing:
		p.stepDrawing()
	}

	// the LY==LYC comparison goes false for the first dot after a line
	// change, then tracks LY and LYC continuously
	if p.dot == 0 {
		p.lycEqual = false
	} else {
		p.lycEqual = p.effectiveLY() == p.lyc
	}
	p.updateSTATLine()

	p.dot++
	if p.dot == dotsPerLine {
		p.dot = 0
		p.endLine()
	}
}

func (p *PPU) startLine() {
	if p.ly < ScreenHeight {
		p.mode = ModeOAMScan
		p.lineSprites = p.spriteStore[:0]
		if p.ly >= p.wy {
			p.wyHit = true
		}
		p.winActive = false
	} else {
		p.mode = ModeVBlank
	}
}

func (p *PPU) enterDrawing() {
	p.mode = ModeDrawing
	p.bgQ.clear()
	p.objQ.clear()
	p.fetch.reset(false)
	p.lx = 0
	p.discard = int(p.scx & 7)
	p.pause = 0
	p.winDrawn = false
}

func (p *PPU) stepDrawing() {
	// sprite fetch stalls the pipeline
	if p.pause > 0 {
		p.pause--
		return
	}

	// window activation: once WY has matched this frame and the pipeline
	// reaches WX-7, restart the fetcher in window mode
	if !p.winActive && p.windowEnabled() && p.wyHit && p.discard == 0 {
		trigger := int(p.wx) - 7
		if trigger < 0 {
			trigger = 0
		}
		if p.lx == trigger {
			p.winActive = true
			p.winDrawn = true
			p.bgQ.clear()
			p.fetch.reset(true)
		}
	}

	// sprite trigger: an in-range sprite whose left edge is at the current
	// pixel preempts the background fetch: the fetch dot plus a 6-dot pause,
	// 7 dots per sprite
	if p.discard == 0 && p.spritesEnabled() {
		if s, ok := p.takeSpriteAt(p.lx); ok {
			p.fetchSpriteRow(s)
			p.pause = 6
			return
		}
	}

	p.stepFetcher()

	if p.bgQ.empty() {
		return
	}

	if p.discard > 0 {
		p.bgQ.pop()
		p.discard--
		return
	}

	p.emitPixel()
}

// takeSpriteAt removes and returns the first pending sprite whose first
// visible pixel is at screen column x. The buffer is in OAM order; for equal
// X the first hit is the lower index, and lower X sprites trigger at earlier
// columns, so FIFO merge order realizes the DMG priority rule.
func (p *PPU) takeSpriteAt(x int) (sprite, bool) {
	for i, s := range p.lineSprites {
		start := int(s.x) - 8
		if start < 0 {
			start = 0
		}
		if start == x && s.x != 0 {
			p.lineSprites = append(p.lineSprites[:i], p.lineSprites[i+1:]...)
			return s, true
		}
	}
	return sprite{}, false
}

func (p *PPU) emitPixel() {
	bgColor := p.bgQ.pop()
	obj := p.objQ.shift()

	if !p.bgEnabled() {
		bgColor = 0
	}

	shade := palShade(p.bgp, bgColor)
	if obj.color != 0 && !(obj.behind && bgColor != 0) {
		pal := p.obp0
		if obj.obp1 {
			pal = p.obp1
		}
		shade = palShade(pal, obj.color)
	}

	p.fb.SetShade(p.lx, int(p.ly), shade)
	p.lx++

	if p.lx == ScreenWidth {
		p.mode = ModeHBlank
		if p.winDrawn {
			p.winLine++
		}
	}
}

// palShade maps a 2-bit color through a palette register.
func palShade(palette, color uint8) uint8 {
	return palette >> (color * 2) & 0x03
}

func (p *PPU) endLine() {
	p.ly++
	p.skipStats = false

	switch {
	case p.ly == ScreenHeight:
		p.mode = ModeVBlank
		p.frames++
		if p.RequestInterrupt != nil {
			p.RequestInterrupt(addr.VBlankInterrupt)
		}
		if p.FrameComplete != nil {
			p.FrameComplete(&p.fb)
		}
	case p.ly == linesPerFrame:
		p.ly = 0
		p.mode = ModeOAMScan
		p.wyHit = false
		p.winLine = 0
	}
}

// effectiveLY models the line-153 quirk: the register reads 0 for most of the
// final vblank line.
func (p *PPU) effectiveLY() uint8 {
	if p.ly == 153 && p.dot >= 8 {
		return 0
	}
	return p.ly
}

// updateSTATLine recomputes the OR of the enabled STAT sources and requests
// an interrupt only on a 0->1 edge (STAT blocking).
func (p *PPU) updateSTATLine() {
	line := p.lycEqual && bit.IsSet(6, p.stat) ||
		p.mode == ModeHBlank && bit.IsSet(3, p.stat) ||
		p.mode == ModeVBlank && bit.IsSet(4, p.stat) ||
		p.mode == ModeOAMScan && bit.IsSet(5, p.stat)

	if line && !p.statLine && !p.skipStats {
		if p.RequestInterrupt != nil {
			p.RequestInterrupt(addr.STATInterrupt)
		}
	}
	p.statLine = line
}

func (p *PPU) bgEnabled() bool      { return bit.IsSet(0, p.lcdc) }
func (p *PPU) spritesEnabled() bool { return bit.IsSet(1, p.lcdc) }
func (p *PPU) windowEnabled() bool  { return bit.IsSet(5, p.lcdc) }

// bus access

// ReadVRAM returns 0xFF during OAM scan and drawing (modes 2 and 3).
func (p *PPU) ReadVRAM(address uint16) uint8 {
	if p.enabled && (p.mode == ModeOAMScan || p.mode == ModeDrawing) {
		return 0xFF
	}
	return p.vram[address-0x8000]
}

// WriteVRAM drops writes during OAM scan and drawing.
func (p *PPU) WriteVRAM(address uint16, value uint8) {
	if p.enabled && (p.mode == ModeOAMScan || p.mode == ModeDrawing) {
		return
	}
	p.vram[address-0x8000] = value
}

// ReadOAM returns 0xFF during OAM scan and drawing.
func (p *PPU) ReadOAM(address uint16) uint8 {
	if p.enabled && (p.mode == ModeOAMScan || p.mode == ModeDrawing) {
		return 0xFF
	}
	return p.oam[address-addr.OAMStart]
}

// WriteOAM drops writes during OAM scan and drawing.
func (p *PPU) WriteOAM(address uint16, value uint8) {
	if p.enabled && (p.mode == ModeOAMScan || p.mode == ModeDrawing) {
		return
	}
	p.oam[address-addr.OAMStart] = value
}

// WriteOAMDirect is the DMA path, free of mode restrictions.
func (p *PPU) WriteOAMDirect(index uint8, value uint8) {
	p.oam[index] = value
}

// ReadRegister serves the LCD register file.
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case addr.LCDC:
		return p.lcdc
	case addr.STAT:
		v := 0x80 | p.stat&0x78
		if p.lycEqual {
			v |= 0x04
		}
		if p.enabled {
			v |= p.mode
		}
		return v
	case addr.SCY:
		return p.scy
	case addr.SCX:
		return p.scx
	case addr.LY:
		return p.effectiveLY()
	case addr.LYC:
		return p.lyc
	case addr.BGP:
		return p.bgp
	case addr.OBP0:
		return p.obp0
	case addr.OBP1:
		return p.obp1
	case addr.WY:
		return p.wy
	case addr.WX:
		return p.wx
	}
	return 0xFF
}

// WriteRegister serves the LCD register file.
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address {
	case addr.LCDC:
		p.writeLCDC(value)
	case addr.STAT:
		p.stat = value & 0x78
	case addr.SCY:
		p.scy = value
	case addr.SCX:
		p.scx = value
	case addr.LY:
		// read-only
	case addr.LYC:
		p.lyc = value
	case addr.BGP:
		p.bgp = value
	case addr.OBP0:
		p.obp0 = value
	case addr.OBP1:
		p.obp1 = value
	case addr.WY:
		p.wy = value
	case addr.WX:
		p.wx = value
	}
}

// writeLCDC handles LCD enable/disable transitions. Disabling resets the
// machine to line 0 mode 0 and blanks the output; the exact sub-line restart
// on re-enable is approximated as a fresh line 0 with STAT irqs held off
// until the first full line.
func (p *PPU) writeLCDC(value uint8) {
	wasOn := bit.IsSet(7, p.lcdc)
	on := bit.IsSet(7, value)
	p.lcdc = value

	if wasOn && !on {
		p.enabled = false
		p.ly = 0
		p.dot = 0
		p.mode = ModeHBlank
		p.lycEqual = false
		p.statLine = false
		p.fb.Fill(0)
		if p.FrameComplete != nil {
			p.FrameComplete(&p.fb)
		}
	}
	if !wasOn && on {
		p.enabled = true
		p.ly = 0
		p.dot = 0
		p.wyHit = false
		p.winLine = 0
		p.skipStats = true
	}
}
