package video

import "github.com/dotmatrix-emu/dotmatrix/dmg/bit"

// sprite is one OAM entry as selected during mode 2, raw coordinates kept.
type sprite struct {
	y     uint8 // raw Y (screen Y + 16)
	x     uint8 // raw X (screen X + 8)
	tile  uint8
	flags uint8
	index uint8 // OAM slot, tiebreaker for equal X
}

func (s sprite) palOBP1() bool  { return bit.IsSet(4, s.flags) }
func (s sprite) flipX() bool    { return bit.IsSet(5, s.flags) }
func (s sprite) flipY() bool    { return bit.IsSet(6, s.flags) }
func (s sprite) behindBG() bool { return bit.IsSet(7, s.flags) }

// scanOAMEntry evaluates one OAM slot against the current line and appends it
// to the scanline buffer if its Y range covers the line. Selection is in OAM
// order and capped at 10; X plays no part in it.
func (p *PPU) scanOAMEntry(slot int) {
	if len(p.lineSprites) >= 10 {
		return
	}
	base := slot * 4
	y := p.oam[base]
	line := int(p.ly) + 16
	if int(y) <= line && line < int(y)+p.spriteHeight() {
		p.lineSprites = append(p.lineSprites, sprite{
			y:     y,
			x:     p.oam[base+1],
			tile:  p.oam[base+2],
			flags: p.oam[base+3],
			index: uint8(slot),
		})
	}
}

func (p *PPU) spriteHeight() int {
	if bit.IsSet(2, p.lcdc) {
		return 16
	}
	return 8
}
