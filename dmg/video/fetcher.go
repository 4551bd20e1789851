package video

import "github.com/dotmatrix-emu/dotmatrix/dmg/bit"

// fetcher steps through the background/window tile pipeline: tile number,
// data low, data high (two dots each), then pushes 8 pixels as soon as the
// background FIFO drains.
type fetcher struct {
	phase  int // 0,1: tile no; 2,3: data low; 4,5: data high; 6: push
	tileX  int // tiles emitted on this line (window: window-relative)
	tileNo uint8
	low    uint8
	high   uint8
	window bool
}

func (f *fetcher) reset(window bool) {
	f.phase = 0
	f.tileX = 0
	f.window = window
}

// bgFIFO holds background pixels as raw 2-bit tile colors.
type bgFIFO struct {
	pixels [8]uint8
	head   int
	count  int
}

func (q *bgFIFO) clear()      { q.head = 0; q.count = 0 }
func (q *bgFIFO) empty() bool { return q.count == 0 }

func (q *bgFIFO) pushRow(low, high uint8) {
	for i := 7; i >= 0; i-- {
		q.pixels[q.count] = bit.Value(uint8(i), high)<<1 | bit.Value(uint8(i), low)
		q.count++
	}
	q.head = 0
}

func (q *bgFIFO) pop() uint8 {
	p := q.pixels[q.head]
	q.head++
	q.count--
	return p
}

// objPixel is a sprite FIFO entry. Color 0 means transparent/empty.
type objPixel struct {
	color  uint8
	obp1   bool
	behind bool
}

// objFIFO holds sprite pixels for the next 8 screen positions. Merging keeps
// existing opaque pixels, which realizes the DMG priority rule given sprites
// are merged lower-X first (equal X: lower OAM index first).
type objFIFO struct {
	slots [8]objPixel
}

func (q *objFIFO) clear() {
	q.slots = [8]objPixel{}
}

func (q *objFIFO) shift() objPixel {
	p := q.slots[0]
	copy(q.slots[:], q.slots[1:])
	q.slots[7] = objPixel{}
	return p
}

func (q *objFIFO) merge(slot int, p objPixel) {
	if slot < 0 || slot > 7 || p.color == 0 {
		return
	}
	if q.slots[slot].color == 0 {
		q.slots[slot] = p
	}
}

// stepFetcher advances the tile pipeline by one dot.
func (p *PPU) stepFetcher() {
	switch p.fetch.phase {
	case 1:
		p.fetch.tileNo = p.vram[p.tileMapAddress()-0x8000]
	case 3:
		p.fetch.low = p.vram[p.tileDataAddress()-0x8000]
	case 5:
		p.fetch.high = p.vram[p.tileDataAddress()-0x8000+1]
	case 6:
		if p.bgQ.empty() {
			p.bgQ.pushRow(p.fetch.low, p.fetch.high)
			p.fetch.tileX++
			p.fetch.phase = 0
		}
		return
	}
	p.fetch.phase++
}

// tileMapAddress resolves the map entry for the fetcher's current tile.
func (p *PPU) tileMapAddress() uint16 {
	var mapBit uint8 = 3
	var tileX, tileY int
	if p.fetch.window {
		mapBit = 6
		tileX = p.fetch.tileX & 0x1F
		tileY = p.winLine >> 3
	} else {
		tileX = (int(p.scx)>>3 + p.fetch.tileX) & 0x1F
		tileY = int(uint8(p.ly+p.scy)) >> 3
	}
	base := uint16(0x9800)
	if bit.IsSet(mapBit, p.lcdc) {
		base = 0x9C00
	}
	return base + uint16(tileY)*32 + uint16(tileX)
}

// tileDataAddress resolves the data row for the fetched tile number, using
// the unsigned 0x8000 or signed 0x9000 addressing mode per LCDC bit 4.
func (p *PPU) tileDataAddress() uint16 {
	var fineY uint16
	if p.fetch.window {
		fineY = uint16(p.winLine & 7)
	} else {
		fineY = uint16(uint8(p.ly+p.scy) & 7)
	}
	if bit.IsSet(4, p.lcdc) {
		return 0x8000 + uint16(p.fetch.tileNo)*16 + fineY*2
	}
	return uint16(0x9000+int(int8(p.fetch.tileNo))*16) + fineY*2
}

// fetchSpriteRow loads the sprite's row for the current line and merges it
// into the sprite FIFO. skip shifts sprites hanging off the left edge.
func (p *PPU) fetchSpriteRow(s sprite) {
	height := p.spriteHeight()
	row := int(p.ly) + 16 - int(s.y)
	if s.flipY() {
		row = height - 1 - row
	}

	tile := s.tile
	if height == 16 {
		tile &= 0xFE
		if row >= 8 {
			tile++
			row -= 8
		}
	}

	base := uint16(tile)*16 + uint16(row)*2
	low := p.vram[base]
	high := p.vram[base+1]

	skip := 0
	if int(s.x) < 8 {
		skip = 8 - int(s.x)
	}

	for i := 0; i < 8; i++ {
		b := uint8(7 - i)
		if s.flipX() {
			b = uint8(i)
		}
		color := bit.Value(b, high)<<1 | bit.Value(b, low)
		p.objQ.merge(i-skip, objPixel{
			color:  color,
			obp1:   s.palOBP1(),
			behind: s.behindBG(),
		})
	}
}
