// Package video implements the DMG pixel processing unit as a dot-stepped
// state machine with a background fetcher and pixel FIFOs.
package video

const (
	// ScreenWidth is the visible width in pixels.
	ScreenWidth = 160
	// ScreenHeight is the visible height in pixels.
	ScreenHeight = 144
)

// Palette maps the four DMG shades (0 = lightest) to host colors, 0xAARRGGBB.
type Palette [4]uint32

// GreyPalette is the default palette: plain greys.
var GreyPalette = Palette{0xFFFFFFFF, 0xFF989898, 0xFF4C4C4C, 0xFF000000}

// GreenPalette approximates the original DMG screen tint.
var GreenPalette = Palette{0xFFE0F8D0, 0xFF88C070, 0xFF346856, 0xFF081820}

// FrameBuffer holds one 160x144 frame of 2-bit shade indices, already mapped
// through the guest palettes (BGP/OBP0/OBP1).
type FrameBuffer struct {
	shades [ScreenWidth * ScreenHeight]uint8
}

// Shade returns the 2-bit shade at (x, y).
func (fb *FrameBuffer) Shade(x, y int) uint8 {
	return fb.shades[y*ScreenWidth+x]
}

// SetShade stores the 2-bit shade at (x, y).
func (fb *FrameBuffer) SetShade(x, y int, shade uint8) {
	fb.shades[y*ScreenWidth+x] = shade & 0x03
}

// Fill sets every pixel to the given shade.
func (fb *FrameBuffer) Fill(shade uint8) {
	for i := range fb.shades {
		fb.shades[i] = shade & 0x03
	}
}

// Shades exposes the raw index buffer, row-major.
func (fb *FrameBuffer) Shades() []uint8 {
	return fb.shades[:]
}

// RGBA renders the frame through a host palette into dst, which must hold
// ScreenWidth*ScreenHeight entries.
func (fb *FrameBuffer) RGBA(palette Palette, dst []uint32) {
	for i, s := range fb.shades {
		dst[i] = palette[s]
	}
}

// Copy duplicates the frame contents into dst.
func (fb *FrameBuffer) Copy(dst *FrameBuffer) {
	dst.shades = fb.shades
}
