// Package terminal renders the emulator into a tcell screen using half-block
// characters, two pixels per cell.
package terminal

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dotmatrix-emu/dotmatrix/dmg"
	"github.com/dotmatrix-emu/dotmatrix/dmg/memory"
	"github.com/dotmatrix-emu/dotmatrix/dmg/timing"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

// keyHold is how long a key press keeps a button down. Terminals deliver no
// release events, so each press is stretched and refreshed by auto-repeat.
const keyHold = 120 * time.Millisecond

// Backend is a tcell front end with a fixed keymap:
// arrows = d-pad, z = A, x = B, enter = Start, backspace = Select.
type Backend struct {
	Palette video.Palette

	screen  tcell.Screen
	pressed [8]time.Time // expiry per button bit
	quit    bool
}

// Run initializes the terminal and drives the machine at frame rate until
// the user quits with Esc or Ctrl-C.
func (b *Backend) Run(m *dmg.Machine) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	b.screen = screen

	if b.Palette == (video.Palette{}) {
		b.Palette = video.GreyPalette
	}

	limiter := timing.NewLimiter()
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			events <- screen.PollEvent()
		}
	}()

	for !b.quit {
		b.drainEvents(events)
		m.SetButtons(b.buttons())
		if err := m.RunFrame(); err != nil {
			return err
		}
		b.draw(m.PPU().Framebuffer())
		limiter.Wait()
	}
	return nil
}

func (b *Backend) drainEvents(events chan tcell.Event) {
	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				b.handleKey(ev)
			case *tcell.EventResize:
				b.screen.Sync()
			}
		default:
			return
		}
	}
}

func (b *Backend) handleKey(ev *tcell.EventKey) {
	var button memory.Buttons
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		b.quit = true
		return
	case tcell.KeyUp:
		button = memory.ButtonUp
	case tcell.KeyDown:
		button = memory.ButtonDown
	case tcell.KeyLeft:
		button = memory.ButtonLeft
	case tcell.KeyRight:
		button = memory.ButtonRight
	case tcell.KeyEnter:
		button = memory.ButtonStart
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		button = memory.ButtonSelect
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'z', 'Z':
			button = memory.ButtonA
		case 'x', 'X':
			button = memory.ButtonB
		default:
			return
		}
	default:
		return
	}

	for i := 0; i < 8; i++ {
		if button&(1<<i) != 0 {
			b.pressed[i] = time.Now().Add(keyHold)
		}
	}
}

func (b *Backend) buttons() memory.Buttons {
	var state memory.Buttons
	now := time.Now()
	for i := 0; i < 8; i++ {
		if b.pressed[i].After(now) {
			state |= 1 << i
		}
	}
	return state
}

// draw paints two rows of pixels per terminal cell with the upper-half-block
// glyph: foreground is the top pixel, background the bottom one.
func (b *Backend) draw(fb *video.FrameBuffer) {
	for y := 0; y < video.ScreenHeight; y += 2 {
		for x := 0; x < video.ScreenWidth; x++ {
			top := b.color(fb.Shade(x, y))
			bottom := b.color(fb.Shade(x, y+1))
			style := tcell.StyleDefault.Foreground(top).Background(bottom)
			b.screen.SetContent(x, y/2, '▀', nil, style)
		}
	}
	b.screen.Show()
}

func (b *Backend) color(shade uint8) tcell.Color {
	rgb := b.Palette[shade]
	return tcell.NewRGBColor(
		int32(rgb>>16&0xFF),
		int32(rgb>>8&0xFF),
		int32(rgb&0xFF),
	)
}
