//go:build sdl2

// Package sdl2 is the windowed front end: SDL2 video, audio and input.
package sdl2

import (
	"fmt"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/dotmatrix-emu/dotmatrix/dmg"
	"github.com/dotmatrix-emu/dotmatrix/dmg/memory"
	"github.com/dotmatrix-emu/dotmatrix/dmg/timing"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

// audioBufferTarget is the queued-audio depth the resampler aims for, in
// bytes: ~4 frames of 16-bit stereo at 48 kHz.
const audioBufferTarget = 48000 * 2 * 2 / 15

// Backend is an SDL2 window with queued audio output.
type Backend struct {
	Title   string
	Scale   int
	Palette video.Palette

	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	audio    sdl.AudioDeviceID
	pixels   [video.ScreenWidth * video.ScreenHeight]uint32
	buttons  memory.Buttons
	quit     bool
}

// AppendSamples implements audio.SampleSink over the SDL queue.
func (b *Backend) AppendSamples(samples []int16) error {
	if b.audio == 0 {
		return nil
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(samples)*2)
	return sdl.QueueAudio(b.audio, data)
}

// Run opens the window and drives the machine until quit.
func (b *Backend) Run(m *dmg.Machine) error {
	if b.Scale <= 0 {
		b.Scale = 4
	}
	if b.Palette == (video.Palette{}) {
		b.Palette = video.GreenPalette
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_AUDIO | sdl.INIT_EVENTS); err != nil {
		return fmt.Errorf("sdl2: %w", err)
	}
	defer sdl.Quit()

	var err error
	b.window, err = sdl.CreateWindow(b.Title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(video.ScreenWidth*b.Scale), int32(video.ScreenHeight*b.Scale),
		sdl.WINDOW_SHOWN)
	if err != nil {
		return fmt.Errorf("sdl2: %w", err)
	}
	defer b.window.Destroy()

	b.renderer, err = sdl.CreateRenderer(b.window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		return fmt.Errorf("sdl2: %w", err)
	}
	defer b.renderer.Destroy()

	b.texture, err = b.renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888,
		sdl.TEXTUREACCESS_STREAMING, video.ScreenWidth, video.ScreenHeight)
	if err != nil {
		return fmt.Errorf("sdl2: %w", err)
	}
	defer b.texture.Destroy()

	spec := sdl.AudioSpec{Freq: 48000, Format: sdl.AUDIO_S16SYS, Channels: 2, Samples: 1024}
	b.audio, err = sdl.OpenAudioDevice("", false, &spec, nil, 0)
	if err == nil {
		sdl.PauseAudioDevice(b.audio, false)
		defer sdl.CloseAudioDevice(b.audio)
	}

	limiter := timing.NewLimiter()
	for !b.quit {
		b.pollEvents()
		m.SetButtons(b.buttons)
		if b.audio != 0 {
			fill := float64(sdl.GetQueuedAudioSize(b.audio)) / float64(2*audioBufferTarget)
			m.AudioFeedback(fill)
		}
		if err := m.RunFrame(); err != nil {
			return err
		}
		b.draw(m.PPU().Framebuffer())
		limiter.Wait()
	}
	return nil
}

func (b *Backend) pollEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			b.quit = true
		case *sdl.KeyboardEvent:
			b.handleKey(ev)
		}
	}
}

var keymap = map[sdl.Keycode]memory.Buttons{
	sdl.K_z:         memory.ButtonA,
	sdl.K_x:         memory.ButtonB,
	sdl.K_RETURN:    memory.ButtonStart,
	sdl.K_BACKSPACE: memory.ButtonSelect,
	sdl.K_UP:        memory.ButtonUp,
	sdl.K_DOWN:      memory.ButtonDown,
	sdl.K_LEFT:      memory.ButtonLeft,
	sdl.K_RIGHT:     memory.ButtonRight,
}

func (b *Backend) handleKey(ev *sdl.KeyboardEvent) {
	if ev.Keysym.Sym == sdl.K_ESCAPE {
		b.quit = true
		return
	}
	button, ok := keymap[ev.Keysym.Sym]
	if !ok {
		return
	}
	if ev.Type == sdl.KEYDOWN {
		b.buttons |= button
	} else {
		b.buttons &^= button
	}
}

func (b *Backend) draw(fb *video.FrameBuffer) {
	fb.RGBA(b.Palette, b.pixels[:])
	data := unsafe.Slice((*byte)(unsafe.Pointer(&b.pixels[0])), len(b.pixels)*4)
	b.texture.Update(nil, data, video.ScreenWidth*4)
	b.renderer.Clear()
	b.renderer.Copy(b.texture, nil, nil)
	b.renderer.Present()
}
