// Package headless runs a machine for a fixed number of frames with no
// display, for automation and test ROMs.
package headless

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dotmatrix-emu/dotmatrix/dmg"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

// Backend runs frames as fast as possible and optionally dumps the final
// frame as text, one character per pixel.
type Backend struct {
	Frames    int
	DumpPath  string // write the final frame here when non-empty
	WatchText string // stop early when the serial output contains this
}

// Run executes the configured number of frames.
func (b *Backend) Run(m *dmg.Machine) error {
	for i := 0; i < b.Frames; i++ {
		if err := m.RunFrame(); err != nil {
			return err
		}
		if b.WatchText != "" && strings.Contains(m.SerialOutput(), b.WatchText) {
			slog.Info("serial output matched, stopping", "frame", i+1)
			break
		}
		if (i+1)%600 == 0 {
			slog.Info("headless progress", "frames", i+1, "total", b.Frames)
		}
	}

	if b.DumpPath != "" {
		if err := dumpFrame(m.PPU().Framebuffer(), b.DumpPath); err != nil {
			return err
		}
		slog.Info("frame dumped", "path", b.DumpPath)
	}
	return nil
}

// shadeChars maps the four shades to characters, lightest first.
var shadeChars = [4]byte{' ', '.', 'o', '#'}

func dumpFrame(fb *video.FrameBuffer, path string) error {
	var sb strings.Builder
	for y := 0; y < video.ScreenHeight; y++ {
		for x := 0; x < video.ScreenWidth; x++ {
			sb.WriteByte(shadeChars[fb.Shade(x, y)])
		}
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("headless: dump frame: %w", err)
	}
	return nil
}
