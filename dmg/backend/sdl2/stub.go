//go:build !sdl2

// Package sdl2 is the windowed front end; without the sdl2 build tag only
// this stub compiles, so the default build needs no cgo or SDL libraries.
package sdl2

import (
	"errors"

	"github.com/dotmatrix-emu/dotmatrix/dmg"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

// ErrNotBuilt reports that the binary was built without SDL2 support.
var ErrNotBuilt = errors.New("sdl2: built without the sdl2 tag")

// Backend is the stub; Run always fails.
type Backend struct {
	Title   string
	Scale   int
	Palette video.Palette
}

// AppendSamples discards samples in the stub build.
func (b *Backend) AppendSamples([]int16) error { return nil }

// Run reports the missing build tag.
func (b *Backend) Run(*dmg.Machine) error { return ErrNotBuilt }
