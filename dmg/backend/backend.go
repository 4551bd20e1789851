// Package backend hosts the front ends that drive a Machine: headless runs
// for testing and batch work, a terminal renderer, and an SDL2 window behind
// the sdl2 build tag.
package backend

import "github.com/dotmatrix-emu/dotmatrix/dmg"

// Backend owns the host loop around a machine: pacing, input, display.
type Backend interface {
	Run(m *dmg.Machine) error
}
