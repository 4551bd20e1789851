package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/dotmatrix-emu/dotmatrix/dmg"
	"github.com/dotmatrix-emu/dotmatrix/dmg/audio"
	"github.com/dotmatrix-emu/dotmatrix/dmg/backend"
	"github.com/dotmatrix-emu/dotmatrix/dmg/backend/headless"
	"github.com/dotmatrix-emu/dotmatrix/dmg/backend/sdl2"
	"github.com/dotmatrix-emu/dotmatrix/dmg/backend/terminal"
	"github.com/dotmatrix-emu/dotmatrix/dmg/video"
)

func main() {
	app := cli.NewApp()
	app.Name = "dotmatrix"
	app.Usage = "dotmatrix [options] <ROM file>"
	app.Description = "A Game Boy (DMG) emulator"
	app.Version = "0.9.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "bootrom",
			Usage: "Path to a 256-byte DMG bootrom image",
		},
		cli.StringFlag{
			Name:  "save",
			Usage: "Path to the battery save file (default: ROM path with .sav)",
		},
		cli.BoolFlag{
			Name:  "headless",
			Usage: "Run without a display",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run in headless mode",
			Value: 0,
		},
		cli.StringFlag{
			Name:  "dump-frame",
			Usage: "Write the final frame as text to this path (headless)",
		},
		cli.StringFlag{
			Name:  "watch-text",
			Usage: "Stop headless run when serial output contains this text",
		},
		cli.BoolFlag{
			Name:  "sdl",
			Usage: "Use the SDL2 window instead of the terminal renderer",
		},
		cli.IntFlag{
			Name:  "scale",
			Usage: "Window scale factor for the SDL2 renderer",
			Value: 4,
		},
		cli.StringFlag{
			Name:  "palette",
			Usage: "Display palette: grey or green",
			Value: "green",
		},
		cli.StringFlag{
			Name:  "wav",
			Usage: "Record resampled audio to this WAV file",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("emulator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowAppHelp(c)
		return errors.New("no ROM path provided")
	}
	romPath := c.Args().Get(0)

	rom, err := os.ReadFile(romPath)
	if err != nil {
		return err
	}

	opts := []dmg.Option{}

	if path := c.String("bootrom"); path != "" {
		image, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		opts = append(opts, dmg.WithBootrom(image))
	}

	savePath := c.String("save")
	if savePath == "" {
		savePath = strings.TrimSuffix(romPath, ".gb") + ".sav"
	}
	if data, err := os.ReadFile(savePath); err == nil {
		opts = append(opts, dmg.WithBatteryRAM(data))
		slog.Info("battery save loaded", "path", savePath, "bytes", len(data))
	}

	var wavWriter *audio.WavWriter
	if path := c.String("wav"); path != "" {
		wavWriter, err = audio.NewWavWriter(path, 48000)
		if err != nil {
			return err
		}
		defer wavWriter.Close()
		opts = append(opts, dmg.WithAudioSink(wavWriter, 48000))
	}

	var front backend.Backend
	switch {
	case c.Bool("headless"):
		frames := c.Int("frames")
		if frames <= 0 {
			return errors.New("headless mode requires --frames with a positive value")
		}
		front = &headless.Backend{
			Frames:    frames,
			DumpPath:  c.String("dump-frame"),
			WatchText: c.String("watch-text"),
		}
	case c.Bool("sdl"):
		sdlBackend := &sdl2.Backend{
			Title:   "dotmatrix",
			Scale:   c.Int("scale"),
			Palette: paletteByName(c.String("palette")),
		}
		if wavWriter == nil {
			opts = append(opts, dmg.WithAudioSink(sdlBackend, 48000))
		}
		front = sdlBackend
	default:
		front = &terminal.Backend{Palette: paletteByName(c.String("palette"))}
	}

	machine, err := dmg.New(rom, opts...)
	if err != nil {
		return err
	}

	runErr := front.Run(machine)

	// flush battery RAM even after a host abort; the machine state is intact
	if machine.Cartridge().HasBattery() {
		if ram := machine.BatteryRAM(); ram != nil {
			if err := os.WriteFile(savePath, ram, 0o644); err != nil {
				slog.Error("failed to write battery save", "path", savePath, "error", err)
			} else {
				slog.Info("battery save written", "path", savePath, "bytes", len(ram))
			}
		}
	}

	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

func paletteByName(name string) video.Palette {
	if name == "grey" || name == "gray" {
		return video.GreyPalette
	}
	return video.GreenPalette
}
