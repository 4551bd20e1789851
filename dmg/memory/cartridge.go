package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// header field offsets, see the cartridge header layout at 0x0100-0x014F.
const (
	titleAddress          = 0x0134
	titleLength           = 16
	cartridgeTypeAddress  = 0x0147
	romSizeAddress        = 0x0148
	ramSizeAddress        = 0x0149
	versionNumberAddress  = 0x014C
	headerChecksumAddress = 0x014D
)

// Load-time failures. Guest-visible misbehavior never produces errors; these
// cover only images the core cannot start from.
var (
	ErrROMTooSmall    = errors.New("cartridge: ROM image smaller than header")
	ErrBadROMSize     = errors.New("cartridge: ROM size is not 32KiB * 2^k")
	ErrUnsupportedMBC = errors.New("cartridge: unsupported MBC type")
	ErrBadRAMImage    = errors.New("cartridge: RAM image does not match header size")
)

// MBCKind identifies the bank controller family selected by the header.
type MBCKind uint8

const (
	MBCNone MBCKind = iota
	MBC1Kind
	MBC2Kind
	MBC3Kind
	MBC5Kind
)

func (k MBCKind) String() string {
	switch k {
	case MBCNone:
		return "ROM"
	case MBC1Kind:
		return "MBC1"
	case MBC2Kind:
		return "MBC2"
	case MBC3Kind:
		return "MBC3"
	case MBC5Kind:
		return "MBC5"
	}
	return "unknown"
}

// Cartridge holds the ROM image, the decoded header and the bank controller.
// It owns the external RAM buffer through the MBC.
type Cartridge struct {
	rom []byte
	mbc MBC

	title      string
	kind       MBCKind
	version    uint8
	hasBattery bool
	hasRTC     bool
	ramSize    int
}

// ramSizes maps the header RAM size code (0x0149) to a byte count.
var ramSizes = [...]int{0, 0x800, 0x2000, 0x8000, 0x20000, 0x10000}

// NewCartridge decodes the header of the given ROM image and builds the
// matching bank controller. The image is retained, not copied.
func NewCartridge(rom []byte) (*Cartridge, error) {
	if len(rom) < 0x0150 {
		return nil, fmt.Errorf("%w: %d bytes", ErrROMTooSmall, len(rom))
	}
	if !validROMSize(len(rom)) {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadROMSize, len(rom))
	}

	c := &Cartridge{
		rom:     rom,
		title:   decodeTitle(rom[titleAddress : titleAddress+titleLength]),
		version: rom[versionNumberAddress],
	}

	ramCode := rom[ramSizeAddress]
	if int(ramCode) < len(ramSizes) {
		c.ramSize = ramSizes[ramCode]
	}

	cartType := rom[cartridgeTypeAddress]
	switch cartType {
	case 0x00:
		c.kind = MBCNone
	case 0x08, 0x09:
		c.kind = MBCNone
		c.hasBattery = cartType == 0x09
	case 0x01, 0x02, 0x03:
		c.kind = MBC1Kind
		c.hasBattery = cartType == 0x03
	case 0x05, 0x06:
		c.kind = MBC2Kind
		c.hasBattery = cartType == 0x06
	case 0x0F, 0x10:
		c.kind = MBC3Kind
		c.hasRTC = true
		c.hasBattery = true
	case 0x11, 0x12, 0x13:
		c.kind = MBC3Kind
		c.hasBattery = cartType == 0x13
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		c.kind = MBC5Kind
		c.hasBattery = cartType == 0x1B || cartType == 0x1E
	default:
		return nil, fmt.Errorf("%w: type 0x%02X", ErrUnsupportedMBC, cartType)
	}

	// MBC2 has its RAM built in, the header RAM code is 0.
	if c.kind == MBC2Kind {
		c.ramSize = 512
	}

	switch c.kind {
	case MBCNone:
		c.mbc = NewNoMBC(rom, c.ramSize)
	case MBC1Kind:
		c.mbc = NewMBC1(rom, c.ramSize)
	case MBC2Kind:
		c.mbc = NewMBC2(rom)
	case MBC3Kind:
		c.mbc = NewMBC3(rom, c.ramSize, c.hasRTC)
	case MBC5Kind:
		c.mbc = NewMBC5(rom, c.ramSize)
	}

	if sum := headerChecksum(rom); sum != rom[headerChecksumAddress] {
		// Real hardware only checks this in the bootrom; a mismatch is
		// worth flagging but must not prevent the cartridge from running.
		slog.Warn("cartridge header checksum mismatch",
			"computed", fmt.Sprintf("0x%02X", sum),
			"header", fmt.Sprintf("0x%02X", rom[headerChecksumAddress]))
	}

	slog.Info("cartridge loaded",
		"title", c.title,
		"mbc", c.kind.String(),
		"rom_bytes", len(rom),
		"ram_bytes", c.ramSize,
		"battery", c.hasBattery)

	return c, nil
}

func validROMSize(n int) bool {
	for size := 0x8000; size <= 0x8000<<8; size <<= 1 {
		if n == size {
			return true
		}
	}
	return false
}

func decodeTitle(raw []byte) string {
	end := len(raw)
	for i, b := range raw {
		if b == 0 {
			end = i
			break
		}
	}
	return strings.TrimSpace(string(raw[:end]))
}

func headerChecksum(rom []byte) uint8 {
	var sum uint8
	for a := 0x0134; a <= 0x014C; a++ {
		sum = sum - rom[a] - 1
	}
	return sum
}

// Title returns the cartridge title decoded from the header.
func (c *Cartridge) Title() string { return c.title }

// Kind returns the bank controller family.
func (c *Cartridge) Kind() MBCKind { return c.kind }

// HasBattery reports whether the cartridge RAM is battery backed and should
// be persisted by the host.
func (c *Cartridge) HasBattery() bool { return c.hasBattery }

// Read routes a read in 0x0000-0x7FFF or 0xA000-0xBFFF to the bank controller.
func (c *Cartridge) Read(address uint16) uint8 {
	return c.mbc.Read(address)
}

// Write routes a write in 0x0000-0x7FFF or 0xA000-0xBFFF to the bank controller.
func (c *Cartridge) Write(address uint16, value uint8) {
	c.mbc.Write(address, value)
}

// BatteryRAM returns a copy of the external RAM contents for persistence.
// Returns nil when the cartridge has no RAM.
func (c *Cartridge) BatteryRAM() []byte {
	ram := c.mbc.RAM()
	if len(ram) == 0 {
		return nil
	}
	out := make([]byte, len(ram))
	copy(out, ram)
	return out
}

// LoadBatteryRAM restores a previously saved RAM image. The image must match
// the size implied by the header.
func (c *Cartridge) LoadBatteryRAM(data []byte) error {
	ram := c.mbc.RAM()
	if len(data) != len(ram) {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrBadRAMImage, len(data), len(ram))
	}
	copy(ram, data)
	return nil
}
