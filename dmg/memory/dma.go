package memory

// OAMDMA is the 160-byte OAM copy engine. Once started it moves one byte per
// machine cycle from source<<8 to OAM; while it runs, the bus blocks CPU
// accesses below 0xFF00, and the I/O registers, HRAM and IE stay reachable.
// Writing 0xFF46 again restarts the transfer from the new page.
type OAMDMA struct {
	source   uint8
	progress int
	active   bool
	tAccum   int

	// readSource reads the transfer source without CPU-side restrictions.
	readSource func(address uint16) uint8
	// writeOAM stores a byte into OAM bypassing the mode 2/3 lockout.
	writeOAM func(index uint8, value uint8)
}

// Active reports whether a transfer is in flight.
func (d *OAMDMA) Active() bool { return d.active }

// Read returns the last value written to the DMA register.
func (d *OAMDMA) Read() uint8 { return d.source }

// Start begins a transfer from value<<8.
func (d *OAMDMA) Start(value uint8) {
	d.source = value
	d.progress = 0
	d.tAccum = 0
	d.active = true
}

// Tick advances the engine; one byte moves every 4 T-cycles.
func (d *OAMDMA) Tick(tCycles int) {
	if !d.active {
		return
	}
	d.tAccum += tCycles
	for d.tAccum >= 4 && d.active {
		d.tAccum -= 4
		src := uint16(d.source)<<8 + uint16(d.progress)
		d.writeOAM(uint8(d.progress), d.readSource(src))
		d.progress++
		if d.progress == 160 {
			d.active = false
		}
	}
}
