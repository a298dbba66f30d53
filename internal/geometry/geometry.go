// Package geometry describes a volume's physical layout: region boundaries
// and block/sector sizes (§2). Every other subsystem works from the Geometry
// handed to it at mount time. The device-profile scatter-limit mapping
// (§4.2 step 1) lives in pkg/options, not here, and the cortex converts its
// own anchor-sector indices to cortex blocks.
package geometry

import (
	"fmt"

	"github.com/hn4dev/hn4/pkg/options"
)

// AnchorSize is the fixed on-disk size of one anchor record (§3).
const AnchorSize = 128

// Geometry holds the block-indexed boundaries of every region on a volume,
// plus the block/sector sizes needed to convert between them. All fields are
// expressed in block indices except BlockSize and SectorSize, which are
// byte counts.
type Geometry struct {
	BlockSize  uint32
	SectorSize uint32

	// AnchorsPerSector lets the cortex perform sector-granular
	// read-modify-write without disturbing neighboring anchors (§3).
	AnchorsPerSector uint32

	SuperStart uint64 // Super region: fixed-size, always starts at block 0.
	SuperSize  uint64

	EpochRingStart uint64
	EpochRingSize  uint64

	CortexStart uint64
	CortexSize  uint64
	CortexSlots uint64

	BitmapStart uint64
	BitmapSize  uint64

	QMaskStart uint64
	QMaskSize  uint64

	FluxStart uint64
	FluxSize  uint64

	HorizonStart uint64
	HorizonSize  uint64

	JournalStart uint64
	JournalSize  uint64

	TotalBlocks uint64
}

// New lays out a Geometry from volume options and a total device capacity
// expressed in blocks. Regions are packed in the order given in §2 (super,
// epoch ring, cortex, bitmap, q-mask, flux, horizon, journal), leaf
// components first.
func New(opts *options.Options, totalBlocks uint64) (*Geometry, error) {
	if opts.BlockSize == 0 || opts.SectorSize == 0 {
		return nil, fmt.Errorf("geometry: block size and sector size must be non-zero")
	}
	if opts.BlockSize%opts.SectorSize != 0 {
		return nil, fmt.Errorf("geometry: block size %d is not a multiple of sector size %d", opts.BlockSize, opts.SectorSize)
	}
	anchorsPerSector := opts.SectorSize / AnchorSize
	if anchorsPerSector == 0 {
		return nil, fmt.Errorf("geometry: sector size %d cannot hold a whole anchor (%d bytes)", opts.SectorSize, AnchorSize)
	}

	g := &Geometry{
		BlockSize:        opts.BlockSize,
		SectorSize:       opts.SectorSize,
		AnchorsPerSector: anchorsPerSector,
	}

	// Super region: primary superblock at block 0, mirror at block 1 (the
	// "known offset" §6 requires), so a torn primary write still leaves a
	// readable mirror one block away.
	g.SuperStart = 0
	g.SuperSize = 2

	g.EpochRingStart = g.SuperStart + g.SuperSize
	g.EpochRingSize = 8 // small ring of epoch headers, one block each

	g.CortexSlots = opts.CortexSlotCount
	cortexBytes := g.CortexSlots * AnchorSize
	g.CortexStart = g.EpochRingStart + g.EpochRingSize
	g.CortexSize = blocksFor(cortexBytes, uint64(opts.BlockSize))

	bitmapBlocks := blocksFor(totalBlocks, 8*uint64(opts.BlockSize))
	g.BitmapStart = g.CortexStart + g.CortexSize
	g.BitmapSize = max64(bitmapBlocks, 1)

	qmaskBlocks := blocksFor(totalBlocks*2, 8*uint64(opts.BlockSize))
	g.QMaskStart = g.BitmapStart + g.BitmapSize
	g.QMaskSize = max64(qmaskBlocks, 1)

	metadataBlocks := g.QMaskStart + g.QMaskSize
	remaining := uint64(0)
	if totalBlocks > metadataBlocks {
		remaining = totalBlocks - metadataBlocks
	}

	fluxWant := blocksFor(uint64(opts.FluxSize), uint64(opts.BlockSize))
	horizonWant := blocksFor(uint64(opts.HorizonSize), uint64(opts.BlockSize))
	if fluxWant+horizonWant > remaining {
		return nil, fmt.Errorf(
			"geometry: requested flux+horizon (%d blocks) exceeds capacity after metadata (%d blocks available)",
			fluxWant+horizonWant, remaining,
		)
	}

	g.FluxStart = metadataBlocks
	g.FluxSize = fluxWant

	g.HorizonStart = g.FluxStart + g.FluxSize
	g.HorizonSize = horizonWant

	g.JournalStart = g.HorizonStart + g.HorizonSize
	g.JournalSize = remaining - fluxWant - horizonWant

	g.TotalBlocks = totalBlocks
	return g, nil
}

func blocksFor(bytes, blockSize uint64) uint64 {
	if blockSize == 0 {
		return 0
	}
	return (bytes + blockSize - 1) / blockSize
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// InFlux reports whether a block index lies inside the Flux region.
func (g *Geometry) InFlux(block uint64) bool {
	return block >= g.FluxStart && block < g.FluxStart+g.FluxSize
}

// InHorizon reports whether a block index lies inside the Horizon region.
func (g *Geometry) InHorizon(block uint64) bool {
	return block >= g.HorizonStart && block < g.HorizonStart+g.HorizonSize
}

// SectorOfAnchorSlot returns the sector index containing the given cortex
// slot, and the slot's offset within that sector in anchor units — the
// building block for the sector-granular read-modify-write §3 requires.
func (g *Geometry) SectorOfAnchorSlot(slot uint64) (sector uint64, indexInSector uint64) {
	return slot / uint64(g.AnchorsPerSector), slot % uint64(g.AnchorsPerSector)
}
