package options

import "github.com/c2h5oh/datasize"

const (
	// DefaultBlockSize is the logical block size HN4 operates on when the
	// HAL reports none more specific.
	DefaultBlockSize uint32 = 4096

	// DefaultSectorSize is the minimum atomically-writable unit; anchors
	// are packed so a sector always holds an integer number of them.
	DefaultSectorSize uint32 = 512

	// DefaultCortexSlotCount is the number of 128-byte anchor slots the
	// cortex region holds when no explicit override is given.
	DefaultCortexSlotCount uint64 = 1 << 16

	// DefaultScatterLimit is k_limit for the default profile (§4.2 step 1):
	// general-purpose SSD/NVM volumes may scatter shadow candidates up to
	// k=12.
	DefaultScatterLimit uint8 = 12

	// DefaultEpochSkewThreshold bounds how far the in-superblock epoch id
	// may drift from the tail of the on-disk epoch ring before mount forces
	// read-only with an elevated taint counter (§4.8).
	DefaultEpochSkewThreshold uint64 = 4

	// DefaultFluxSize is the default size of the primary data region.
	DefaultFluxSize = 4 * datasize.GB

	// DefaultHorizonSize is the default size of the linear fallback region.
	DefaultHorizonSize = 512 * datasize.MB
)

// NewDefaultOptions returns the baseline Options value for the general
// profile.
func NewDefaultOptions() Options {
	return Options{
		BlockSize:          DefaultBlockSize,
		SectorSize:         DefaultSectorSize,
		CortexSlotCount:    DefaultCortexSlotCount,
		Profile:            ProfileGeneral,
		ScatterLimit:       DefaultScatterLimit,
		EpochSkewThreshold: DefaultEpochSkewThreshold,
		FluxSize:           DefaultFluxSize,
		HorizonSize:        DefaultHorizonSize,
	}
}
