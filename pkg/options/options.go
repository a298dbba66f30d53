// Package options provides data structures and functions for configuring an
// HN4 volume. It defines the parameters that control geometry, device
// profile, and mount-time policy: region sizing, the shadow-hop scatter
// limit, and the epoch-skew tolerance that gates read-only fallback.
package options

import (
	"strings"

	"github.com/c2h5oh/datasize"
)

// Profile identifies the device/format profile that selects a volume's
// scatter limit (§4.2 step 1) and a handful of other placement policies: a
// named bundle of behavior the caller selects by intent rather than by
// hand-tuning individual knobs.
type Profile string

const (
	// ProfileGeneral is the default SSD/NVM profile: full scatter envelope.
	ProfileGeneral Profile = "general"

	// ProfileSequential covers PICO, USB, HDD, and ZNS devices, which pin
	// k_limit to 0 — collisions skip directly to Horizon fallback.
	ProfileSequential Profile = "sequential"

	// ProfilePerformance covers AI/Gaming profiles: full scatter envelope,
	// tuned defaults for larger Horizon capacity.
	ProfilePerformance Profile = "performance"
)

// ScatterLimit returns k_limit for the profile, per §4.2 step 1.
func (p Profile) ScatterLimit() uint8 {
	switch p {
	case ProfileSequential:
		return 0
	default:
		return DefaultScatterLimit
	}
}

// Options configures a volume's geometry and mount-time policy.
type Options struct {
	// BlockSize is the logical block size in bytes, applied uniformly
	// across every region.
	BlockSize uint32 `json:"blockSize"`

	// SectorSize is the minimum atomically-writable unit. Anchors are
	// packed so every sector holds an integer number of them.
	SectorSize uint32 `json:"sectorSize"`

	// CortexSlotCount is the number of 128-byte anchor slots in the anchor
	// table.
	CortexSlotCount uint64 `json:"cortexSlotCount"`

	// Profile selects the device/format profile, which in turn selects the
	// scatter limit and a handful of placement policies.
	Profile Profile `json:"profile"`

	// ScatterLimit overrides the profile's default k_limit when non-zero
	// and Profile is ProfileGeneral or ProfilePerformance; ignored for
	// ProfileSequential, which is always pinned to 0.
	ScatterLimit uint8 `json:"scatterLimit"`

	// EpochSkewThreshold bounds how far the in-superblock epoch id may
	// drift from the on-disk epoch ring tail before mount forces
	// read-only (§4.8).
	EpochSkewThreshold uint64 `json:"epochSkewThreshold"`

	// FluxSize is the size of the primary trajectory-addressed data
	// region.
	FluxSize datasize.ByteSize `json:"fluxSize"`

	// HorizonSize is the size of the linear log-structured fallback
	// region.
	HorizonSize datasize.ByteSize `json:"horizonSize"`

	// CompressionEnabled turns on the compressed-block splice path (§4.2
	// step 4): a partial write landing on a block tagged compressed is
	// decompressed, merged, and optionally recompressed rather than simply
	// zero-padded and overwritten in place. Off by default, since the
	// on-disk compression hint is an optional engine behavior, not a format
	// requirement.
	CompressionEnabled bool `json:"compressionEnabled"`
}

// EffectiveScatterLimit resolves the k_limit actually in force, honoring the
// profile's hard pin for sequential devices.
func (o *Options) EffectiveScatterLimit() uint8 {
	if o.Profile == ProfileSequential {
		return 0
	}
	if o.ScatterLimit > 0 {
		return o.ScatterLimit
	}
	return o.Profile.ScatterLimit()
}

// OptionFunc is a function type that modifies a volume's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the baseline configuration for the general
// profile.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithProfile selects the device/format profile.
func WithProfile(profile Profile) OptionFunc {
	return func(o *Options) {
		profile = Profile(strings.TrimSpace(string(profile)))
		if profile != "" {
			o.Profile = profile
		}
	}
}

// WithBlockSize sets the logical block size in bytes.
func WithBlockSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.BlockSize = size
		}
	}
}

// WithSectorSize sets the minimum atomically-writable unit.
func WithSectorSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.SectorSize = size
		}
	}
}

// WithCortexSlotCount sets the number of anchor slots in the cortex region.
func WithCortexSlotCount(count uint64) OptionFunc {
	return func(o *Options) {
		if count > 0 {
			o.CortexSlotCount = count
		}
	}
}

// WithScatterLimit overrides k_limit for non-sequential profiles. Values
// above 12 are clamped, since the trajectory function only ever enumerates
// k in 0..=12.
func WithScatterLimit(k uint8) OptionFunc {
	return func(o *Options) {
		if k > 12 {
			k = 12
		}
		o.ScatterLimit = k
	}
}

// WithEpochSkewThreshold sets the mount-time epoch-drift tolerance.
func WithEpochSkewThreshold(threshold uint64) OptionFunc {
	return func(o *Options) {
		o.EpochSkewThreshold = threshold
	}
}

// WithFluxSize sets the size of the primary data region.
func WithFluxSize(size datasize.ByteSize) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.FluxSize = size
		}
	}
}

// WithHorizonSize sets the size of the linear fallback region.
func WithHorizonSize(size datasize.ByteSize) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.HorizonSize = size
		}
	}
}

// WithCompressionEnabled turns the compressed-block splice path on or off.
func WithCompressionEnabled(enabled bool) OptionFunc {
	return func(o *Options) {
		o.CompressionEnabled = enabled
	}
}
