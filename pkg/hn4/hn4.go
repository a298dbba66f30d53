// Package hn4 is the public entry point for mounting and operating an HN4
// volume: a thin facade over an internal coordinator, built through
// functional options and a service-tagged logger. Everything below it —
// geometry, cortex, bitmap/Q-Mask, the write and read paths — lives in
// internal/ and is reached only through this package or internal/volume
// directly.
package hn4

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/volume"
	hn4err "github.com/hn4dev/hn4/pkg/errors"
	"github.com/hn4dev/hn4/pkg/filesys"
	"github.com/hn4dev/hn4/pkg/logger"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

// Instance is a mounted HN4 volume, backed by a single file-image block
// device. It exposes the protocol-level operations of §4: namespace
// resolution, and anchor-qualified block read/write.
type Instance struct {
	vol     *volume.Volume
	dev     hal.BlockDevice
	options *options.Options
}

// OpenConfig describes how to bring an on-disk volume image online: the
// path to the image file, its capacity if it must be formatted fresh, and
// the epoch ring's current tail epoch, which Mount needs for the
// epoch-skew check (§4.8). Epoch ring advancement itself is an external
// primitive (§1 Non-goals) — callers that run one hand its tail in here.
type OpenConfig struct {
	ImagePath       string
	CapacityBlocks  uint64
	VolumeUUID      [16]byte
	EpochRingTailID uint64
}

// NewInstance opens (formatting first if the image does not yet exist) and
// mounts an HN4 volume at the given path. service tags the structured
// logger so multiple mounted volumes in one process can be told apart in
// aggregated logs.
func NewInstance(ctx context.Context, service string, cfg OpenConfig, opts ...options.OptionFunc) (*Instance, error) {
	if cfg.ImagePath == "" {
		return nil, hn4err.NewValidationError(nil, hn4err.ErrorCodeInvalidInput, "hn4: image path is required")
	}

	log := logger.New(service)

	resolved := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	if err := filesys.CreateDir(filepath.Dir(cfg.ImagePath), 0755, true); err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "hn4: create image directory")
	}

	existed, err := filesys.Exists(cfg.ImagePath)
	if err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "hn4: stat image path")
	}
	if !existed {
		if cfg.CapacityBlocks == 0 {
			return nil, hn4err.NewValidationError(nil, hn4err.ErrorCodeInvalidInput, "hn4: capacity required to format a new image")
		}
		if err := hal.CreateImage(cfg.ImagePath, cfg.CapacityBlocks, resolved.BlockSize); err != nil {
			return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "hn4: create image")
		}
	}

	dev, err := hal.OpenFileDevice(cfg.ImagePath, resolved.BlockSize)
	if err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "hn4: open image")
	}

	caps, err := dev.Capabilities(ctx)
	if err != nil {
		dev.Close()
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "hn4: query device capabilities")
	}
	if resolved.Profile == options.ProfileGeneral && caps.ZNSNative {
		// §9 Open Question: a ZNS device enforces its own zone-append order,
		// which the trajectory placement function does not model. Rather
		// than attempt drift correction against a zone write pointer this
		// HAL never reports, refuse the mismatch outright and ask the
		// caller to mount with ProfileSequential instead.
		dev.Close()
		return nil, hn4err.NewValidationError(nil, hn4err.ErrorCodeInvalidInput,
			"hn4: device reports ZNS-native placement; mount with ProfileSequential")
	}

	if !existed {
		if _, err := volume.Format(ctx, dev, &resolved, cfg.VolumeUUID); err != nil {
			dev.Close()
			return nil, err
		}
	}

	vol, err := volume.Mount(ctx, &volume.Config{
		Device: dev, Options: &resolved, Logger: log, EpochRingTailID: cfg.EpochRingTailID,
	})
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &Instance{vol: vol, dev: dev, options: &resolved}, nil
}

// NsResolve resolves a namespace URI (ns_resolve, §4.5/§4.6) to its anchor
// and cortex slot.
func (i *Instance) NsResolve(ctx context.Context, uri string) (*anchor.Anchor, uint64, error) {
	return i.vol.NsResolve(ctx, uri)
}

// CreateAnchor inserts a brand-new anchor into the volume's cortex under
// the given seed id, returning its cortex slot for subsequent WriteBlock
// and WriteAnchorAtomic calls.
func (i *Instance) CreateAnchor(ctx context.Context, seedID [16]byte, a *anchor.Anchor) (uint64, error) {
	return i.vol.CreateAnchor(ctx, seedID, a)
}

// WriteBlock executes write_block (§4.2) for the given anchor and logical
// block index.
func (i *Instance) WriteBlock(ctx context.Context, a *anchor.Anchor, slot uint64, blockIdx uint64, payload []byte) error {
	return i.vol.WriteBlock(ctx, a, slot, blockIdx, payload)
}

// ReadBlock executes read_block (§4.4), returning the resulting typed
// protocol status directly rather than wrapping it in an error.
func (i *Instance) ReadBlock(ctx context.Context, a *anchor.Anchor, blockIdx uint64, out []byte) status.Status {
	return i.vol.ReadBlock(ctx, a, blockIdx, out)
}

// WriteAnchorAtomic persists a caller-mutated anchor back to its cortex
// slot (§4.2 step 7).
func (i *Instance) WriteAnchorAtomic(ctx context.Context, slot uint64, a *anchor.Anchor) error {
	return i.vol.WriteAnchorAtomic(ctx, slot, a)
}

// Scrub runs one orphan-reclaim maintenance pass over the volume.
func (i *Instance) Scrub(ctx context.Context) (uint64, uint64, uint64, error) {
	report, err := i.vol.Scrub(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return report.OccupiedBlocks, report.ReachableBlocks, report.OrphanBlocks, nil
}

// IsReadOnly reports whether the volume currently rejects writes, whether
// from an explicit read-only mount, a degraded superblock, or PANIC.
func (i *Instance) IsReadOnly() bool { return i.vol.IsReadOnly() }

// Close unmounts the volume, flushing its metadata regions and superblock,
// then closes the underlying device.
func (i *Instance) Close(ctx context.Context) error {
	unmountErr := i.vol.Unmount(ctx)
	if err := i.dev.Close(); err != nil {
		return fmt.Errorf("hn4: close device: %w", err)
	}
	return unmountErr
}
