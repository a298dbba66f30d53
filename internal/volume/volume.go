// Package volume is the central coordinator: it owns one mounted HN4
// volume's lifecycle (Mount/Unmount) and exposes the public operations
// (NsResolve, WriteBlock, ReadBlock, WriteAnchorAtomic) by wiring together
// every other internal package against a single hal.BlockDevice. Config +
// Logger, atomic lifecycle flags, a Mount that brings the cortex, bitmap,
// Q-Mask, Horizon, writepath, readpath and scrub online together, and an
// Unmount that fans in the bitmap, Q-Mask and superblock (primary and
// mirror) flushes; Unmount does not close the cortex (§4.8).
package volume

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/cortex"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/horizon"
	"github.com/hn4dev/hn4/internal/namespace"
	"github.com/hn4dev/hn4/internal/payload"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/internal/readpath"
	"github.com/hn4dev/hn4/internal/scrub"
	"github.com/hn4dev/hn4/internal/superblock"
	"github.com/hn4dev/hn4/internal/writepath"
	hn4err "github.com/hn4dev/hn4/pkg/errors"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

// wordsPerBlock is how many 64-bit bitmap/Q-Mask words a single block holds.
func wordsPerBlock(blockSize uint32) uint64 { return uint64(blockSize) / 8 }

// Config supplies everything Mount needs to bring a volume online.
type Config struct {
	Device  hal.BlockDevice
	Options *options.Options
	Logger  *zap.SugaredLogger

	// EpochRingTailID is the epoch id at the tail of the on-disk epoch
	// ring. Epoch ring advancement is an external primitive (§1 Non-goals);
	// the caller reads it and hands it to Mount for the skew check (§4.8).
	EpochRingTailID uint64
}

// Volume is one mounted HN4 volume.
type Volume struct {
	geo *geometry.Geometry
	dev hal.BlockDevice
	log *zap.SugaredLogger

	bm      *bitmap.Bitmap
	qm      *qmask.QMask
	horizon *horizon.Allocator
	cortex  *cortex.Cortex
	writer  *writepath.Writer
	reader  *readpath.Reader
	scrub   *scrub.Scrubber

	mu sync.Mutex // guards sb; also the epoch ring's single-writer serialization point
	sb superblock.Superblock

	scatterLimit uint8

	stateFlags  atomic.Uint64
	taint       atomic.Uint64
	crcFailures atomic.Uint64
	usedBlocks  atomic.Uint64
	readOnly    atomic.Bool
	closed      atomic.Bool
}

// Format writes a fresh superblock (primary and mirror) to dev for the given
// options, leaving every other region zeroed as allocated by the HAL,
// except the Q-Mask: a zero-filled word decodes as Toxic (qmask.Toxic == 0),
// which would make every block on a freshly formatted volume unwritable, so
// Format explicitly writes an all-Gold Q-Mask region instead of relying on
// the HAL's zero fill. This is the minimal bootstrap
// internal/hal/fileimage.go and the in-memory HAL need to hand Mount a
// freshly formatted volume in tests and dev-mode use; full mkfs tooling is
// out of scope (§1 Non-goals).
func Format(ctx context.Context, dev hal.BlockDevice, opts *options.Options, volumeUUID [16]byte) (*geometry.Geometry, error) {
	caps, err := dev.Capabilities(ctx)
	if err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: capabilities query failed")
	}
	geo, err := geometry.New(opts, caps.CapacityBlocks)
	if err != nil {
		return nil, hn4err.NewValidationError(err, hn4err.ErrorCodeGeometry, "volume: geometry computation failed")
	}

	sb := superblock.Superblock{
		BlockSize:     opts.BlockSize,
		VolumeUUID:    volumeUUID,
		TotalCapacity: geo.TotalBlocks,
		StateFlags:    superblock.StateClean,
		HorizonHead:   geo.HorizonStart,
		Regions: superblock.RegionStarts{
			Super: geo.SuperStart, EpochRing: geo.EpochRingStart, Cortex: geo.CortexStart,
			Bitmap: geo.BitmapStart, QMask: geo.QMaskStart, Flux: geo.FluxStart,
			Horizon: geo.HorizonStart, Journal: geo.JournalStart,
		},
	}
	buf := superblock.Encode(&sb)
	padded := make([]byte, geo.BlockSize)
	copy(padded, buf)

	if err := dev.WriteBlock(ctx, geo.SuperStart, padded); err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: primary superblock write failed")
	}
	if err := dev.WriteBlock(ctx, geo.SuperStart+1, padded); err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: mirror superblock write failed")
	}

	qm := qmask.New(geo.TotalBlocks)
	if err := flushRegionWords(ctx, dev, geo.BlockSize, geo.QMaskStart, geo.QMaskSize, qm.Word, qm.WordCount); err != nil {
		return nil, err
	}

	if err := dev.Barrier(ctx); err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: format barrier failed")
	}
	return geo, nil
}

// Mount brings a volume online: it loads and validates the primary
// superblock, reading the mirror only when the primary fails validation (the
// volume then mounts degraded and read-only; an intact primary is not
// compared against its mirror), reconstructs geometry, runs the epoch-skew check, and rebuilds
// the in-memory bitmap and Q-Mask from their on-disk regions (§4.8).
func Mount(ctx context.Context, cfg *Config) (*Volume, error) {
	if cfg == nil || cfg.Device == nil || cfg.Options == nil {
		return nil, hn4err.NewValidationError(nil, hn4err.ErrorCodeInvalidInput, "volume: device and options are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	caps, err := cfg.Device.Capabilities(ctx)
	if err != nil {
		return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: capabilities query failed")
	}

	sb, degraded, err := loadSuperblock(ctx, cfg.Device, cfg.Options.BlockSize)
	if err != nil {
		return nil, err
	}

	geo, err := geometry.New(cfg.Options, caps.CapacityBlocks)
	if err != nil {
		return nil, status.Wrap(status.Geometry, err, "volume: geometry computation failed")
	}
	if !regionsMatch(geo, sb.Regions) {
		return nil, status.New(status.Geometry, "volume: on-disk region layout does not match supplied options")
	}

	v := &Volume{geo: geo, dev: cfg.Device, log: log, sb: *sb, scatterLimit: cfg.Options.EffectiveScatterLimit()}
	if degraded {
		v.stateFlags.Store(uint64(sb.StateFlags | superblock.StateDegraded))
		v.readOnly.Store(true)
	} else {
		v.stateFlags.Store(uint64(sb.StateFlags))
	}

	if sb.StateFlags&superblock.StatePanic != 0 {
		v.readOnly.Store(true)
	}

	skew := epochSkew(sb.EpochID, cfg.EpochRingTailID)
	if checkEpochSkew(skew, cfg.Options.EpochSkewThreshold) {
		v.readOnly.Store(true)
		v.taint.Add(skew)
		log.Warnw("mount: epoch skew exceeds threshold, forcing read-only",
			"superblockEpoch", sb.EpochID, "ringTailEpoch", cfg.EpochRingTailID,
			"threshold", cfg.Options.EpochSkewThreshold)
	}

	v.bm = bitmap.New(geo.TotalBlocks)
	v.qm = qmask.New(geo.TotalBlocks)
	if err := loadRegionWords(ctx, cfg.Device, geo.BlockSize, geo.BitmapStart, geo.BitmapSize, v.bm.SetWord); err != nil {
		return nil, err
	}
	if err := loadRegionWords(ctx, cfg.Device, geo.BlockSize, geo.QMaskStart, geo.QMaskSize, v.qm.SetWord); err != nil {
		return nil, err
	}

	v.horizon = horizon.New(geo, v.bm, v.qm, sb.HorizonHead)
	v.cortex, err = cortex.New(ctx, &cortex.Config{Geometry: geo, Device: cfg.Device, Logger: log})
	if err != nil {
		return nil, err
	}
	var compressor payload.Compressor
	if cfg.Options.CompressionEnabled {
		zc, err := payload.NewZstdCompressor()
		if err != nil {
			return nil, hn4err.NewStorageError(err, hn4err.ErrorCodeInternal, "volume: build compressor failed")
		}
		compressor = zc
	}
	v.writer = writepath.New(writepath.Config{
		Geometry: geo, Device: cfg.Device, Bitmap: v.bm, QMask: v.qm, Horizon: v.horizon,
		Anchors: v.cortex, Logger: log, ReadOnly: v.IsReadOnly, Compressor: compressor,
	})
	v.reader = readpath.New(readpath.Config{Geometry: geo, Device: cfg.Device, Bitmap: v.bm, Logger: log})
	v.scrub = scrub.New(scrub.Config{Geometry: geo, Device: cfg.Device, Bitmap: v.bm, Cortex: v.cortex, Logger: log})

	log.Infow("volume mounted",
		"capacity", humanize.Bytes(geo.TotalBlocks*uint64(geo.BlockSize)),
		"fluxSize", humanize.Bytes(geo.FluxSize*uint64(geo.BlockSize)),
		"horizonSize", humanize.Bytes(geo.HorizonSize*uint64(geo.BlockSize)),
		"cortexSlots", geo.CortexSlots,
		"readOnly", v.readOnly.Load(),
		"degraded", degraded,
	)
	return v, nil
}

// loadSuperblock reads the primary and mirror superblocks, preferring the
// primary. If the primary fails validation but the mirror is intact, the
// mirror's contents are used and degraded is reported true. If neither
// validates, mount cannot proceed.
func loadSuperblock(ctx context.Context, dev hal.BlockDevice, blockSize uint32) (*superblock.Superblock, bool, error) {
	primaryBuf, err := dev.ReadBlock(ctx, 0)
	if err != nil {
		return nil, false, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: primary superblock read failed")
	}
	primary, magicOK, checksumOK := superblock.Decode(primaryBuf)
	if magicOK && checksumOK {
		return primary, false, nil
	}

	mirrorBuf, err := dev.ReadBlock(ctx, 1)
	if err != nil {
		return nil, false, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: mirror superblock read failed")
	}
	mirror, mirrorMagicOK, mirrorChecksumOK := superblock.Decode(mirrorBuf)
	if mirrorMagicOK && mirrorChecksumOK {
		return mirror, true, nil
	}

	return nil, false, status.New(status.Geometry, "volume: both primary and mirror superblock failed validation")
}

// regionsMatch reports whether a reconstructed geometry's region starts
// agree with the superblock's recorded layout.
func regionsMatch(geo *geometry.Geometry, r superblock.RegionStarts) bool {
	return geo.SuperStart == r.Super &&
		geo.EpochRingStart == r.EpochRing &&
		geo.CortexStart == r.Cortex &&
		geo.BitmapStart == r.Bitmap &&
		geo.QMaskStart == r.QMask &&
		geo.FluxStart == r.Flux &&
		geo.HorizonStart == r.Horizon &&
		geo.JournalStart == r.Journal
}

// epochSkew returns the absolute difference between a superblock's recorded
// epoch and the on-disk epoch ring's tail epoch.
func epochSkew(superblockEpoch, ringTailEpoch uint64) uint64 {
	if superblockEpoch > ringTailEpoch {
		return superblockEpoch - ringTailEpoch
	}
	return ringTailEpoch - superblockEpoch
}

// checkEpochSkew reports whether a measured skew exceeds the configured
// threshold, forcing read-only mount (§4.8). Kept as a standalone function
// so the escalation policy is testable independent of Mount's I/O.
func checkEpochSkew(skew, threshold uint64) bool {
	return skew > threshold
}

// loadRegionWords reads every block of a metadata region and feeds its
// 64-bit words to setWord in order, reconstructing an in-memory bitmap or
// Q-Mask from its on-disk image at mount time.
func loadRegionWords(ctx context.Context, dev hal.BlockDevice, blockSize uint32, start, size uint64, setWord func(uint64, uint64)) error {
	wpb := wordsPerBlock(blockSize)
	var wordIdx uint64
	for b := uint64(0); b < size; b++ {
		buf, err := dev.ReadBlock(ctx, start+b)
		if err != nil {
			return hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: metadata region read failed")
		}
		for i := uint64(0); i < wpb && (i*8+8) <= uint64(len(buf)); i++ {
			word := leUint64(buf[i*8:])
			setWord(wordIdx, word)
			wordIdx++
		}
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Unmount flushes the bitmap, Q-Mask, and superblock (primary then mirror)
// and marks the volume closed. It clears DIRTY only if every flush
// succeeded; DEGRADED and PANIC are preserved regardless, since only an
// explicit repair/rescue path may clear them (§4.8).
func (v *Volume) Unmount(ctx context.Context) error {
	if !v.closed.CompareAndSwap(false, true) {
		return hn4err.NewStorageError(nil, hn4err.ErrorCodeInternal, "volume: already unmounted")
	}

	var errs error
	errs = multierr.Append(errs, flushRegionWords(ctx, v.dev, v.geo.BlockSize, v.geo.BitmapStart, v.geo.BitmapSize, v.bm.Word, v.bm.WordCount))
	errs = multierr.Append(errs, flushRegionWords(ctx, v.dev, v.geo.BlockSize, v.geo.QMaskStart, v.geo.QMaskSize, v.qm.Word, v.qm.WordCount))

	v.mu.Lock()
	flags := superblock.StateFlags(v.stateFlags.Load())
	if errs == nil {
		flags &^= superblock.StateDirty
	}
	v.sb.StateFlags = flags
	v.sb.HorizonHead = v.horizon.Head()
	buf := superblock.Encode(&v.sb)
	padded := make([]byte, v.geo.BlockSize)
	copy(padded, buf)
	v.mu.Unlock()

	if err := v.dev.WriteBlock(ctx, v.geo.SuperStart, padded); err != nil {
		errs = multierr.Append(errs, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: primary superblock flush failed"))
	}
	if err := v.dev.WriteBlock(ctx, v.geo.SuperStart+1, padded); err != nil {
		errs = multierr.Append(errs, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: mirror superblock flush failed"))
	}
	if err := v.dev.Barrier(ctx); err != nil {
		errs = multierr.Append(errs, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: unmount barrier failed"))
	}

	v.log.Infow("volume unmounted", "clean", errs == nil, "taint", v.taint.Load(), "crcFailures", v.crcFailures.Load())
	return errs
}

func flushRegionWords(ctx context.Context, dev hal.BlockDevice, blockSize uint32, start, size uint64, word func(uint64) uint64, wordCount func() uint64) error {
	wpb := wordsPerBlock(blockSize)
	total := wordCount()
	var wordIdx uint64
	for b := uint64(0); b < size; b++ {
		buf := make([]byte, blockSize)
		for i := uint64(0); i < wpb && wordIdx < total; i++ {
			putLE64(buf[i*8:], word(wordIdx))
			wordIdx++
		}
		if err := dev.WriteBlock(ctx, start+b, buf); err != nil {
			return hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "volume: metadata region flush failed")
		}
	}
	return nil
}

// IsReadOnly reports whether the volume currently rejects writes.
func (v *Volume) IsReadOnly() bool {
	return v.readOnly.Load() || superblock.StateFlags(v.stateFlags.Load())&superblock.StatePanic != 0
}

// StateFlags returns the volume's current sticky lifecycle flags.
func (v *Volume) StateFlags() superblock.StateFlags {
	return superblock.StateFlags(v.stateFlags.Load())
}

// Taint returns the current taint counter.
func (v *Volume) Taint() uint64 { return v.taint.Load() }

// CRCFailures returns the running count of CRC-class integrity failures.
func (v *Volume) CRCFailures() uint64 { return v.crcFailures.Load() }

// markDirty sets the DIRTY state flag, used whenever a bitmap mutation may
// not have completed (§7).
func (v *Volume) markDirty() {
	for {
		old := v.stateFlags.Load()
		next := old | uint64(superblock.StateDirty)
		if old == next || v.stateFlags.CompareAndSwap(old, next) {
			return
		}
	}
}

// NsResolve resolves a parsed URI to its anchor and cortex slot (§4.5/§4.6).
func (v *Volume) NsResolve(ctx context.Context, raw string) (*anchor.Anchor, uint64, error) {
	u, err := namespace.Parse(raw)
	if err != nil {
		return nil, 0, status.Wrap(status.InvalidArgument, err, "volume: malformed URI")
	}

	var a *anchor.Anchor
	var slot uint64

	switch u.Kind {
	case namespace.KindID:
		a, slot, err = v.cortex.Resolve(ctx, u.SeedID)
		if err != nil {
			return nil, 0, err
		}
		if a.IsTombstone() {
			return nil, 0, status.New(status.Tombstone, "volume: resolved anchor is tombstoned")
		}
	default:
		found, foundSlot, ok := v.cortex.ResonanceScan(ctx, u.RequiredTagMask, u.Name)
		if !ok {
			return nil, 0, status.New(status.NotFound, "volume: no anchor matched the requested name/tags")
		}
		a, slot = found, foundSlot
	}

	if st := namespace.EvaluateSlice(u, a); st != status.Ok {
		return nil, 0, status.New(st, "volume: slice selector rejected")
	}
	return a, slot, nil
}

// WriteBlock executes write_block against this volume, rejecting outright
// if the volume is in PANIC or otherwise read-only.
func (v *Volume) WriteBlock(ctx context.Context, a *anchor.Anchor, slot uint64, blockIdx uint64, payload []byte) error {
	if v.IsReadOnly() {
		return status.New(status.AccessDenied, "volume: read-only")
	}
	req := &writepath.Request{
		Anchor: a, AnchorSlot: slot, BlockIdx: blockIdx, Payload: payload,
		ScatterLimit: v.scatterLimit,
	}
	if err := v.writer.WriteBlock(ctx, req); err != nil {
		if status.Of(err) == status.HardwareIO {
			v.markDirty()
		}
		return err
	}
	v.usedBlocks.Add(1)
	return nil
}

// ReadBlock executes read_block against this volume.
func (v *Volume) ReadBlock(ctx context.Context, a *anchor.Anchor, blockIdx uint64, out []byte) status.Status {
	st := v.reader.ReadBlock(ctx, a, blockIdx, out, len(out))
	switch st {
	case status.HeaderRot, status.PayloadRot:
		v.crcFailures.Add(1)
	}
	return st
}

// CreateAnchor inserts a brand-new anchor into the cortex under the given
// seed id, returning its slot. Anchor creation itself sits outside the
// hot-path operations of §4.2-§4.4, which all take an anchor the caller
// already holds; this is the bootstrap step that produces one.
func (v *Volume) CreateAnchor(ctx context.Context, seedID [16]byte, a *anchor.Anchor) (uint64, error) {
	if v.IsReadOnly() {
		return 0, status.New(status.AccessDenied, "volume: read-only")
	}
	return v.cortex.Insert(ctx, seedID, a)
}

// WriteAnchorAtomic persists a caller-mutated anchor back to its cortex
// slot, used by higher layers that want to flush anchor state outside the
// write path's lazy-flush default (§4.2 step 7).
func (v *Volume) WriteAnchorAtomic(ctx context.Context, slot uint64, a *anchor.Anchor) error {
	if v.IsReadOnly() {
		return status.New(status.AccessDenied, "volume: read-only")
	}
	return v.cortex.Update(ctx, slot, a)
}

// Scrub runs one orphan-reclaim maintenance pass and returns its report.
func (v *Volume) Scrub(ctx context.Context) (scrub.Report, error) {
	orphans, report, err := v.scrub.Scan(ctx)
	if err != nil {
		return scrub.Report{}, err
	}
	v.scrub.Reclaim(ctx, orphans)
	return report, nil
}
