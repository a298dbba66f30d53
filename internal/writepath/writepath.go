// Package writepath implements the shadow-hop write orchestration of §4.2:
// policy selection, candidate enumeration, collision hop, frame-and-seal,
// allocation, persist, anchor commit, and eclipse.
package writepath

import (
	"context"

	"go.uber.org/zap"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/block"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/horizon"
	"github.com/hn4dev/hn4/internal/payload"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/internal/trajectory"
	"github.com/hn4dev/hn4/pkg/status"
)

// AnchorPersister eagerly persists a mutated anchor, used only on the
// Horizon-fallback path where the anchor write must survive a crash
// without a journal (§4.2 step 6).
type AnchorPersister interface {
	Update(ctx context.Context, slot uint64, a *anchor.Anchor) error
}

// Config wires a Writer to one mounted volume's shared state.
type Config struct {
	Geometry *geometry.Geometry
	Device   hal.BlockDevice
	Bitmap   *bitmap.Bitmap
	QMask    *qmask.QMask
	Horizon  *horizon.Allocator
	Anchors  AnchorPersister
	Logger   *zap.SugaredLogger

	// Compressor enables the compressed-block splice path (§4.2 step 4). A
	// nil Compressor is valid: every block this Writer frames then carries
	// CompressionNone, so a partial write is zero-padded and never needs to
	// decompress. Resolving a resident block tagged with a non-None
	// compression (written by a different engine instance configured with a
	// codec) while running without one is a hard splice failure, not a
	// silent fallback.
	Compressor payload.Compressor

	// ReadOnly reflects the volume's current mount state; Writer consults
	// it fresh on every call rather than caching it, since a volume can
	// transition to read-only mid-session (epoch dilation, mirror
	// divergence).
	ReadOnly func() bool
}

// Writer executes write_block for one mounted volume.
type Writer struct {
	cfg Config
	log *zap.SugaredLogger
}

// New builds a Writer. Device, Geometry, Bitmap, QMask, Horizon, and
// Anchors are all required.
func New(cfg Config) *Writer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Writer{cfg: cfg, log: log}
}

// payloadCapacity is the bytes available per block after the header.
func (w *Writer) payloadCapacity() int {
	return int(w.cfg.Geometry.BlockSize) - block.HeaderSize
}

// Request describes one write_block call. Payload shorter than the block's
// full capacity is a partial write of the logical block, starting at byte
// offset 0, per the public write_block(anchor, block_idx, payload, len)
// contract — there is no separate offset parameter.
type Request struct {
	Anchor       *anchor.Anchor
	AnchorSlot   uint64 // the anchor's cortex slot, for eager Horizon-path persistence
	BlockIdx     uint64
	Payload      []byte
	ScatterLimit uint8 // k_limit selected by the volume's device profile
}

// WriteBlock executes the shadow-hop write protocol for one logical block.
// On success it mutates req.Anchor in place (write_gen, mass, and, on
// Horizon fallback, the horizon hint and gravity center); the caller is
// responsible for persisting that mutation through the cortex on the
// common Flux path, which has no synchronous anchor flush of its own (§4.2
// step 7).
func (w *Writer) WriteBlock(ctx context.Context, req *Request) error {
	a := req.Anchor
	cap := w.payloadCapacity()

	if len(req.Payload) > cap {
		return status.New(status.InvalidArgument, "payload exceeds block capacity")
	}
	if a.IsTombstone() {
		return status.New(status.Tombstone, "anchor is tombstoned")
	}
	if a.IsImmutable() {
		return status.New(status.Immutable, "anchor is immutable")
	}
	if w.cfg.ReadOnly != nil && w.cfg.ReadOnly() {
		return status.New(status.AccessDenied, "volume is read-only")
	}
	if !a.CanWrite() {
		return status.New(status.AccessDenied, "anchor lacks write permission")
	}

	predecessor, predecessorFound := w.findResidentCandidate(a, req.BlockIdx, req.ScatterLimit)
	if a.IsAppendOnly() && predecessorFound {
		return status.New(status.AccessDenied, "append-only anchor: block already exists")
	}

	onDisk, payloadLen, compression := req.Payload, len(req.Payload), payload.CompressionNone
	partial := len(req.Payload) < cap
	spliced := false
	if predecessorFound && partial {
		merged, mergedLen, tag, applied, err := w.spliceResident(ctx, predecessor, req.Payload, cap)
		if err != nil {
			return err
		}
		if applied {
			onDisk, payloadLen, compression, spliced = merged, mergedLen, tag, true
		}
	}
	if !spliced && w.cfg.Compressor != nil {
		// No compressed predecessor to splice against: compress this write's
		// own logical content from scratch, opportunistically, so a later
		// partial write against this same block has a compressed
		// predecessor to read-modify-write against in turn.
		logical := make([]byte, cap)
		copy(logical, req.Payload)
		out, tag, worthwhile, err := payload.MaybeRecompress(w.cfg.Compressor, logical)
		if err != nil {
			return status.Wrap(status.DataRot, err, "compress failed")
		}
		if worthwhile {
			onDisk, payloadLen, compression = out, len(out), tag
		}
	}

	candidate, usedHorizon, err := w.allocate(a, req.BlockIdx, req.ScatterLimit)
	if err != nil {
		return err
	}

	nextGen := anchor.NextWriteGen(a.WriteGen)
	framed := w.frame(a, req.BlockIdx, nextGen, onDisk, payloadLen, compression, cap)

	if err := w.cfg.Device.WriteBlock(ctx, candidate, framed); err != nil {
		w.cfg.Bitmap.Clear(candidate)
		w.cfg.QMask.Downgrade(candidate)
		return status.Wrap(status.HardwareIO, err, "write failed")
	}
	if err := w.cfg.Device.Barrier(ctx); err != nil {
		w.cfg.Bitmap.Clear(candidate)
		w.cfg.QMask.Downgrade(candidate)
		return status.Wrap(status.HardwareIO, err, "barrier failed after write")
	}

	if usedHorizon {
		a.DataClass |= anchor.ClassHorizon
		a.GravityG = candidate
		a.WriteGen = nextGen
		a.Mass = maxU64(a.Mass, req.BlockIdx*uint64(cap)+uint64(len(req.Payload)))
		if w.cfg.Anchors != nil {
			if err := w.cfg.Anchors.Update(ctx, req.AnchorSlot, a); err != nil {
				return status.Wrap(status.HardwareIO, err, "horizon anchor persist failed")
			}
		}
	} else {
		a.WriteGen = nextGen
		a.Mass = maxU64(a.Mass, req.BlockIdx*uint64(cap)+uint64(len(req.Payload)))
	}

	if predecessorFound && predecessor != candidate {
		w.cfg.Bitmap.Clear(predecessor)
		if err := w.cfg.Device.Barrier(ctx); err != nil {
			w.log.Warnw("eclipse barrier failed, volume needs scrub", "predecessor", predecessor, "error", err)
		} else {
			_ = w.cfg.Device.Discard(ctx, predecessor)
		}
	}

	return nil
}

// allocate runs candidate enumeration and the collision hop (§4.2 steps
// 1-3, 5), falling back to Horizon when every Flux candidate is exhausted.
func (w *Writer) allocate(a *anchor.Anchor, blockIdx uint64, kLimit uint8) (candidate uint64, usedHorizon bool, err error) {
	for k := uint8(0); k <= kLimit; k++ {
		lba := trajectory.Compute(w.cfg.Geometry, a.GravityG, a.OrbitV, blockIdx, a.FractalScale, k)
		if lba == trajectory.Invalid {
			continue
		}
		if w.cfg.QMask.Get(lba) == qmask.Toxic {
			continue
		}
		if a.IsStatic() && w.cfg.QMask.Get(lba) < qmask.Silver {
			continue
		}
		if w.cfg.Bitmap.TrySet(lba) {
			return lba, false, nil
		}
	}

	addr, err := w.cfg.Horizon.Alloc()
	if err != nil {
		return 0, false, err
	}
	return addr, true, nil
}

// findResidentCandidate reports whether a predecessor block already
// occupies one of this (G,V,N)'s trajectory candidates, used for the
// append-only gate and the eclipse step.
func (w *Writer) findResidentCandidate(a *anchor.Anchor, blockIdx uint64, kLimit uint8) (uint64, bool) {
	for k := uint8(0); k <= kLimit; k++ {
		lba := trajectory.Compute(w.cfg.Geometry, a.GravityG, a.OrbitV, blockIdx, a.FractalScale, k)
		if lba == trajectory.Invalid {
			continue
		}
		if w.cfg.Bitmap.Test(lba) {
			return lba, true
		}
	}
	return 0, false
}

// frame builds the on-disk block buffer: zeroed payload capacity with
// onDisk (the bytes actually stored, raw or compressed per compression)
// copied in, wrapped with a sealed header.
func (w *Writer) frame(a *anchor.Anchor, blockIdx uint64, generation uint32, onDisk []byte, payloadLen int, compression byte, cap int) []byte {
	buf := make([]byte, cap)
	copy(buf, onDisk)

	h := &block.Header{
		WellID:      a.SeedID,
		Generation:  uint64(generation),
		SeqIndex:    uint32(blockIdx),
		Compression: compression,
		PayloadLen:  uint32(payloadLen),
	}
	return block.Frame(h, buf)
}

// spliceResident implements the read-modify-write §4.2 step 4 mandates: when
// the block a partial write is about to overwrite was itself compressed, the
// engine must decompress it, splice newBytes in at offset 0, and write the
// merged buffer back, rather than zero-padding newBytes alone and silently
// discarding the rest of the logical block. applied is false (zero values
// otherwise) when the resident block was not compressed or carries no block
// magic at all, in which case the ordinary zero-pad framing applies and no
// splice was necessary. A block with valid magic but a failed CRC is DataRot.
func (w *Writer) spliceResident(ctx context.Context, residentLBA uint64, newBytes []byte, cap int) (onDisk []byte, payloadLen int, compression byte, applied bool, err error) {
	const offset = 0
	raw, err := w.cfg.Device.ReadBlock(ctx, residentLBA)
	if err != nil {
		return nil, 0, 0, false, status.Wrap(status.HardwareIO, err, "splice: read resident block failed")
	}
	dec := block.Decode(raw, cap)
	if !dec.MagicOK {
		// No framed block at this address, so no compression tag to honor.
		return nil, 0, 0, false, nil
	}
	if !dec.HeaderCRCOK || !dec.DataCRCOK {
		return nil, 0, 0, false, status.New(status.DataRot, "splice: resident block failed integrity check")
	}

	prevCompression := dec.Block.Header.Compression
	if prevCompression == payload.CompressionNone {
		return nil, 0, 0, false, nil
	}
	if w.cfg.Compressor == nil {
		return nil, 0, 0, false, status.New(status.DataRot, "splice: resident block is compressed but volume has no compressor configured")
	}
	prevPayload := dec.Block.Payload[:dec.Block.Header.PayloadLen]

	merged, err := payload.Splice(w.cfg.Compressor, prevCompression, prevPayload, offset, newBytes, cap)
	if err != nil {
		return nil, 0, 0, false, status.Wrap(status.InvalidArgument, err, "splice failed")
	}

	out, tag, worthwhile, err := payload.MaybeRecompress(w.cfg.Compressor, merged)
	if err != nil {
		return nil, 0, 0, false, status.Wrap(status.DataRot, err, "recompress after splice failed")
	}
	if !worthwhile {
		return merged, len(merged), payload.CompressionNone, true, nil
	}
	return out, len(out), tag, true, nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
