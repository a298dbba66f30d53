// Package readpath implements read_block (§4.4): residency resolution
// across a file's full shadow envelope, the ordered validation checks each
// candidate must pass, and generation arbitration among survivors.
package readpath

import (
	"context"

	"go.uber.org/zap"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/block"
	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/trajectory"
	"github.com/hn4dev/hn4/pkg/status"
)

// maxResidencyK is the full shadow envelope a reader always walks,
// independent of whatever k_limit the write side used (§4.4): a volume
// written under a sequential policy may still have older shadows from a
// prior profile to visit.
const maxResidencyK = 12

// Reader executes read_block for one mounted volume.
type Reader struct {
	geo *geometry.Geometry
	dev hal.BlockDevice
	bm  *bitmap.Bitmap
	log *zap.SugaredLogger
}

// Config wires a Reader to one mounted volume's shared state.
type Config struct {
	Geometry *geometry.Geometry
	Device   hal.BlockDevice
	Bitmap   *bitmap.Bitmap
	Logger   *zap.SugaredLogger
}

// New builds a Reader.
func New(cfg Config) *Reader {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reader{geo: cfg.Geometry, dev: cfg.Device, bm: cfg.Bitmap, log: log}
}

// candidateOutcome is the per-k classification recorded during residency
// resolution, used both to pick a winner and, if none wins, to report the
// strongest failure signal.
type candidateOutcome struct {
	lba        uint64
	generation uint64
	status     status.Status // status.Ok only for a fully-passing candidate
}

// ReadBlock resolves and returns the payload for logical block blockIdx of
// the file identified by a. out is filled with at most cap bytes of
// payload; a caller-chosen larger out is left with its remainder
// untouched.
func (r *Reader) ReadBlock(ctx context.Context, a *anchor.Anchor, blockIdx uint64, out []byte, cap int) status.Status {
	if a.DataClass&anchor.ClassEncrypted != 0 {
		return status.AccessDenied
	}

	var sparsePossible bool
	var winner *candidateOutcome
	var worstFailure status.Status = status.Sparse // placeholder, replaced on first failure

	haveFailure := false

	for k := uint8(0); k <= maxResidencyK; k++ {
		lba := trajectory.Compute(r.geo, a.GravityG, a.OrbitV, blockIdx, a.FractalScale, k)
		if lba == trajectory.Invalid {
			continue
		}
		if !r.bm.Test(lba) {
			sparsePossible = true
			continue
		}

		outcome := r.validateCandidate(ctx, a, lba)
		if outcome.status == status.Ok {
			if winner == nil || outcome.generation > winner.generation {
				winner = &outcome
			}
			continue
		}

		if !haveFailure {
			worstFailure = outcome.status
			haveFailure = true
		} else {
			worstFailure = status.Strongest(worstFailure, outcome.status)
		}
	}

	if winner != nil {
		r.copyPayload(ctx, winner.lba, out, cap)
		return status.Ok
	}

	if haveFailure {
		return worstFailure
	}

	if sparsePossible {
		r.log.Debugw("read resolved to sparse hole", "block", blockIdx)
	}
	for i := range out {
		out[i] = 0
	}
	return status.Sparse
}

// validateCandidate runs the ordered checks of §4.4 steps 2-6 against one
// resident candidate.
func (r *Reader) validateCandidate(ctx context.Context, a *anchor.Anchor, lba uint64) candidateOutcome {
	capacity := int(r.geo.BlockSize) - block.HeaderSize

	buf, err := r.dev.ReadBlock(ctx, lba)
	if err != nil {
		return candidateOutcome{lba: lba, status: status.HardwareIO}
	}

	res := block.Decode(buf, capacity)
	if !res.MagicOK {
		return candidateOutcome{lba: lba, status: status.PhantomBlock}
	}
	if !res.HeaderCRCOK {
		return candidateOutcome{lba: lba, status: status.HeaderRot}
	}
	if res.Block.Header.WellID != a.SeedID {
		return candidateOutcome{lba: lba, status: status.IdMismatch}
	}
	if res.Block.Header.Generation != uint64(a.WriteGen) {
		return candidateOutcome{lba: lba, status: status.GenerationSkew}
	}
	if !res.DataCRCOK {
		return candidateOutcome{lba: lba, status: status.PayloadRot}
	}

	return candidateOutcome{lba: lba, generation: res.Block.Header.Generation, status: status.Ok}
}

// copyPayload re-reads the winning candidate's payload into out. It
// re-reads rather than caching the earlier Decode result to keep
// validateCandidate free of caller-visible side effects.
func (r *Reader) copyPayload(ctx context.Context, lba uint64, out []byte, cap int) {
	capacity := int(r.geo.BlockSize) - block.HeaderSize
	buf, err := r.dev.ReadBlock(ctx, lba)
	if err != nil {
		return
	}
	res := block.Decode(buf, capacity)
	if res.Block == nil {
		return
	}
	n := cap
	if n > len(res.Block.Payload) {
		n = len(res.Block.Payload)
	}
	if n > len(out) {
		n = len(out)
	}
	copy(out[:n], res.Block.Payload[:n])
}
