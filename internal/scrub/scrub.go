// Package scrub implements the maintenance pass that reclaims orphaned
// blocks: blocks whose occupancy bit is set but which no live anchor's
// trajectory envelope currently reaches (§4.2 step 8 — "the predecessor
// becomes a harmless orphan reclaimable by scrub"). Scrub runs off the hot
// write/read path, so unlike internal/bitmap and internal/qmask it tracks
// candidate orphans in a compressed, general-purpose set rather than a
// flat atomic word array.
package scrub

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/cortex"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/trajectory"
)

// Config wires a Scrubber to one mounted volume's shared state.
type Config struct {
	Geometry *geometry.Geometry
	Device   hal.BlockDevice
	Bitmap   *bitmap.Bitmap
	Cortex   *cortex.Cortex
	Logger   *zap.SugaredLogger
}

// Scrubber finds and reclaims orphaned occupied blocks.
type Scrubber struct {
	cfg Config
	log *zap.SugaredLogger
}

// New builds a Scrubber.
func New(cfg Config) *Scrubber {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scrubber{cfg: cfg, log: log}
}

// Report summarizes one scrub pass.
type Report struct {
	OccupiedBlocks  uint64
	ReachableBlocks uint64
	OrphanBlocks    uint64
}

// Scan walks the occupancy bitmap and every live anchor's reachable
// trajectory envelope, returning the set of occupied blocks that no anchor
// currently reaches. It performs no mutation.
func (s *Scrubber) Scan(ctx context.Context) (*roaring.Bitmap, Report, error) {
	occupied := roaring.New()
	for i := uint64(0); i < s.cfg.Geometry.TotalBlocks; i++ {
		if s.cfg.Bitmap.Test(i) {
			occupied.Add(uint32(i))
		}
	}

	reachable, err := s.reachableSet(ctx)
	if err != nil {
		return nil, Report{}, err
	}

	orphans := occupied.Clone()
	orphans.AndNot(reachable)

	report := Report{
		OccupiedBlocks:  occupied.GetCardinality(),
		ReachableBlocks: reachable.GetCardinality(),
		OrphanBlocks:    orphans.GetCardinality(),
	}
	return orphans, report, nil
}

// reachableSet enumerates every block a live, non-tombstoned anchor could
// currently be pointing at: its gravity center when resident in Flux, its
// Horizon hint address, and the k=0..12 shadow envelope around its gravity
// center (the addresses a reader would still check before declaring an
// orphan).
func (s *Scrubber) reachableSet(ctx context.Context) (*roaring.Bitmap, error) {
	reachable := roaring.New()
	if s.cfg.Cortex == nil {
		return reachable, nil
	}

	for slot := uint64(0); slot < s.cfg.Geometry.CortexSlots; slot++ {
		a, found := s.cfg.Cortex.PeekSlot(ctx, slot)
		if !found || a == nil {
			continue
		}
		if a.IsTombstone() || !a.IsValid() {
			continue
		}
		if s.cfg.Geometry.InHorizon(a.GravityG) {
			reachable.Add(uint32(a.GravityG))
			continue
		}
		for k := uint8(0); k <= trajectory.MaxShadowIndex; k++ {
			lba := trajectory.Compute(s.cfg.Geometry, a.GravityG, a.OrbitV, 0, a.FractalScale, k)
			if lba != trajectory.Invalid {
				reachable.Add(uint32(lba))
			}
		}
	}
	return reachable, nil
}

// Reclaim clears the occupancy bit for every block in orphans, returning
// how many bits actually transitioned from set to clear.
func (s *Scrubber) Reclaim(ctx context.Context, orphans *roaring.Bitmap) uint64 {
	var reclaimed uint64
	it := orphans.Iterator()
	for it.HasNext() {
		blockIdx := uint64(it.Next())
		if s.cfg.Bitmap.Test(blockIdx) {
			s.cfg.Bitmap.Clear(blockIdx)
			reclaimed++
		}
	}
	if reclaimed > 0 {
		s.log.Infow("scrub reclaimed orphaned blocks", "count", reclaimed)
	}
	return reclaimed
}
