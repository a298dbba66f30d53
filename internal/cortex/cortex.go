// Package cortex implements the anchor table: a disk-backed hash table
// mapping 128-bit seed ids to their anchor records, probed by murmur3 hash
// with bounded linear probing (§3's "Lifecycles" paragraph). Config +
// Logger, New(ctx, *Config), an atomic closed flag, and an RWMutex-guarded
// map in front of it: the map is a read-through cache over the real,
// disk-backed anchor table rather than the index of record itself.
package cortex

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/namespace"
	hn4err "github.com/hn4dev/hn4/pkg/errors"
	"github.com/hn4dev/hn4/pkg/status"
)

// MaxProbeDepth bounds linear probing when inserting or resolving a seed id,
// matching the bound other subsystems assume when reasoning about worst
// case lookup cost.
const MaxProbeDepth = 64

// Config configures a Cortex.
type Config struct {
	Geometry *geometry.Geometry
	Device   hal.BlockDevice
	Logger   *zap.SugaredLogger
}

// Cortex is the disk-backed anchor table for one mounted volume.
type Cortex struct {
	geo    *geometry.Geometry
	dev    hal.BlockDevice
	log    *zap.SugaredLogger
	mu     sync.RWMutex
	cache  map[[16]byte]*anchor.Anchor // read-through cache, keyed by seed id
	closed atomic.Bool
}

// New builds a Cortex bound to the given device and geometry. It performs
// no I/O itself; slots are read lazily as seed ids are resolved.
func New(ctx context.Context, cfg *Config) (*Cortex, error) {
	if cfg == nil || cfg.Geometry == nil || cfg.Device == nil {
		return nil, hn4err.NewValidationError(nil, hn4err.ErrorCodeInvalidInput, "cortex: geometry and device are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cortex{
		geo:   cfg.Geometry,
		dev:   cfg.Device,
		log:   log,
		cache: make(map[[16]byte]*anchor.Anchor, 1024),
	}, nil
}

// Close releases the Cortex's in-memory cache. A second call releases
// nothing further and returns an already-closed error.
func (c *Cortex) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return hn4err.NewStorageError(nil, hn4err.ErrorCodeInternal, "cortex already closed")
	}
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
	return nil
}

// slotHash computes the primary probe slot for a seed id (§4.5: XOR-fold
// the halves, then a murmur3 finalizer, modulo cortex slot count).
func (c *Cortex) slotHash(seedID [16]byte) uint64 {
	return namespace.IDSlotHash(seedID, c.geo.CortexSlots)
}

// sectorAnchors reads every anchor slot in the sector containing slot,
// returning the decoded records and the anchors-per-sector count needed to
// splice one back in.
func (c *Cortex) sectorAnchors(ctx context.Context, slot uint64) ([]*anchor.Anchor, []bool, uint64, error) {
	sectorIdx, _ := c.geo.SectorOfAnchorSlot(slot)
	blockIdx, sectorInBlock := c.sectorToBlock(sectorIdx)

	buf, err := c.dev.ReadBlock(ctx, c.geo.CortexStart+blockIdx)
	if err != nil {
		return nil, nil, 0, hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "cortex: read anchor block failed").WithRegion("cortex")
	}

	sectorOff := sectorInBlock * uint64(c.geo.SectorSize)
	sectorEnd := sectorOff + uint64(c.geo.SectorSize)
	if sectorEnd > uint64(len(buf)) {
		return nil, nil, 0, hn4err.NewStorageError(nil, hn4err.ErrorCodeCortexCorrupted, "cortex: sector bounds exceed block").WithRegion("cortex")
	}
	sector := buf[sectorOff:sectorEnd]

	n := uint64(c.geo.AnchorsPerSector)
	anchors := make([]*anchor.Anchor, n)
	valid := make([]bool, n)
	for i := uint64(0); i < n; i++ {
		off := i * anchor.Size
		rec, ok := anchor.Decode(sector[off : off+anchor.Size])
		anchors[i] = rec
		valid[i] = ok
	}
	return anchors, valid, blockIdx, nil
}

// sectorToBlock converts a cortex-relative sector index into a cortex block
// index and the sector's position within that block.
func (c *Cortex) sectorToBlock(sectorIdx uint64) (blockIdx uint64, sectorInBlock uint64) {
	sectorsPerBlock := uint64(c.geo.BlockSize) / uint64(c.geo.SectorSize)
	return sectorIdx / sectorsPerBlock, sectorIdx % sectorsPerBlock
}

// writeSectorAnchors re-encodes only slot's record (its entry in anchors)
// and writes it back with a read-modify-write of the cortex block holding
// that sector; the neighbouring records keep the bytes that were read, so
// replacing one anchor never disturbs its neighbors (§3).
func (c *Cortex) writeSectorAnchors(ctx context.Context, slot uint64, anchors []*anchor.Anchor) error {
	sectorIdx, idxInSector := c.geo.SectorOfAnchorSlot(slot)
	sectorsPerBlock := uint64(c.geo.BlockSize) / uint64(c.geo.SectorSize)
	blockIdx := sectorIdx / sectorsPerBlock
	sectorInBlock := sectorIdx % sectorsPerBlock

	buf, err := c.dev.ReadBlock(ctx, c.geo.CortexStart+blockIdx)
	if err != nil {
		return hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "cortex: read-modify-write fetch failed").WithRegion("cortex")
	}

	sectorOff := sectorInBlock * uint64(c.geo.SectorSize)
	copy(buf[sectorOff+idxInSector*anchor.Size:], anchor.Encode(anchors[idxInSector]))

	if err := c.dev.WriteBlock(ctx, c.geo.CortexStart+blockIdx, buf); err != nil {
		return hn4err.NewStorageError(err, hn4err.ErrorCodeIO, "cortex: read-modify-write store failed").WithRegion("cortex")
	}
	return c.dev.Barrier(ctx)
}

// Insert hashes seedID into the cortex and linear-probes for an empty or
// tombstoned slot, writing the given anchor there. It returns the slot
// index on success.
func (c *Cortex) Insert(ctx context.Context, seedID [16]byte, a *anchor.Anchor) (uint64, error) {
	start := c.slotHash(seedID)
	for probe := 0; probe < MaxProbeDepth; probe++ {
		slot := (start + uint64(probe)) % c.geo.CortexSlots
		anchors, valid, _, err := c.sectorAnchors(ctx, slot)
		if err != nil {
			return 0, err
		}
		_, idxInSector := c.geo.SectorOfAnchorSlot(slot)
		existing := anchors[idxInSector]

		if valid[idxInSector] && existing.IsValid() && !existing.IsTombstone() {
			continue // slot occupied by a live anchor for a different seed
		}

		anchors[idxInSector] = a
		if err := c.writeSectorAnchors(ctx, slot, anchors); err != nil {
			return 0, err
		}

		c.mu.Lock()
		if c.cache != nil {
			c.cache[seedID] = a
		}
		c.mu.Unlock()
		return slot, nil
	}
	return 0, hn4err.NewTableFullError(hex.EncodeToString(seedID[:]), MaxProbeDepth)
}

// Resolve walks the probe sequence for seedID and returns the first anchor
// found whose seed id matches and whose valid bit is set, tombstoned or not.
func (c *Cortex) Resolve(ctx context.Context, seedID [16]byte) (*anchor.Anchor, uint64, error) {
	c.mu.RLock()
	if cached, ok := c.cache[seedID]; ok {
		c.mu.RUnlock()
		return cached, c.slotHash(seedID), nil
	}
	c.mu.RUnlock()

	start := c.slotHash(seedID)
	for probe := 0; probe < MaxProbeDepth; probe++ {
		slot := (start + uint64(probe)) % c.geo.CortexSlots
		anchors, valid, _, err := c.sectorAnchors(ctx, slot)
		if err != nil {
			return nil, 0, err
		}
		_, idxInSector := c.geo.SectorOfAnchorSlot(slot)
		a := anchors[idxInSector]

		if a.DataClass == 0 {
			// A never-written slot terminates the probe sequence: this
			// seed id was never inserted. A zero-filled slot also always
			// fails its own CRC check, so this must be tested before
			// the validity check below, not after it.
			return nil, 0, status.New(status.NotFound, "cortex: seed id not found")
		}
		if !valid[idxInSector] {
			// A genuinely corrupted slot (non-zero but checksum mismatch)
			// does not terminate the probe sequence; skip it and keep
			// looking, mirroring ResonanceScan's full-table sweep.
			continue
		}
		if a.SeedID == seedID && a.IsValid() {
			c.mu.Lock()
			if c.cache != nil {
				c.cache[seedID] = a
			}
			c.mu.Unlock()
			return a, slot, nil
		}
	}
	return nil, 0, status.New(status.NotFound, "cortex: probe depth exceeded")
}

// Update writes a mutated anchor back to its known slot, preserving the
// sector read-modify-write discipline.
func (c *Cortex) Update(ctx context.Context, slot uint64, a *anchor.Anchor) error {
	anchors, _, _, err := c.sectorAnchors(ctx, slot)
	if err != nil {
		return err
	}
	_, idxInSector := c.geo.SectorOfAnchorSlot(slot)
	anchors[idxInSector] = a
	if err := c.writeSectorAnchors(ctx, slot, anchors); err != nil {
		return err
	}
	c.mu.Lock()
	if c.cache != nil {
		c.cache[a.SeedID] = a
	}
	c.mu.Unlock()
	return nil
}

// PeekSlot reads the anchor at a known cortex slot directly, without
// touching the seed-id cache or probe sequence. It is used by scrub's full
// table sweep, which needs every slot in order rather than a single seed
// id's probe chain.
func (c *Cortex) PeekSlot(ctx context.Context, slot uint64) (*anchor.Anchor, bool) {
	anchors, valid, _, err := c.sectorAnchors(ctx, slot)
	if err != nil {
		return nil, false
	}
	_, idxInSector := c.geo.SectorOfAnchorSlot(slot)
	if !valid[idxInSector] {
		return nil, false
	}
	return anchors[idxInSector], true
}

// Tombstone marks the anchor at slot deleted without reclaiming it; physical
// reuse happens only once a later Insert's probe observes the tombstone.
func (c *Cortex) Tombstone(ctx context.Context, slot uint64) error {
	anchors, valid, _, err := c.sectorAnchors(ctx, slot)
	if err != nil {
		return err
	}
	_, idxInSector := c.geo.SectorOfAnchorSlot(slot)
	if !valid[idxInSector] {
		return hn4err.NewCortexCorruptionError(slot, "Tombstone", nil)
	}
	a := anchors[idxInSector]
	a.DataClass |= anchor.ClassTombstone
	anchors[idxInSector] = a
	if err := c.writeSectorAnchors(ctx, slot, anchors); err != nil {
		return err
	}
	c.mu.Lock()
	if c.cache != nil {
		delete(c.cache, a.SeedID)
	}
	c.mu.Unlock()
	return nil
}
