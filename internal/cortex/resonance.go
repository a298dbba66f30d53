package cortex

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/extension"
)

// blockReader adapts the Cortex's device to extension.BlockReader so name
// reconstruction can walk an extended anchor's extension chain.
type blockReader struct {
	c   *Cortex
	ctx context.Context
}

func (br blockReader) ReadBlock(lba uint64) ([]byte, error) {
	return br.c.dev.ReadBlock(br.ctx, lba)
}

// reconstructName rebuilds a's name, per §4.5. A non-extended anchor's name
// is its inline buffer up to the first NUL. An extended anchor's name is
// the concatenated extension-chain payloads up to the first NUL; the inline
// bytes after the 8-byte chain pointer are not part of it. Extension-chain
// failures are not propagated as errors: a walk that fails at any link
// yields an empty name, not the links read before the failure.
func (c *Cortex) reconstructName(ctx context.Context, a *anchor.Anchor) string {
	if !a.IsExtended() {
		nul := bytes.IndexByte(a.InlineBuffer[:], 0)
		if nul < 0 {
			nul = len(a.InlineBuffer)
		}
		return string(a.InlineBuffer[:nul])
	}

	headLBA := binary.LittleEndian.Uint64(a.InlineBuffer[0:8])
	full, err := extension.Walk(blockReader{c: c, ctx: ctx}, headLBA)
	if err != nil {
		// Walk returns nil on failure, so an aborted chain yields an
		// empty name.
		return ""
	}
	nul := bytes.IndexByte(full, 0)
	if nul < 0 {
		nul = len(full)
	}
	return string(full[:nul])
}

// resonanceCandidate carries one candidate surviving the filters of a
// resonance scan, before generation arbitration.
type resonanceCandidate struct {
	anchor *anchor.Anchor
	slot   uint64
}

// ResonanceScan sweeps the cortex in ascending slot order for anchors
// matching requiredTagMask and, if name is non-empty, an exact name match,
// per §4.5's "resonance scan". Among all matches it returns the one with
// the highest write_gen. Tombstoned anchors are skipped silently on this
// path — a known, intentional asymmetry with the ID path, which instead
// returns a Tombstone status for a tombstoned direct hit.
func (c *Cortex) ResonanceScan(ctx context.Context, requiredTagMask uint64, name string) (*anchor.Anchor, uint64, bool) {
	var best *resonanceCandidate

	for slot := uint64(0); slot < c.geo.CortexSlots; slot++ {
		anchors, valid, _, err := c.sectorAnchors(ctx, slot)
		if err != nil {
			continue
		}
		_, idx := c.geo.SectorOfAnchorSlot(slot)
		if !valid[idx] {
			continue // CRC failure: reject
		}
		a := anchors[idx]

		if a.IsTombstone() {
			continue // phantom/tombstone defense: skipped silently here
		}
		if !a.IsValid() {
			continue
		}
		if requiredTagMask != 0 && (a.TagFilter&requiredTagMask) != requiredTagMask {
			continue
		}
		if name != "" {
			if c.reconstructName(ctx, a) != name {
				continue
			}
		}

		if best == nil || a.WriteGen > best.anchor.WriteGen {
			best = &resonanceCandidate{anchor: a, slot: slot}
		}
	}

	if best == nil {
		return nil, 0, false
	}
	return best.anchor, best.slot, true
}
