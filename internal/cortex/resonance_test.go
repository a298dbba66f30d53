package cortex

import (
	"context"
	"testing"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/namespace"
)

func TestResonanceScanFindsByTagAndName(t *testing.T) {
	c, _ := testCortex(t)
	ctx := context.Background()

	id := seedID(3)
	a := &anchor.Anchor{
		SeedID:    id,
		DataClass: anchor.ClassValid,
		TagFilter: namespace.TagMask("photos"),
		WriteGen:  1,
	}
	copy(a.InlineBuffer[:], []byte("vacation.jpg"))
	if _, err := c.Insert(ctx, id, a); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, _, ok := c.ResonanceScan(ctx, namespace.TagMask("photos"), "vacation.jpg")
	if !ok {
		t.Fatal("expected resonance scan to find the anchor")
	}
	if got.SeedID != id {
		t.Errorf("wrong anchor returned: %+v", got)
	}
}

func TestResonanceScanPicksHighestGeneration(t *testing.T) {
	c, _ := testCortex(t)
	ctx := context.Background()

	older := &anchor.Anchor{SeedID: seedID(4), DataClass: anchor.ClassValid, WriteGen: 1}
	copy(older.InlineBuffer[:], []byte("dup.txt"))
	newer := &anchor.Anchor{SeedID: seedID(5), DataClass: anchor.ClassValid, WriteGen: 9}
	copy(newer.InlineBuffer[:], []byte("dup.txt"))

	if _, err := c.Insert(ctx, older.SeedID, older); err != nil {
		t.Fatalf("insert older failed: %v", err)
	}
	if _, err := c.Insert(ctx, newer.SeedID, newer); err != nil {
		t.Fatalf("insert newer failed: %v", err)
	}

	got, _, ok := c.ResonanceScan(ctx, 0, "dup.txt")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.WriteGen != 9 {
		t.Errorf("expected highest generation match (9), got %d", got.WriteGen)
	}
}

func TestResonanceScanSkipsTombstones(t *testing.T) {
	c, _ := testCortex(t)
	ctx := context.Background()

	id := seedID(6)
	a := &anchor.Anchor{SeedID: id, DataClass: anchor.ClassValid}
	copy(a.InlineBuffer[:], []byte("ghost.txt"))
	slot, err := c.Insert(ctx, id, a)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := c.Tombstone(ctx, slot); err != nil {
		t.Fatalf("tombstone failed: %v", err)
	}

	_, _, ok := c.ResonanceScan(ctx, 0, "ghost.txt")
	if ok {
		t.Fatal("expected tombstoned anchor to be skipped by resonance scan")
	}
}
