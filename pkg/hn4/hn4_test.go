package hn4

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

func testOpenConfig(t *testing.T) OpenConfig {
	t.Helper()
	return OpenConfig{
		ImagePath:      filepath.Join(t.TempDir(), "volume.hn4"),
		CapacityBlocks: 5000,
		VolumeUUID:     [16]byte{0xAB},
	}
}

func TestNewInstanceFormatsThenMounts(t *testing.T) {
	ctx := context.Background()
	inst, err := NewInstance(ctx, "hn4-test", testOpenConfig(t),
		options.WithBlockSize(4096), options.WithSectorSize(512),
		options.WithCortexSlotCount(64), options.WithFluxSize(1*1024*1024),
		options.WithHorizonSize(256*1024),
	)
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	defer inst.Close(ctx)

	if inst.IsReadOnly() {
		t.Fatal("expected freshly formatted volume to mount read-write")
	}
}

func TestInstanceWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testOpenConfig(t)
	inst, err := NewInstance(ctx, "hn4-test", cfg,
		options.WithBlockSize(4096), options.WithSectorSize(512),
		options.WithCortexSlotCount(64), options.WithFluxSize(1*1024*1024),
		options.WithHorizonSize(256*1024),
	)
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	defer inst.Close(ctx)

	a := &anchor.Anchor{
		SeedID:      [16]byte{0x42},
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    200,
		OrbitV:      1,
	}
	slot, err := inst.CreateAnchor(ctx, a.SeedID, a)
	if err != nil {
		t.Fatalf("create anchor: %v", err)
	}

	payload := []byte("round-trip-payload")
	if err := inst.WriteBlock(ctx, a, slot, 0, payload); err != nil {
		t.Fatalf("write block: %v", err)
	}

	out := make([]byte, len(payload))
	if st := inst.ReadBlock(ctx, a, 0, out); st != status.Ok {
		t.Fatalf("expected Ok, got %v", st)
	}
	if string(out) != string(payload) {
		t.Errorf("payload mismatch: %q vs %q", out, payload)
	}

	occupied, _, _, err := inst.Scrub(ctx)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if occupied == 0 {
		t.Error("expected scrub to observe at least one occupied block")
	}
}

func TestNewInstanceReopensExistingImage(t *testing.T) {
	ctx := context.Background()
	cfg := testOpenConfig(t)
	opts := []options.OptionFunc{
		options.WithBlockSize(4096), options.WithSectorSize(512),
		options.WithCortexSlotCount(64), options.WithFluxSize(1 * 1024 * 1024),
		options.WithHorizonSize(256 * 1024),
	}

	inst, err := NewInstance(ctx, "hn4-test", cfg, opts...)
	if err != nil {
		t.Fatalf("format+mount: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewInstance(ctx, "hn4-test", cfg, opts...)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)
	if reopened.IsReadOnly() {
		t.Error("expected clean reopen to mount read-write")
	}
}

func TestNewInstanceRejectsMissingImagePath(t *testing.T) {
	ctx := context.Background()
	if _, err := NewInstance(ctx, "hn4-test", OpenConfig{}); err == nil {
		t.Fatal("expected error for empty image path")
	}
}
