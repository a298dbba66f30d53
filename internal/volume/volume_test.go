package volume

import (
	"context"
	"testing"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/internal/superblock"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

func testOptions() options.Options {
	opts := options.NewDefaultOptions()
	opts.BlockSize = 4096
	opts.SectorSize = 512
	opts.CortexSlotCount = 256
	opts.FluxSize = 2 * 1024 * 1024
	opts.HorizonSize = 256 * 1024
	return opts
}

func mountFresh(t *testing.T) (*Volume, hal.BlockDevice) {
	t.Helper()
	opts := testOptions()
	// Oversize the device generously; Format/Mount trim geometry to fit.
	dev := hal.NewMemDevice(5000, opts.BlockSize)
	ctx := context.Background()

	geo, err := Format(ctx, dev, &opts, [16]byte{0xCA, 0xFE})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	_ = geo

	v, err := Mount(ctx, &Config{Device: dev, Options: &opts})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	return v, dev
}

func TestMountFormatsAndMountsCleanly(t *testing.T) {
	v, _ := mountFresh(t)
	if v.IsReadOnly() {
		t.Fatal("expected freshly formatted volume to mount read-write")
	}
	if v.StateFlags()&superblock.StateDegraded != 0 {
		t.Error("expected no degraded flag on a fresh mount")
	}
}

func TestLifecycleScenario_WriteReadAtGravity100(t *testing.T) {
	v, _ := mountFresh(t)
	ctx := context.Background()

	a := &anchor.Anchor{
		SeedID:      [16]byte{0xBE, 0xBA, 0xFE, 0xCA, 0xEF, 0xBE, 0xAD, 0xDE},
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    v.geo.FluxStart + 100,
		OrbitV:      1,
	}
	slot, err := v.cortex.Insert(ctx, a.SeedID, a)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	payload := []byte("HN4_LIFECYCLE_TEST_PAYLOAD\x00")
	if err := v.WriteBlock(ctx, a, slot, 0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if a.WriteGen != 1 {
		t.Errorf("expected write_gen 1, got %d", a.WriteGen)
	}

	out := make([]byte, len(payload))
	st := v.ReadBlock(ctx, a, 0, out)
	if st != status.Ok {
		t.Fatalf("expected Ok, got %v", st)
	}
	if string(out) != string(payload) {
		t.Errorf("payload mismatch: %q vs %q", out, payload)
	}
}

func TestUnmountRemountPreservesData(t *testing.T) {
	opts := testOptions()
	dev := hal.NewMemDevice(5000, opts.BlockSize)
	ctx := context.Background()

	if _, err := Format(ctx, dev, &opts, [16]byte{1}); err != nil {
		t.Fatalf("format: %v", err)
	}
	v, err := Mount(ctx, &Config{Device: dev, Options: &opts})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}

	a := &anchor.Anchor{
		SeedID:      [16]byte{9},
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    v.geo.FluxStart + 50,
		OrbitV:      1,
	}
	slot, err := v.cortex.Insert(ctx, a.SeedID, a)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := v.WriteBlock(ctx, a, slot, 0, []byte("persisted")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}

	v2, err := Mount(ctx, &Config{Device: dev, Options: &opts})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	if !v2.bm.Test(v.geo.FluxStart + 50) {
		t.Error("expected bitmap occupancy to survive remount")
	}
}

func TestMountForcesReadOnlyOnEpochSkew(t *testing.T) {
	opts := testOptions()
	opts.EpochSkewThreshold = 2
	dev := hal.NewMemDevice(5000, opts.BlockSize)
	ctx := context.Background()

	if _, err := Format(ctx, dev, &opts, [16]byte{1}); err != nil {
		t.Fatalf("format: %v", err)
	}

	v, err := Mount(ctx, &Config{Device: dev, Options: &opts, EpochRingTailID: 100})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if !v.IsReadOnly() {
		t.Fatal("expected epoch skew beyond threshold to force read-only mount")
	}
	if v.Taint() == 0 {
		t.Error("expected taint counter elevated after epoch skew")
	}
}

func TestCheckEpochSkew(t *testing.T) {
	if checkEpochSkew(2, 4) {
		t.Error("expected skew within threshold to pass")
	}
	if !checkEpochSkew(5, 4) {
		t.Error("expected skew beyond threshold to fail")
	}
}

// TestFreshVolumeQMaskIsGoldOnDisk guards against a freshly formatted
// volume mounting with every block Toxic: a zero-filled Q-Mask word decodes
// as Toxic (qmask.Toxic == 0), which would make write_block fall through to
// NoSpace on the very first write. Format must write an explicit all-Gold
// Q-Mask region rather than relying on the HAL's zero fill.
func TestFreshVolumeQMaskIsGoldOnDisk(t *testing.T) {
	v, _ := mountFresh(t)
	if got := v.qm.Get(v.geo.FluxStart); got != qmask.Gold {
		t.Fatalf("expected freshly formatted Flux block to read Gold, got %v", got)
	}
	if got := v.qm.Get(v.geo.HorizonStart); got != qmask.Gold {
		t.Fatalf("expected freshly formatted Horizon block to read Gold, got %v", got)
	}
}

// TestWriteBlockSucceedsOnFreshlyFormattedVolume is the end-to-end
// regression test for the same bug: without any in-memory Q-Mask
// pre-seeding, a brand-new volume's first write_block call must succeed
// rather than fail with NoSpace because every Flux/Horizon candidate reads
// Toxic off the zero-filled on-disk region.
func TestWriteBlockSucceedsOnFreshlyFormattedVolume(t *testing.T) {
	v, _ := mountFresh(t)
	ctx := context.Background()

	a := &anchor.Anchor{
		SeedID:      [16]byte{0x77},
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    v.geo.FluxStart + 1,
		OrbitV:      1,
	}
	slot, err := v.cortex.Insert(ctx, a.SeedID, a)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := v.WriteBlock(ctx, a, slot, 0, []byte("fresh-volume-write")); err != nil {
		t.Fatalf("expected write_block to succeed on a freshly formatted volume, got: %v", err)
	}
}

func TestMountDegradesOnPrimaryCorruptionFallsBackToMirror(t *testing.T) {
	opts := testOptions()
	dev := hal.NewMemDevice(5000, opts.BlockSize)
	ctx := context.Background()

	geo, err := Format(ctx, dev, &opts, [16]byte{1})
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	corrupt := make([]byte, geo.BlockSize)
	if err := dev.WriteBlock(ctx, 0, corrupt); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	v, err := Mount(ctx, &Config{Device: dev, Options: &opts})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if v.StateFlags()&superblock.StateDegraded == 0 {
		t.Error("expected degraded flag after primary superblock corruption")
	}
	if !v.IsReadOnly() {
		t.Error("expected read-only mount after falling back to mirror")
	}
}
