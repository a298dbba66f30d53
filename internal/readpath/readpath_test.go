package readpath

import (
	"context"
	"testing"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/hal"
	"github.com/hn4dev/hn4/internal/writepath"
	"github.com/hn4dev/hn4/internal/horizon"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

func testRig(t *testing.T) (*Reader, *writepath.Writer, *geometry.Geometry) {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.BlockSize = 4096
	opts.SectorSize = 512
	opts.CortexSlotCount = 64
	opts.FluxSize = 1 * 1024 * 1024
	opts.HorizonSize = 256 * 1024
	geo, err := geometry.New(&opts, 10000)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	dev := hal.NewMemDevice(geo.TotalBlocks, geo.BlockSize)
	bm := bitmap.New(geo.TotalBlocks)
	qm := qmask.New(geo.TotalBlocks)
	h := horizon.New(geo, bm, qm, geo.HorizonStart)

	w := writepath.New(writepath.Config{Geometry: geo, Device: dev, Bitmap: bm, QMask: qm, Horizon: h})
	r := New(Config{Geometry: geo, Device: dev, Bitmap: bm})
	return r, w, geo
}

func TestReadBlockReturnsWrittenPayload(t *testing.T) {
	r, w, geo := testRig(t)
	ctx := context.Background()
	a := &anchor.Anchor{
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    geo.FluxStart + 200,
		OrbitV:      1,
	}

	if err := w.WriteBlock(ctx, &writepath.Request{Anchor: a, BlockIdx: 0, Payload: []byte("payload-data"), ScatterLimit: 12}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	out := make([]byte, 12)
	st := r.ReadBlock(ctx, a, 0, out, len(out))
	if st != status.Ok {
		t.Fatalf("expected Ok, got %v", st)
	}
	if string(out) != "payload-data" {
		t.Errorf("payload mismatch: %q", out)
	}
}

func TestReadBlockSparseWhenNeverWritten(t *testing.T) {
	r, _, geo := testRig(t)
	a := &anchor.Anchor{DataClass: anchor.ClassValid, GravityG: geo.FluxStart + 300, OrbitV: 1}

	out := make([]byte, 16)
	for i := range out {
		out[i] = 0xFF
	}
	st := r.ReadBlock(context.Background(), a, 0, out, len(out))
	if st != status.Sparse {
		t.Fatalf("expected Sparse, got %v", st)
	}
	for _, b := range out {
		if b != 0 {
			t.Fatal("expected out buffer zeroed on sparse read")
		}
	}
}

func TestReadBlockDetectsGenerationSkewAfterTornWrite(t *testing.T) {
	r, w, geo := testRig(t)
	ctx := context.Background()
	a := &anchor.Anchor{
		DataClass:   anchor.ClassValid,
		Permissions: anchor.PermRead | anchor.PermWrite,
		GravityG:    geo.FluxStart + 400,
		OrbitV:      1,
	}

	if err := w.WriteBlock(ctx, &writepath.Request{Anchor: a, BlockIdx: 0, Payload: []byte("v1"), ScatterLimit: 12}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Simulate a torn write: advance the in-memory anchor's generation
	// without the on-disk block ever catching up (process died between
	// §4.2 steps 6 and 7 never happening here — instead we model steps 7
	// completing without 6, i.e. the anchor moved on but the block at its
	// old address is now one generation behind).
	a.WriteGen++

	out := make([]byte, 2)
	st := r.ReadBlock(ctx, a, 0, out, len(out))
	if st != status.GenerationSkew {
		t.Fatalf("expected GenerationSkew, got %v", st)
	}
}
