package horizon

import (
	"testing"

	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/pkg/options"
	"github.com/hn4dev/hn4/pkg/status"
)

func testSetup(t *testing.T) (*geometry.Geometry, *bitmap.Bitmap, *qmask.QMask) {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.FluxSize = 1 * 1024 * 1024
	opts.HorizonSize = 64 * 4096 // 64 blocks
	geo, err := geometry.New(&opts, 5000)
	if err != nil {
		t.Fatalf("geometry.New failed: %v", err)
	}
	return geo, bitmap.New(geo.TotalBlocks), qmask.New(geo.TotalBlocks)
}

func TestAllocAdvancesAndClaims(t *testing.T) {
	geo, bm, qm := testSetup(t)
	a := New(geo, bm, qm, geo.HorizonStart)

	first, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if first != geo.HorizonStart {
		t.Errorf("expected first alloc at HorizonStart, got %d", first)
	}
	if !bm.Test(first) {
		t.Error("expected bitmap bit set after alloc")
	}

	second, err := a.Alloc()
	if err != nil {
		t.Fatalf("second alloc failed: %v", err)
	}
	if second != first+1 {
		t.Errorf("expected second alloc to advance by one, got %d vs %d", second, first)
	}
}

func TestAllocSkipsToxicAndOccupied(t *testing.T) {
	geo, bm, qm := testSetup(t)
	bm.TrySet(geo.HorizonStart)
	qm.Downgrade(geo.HorizonStart + 1)
	qm.Downgrade(geo.HorizonStart + 1)
	qm.Downgrade(geo.HorizonStart + 1) // now Toxic

	a := New(geo, bm, qm, geo.HorizonStart)
	got, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if got != geo.HorizonStart+2 {
		t.Errorf("expected alloc to skip occupied and toxic blocks, got %d", got)
	}
}

func TestAllocWrapsAroundRing(t *testing.T) {
	geo, bm, qm := testSetup(t)
	a := New(geo, bm, qm, geo.HorizonStart+geo.HorizonSize-1)

	first, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if first != geo.HorizonStart+geo.HorizonSize-1 {
		t.Fatalf("expected alloc at ring tail, got %d", first)
	}

	second, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if second != geo.HorizonStart {
		t.Errorf("expected wraparound to HorizonStart, got %d", second)
	}
}

func TestAllocReturnsNoSpaceWhenFull(t *testing.T) {
	geo, bm, qm := testSetup(t)
	for i := geo.HorizonStart; i < geo.HorizonStart+geo.HorizonSize; i++ {
		bm.TrySet(i)
	}

	a := New(geo, bm, qm, geo.HorizonStart)
	_, err := a.Alloc()
	if err == nil {
		t.Fatal("expected NoSpace error")
	}
	if status.Of(err) != status.NoSpace {
		t.Errorf("expected NoSpace status, got %v", status.Of(err))
	}
}
