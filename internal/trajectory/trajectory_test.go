package trajectory

import (
	"testing"

	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/pkg/options"
)

func testGeometry(t *testing.T) *geometry.Geometry {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.BlockSize = 4096
	opts.SectorSize = 512
	opts.CortexSlotCount = 256
	opts.FluxSize = 4 * 1024 * 1024 // small for test speed
	opts.HorizonSize = 512 * 1024
	geo, err := geometry.New(&opts, 10000)
	if err != nil {
		t.Fatalf("geometry.New failed: %v", err)
	}
	return geo
}

func TestComputeIsDeterministicAcrossCalls(t *testing.T) {
	geo := testGeometry(t)
	g := geo.FluxStart + 4000
	a := Compute(geo, g, 0xABCDEF, 0, 0, 0)
	b := Compute(geo, g, 0xABCDEF, 0, 0, 0)
	if a != b {
		t.Fatalf("two calls with identical inputs diverged: %d vs %d", a, b)
	}
	if a == Invalid {
		t.Fatal("expected a valid candidate for in-bounds gravity")
	}
}

func TestComputeRejectsGravityOutsideFlux(t *testing.T) {
	geo := testGeometry(t)
	if got := Compute(geo, 0, 1, 0, 0, 0); got != Invalid {
		t.Fatalf("expected Invalid for gravity outside Flux, got %d", got)
	}
}

func TestComputeStrideScalesWithFractalScale(t *testing.T) {
	geo := testGeometry(t)
	g := geo.FluxStart + 100
	n0m0 := Compute(geo, g, 1, 0, 0, 0)
	n1m0 := Compute(geo, g, 1, 1, 0, 0)
	n1m2 := Compute(geo, g, 1, 1, 2, 0)

	if n0m0 == Invalid || n1m0 == Invalid || n1m2 == Invalid {
		t.Fatal("expected all candidates in bounds")
	}
	d0 := diff(n1m0, n0m0)
	d2 := diff(n1m2, n0m0)
	if d2 <= d0 {
		t.Errorf("expected larger fractal scale to produce a wider stride: d0=%d d2=%d", d0, d2)
	}
}

func TestComputeShadowIndexChangesAddress(t *testing.T) {
	geo := testGeometry(t)
	g := geo.FluxStart + 500
	k0 := Compute(geo, g, 42, 3, 1, 0)
	k1 := Compute(geo, g, 42, 3, 1, 1)
	if k0 == k1 {
		t.Error("expected distinct addresses for distinct shadow indices")
	}
}

func TestComputeRejectsShadowIndexBeyondMax(t *testing.T) {
	geo := testGeometry(t)
	g := geo.FluxStart + 100
	if got := Compute(geo, g, 1, 0, 0, MaxShadowIndex+1); got != Invalid {
		t.Fatalf("expected Invalid for k beyond max, got %d", got)
	}
}

func diff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
