// Package trajectory implements the ballistic trajectory function (§4.1):
// the deterministic, pure mapping from a file's placement parameters to a
// physical block address in Flux. It is the only place in the module that
// converts (gravity, orbit, logical index, scale, shadow index) tuples into
// block addresses, and it never touches a disk — callers own all I/O.
package trajectory

import "github.com/hn4dev/hn4/internal/geometry"

// Invalid is returned in place of a block index when the computed address
// falls outside Flux (or G itself is already outside Flux), signaling that
// the caller must fall back to Horizon allocation.
const Invalid = ^uint64(0)

// MaxShadowIndex bounds k, the shadow candidate index.
const MaxShadowIndex = 12

// orbitMask keeps only the 48 meaningful bits of an orbit vector; anything
// above bit 47 is caller error and is silently dropped, matching §3's
// description of V as a 48-bit packed field.
const orbitMask = (uint64(1) << 48) - 1

// Compute returns the physical block index for logical block n of a file
// rooted at gravity center g with orbit vector v and fractal scale m,
// evaluated at shadow index k, or Invalid if g or the result falls outside
// Flux.
//
// Stride is 1<<m: consecutive logical blocks (m=0) pack contiguously, while
// larger m spaces them out, leaving the gap between them unallocated
// (fractal sparse files). The shadow index displaces the candidate within a
// bounded envelope derived from the orbit vector so that repeated writes of
// the same (g, v, n) land at distinct, but still deterministic, addresses.
func Compute(geo *geometry.Geometry, g uint64, v uint64, n uint64, m uint16, k uint8) uint64 {
	if !geo.InFlux(g) {
		return Invalid
	}
	if k > MaxShadowIndex {
		return Invalid
	}

	v &= orbitMask
	stride := uint64(1) << m

	// The primary orbit: the gravity center displaced by n strides, the
	// displacement folded modulo the Flux size so it never exceeds the
	// region's width; a result past the end of Flux is rejected below.
	span := fluxSpan(geo)
	primary := g + (n*stride)%span

	// The shadow envelope: k displaces the primary candidate by a
	// triangular-number offset scaled by the orbit vector's high bits, so
	// k=0 is the primary orbit itself and increasing k fans outward
	// without repeating an offset already tried by a smaller k.
	shadowOffset := uint64(0)
	if k > 0 {
		triangular := uint64(k) * (uint64(k) + 1) / 2
		shadowStride := (v>>24)%97 + 1 // odd-ish prime modulus, never 0
		shadowOffset = triangular * shadowStride
	}

	candidate := geo.FluxStart + ((primary - geo.FluxStart) + shadowOffset)
	if !geo.InFlux(candidate) {
		return Invalid
	}
	return candidate
}

func fluxSpan(geo *geometry.Geometry) uint64 {
	if geo.FluxSize == 0 {
		return 1
	}
	return geo.FluxSize
}
