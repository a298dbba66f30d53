// Package horizon implements the Horizon ring allocator (§4.3): the linear
// fallback region Flux placement drains into when a trajectory's candidate
// envelope is exhausted. Allocation always advances, wrapping past the end
// of the region back to the start, and persists its write head so mount can
// resume exactly where the previous session left off.
package horizon

import (
	"sync"

	"github.com/hn4dev/hn4/internal/bitmap"
	"github.com/hn4dev/hn4/internal/geometry"
	"github.com/hn4dev/hn4/internal/qmask"
	"github.com/hn4dev/hn4/pkg/status"
)

// Allocator is the Horizon ring allocator. It is safe for concurrent use;
// internally it serializes scans with a mutex since the ring's wraparound
// search is inherently sequential, unlike the trajectory-addressed Flux
// candidates which race independently.
type Allocator struct {
	geo    *geometry.Geometry
	bm     *bitmap.Bitmap
	qm     *qmask.QMask
	mu     sync.Mutex
	head   uint64 // next block index to probe, always within [HorizonStart, HorizonStart+HorizonSize)
}

// New builds a Horizon allocator resuming from the given write head (as
// persisted in the superblock at the last clean unmount).
func New(geo *geometry.Geometry, bm *bitmap.Bitmap, qm *qmask.QMask, persistedHead uint64) *Allocator {
	head := persistedHead
	if head < geo.HorizonStart || head >= geo.HorizonStart+geo.HorizonSize {
		head = geo.HorizonStart
	}
	return &Allocator{geo: geo, bm: bm, qm: qm, head: head}
}

// Alloc returns the next free block index in the ring, claiming its bitmap
// bit before returning. It reports status.NoSpace if a full pass of the
// ring finds no block that is both bitmap-clear and non-toxic.
func (a *Allocator) Alloc() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.head
	for scanned := uint64(0); scanned < a.geo.HorizonSize; scanned++ {
		candidate := a.head
		a.advance()

		if a.qm.Get(candidate) == qmask.Toxic {
			continue
		}
		if a.bm.TrySet(candidate) {
			return candidate, nil
		}
	}
	a.head = start
	return 0, status.New(status.NoSpace, "horizon ring exhausted: no free, non-toxic block found")
}

// advance moves the write head forward by one block index, wrapping at the
// end of the Horizon region.
func (a *Allocator) advance() {
	a.head++
	if a.head >= a.geo.HorizonStart+a.geo.HorizonSize {
		a.head = a.geo.HorizonStart
	}
}

// Head returns the current write head, for persisting into the superblock
// at unmount or checkpoint time.
func (a *Allocator) Head() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.head
}
