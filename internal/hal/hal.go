// Package hal defines the hardware abstraction layer every volume mounts
// against: a block-addressed device capable of synchronous reads, writes,
// barriers, and discard hints. Production deployments would back this with
// a real block device driver; this package provides the interface plus two
// reference implementations used for development and testing — an
// in-memory device and a single regular-file-backed device — neither of
// which is a production driver (§ Non-goals).
package hal

import "context"

// Capabilities describes what a BlockDevice supports. Format and Mount read
// its capacity, and pkg/hn4 uses it to refuse profiles the device can't
// honor (a ZNS-native device under the general profile).
type Capabilities struct {
	CapacityBlocks   uint64
	LogicalBlockSize uint32

	NVM         bool // cache-line writeback + store fence barriers available
	Rotational  bool // seek cost should influence Horizon-vs-Flux preference
	ZNSNative   bool // device enforces zone append order itself
	GPUDirect   bool // supports direct GPU-mapped I/O (no-op for this HAL)
	ZoneSize    uint64
}

// BlockDevice is the synchronous block I/O contract every HN4 subsystem
// issues its device access through.
type BlockDevice interface {
	// Capabilities reports static device characteristics.
	Capabilities(ctx context.Context) (Capabilities, error)

	// ReadBlock reads exactly one block at the given block index.
	ReadBlock(ctx context.Context, blockIdx uint64) ([]byte, error)

	// WriteBlock writes exactly one block-sized buffer at the given block
	// index. buf must be exactly one block long.
	WriteBlock(ctx context.Context, blockIdx uint64, buf []byte) error

	// Barrier issues a durability barrier: on NVM-class devices this is a
	// cache-line writeback paired with a store fence; on block devices it
	// is a flush. It returns once prior writes are durable.
	Barrier(ctx context.Context) error

	// Discard hints that a block's contents are no longer needed. Devices
	// that don't support discard may treat this as a no-op.
	Discard(ctx context.Context, blockIdx uint64) error

	// MonotonicTime returns a monotonically non-decreasing clock reading
	// used for create/mod timestamps and epoch-skew checks (§4.8). It is
	// not wall-clock time and carries no cross-volume meaning.
	MonotonicTime(ctx context.Context) uint64

	// Close releases any resources held by the device.
	Close() error
}
