package hal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemDevice is an in-memory BlockDevice, used by unit and integration tests
// that want deterministic, dependency-free I/O. Barrier is always
// immediately durable since there is no write-back cache to flush.
type MemDevice struct {
	blockSize uint32
	mu        sync.RWMutex
	blocks    [][]byte
	clock     atomic.Uint64
	closed    atomic.Bool
}

// NewMemDevice allocates an in-memory device of capacityBlocks blocks, each
// blockSize bytes, all zeroed.
func NewMemDevice(capacityBlocks uint64, blockSize uint32) *MemDevice {
	blocks := make([][]byte, capacityBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemDevice{blockSize: blockSize, blocks: blocks}
}

func (m *MemDevice) Capabilities(ctx context.Context) (Capabilities, error) {
	return Capabilities{
		CapacityBlocks:   uint64(len(m.blocks)),
		LogicalBlockSize: m.blockSize,
		NVM:              true,
	}, nil
}

func (m *MemDevice) ReadBlock(ctx context.Context, blockIdx uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("hal: device closed")
	}
	if blockIdx >= uint64(len(m.blocks)) {
		return nil, fmt.Errorf("hal: block index %d out of range", blockIdx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, m.blockSize)
	copy(out, m.blocks[blockIdx])
	return out, nil
}

func (m *MemDevice) WriteBlock(ctx context.Context, blockIdx uint64, buf []byte) error {
	if m.closed.Load() {
		return fmt.Errorf("hal: device closed")
	}
	if blockIdx >= uint64(len(m.blocks)) {
		return fmt.Errorf("hal: block index %d out of range", blockIdx)
	}
	if uint32(len(buf)) != m.blockSize {
		return fmt.Errorf("hal: write buffer length %d does not match block size %d", len(buf), m.blockSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.blocks[blockIdx], buf)
	m.clock.Add(1)
	return nil
}

func (m *MemDevice) Barrier(ctx context.Context) error { return nil }

func (m *MemDevice) Discard(ctx context.Context, blockIdx uint64) error { return nil }

func (m *MemDevice) MonotonicTime(ctx context.Context) uint64 {
	return m.clock.Add(1)
}

func (m *MemDevice) Close() error {
	m.closed.Store(true)
	return nil
}
