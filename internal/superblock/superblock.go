// Package superblock encodes and decodes the fixed-size superblock record
// (§6): magic, format version, geometry summary, volume identity, state
// flags, current epoch id, and a trailing whole-record CRC. Layout mirrors
// the explicit-byte-offset, little-endian style internal/anchor and
// internal/block use for their own fixed records.
package superblock

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic identifies a valid HN4 superblock ("HN4S").
const Magic uint32 = 0x484e3453

// FormatVersion is the on-disk layout version this package reads and writes.
const FormatVersion uint32 = 1

// Size is the fixed on-disk size of one superblock record. Region starts are
// packed as a fixed array of 8 uint64 fields (super, epoch ring, cortex,
// bitmap, q-mask, flux, horizon, journal), matching geometry.Geometry's
// region ordering.
const Size = 256

const numRegions = 8

// Byte offsets within the superblock record.
const (
	offMagic         = 0
	offFormatVersion = 4
	offBlockSize     = 8
	offVolumeUUID    = 12 // 16 bytes
	offTotalCapacity = 28
	offFormatProfile = 36 // 1 byte
	offDeviceType    = 37 // 1 byte
	offCapFlags      = 38 // 2 bytes
	offStateFlags    = 40 // 8 bytes
	offEpochID       = 48 // 8 bytes
	offHorizonHead   = 56 // 8 bytes: persisted Horizon allocator write head
	offRegionStarts  = 64 // 8 * 8 bytes
	offChecksum      = offRegionStarts + numRegions*8
)

// StateFlags are the sticky volume lifecycle bits of §3/§4.8.
type StateFlags uint64

const (
	StateClean          StateFlags = 1 << 0
	StateDirty          StateFlags = 1 << 1
	StateDegraded       StateFlags = 1 << 2
	StatePanic          StateFlags = 1 << 3
	StateSaturated      StateFlags = 1 << 4
	StateMetadataZeroed StateFlags = 1 << 5
)

// RegionStarts holds the block-indexed start of each region, in the same
// order geometry.Geometry lays them out.
type RegionStarts struct {
	Super     uint64
	EpochRing uint64
	Cortex    uint64
	Bitmap    uint64
	QMask     uint64
	Flux      uint64
	Horizon   uint64
	Journal   uint64
}

// Superblock is the decoded in-memory form of one superblock record.
type Superblock struct {
	BlockSize      uint32
	VolumeUUID     [16]byte
	TotalCapacity  uint64
	FormatProfile  byte
	DeviceType     byte
	CapFlags       uint16
	StateFlags     StateFlags
	EpochID        uint64
	HorizonHead    uint64
	Regions        RegionStarts
}

// Encode serializes sb into a Size-byte buffer, computing the trailing CRC
// over every preceding byte with the checksum field itself zeroed.
func Encode(sb *Superblock) []byte {
	buf := make([]byte, Size)

	binary.LittleEndian.PutUint32(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint32(buf[offFormatVersion:], FormatVersion)
	binary.LittleEndian.PutUint32(buf[offBlockSize:], sb.BlockSize)
	copy(buf[offVolumeUUID:offVolumeUUID+16], sb.VolumeUUID[:])
	binary.LittleEndian.PutUint64(buf[offTotalCapacity:], sb.TotalCapacity)
	buf[offFormatProfile] = sb.FormatProfile
	buf[offDeviceType] = sb.DeviceType
	binary.LittleEndian.PutUint16(buf[offCapFlags:], sb.CapFlags)
	binary.LittleEndian.PutUint64(buf[offStateFlags:], uint64(sb.StateFlags))
	binary.LittleEndian.PutUint64(buf[offEpochID:], sb.EpochID)
	binary.LittleEndian.PutUint64(buf[offHorizonHead:], sb.HorizonHead)

	regions := [numRegions]uint64{
		sb.Regions.Super, sb.Regions.EpochRing, sb.Regions.Cortex, sb.Regions.Bitmap,
		sb.Regions.QMask, sb.Regions.Flux, sb.Regions.Horizon, sb.Regions.Journal,
	}
	for i, v := range regions {
		binary.LittleEndian.PutUint64(buf[offRegionStarts+i*8:], v)
	}

	checksum := crc32.ChecksumIEEE(buf[:offChecksum])
	binary.LittleEndian.PutUint32(buf[offChecksum:], checksum)
	return buf
}

// Decode parses buf into a Superblock, reporting whether the magic and
// checksum validated. A caller must check both before trusting any field.
func Decode(buf []byte) (sb *Superblock, magicOK bool, checksumOK bool) {
	if len(buf) < Size {
		return nil, false, false
	}

	magic := binary.LittleEndian.Uint32(buf[offMagic:])
	if magic != Magic {
		return nil, false, false
	}

	want := binary.LittleEndian.Uint32(buf[offChecksum:])
	got := crc32.ChecksumIEEE(buf[:offChecksum])

	sb = &Superblock{
		BlockSize:     binary.LittleEndian.Uint32(buf[offBlockSize:]),
		TotalCapacity: binary.LittleEndian.Uint64(buf[offTotalCapacity:]),
		FormatProfile: buf[offFormatProfile],
		DeviceType:    buf[offDeviceType],
		CapFlags:      binary.LittleEndian.Uint16(buf[offCapFlags:]),
		StateFlags:    StateFlags(binary.LittleEndian.Uint64(buf[offStateFlags:])),
		EpochID:       binary.LittleEndian.Uint64(buf[offEpochID:]),
		HorizonHead:   binary.LittleEndian.Uint64(buf[offHorizonHead:]),
	}
	copy(sb.VolumeUUID[:], buf[offVolumeUUID:offVolumeUUID+16])

	regionVals := make([]uint64, numRegions)
	for i := range regionVals {
		regionVals[i] = binary.LittleEndian.Uint64(buf[offRegionStarts+i*8:])
	}
	sb.Regions = RegionStarts{
		Super: regionVals[0], EpochRing: regionVals[1], Cortex: regionVals[2], Bitmap: regionVals[3],
		QMask: regionVals[4], Flux: regionVals[5], Horizon: regionVals[6], Journal: regionVals[7],
	}

	return sb, true, got == want
}
