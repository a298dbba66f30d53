// Package payload implements the read-modify-write splice logic the
// shadow-hop write path uses when a target block was previously compressed
// and the new write only covers part of the logical block (§4.2 step 4).
// The actual compression codec is a hint carried at the engine boundary,
// not a format HN4 mandates; this package exercises that hint through a
// pluggable Compressor so a concrete codec can be swapped without touching
// the splice algorithm.
package payload

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionNone and CompressionZstd are the only two compression tags
// currently understood; other values are reserved for future codecs. Splice
// treats only CompressionNone as raw data and hands every other tag to the
// Compressor to decompress.
const (
	CompressionNone byte = 0
	CompressionZstd byte = 1
)

// Compressor abstracts a reversible codec so the splice algorithm never
// depends on a specific compression library directly.
type Compressor interface {
	Compress(raw []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
	Tag() byte
}

// ZstdCompressor is the reference Compressor implementation, demonstrating
// the splice path against a real codec.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor builds a reusable encoder/decoder pair.
func NewZstdCompressor() (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("payload: build zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("payload: build zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: enc, decoder: dec}, nil
}

func (z *ZstdCompressor) Compress(raw []byte) ([]byte, error) {
	return z.encoder.EncodeAll(raw, nil), nil
}

func (z *ZstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	return z.decoder.DecodeAll(compressed, nil)
}

func (z *ZstdCompressor) Tag() byte { return CompressionZstd }

// Splice performs the read-modify-write §4.2 step 4 requires: decompress
// the previous block's logical content (if it was compressed), overwrite
// newBytes at the given byte offset, and return the merged logical-size
// buffer ready for reframing. If prevCompression is CompressionNone,
// prevBlock is treated as already being the raw logical content.
func Splice(c Compressor, prevCompression byte, prevBlock []byte, offset int, newBytes []byte, logicalSize int) ([]byte, error) {
	var raw []byte
	if prevCompression == CompressionNone {
		raw = append([]byte(nil), prevBlock...)
	} else {
		decoded, err := c.Decompress(prevBlock)
		if err != nil {
			return nil, fmt.Errorf("payload: decompress previous block: %w", err)
		}
		raw = decoded
	}

	if len(raw) < logicalSize {
		padded := make([]byte, logicalSize)
		copy(padded, raw)
		raw = padded
	}
	if offset < 0 || offset+len(newBytes) > logicalSize {
		return nil, fmt.Errorf("payload: splice range [%d:%d) exceeds logical size %d", offset, offset+len(newBytes), logicalSize)
	}
	merged := make([]byte, logicalSize)
	copy(merged, raw)
	copy(merged[offset:], newBytes)
	return merged, nil
}

// MaybeRecompress implements the "defer refreeze" optimization: when the
// previous block was compressed and the new full-block payload is itself
// compressible, the engine may choose to keep writing raw rather than pay
// for another compress/decompress cycle on the next partial write. This
// helper reports whether compressing now is worthwhile by comparing sizes;
// callers remain free to ignore the recommendation and write raw.
func MaybeRecompress(c Compressor, merged []byte) (compressed []byte, tag byte, worthwhile bool, err error) {
	out, err := c.Compress(merged)
	if err != nil {
		return nil, CompressionNone, false, err
	}
	if len(out) >= len(merged) {
		return merged, CompressionNone, false, nil
	}
	return out, c.Tag(), true, nil
}
