package payload

import "testing"

func TestSpliceUncompressedPrevious(t *testing.T) {
	prev := []byte("hello world, this is the old content")
	merged, err := Splice(nil, CompressionNone, prev, 6, []byte("WORLD"), len(prev))
	if err != nil {
		t.Fatalf("splice failed: %v", err)
	}
	if string(merged[6:11]) != "WORLD" {
		t.Errorf("splice did not overwrite at offset: %q", merged[6:11])
	}
	if string(merged[:6]) != "hello " {
		t.Errorf("splice disturbed bytes before offset: %q", merged[:6])
	}
}

func TestSpliceCompressedPreviousRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("build compressor: %v", err)
	}
	original := []byte("the quick brown fox jumps over the lazy dog, repeated a few times, repeated a few times")
	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	merged, err := Splice(c, CompressionZstd, compressed, 4, []byte("SLOW"), len(original))
	if err != nil {
		t.Fatalf("splice failed: %v", err)
	}
	if string(merged[4:8]) != "SLOW" {
		t.Errorf("splice did not overwrite compressed content correctly: %q", merged[4:8])
	}
}

func TestSpliceRejectsOutOfRange(t *testing.T) {
	prev := make([]byte, 16)
	_, err := Splice(nil, CompressionNone, prev, 10, []byte("too long for remaining space"), 16)
	if err == nil {
		t.Fatal("expected error for out-of-range splice")
	}
}

func TestMaybeRecompressSkipsWhenNotWorthwhile(t *testing.T) {
	c, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("build compressor: %v", err)
	}
	tiny := []byte("x")
	_, _, worthwhile, err := MaybeRecompress(c, tiny)
	if err != nil {
		t.Fatalf("maybe recompress failed: %v", err)
	}
	if worthwhile {
		t.Error("expected recompression of a single byte to not be worthwhile")
	}
}
