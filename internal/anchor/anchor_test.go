package anchor

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Anchor{
		DataClass:    ClassValid,
		Permissions:  0o644,
		WriteGen:     7,
		GravityG:     123456,
		OrbitV:       0xABCDEF012345,
		FractalScale: 20,
		CreateClock:  1000,
		ModClock:     2000,
		Mass:         42,
		TagFilter:    0xFF00FF00,
	}
	copy(in.SeedID[:], []byte("0123456789abcdef"))
	copy(in.InlineBuffer[:], []byte("hello world"))

	buf := Encode(in)
	if len(buf) != Size {
		t.Fatalf("encoded size = %d, want %d", len(buf), Size)
	}

	out, ok := Decode(buf)
	if !ok {
		t.Fatal("checksum did not validate on freshly encoded record")
	}
	if out.OrbitV != in.OrbitV {
		t.Errorf("OrbitV round-trip: got %x want %x", out.OrbitV, in.OrbitV)
	}
	if out.GravityG != in.GravityG || out.WriteGen != in.WriteGen || out.Mass != in.Mass {
		t.Errorf("scalar fields did not round-trip: %+v", out)
	}
	if !out.IsValid() || out.IsTombstone() {
		t.Errorf("class flags did not round-trip: %v", out.DataClass)
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	in := &Anchor{DataClass: ClassValid}
	buf := Encode(in)
	buf[10] ^= 0xFF

	_, ok := Decode(buf)
	if ok {
		t.Fatal("expected checksum mismatch after corrupting record body")
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	if _, ok := Decode(make([]byte, Size-1)); ok {
		t.Fatal("expected decode failure for short buffer")
	}
}

func TestNextWriteGenWrapsSkippingZero(t *testing.T) {
	if got := NextWriteGen(0xFFFFFFFF); got != 1 {
		t.Errorf("wraparound: got %d, want 1", got)
	}
	if got := NextWriteGen(5); got != 6 {
		t.Errorf("increment: got %d, want 6", got)
	}
}
