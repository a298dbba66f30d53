package block

import "testing"

func TestFrameDecodeRoundTrip(t *testing.T) {
	h := &Header{Generation: 7, SeqIndex: 0, PayloadLen: 5}
	copy(h.WellID[:], []byte("seed0123456789ab"))

	payload := make([]byte, 100)
	copy(payload, []byte("hello"))

	buf := Frame(h, payload)
	res := Decode(buf, 100)

	if !res.MagicOK || !res.HeaderCRCOK || !res.DataCRCOK {
		t.Fatalf("validation failed: %+v", res)
	}
	if res.Block.Header.Generation != 7 {
		t.Errorf("generation mismatch: %d", res.Block.Header.Generation)
	}
	if string(res.Block.Payload[:5]) != "hello" {
		t.Errorf("payload mismatch: %q", res.Block.Payload[:5])
	}
}

func TestDecodeDetectsTornHeader(t *testing.T) {
	h := &Header{Generation: 1}
	buf := Frame(h, make([]byte, 32))
	buf[10] ^= 0xFF // corrupt a header field, leaving payload intact

	res := Decode(buf, 32)
	if !res.MagicOK {
		t.Fatal("magic should still read, only a field was flipped")
	}
	if res.HeaderCRCOK {
		t.Fatal("expected header CRC mismatch after corrupting header")
	}
}

func TestDecodeDetectsTornPayload(t *testing.T) {
	h := &Header{Generation: 1}
	buf := Frame(h, make([]byte, 32))
	buf[HeaderSize+5] ^= 0xFF

	res := Decode(buf, 32)
	if !res.HeaderCRCOK {
		t.Fatal("header CRC should still validate, only payload was flipped")
	}
	if res.DataCRCOK {
		t.Fatal("expected data CRC mismatch after corrupting payload")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize+16)
	res := Decode(buf, 16)
	if res.MagicOK {
		t.Fatal("expected magic check to fail on zeroed buffer")
	}
}
