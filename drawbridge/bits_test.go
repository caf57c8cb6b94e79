package drawbridge

import (
	"bytes"
	"testing"
)

func TestPackBitReadBitRoundTrip(t *testing.T) {
	pattern := []byte{0xB6, 0x1D, 0xF0, 0x0F, 0x55, 0xAA, 0x01, 0x80}

	var wantBits []byte
	for _, b := range pattern {
		for i := 7; i >= 0; i-- {
			wantBits = append(wantBits, (b>>uint(i))&1)
		}
	}

	// Packing the bit sequence MSB-first must reproduce the bytes.
	buf := make([]byte, len(pattern))
	pos, bit := 0, 0
	for _, v := range wantBits {
		packBit(buf, &pos, &bit, v)
	}
	if !bytes.Equal(buf, pattern) {
		t.Fatalf("packed % X, expected % X", buf, pattern)
	}

	// Reading back from every possible cursor start position must yield
	// the original tail of the sequence.
	for start := 0; start < len(wantBits); start++ {
		rpos := start / 8
		rbit := 7 - start%8
		for i := start; i < len(wantBits); i++ {
			if got := readBit(buf, &rpos, &rbit); got != int(wantBits[i]) {
				t.Fatalf("start %d: bit %d = %d, expected %d", start, i, got, wantBits[i])
			}
		}
	}
}

func TestReadBitPastEnd(t *testing.T) {
	buf := []byte{0xFF}
	pos, bit := 0, 7
	for i := 0; i < 8; i++ {
		readBit(buf, &pos, &bit)
	}

	// Past the end the stream synthesizes alternating bits so the write
	// re-encoder can pad its final flux codes.
	prev := readBit(buf, &pos, &bit)
	for i := 0; i < 15; i++ {
		next := readBit(buf, &pos, &bit)
		if next == prev {
			t.Fatalf("past-end bit %d repeated value %d, expected alternation", i+1, next)
		}
		prev = next
	}
}

func TestPackBitOverflowDropped(t *testing.T) {
	buf := []byte{0xAB}
	pos, bit := 1, 0
	packBit(buf, &pos, &bit, 1)
	if buf[0] != 0xAB {
		t.Errorf("buffer = 0x%02X after overflowing write, expected 0xAB untouched", buf[0])
	}
}

func TestUnpackCodes(t *testing.T) {
	// One packed byte carrying all four codes: 00 01 10 11 expands to
	// 0000 01 001 0001.
	out := make([]byte, 2)
	unpack([]byte{0x1B}, out)
	if out[0] != 0x04 {
		t.Errorf("out[0] = 0x%02X, expected 0x04", out[0])
	}
	if out[1] != 0x11 {
		t.Errorf("out[1] = 0x%02X, expected 0x11 (partial byte, right aligned)", out[1])
	}
}
