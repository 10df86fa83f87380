package bitops

import "testing"

func TestByteLen(t *testing.T) {
	tests := []struct {
		bits uint32
		want int
	}{
		{0, 0},
		{1, 1},
		{7, 1},
		{8, 1},
		{9, 2},
		{64, 8},
		{65, 9},
	}

	for _, tt := range tests {
		if got := ByteLen(tt.bits); got != tt.want {
			t.Fatalf("ByteLen(%d) = %d, want %d", tt.bits, got, tt.want)
		}
	}
}

func TestSetAndTestBit(t *testing.T) {
	buf := make([]byte, ByteLen(32))

	for _, i := range []uint32{0, 1, 7, 8, 15, 31} {
		if TestBit(buf, i) {
			t.Fatalf("bit %d set before SetBit", i)
		}
		SetBit(buf, i)
		if !TestBit(buf, i) {
			t.Fatalf("bit %d not set after SetBit", i)
		}
	}

	// bits not explicitly set stay clear
	if TestBit(buf, 2) {
		t.Fatal("bit 2 unexpectedly set")
	}
}

func TestClear(t *testing.T) {
	buf := make([]byte, ByteLen(16))
	SetBit(buf, 3)
	SetBit(buf, 12)

	Clear(buf)

	for i := uint32(0); i < 16; i++ {
		if TestBit(buf, i) {
			t.Fatalf("bit %d set after Clear", i)
		}
	}
}
