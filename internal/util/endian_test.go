package util

import "testing"

func TestU32BERoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	for _, v := range []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF} {
		WriteU32BE(buf, v)
		if got := ReadU32BE(buf); got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestU64BERoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	for _, v := range []uint64{0, 1, 0x0102030405060708, 0xFFFFFFFFFFFFFFFF} {
		WriteU64BE(buf, v)
		if got := ReadU64BE(buf); got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestSwapUint64(t *testing.T) {
	if got := SwapUint64(0x0102030405060708); got != 0x0807060504030201 {
		t.Fatalf("got %x", got)
	}
}
