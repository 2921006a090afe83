package util

import (
	"bytes"
	"testing"
)

func TestHex2Bin(t *testing.T) {
	out := make([]byte, 4)
	if err := Hex2Bin("DeadBEEF", out, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("got %x", out)
	}
}

func TestHex2BinErrors(t *testing.T) {
	out := make([]byte, 4)
	if err := Hex2Bin("abc", out, 4); err == nil {
		t.Fatalf("expected length error")
	}
	if err := Hex2Bin("zzzzzzzz", out, 4); err == nil {
		t.Fatalf("expected invalid digit error")
	}
}
