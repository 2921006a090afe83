package protocol

import (
	"testing"

	"github.com/raida-consortium/raida-server/internal/util"
)

func TestParseFrameUnencrypted(t *testing.T) {
	h := &RequestHeader{EncryptionType: EncryptionNone}
	body := make([]byte, ChallengeSize+5+2)
	for i := range body[:ChallengeSize] {
		body[i] = byte(i)
	}
	copy(body[ChallengeSize:], []byte{1, 2, 3, 4, 5})
	copy(body[len(body)-2:], EndOfFrame[:])
	h.BodySize = uint16(len(body))

	f, err := ParseFrame(h, body, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Payload) != 5 {
		t.Fatalf("payload length = %d", len(f.Payload))
	}
}

func TestParseFrameMissingEOF(t *testing.T) {
	h := &RequestHeader{EncryptionType: EncryptionNone}
	body := make([]byte, ChallengeSize+2)
	h.BodySize = uint16(len(body))
	if _, err := ParseFrame(h, body, nil); err == nil {
		t.Fatalf("expected error for missing EOF marker")
	}
}

func TestParseFrameEncrypted(t *testing.T) {
	var key [16]byte
	util.WriteU32BE(key[:4], 0xAABBCCDD)

	plain := make([]byte, ChallengeSize+4+2)
	copy(plain[ChallengeSize:], []byte{9, 9, 9, 9})
	copy(plain[len(plain)-2:], EndOfFrame[:])

	h := &RequestHeader{EncryptionType: EncryptionAES}
	cipher, err := EncryptBody(key, h.RequestNonce[:], plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	h.BodySize = uint16(len(cipher))

	f, err := ParseFrame(h, cipher, func(*RequestHeader) ([16]byte, error) { return key, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Payload) != 4 || f.Payload[0] != 9 {
		t.Fatalf("unexpected payload: %v", f.Payload)
	}
}
