package protocol

import (
	"fmt"

	"github.com/raida-consortium/raida-server/internal/util"
)

// HeaderSize is the fixed size in bytes of both the request and response
// headers (spec.md §4.D).
const HeaderSize = 32

// MaxBodySize is the largest body spec.md §5 allows per request.
const MaxBodySize = 65536

// Encryption types, spec.md §4.D.
const (
	EncryptionNone       byte = 0
	EncryptionAES        byte = 1
	EncryptionLockerAES  byte = 2
)

// RequestHeader is the parsed form of the 32-byte request header.
//
// spec.md's own header table lists a 12-byte request nonce starting at
// offset 24, which together with the 24 bytes of fields preceding it would
// run past the header's stated 32-byte length; the table's closing note
// ("echo bytes are the last 2 of the 32... overlap with other fields by
// design") is the spec's own acknowledgement of this. This implementation
// resolves it literally: the nonce occupies the 8 bytes that actually fit
// (offset 24-31), and the echo bytes are its trailing 2 bytes (30-31),
// rather than extending the header past the stated 32 bytes.
type RequestHeader struct {
	RouterVersion    byte
	SplitID          byte
	RaidaID          byte
	ShardID          byte
	CommandGroup     byte
	CommandIndex     byte
	CoinID           uint16
	EncryptionType   byte
	EncryptionDenom  int8
	EncryptionSerial uint32
	BodySize         uint16
	RequestNonce     [8]byte // truncated, see type doc
	Echo             [2]byte
}

// ParseRequestHeader validates and decodes a 32-byte request header.
func ParseRequestHeader(buf []byte, thisRaidaID byte) (*RequestHeader, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("protocol: request header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	h := &RequestHeader{
		RouterVersion:    buf[0],
		SplitID:          buf[1],
		RaidaID:          buf[2],
		ShardID:          buf[3],
		CommandGroup:     buf[4],
		CommandIndex:     buf[5],
		CoinID:           util.ReadU16BE(buf[6:8]),
		EncryptionType:   buf[16],
		EncryptionDenom:  int8(buf[17]),
		EncryptionSerial: util.ReadU32BE(buf[18:22]),
		BodySize:         util.ReadU16BE(buf[22:24]),
	}
	copy(h.RequestNonce[:], buf[24:32])
	copy(h.Echo[:], buf[30:32])

	if h.RouterVersion != 1 {
		return h, fmt.Errorf("protocol: unsupported router version %d", h.RouterVersion)
	}
	if h.SplitID != 0 {
		return h, fmt.Errorf("protocol: split id must be 0, got %d", h.SplitID)
	}
	if h.RaidaID != thisRaidaID {
		return h, fmt.Errorf("protocol: raida id %d does not match this node (%d)", h.RaidaID, thisRaidaID)
	}
	if int(h.BodySize) > MaxBodySize {
		return h, fmt.Errorf("protocol: body size %d exceeds maximum %d", h.BodySize, MaxBodySize)
	}
	if h.EncryptionType > EncryptionLockerAES {
		return h, fmt.Errorf("protocol: invalid encryption type %d", h.EncryptionType)
	}
	return h, nil
}

// Encode serializes h into a fresh 32-byte buffer, the inverse of
// ParseRequestHeader. Used both by tests and by internal/peer when this
// node itself originates a request during healing's Fix step.
func (h *RequestHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.RouterVersion
	buf[1] = h.SplitID
	buf[2] = h.RaidaID
	buf[3] = h.ShardID
	buf[4] = h.CommandGroup
	buf[5] = h.CommandIndex
	util.WriteU16BE(buf[6:8], h.CoinID)
	buf[16] = h.EncryptionType
	buf[17] = byte(h.EncryptionDenom)
	util.WriteU32BE(buf[18:22], h.EncryptionSerial)
	util.WriteU16BE(buf[22:24], h.BodySize)
	copy(buf[24:32], h.RequestNonce[:])
	copy(buf[30:32], h.Echo[:])
	return buf
}
