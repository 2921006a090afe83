package protocol

import (
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// ChallengeSize is the length in bytes of the challenge that leads every
// decrypted request body (spec.md §4.D).
const ChallengeSize = 16

// EndOfFrame is the 2-byte marker expected at the end of every request body.
var EndOfFrame = [2]byte{0x3E, 0x3E}

// ResponseHeader is the 32-byte response header (spec.md §4.D). Unlike the
// request header, its field widths sum exactly to 32 bytes with no overlap.
type ResponseHeader struct {
	Status        statuscodes.Code
	CommandGroup  byte
	ResponseNonce [12]byte
	BodyLength    uint32
	ChallengeHash [12]byte
	Echo          [2]byte
}

// Encode serializes h into a fresh 32-byte buffer.
func (h *ResponseHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Status)
	buf[1] = h.CommandGroup
	copy(buf[2:14], h.ResponseNonce[:])
	util.WriteU32BE(buf[14:18], h.BodyLength)
	copy(buf[18:30], h.ChallengeHash[:])
	copy(buf[30:32], h.Echo[:])
	return buf
}

// challengeHash derives the 12-byte challenge-hash field: a CRC32 of the
// received challenge, padded with zeros to fill the 12-byte field.
func challengeHash(challenge []byte) [12]byte {
	var out [12]byte
	sum := util.CRC32B(challenge)
	util.WriteU32BE(out[:4], sum)
	return out
}

// BuildResponse assembles a full response (header ‖ body). If encrypt is
// non-nil, body is passed through it (AES-CTR keyed on the coin/locker
// referenced by the request) before being framed; the nonce used for
// encryption is the freshly generated ResponseNonce, never the request's,
// per spec.md §9 ("Nonce reuse").
func BuildResponse(status statuscodes.Code, cmdGroup byte, echo [2]byte, challenge []byte, body []byte, encrypt func(nonce []byte, plaintext []byte) ([]byte, error)) ([]byte, error) {
	var nonce [12]byte
	if err := randomNonce(nonce[:]); err != nil {
		return nil, err
	}

	outBody := body
	if encrypt != nil && len(body) > 0 {
		enc, err := encrypt(nonce[:], body)
		if err != nil {
			return nil, err
		}
		outBody = enc
	}

	h := &ResponseHeader{
		Status:        status,
		CommandGroup:  cmdGroup,
		ResponseNonce: nonce,
		BodyLength:    uint32(len(outBody)),
		ChallengeHash: challengeHash(challenge),
		Echo:          echo,
	}
	return append(h.Encode(), outBody...), nil
}

func randomNonce(out []byte) error {
	return util.RandomBytes(out, len(out))
}
