package protocol

import (
	"bytes"
	"fmt"
)

// RequestFrame is a fully parsed and (if needed) decrypted request: the
// header, the 16-byte challenge that leads the body, and the command
// payload that follows it (spec.md §4.D).
type RequestFrame struct {
	Header    *RequestHeader
	Challenge []byte
	Payload   []byte
}

// KeyLookup resolves the 16-byte key material (a coin's AN, or a locker's
// AN for encryption-type 2) referenced by a request header's encryption
// fields.
type KeyLookup func(h *RequestHeader) ([16]byte, error)

// ParseFrame validates a raw body against h.BodySize, decrypts it if
// encryption-type>0, and splits it into challenge + payload after
// confirming the trailing end-of-frame marker.
func ParseFrame(h *RequestHeader, rawBody []byte, lookupKey KeyLookup) (*RequestFrame, error) {
	if len(rawBody) != int(h.BodySize) {
		return nil, fmt.Errorf("protocol: body length %d does not match header body_size %d", len(rawBody), h.BodySize)
	}

	body := rawBody
	if h.EncryptionType != EncryptionNone {
		if lookupKey == nil {
			return nil, fmt.Errorf("protocol: encryption requested but no key lookup configured")
		}
		key, err := lookupKey(h)
		if err != nil {
			return nil, fmt.Errorf("protocol: encryption key lookup: %w", err)
		}
		plain, err := DecryptBody(key, h.RequestNonce[:], rawBody)
		if err != nil {
			return nil, err
		}
		body = plain
	}

	if len(body) < ChallengeSize+2 {
		return nil, fmt.Errorf("protocol: body too short (%d bytes) for challenge+EOF", len(body))
	}
	tail := body[len(body)-2:]
	if !bytes.Equal(tail, EndOfFrame[:]) {
		return nil, fmt.Errorf("protocol: missing end-of-frame marker")
	}

	return &RequestFrame{
		Header:    h,
		Challenge: body[:ChallengeSize],
		Payload:   body[ChallengeSize : len(body)-2],
	}, nil
}
