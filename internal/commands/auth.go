package commands

import (
	"fmt"

	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// DetectionRecordSize is a single-coin detection record: 1-byte
// denomination + 4-byte serial + 16-byte AN (spec.md §4.E).
const DetectionRecordSize = 1 + 4 + util.ANSize

// SumRecordSize is a denomination+serial pair used by the *-Sum family.
const SumRecordSize = 1 + 4

// OwnershipRecordSize is DetectionRecordSize plus a 16-byte new AN, used
// by PoWN (spec.md §4.E).
const OwnershipRecordSize = DetectionRecordSize + util.ANSize

func parseDenomSerial(b []byte) (int8, uint32) {
	return int8(b[0]), util.ReadU32BE(b[1:5])
}

// Detect authenticates a batch of single-coin records, returning a
// per-coin pass bitmap and the overall ALL-PASS/ALL-FAIL/MIXED status
// (spec.md §4.E).
func (s *Store) Detect(payload []byte) ([]byte, statuscodes.Code, error) {
	if len(payload)%DetectionRecordSize != 0 {
		return nil, statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: detect: payload length %d not a multiple of %d", len(payload), DetectionRecordSize)
	}
	n := len(payload) / DetectionRecordSize
	bits := make([]byte, (n+7)/8)
	passed := 0
	for i := 0; i < n; i++ {
		rec := payload[i*DetectionRecordSize : (i+1)*DetectionRecordSize]
		d, serial := parseDenomSerial(rec)
		var want [util.ANSize]byte
		copy(want[:], rec[5:5+util.ANSize])

		ok, err := s.Authenticate(d, serial, want)
		if err != nil {
			return nil, statuscodes.ErrorInternal, err
		}
		if ok {
			bits[i/8] |= 0x80 >> uint(i%8)
			passed++
		}
	}
	return bits, statuscodes.BitmapStatus(n, passed), nil
}

// DetectSum authenticates a batch via a single XOR-accumulated sum rather
// than a per-coin bitmap (spec.md §4.E).
func (s *Store) DetectSum(payload []byte) (statuscodes.Code, error) {
	if len(payload) < util.ANSize || (len(payload)-util.ANSize)%SumRecordSize != 0 {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: detect-sum: malformed payload of length %d", len(payload))
	}
	body := payload[:len(payload)-util.ANSize]
	var expected [util.ANSize]byte
	copy(expected[:], payload[len(payload)-util.ANSize:])

	n := len(body) / SumRecordSize
	var acc [util.ANSize]byte
	for i := 0; i < n; i++ {
		rec := body[i*SumRecordSize : (i+1)*SumRecordSize]
		d, serial := parseDenomSerial(rec)
		an, err := s.CurrentAN(d, serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		xorInto(&acc, an)
	}
	if acc == expected {
		return statuscodes.StatusAllPass, nil
	}
	return statuscodes.StatusAllFail, nil
}

// PoWN (Proof-of-oWNership) verifies each coin's current AN, and on
// success writes the client-supplied new AN and refreshes MFS (spec.md
// §4.E). Returns a per-coin MIXED bitmap.
func (s *Store) PoWN(payload []byte) ([]byte, statuscodes.Code, error) {
	if len(payload)%OwnershipRecordSize != 0 {
		return nil, statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: pown: payload length %d not a multiple of %d", len(payload), OwnershipRecordSize)
	}
	n := len(payload) / OwnershipRecordSize
	bits := make([]byte, (n+7)/8)
	passed := 0
	mfs := util.MFS()

	for i := 0; i < n; i++ {
		rec := payload[i*OwnershipRecordSize : (i+1)*OwnershipRecordSize]
		d, serial := parseDenomSerial(rec)
		var cur, next [util.ANSize]byte
		copy(cur[:], rec[5:5+util.ANSize])
		copy(next[:], rec[5+util.ANSize:5+2*util.ANSize])

		ok, err := s.Authenticate(d, serial, cur)
		if err != nil {
			return nil, statuscodes.ErrorInternal, err
		}
		if !ok {
			continue
		}
		if err := s.WriteCoin(d, serial, next, mfs); err != nil {
			return nil, statuscodes.ErrorInternal, err
		}
		bits[i/8] |= 0x80 >> uint(i%8)
		passed++
	}
	return bits, statuscodes.PoWNStatus(passed), nil
}

// PoWNSum validates a batch's current-AN XOR-sum and, on a match, XORs
// every coin's AN with a client-supplied delta and refreshes MFS (spec.md
// §4.E). No per-coin bitmap is returned.
func (s *Store) PoWNSum(payload []byte) (statuscodes.Code, error) {
	if len(payload) < 2*util.ANSize || (len(payload)-2*util.ANSize)%SumRecordSize != 0 {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: pown-sum: malformed payload of length %d", len(payload))
	}
	tail := payload[len(payload)-2*util.ANSize:]
	body := payload[:len(payload)-2*util.ANSize]
	var expected, delta [util.ANSize]byte
	copy(expected[:], tail[:util.ANSize])
	copy(delta[:], tail[util.ANSize:])

	n := len(body) / SumRecordSize
	type target struct {
		d  int8
		s  uint32
		an [util.ANSize]byte
	}
	targets := make([]target, n)

	var acc [util.ANSize]byte
	for i := 0; i < n; i++ {
		rec := body[i*SumRecordSize : (i+1)*SumRecordSize]
		d, serial := parseDenomSerial(rec)
		an, err := s.CurrentAN(d, serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		xorInto(&acc, an)
		targets[i] = target{d: d, s: serial, an: an}
	}
	if acc != expected {
		return statuscodes.StatusAllFail, nil
	}

	mfs := util.MFS()
	for _, t := range targets {
		next := t.an
		xorInto(&next, delta)
		if err := s.WriteCoin(t.d, t.s, next, mfs); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}
	return statuscodes.StatusAllPass, nil
}

func xorInto(acc *[util.ANSize]byte, v [util.ANSize]byte) {
	for i := range acc {
		acc[i] ^= v[i]
	}
}
