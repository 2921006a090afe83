package commands

import (
	"fmt"

	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// Break and Join operation codes for the Available-SNs request
// (spec.md §4.F).
const (
	OpBreak byte = 0x1
	OpJoin  byte = 0x2
)

// maxAvailableSNs bounds a single Available-SNs response (spec.md §4.F:
// "collecting up to 64 serials").
const maxAvailableSNs = 64

// AvailableSNs reserves unreserved pages of the target denomination (d-1
// for BREAK, d+1 for JOIN) on behalf of session, scans them for free
// serials, and returns the target denomination plus up to 64 of them
// (spec.md §4.F).
func (s *Store) AvailableSNs(session uint32, op byte, d int8) (int8, []uint32, error) {
	var target int8
	switch op {
	case OpBreak:
		target = d - 1
	case OpJoin:
		target = d + 1
	default:
		return 0, nil, fmt.Errorf("commands: available-sns: unknown op %#x", op)
	}
	if !util.ValidDenomination(target) {
		return 0, nil, fmt.Errorf("commands: available-sns: target denomination %d out of range", target)
	}

	out := make([]uint32, 0, maxAvailableSNs)
	for page := uint32(0); page < util.PagesPerDenomination && len(out) < maxAvailableSNs; page++ {
		first := page * util.RecordsPerPage
		p, err := s.Pages.GetPageBySNLocked(target, first)
		if err != nil {
			return 0, nil, fmt.Errorf("commands: available-sns: page access: %w", err)
		}
		if p.IsReserved() {
			s.Pages.UnlockPage(p)
			continue
		}
		p.Reserve(session)
		for i := uint32(0); i < util.RecordsPerPage && len(out) < maxAvailableSNs; i++ {
			serial := first + i
			if p.MFS(serial) == 0 {
				out = append(out, serial)
			}
		}
		s.Pages.UnlockPage(p)
	}
	return target, out, nil
}

// AnRecord is one (serial, AN) pair parsed from a Break/Join payload, the
// small-coin half of either command (spec.md §4.F).
type AnRecord struct {
	Serial uint32
	AN     [util.ANSize]byte
}

// Break authenticates one large coin and, if its smaller-denomination
// target pages are reserved by session, writes 10 small coins from it and
// destroys the large coin by re-hashing its AN (spec.md §4.F).
func (s *Store) Break(session uint32, d int8, serial uint32, an [util.ANSize]byte, encryptionType byte, smalls []AnRecord) (statuscodes.Code, error) {
	small := d - 1
	if !util.ValidDenomination(small) {
		return statuscodes.ErrorInvalidSNOrDenom, fmt.Errorf("commands: break: denomination %d has no smaller neighbor", d)
	}
	wantSmalls := 10
	if len(smalls) != wantSmalls {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: break: expected %d small-coin records, got %d", wantSmalls, len(smalls))
	}

	ok, err := s.Authenticate(d, serial, an)
	if err != nil {
		return statuscodes.ErrorInternal, err
	}
	if !ok {
		return statuscodes.StatusAllFail, nil
	}

	for _, rec := range smalls {
		p, err := s.Pages.GetPageBySNLocked(small, rec.Serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		reserved := p.ReservedBySession(session)
		free := p.MFS(rec.Serial) == 0
		s.Pages.UnlockPage(p)
		if !reserved {
			return statuscodes.ErrorPageIsNotReserved, nil
		}
		if !free {
			return statuscodes.ErrorInvalidSNOrDenom, fmt.Errorf("commands: break: serial %d is not free", rec.Serial)
		}
	}

	mfs := util.MFS()
	for _, rec := range smalls {
		if err := s.WriteCoin(small, rec.Serial, rec.AN, mfs); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}

	var pg [16]byte
	if err := util.RandomBytes(pg[:], 16); err != nil {
		return statuscodes.ErrorInternal, fmt.Errorf("commands: break: pg randomness: %w", err)
	}
	newAN := s.RegenerateAN(d, serial, pg, encryptionType)
	if err := s.WriteCoin(d, serial, newAN, 0); err != nil {
		return statuscodes.ErrorInternal, err
	}

	return statuscodes.StatusAllPass, nil
}

// Join is the symmetric inverse of Break: authenticate 10 small coins, and
// if all pass and the large target's page is reserved by session, destroy
// the smalls and create the large coin with the client-supplied AN
// (spec.md §4.F).
func (s *Store) Join(session uint32, d int8, serial uint32, newAN [util.ANSize]byte, smalls []AnRecord) (statuscodes.Code, error) {
	small := d - 1
	if !util.ValidDenomination(small) {
		return statuscodes.ErrorInvalidSNOrDenom, fmt.Errorf("commands: join: denomination %d has no smaller neighbor", d)
	}
	if len(smalls) != 10 {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: join: expected 10 small-coin records, got %d", len(smalls))
	}

	for _, rec := range smalls {
		cur, err := s.CurrentAN(small, rec.Serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		if cur != rec.AN {
			return statuscodes.StatusAllFail, nil
		}
	}

	p, err := s.Pages.GetPageBySNLocked(d, serial)
	if err != nil {
		return statuscodes.ErrorInternal, err
	}
	reserved := p.ReservedBySession(session)
	s.Pages.UnlockPage(p)
	if !reserved {
		return statuscodes.ErrorPageIsNotReserved, nil
	}

	for _, rec := range smalls {
		if err := s.WriteCoin(small, rec.Serial, rec.AN, 0); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}
	if err := s.WriteCoin(d, serial, newAN, util.MFS()); err != nil {
		return statuscodes.ErrorInternal, err
	}

	return statuscodes.StatusAllPass, nil
}

// RegenerateAN derives a coin's new AN by hashing raida-id || d || s || pg,
// per spec.md §4.F, using SHA-256 (truncated) for modern clients and MD5
// for legacy ones. Break uses it to destroy its large coin; healing's Fix
// (internal/healing) uses the identical formula to recompute a coin that
// reached quorum.
func (s *Store) RegenerateAN(d int8, serial uint32, pg [16]byte, encryptionType byte) [util.ANSize]byte {
	buf := make([]byte, 0, 1+1+4+16)
	buf = append(buf, s.RaidaID, byte(d))
	var serialBuf [4]byte
	util.WriteU32BE(serialBuf[:], serial)
	buf = append(buf, serialBuf[:]...)
	buf = append(buf, pg[:]...)
	return util.DeriveAN(encryptionType, buf)
}
