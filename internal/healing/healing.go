// Package healing implements the Get-Ticket, Validate-Ticket, Find, and
// Fix operations of spec.md §4.J: issuing tickets for authentic coins,
// serving peer claims against them, and running the 25-peer quorum vote
// that repairs a coin whose AN has drifted.
package healing

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/peer"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/ticketpool"
	"github.com/raida-consortium/raida-server/internal/util"
)

// NumPeers is the size of the peer network (spec.md §1).
const NumPeers = ticketpool.NumPeers

// QuorumThreshold is 25/2 + 1 = 13 (spec.md §4.J); a coin is repaired by
// Fix only when its vote count is strictly greater than this, i.e. >= 14.
const QuorumThreshold = NumPeers/2 + 1

// Healer bundles the page/bitmap store, the ticket pool, and the means to
// reach peers, for the healing command family.
type Healer struct {
	Store   *commands.Store
	Tickets *ticketpool.Pool

	PeerClient    *peer.Client
	PeerAddresses [NumPeers]string // index = raida id; "" for unreachable/self

	RaidaID byte
	Log     *logrus.Logger
}

type detectRecord struct {
	d      int8
	serial uint32
	an     [util.ANSize]byte
}

// ParseDetectRecords splits a Get-Ticket payload into its (d, s, AN)
// triples (spec.md §4.E's DetectionRecordSize shape: 21 bytes each).
func ParseDetectRecords(payload []byte) ([]detectRecord, error) {
	if len(payload)%commands.DetectionRecordSize != 0 {
		return nil, fmt.Errorf("healing: get-ticket: payload length %d not a multiple of %d", len(payload), commands.DetectionRecordSize)
	}
	n := len(payload) / commands.DetectionRecordSize
	out := make([]detectRecord, n)
	for i := 0; i < n; i++ {
		rec := payload[i*commands.DetectionRecordSize : (i+1)*commands.DetectionRecordSize]
		var an [util.ANSize]byte
		copy(an[:], rec[5:])
		out[i] = detectRecord{d: int8(rec[0]), serial: util.ReadU32BE(rec[1:5]), an: an}
	}
	return out, nil
}

// GetTicket authenticates every (d, s, AN) triple in payload and, if any
// pass, allocates a ticket containing them (spec.md §4.J). Returns the
// per-coin pass bitmap, the allocated ticket id (0 if none), and whether a
// ticket was actually allocated.
func (h *Healer) GetTicket(payload []byte) ([]byte, uint32, bool, error) {
	records, err := ParseDetectRecords(payload)
	if err != nil {
		return nil, 0, false, err
	}

	bits := make([]byte, (len(records)+7)/8)
	var authentic []util.CoinRef
	for i, r := range records {
		ok, err := h.Store.Authenticate(r.d, r.serial, r.an)
		if err != nil {
			return nil, 0, false, fmt.Errorf("healing: get-ticket: %w", err)
		}
		if ok {
			bits[i/8] |= 1 << uint(i%8)
			authentic = append(authentic, util.CoinRef{Denom: r.d, Serial: r.serial})
		}
	}
	if len(authentic) == 0 {
		return bits, 0, false, nil
	}

	id, err := h.Tickets.IssueTicket(authentic)
	if err != nil {
		return bits, 0, false, fmt.Errorf("healing: get-ticket: %w", err)
	}
	return bits, id, true, nil
}

// ValidateTicket is the peer-facing handler: look up ticketID, ensure
// raidaID has not already claimed it, mark it claimed, and return its coin
// list (spec.md §4.J).
func (h *Healer) ValidateTicket(raidaID int, ticketID uint32) ([]util.CoinRef, statuscodes.Code) {
	slot, err := h.Tickets.GetTicketEntry(ticketID)
	if err != nil {
		return nil, statuscodes.ErrorNoTicketFound
	}
	defer h.Tickets.UnlockTicketEntry(slot)

	if err := h.Tickets.ClaimPeer(slot, raidaID); err != nil {
		return nil, statuscodes.ErrorTicketClaimedAlready
	}
	return slot.Coins(), statuscodes.StatusSuccess
}

// Find bit values, spec.md §4.J: 0x1 if stored AN matches current, 0x2 if
// it matches the proposed AN, 0x0 otherwise.
const (
	FindBitCurrent  byte = 0x1
	FindBitProposed byte = 0x2
)

type findRecord struct {
	d        int8
	serial   uint32
	current  [util.ANSize]byte
	proposed [util.ANSize]byte
}

const findRecordSize = 1 + 4 + util.ANSize + util.ANSize

// ParseFindRecords splits a Find payload into its (d, s, current, proposed)
// quadruples.
func ParseFindRecords(payload []byte) ([]findRecord, error) {
	if len(payload)%findRecordSize != 0 {
		return nil, fmt.Errorf("healing: find: payload length %d not a multiple of %d", len(payload), findRecordSize)
	}
	n := len(payload) / findRecordSize
	out := make([]findRecord, n)
	for i := 0; i < n; i++ {
		rec := payload[i*findRecordSize : (i+1)*findRecordSize]
		var cur, prop [util.ANSize]byte
		copy(cur[:], rec[5:5+util.ANSize])
		copy(prop[:], rec[5+util.ANSize:5+2*util.ANSize])
		out[i] = findRecord{d: int8(rec[0]), serial: util.ReadU32BE(rec[1:5]), current: cur, proposed: prop}
	}
	return out, nil
}

// Find tests each coin's stored AN against a current and proposed
// candidate, returning a per-coin bit (spec.md §4.J) and the aggregate
// FIND_ALL_AN / FIND_ALL_PAN / FIND_NEITHER / FIND_MIXED status.
func (h *Healer) Find(payload []byte) ([]byte, statuscodes.Code, error) {
	records, err := ParseFindRecords(payload)
	if err != nil {
		return nil, statuscodes.ErrorInvalidPacketLength, err
	}

	bits := make([]byte, len(records))
	allAN, allPAN, allNeither := true, true, true
	for i, r := range records {
		stored, err := h.Store.CurrentAN(r.d, r.serial)
		if err != nil {
			return nil, statuscodes.ErrorInternal, err
		}
		var bit byte
		switch {
		case stored == r.current:
			bit = FindBitCurrent
		case stored == r.proposed:
			bit = FindBitProposed
		}
		bits[i] = bit
		if bit != FindBitCurrent {
			allAN = false
		}
		if bit != FindBitProposed {
			allPAN = false
		}
		if bit != 0 {
			allNeither = false
		}
	}

	switch {
	case len(records) == 0 || allNeither:
		return bits, statuscodes.FindNeither, nil
	case allAN:
		return bits, statuscodes.FindAllAN, nil
	case allPAN:
		return bits, statuscodes.FindAllPAN, nil
	default:
		return bits, statuscodes.FindMixed, nil
	}
}

// Fix dispatches Validate-Ticket to every reachable peer in parallel (one
// goroutine per peer, each bounded by peer.RcvTimeout), tallies how many
// peers reported each coin present in their ticket, and repairs any coin
// that reaches quorum by rehashing its AN from (raida-id, d, s, pg)
// (spec.md §4.J). Returns a per-coin pass bitmap (bit set = the coin
// reached quorum and its AN was rewritten).
func (h *Healer) Fix(ctx context.Context, coins []util.CoinRef, pg [16]byte, ticketIDs [NumPeers]uint32, encryptionType byte) ([]byte, error) {
	tally := make(map[util.CoinRef]int, len(coins))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for raidaID := 0; raidaID < NumPeers; raidaID++ {
		addr := h.PeerAddresses[raidaID]
		ticketID := ticketIDs[raidaID]
		if addr == "" || ticketID == 0 {
			continue
		}
		wg.Add(1)
		go func(raidaID int, addr string, ticketID uint32) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, peer.RcvTimeout)
			defer cancel()

			peerCoins, err := h.PeerClient.ValidateTicket(callCtx, addr, byte(raidaID), ticketID)
			if err != nil {
				h.Log.WithError(err).WithField("peer", raidaID).Debug("healing: fix: peer contributed zero votes")
				return
			}
			have := make(map[util.CoinRef]bool, len(peerCoins))
			for _, c := range peerCoins {
				have[c] = true
			}

			mu.Lock()
			for _, c := range coins {
				if have[c] {
					tally[c]++
				}
			}
			mu.Unlock()
		}(raidaID, addr, ticketID)
	}
	wg.Wait()

	bits := make([]byte, (len(coins)+7)/8)
	for i, c := range coins {
		if tally[c] <= QuorumThreshold {
			continue
		}
		newAN := h.Store.RegenerateAN(c.Denom, c.Serial, pg, encryptionType)
		if err := h.Store.WriteCoin(c.Denom, c.Serial, newAN, util.MFS()); err != nil {
			return nil, fmt.Errorf("healing: fix: write coin (%d,%d): %w", c.Denom, c.Serial, err)
		}
		bits[i/8] |= 1 << uint(i%8)
	}
	return bits, nil
}
