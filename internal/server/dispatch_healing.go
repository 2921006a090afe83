package server

import (
	"context"
	"errors"
	"math/bits"

	"github.com/raida-consortium/raida-server/internal/healing"
	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// validateTicketRequestSize is Validate-Ticket's own request payload: the
// caller's raida id plus the ticket id it was issued (spec.md §4.J names
// the operation but not its wire shape).
const validateTicketRequestSize = 1 + 4

// fixRequestHeaderSize is the byte total of Fix's fixed-size fields: coin
// count (2 bytes), proposed-generator (16 bytes), encryption type (1 byte).
// On the wire the coin list sits between the count and the
// proposed-generator, and the 25 ticket ids come last.
const fixRequestHeaderSize = 2 + 16 + 1
const fixCoinRecordSize = 1 + 4

var errShortFixPayload = errors.New("server: fix: malformed payload")

func (d *Dispatcher) dispatchHealing(ctx context.Context, index byte, payload []byte) (statuscodes.Code, []byte) {
	switch index {
	case protocol.CmdGetTicket:
		bitmap, ticketID, issued, err := d.Healer.GetTicket(payload)
		if err != nil {
			d.logFailure("get-ticket", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		body := make([]byte, len(bitmap)+4)
		copy(body, bitmap)
		if issued {
			util.WriteU32BE(body[len(bitmap):], ticketID)
			if d.Metrics != nil {
				d.Metrics.IncTicketsIssued()
			}
		}
		return statuscodes.StatusSuccess, body

	case protocol.CmdValidateTicket:
		if len(payload) != validateTicketRequestSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		raidaID := int(payload[0])
		ticketID := util.ReadU32BE(payload[1:5])
		coins, status := d.Healer.ValidateTicket(raidaID, ticketID)
		if status != statuscodes.StatusSuccess {
			return status, nil
		}
		return status, encodeCoinRefs(coins)

	case protocol.CmdFind:
		bitmap, status, err := d.Healer.Find(payload)
		if err != nil {
			d.logFailure("find", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return status, bitmap

	case protocol.CmdFix:
		return d.dispatchFix(ctx, payload)

	default:
		return statuscodes.ErrorInvalidCommand, nil
	}
}

// dispatchFix parses Fix's own payload shape — coin count, coin list,
// proposed-generator, the client's encryption-type advertisement for AN
// regeneration, and the 25-peer ticket-id table — and runs the quorum
// vote via internal/healing.
func (d *Dispatcher) dispatchFix(ctx context.Context, payload []byte) (statuscodes.Code, []byte) {
	if len(payload) < fixRequestHeaderSize {
		d.logFailure("fix", errShortFixPayload)
		return statuscodes.ErrorInvalidPacketLength, nil
	}
	count := int(util.ReadU16BE(payload[:2]))
	off := 2
	coinsEnd := off + count*fixCoinRecordSize
	want := coinsEnd + 16 + 1 + 4*healing.NumPeers
	if len(payload) != want {
		d.logFailure("fix", errShortFixPayload)
		return statuscodes.ErrorInvalidPacketLength, nil
	}

	coins := make([]util.CoinRef, count)
	for i := range coins {
		rec := payload[off+i*fixCoinRecordSize : off+(i+1)*fixCoinRecordSize]
		coins[i] = util.CoinRef{Denom: int8(rec[0]), Serial: util.ReadU32BE(rec[1:5])}
	}

	var pg [16]byte
	copy(pg[:], payload[coinsEnd:coinsEnd+16])
	encType := payload[coinsEnd+16]

	var ticketIDs [healing.NumPeers]uint32
	ticketOff := coinsEnd + 16 + 1
	for i := range ticketIDs {
		ticketIDs[i] = util.ReadU32BE(payload[ticketOff+4*i : ticketOff+4*i+4])
	}

	bitmap, err := d.Healer.Fix(ctx, coins, pg, ticketIDs, encType)
	if err != nil {
		d.logFailure("fix", err)
		return statuscodes.ErrorInternal, nil
	}
	if d.Metrics != nil {
		d.Metrics.AddFixQuorumWins(countSetBits(bitmap, len(coins)))
	}
	return statuscodes.StatusSuccess, bitmap
}

// countSetBits reports how many of the first n coins a Fix bitmap marks as
// repaired (bit value 1 = pass), for the fix-quorum-wins counter.
func countSetBits(bitmap []byte, n int) int {
	full := n / 8
	total := 0
	for i := 0; i < full && i < len(bitmap); i++ {
		total += bits.OnesCount8(bitmap[i])
	}
	for i := full * 8; i < n && i/8 < len(bitmap); i++ {
		total += int(bitmap[i/8]>>uint(i%8)) & 1
	}
	return total
}
