package peer

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// validateTicketPayloadSize is 1-byte raida id + 4-byte ticket id
// (spec.md §4.J: "input = (our raida id, ticket id)").
const validateTicketPayloadSize = 5

// validateRecordSize is a (denomination, serial) pair as returned by a
// peer's Validate-Ticket response.
const validateRecordSize = 1 + 4

// Client issues Validate-Ticket calls against peer RAIDA nodes during
// healing's Fix step, over a Pool of reusable connections.
type Client struct {
	pool    *Pool
	coinID  uint16
	raidaID byte // this node's own raida id, placed in the request header
	log     *logrus.Logger
}

// NewClient constructs a Client that dials through pool, stamping outgoing
// requests with this node's coinID and raidaID.
func NewClient(pool *Pool, coinID uint16, raidaID byte, log *logrus.Logger) *Client {
	return &Client{pool: pool, coinID: coinID, raidaID: raidaID, log: log}
}

// ValidateTicket asks the peer at addr (itself identified as remoteRaidaID
// in the request header) to validate ticket ticketID on this node's
// behalf, returning the (d, s) pairs it held if not already claimed.
func (c *Client) ValidateTicket(ctx context.Context, addr string, remoteRaidaID byte, ticketID uint32) ([]util.CoinRef, error) {
	corrID := uuid.New().String()
	log := c.log.WithFields(logrus.Fields{"peer": addr, "ticket": ticketID, "corr_id": corrID})

	conn, err := c.pool.Acquire(ctx, addr)
	if err != nil {
		log.WithError(err).Debug("peer: acquire failed")
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(deadlineFromNow())
	}

	resp, err := c.call(conn, remoteRaidaID, ticketID)
	if err != nil {
		log.WithError(err).Debug("peer: call failed")
		c.pool.Discard(conn)
		return nil, err
	}
	c.pool.Release(conn)

	if resp.status == statuscodes.ErrorTicketClaimedAlready {
		return nil, fmt.Errorf("peer: %s: %w", addr, ErrAlreadyClaimed)
	}
	if resp.status == statuscodes.ErrorNoTicketFound {
		return nil, fmt.Errorf("peer: %s: %w", addr, ErrTicketNotFound)
	}
	if resp.status != statuscodes.StatusSuccess {
		return nil, fmt.Errorf("peer: %s: unexpected status %s", addr, resp.status)
	}
	return resp.coins, nil
}

type validateTicketResponse struct {
	status statuscodes.Code
	coins  []util.CoinRef
}

func (c *Client) call(conn net.Conn, remoteRaidaID byte, ticketID uint32) (*validateTicketResponse, error) {
	body := make([]byte, protocol.ChallengeSize+validateTicketPayloadSize+2)
	if err := util.RandomBytes(body[:protocol.ChallengeSize], protocol.ChallengeSize); err != nil {
		return nil, err
	}
	payload := body[protocol.ChallengeSize : protocol.ChallengeSize+validateTicketPayloadSize]
	payload[0] = c.raidaID
	util.WriteU32BE(payload[1:5], ticketID)
	copy(body[len(body)-2:], protocol.EndOfFrame[:])

	var nonce [8]byte
	if err := util.RandomBytes(nonce[:], len(nonce)); err != nil {
		return nil, err
	}
	h := &protocol.RequestHeader{
		RouterVersion:  1,
		RaidaID:        remoteRaidaID,
		CommandGroup:   byte(protocol.GroupHealing),
		CommandIndex:   protocol.CmdValidateTicket,
		CoinID:         c.coinID,
		EncryptionType: protocol.EncryptionNone,
		BodySize:       uint16(len(body)),
		RequestNonce:   nonce,
	}

	if _, err := conn.Write(h.Encode()); err != nil {
		return nil, fmt.Errorf("peer: write header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("peer: write body: %w", err)
	}

	respHeader := make([]byte, protocol.HeaderSize)
	if _, err := readFull(conn, respHeader); err != nil {
		return nil, fmt.Errorf("peer: read response header: %w", err)
	}
	status := statuscodes.Code(respHeader[0])
	bodyLen := util.ReadU32BE(respHeader[14:18])
	if bodyLen > protocol.MaxBodySize {
		return nil, fmt.Errorf("peer: response body length %d exceeds maximum", bodyLen)
	}
	respBody := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(conn, respBody); err != nil {
			return nil, fmt.Errorf("peer: read response body: %w", err)
		}
	}

	var coins []util.CoinRef
	if status == statuscodes.StatusSuccess {
		if len(respBody)%validateRecordSize != 0 {
			return nil, fmt.Errorf("peer: malformed validate-ticket response body of length %d", len(respBody))
		}
		n := len(respBody) / validateRecordSize
		coins = make([]util.CoinRef, n)
		for i := 0; i < n; i++ {
			rec := respBody[i*validateRecordSize : (i+1)*validateRecordSize]
			coins[i] = util.CoinRef{Denom: int8(rec[0]), Serial: util.ReadU32BE(rec[1:5])}
		}
	}
	return &validateTicketResponse{status: status, coins: coins}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
