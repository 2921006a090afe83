package server

import (
	"errors"

	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// errShortMultiStore reports a malformed Multi-Store-Sum batch envelope.
var errShortMultiStore = errors.New("server: multi-store-sum: malformed batch envelope")

// coinRefRecordSize is the wire size of a (denomination, serial) pair as
// used by Peek/Peek-Trade-Locker responses.
const coinRefRecordSize = 1 + 4

// lockerANRecordSize is a bare 16-byte locker AN, used by Peek,
// Peek-Trade-Locker and Remove-Trade-Locker's request payloads.
const lockerANRecordSize = util.ANSize

// buyRequestSize is Buy's request payload: buyer locker AN + currency +
// expected amount + price (spec.md §4.G).
const buyRequestSize = util.ANSize + 1 + 8 + 4

// listForSaleRequestSize is List-for-Sale's request payload: currency code
// + max result count (spec.md §4.G).
const listForSaleRequestSize = 1 + 2

func (d *Dispatcher) dispatchLocker(index byte, payload []byte) (statuscodes.Code, []byte) {
	switch index {
	case protocol.CmdStoreSum:
		status, err := d.Store.StoreSum(payload)
		if err != nil {
			d.logFailure("store-sum", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return status, nil

	case protocol.CmdRemove:
		bits, status, err := d.Store.Remove(payload)
		if err != nil {
			d.logFailure("remove", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return bodyOnMixed(status, bits)

	case protocol.CmdPeek:
		if len(payload) != lockerANRecordSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		var an [util.ANSize]byte
		copy(an[:], payload)
		coins, ok := d.Store.Peek(an)
		if !ok {
			return statuscodes.ErrorInvalidSNOrDenom, nil
		}
		return statuscodes.StatusSuccess, encodeCoinRefs(coins)

	case protocol.CmdPutForSale:
		status, err := d.Store.PutForSale(payload)
		if err != nil {
			d.logFailure("put-for-sale", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return status, nil

	case protocol.CmdListForSale:
		if len(payload) != listForSaleRequestSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		currency := payload[0]
		max := int(util.ReadU16BE(payload[1:3]))
		records := d.Store.ListForSale(currency, max)
		body := make([]byte, 0, 29*len(records))
		for _, r := range records {
			body = append(body, r.Encode()...)
		}
		return statuscodes.StatusSuccess, body

	case protocol.CmdBuy:
		if len(payload) != buyRequestSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		var buyerAN [util.ANSize]byte
		copy(buyerAN[:], payload[:util.ANSize])
		currency := payload[util.ANSize]
		amount := util.ReadU64BE(payload[util.ANSize+1 : util.ANSize+9])
		price := util.ReadU32BE(payload[util.ANSize+9:])
		status, err := d.Store.Buy(buyerAN, currency, amount, price)
		if err != nil {
			d.logFailure("buy", err)
			return statuscodes.ErrorInternal, nil
		}
		return status, nil

	case protocol.CmdRemoveTradeLocker:
		if len(payload) != lockerANRecordSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		var an [util.ANSize]byte
		copy(an[:], payload)
		if !d.Store.RemoveTradeLocker(an) {
			return statuscodes.ErrorInvalidSNOrDenom, nil
		}
		return statuscodes.StatusSuccess, nil

	case protocol.CmdPeekTradeLocker:
		if len(payload) != lockerANRecordSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		var an [util.ANSize]byte
		copy(an[:], payload)
		coins, ok := d.Store.PeekTradeLocker(an)
		if !ok {
			return statuscodes.ErrorInvalidSNOrDenom, nil
		}
		return statuscodes.StatusSuccess, encodeCoinRefs(coins)

	case protocol.CmdMultiStoreSum:
		lockers, err := splitMultiStorePayload(payload)
		if err != nil {
			d.logFailure("multi-store-sum", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		statuses, overall, err := d.Store.MultiStoreSum(lockers)
		if err != nil {
			d.logFailure("multi-store-sum", err)
			return statuscodes.ErrorInternal, nil
		}
		body := make([]byte, len(statuses))
		for i, s := range statuses {
			body[i] = byte(s)
		}
		return overall, body

	default:
		return statuscodes.ErrorInvalidCommand, nil
	}
}

func encodeCoinRefs(coins []util.CoinRef) []byte {
	body := make([]byte, coinRefRecordSize*len(coins))
	for i, c := range coins {
		off := i * coinRefRecordSize
		body[off] = byte(c.Denom)
		util.WriteU32BE(body[off+1:off+5], c.Serial)
	}
	return body
}

// splitMultiStorePayload parses Multi-Store-Sum's own length-prefixed batch
// framing: a 2-byte locker count, then for each locker a 2-byte length
// followed by that many bytes of StoreSum payload (spec.md §4.G names the
// operation but not its batch envelope — this implementation's own wire
// contract, like the (group,index) numbering in internal/protocol).
func splitMultiStorePayload(payload []byte) ([][]byte, error) {
	if len(payload) < 2 {
		return nil, errShortMultiStore
	}
	count := int(util.ReadU16BE(payload[:2]))
	out := make([][]byte, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		if off+2 > len(payload) {
			return nil, errShortMultiStore
		}
		n := int(util.ReadU16BE(payload[off : off+2]))
		off += 2
		if off+n > len(payload) {
			return nil, errShortMultiStore
		}
		out = append(out, payload[off:off+n])
		off += n
	}
	return out, nil
}
