package commands

import (
	"fmt"

	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

// StoreSum verifies a batch's stored-AN XOR-sum and, if it matches, sets
// every coin's AN to the locker AN and registers the batch in the locker
// index (spec.md §4.G).
func (s *Store) StoreSum(payload []byte) (statuscodes.Code, error) {
	if len(payload) < 2*util.ANSize || (len(payload)-2*util.ANSize)%SumRecordSize != 0 {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: store-sum: malformed payload of length %d", len(payload))
	}
	tail := payload[len(payload)-2*util.ANSize:]
	body := payload[:len(payload)-2*util.ANSize]
	var expected, lockerAN [util.ANSize]byte
	copy(expected[:], tail[:util.ANSize])
	copy(lockerAN[:], tail[util.ANSize:])

	for _, b := range lockerAN[util.ANSize-4:] {
		if b != LockerDiscriminator {
			return statuscodes.ErrorInvalidSNOrDenom, fmt.Errorf("commands: store-sum: locker AN missing 0xFF discriminator in last 4 bytes")
		}
	}

	n := len(body) / SumRecordSize
	coins := make([]util.CoinRef, n)
	var acc [util.ANSize]byte
	for i := 0; i < n; i++ {
		rec := body[i*SumRecordSize : (i+1)*SumRecordSize]
		d, serial := parseDenomSerial(rec)
		an, err := s.CurrentAN(d, serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		xorInto(&acc, an)
		coins[i] = util.CoinRef{Denom: d, Serial: serial}
	}
	if acc != expected {
		return statuscodes.StatusAllFail, nil
	}

	mfs := util.MFS()
	for _, c := range coins {
		if err := s.WriteCoin(c.Denom, c.Serial, lockerAN, mfs); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}
	s.Lockers.Add(lockerAN, coins)
	return statuscodes.StatusAllPass, nil
}

// removeRecordSize is one Remove request entry: 16-byte locker AN + 1-byte
// denomination + 4-byte serial + 16-byte new AN (spec.md §4.G).
const removeRecordSize = util.ANSize + 1 + 4 + util.ANSize

// Remove transfers coins out of their locker, writing each a client-chosen
// new AN and dropping it from the locker index (spec.md §4.G).
func (s *Store) Remove(payload []byte) ([]byte, statuscodes.Code, error) {
	if len(payload)%removeRecordSize != 0 {
		return nil, statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: remove: payload length %d not a multiple of %d", len(payload), removeRecordSize)
	}
	n := len(payload) / removeRecordSize
	bits := make([]byte, (n+7)/8)
	passed := 0

	for i := 0; i < n; i++ {
		rec := payload[i*removeRecordSize : (i+1)*removeRecordSize]
		var lockerAN [util.ANSize]byte
		copy(lockerAN[:], rec[:util.ANSize])
		d := int8(rec[util.ANSize])
		serial := util.ReadU32BE(rec[util.ANSize+1 : util.ANSize+5])
		var newAN [util.ANSize]byte
		copy(newAN[:], rec[util.ANSize+5:])

		coin := util.CoinRef{Denom: d, Serial: serial}
		if !s.Lockers.Remove(lockerAN, coin) {
			continue
		}
		if err := s.WriteCoin(d, serial, newAN, util.MFS()); err != nil {
			return nil, statuscodes.ErrorInternal, err
		}
		bits[i/8] |= 1 << uint(i%8)
		passed++
	}
	return bits, statuscodes.BitmapStatus(n, passed), nil
}

// Peek returns locker AN's coin list (spec.md §4.G).
func (s *Store) Peek(an [util.ANSize]byte) ([]util.CoinRef, bool) {
	return s.Lockers.Peek(an)
}

// PeekTradeLocker returns trade-locker AN's coin list (spec.md §4.G).
func (s *Store) PeekTradeLocker(an [util.ANSize]byte) ([]util.CoinRef, bool) {
	return s.TradeLockers.Peek(an)
}

// PutForSale is StoreSum with the coins registered in the trade-locker
// index instead, keyed by an AN whose byte 14 must carry the 0xEE
// discriminator; byte 15 is the currency code and bytes 10-13 the
// big-endian price (spec.md §4.G).
func (s *Store) PutForSale(payload []byte) (statuscodes.Code, error) {
	if len(payload) < 2*util.ANSize || (len(payload)-2*util.ANSize)%SumRecordSize != 0 {
		return statuscodes.ErrorInvalidPacketLength, fmt.Errorf("commands: put-for-sale: malformed payload of length %d", len(payload))
	}
	tail := payload[len(payload)-2*util.ANSize:]
	body := payload[:len(payload)-2*util.ANSize]
	var expected, tradeAN [util.ANSize]byte
	copy(expected[:], tail[:util.ANSize])
	copy(tradeAN[:], tail[util.ANSize:])

	if tradeAN[util.ANSize-2] != TradeLockerDiscriminator {
		return statuscodes.ErrorInvalidSNOrDenom, fmt.Errorf("commands: put-for-sale: trade-locker AN missing 0xEE discriminator")
	}
	currency := tradeAN[util.ANSize-1]
	price := uint32(tradeAN[util.ANSize-6])<<24 | uint32(tradeAN[util.ANSize-5])<<16 |
		uint32(tradeAN[util.ANSize-4])<<8 | uint32(tradeAN[util.ANSize-3])

	n := len(body) / SumRecordSize
	coins := make([]util.CoinRef, n)
	var acc [util.ANSize]byte
	for i := 0; i < n; i++ {
		rec := body[i*SumRecordSize : (i+1)*SumRecordSize]
		d, serial := parseDenomSerial(rec)
		an, err := s.CurrentAN(d, serial)
		if err != nil {
			return statuscodes.ErrorInternal, err
		}
		xorInto(&acc, an)
		coins[i] = util.CoinRef{Denom: d, Serial: serial}
	}
	if acc != expected {
		return statuscodes.StatusAllFail, nil
	}

	mfs := util.MFS()
	for _, c := range coins {
		if err := s.WriteCoin(c.Denom, c.Serial, tradeAN, mfs); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}
	s.TradeLockers.AddTrade(tradeAN, coins, currency, price)
	return statuscodes.StatusAllPass, nil
}

// ListForSale scans the trade-locker index for entries matching currency
// (spec.md §4.G).
func (s *Store) ListForSale(currency byte, max int) []tradeSaleRecord {
	return s.TradeLockers.ListForSale(currency, max)
}

// Buy locates a trade-locker matching (currency, amount, price) exactly
// and transfers its coins to the buyer's locker (spec.md §4.G).
func (s *Store) Buy(buyerLockerAN [util.ANSize]byte, currency byte, amount uint64, price uint32) (statuscodes.Code, error) {
	tradeAN, found := s.TradeLockers.FindTradeMatch(currency, amount, price)
	if !found {
		return statuscodes.ErrorInvalidSNOrDenom, nil
	}
	entry, ok := s.TradeLockers.Take(tradeAN)
	if !ok {
		return statuscodes.ErrorInternal, fmt.Errorf("commands: buy: trade-locker vanished between lookup and take")
	}

	for _, c := range entry.coins {
		if err := s.WriteCoin(c.Denom, c.Serial, buyerLockerAN, util.MFS()); err != nil {
			return statuscodes.ErrorInternal, err
		}
	}
	s.Lockers.Add(buyerLockerAN, entry.coins)
	return statuscodes.StatusSuccess, nil
}

// RemoveTradeLocker deletes a trade-locker wholesale without paying out,
// used by a seller cancelling a listing (spec.md §4.G: "Remove-Trade-Locker
// ... operate on the trade index analogously" to Remove).
func (s *Store) RemoveTradeLocker(an [util.ANSize]byte) bool {
	_, ok := s.TradeLockers.Take(an)
	return ok
}

// MultiStoreSum runs a batch of independent StoreSum operations, reporting
// one status per locker plus an overall ALL-PASS/ALL-FAIL/MIXED
// (spec.md §4.G).
func (s *Store) MultiStoreSum(lockers [][]byte) ([]statuscodes.Code, statuscodes.Code, error) {
	results := make([]statuscodes.Code, len(lockers))
	passed := 0
	for i, payload := range lockers {
		status, err := s.StoreSum(payload)
		if err != nil {
			return nil, statuscodes.ErrorInternal, fmt.Errorf("commands: multi-store-sum: locker %d: %w", i, err)
		}
		results[i] = status
		if status == statuscodes.StatusAllPass {
			passed++
		}
	}
	return results, statuscodes.BitmapStatus(len(lockers), passed), nil
}
