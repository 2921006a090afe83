package commands

import (
	"sync"

	"github.com/raida-consortium/raida-server/internal/util"
)

// LockerDiscriminator and TradeLockerDiscriminator are the format-tag
// bytes distinguishing a plain locker AN from a trade-locker AN (spec.md
// §3: "0xFF sentinel for lockers; 0xEE for trade lockers"). StoreSum
// requires LockerDiscriminator in all of the AN's last 4 bytes (spec.md
// §4.G: "last 4 bytes MUST be 0xFF"); PutForSale checks TradeLockerDiscriminator
// only at byte 14 (its last 2 bytes encode currency + carry this tag).
const (
	LockerDiscriminator      byte = 0xFF
	TradeLockerDiscriminator byte = 0xEE
)

// lockerEntry is one locker index record: its coin list, and — for
// trade-lockers only — the currency code and asking price encoded
// alongside it (spec.md §4.G: "the locker AN encodes currency type ...
// and price").
type lockerEntry struct {
	coins    []util.CoinRef
	currency byte
	price    uint32
}

// LockerIndex maps a 16-byte locker AN to its owned coin list. spec.md §3
// calls for two independent instances: the regular locker index and the
// trade-locker index.
type LockerIndex struct {
	mu      sync.Mutex
	entries map[[util.ANSize]byte]*lockerEntry
}

// NewLockerIndex constructs an empty index.
func NewLockerIndex() *LockerIndex {
	return &LockerIndex{entries: make(map[[util.ANSize]byte]*lockerEntry)}
}

// Add registers coins under locker an, appending to any existing entry
// (spec.md §4.G: "incremental add").
func (li *LockerIndex) Add(an [util.ANSize]byte, coins []util.CoinRef) {
	li.mu.Lock()
	defer li.mu.Unlock()
	e, ok := li.entries[an]
	if !ok {
		e = &lockerEntry{}
		li.entries[an] = e
	}
	e.coins = append(e.coins, coins...)
}

// AddTrade registers coins under trade-locker an with its currency and
// price metadata.
func (li *LockerIndex) AddTrade(an [util.ANSize]byte, coins []util.CoinRef, currency byte, price uint32) {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.entries[an] = &lockerEntry{coins: append([]util.CoinRef(nil), coins...), currency: currency, price: price}
}

// Peek returns locker an's coin list, or ok=false if it does not exist
// (spec.md §4.G Peek/Peek-Trade-Locker).
func (li *LockerIndex) Peek(an [util.ANSize]byte) ([]util.CoinRef, bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	e, ok := li.entries[an]
	if !ok {
		return nil, false
	}
	return append([]util.CoinRef(nil), e.coins...), true
}

// Remove deletes one coin from locker an's list, reporting whether it was
// found. An entry that becomes empty is freed (spec.md §4.G: "Locker index
// entries that become empty are freed").
func (li *LockerIndex) Remove(an [util.ANSize]byte, coin util.CoinRef) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	e, ok := li.entries[an]
	if !ok {
		return false
	}
	for i, c := range e.coins {
		if c == coin {
			e.coins = append(e.coins[:i], e.coins[i+1:]...)
			if len(e.coins) == 0 {
				delete(li.entries, an)
			}
			return true
		}
	}
	return false
}

// Take removes and returns locker an's entire entry, used by Buy to
// transfer a trade-locker's contents atomically.
func (li *LockerIndex) Take(an [util.ANSize]byte) (*lockerEntry, bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	e, ok := li.entries[an]
	if ok {
		delete(li.entries, an)
	}
	return e, ok
}

// tradeSaleRecord is one List-for-Sale response entry (spec.md §4.G:
// "29-byte records {locker AN (16) || currency (1) || value (8 BE) ||
// price (4 BE)}").
type tradeSaleRecord struct {
	an       [util.ANSize]byte
	currency byte
	value    uint64
	price    uint32
}

// Encode serializes r into its 29-byte wire form, for internal/server's
// List-for-Sale response assembly.
func (r tradeSaleRecord) Encode() []byte {
	out := make([]byte, util.ANSize+1+8+4)
	copy(out[:util.ANSize], r.an[:])
	out[util.ANSize] = r.currency
	util.WriteU64BE(out[util.ANSize+1:util.ANSize+9], r.value)
	util.WriteU32BE(out[util.ANSize+9:], r.price)
	return out
}

// ListForSale snapshots up to max trade-locker entries matching currency,
// each annotated with its total coin value.
func (li *LockerIndex) ListForSale(currency byte, max int) []tradeSaleRecord {
	li.mu.Lock()
	defer li.mu.Unlock()

	out := make([]tradeSaleRecord, 0, max)
	for an, e := range li.entries {
		if e.currency != currency || len(out) >= max {
			continue
		}
		var value uint64
		for _, c := range e.coins {
			value += util.CoinValue(c.Denom, c.Serial)
		}
		out = append(out, tradeSaleRecord{an: an, currency: e.currency, value: value, price: e.price})
	}
	return out
}

// FindTradeMatch locates a trade-locker whose currency, total coin value,
// and price match exactly (spec.md §4.G Buy).
func (li *LockerIndex) FindTradeMatch(currency byte, amount uint64, price uint32) ([util.ANSize]byte, bool) {
	li.mu.Lock()
	defer li.mu.Unlock()

	for an, e := range li.entries {
		if e.currency != currency || e.price != price {
			continue
		}
		var value uint64
		for _, c := range e.coins {
			value += util.CoinValue(c.Denom, c.Serial)
		}
		if value == amount {
			return an, true
		}
	}
	return [util.ANSize]byte{}, false
}
