package commands

import (
	"testing"

	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

func newLockerStore(t *testing.T) *Store {
	s := newTestStore(t)
	s.Lockers = NewLockerIndex()
	s.TradeLockers = NewLockerIndex()
	return s
}

func sumRecord(d int8, serial uint32) []byte {
	rec := make([]byte, SumRecordSize)
	rec[0] = byte(d)
	util.WriteU32BE(rec[1:5], serial)
	return rec
}

func lockerAN(tag byte) [util.ANSize]byte {
	an := anOf(0x01)
	for i := util.ANSize - 4; i < util.ANSize; i++ {
		an[i] = tag
	}
	return an
}

func TestStoreSumRegistersLocker(t *testing.T) {
	s := newLockerStore(t)
	an1 := anOf(0xAA)
	an2 := anOf(0xBB)
	setCoin(t, s, 0, 1, an1, 1)
	setCoin(t, s, 0, 2, an2, 1)

	var sum [util.ANSize]byte
	xorInto(&sum, an1)
	xorInto(&sum, an2)

	lan := lockerAN(LockerDiscriminator)
	payload := append(append(append([]byte{}, sumRecord(0, 1)...), sumRecord(0, 2)...), append(sum[:], lan[:]...)...)

	status, err := s.StoreSum(payload)
	if err != nil {
		t.Fatalf("StoreSum: %v", err)
	}
	if status != statuscodes.StatusAllPass {
		t.Fatalf("status %v", status)
	}

	coins, ok := s.Peek(lan)
	if !ok || len(coins) != 2 {
		t.Fatalf("expected 2 coins registered under locker, got %+v ok=%v", coins, ok)
	}

	got, err := s.CurrentAN(0, 1)
	if err != nil {
		t.Fatalf("currentAN: %v", err)
	}
	if got != lan {
		t.Fatalf("coin AN should now equal the locker AN")
	}
}

func TestRemoveFromLocker(t *testing.T) {
	s := newLockerStore(t)
	lan := lockerAN(LockerDiscriminator)
	s.Lockers.Add(lan, []util.CoinRef{{Denom: 0, Serial: 5}})
	setCoin(t, s, 0, 5, lan, 3)

	newAN := anOf(0x77)
	rec := make([]byte, removeRecordSize)
	copy(rec[:util.ANSize], lan[:])
	rec[util.ANSize] = 0
	util.WriteU32BE(rec[util.ANSize+1:util.ANSize+5], 5)
	copy(rec[util.ANSize+5:], newAN[:])

	bits, status, err := s.Remove(rec)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if status != statuscodes.StatusAllPass {
		t.Fatalf("status %v", status)
	}
	if bits[0]&1 == 0 {
		t.Fatalf("expected pass bit")
	}
	if _, ok := s.Peek(lan); ok {
		t.Fatalf("locker should be freed once empty")
	}

	got, err := s.CurrentAN(0, 5)
	if err != nil {
		t.Fatalf("currentAN: %v", err)
	}
	if got != newAN {
		t.Fatalf("coin AN should be updated to newAN")
	}
}

func TestPutForSaleListForSaleAndBuy(t *testing.T) {
	s := newLockerStore(t)
	an1 := anOf(0x10)
	setCoin(t, s, 3, 7, an1, 1)

	var sum [util.ANSize]byte
	xorInto(&sum, an1)

	tradeAN := anOf(0)
	tradeAN[util.ANSize-1] = 7  // currency code
	tradeAN[util.ANSize-2] = TradeLockerDiscriminator
	util.WriteU32BE(tradeAN[util.ANSize-6:util.ANSize-2], 500) // price

	payload := append(append([]byte{}, sumRecord(3, 7)...), append(sum[:], tradeAN[:]...)...)
	status, err := s.PutForSale(payload)
	if err != nil {
		t.Fatalf("PutForSale: %v", err)
	}
	if status != statuscodes.StatusAllPass {
		t.Fatalf("status %v", status)
	}

	listed := s.ListForSale(7, 10)
	if len(listed) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(listed))
	}
	want := util.CoinValue(3, 7)
	if listed[0].value != want {
		t.Fatalf("got value %d want %d", listed[0].value, want)
	}

	buyerLocker := lockerAN(LockerDiscriminator)
	buyStatus, err := s.Buy(buyerLocker, 7, want, 500)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if buyStatus != statuscodes.StatusSuccess {
		t.Fatalf("status %v", buyStatus)
	}

	coins, ok := s.Peek(buyerLocker)
	if !ok || len(coins) != 1 {
		t.Fatalf("expected coin transferred to buyer locker, got %+v ok=%v", coins, ok)
	}
	if listed2 := s.ListForSale(7, 10); len(listed2) != 0 {
		t.Fatalf("trade-locker should be removed after purchase")
	}
}

func TestMultiStoreSumAggregateStatus(t *testing.T) {
	s := newLockerStore(t)
	an1 := anOf(0x01)
	setCoin(t, s, 0, 1, an1, 1)

	var sum [util.ANSize]byte
	xorInto(&sum, an1)
	lan := lockerAN(LockerDiscriminator)
	goodPayload := append(append([]byte{}, sumRecord(0, 1)...), append(sum[:], lan[:]...)...)

	var badSum [util.ANSize]byte
	badSum[0] = 0xFF
	badPayload := append(append([]byte{}, sumRecord(0, 1)...), append(badSum[:], lan[:]...)...)

	results, overall, err := s.MultiStoreSum([][]byte{goodPayload, badPayload})
	if err != nil {
		t.Fatalf("MultiStoreSum: %v", err)
	}
	if results[0] != statuscodes.StatusAllPass || results[1] != statuscodes.StatusAllFail {
		t.Fatalf("got %v", results)
	}
	if overall != statuscodes.StatusMixed {
		t.Fatalf("overall status %v", overall)
	}
}
