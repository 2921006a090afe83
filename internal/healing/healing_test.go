package healing

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/freebitmap"
	"github.com/raida-consortium/raida-server/internal/pagecache"
	"github.com/raida-consortium/raida-server/internal/peer"
	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/ticketpool"
	"github.com/raida-consortium/raida-server/internal/util"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestHealer(t *testing.T) *Healer {
	t.Helper()
	dir := t.TempDir()
	bm := freebitmap.New()
	cache, err := pagecache.New(dir, bm, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("pagecache.New: %v", err)
	}
	store := &commands.Store{
		Pages:        cache,
		Bitmap:       bm,
		RaidaID:      7,
		Lockers:      commands.NewLockerIndex(),
		TradeLockers: commands.NewLockerIndex(),
	}
	return &Healer{
		Store:   store,
		Tickets: ticketpool.New(),
		Log:     testLogger(),
	}
}

func anOf(b byte) [util.ANSize]byte {
	var an [util.ANSize]byte
	for i := range an {
		an[i] = b
	}
	return an
}

func TestGetTicketIssuesOnlyForAuthenticCoins(t *testing.T) {
	h := newTestHealer(t)
	good := anOf(0xAB)
	bad := anOf(0xCD)
	if err := h.Store.WriteCoin(0, 1, good, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}
	if err := h.Store.WriteCoin(0, 2, good, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}

	payload := append(append([]byte{}, detectionRecord(0, 1, good)...), detectionRecord(0, 2, bad)...)
	bits, ticketID, issued, err := h.GetTicket(payload)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if !issued {
		t.Fatalf("expected a ticket to be issued")
	}
	if bits[0] != 0x1 {
		t.Fatalf("got bits %08b want bit0 set only", bits[0])
	}

	slot, err := h.Tickets.GetTicketEntry(ticketID)
	if err != nil {
		t.Fatalf("GetTicketEntry: %v", err)
	}
	defer h.Tickets.UnlockTicketEntry(slot)
	coins := slot.Coins()
	if len(coins) != 1 || coins[0].Serial != 1 {
		t.Fatalf("got coins %+v", coins)
	}
}

func TestGetTicketNoneAuthenticIssuesNoTicket(t *testing.T) {
	h := newTestHealer(t)
	bad := anOf(0xCD)
	payload := detectionRecord(0, 1, bad)
	bits, ticketID, issued, err := h.GetTicket(payload)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if issued || ticketID != 0 {
		t.Fatalf("expected no ticket issued, got id=%d issued=%v", ticketID, issued)
	}
	if bits[0] != 0 {
		t.Fatalf("expected zero bits, got %08b", bits[0])
	}
}

func detectionRecord(d int8, serial uint32, an [util.ANSize]byte) []byte {
	rec := make([]byte, commands.DetectionRecordSize)
	rec[0] = byte(d)
	util.WriteU32BE(rec[1:5], serial)
	copy(rec[5:], an[:])
	return rec
}

func TestValidateTicketClaimAndDoubleClaim(t *testing.T) {
	h := newTestHealer(t)
	id, err := h.Tickets.IssueTicket([]util.CoinRef{{Denom: 1, Serial: 9}})
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}

	coins, status := h.ValidateTicket(3, id)
	if status != statuscodes.StatusSuccess {
		t.Fatalf("status %v", status)
	}
	if len(coins) != 1 || coins[0].Serial != 9 {
		t.Fatalf("got %+v", coins)
	}

	_, status = h.ValidateTicket(3, id)
	if status != statuscodes.ErrorTicketClaimedAlready {
		t.Fatalf("expected ErrorTicketClaimedAlready, got %v", status)
	}
}

func TestValidateTicketNotFound(t *testing.T) {
	h := newTestHealer(t)
	_, status := h.ValidateTicket(0, 999999)
	if status != statuscodes.ErrorNoTicketFound {
		t.Fatalf("got %v", status)
	}
}

func findRecord(d int8, serial uint32, current, proposed [util.ANSize]byte) []byte {
	rec := make([]byte, findRecordSize)
	rec[0] = byte(d)
	util.WriteU32BE(rec[1:5], serial)
	copy(rec[5:5+util.ANSize], current[:])
	copy(rec[5+util.ANSize:], proposed[:])
	return rec
}

func TestFindAllCurrentAN(t *testing.T) {
	h := newTestHealer(t)
	cur := anOf(0x11)
	prop := anOf(0x22)
	if err := h.Store.WriteCoin(0, 1, cur, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}

	bits, status, err := h.Find(findRecord(0, 1, cur, prop))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if status != statuscodes.FindAllAN {
		t.Fatalf("status %v", status)
	}
	if bits[0] != FindBitCurrent {
		t.Fatalf("bits %08b", bits[0])
	}
}

func TestFindAllProposedAN(t *testing.T) {
	h := newTestHealer(t)
	cur := anOf(0x11)
	prop := anOf(0x22)
	if err := h.Store.WriteCoin(0, 1, prop, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}

	_, status, err := h.Find(findRecord(0, 1, cur, prop))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if status != statuscodes.FindAllPAN {
		t.Fatalf("status %v", status)
	}
}

func TestFindNeitherAndMixed(t *testing.T) {
	h := newTestHealer(t)
	cur := anOf(0x11)
	prop := anOf(0x22)
	other := anOf(0x99)
	if err := h.Store.WriteCoin(0, 1, other, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}
	_, status, err := h.Find(findRecord(0, 1, cur, prop))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if status != statuscodes.FindNeither {
		t.Fatalf("status %v", status)
	}

	if err := h.Store.WriteCoin(0, 2, cur, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}
	mixed := append(append([]byte{}, findRecord(0, 1, cur, prop)...), findRecord(0, 2, cur, prop)...)
	_, status, err = h.Find(mixed)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if status != statuscodes.FindMixed {
		t.Fatalf("status %v", status)
	}
}

// fakePeer listens once and replies with a fixed coin list for every
// Validate-Ticket request it receives, simulating one RAIDA peer's vote.
func fakePeer(t *testing.T, coins []util.CoinRef) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		hdr := make([]byte, protocol.HeaderSize)
		if _, err := readFullTest(conn, hdr); err != nil {
			return
		}
		bodyLen := util.ReadU16BE(hdr[22:24])
		body := make([]byte, bodyLen)
		readFullTest(conn, body)

		respBody := make([]byte, 0, len(coins)*5)
		for _, c := range coins {
			rec := make([]byte, 5)
			rec[0] = byte(c.Denom)
			util.WriteU32BE(rec[1:5], c.Serial)
			respBody = append(respBody, rec...)
		}
		respHeader := make([]byte, protocol.HeaderSize)
		respHeader[0] = byte(statuscodes.StatusSuccess)
		util.WriteU32BE(respHeader[14:18], uint32(len(respBody)))
		conn.Write(respHeader)
		conn.Write(respBody)
	}()
	return ln.Addr().String()
}

func readFullTest(conn net.Conn, buf []byte) (int, error) {
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

func TestFixRepairsCoinThatReachesQuorum(t *testing.T) {
	h := newTestHealer(t)
	coin := util.CoinRef{Denom: 0, Serial: 1}
	oldAN := anOf(0x01)
	if err := h.Store.WriteCoin(coin.Denom, coin.Serial, oldAN, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}

	pool := peer.NewPool(peer.NewDialer(time.Second, 0), 8, time.Hour)
	defer pool.Close()
	h.PeerClient = peer.NewClient(pool, 1, 7, testLogger())

	var ticketIDs [NumPeers]uint32
	// 14 peers (> 13 quorum) vote the coin present; the rest are silent.
	for i := 0; i < 14; i++ {
		addr := fakePeer(t, []util.CoinRef{coin})
		h.PeerAddresses[i] = addr
		ticketIDs[i] = uint32(i + 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var pg [16]byte
	bits, err := h.Fix(ctx, []util.CoinRef{coin}, pg, ticketIDs, 0)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if bits[0]&1 == 0 {
		t.Fatalf("expected coin to reach quorum and be repaired")
	}

	newAN, err := h.Store.CurrentAN(coin.Denom, coin.Serial)
	if err != nil {
		t.Fatalf("CurrentAN: %v", err)
	}
	if newAN == oldAN {
		t.Fatalf("AN should have been regenerated")
	}
}

func TestFixDoesNotRepairBelowQuorum(t *testing.T) {
	h := newTestHealer(t)
	coin := util.CoinRef{Denom: 0, Serial: 1}
	oldAN := anOf(0x01)
	if err := h.Store.WriteCoin(coin.Denom, coin.Serial, oldAN, 5); err != nil {
		t.Fatalf("WriteCoin: %v", err)
	}

	pool := peer.NewPool(peer.NewDialer(time.Second, 0), 8, time.Hour)
	defer pool.Close()
	h.PeerClient = peer.NewClient(pool, 1, 7, testLogger())

	var ticketIDs [NumPeers]uint32
	// Only 5 peers vote present, short of the 14 votes quorum needs.
	for i := 0; i < 5; i++ {
		addr := fakePeer(t, []util.CoinRef{coin})
		h.PeerAddresses[i] = addr
		ticketIDs[i] = uint32(i + 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var pg [16]byte
	bits, err := h.Fix(ctx, []util.CoinRef{coin}, pg, ticketIDs, 0)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if bits[0]&1 != 0 {
		t.Fatalf("coin should not have reached quorum")
	}

	sameAN, err := h.Store.CurrentAN(coin.Denom, coin.Serial)
	if err != nil {
		t.Fatalf("CurrentAN: %v", err)
	}
	if sameAN != oldAN {
		t.Fatalf("AN should be unchanged below quorum")
	}
}
