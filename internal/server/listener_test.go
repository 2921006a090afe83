package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/util"
)

func TestListenerRoundTripDetect(t *testing.T) {
	d := newTestDispatcher(t)

	var an [util.ANSize]byte
	an[0] = 0x42
	if err := d.Store.WriteCoin(0, 9, an, 0); err != nil {
		t.Fatalf("writeCoin: %v", err)
	}

	ln, err := NewListener("127.0.0.1:0", d, NewMetrics(), testLogger(), CoinKeyLookup(d.Store))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	addr := ln.ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ln.Serve(ctx) }()
	defer ln.Close()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	rec := make([]byte, commands.DetectionRecordSize)
	rec[0] = byte(0)
	util.WriteU32BE(rec[1:5], 9)
	copy(rec[5:], an[:])

	body := make([]byte, protocol.ChallengeSize+len(rec)+2)
	copy(body[protocol.ChallengeSize:], rec)
	copy(body[len(body)-2:], protocol.EndOfFrame[:])

	h := &protocol.RequestHeader{
		RouterVersion: 1,
		RaidaID:       7,
		CommandGroup:  byte(protocol.GroupAuth),
		CommandIndex:  protocol.CmdDetect,
		BodySize:      uint16(len(body)),
	}

	if _, err := conn.Write(h.Encode()); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}

	respHeader := make([]byte, protocol.HeaderSize)
	if _, err := readFullTest(conn, respHeader); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	status := statuscodes.Code(respHeader[0])
	if status != statuscodes.StatusAllPass {
		t.Fatalf("status = %v, want AllPass", status)
	}
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
