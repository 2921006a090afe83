// Package server wires the page-cache/command/healing core into a running
// node: the dispatch table that routes a parsed request to its handler
// (spec.md §2's "dispatch selects a handler in E/F/G/H/I/J"), the TCP
// request loop, and the admin HTTP surface.
package server

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/healing"
	"github.com/raida-consortium/raida-server/internal/merkle"
	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
	"github.com/raida-consortium/raida-server/internal/ticketpool"
	"github.com/raida-consortium/raida-server/internal/util"
)

// Dispatcher holds every subsystem a command handler may need and routes a
// parsed request to the right one. spec.md names operations by function,
// never by (group, index) wire value, so the numbering in
// internal/protocol/commands.go is this implementation's own contract;
// Dispatcher is simply the switch statement over it.
type Dispatcher struct {
	Store   *commands.Store
	Healer  *healing.Healer
	Merkle  *merkle.Cache
	Tickets *ticketpool.Pool
	Log     *logrus.Logger

	// Metrics is optional; nil disables the get_ticket/fix counters.
	Metrics *Metrics
}

// Dispatch routes frame to its handler and returns the response status and
// body. It has no Go error return: every failure, including internal ones,
// is reported through the status code, per spec.md §7 ("no exception
// propagation").
func (d *Dispatcher) Dispatch(ctx context.Context, frame *protocol.RequestFrame) (statuscodes.Code, []byte) {
	h := frame.Header
	switch protocol.CommandGroup(h.CommandGroup) {
	case protocol.GroupAuth:
		return d.dispatchAuth(h.CommandIndex, frame.Payload)
	case protocol.GroupChange:
		return d.dispatchChange(h.CommandIndex, frame.Payload)
	case protocol.GroupLocker:
		return d.dispatchLocker(h.CommandIndex, frame.Payload)
	case protocol.GroupHealing:
		return d.dispatchHealing(ctx, h.CommandIndex, frame.Payload)
	default:
		return statuscodes.ErrorInvalidCommand, nil
	}
}

func (d *Dispatcher) dispatchAuth(index byte, payload []byte) (statuscodes.Code, []byte) {
	switch index {
	case protocol.CmdDetect:
		bits, status, err := d.Store.Detect(payload)
		if err != nil {
			d.logFailure("detect", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return bodyOnMixed(status, bits)
	case protocol.CmdDetectSum:
		status, err := d.Store.DetectSum(payload)
		if err != nil {
			d.logFailure("detect-sum", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return status, nil
	case protocol.CmdPoWN:
		bits, status, err := d.Store.PoWN(payload)
		if err != nil {
			d.logFailure("pown", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return bodyOnMixed(status, bits)
	case protocol.CmdPoWNSum:
		status, err := d.Store.PoWNSum(payload)
		if err != nil {
			d.logFailure("pown-sum", err)
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		return status, nil
	default:
		return statuscodes.ErrorInvalidCommand, nil
	}
}

// availableSNsRequestSize is this implementation's own Available-SNs
// payload: 4-byte session id, 1-byte op (spec.md §4.F: BREAK=0x1/JOIN=0x2),
// 1-byte source denomination.
const availableSNsRequestSize = 4 + 1 + 1

// breakSmallRecordSize and the CmdBreak case of dispatchChange describe
// Break's own payload, which spec.md §4.F
// leaves unspecified on the wire beyond its field list; this implementation
// prefixes it with a 1-byte client encryption-type advertisement (distinct
// from the header's body-encryption field) so Break's AN regeneration can
// pick SHA-256 vs legacy MD5 per spec.md §4.A/§4.F, exactly as
// internal/healing's Fix already takes that byte as a parameter. See
// DESIGN.md's Open Questions.
const breakSmallRecordSize = 4 + util.ANSize // serial + AN, no denomination (implied: d-1)

func (d *Dispatcher) dispatchChange(index byte, payload []byte) (statuscodes.Code, []byte) {
	switch index {
	case protocol.CmdAvailableSNs:
		if len(payload) != availableSNsRequestSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		session := util.ReadU32BE(payload[0:4])
		op := payload[4]
		denom := int8(payload[5])
		target, sns, err := d.Store.AvailableSNs(session, op, denom)
		if err != nil {
			d.logFailure("available-sns", err)
			return statuscodes.ErrorInvalidSNOrDenom, nil
		}
		body := make([]byte, 1+4*len(sns))
		body[0] = byte(target)
		for i, sn := range sns {
			util.WriteU32BE(body[1+4*i:5+4*i], sn)
		}
		return statuscodes.StatusSuccess, body

	case protocol.CmdBreak:
		const fixed = 1 + 4 + 1 + 4 + util.ANSize // encType + session + d + serial + AN
		if len(payload) != fixed+10*breakSmallRecordSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		encType := payload[0]
		session := util.ReadU32BE(payload[1:5])
		denom := int8(payload[5])
		serial := util.ReadU32BE(payload[6:10])
		var an [util.ANSize]byte
		copy(an[:], payload[10:10+util.ANSize])

		smalls := make([]commands.AnRecord, 10)
		off := fixed
		for i := range smalls {
			smalls[i].Serial = util.ReadU32BE(payload[off : off+4])
			copy(smalls[i].AN[:], payload[off+4:off+4+util.ANSize])
			off += breakSmallRecordSize
		}
		status, err := d.Store.Break(session, denom, serial, an, encType, smalls)
		if err != nil {
			d.logFailure("break", err)
			return statuscodes.ErrorInternal, nil
		}
		return status, nil

	case protocol.CmdJoin:
		const fixed = 4 + 1 + 4 + util.ANSize // session + d + serial + new AN
		if len(payload) != fixed+10*breakSmallRecordSize {
			return statuscodes.ErrorInvalidPacketLength, nil
		}
		session := util.ReadU32BE(payload[0:4])
		denom := int8(payload[4])
		serial := util.ReadU32BE(payload[5:9])
		var newAN [util.ANSize]byte
		copy(newAN[:], payload[9:9+util.ANSize])

		smalls := make([]commands.AnRecord, 10)
		off := fixed
		for i := range smalls {
			smalls[i].Serial = util.ReadU32BE(payload[off : off+4])
			copy(smalls[i].AN[:], payload[off+4:off+4+util.ANSize])
			off += breakSmallRecordSize
		}
		status, err := d.Store.Join(session, denom, serial, newAN, smalls)
		if err != nil {
			d.logFailure("join", err)
			return statuscodes.ErrorInternal, nil
		}
		return status, nil

	default:
		return statuscodes.ErrorInvalidCommand, nil
	}
}

func (d *Dispatcher) logFailure(op string, err error) {
	d.Log.WithError(err).WithField("command", op).Debug("server: request rejected")
}

// bodyOnMixed returns the bitmap body only when the command family's
// status requires one (spec.md §4.D: "Errors are returned with zero body
// (unless the command specifically pairs a bitmap response with a MIXED
// status)"). ALL_PASS/ALL_FAIL carry no body; only MIXED does.
func bodyOnMixed(status statuscodes.Code, bits []byte) (statuscodes.Code, []byte) {
	if status == statuscodes.StatusMixed {
		return status, bits
	}
	return status, nil
}

