// Package statuscodes enumerates the response status byte values defined in
// spec.md §6. A status is always a single byte placed at offset 0 of the
// 32-byte response header (internal/protocol).
package statuscodes

type Code byte

const (
	NoError Code = 0

	// Find-specific statuses (§4.J).
	FindNeither Code = 208
	FindAllAN   Code = 209
	FindAllPAN  Code = 210
	FindMixed   Code = 211

	// Batch-result statuses shared by Detect/PoWN-style commands (§4.E-§4.G).
	StatusAllPass Code = 241
	StatusAllFail Code = 242
	StatusMixed   Code = 243

	StatusSuccess Code = 250

	ErrorInvalidRaidaID         Code = 3
	ErrorInvalidCommand         Code = 6
	ErrorInvalidPacketLength    Code = 16
	ErrorInvalidEOF             Code = 33
	ErrorInvalidEncryption      Code = 34
	ErrorInvalidCRC             Code = 37
	ErrorAdminAuth              Code = 38
	ErrorInvalidSNOrDenom       Code = 40
	ErrorNoTicketSlot           Code = 42
	ErrorNoTicketFound          Code = 43
	ErrorTicketClaimedAlready   Code = 44
	ErrorPageIsNotReserved      Code = 45
	ErrorNotImplemented         Code = 89
	ErrorInternal               Code = 252
	ErrorNetwork                Code = 253
	ErrorMemoryAlloc            Code = 254
)

// String returns a short human-readable name, used in log lines.
func (c Code) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case FindNeither:
		return "FIND_NEITHER"
	case FindAllAN:
		return "FIND_ALL_AN"
	case FindAllPAN:
		return "FIND_ALL_PAN"
	case FindMixed:
		return "FIND_MIXED"
	case StatusAllPass:
		return "ALL_PASS"
	case StatusAllFail:
		return "ALL_FAIL"
	case StatusMixed:
		return "MIXED"
	case StatusSuccess:
		return "SUCCESS"
	case ErrorInvalidRaidaID:
		return "ERROR_INVALID_RAIDA_ID"
	case ErrorInvalidCommand:
		return "ERROR_INVALID_COMMAND"
	case ErrorInvalidPacketLength:
		return "ERROR_INVALID_PACKET_LENGTH"
	case ErrorInvalidEOF:
		return "ERROR_INVALID_EOF"
	case ErrorInvalidEncryption:
		return "ERROR_INVALID_ENCRYPTION"
	case ErrorInvalidCRC:
		return "ERROR_INVALID_CRC"
	case ErrorAdminAuth:
		return "ERROR_ADMIN_AUTH"
	case ErrorInvalidSNOrDenom:
		return "ERROR_INVALID_SN_OR_DENOMINATION"
	case ErrorNoTicketSlot:
		return "ERROR_NO_TICKET_SLOT"
	case ErrorNoTicketFound:
		return "ERROR_NO_TICKET_FOUND"
	case ErrorTicketClaimedAlready:
		return "ERROR_TICKET_CLAIMED_ALREADY"
	case ErrorPageIsNotReserved:
		return "ERROR_PAGE_IS_NOT_RESERVED"
	case ErrorNotImplemented:
		return "ERROR_NOT_IMPLEMENTED"
	case ErrorInternal:
		return "ERROR_INTERNAL"
	case ErrorNetwork:
		return "ERROR_NETWORK"
	case ErrorMemoryAlloc:
		return "ERROR_MEMORY_ALLOC"
	default:
		return "UNKNOWN"
	}
}

// BitmapStatus picks ALL_PASS/ALL_FAIL/MIXED from a per-coin pass count,
// the common three-way rule behind Detect, Remove and Multi-Store-Sum
// (§4.E, §4.G).
func BitmapStatus(total, passed int) Code {
	switch {
	case total == 0:
		return StatusAllFail
	case passed == total:
		return StatusAllPass
	case passed == 0:
		return StatusAllFail
	default:
		return StatusMixed
	}
}

// PoWNStatus is PoWN's own two-way rule (§4.E: "Return MIXED bitmap"):
// MIXED whenever at least one coin passed, ALL_FAIL otherwise. Unlike
// BitmapStatus, PoWN never reports ALL_PASS even when every coin passes.
func PoWNStatus(passed int) Code {
	if passed > 0 {
		return StatusMixed
	}
	return StatusAllFail
}
