package protocol

// CommandGroup identifies which handler family a request's command group
// byte (header offset 4) routes to (spec.md §2's component letters E-J).
// spec.md describes these operations by name only; the numeric groups and
// indices below are this implementation's own wire assignment, since the
// specification leaves opcode numbering to the implementer.
type CommandGroup byte

const (
	GroupAuth    CommandGroup = 0 // spec.md §4.E
	GroupChange  CommandGroup = 1 // spec.md §4.F
	GroupLocker  CommandGroup = 2 // spec.md §4.G
	GroupHealing CommandGroup = 3 // spec.md §4.H-J
)

// Auth command indices (header offset 5), within GroupAuth.
const (
	CmdDetect    byte = 0
	CmdDetectSum byte = 1
	CmdPoWN      byte = 2
	CmdPoWNSum   byte = 3
)

// Change command indices, within GroupChange.
const (
	CmdAvailableSNs byte = 0
	CmdBreak        byte = 1
	CmdJoin         byte = 2
)

// Locker command indices, within GroupLocker.
const (
	CmdStoreSum         byte = 0
	CmdRemove           byte = 1
	CmdPeek             byte = 2
	CmdPutForSale       byte = 3
	CmdListForSale      byte = 4
	CmdBuy              byte = 5
	CmdRemoveTradeLocker byte = 6
	CmdPeekTradeLocker   byte = 7
	CmdMultiStoreSum     byte = 8
)

// Healing command indices, within GroupHealing.
const (
	CmdGetTicket      byte = 0
	CmdValidateTicket byte = 1
	CmdFind           byte = 2
	CmdFix            byte = 3
)
