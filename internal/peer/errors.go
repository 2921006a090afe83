package peer

import (
	"errors"
	"time"
)

// ErrAlreadyClaimed mirrors statuscodes.ErrorTicketClaimedAlready for
// callers that only want to branch on the Go error, not the wire status.
var ErrAlreadyClaimed = errors.New("peer: ticket already claimed by this raida")

// ErrTicketNotFound mirrors statuscodes.ErrorNoTicketFound.
var ErrTicketNotFound = errors.New("peer: ticket not found")

func deadlineFromNow() time.Time {
	return time.Now().Add(RcvTimeout)
}
