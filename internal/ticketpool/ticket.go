// Package ticketpool implements the fixed-size ticket pool of spec.md §4.H:
// 512 independently mutex-guarded slots, a 300s TTL, and a 25-bit
// per-peer-raida claim bitmap used during healing (internal/healing).
package ticketpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/raida-consortium/raida-server/internal/util"
)

// PoolSize is the fixed number of ticket slots (spec.md §3).
const PoolSize = 512

// TTL is how long a ticket remains valid after creation (spec.md §3).
const TTL = 300 * time.Second

// NumPeers is the number of RAIDA peers (and thus claim bits) in the
// network (spec.md §1: "25 peer nodes").
const NumPeers = 25

// CoinRef identifies a single coin by denomination and serial.
type CoinRef = util.CoinRef

// ticketState is the content of an occupied slot.
type ticketState struct {
	id        uint32
	createdAt time.Time
	coins     []CoinRef
	claims    uint32 // bit i = raida i has claimed this ticket
}

// Slot is one of the pool's fixed slots. Callers obtain a locked *Slot from
// GetTicketEntry and must call the pool's UnlockTicketEntry when done.
type Slot struct {
	mu    sync.Mutex
	used  bool
	state ticketState
}

// ID returns the slot's ticket id. Caller must hold the slot's lock.
func (s *Slot) ID() uint32 { return s.state.id }

// Coins returns the slot's coin list. Caller must hold the slot's lock.
func (s *Slot) Coins() []CoinRef { return s.state.coins }

// Pool is the fixed 512-slot ticket pool.
type Pool struct {
	slots [PoolSize]*Slot

	indexMu sync.Mutex
	byID    map[uint32]int
}

// New constructs an empty ticket pool.
func New() *Pool {
	p := &Pool{byID: make(map[uint32]int, PoolSize)}
	for i := range p.slots {
		p.slots[i] = &Slot{}
	}
	return p
}

var (
	// ErrNoFreeSlot is returned when no ticket slot is available.
	ErrNoFreeSlot = fmt.Errorf("ticketpool: no free slot")
	// ErrNotFound is returned when a ticket id is unknown or expired.
	ErrNotFound = fmt.Errorf("ticketpool: ticket not found")
	// ErrAlreadyClaimed is returned when a peer claims a ticket twice.
	ErrAlreadyClaimed = fmt.Errorf("ticketpool: ticket already claimed by this raida")
)

func (s *Slot) expired(now time.Time) bool {
	return now.Sub(s.state.createdAt) >= TTL
}

// getFreeSlot performs a non-blocking scan for an unused (or expired) slot,
// returning it already locked. It is the caller's responsibility to either
// populate and keep it, or unlock it.
func (p *Pool) getFreeSlot(now time.Time) (int, *Slot, bool) {
	for i, s := range p.slots {
		if !s.mu.TryLock() {
			continue
		}
		if !s.used || s.expired(now) {
			if s.used {
				p.removeIndexLocked(s.state.id)
			}
			return i, s, true
		}
		s.mu.Unlock()
	}
	return 0, nil, false
}

func (p *Pool) removeIndexLocked(id uint32) {
	p.indexMu.Lock()
	delete(p.byID, id)
	p.indexMu.Unlock()
}

// IssueTicket allocates a ticket containing coins, returning its 4-byte id.
// Returns ErrNoFreeSlot if the pool is exhausted (spec.md §4.J: "collect
// the authentic ones into a newly allocated ticket").
func (p *Pool) IssueTicket(coins []CoinRef) (uint32, error) {
	idx, slot, ok := p.getFreeSlot(time.Now())
	if !ok {
		return 0, ErrNoFreeSlot
	}
	defer slot.mu.Unlock()

	id, err := p.newUniqueID()
	if err != nil {
		return 0, err
	}

	slot.used = true
	slot.state = ticketState{
		id:        id,
		createdAt: time.Now(),
		coins:     append([]CoinRef(nil), coins...),
	}

	p.indexMu.Lock()
	p.byID[id] = idx
	p.indexMu.Unlock()

	return id, nil
}

func (p *Pool) newUniqueID() (uint32, error) {
	var buf [4]byte
	for attempt := 0; attempt < 16; attempt++ {
		if err := util.RandomBytes(buf[:], 4); err != nil {
			return 0, err
		}
		id := util.ReadU32BE(buf[:])
		if id == 0 {
			continue
		}
		p.indexMu.Lock()
		_, taken := p.byID[id]
		p.indexMu.Unlock()
		if !taken {
			return id, nil
		}
	}
	return 0, fmt.Errorf("ticketpool: failed to allocate a unique ticket id")
}

// GetTicketEntry looks up a ticket by id and returns it locked; the caller
// must call UnlockTicketEntry when done. A stale (expired) ticket is
// treated as not found and its slot released.
func (p *Pool) GetTicketEntry(id uint32) (*Slot, error) {
	p.indexMu.Lock()
	idx, ok := p.byID[id]
	p.indexMu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	slot := p.slots[idx]
	slot.mu.Lock()

	if !slot.used || slot.state.id != id {
		slot.mu.Unlock()
		return nil, ErrNotFound
	}
	if slot.expired(time.Now()) {
		slot.used = false
		p.removeIndexLocked(id)
		slot.mu.Unlock()
		return nil, ErrNotFound
	}
	return slot, nil
}

// UnlockTicketEntry releases a slot obtained from GetTicketEntry.
func (p *Pool) UnlockTicketEntry(s *Slot) {
	s.mu.Unlock()
}

// ClaimPeer records raidaID's claim on the ticket held by s, returning
// ErrAlreadyClaimed if that peer already claimed it (spec.md §4.H, §8
// invariant 7). Caller must hold s's lock (i.e. obtained via
// GetTicketEntry).
func (p *Pool) ClaimPeer(s *Slot, raidaID int) error {
	if raidaID < 0 || raidaID >= NumPeers {
		return fmt.Errorf("ticketpool: raida id %d out of range", raidaID)
	}
	bit := uint32(1) << uint(raidaID)
	if s.state.claims&bit != 0 {
		return ErrAlreadyClaimed
	}
	s.state.claims |= bit
	return nil
}

// Sweep releases any expired slots. It is safe to call periodically from a
// housekeeping goroutine, though spec.md §4.H permits lazy expiry alone.
func (p *Pool) Sweep() {
	now := time.Now()
	for _, s := range p.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.used && s.expired(now) {
			s.used = false
			p.removeIndexLocked(s.state.id)
		}
		s.mu.Unlock()
	}
}

// InUseCount returns the number of occupied slots, for the admin stats surface.
func (p *Pool) InUseCount() int {
	count := 0
	for _, s := range p.slots {
		if !s.mu.TryLock() {
			count++ // in use by the caller or contended; count conservatively
			continue
		}
		if s.used {
			count++
		}
		s.mu.Unlock()
	}
	return count
}
