// Package pagecache implements the on-demand page cache described in
// spec.md §4.B: hash+LRU residency, per-page mutexes, background flush and
// reservation. The LRU/hash bookkeeping is backed by golang-lru/v2; this
// package adds the page-specific semantics (dirty tracking, reservation
// TTL, disk I/O) the library has no notion of.
package pagecache

import (
	"sync"
	"time"

	"github.com/raida-consortium/raida-server/internal/util"
)

// ReservedPageReleaseSeconds is the TTL after which a page reservation is
// treated as stale and lazily cleared (spec.md §3).
const ReservedPageReleaseSeconds = 16

// Page is one 17,408-byte (K=1024 record) page of a single denomination,
// plus the cache metadata spec.md §3 requires. Every field below must only
// be read or written while Mu is held — the page's own invariant, not just
// a suggestion.
type Page struct {
	Mu sync.Mutex

	Denom  int8
	PageNo uint32

	Data [util.PageDataSize]byte

	dirty bool

	reservedBy uint32
	reservedAt time.Time
}

// MarkDirty sets the dirty bit. Idempotent. Caller must hold Mu.
func (p *Page) MarkDirty() {
	p.dirty = true
}

// Dirty reports the dirty bit. Caller must hold Mu.
func (p *Page) Dirty() bool {
	return p.dirty
}

// clearDirty clears the dirty bit after a successful flush. Caller must hold Mu.
func (p *Page) clearDirty() {
	p.dirty = false
}

// IsReserved reports whether the page is reserved and the reservation has
// not gone stale. A stale reservation is cleared as a side effect (spec.md
// §4.B: "page_is_reserved... otherwise clears the reservation and returns
// false"). Caller must hold Mu.
func (p *Page) IsReserved() bool {
	if p.reservedBy == 0 {
		return false
	}
	if time.Since(p.reservedAt) >= ReservedPageReleaseSeconds*time.Second {
		p.reservedBy = 0
		return false
	}
	return true
}

// ReservedBySession reports whether the page is currently validly reserved
// by the given session id. Caller must hold Mu.
func (p *Page) ReservedBySession(session uint32) bool {
	return p.IsReserved() && p.reservedBy == session
}

// Reserve marks the page reserved by session as of now. Caller must hold Mu.
func (p *Page) Reserve(session uint32) {
	p.reservedBy = session
	p.reservedAt = time.Now()
}

// ReleaseReserved clears the page's reservation unconditionally. Caller
// must hold Mu.
func (p *Page) ReleaseReserved() {
	p.reservedBy = 0
}

// recordOffset returns the byte offset within Data of serial s's record.
func recordOffset(s uint32) int {
	return int(util.RecordIndex(s)) * util.RecordSize
}

// AN returns the 16-byte Authentication Number stored for serial s. Caller
// must hold Mu.
func (p *Page) AN(s uint32) [util.ANSize]byte {
	off := recordOffset(s)
	var an [util.ANSize]byte
	copy(an[:], p.Data[off:off+util.ANSize])
	return an
}

// SetAN writes a new Authentication Number for serial s. Caller must hold Mu.
func (p *Page) SetAN(s uint32, an [util.ANSize]byte) {
	off := recordOffset(s)
	copy(p.Data[off:off+util.ANSize], an[:])
}

// MFS returns the stored MFS byte for serial s. Caller must hold Mu.
func (p *Page) MFS(s uint32) byte {
	return p.Data[recordOffset(s)+util.ANSize]
}

// SetMFS writes the MFS byte for serial s. Caller must hold Mu.
func (p *Page) SetMFS(s uint32, mfs byte) {
	p.Data[recordOffset(s)+util.ANSize] = mfs
}
