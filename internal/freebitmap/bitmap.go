// Package freebitmap maintains, per denomination, a bit per serial number
// set iff that coin's MFS byte is 0 ("free/never issued") — spec.md §3/§4.C.
// Bitmap.AvailableSNs answers "which serials are available" queries from
// it (the change commands' own available-SN discovery reads page MFS bytes
// directly and does not consult the bitmap); record writes that
// change MFS must update the bitmap in the same critical section as the
// page mutation (spec.md §4.C).
package freebitmap

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/raida-consortium/raida-server/internal/util"
)

// Bitmap holds one bitset.BitSet per denomination, each mutex-guarded
// independently so that concurrent denominations never contend.
type Bitmap struct {
	mus  [util.NumDenominations]sync.Mutex
	bits [util.NumDenominations]*bitset.BitSet
}

// New allocates an empty bitmap for all 15 denominations, sized to hold
// N*K bits each (spec.md §3).
func New() *Bitmap {
	b := &Bitmap{}
	for i := range b.bits {
		b.bits[i] = bitset.New(util.MaxSerial)
	}
	return b
}

// UpdateFree sets or clears bit s of denomination d's bitset, under that
// denomination's lock.
func (b *Bitmap) UpdateFree(d int8, s uint32, isFree bool) {
	idx := util.DenomIndex(d)
	b.mus[idx].Lock()
	defer b.mus[idx].Unlock()
	if isFree {
		b.bits[idx].Set(uint(s))
	} else {
		b.bits[idx].Clear(uint(s))
	}
}

// IsFree reports whether serial s of denomination d is currently free.
func (b *Bitmap) IsFree(d int8, s uint32) bool {
	idx := util.DenomIndex(d)
	b.mus[idx].Lock()
	defer b.mus[idx].Unlock()
	return b.bits[idx].Test(uint(s))
}

// AvailableSNs returns up to want set bits for denomination d, in ascending
// order, per spec.md §4.C.
func (b *Bitmap) AvailableSNs(d int8, want int) []uint32 {
	idx := util.DenomIndex(d)
	b.mus[idx].Lock()
	defer b.mus[idx].Unlock()

	out := make([]uint32, 0, want)
	for i, ok := b.bits[idx].NextSet(0); ok && len(out) < want; i, ok = b.bits[idx].NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// ScanPage updates denomination d's bitmap for every record in a single
// page's raw data (util.PageDataSize bytes), used both at startup (building
// the bitmap from persisted pages) and whenever a page is loaded into the
// cache for the first time.
func (b *Bitmap) ScanPage(d int8, pageNo uint32, data []byte) {
	base := pageNo * util.RecordsPerPage
	idx := util.DenomIndex(d)
	b.mus[idx].Lock()
	defer b.mus[idx].Unlock()
	for i := 0; i < util.RecordsPerPage; i++ {
		off := i * util.RecordSize
		if off+util.RecordSize > len(data) {
			break
		}
		mfs := data[off+util.ANSize]
		s := uint(base) + uint(i)
		if mfs == 0 {
			b.bits[idx].Set(s)
		} else {
			b.bits[idx].Clear(s)
		}
	}
}

// Count returns the number of free serials currently recorded for d. Used
// by the admin stats surface.
func (b *Bitmap) Count(d int8) uint64 {
	idx := util.DenomIndex(d)
	b.mus[idx].Lock()
	defer b.mus[idx].Unlock()
	return b.bits[idx].Count()
}
