// Package commands implements the Auth, Change, and Locker command
// families of spec.md §4.E-§4.G: coin detection, ownership transfer,
// denomination break/join, and locker storage/marketplace operations.
package commands

import (
	"fmt"

	"github.com/raida-consortium/raida-server/internal/freebitmap"
	"github.com/raida-consortium/raida-server/internal/pagecache"
	"github.com/raida-consortium/raida-server/internal/util"
)

// Store bundles the page cache and free-serial bitmap a command handler
// needs, plus this node's raida id (used by Break/Fix AN derivation).
type Store struct {
	Pages   *pagecache.Cache
	Bitmap  *freebitmap.Bitmap
	RaidaID byte

	Lockers      *LockerIndex
	TradeLockers *LockerIndex
}

// Authenticate reports whether coin (d, s) currently holds AN want.
func (s *Store) Authenticate(d int8, serial uint32, want [util.ANSize]byte) (bool, error) {
	p, err := s.Pages.GetPageBySNLocked(d, serial)
	if err != nil {
		return false, fmt.Errorf("commands: page access: %w", err)
	}
	defer s.Pages.UnlockPage(p)
	return p.AN(serial) == want, nil
}

// CurrentAN returns the stored AN for coin (d, s).
func (s *Store) CurrentAN(d int8, serial uint32) ([util.ANSize]byte, error) {
	p, err := s.Pages.GetPageBySNLocked(d, serial)
	if err != nil {
		return [util.ANSize]byte{}, fmt.Errorf("commands: page access: %w", err)
	}
	defer s.Pages.UnlockPage(p)
	return p.AN(serial), nil
}

// WriteCoin writes a new AN and MFS for coin (d, s), marks the page dirty,
// and updates the free bitmap within the same page-lock critical section
// (spec.md §4.C: "record writes that change MFS MUST invoke update_free
// within the same critical section as the page update").
func (s *Store) WriteCoin(d int8, serial uint32, an [util.ANSize]byte, mfs byte) error {
	p, err := s.Pages.GetPageBySNLocked(d, serial)
	if err != nil {
		return fmt.Errorf("commands: page access: %w", err)
	}
	defer s.Pages.UnlockPage(p)

	p.SetAN(serial, an)
	p.SetMFS(serial, mfs)
	p.MarkDirty()
	if s.Bitmap != nil {
		s.Bitmap.UpdateFree(d, serial, mfs == 0)
	}
	return nil
}
