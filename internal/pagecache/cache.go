package pagecache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/freebitmap"
	"github.com/raida-consortium/raida-server/internal/util"
)

// MaxCachedPages bounds the number of resident pages per process
// (spec.md §5).
const MaxCachedPages = 1000

type pageKey struct {
	Denom  int8
	PageNo uint32
}

// Cache is the on-demand page cache of spec.md §4.B. The hash+LRU table
// itself is golang-lru/v2's Cache, which is internally thread-safe for its
// own bookkeeping; missMu additionally serializes the miss path (disk read
// + insert) so two callers racing on the same cold page only read it once,
// matching spec.md's "cache mutex first, then page mutex" ordering — the
// cache-wide critical section is the miss path, not every lookup.
type Cache struct {
	basePath string
	bitmap   *freebitmap.Bitmap
	log      *logrus.Logger

	lru    *lru.Cache[pageKey, *Page]
	missMu sync.Mutex

	flushFreq time.Duration
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Cache rooted at basePath (page files live under
// basePath/Data/...), reporting free-bit changes into bitmap as pages are
// first loaded, and logging through log.
func New(basePath string, bitmap *freebitmap.Bitmap, flushFreq time.Duration, log *logrus.Logger) (*Cache, error) {
	c := &Cache{
		basePath:  basePath,
		bitmap:    bitmap,
		log:       log,
		flushFreq: flushFreq,
		shutdown:  make(chan struct{}),
	}

	l, err := lru.NewWithEvict[pageKey, *Page](MaxCachedPages, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("pagecache: new lru: %w", err)
	}
	c.lru = l
	return c, nil
}

// onEvict runs synchronously inside the LRU's own Add() call when capacity
// is exceeded: flush the evicted page if dirty before its slot is reused,
// per spec.md §4.B ("evict the LRU page (flushing if dirty) before
// inserting").
func (c *Cache) onEvict(_ pageKey, p *Page) {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	if !p.Dirty() {
		return
	}
	if err := writePageFile(c.basePath, util.DenomIndex(p.Denom), p.PageNo, &p.Data); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"denom": p.Denom, "page": p.PageNo}).
			Warn("pagecache: flush-on-evict failed, page data for this slot is now lost")
		return
	}
	p.clearDirty()
}

// GetPageBySNLocked returns the page containing serial s of denomination d
// with its mutex held; the caller must call UnlockPage when finished
// (spec.md §4.B).
func (c *Cache) GetPageBySNLocked(d int8, s uint32) (*Page, error) {
	pageNo := util.PageNumber(s)
	key := pageKey{Denom: d, PageNo: pageNo}

	if p, ok := c.lru.Get(key); ok {
		p.Mu.Lock()
		return p, nil
	}

	c.missMu.Lock()
	defer c.missMu.Unlock()

	// Re-check: another goroutine may have loaded it while we waited.
	if p, ok := c.lru.Get(key); ok {
		p.Mu.Lock()
		return p, nil
	}

	data, err := readPageFile(c.basePath, util.DenomIndex(d), pageNo)
	if err != nil {
		return nil, err
	}
	p := &Page{Denom: d, PageNo: pageNo, Data: data}
	if c.bitmap != nil {
		c.bitmap.ScanPage(d, pageNo, p.Data[:])
	}
	c.lru.Add(key, p)
	p.Mu.Lock()
	return p, nil
}

// UnlockPage releases a page's mutex acquired through GetPageBySNLocked.
func (c *Cache) UnlockPage(p *Page) {
	p.Mu.Unlock()
}

// SyncPage flushes a page's data to disk. Caller must hold p.Mu.
func (c *Cache) SyncPage(p *Page) error {
	if err := writePageFile(c.basePath, util.DenomIndex(p.Denom), p.PageNo, &p.Data); err != nil {
		return err
	}
	p.clearDirty()
	return nil
}

// ResidentCount returns the number of pages currently resident, for the
// admin stats surface.
func (c *Cache) ResidentCount() int {
	return c.lru.Len()
}

// StartPersistence launches the background flush thread described in
// spec.md §4.B: every flushFreq, sweep resident pages and flush any that
// are dirty and whose mutex can be acquired without blocking.
func (c *Cache) StartPersistence() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.flushFreq)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flushCycle()
			case <-c.shutdown:
				return
			}
		}
	}()
}

func (c *Cache) flushCycle() {
	for _, key := range c.lru.Keys() {
		p, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if !p.Mu.TryLock() {
			continue
		}
		if p.Dirty() {
			if err := writePageFile(c.basePath, util.DenomIndex(p.Denom), p.PageNo, &p.Data); err != nil {
				c.log.WithError(err).WithFields(logrus.Fields{"denom": p.Denom, "page": p.PageNo}).
					Warn("pagecache: background flush failed, will retry next cycle")
			} else {
				p.clearDirty()
			}
		}
		p.Mu.Unlock()
	}
}

// Shutdown stops the background flush thread and waits for its current
// cycle to finish.
func (c *Cache) Shutdown() {
	close(c.shutdown)
	c.wg.Wait()
}

