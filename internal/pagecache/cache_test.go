package pagecache

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/freebitmap"
	"github.com/raida-consortium/raida-server/internal/util"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestGetPageBySNLockedMissThenHit(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, freebitmap.New(), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := c.GetPageBySNLocked(0, 5)
	if err != nil {
		t.Fatalf("GetPageBySNLocked: %v", err)
	}
	if p.PageNo != 0 || p.Denom != 0 {
		t.Fatalf("unexpected page identity: %+v", p)
	}
	p.SetAN(5, [util.ANSize]byte{1, 2, 3})
	p.MarkDirty()
	c.UnlockPage(p)

	p2, err := c.GetPageBySNLocked(0, 5)
	if err != nil {
		t.Fatalf("GetPageBySNLocked second call: %v", err)
	}
	defer c.UnlockPage(p2)
	if p2 != p {
		t.Fatalf("expected same page pointer on cache hit")
	}
	if got := p2.AN(5); got[0] != 1 {
		t.Fatalf("expected previously written data to persist in cache")
	}
}

func TestSyncPageWritesFile(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := c.GetPageBySNLocked(3, 100)
	if err != nil {
		t.Fatalf("GetPageBySNLocked: %v", err)
	}
	p.SetMFS(100, 5)
	p.MarkDirty()
	if err := c.SyncPage(p); err != nil {
		t.Fatalf("SyncPage: %v", err)
	}
	c.UnlockPage(p)
	if p.Dirty() {
		t.Fatalf("page should be clean after sync")
	}

	path := pagePath(dir, 11, 0)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected page file to exist: %v", err)
	}
	if len(data) != util.PageDataSize {
		t.Fatalf("unexpected file size %d", len(data))
	}
}

func TestConcurrentAccessDistinctPages(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, freebitmap.New(), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(s uint32) {
			defer wg.Done()
			p, err := c.GetPageBySNLocked(1, s)
			if err != nil {
				t.Errorf("GetPageBySNLocked: %v", err)
				return
			}
			p.MarkDirty()
			c.UnlockPage(p)
		}(uint32(i) * 1024)
	}
	wg.Wait()
}

func TestFlushCycleClearsDirty(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil, time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := c.GetPageBySNLocked(0, 1)
	if err != nil {
		t.Fatalf("GetPageBySNLocked: %v", err)
	}
	p.MarkDirty()
	c.UnlockPage(p)

	c.flushCycle()

	p2, err := c.GetPageBySNLocked(0, 1)
	if err != nil {
		t.Fatalf("GetPageBySNLocked: %v", err)
	}
	defer c.UnlockPage(p2)
	if p2.Dirty() {
		t.Fatalf("expected flush cycle to clear dirty flag")
	}
}
