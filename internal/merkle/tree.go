// Package merkle builds and serves the per-denomination integrity trees of
// spec.md §4.I: leaves are SHA-256 of each page file's contents, inner
// levels fold adjacent hashes (duplicating the last on an odd count), and a
// background worker rebuilds the full set on a timer.
package merkle

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/pagecache"
	"github.com/raida-consortium/raida-server/internal/util"
)

// Tree holds the levels of one denomination's integrity tree.
// levels[0] is the leaf layer (one hash per page); the final entry of
// levels is the single-hash root.
type Tree struct {
	levels [][][32]byte
}

// Root returns the tree's root hash, or the zero hash if the tree is empty.
func (t *Tree) Root() [32]byte {
	if t == nil || len(t.levels) == 0 {
		return [32]byte{}
	}
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return [32]byte{}
	}
	return top[0]
}

// Node returns the hash at (level, index), with bounds checking
// (spec.md §4.I).
func (t *Tree) Node(level, index int) ([32]byte, error) {
	if t == nil || level < 0 || level >= len(t.levels) {
		return [32]byte{}, fmt.Errorf("merkle: level %d out of range", level)
	}
	l := t.levels[level]
	if index < 0 || index >= len(l) {
		return [32]byte{}, fmt.Errorf("merkle: index %d out of range at level %d", index, level)
	}
	return l[index], nil
}

func buildTree(leaves [][32]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{levels: [][][32]byte{{{}}}}
	}
	levels := [][][32]byte{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([][32]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, hashPair(cur[i], cur[i+1]))
			} else {
				next = append(next, hashPair(cur[i], cur[i]))
			}
		}
		levels = append(levels, next)
		cur = next
	}
	return &Tree{levels: levels}
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return util.SHA256Full(buf)
}

// cacheSize is the bound on resident trees (spec.md §4.I: "a cache of up to
// 15 trees"). The server carries one tree per denomination, so this equals
// util.NumDenominations.
const cacheSize = util.NumDenominations

// Cache holds one Tree per denomination behind a single mutex, rebuilt
// wholesale by a background worker. Read APIs snapshot the shared pointer
// before reading hashes, so a rebuild in progress never blocks a reader
// (spec.md §4.I, §5 lock-ordering rule 5).
type Cache struct {
	basePath string
	log      *logrus.Logger

	mu    sync.Mutex
	trees [cacheSize]*Tree

	freq     time.Duration
	enabled  func() bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Cache rooted at basePath (the same page-file root used
// by internal/pagecache). enabled reports the live value of the
// synchronization_enabled config flag; freq is integrity_freq.
func New(basePath string, freq time.Duration, enabled func() bool, log *logrus.Logger) *Cache {
	return &Cache{
		basePath: basePath,
		log:      log,
		freq:     freq,
		enabled:  enabled,
		shutdown: make(chan struct{}),
	}
}

func (c *Cache) treeFor(d int8) *Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trees[util.DenomIndex(d)]
}

// GetMerkleRoot returns denomination d's current root, or the zero hash if
// no tree has been built yet.
func (c *Cache) GetMerkleRoot(d int8) [32]byte {
	return c.treeFor(d).Root()
}

// GetMerkleNode returns denomination d's hash at (level, index).
func (c *Cache) GetMerkleNode(d int8, level, index int) ([32]byte, error) {
	t := c.treeFor(d)
	if t == nil {
		return [32]byte{}, fmt.Errorf("merkle: no tree built for denomination %d", d)
	}
	return t.Node(level, index)
}

// GetPageFileBytes returns page pageNo's raw on-disk bytes for denomination
// d, for use in the final healing step (spec.md §4.I, §4.J).
func (c *Cache) GetPageFileBytes(d int8, pageNo uint32) ([]byte, error) {
	data, err := pagecache.ReadPageFileBytes(c.basePath, util.DenomIndex(d), pageNo)
	if err != nil {
		return nil, fmt.Errorf("merkle: read page file: %w", err)
	}
	return data, nil
}

// RebuildAll rebuilds every denomination's tree from its page files on
// disk, replacing the cache wholesale (spec.md §4.I: "Merkle trees
// replaced wholesale each rebuild cycle").
func (c *Cache) RebuildAll() {
	var built [cacheSize]*Tree
	for idx := 0; idx < cacheSize; idx++ {
		d := util.DenomFromIndex(idx)
		leaves := make([][32]byte, util.PagesPerDenomination)
		for page := uint32(0); page < util.PagesPerDenomination; page++ {
			data, err := pagecache.ReadPageFileBytes(c.basePath, idx, page)
			if err != nil {
				c.log.WithError(err).WithFields(logrus.Fields{"denom": d, "page": page}).
					Warn("merkle: failed to read page file during rebuild, treating as absent")
				leaves[page] = [32]byte{}
				continue
			}
			if data == nil {
				leaves[page] = [32]byte{}
				continue
			}
			leaves[page] = util.SHA256Full(data)
		}
		built[idx] = buildTree(leaves)
	}

	c.mu.Lock()
	c.trees = built
	c.mu.Unlock()
}

// StartBackgroundRebuild launches the periodic rebuild worker of
// spec.md §4.I, rebuilding every c.freq seconds while c.enabled() is true.
func (c *Cache) StartBackgroundRebuild() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.freq)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if c.enabled == nil || c.enabled() {
					c.RebuildAll()
				}
			case <-c.shutdown:
				return
			}
		}
	}()
}

// Shutdown stops the background rebuild worker and waits for it to exit.
func (c *Cache) Shutdown() {
	close(c.shutdown)
	c.wg.Wait()
}
