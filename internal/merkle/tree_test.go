package merkle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/util"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestBuildTreeEvenAndOddCounts(t *testing.T) {
	even := buildTree([][32]byte{{1}, {2}, {3}, {4}})
	if len(even.levels) != 3 {
		t.Fatalf("expected 3 levels for 4 leaves, got %d", len(even.levels))
	}

	odd := buildTree([][32]byte{{1}, {2}, {3}})
	if len(odd.levels) != 3 {
		t.Fatalf("expected 3 levels for 3 leaves (last duplicated), got %d", len(odd.levels))
	}
	// level 1 should have 2 entries: hash(1,2) and hash(3,3)
	if len(odd.levels[1]) != 2 {
		t.Fatalf("expected 2 entries at level 1, got %d", len(odd.levels[1]))
	}
}

func TestTreeRootDeterministic(t *testing.T) {
	leaves := [][32]byte{{1}, {2}, {3}, {4}, {5}}
	t1 := buildTree(leaves)
	t2 := buildTree(leaves)
	if t1.Root() != t2.Root() {
		t.Fatalf("expected identical leaf sets to produce identical roots")
	}
}

func TestTreeNodeBoundsChecking(t *testing.T) {
	tr := buildTree([][32]byte{{1}, {2}})
	if _, err := tr.Node(5, 0); err == nil {
		t.Fatalf("expected error for out-of-range level")
	}
	if _, err := tr.Node(0, 99); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
	if _, err := tr.Node(0, 0); err != nil {
		t.Fatalf("expected valid lookup to succeed: %v", err)
	}
}

func TestRebuildAllProducesDeterministicRoot(t *testing.T) {
	dir := t.TempDir()
	// Write one page file for denomination index 0 (d = -8), page 0.
	pageDir := filepath.Join(dir, "Data", "00", "00")
	if err := os.MkdirAll(pageDir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	data := make([]byte, util.PageDataSize)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(pageDir, "0000.bin"), data, 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := New(dir, time.Hour, func() bool { return true }, testLogger())
	c.RebuildAll()

	root1 := c.GetMerkleRoot(util.MinDenomination)
	c.RebuildAll()
	root2 := c.GetMerkleRoot(util.MinDenomination)
	if root1 != root2 {
		t.Fatalf("expected deterministic root across rebuilds of identical page data")
	}

	var zero [32]byte
	if root1 == zero {
		t.Fatalf("expected a nonzero root once a page file is present")
	}

	// An untouched denomination should still build (all-zero leaves) since
	// the root of an all-zero tree is itself deterministic and nonzero at
	// the inner-node level (SHA-256 of zero bytes is not the zero hash).
	otherRoot := c.GetMerkleRoot(util.MaxDenomination)
	if otherRoot == zero {
		t.Fatalf("expected SHA-256 folding of absent pages to produce a nonzero root")
	}
}

func TestGetMerkleNodeErrorsBeforeFirstBuild(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, time.Hour, func() bool { return true }, testLogger())
	if _, err := c.GetMerkleNode(0, 0, 0); err == nil {
		t.Fatalf("expected error before any tree has been built")
	}
}

func TestGetPageFileBytesAbsentReturnsNilNoError(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, time.Hour, func() bool { return true }, testLogger())
	data, err := c.GetPageFileBytes(0, 0)
	if err != nil {
		t.Fatalf("expected no error for an absent page file: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for an absent page file")
	}
}
