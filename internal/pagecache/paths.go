package pagecache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/raida-consortium/raida-server/internal/util"
)

// pagePath builds {basePath}/Data/{denomIdx:02x}/{(pageNo>>8):02x}/{pageNo:04x}.bin,
// per spec.md §6.
func pagePath(basePath string, denomIdx int, pageNo uint32) string {
	return filepath.Join(basePath, "Data",
		fmt.Sprintf("%02x", denomIdx),
		fmt.Sprintf("%02x", pageNo>>8),
		fmt.Sprintf("%04x.bin", pageNo&0xFFFF))
}

// readPageFile reads a page file, zero-filling if it is absent or shorter
// than util.PageDataSize bytes (spec.md §4.B).
func readPageFile(basePath string, denomIdx int, pageNo uint32) ([util.PageDataSize]byte, error) {
	var data [util.PageDataSize]byte
	path := pagePath(basePath, denomIdx, pageNo)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return data, fmt.Errorf("pagecache: read %s: %w", path, err)
	}
	copy(data[:], raw)
	return data, nil
}

// ReadPageFileBytes reads a page file's raw bytes for callers outside the
// cache (internal/merkle's tree builder and GetPageFileBytes). It returns
// (nil, nil) if the file is absent, matching spec.md §4.I's "or zeros if
// the file is absent" leaf rule without allocating a zero buffer the
// caller does not need.
func ReadPageFileBytes(basePath string, denomIdx int, pageNo uint32) ([]byte, error) {
	path := pagePath(basePath, denomIdx, pageNo)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pagecache: read %s: %w", path, err)
	}
	return raw, nil
}

// maxSyncAttempts bounds the retry loop in writePageFile (spec.md §4.B:
// "retrying on transient write errors up to a small bounded number of
// attempts").
const maxSyncAttempts = 3

// writePageFile persists a page's data to disk, creating parent
// directories as needed and retrying transient failures a bounded number
// of times.
func writePageFile(basePath string, denomIdx int, pageNo uint32, data *[util.PageDataSize]byte) error {
	path := pagePath(basePath, denomIdx, pageNo)
	var lastErr error
	for attempt := 0; attempt < maxSyncAttempts; attempt++ {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			lastErr = err
			continue
		}
		if err := os.WriteFile(path, data[:], 0o640); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("pagecache: write %s after %d attempts: %w", path, maxSyncAttempts, lastErr)
}
