//go:build !linux

package storage

import (
	"fmt"
)

// newMmapPageStore reports that mmap-backed storage is unavailable.
// The memory-mapped disk manager is Linux-only; other platforms use
// the file-backed DiskManager.
func newMmapPageStore(fileName string) (PageStore, error) {
	return nil, fmt.Errorf("mmap disk manager is only supported on linux")
}
