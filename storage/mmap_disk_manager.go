//go:build linux

package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskManager stores pages in a memory-mapped file. Reads and
// writes copy page images out of and into the mapping. Pages are stored
// uncompressed in PageSize slots; the mapping grows in large steps to
// keep remaps rare.
type MmapDiskManager struct {
	file       *os.File
	mmapData   []byte
	fileSize   int64
	nextPageID uint32
	mutex      sync.RWMutex
	growMutex  sync.Mutex // Serializes file growth and remapping
}

const (
	// Initial file size: 64MB (16K pages * 4KB)
	InitialFileSize = 64 * 1024 * 1024
	// Grow by 64MB when we run out of space
	FileGrowSize = 64 * 1024 * 1024
)

// NewMmapDiskManager creates a new memory-mapped disk manager
func NewMmapDiskManager(fileName string) (*MmapDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	fileSize := fileInfo.Size()

	// If file is new or too small, grow it to initial size
	if fileSize < InitialFileSize {
		if err := file.Truncate(InitialFileSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to grow file: %w", err)
		}
		fileSize = InitialFileSize
	}

	dm := &MmapDiskManager{
		file:       file,
		fileSize:   fileSize,
		nextPageID: uint32(fileInfo.Size() / PageSize),
	}
	if fileInfo.Size() == 0 {
		dm.nextPageID = 0
	}

	if err := dm.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	return dm, nil
}

// createMapping maps the whole file read-write into memory
func (dm *MmapDiskManager) createMapping() error {
	data, err := unix.Mmap(
		int(dm.file.Fd()),
		0,
		int(dm.fileSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}

	dm.mmapData = data
	return nil
}

// releaseMapping unmaps the current view
func (dm *MmapDiskManager) releaseMapping() error {
	if dm.mmapData == nil {
		return nil
	}
	if err := unix.Munmap(dm.mmapData); err != nil {
		return fmt.Errorf("failed to munmap file: %w", err)
	}
	dm.mmapData = nil
	return nil
}

// grow extends the file and remaps it so offset end fits
func (dm *MmapDiskManager) grow(end int64) error {
	dm.growMutex.Lock()
	defer dm.growMutex.Unlock()

	if end <= dm.fileSize {
		return nil // Another writer already grew the file
	}

	newSize := dm.fileSize
	for newSize < end {
		newSize += FileGrowSize
	}

	if err := dm.releaseMapping(); err != nil {
		return err
	}

	if err := dm.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}
	dm.fileSize = newSize

	return dm.createMapping()
}

// AllocatePage allocates a new page and returns its page ID
func (dm *MmapDiskManager) AllocatePage() uint32 {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	pageID := dm.nextPageID
	dm.nextPageID++
	return pageID
}

// ReadPage reads a page from the mapped file
func (dm *MmapDiskManager) ReadPage(pageID uint32) ([]byte, error) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	end := offset + PageSize
	if end > dm.fileSize {
		return nil, ErrDiskRead("ReadPage", pageID, fmt.Errorf("offset %d beyond file size %d", offset, dm.fileSize))
	}

	data := make([]byte, PageSize)
	copy(data, dm.mmapData[offset:end])
	return data, nil
}

// WritePage writes a page through the mapping and syncs it
func (dm *MmapDiskManager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	end := offset + PageSize
	if end > dm.fileSize {
		if err := dm.grow(end); err != nil {
			return ErrDiskWrite("WritePage", pageID, err)
		}
	}

	copy(dm.mmapData[offset:end], data)

	if err := unix.Msync(dm.mmapData[offset:end], unix.MS_SYNC); err != nil {
		return ErrDiskWrite("WritePage", pageID, err)
	}

	return nil
}

// WritePages writes multiple pages with a single sync over the mapping
func (dm *MmapDiskManager) WritePages(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data))
		}

		offset := int64(pw.PageID) * PageSize
		end := offset + PageSize
		if end > dm.fileSize {
			if err := dm.grow(end); err != nil {
				return ErrDiskWrite("WritePages", pw.PageID, err)
			}
		}

		copy(dm.mmapData[offset:end], pw.Data)
	}

	// Single msync for the whole batch
	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return ErrDiskWrite("WritePages", 0, err)
	}

	return nil
}

// Close unmaps and closes the underlying file
func (dm *MmapDiskManager) Close() error {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if err := dm.releaseMapping(); err != nil {
		return err
	}
	return dm.file.Close()
}
