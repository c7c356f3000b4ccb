package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// pageTableBucketSize is the bucket capacity of the page table's
// extendible hash directory
const pageTableBucketSize = 8

// BufferPoolManager manages a fixed pool of in-memory frames backed by
// a PageStore. Resident pages are indexed by an extendible hash table
// (pageID to frameID) and eviction is decided by the LRU-K replacer.
// A single latch serializes all pool operations, matching the
// serialization the replacer and page table themselves guarantee.
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize uint32
	pages []*Page // frameID -> resident page
	pageTable *ExtendibleHashTable[uint32, uint32]
	replacer *LRUKReplacer
	freeList []uint32
	disk PageStore
	metrics *Metrics
	flushWorkers int
}

// NewBufferPoolManager creates a buffer pool with poolSize frames,
// backed by disk, evicting with LRU-K for the given K
func NewBufferPoolManager(poolSize uint32, disk PageStore, replacerK uint32) (*BufferPoolManager, error) {
	if poolSize == 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if replacerK == 0 {
		return nil, fmt.Errorf("replacer K must be greater than 0")
	}

	bpm := &BufferPoolManager{
		poolSize: poolSize,
		pages: make([]*Page, poolSize),
		pageTable: NewExtendibleHashTable[uint32, uint32](pageTableBucketSize),
		replacer: NewLRUKReplacer(poolSize, replacerK),
		freeList: make([]uint32, 0, poolSize),
		disk: disk,
		metrics: NewMetrics(),
		flushWorkers: 4,
	}

	bpm.pageTable.SetMetrics(bpm.metrics)

	// Initially, every frame is free
	for i := uint32(0); i < poolSize; i++ {
		bpm.pages[i] = NewPage()
		bpm.freeList = append(bpm.freeList, i)
	}

	return bpm, nil
}

// NewBufferPoolManagerFromConfig builds the page store and buffer pool
// described by cfg. The data file lives under cfg.DataDirectory.
func NewBufferPoolManagerFromConfig(cfg *Config) (*BufferPoolManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	disk, err := newPageStoreFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	bpm, err := NewBufferPoolManager(cfg.BufferPoolSize, disk, cfg.ReplacerK)
	if err != nil {
		disk.Close()
		return nil, err
	}

	bpm.flushWorkers = cfg.FlushWorkers
	bpm.pageTable = NewExtendibleHashTable[uint32, uint32](cfg.BucketSize)
	bpm.pageTable.SetMetrics(bpm.metrics)
	return bpm, nil
}

// newPageStoreFromConfig picks the disk manager variant for cfg
func newPageStoreFromConfig(cfg *Config) (PageStore, error) {
	dataFile := filepath.Join(cfg.DataDirectory, "bustub.db")
	if cfg.UseMmap {
		return newMmapPageStore(dataFile)
	}
	return NewDiskManagerWithCompression(dataFile, cfg.CompressionType())
}

// NewPage allocates a page on disk and pins it into a frame.
// Fails with ErrCodeNoFreeFrames when every frame is pinned.
func (bpm *BufferPoolManager) NewPage() (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.acquireFrame("NewPage")
	if err != nil {
		return nil, err
	}

	pageID := bpm.disk.AllocatePage()

	page := bpm.pages[frameID]
	page.reset(pageID)
	page.pin()

	if err := bpm.pageTable.Insert(pageID, frameID); err != nil {
		return nil, err
	}
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return page, nil
}

// FetchPage returns the resident page for pageID, reading it from disk
// if necessary. The returned page is pinned; callers must UnpinPage.
func (bpm *BufferPoolManager) FetchPage(pageID uint32) (*Page, error) {
	start := time.Now()
	defer func() {
		bpm.metrics.RecordPageFetchLatency(time.Since(start))
	}()

	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable.Find(pageID); ok {
		bpm.metrics.RecordCacheHit()

		page := bpm.pages[frameID]
		page.pin()
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		return page, nil
	}

	bpm.metrics.RecordCacheMiss()

	frameID, err := bpm.acquireFrame("FetchPage")
	if err != nil {
		return nil, err
	}

	data, err := bpm.disk.ReadPage(pageID)
	if err != nil {
		// Put the frame back; nothing was loaded into it
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, err
	}

	page := bpm.pages[frameID]
	page.reset(pageID)
	page.WriteData(data)
	page.pin()

	if err := bpm.pageTable.Insert(pageID, frameID); err != nil {
		return nil, err
	}
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return page, nil
}

// UnpinPage drops one pin on a page, optionally marking it dirty.
// Returns false if the page is not resident or was not pinned.
// The last unpin makes the frame evictable.
func (bpm *BufferPoolManager) UnpinPage(pageID uint32, dirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}

	page := bpm.pages[frameID]
	if page.PinCount() == 0 {
		return false
	}

	page.unpin()
	if dirty {
		page.SetDirty(true)
	}

	if page.PinCount() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}

	return true
}

// FlushPage writes a resident page to disk regardless of its pin count
// and clears its dirty flag
func (bpm *BufferPoolManager) FlushPage(pageID uint32) error {
	start := time.Now()
	defer func() {
		bpm.metrics.RecordPageFlushLatency(time.Since(start))
	}()

	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotFound("FlushPage", pageID)
	}

	return bpm.flushFrame(frameID)
}

// flushFrame writes one frame's page out. Caller must hold the latch.
func (bpm *BufferPoolManager) flushFrame(frameID uint32) error {
	page := bpm.pages[frameID]

	if err := bpm.disk.WritePage(page.ID(), page.Data()); err != nil {
		return err
	}

	page.SetDirty(false)
	return nil
}

// FlushAllPages writes every dirty resident page to disk.
// Page images are snapshotted under the latch, then written
// concurrently by a bounded worker group.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()

	dirty := make([]PageWrite, 0)
	flushed := make([]*Page, 0)
	for _, page := range bpm.pages {
		if page.ID() != InvalidPageID && page.IsDirty() {
			dirty = append(dirty, PageWrite{PageID: page.ID(), Data: page.Data()})
			flushed = append(flushed, page)
		}
	}
	bpm.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(bpm.flushWorkers)

	for _, pw := range dirty {
		pw := pw
		g.Go(func() error {
			bpm.metrics.RecordDirtyPageFlush()
			return bpm.disk.WritePage(pw.PageID, pw.Data)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to flush pages: %w", err)
	}

	for _, page := range flushed {
		page.SetDirty(false)
	}

	return nil
}

// DeletePage drops a page from the pool and returns its frame to the
// free list. Returns true if the page is absent, false (no error) if
// it is pinned.
func (bpm *BufferPoolManager) DeletePage(pageID uint32) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}

	page := bpm.pages[frameID]
	if page.PinCount() != 0 {
		return false, nil
	}

	if err := bpm.replacer.Remove(frameID); err != nil {
		return false, err
	}

	bpm.pageTable.Remove(pageID)
	page.reset(InvalidPageID)
	bpm.freeList = append(bpm.freeList, frameID)

	return true, nil
}

// acquireFrame returns a frame to load a page into: a free frame if one
// exists, otherwise an evicted one. The evicted frame's page is flushed
// if dirty and removed from the page table. Caller must hold the latch.
func (bpm *BufferPoolManager) acquireFrame(op string) (uint32, error) {
	if len(bpm.freeList) > 0 {
		frameID := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, nil
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrames(op)
	}

	bpm.metrics.RecordPageEviction()

	victim := bpm.pages[frameID]
	if victim.IsDirty() {
		bpm.metrics.RecordDirtyPageFlush()
		if err := bpm.flushFrame(frameID); err != nil {
			return 0, fmt.Errorf("failed to flush victim page: %w", err)
		}
	}

	bpm.pageTable.Remove(victim.ID())
	return frameID, nil
}

// Size returns the number of frames whose pages could be evicted
func (bpm *BufferPoolManager) Size() uint32 {
	return bpm.replacer.Size()
}

// PoolSize returns the total number of frames
func (bpm *BufferPoolManager) PoolSize() uint32 {
	return bpm.poolSize
}

// Metrics returns the buffer pool metrics
func (bpm *BufferPoolManager) Metrics() *Metrics {
	return bpm.metrics
}

// Close flushes all dirty pages and closes the page store
func (bpm *BufferPoolManager) Close() error {
	if err := bpm.FlushAllPages(); err != nil {
		return err
	}
	return bpm.disk.Close()
}
