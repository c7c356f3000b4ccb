package storage

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
)

func newTestBufferPool(t *testing.T, poolSize uint32, replacerK uint32) *BufferPoolManager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bpm.db")
	dm, err := NewDiskManager(path)
	if err != nil {
		t.Fatalf("Failed to create disk manager: %v", err)
	}

	bpm, err := NewBufferPoolManager(poolSize, dm, replacerK)
	if err != nil {
		t.Fatalf("Failed to create buffer pool: %v", err)
	}
	t.Cleanup(func() { bpm.Close() })

	return bpm
}

func TestBufferPoolNewPage(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	if page.ID() == InvalidPageID {
		t.Error("New page should have a valid ID")
	}
	if page.PinCount() != 1 {
		t.Errorf("Expected pin count 1, got %d", page.PinCount())
	}
	if bpm.Size() != 0 {
		t.Errorf("Pinned page should not be evictable, size is %d", bpm.Size())
	}
}

func TestBufferPoolRejectsBadParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	dm, err := NewDiskManager(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dm.Close()

	if _, err := NewBufferPoolManager(0, dm, 2); err == nil {
		t.Error("Expected error for zero pool size")
	}
	if _, err := NewBufferPoolManager(10, dm, 0); err == nil {
		t.Error("Expected error for zero replacer K")
	}
}

func TestBufferPoolFetchResidentPage(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := page.ID()

	fetched, err := bpm.FetchPage(pageID)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	if fetched != page {
		t.Error("Fetch of a resident page should return the same frame")
	}
	if fetched.PinCount() != 2 {
		t.Errorf("Expected pin count 2, got %d", fetched.PinCount())
	}
	if bpm.Metrics().GetCacheHits() != 1 {
		t.Errorf("Expected 1 cache hit, got %d", bpm.Metrics().GetCacheHits())
	}
}

func TestBufferPoolDataSurvivesEviction(t *testing.T) {
	bpm := newTestBufferPool(t, 3, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := page.ID()

	payload := bytes.Repeat([]byte("persist me "), 30)
	page.WriteData(payload)

	if !bpm.UnpinPage(pageID, true) {
		t.Fatal("UnpinPage failed")
	}

	// Fill the pool so the first page is evicted
	for i := 0; i < 3; i++ {
		p, err := bpm.NewPage()
		if err != nil {
			t.Fatal(err)
		}
		bpm.UnpinPage(p.ID(), false)
	}

	fetched, err := bpm.FetchPage(pageID)
	if err != nil {
		t.Fatalf("FetchPage after eviction failed: %v", err)
	}

	if !bytes.Equal(fetched.Data()[:len(payload)], payload) {
		t.Error("Page data lost across eviction")
	}
	if bpm.Metrics().GetPageEvictions() == 0 {
		t.Error("Expected evictions to have been recorded")
	}
}

func TestBufferPoolNoFreeFramesWhenAllPinned(t *testing.T) {
	bpm := newTestBufferPool(t, 3, 2)

	for i := 0; i < 3; i++ {
		if _, err := bpm.NewPage(); err != nil {
			t.Fatal(err)
		}
	}

	// Every frame is pinned: the next allocation must fail
	_, err := bpm.NewPage()
	if err == nil {
		t.Fatal("Expected error when all frames are pinned")
	}
	if !IsErrorCode(err, ErrCodeNoFreeFrames) {
		t.Errorf("Expected ErrCodeNoFreeFrames, got %v", err)
	}
}

func TestBufferPoolEvictionFollowsLRUK(t *testing.T) {
	bpm := newTestBufferPool(t, 3, 2)

	pages := make([]uint32, 3)
	for i := range pages {
		p, err := bpm.NewPage()
		if err != nil {
			t.Fatal(err)
		}
		pages[i] = p.ID()
	}

	// Re-access the first two pages so only the third has a single access
	bpm.UnpinPage(pages[0], false)
	bpm.UnpinPage(pages[1], false)
	bpm.UnpinPage(pages[2], false)
	if _, err := bpm.FetchPage(pages[0]); err != nil {
		t.Fatal(err)
	}
	bpm.UnpinPage(pages[0], false)
	if _, err := bpm.FetchPage(pages[1]); err != nil {
		t.Fatal(err)
	}
	bpm.UnpinPage(pages[1], false)

	// The third page has fewer than K accesses and must be the victim
	p, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := bpm.pageTable.Find(pages[2]); ok {
		t.Error("Expected the single-access page to have been evicted")
	}
	for _, id := range []uint32{pages[0], pages[1], p.ID()} {
		if _, ok := bpm.pageTable.Find(id); !ok {
			t.Errorf("Page %d should still be resident", id)
		}
	}
}

func TestBufferPoolUnpinPage(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := page.ID()

	if bpm.UnpinPage(9999, false) {
		t.Error("Unpinning an absent page should return false")
	}

	if !bpm.UnpinPage(pageID, true) {
		t.Error("UnpinPage should succeed for a pinned page")
	}
	if !page.IsDirty() {
		t.Error("Page should be dirty after unpin with dirty=true")
	}
	if bpm.Size() != 1 {
		t.Errorf("Fully unpinned page should be evictable, size is %d", bpm.Size())
	}

	if bpm.UnpinPage(pageID, false) {
		t.Error("Unpinning a page with zero pins should return false")
	}

	// A later clean unpin must not clear the dirty flag
	if _, err := bpm.FetchPage(pageID); err != nil {
		t.Fatal(err)
	}
	bpm.UnpinPage(pageID, false)
	if !page.IsDirty() {
		t.Error("Clean unpin cleared the dirty flag")
	}
}

func TestBufferPoolFlushPage(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	page.WriteData([]byte("flushed"))
	page.SetDirty(true)

	if err := bpm.FlushPage(page.ID()); err != nil {
		t.Fatalf("FlushPage failed: %v", err)
	}
	if page.IsDirty() {
		t.Error("Page should be clean after flush")
	}

	if err := bpm.FlushPage(12345); err == nil {
		t.Error("Expected error flushing an absent page")
	}
}

func TestBufferPoolFlushAllPages(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	ids := make([]uint32, 5)
	for i := range ids {
		p, err := bpm.NewPage()
		if err != nil {
			t.Fatal(err)
		}
		p.WriteData([]byte{byte(i + 1)})
		p.SetDirty(true)
		ids[i] = p.ID()
	}

	if err := bpm.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages failed: %v", err)
	}

	bpm.mu.Lock()
	for _, page := range bpm.pages {
		if page.IsDirty() {
			t.Errorf("Page %d still dirty after FlushAllPages", page.ID())
		}
	}
	bpm.mu.Unlock()

	if bpm.Metrics().GetDirtyPageFlushes() < 5 {
		t.Errorf("Expected at least 5 recorded flushes, got %d", bpm.Metrics().GetDirtyPageFlushes())
	}
}

func TestBufferPoolDeletePage(t *testing.T) {
	bpm := newTestBufferPool(t, 10, 2)

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pageID := page.ID()

	// Pinned pages cannot be deleted
	ok, err := bpm.DeletePage(pageID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Deleting a pinned page should return false")
	}

	bpm.UnpinPage(pageID, false)

	ok, err = bpm.DeletePage(pageID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Deleting an unpinned page should succeed")
	}

	if _, found := bpm.pageTable.Find(pageID); found {
		t.Error("Deleted page still in the page table")
	}

	// Deleting an absent page succeeds
	ok, err = bpm.DeletePage(pageID)
	if err != nil || !ok {
		t.Errorf("Deleting an absent page should return true, got (%v, %v)", ok, err)
	}
}

func TestBufferPoolFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDirectory = t.TempDir()
	cfg.BufferPoolSize = 16
	cfg.ReplacerK = 3
	cfg.Compression = "snappy"

	bpm, err := NewBufferPoolManagerFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewBufferPoolManagerFromConfig failed: %v", err)
	}
	defer bpm.Close()

	if bpm.PoolSize() != 16 {
		t.Errorf("Expected pool size 16, got %d", bpm.PoolSize())
	}

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	page.WriteData([]byte("configured"))
	bpm.UnpinPage(page.ID(), true)

	if err := bpm.FlushAllPages(); err != nil {
		t.Fatal(err)
	}
}

func TestBufferPoolFromConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferPoolSize = 0

	if _, err := NewBufferPoolManagerFromConfig(cfg); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestBufferPoolConcurrentFetch(t *testing.T) {
	bpm := newTestBufferPool(t, 20, 2)

	// Seed some pages and release them
	ids := make([]uint32, 10)
	for i := range ids {
		p, err := bpm.NewPage()
		if err != nil {
			t.Fatal(err)
		}
		p.WriteData([]byte{byte(i)})
		ids[i] = p.ID()
		bpm.UnpinPage(p.ID(), true)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := ids[(g+i)%len(ids)]
				page, err := bpm.FetchPage(id)
				if err != nil {
					t.Errorf("FetchPage(%d) failed: %v", id, err)
					return
				}
				if page.Data()[0] != byte((g+i)%len(ids)) {
					t.Errorf("Page %d holds wrong data", id)
					return
				}
				bpm.UnpinPage(id, false)
			}
		}(g)
	}
	wg.Wait()

	// All pages released: everything resident must be evictable again
	if bpm.Size() != 10 {
		t.Errorf("Expected 10 evictable frames, got %d", bpm.Size())
	}
}
