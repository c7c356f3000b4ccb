package storage

import (
	"fmt"
	"sync"
)

// frameInfo tracks the access history and eviction state of one frame
type frameInfo struct {
	// Timestamps of the most recent accesses, oldest first.
	// Never empty, never longer than k.
	history []uint64
	evictable bool
}

// LRUKReplacer implements the LRU-K replacement policy.
// For each frame it remembers the timestamps of the last K accesses.
// The victim is the frame with the largest backward K-distance: frames
// with fewer than K recorded accesses (infinite distance) are preferred,
// ties broken by the oldest recorded access.
type LRUKReplacer struct {
	mu sync.Mutex

	capacity uint32
	k uint32
	frames map[uint32]*frameInfo
	currTimestamp uint64
	currSize uint32 // number of evictable frames
}

// NewLRUKReplacer creates a new LRU-K replacer.
// capacity is the largest frame ID that will ever be recorded;
// k is the history window length.
func NewLRUKReplacer(capacity uint32, k uint32) *LRUKReplacer {
	if k == 0 {
		k = 1
	}
	return &LRUKReplacer{
		capacity: capacity,
		k: k,
		frames: make(map[uint32]*frameInfo),
	}
}

// RecordAccess records an access to the given frame at the current
// logical timestamp. The first access creates a non-evictable record.
// Panics if frameID exceeds the configured capacity: that is a
// programming error in the caller, not a runtime condition.
func (r *LRUKReplacer) RecordAccess(frameID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID > r.capacity {
		panic(fmt.Sprintf("LRUKReplacer: frame %d exceeds capacity %d", frameID, r.capacity))
	}

	info, exists := r.frames[frameID]
	if !exists {
		info = &frameInfo{history: make([]uint64, 0, r.k)}
		r.frames[frameID] = info
	}

	info.history = append(info.history, r.currTimestamp)
	r.currTimestamp++

	// Keep only the K most recent accesses
	if uint32(len(info.history)) > r.k {
		info.history = info.history[1:]
	}
}

// SetEvictable marks a frame as evictable or pinned.
// A no-op if the frame is not tracked or the flag already matches.
func (r *LRUKReplacer) SetEvictable(frameID uint32, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.frames[frameID]
	if !exists || info.evictable == evictable {
		return
	}

	info.evictable = evictable
	if evictable {
		r.currSize++
	} else {
		r.currSize--
	}
}

// Remove drops a frame and its access history from the replacer.
// Removing an untracked frame is a no-op; removing a frame that is
// currently non-evictable fails with ErrCodeFrameNotEvictable and
// leaves the record untouched.
func (r *LRUKReplacer) Remove(frameID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.frames[frameID]
	if !exists {
		return nil
	}

	if !info.evictable {
		return ErrFrameNotEvictable("Remove", frameID)
	}

	delete(r.frames, frameID)
	r.currSize--
	return nil
}

// Evict selects and removes the frame with the largest backward
// K-distance among evictable frames.
// Returns the frame ID and true, or 0 and false if nothing is evictable.
func (r *LRUKReplacer) Evict() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currSize == 0 {
		return 0, false
	}

	var victimID uint32
	var victim *frameInfo

	for frameID, info := range r.frames {
		if !info.evictable {
			continue
		}
		if victim == nil || r.prefer(info, victim) {
			victimID = frameID
			victim = info
		}
	}

	delete(r.frames, victimID)
	r.currSize--
	return victimID, true
}

// prefer reports whether a is a better eviction candidate than b.
// Frames with fewer than K accesses beat frames with a full history;
// within a class the older front-of-history timestamp wins. Timestamps
// are globally unique so there are no ties.
func (r *LRUKReplacer) prefer(a, b *frameInfo) bool {
	aInfant := uint32(len(a.history)) < r.k
	bInfant := uint32(len(b.history)) < r.k

	if aInfant != bInfant {
		return aInfant
	}
	return a.history[0] < b.history[0]
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}

// LRUKStats contains a snapshot of the replacer state
type LRUKStats struct {
	Tracked int // Frames with recorded history
	Evictable uint32 // Frames currently evictable
	K uint32 // History window length
	Capacity uint32 // Largest allowed frame ID
}

// Stats returns statistics about the replacer state
func (r *LRUKReplacer) Stats() LRUKStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return LRUKStats{
		Tracked: len(r.frames),
		Evictable: r.currSize,
		K: r.k,
		Capacity: r.capacity,
	}
}
