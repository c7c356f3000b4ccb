package storage

import (
	"sync"
)

// maxLocalDepth bounds the split loop. A bucket whose keys still collide
// on their low 20 hash bits cannot realistically be separated by further
// splitting, so the insert fails instead of looping forever. The bound
// also caps the directory at 2^20 slots.
const maxLocalDepth = 20

// hashEntry is a single key/value pair inside a bucket
type hashEntry[K comparable, V any] struct {
	key K
	value V
}

// hashBucket holds up to size entries that share the low depth bits
// of their hash. Multiple directory slots may point at the same bucket
// while its depth is below the global depth.
type hashBucket[K comparable, V any] struct {
	depth int
	size int
	items []hashEntry[K, V]
}

func newHashBucket[K comparable, V any](size int, depth int) *hashBucket[K, V] {
	return &hashBucket[K, V]{
		depth: depth,
		size: size,
		items: make([]hashEntry[K, V], 0, size),
	}
}

// find returns the value stored under key, if present
func (b *hashBucket[K, V]) find(key K) (V, bool) {
	for i := range b.items {
		if b.items[i].key == key {
			return b.items[i].value, true
		}
	}
	var zero V
	return zero, false
}

// remove deletes the entry for key, preserving entry order
func (b *hashBucket[K, V]) remove(key K) bool {
	for i := range b.items {
		if b.items[i].key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites an existing key or appends a new entry.
// Returns false if the key is absent and the bucket is full.
func (b *hashBucket[K, V]) insert(key K, value V) bool {
	for i := range b.items {
		if b.items[i].key == key {
			b.items[i].value = value
			return true
		}
	}
	if len(b.items) >= b.size {
		return false
	}
	b.items = append(b.items, hashEntry[K, V]{key: key, value: value})
	return true
}

// ExtendibleHashTable is a directory-based extendible hash table.
// The directory has exactly 2^globalDepth slots; each slot points at a
// bucket whose local depth tells how many low hash bits its entries
// share. Buckets below the global depth are aliased by several slots,
// and splitting a full bucket either allocates a sibling or doubles
// the directory first.
//
// All operations serialize on a single table-wide mutex.
type ExtendibleHashTable[K comparable, V any] struct {
	mu sync.Mutex

	globalDepth int
	bucketSize int
	numBuckets int
	dir []*hashBucket[K, V]
	hasher HashFunc[K]

	splits uint64
	doublings uint64
	metrics *Metrics // optional, may be nil
}

// SetMetrics attaches a metrics tracker that is notified of bucket
// splits and directory doublings
func (t *ExtendibleHashTable[K, V]) SetMetrics(m *Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// NewExtendibleHashTable creates a table with the given bucket capacity
// and the default hasher. The table starts with a single bucket of
// local depth 0 and a one-slot directory.
func NewExtendibleHashTable[K comparable, V any](bucketSize int) *ExtendibleHashTable[K, V] {
	return NewExtendibleHashTableWithHasher[K, V](bucketSize, DefaultHash[K])
}

// NewExtendibleHashTableWithHasher creates a table using a caller-supplied
// hash function. The hasher must be deterministic and pure.
func NewExtendibleHashTableWithHasher[K comparable, V any](bucketSize int, hasher HashFunc[K]) *ExtendibleHashTable[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	t := &ExtendibleHashTable[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		hasher: hasher,
	}
	t.dir = []*hashBucket[K, V]{newHashBucket[K, V](bucketSize, 0)}
	return t
}

// indexOf computes the directory slot for a key from the low
// globalDepth bits of its hash. Caller must hold the lock.
func (t *ExtendibleHashTable[K, V]) indexOf(key K) uint64 {
	mask := uint64(1)<<t.globalDepth - 1
	return t.hasher(key) & mask
}

// Find returns the value stored under key. The value is returned by
// copy; the table never hands out references into its buckets.
func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dir[t.indexOf(key)].find(key)
}

// Remove deletes the entry for key and reports whether it was present.
// Buckets are never merged and the directory never shrinks.
func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dir[t.indexOf(key)].remove(key)
}

// Insert stores value under key, overwriting any previous value.
// A full target bucket is split until the new entry fits, doubling the
// directory whenever the bucket is already at the global depth.
// Fails with ErrCodeHashDepthExceeded only when the colliding keys
// cannot be separated within maxLocalDepth bits.
func (t *ExtendibleHashTable[K, V]) Insert(key K, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		index := t.indexOf(key)
		if t.dir[index].insert(key, value) {
			return nil
		}

		// Bucket is full: split it, then retry against the new layout
		if t.dir[index].depth == t.globalDepth {
			if t.globalDepth >= maxLocalDepth {
				return ErrHashDepthExceeded("Insert", t.globalDepth)
			}
			t.doubleDirectory()
		} else {
			t.dir[index].depth++
			t.splitBucket(t.dir[index])
		}
	}
}

// doubleDirectory appends a copy of the directory to itself and bumps
// the global depth. Existing bucket references are duplicated in order,
// so slot i and slot i+2^(old depth) alias the same bucket afterwards.
func (t *ExtendibleHashTable[K, V]) doubleDirectory() {
	oldSize := len(t.dir)
	t.dir = append(t.dir, t.dir[:oldSize]...)
	t.globalDepth++
	t.doublings++
	if t.metrics != nil {
		t.metrics.RecordDirectoryDoubling()
	}
}

// splitBucket allocates a sibling for a bucket whose depth was just
// incremented and redistributes entries between the two.
//
// Before the split every entry shared the low (depth-1) bits of its
// hash; that shared value is the bucket's home signature. Entries whose
// depth-bit signature still equals the home signature stay, the rest
// move to the sibling. Directory slots matching the home signature in
// the low (depth-1) bits but not in the low depth bits are repointed
// at the sibling.
func (t *ExtendibleHashTable[K, V]) splitBucket(bucket *hashBucket[K, V]) {
	depth := bucket.depth
	sibling := newHashBucket[K, V](t.bucketSize, depth)
	t.numBuckets++
	t.splits++
	if t.metrics != nil {
		t.metrics.RecordBucketSplit()
	}

	homeMask := uint64(1)<<(depth-1) - 1
	fullMask := uint64(1)<<depth - 1
	home := t.hasher(bucket.items[0].key) & homeMask

	kept := bucket.items[:0]
	for _, entry := range bucket.items {
		if t.hasher(entry.key)&fullMask == home {
			kept = append(kept, entry)
		} else {
			sibling.items = append(sibling.items, entry)
		}
	}
	bucket.items = kept

	for i := range t.dir {
		idx := uint64(i)
		if idx&homeMask == home && idx&fullMask != home {
			t.dir[i] = sibling
		}
	}
}

// GlobalDepth returns the number of directory index bits in use.
func (t *ExtendibleHashTable[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket referenced by the
// given directory slot.
func (t *ExtendibleHashTable[K, V]) LocalDepth(dirIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[dirIndex].depth
}

// NumBuckets returns the number of distinct buckets.
func (t *ExtendibleHashTable[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// TableStats contains statistics about the hash table state
type TableStats struct {
	GlobalDepth int // Directory index bits in use
	NumBuckets int // Distinct buckets
	DirectorySize int // Directory slots (2^GlobalDepth)
	Entries int // Stored key/value pairs
	Splits uint64 // Bucket splits performed
	Doublings uint64 // Directory doublings performed
}

// Stats returns statistics about the table state.
// Aliased buckets are counted once.
func (t *ExtendibleHashTable[K, V]) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := 0
	seen := make(map[*hashBucket[K, V]]bool, t.numBuckets)
	for _, b := range t.dir {
		if !seen[b] {
			seen[b] = true
			entries += len(b.items)
		}
	}

	return TableStats{
		GlobalDepth: t.globalDepth,
		NumBuckets: t.numBuckets,
		DirectorySize: len(t.dir),
		Entries: entries,
		Splits: t.splits,
		Doublings: t.doublings,
	}
}
