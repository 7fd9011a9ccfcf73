package paging

// DownCache is a fixed-capacity, ordered, write-behind buffer of references
// awaiting a batched store write. It performs no I/O of its own; it only
// batches for PagingEngine.flushDownCache.
type DownCache struct {
	capacity int
	refs     []*MessageReference
}

// NewDownCache returns an empty DownCache with the given capacity.
func NewDownCache(capacity int) *DownCache {
	return &DownCache{capacity: capacity}
}

// Add appends ref to the cache. The caller is responsible for flushing once
// Size() reaches Capacity() (§4.3's addToDownCache does this).
func (d *DownCache) Add(ref *MessageReference) {
	d.refs = append(d.refs, ref)
}

// Size returns the number of references currently buffered.
func (d *DownCache) Size() int { return len(d.refs) }

// Capacity returns the configured capacity.
func (d *DownCache) Capacity() int { return d.capacity }

// Full reports whether the cache has reached capacity.
func (d *DownCache) Full() bool { return len(d.refs) >= d.capacity }

// Drain returns the buffered references, in order, and empties the cache.
func (d *DownCache) Drain() []*MessageReference {
	out := d.refs
	d.refs = nil
	return out
}

// Clear empties the cache without returning its contents.
func (d *DownCache) Clear() {
	d.refs = nil
}
