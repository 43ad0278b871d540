package sfvfs

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// allocCaches holds the bounded allocation-policy caches and circular scan
// cursors described in spec.md §4.1: "a bounded map of groups known to have
// free blocks", "a bounded queue of known-free logical addresses", and two
// circular cursors remembering where the last scan stopped.
//
// The bounded caches are backed by golang-lru/v2's simplelru, the
// fixed-capacity working-set-with-eviction library several repos in the
// retrieval pack depend on for this exact concern (see DESIGN.md). We only
// ever add "if there is room" (never relying on simplelru's own eviction),
// so Len() against the configured capacity stands in for a Cap() method the
// library does not expose.
type allocCaches struct {
	freeGroups *lru.LRU[int, struct{}]
	freeAddrs  *lru.LRU[int32, struct{}]

	groupCacheSize int
	addrCacheSize  int

	groupCursor int   // next group id to resume scanning from
	addrCursor  int32 // next logical address to resume scanning from
}

func newAllocCaches(groupCacheSize, addrCacheSize int) *allocCaches {
	fg, _ := lru.NewLRU[int, struct{}](groupCacheSize, nil)
	fa, _ := lru.NewLRU[int32, struct{}](addrCacheSize, nil)
	return &allocCaches{
		freeGroups:     fg,
		freeAddrs:      fa,
		groupCacheSize: groupCacheSize,
		addrCacheSize:  addrCacheSize,
		groupCursor:    0,
		addrCursor:     1, // 0 is never a valid logical address
	}
}

// addGroupIfSpace adds id to the free-groups cache iff there is room and it
// is not already present (spec.md §4.1 deallocation policy).
func (c *allocCaches) addGroupIfSpace(id int) bool {
	if c.freeGroups.Contains(id) {
		return false
	}
	if c.freeGroups.Len() >= c.groupCacheSize {
		return false
	}
	c.freeGroups.Add(id, struct{}{})
	return true
}

// firstCachedGroup returns the first group the cache iterator yields, per
// the allocation tie-break rule, without removing it.
func (c *allocCaches) firstCachedGroup() (int, bool) {
	keys := c.freeGroups.Keys()
	if len(keys) == 0 {
		return 0, false
	}
	return keys[0], true
}

func (c *allocCaches) removeGroup(id int) {
	c.freeGroups.Remove(id)
}

func (c *allocCaches) groupCacheEmpty() bool {
	return c.freeGroups.Len() == 0
}

// addAddressIfSpace adds addr to the free-logical-address queue iff there is
// room and it is not already present.
func (c *allocCaches) addAddressIfSpace(addr int32) bool {
	if c.freeAddrs.Contains(addr) {
		return false
	}
	if c.freeAddrs.Len() >= c.addrCacheSize {
		return false
	}
	c.freeAddrs.Add(addr, struct{}{})
	return true
}

// takeAddress pops the first cached free logical address, if any.
func (c *allocCaches) takeAddress() (int32, bool) {
	keys := c.freeAddrs.Keys()
	if len(keys) == 0 {
		return 0, false
	}
	addr := keys[0]
	c.freeAddrs.Remove(addr)
	return addr, true
}

// invalidate clears both caches; their contents are stale after a compaction
// (spec.md §4.1 compaction algorithm step 7).
func (c *allocCaches) invalidate() {
	c.freeGroups.Purge()
	c.freeAddrs.Purge()
}
