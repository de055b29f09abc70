package firewall

import (
	"sort"
	"sync"
)

// BlockRegistry holds the set of blocked UIDs. The set is only ever replaced
// wholesale: a new map is built and swapped in, so Contains never observes a
// partially populated set.
type BlockRegistry struct {
	mu  sync.RWMutex
	set map[int]struct{}
}

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{set: make(map[int]struct{})}
}

// Replace discards the current set and installs exactly the given UIDs.
// Negative values are ignored since they denote an unknown owner.
func (r *BlockRegistry) Replace(uids []int) {
	next := make(map[int]struct{}, len(uids))
	for _, uid := range uids {
		if uid < 0 {
			continue
		}
		next[uid] = struct{}{}
	}

	r.mu.Lock()
	r.set = next
	r.mu.Unlock()
}

func (r *BlockRegistry) Contains(uid int) bool {
	if uid < 0 {
		return false
	}
	r.mu.RLock()
	_, found := r.set[uid]
	r.mu.RUnlock()
	return found
}

func (r *BlockRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}

// Snapshot returns the blocked UIDs in ascending order.
func (r *BlockRegistry) Snapshot() []int {
	r.mu.RLock()
	uids := make([]int, 0, len(r.set))
	for uid := range r.set {
		uids = append(uids, uid)
	}
	r.mu.RUnlock()

	sort.Ints(uids)
	return uids
}
