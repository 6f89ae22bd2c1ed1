package nexthop

import (
	"strconv"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/zeebo/xxh3"
)

// DefaultVirtualNodesPerWeight is the number of virtual nodes placed on
// the ring per unit of host weight.
const DefaultVirtualNodesPerWeight = 1024

type vnode struct {
	hostIndex  int
	vnodeIndex int
}

func less(a, b vnode) bool {
	if a.hostIndex != b.hostIndex {
		return a.hostIndex < b.hostIndex
	}
	return a.vnodeIndex < b.vnodeIndex
}

// ConsistentHashSelector is a weighted hash ring of virtual nodes over
// one HostGroupRing, keyed on HashSeed() with a 64-bit hash. It is built
// once at load and never mutated, so concurrent reads need no locking.
type ConsistentHashSelector struct {
	ring *HostGroupRing
	tree *treemap.Map // hash(uint64) -> []vnode, sorted by hash via the tree, tie-broken within a bucket

	// sortedHashes/sortedBuckets are a flattened, load-time cache of the
	// tree's contents used for the wrap-around scan Next performs; gods'
	// treemap has no "successor of a missing key" iterator, so we walk
	// this slice instead of re-querying the tree per step.
	sortedHashes  []uint64
	sortedBuckets [][]vnode
}

func uint64Comparator(a, b interface{}) int {
	x, y := a.(uint64), b.(uint64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// NewConsistentHashSelector materializes the ring for one HostGroupRing.
// vnodesPerWeight overrides DefaultVirtualNodesPerWeight when positive.
func NewConsistentHashSelector(ring *HostGroupRing, vnodesPerWeight int) *ConsistentHashSelector {
	if vnodesPerWeight <= 0 {
		vnodesPerWeight = DefaultVirtualNodesPerWeight
	}

	s := &ConsistentHashSelector{
		ring: ring,
		tree: treemap.NewWith(uint64Comparator),
	}

	for hostIdx := 0; hostIdx < ring.Len(); hostIdx++ {
		host := ring.At(hostIdx)
		weight := host.Weight
		if weight <= 0 {
			weight = 1.0
		}
		n := int(weight * float64(vnodesPerWeight))
		if n < 1 {
			n = 1
		}
		for v := 0; v < n; v++ {
			h := xxh3.HashString(host.HashSeed() + "-" + strconv.Itoa(v))
			existing, found := s.tree.Get(h)
			vn := vnode{hostIndex: hostIdx, vnodeIndex: v}
			if found {
				bucket := existing.([]vnode)
				s.tree.Put(h, append(bucket, vn))
			} else {
				s.tree.Put(h, []vnode{vn})
			}
		}
	}

	for _, k := range s.tree.Keys() {
		hash := k.(uint64)
		bucket, _ := s.tree.Get(hash)
		vns := bucket.([]vnode)
		sortBuckets(vns)
		s.sortedHashes = append(s.sortedHashes, hash)
		s.sortedBuckets = append(s.sortedBuckets, vns)
	}

	return s
}

func sortBuckets(vns []vnode) {
	for i := 1; i < len(vns); i++ {
		for j := i; j > 0 && less(vns[j], vns[j-1]); j-- {
			vns[j], vns[j-1] = vns[j-1], vns[j]
		}
	}
}

// ceilingIndex returns the index into sortedHashes of the smallest hash
// that is >= fingerprint, wrapping to 0 when fingerprint exceeds every
// hash on the ring.
func (s *ConsistentHashSelector) ceilingIndex(fingerprint uint64) int {
	lo, hi := 0, len(s.sortedHashes)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.sortedHashes[mid] < fingerprint {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(s.sortedHashes) {
		return 0
	}
	return lo
}

// First returns the host whose virtual node is the smallest hash >=
// fingerprint, wrapping. Ties within a bucket break by (host_index asc,
// vnode_index asc).
func (s *ConsistentHashSelector) First(fingerprint uint64) (hostIndex int, ok bool) {
	if len(s.sortedHashes) == 0 {
		return 0, false
	}
	idx := s.ceilingIndex(fingerprint)
	bucket := s.sortedBuckets[idx]
	return bucket[0].hostIndex, true
}

// Next returns the next host in ring order, starting from fingerprint's
// ceiling position, that is not present in skip. It returns ok=false once
// every distinct host index on the ring has been considered.
func (s *ConsistentHashSelector) Next(fingerprint uint64, skip map[int]bool) (hostIndex int, ok bool) {
	total := len(s.sortedHashes)
	if total == 0 {
		return 0, false
	}
	start := s.ceilingIndex(fingerprint)

	// One full pass around the virtual-node space is guaranteed to visit
	// every host at least once, so a single loop of length total bounds
	// the search.
	for i := 0; i < total; i++ {
		idx := (start + i) % total
		for _, vn := range s.sortedBuckets[idx] {
			if !skip[vn.hostIndex] {
				return vn.hostIndex, true
			}
		}
	}
	return 0, false
}
