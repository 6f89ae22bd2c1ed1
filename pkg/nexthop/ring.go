package nexthop

// HostGroupRing is one ordered, non-empty sequence of HostRecords, one
// tier of a strategy's failover hierarchy. It is a linear,
// load-order-stable backing store used both directly by the strategy
// and as the input to a ConsistentHashSelector.
type HostGroupRing struct {
	hosts []*HostRecord
}

// NewHostGroupRing builds a ring from hosts in load order. hosts must be
// non-empty; callers validate that invariant before construction.
func NewHostGroupRing(hosts []*HostRecord) *HostGroupRing {
	return &HostGroupRing{hosts: hosts}
}

// Len returns the number of hosts in the ring.
func (r *HostGroupRing) Len() int {
	return len(r.hosts)
}

// At returns the host at index i, in load order.
func (r *HostGroupRing) At(i int) *HostRecord {
	return r.hosts[i]
}

// Iter returns the hosts in stable, load-order-matching order. The
// returned slice is a read-only view; callers must not mutate it.
func (r *HostGroupRing) Iter() []*HostRecord {
	return r.hosts
}
