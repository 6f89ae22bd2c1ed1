package nexthop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
)

func ringOf(t *testing.T, names ...string) *nexthop.HostGroupRing {
	t.Helper()
	return nexthop.NewHostGroupRing(hostsFor(names...))
}

func TestConsistentHashSelector_FirstIsDeterministic(t *testing.T) {
	ring := ringOf(t, "A", "B", "C")
	sel := nexthop.NewConsistentHashSelector(ring, 64)

	first, ok := sel.First(12345)
	require.True(t, ok)

	again, ok := sel.First(12345)
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestConsistentHashSelector_NextSkipsVisited(t *testing.T) {
	ring := ringOf(t, "A", "B", "C")
	sel := nexthop.NewConsistentHashSelector(ring, 64)

	first, ok := sel.First(999)
	require.True(t, ok)

	skip := map[int]bool{first: true}
	next, ok := sel.Next(999, skip)
	require.True(t, ok)
	assert.NotEqual(t, first, next)
}

func TestConsistentHashSelector_NextExhaustsWhenAllSkipped(t *testing.T) {
	ring := ringOf(t, "A", "B")
	sel := nexthop.NewConsistentHashSelector(ring, 64)

	_, ok := sel.Next(42, map[int]bool{0: true, 1: true})
	assert.False(t, ok)
}

func TestConsistentHashSelector_SingleHostAlwaysWins(t *testing.T) {
	ring := ringOf(t, "A")
	sel := nexthop.NewConsistentHashSelector(ring, 16)

	for _, fp := range []uint64{0, 1, 1 << 32, ^uint64(0)} {
		host, ok := sel.First(fp)
		require.True(t, ok)
		assert.Equal(t, 0, host)
	}
}

func TestConsistentHashSelector_NextCoversEveryHostEventually(t *testing.T) {
	ring := ringOf(t, "A", "B", "C", "D")
	sel := nexthop.NewConsistentHashSelector(ring, 128)

	fp := uint64(777)
	first, ok := sel.First(fp)
	require.True(t, ok)

	visited := map[int]bool{first: true}
	seen := map[int]bool{first: true}
	for len(seen) < 4 {
		next, ok := sel.Next(fp, visited)
		require.True(t, ok, "must find an unvisited host until all are seen")
		seen[next] = true
		visited[next] = true
	}
	assert.Len(t, seen, 4)
}
