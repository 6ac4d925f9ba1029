package fs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkcachednode(sb *Superblock_t, id uint64) *Vnode_t {
	n := &Vnode_t{Sb: sb}
	n.Stat.Id = id
	n.Real = n
	return n
}

func TestCacheGetMissAndRegister(t *testing.T) {
	sb := &Superblock_t{Id: 1}
	nc := Mkcache()
	require.Nil(t, nc.Getorlock(1, 10))
	n := mkcachednode(sb, 10)
	n.Ref = 1
	nc.Register(n)
	got := nc.Getorlock(1, 10)
	require.Same(t, n, got)
	assert.Equal(t, 2, n.Ref)
	// a different superblock id misses
	require.Nil(t, nc.Getorlock(2, 10))
	nc.Unlock()
}

func TestCacheCloseEvictsAtZero(t *testing.T) {
	sb := &Superblock_t{Id: 1}
	nc := Mkcache()
	require.Nil(t, nc.Getorlock(1, 5))
	n := mkcachednode(sb, 5)
	n.Ref = 1
	nc.Register(n)
	assert.Equal(t, 1, nc.Livecount())
	assert.Equal(t, 0, nc.Closenode(n))
	assert.Equal(t, 0, nc.Livecount())
	require.Nil(t, nc.Getorlock(1, 5))
	nc.Unlock()
}

func TestCacheResizeKeepsEntries(t *testing.T) {
	sb := &Superblock_t{Id: 3}
	nc := Mkcache()
	var nodes []*Vnode_t
	for i := uint64(1); i <= 100; i++ {
		require.Nil(t, nc.Getorlock(3, i), "id %d", i)
		n := mkcachednode(sb, i)
		n.Ref = 1
		nc.Register(n)
		nodes = append(nodes, n)
	}
	assert.Equal(t, 100, nc.Livecount())
	for _, n := range nodes {
		got := nc.Getorlock(3, n.Stat.Id)
		require.Same(t, n, got, fmt.Sprintf("id %d", n.Stat.Id))
		nc.Closenode(n)
	}
	// drain; evicted slots become tombstones
	for _, n := range nodes {
		nc.Closenode(n)
	}
	assert.Equal(t, 0, nc.Livecount())
	for _, n := range nodes {
		require.Nil(t, nc.Getorlock(3, n.Stat.Id))
		nc.Unlock()
	}
}
