// Package fs implements the virtual filesystem: in-memory nodes with
// reference counting, superblocks with a per-superblock node cache,
// mount composition, path walking, open files, and the special file
// nodes (block, tty, pipe, fifo) that present the same node surface
// without a backing superblock.
package fs

import "github.com/jacobsa/syncutil"

const cacheMinCap = 32

// deleted marks a slot whose node was evicted; probing continues past it.
var deleted = &Vnode_t{}

/// Nodecache_t is the per-superblock open-addressed node table keyed by
/// (superblock id, node id). A get-or-miss that misses leaves the cache
/// locked so that the caller can read the node from storage and register
/// it without racing another miss.
type Nodecache_t struct {
	mu    syncutil.InvariantMutex
	nodes []*Vnode_t
	count int
}

/// Mkcache creates an empty node cache.
func Mkcache() *Nodecache_t {
	nc := &Nodecache_t{nodes: make([]*Vnode_t, cacheMinCap)}
	nc.mu = syncutil.NewInvariantMutex(nc.checkInvariants)
	return nc
}

func (nc *Nodecache_t) checkInvariants() {
	live := 0
	for _, n := range nc.nodes {
		if n != nil && n != deleted {
			live++
			if n.Ref <= 0 {
				panic("cached node without references")
			}
		}
	}
	if live != nc.count {
		panic("node cache count out of sync")
	}
}

func cachehash(sbid, nodeid uint64) uint64 {
	h := sbid*0x9e3779b97f4a7c15 ^ nodeid
	h ^= h >> 29
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 32
	return h
}

func (nc *Nodecache_t) findidx(sbid, nodeid uint64) int {
	c := len(nc.nodes)
	idx := int(cachehash(sbid, nodeid) % uint64(c))
	for {
		n := nc.nodes[idx]
		if n == nil {
			return idx
		}
		if n != deleted && n.Stat.Id == nodeid && n.Sb.Id == sbid {
			return idx
		}
		idx = (idx + 1) % c
	}
}

func (nc *Nodecache_t) insertidx(n *Vnode_t) int {
	c := len(nc.nodes)
	idx := int(cachehash(n.Sb.Id, n.Stat.Id) % uint64(c))
	for nc.nodes[idx] != nil && nc.nodes[idx] != deleted {
		idx = (idx + 1) % c
	}
	return idx
}

func (nc *Nodecache_t) rebuild(newcap int) {
	old := nc.nodes
	nc.nodes = make([]*Vnode_t, newcap)
	for _, n := range old {
		if n != nil && n != deleted {
			nc.nodes[nc.insertidx(n)] = n
		}
	}
}

func (nc *Nodecache_t) testForResize() {
	c := len(nc.nodes)
	if c < cacheMinCap {
		nc.rebuild(cacheMinCap)
	} else if c > cacheMinCap && nc.count*4 < c {
		nc.rebuild(c / 2)
	} else if nc.count*3 > c*2 {
		nc.rebuild(c + c/2)
	}
}

/// Getorlock looks up (sbid, nodeid). On a hit the node's reference
/// count is incremented and the cache unlocked. On a miss it returns nil
/// with the cache still locked; the caller must call Register or Unlock.
func (nc *Nodecache_t) Getorlock(sbid, nodeid uint64) *Vnode_t {
	nc.mu.Lock()
	idx := nc.findidx(sbid, nodeid)
	if n := nc.nodes[idx]; n != nil && n != deleted {
		n.Ref++
		nc.mu.Unlock()
		return n
	}
	return nil
}

/// Register adds a freshly read node holding one reference and unlocks
/// the cache. Only valid after a missing Getorlock.
func (nc *Nodecache_t) Register(n *Vnode_t) {
	if n.Ref != 1 {
		panic("registering node with bad refcount")
	}
	nc.testForResize()
	nc.nodes[nc.insertidx(n)] = n
	nc.count++
	nc.mu.Unlock()
}

/// Unlock releases the cache after a failed miss.
func (nc *Nodecache_t) Unlock() {
	nc.mu.Unlock()
}

/// Copynode takes one more reference on a node and returns the new
/// count. The node need not be stored in the table (the root node is
/// not).
func (nc *Nodecache_t) Copynode(n *Vnode_t) int {
	nc.mu.Lock()
	n.Ref++
	ref := n.Ref
	nc.mu.Unlock()
	return ref
}

/// Closenode drops one reference; at zero the node leaves the table.
func (nc *Nodecache_t) Closenode(n *Vnode_t) int {
	nc.mu.Lock()
	n.Ref--
	ref := n.Ref
	if ref == 0 {
		idx := nc.findidx(n.Sb.Id, n.Stat.Id)
		if nc.nodes[idx] == n {
			nc.nodes[idx] = deleted
			nc.count--
		}
	}
	nc.mu.Unlock()
	return ref
}

/// Livecount returns the number of cached nodes.
func (nc *Nodecache_t) Livecount() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.count
}
