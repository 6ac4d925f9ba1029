package fs

import "sync"

import "goros/defs"

/// Superops_i is the vtable of a mounted filesystem instance.
type Superops_i interface {
	Free(sb *Superblock_t)
	// Readnode reads node id from storage into a fresh Vnode_t with a
	// zero reference count.
	Readnode(sb *Superblock_t, id uint64) (*Vnode_t, defs.Err_t)
	Writenode(sb *Superblock_t, n *Vnode_t) defs.Err_t
	// Newnode allocates a fresh node id on storage.
	Newnode(sb *Superblock_t) (uint64, defs.Err_t)
	// Freenode releases the node's storage; its zones are already gone.
	Freenode(sb *Superblock_t, n *Vnode_t) defs.Err_t
}

/// Superblock_t represents a mounted filesystem instance. The root node
/// is pinned until the superblock itself is torn down; the superblock is
/// freed only once its reference count and node cache are both empty.
type Superblock_t struct {
	Ops     Superops_i
	Root    *Vnode_t
	Id      uint64
	ref     int
	reflock sync.Mutex
	cache   *Nodecache_t
	Priv    interface{}
}

/// Mksuper creates a superblock shell with one reference, taken by the
/// mounter.
func Mksuper(ops Superops_i, id uint64) *Superblock_t {
	return &Superblock_t{Ops: ops, Id: id, ref: 1, cache: Mkcache()}
}

/// Refup takes a reference on the superblock.
func (sb *Superblock_t) Refup() {
	sb.reflock.Lock()
	sb.ref++
	sb.reflock.Unlock()
}

/// Refdown drops a reference; the last one frees the root node and the
/// superblock.
func (sb *Superblock_t) Refdown() {
	sb.reflock.Lock()
	sb.ref--
	last := sb.ref == 0
	sb.reflock.Unlock()
	if last {
		if sb.Root.Ref != 0 {
			panic("freeing superblock with live root")
		}
		if sb.cache.Livecount() != 0 {
			panic("freeing superblock with cached nodes")
		}
		sb.Root.Ops.Free(sb.Root)
		sb.Ops.Free(sb)
	}
}

/// Readnode returns the node with the given id, reading it through the
/// node cache. The caller receives one reference.
func (sb *Superblock_t) Readnode(id uint64) (*Vnode_t, defs.Err_t) {
	if id == sb.Root.Stat.Id {
		sb.Copynode(sb.Root)
		return sb.Root, 0
	}
	if n := sb.cache.Getorlock(sb.Id, id); n != nil {
		return n, 0
	}
	// miss: the cache stays locked while we read from storage
	n, err := sb.Ops.Readnode(sb, id)
	if err != 0 {
		sb.cache.Unlock()
		return nil, err
	}
	if n.Ref != 0 {
		panic("fresh node with references")
	}
	n.Ref = 1
	sb.cache.Register(n)
	sb.Refup()
	return n, 0
}

/// Newnode allocates a new node on storage and reads it in.
func (sb *Superblock_t) Newnode() (*Vnode_t, defs.Err_t) {
	id, err := sb.Ops.Newnode(sb)
	if err != 0 {
		return nil, err
	}
	return sb.Readnode(id)
}

/// Copynode takes one more reference on a node of this superblock; the
/// first reference also pins the superblock.
func (sb *Superblock_t) Copynode(n *Vnode_t) {
	if sb.cache.Copynode(n) == 1 {
		sb.Refup()
	}
}

/// Closenode drops a node reference. At zero the node leaves the cache;
/// unlinked nodes release their storage, dirty nodes are written back,
/// and the superblock loses the pin this node held.
func (sb *Superblock_t) Closenode(n *Vnode_t) defs.Err_t {
	if sb.cache.Closenode(n) != 0 {
		return 0
	}
	if sb.Root == n {
		// the root is never evicted while mounted; dropping its last
		// reference only unpins the superblock
		sb.Refdown()
		return 0
	}
	var err defs.Err_t
	if n.Stat.Nlinks == 0 {
		// no links remain: free the zones, then the node record
		if e := n.Ops.Trunc(n, 0); e != 0 {
			err = e
		} else if e := sb.Ops.Freenode(sb, n); e != 0 {
			err = e
		}
	} else if n.Dirty {
		err = sb.Ops.Writenode(sb, n)
	}
	n.Ops.Free(n)
	sb.Refdown()
	return err
}
