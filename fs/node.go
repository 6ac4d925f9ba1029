package fs

import "sync"

import "github.com/jacobsa/timeutil"

import "goros/defs"
import "goros/ustr"

/// Clock is the filesystem time source, replaced during boot and by
/// tests.
var Clock timeutil.Clock = timeutil.RealClock()

func nownsec() uint64 {
	return uint64(Clock.Now().UnixNano())
}

/// Cred_t identifies the caller for permission checks. A nil credential
/// is the kernel itself and bypasses every check, as does uid 0.
type Cred_t struct {
	Uid uint32
	Gid uint32
}

/// Userio_i moves bytes between the filesystem and its caller, either a
/// user address space or a kernel buffer.
type Userio_i interface {
	// Uioread copies from the caller's buffer into dst.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the caller's buffer.
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Nodeops_i is the vtable of a filesystem node implementation.
type Nodeops_i interface {
	Free(n *Vnode_t)
	Readat(n *Vnode_t, dst Userio_i, off int) (int, defs.Err_t)
	Writeat(n *Vnode_t, src Userio_i, off int) (int, defs.Err_t)
	Trunc(n *Vnode_t, length int) defs.Err_t
	// Readdirat reads the record at byte offset off; it returns the
	// bytes consumed from the directory and the bytes written to dst.
	Readdirat(n *Vnode_t, dst Userio_i, off int) (int, int, defs.Err_t)
	Lookup(n *Vnode_t, name ustr.Ustr) (uint64, defs.Err_t)
	Link(n *Vnode_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t
	Unlink(n *Vnode_t, name ustr.Ustr) defs.Err_t
}

/// Vnode_t is the in-memory node. Real nodes belong to a superblock and
/// live in its cache; special file nodes have a nil superblock, their
/// own reference lock and a Real pointer at the underlying inode.
type Vnode_t struct {
	Ops  Nodeops_i
	Sb   *Superblock_t
	Stat defs.Stat_t
	Ref  int
	sync.Mutex
	reflock sync.Mutex
	Mounted *Superblock_t
	Real    *Vnode_t
	Dirty   bool
	Priv    interface{}
}

/// Mknode initializes a real node owned by sb.
func Mknode(sb *Superblock_t, ops Nodeops_i, id uint64) *Vnode_t {
	n := &Vnode_t{Ops: ops, Sb: sb}
	n.Stat.Id = id
	n.Stat.Dev = sb.Id
	n.Real = n
	return n
}

/// Mkspecial initializes a cacheless special node overlaying real. The
/// node starts with one reference.
func Mkspecial(ops Nodeops_i, real *Vnode_t) *Vnode_t {
	n := &Vnode_t{Ops: ops, Ref: 1}
	if real != nil {
		n.Stat = real.Stat
	}
	n.Real = real
	return n
}

/// Canaccess checks the access request against the node's mode and the
/// caller's identity.
func Canaccess(stat *defs.Stat_t, cred *Cred_t, acc int) defs.Err_t {
	if cred != nil && cred.Uid != 0 {
		mode := stat.Mode
		deny := func(a, g, o defs.Mode_t) bool {
			return mode&a == 0 &&
				(mode&g == 0 || stat.Gid != cred.Gid) &&
				(mode&o == 0 || stat.Uid != cred.Uid)
		}
		if acc&defs.ACC_R != 0 && deny(defs.MODE_A_R, defs.MODE_G_R, defs.MODE_O_R) {
			return -defs.EACCES
		}
		if acc&defs.ACC_W != 0 && deny(defs.MODE_A_W, defs.MODE_G_W, defs.MODE_O_W) {
			return -defs.EACCES
		}
		if acc&defs.ACC_X != 0 && deny(defs.MODE_A_X, defs.MODE_G_X, defs.MODE_O_X) {
			return -defs.EACCES
		}
		if acc&defs.ACC_CHMOD != 0 && stat.Uid != cred.Uid {
			return -defs.EPERM
		}
		if acc&defs.ACC_CHOWN != 0 {
			return -defs.EPERM
		}
	}
	ft := defs.Filetype(stat.Mode)
	if acc&defs.ACC_REG != 0 && ft != defs.T_REG {
		return -defs.EINVAL
	}
	if acc&defs.ACC_DIR != 0 && ft != defs.T_DIR {
		return -defs.ENOTDIR
	}
	return 0
}

// checkAndTouch performs the access check and updates the time stamps
// for an operation with the given access bits.
func (n *Vnode_t) checkAndTouch(cred *Cred_t, acc int) defs.Err_t {
	n.Lock()
	if err := Canaccess(&n.Stat, cred, acc); err != 0 {
		n.Unlock()
		return err
	}
	now := nownsec()
	if acc&defs.ACC_W != 0 {
		n.Stat.Mtime = now
	}
	n.Stat.Atime = now
	n.Unlock()
	n.Writeback()
	return 0
}

/// Readat reads through the node vtable after an access check.
func (n *Vnode_t) Readat(cred *Cred_t, dst Userio_i, off int) (int, defs.Err_t) {
	if err := n.checkAndTouch(cred, defs.ACC_R); err != 0 {
		return 0, err
	}
	return n.Ops.Readat(n, dst, off)
}

/// Writeat writes through the node vtable after an access check.
func (n *Vnode_t) Writeat(cred *Cred_t, src Userio_i, off int) (int, defs.Err_t) {
	if err := n.checkAndTouch(cred, defs.ACC_W); err != 0 {
		return 0, err
	}
	return n.Ops.Writeat(n, src, off)
}

/// Readdirat reads a directory record after an access check.
func (n *Vnode_t) Readdirat(cred *Cred_t, dst Userio_i, off int) (int, int, defs.Err_t) {
	if err := n.checkAndTouch(cred, defs.ACC_R|defs.ACC_DIR); err != 0 {
		return 0, 0, err
	}
	return n.Ops.Readdirat(n, dst, off)
}

/// Trunc truncates the node after an access check.
func (n *Vnode_t) Trunc(cred *Cred_t, length int) defs.Err_t {
	if err := n.checkAndTouch(cred, defs.ACC_W); err != 0 {
		return err
	}
	return n.Ops.Trunc(n, length)
}

/// Lookup resolves name in this directory and reads the child through
/// the superblock's node cache.
func (n *Vnode_t) Lookup(cred *Cred_t, name ustr.Ustr) (*Vnode_t, defs.Err_t) {
	if err := n.checkAndTouch(cred, defs.ACC_X|defs.ACC_DIR); err != 0 {
		return nil, err
	}
	id, err := n.Ops.Lookup(n, name)
	if err != 0 {
		return nil, err
	}
	if n.Sb == nil {
		return nil, -defs.EINVAL
	}
	return n.Sb.Readnode(id)
}

/// Linkent adds a directory entry for entry and bumps its link count.
func (n *Vnode_t) Linkent(cred *Cred_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t {
	if err := n.checkAndTouch(cred, defs.ACC_W|defs.ACC_DIR); err != 0 {
		return err
	}
	entry.Lock()
	entry.Stat.Nlinks++
	entry.Unlock()
	entry.Writeback()
	if err := n.Ops.Link(n, name, entry); err != 0 {
		entry.Lock()
		entry.Stat.Nlinks--
		entry.Unlock()
		entry.Writeback()
		return err
	}
	return 0
}

/// Unlinkent removes the directory entry and drops entry's link count.
func (n *Vnode_t) Unlinkent(cred *Cred_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t {
	if err := n.checkAndTouch(cred, defs.ACC_W|defs.ACC_DIR); err != 0 {
		return err
	}
	if err := n.Ops.Unlink(n, name); err != 0 {
		return err
	}
	entry.Lock()
	entry.Stat.Nlinks--
	entry.Unlock()
	entry.Writeback()
	return 0
}

/// Writeback marks the node dirty; the store is rewritten when the last
/// reference goes away.
func (n *Vnode_t) Writeback() {
	if n.Sb == nil {
		return
	}
	n.Lock()
	n.Stat.Ctime = nownsec()
	n.Dirty = true
	n.Unlock()
}

/// Refup takes a reference on the node.
func (n *Vnode_t) Refup() {
	if n.Sb == nil {
		n.reflock.Lock()
		n.Ref++
		n.reflock.Unlock()
		return
	}
	n.Sb.Copynode(n)
}

/// Refdown drops a reference; the last one frees special nodes and runs
/// the cached-node teardown for real nodes.
func (n *Vnode_t) Refdown() defs.Err_t {
	if n.Sb == nil {
		n.reflock.Lock()
		n.Ref--
		last := n.Ref == 0
		n.reflock.Unlock()
		if last {
			n.Ops.Free(n)
		}
		return 0
	}
	return n.Sb.Closenode(n)
}
