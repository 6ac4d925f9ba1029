package fs

import "goros/defs"
import "goros/dev"
import "goros/ustr"
import "goros/util"

// ttynode_t adapts a character device to the node surface. Reads drain
// the device's receive buffer; an empty read reports EAGAIN and the
// caller parks on the device's readiness.
type ttynode_t struct {
	dev dev.Chardev_i
}

/// Mkttynode wraps a character device in a special node overlaying
/// real. The reference to real is donated.
func Mkttynode(d dev.Chardev_i, real *Vnode_t) *Vnode_t {
	ops := &ttynode_t{dev: d}
	n := Mkspecial(ops, real)
	n.Stat.Size = 0
	n.Stat.Blocksize = 0
	n.Stat.Blocks = 0
	n.Priv = ops
	return n
}

func (t *ttynode_t) Free(n *Vnode_t) {
	if n.Real != nil && n.Real != n {
		n.Real.Refdown()
	}
}

func (t *ttynode_t) Opready(write bool) bool {
	if write {
		return true
	}
	return t.dev.Readready()
}

/// Onready exposes the device readiness hook for blocking readers.
func (t *ttynode_t) Onready(f func()) {
	t.dev.Onready(f)
}

func (t *ttynode_t) Readat(n *Vnode_t, dst Userio_i, off int) (int, defs.Err_t) {
	want := dst.Remain()
	if want == 0 {
		return 0, 0
	}
	tmp := make([]uint8, util.Min(want, 512))
	done := 0
	for done < want {
		c, err := t.dev.Read(tmp[:util.Min(len(tmp), want-done)])
		if err != 0 {
			return done, err
		}
		if c == 0 {
			break
		}
		w, err := dst.Uiowrite(tmp[:c])
		done += w
		if err != 0 {
			return done, err
		}
	}
	if done == 0 {
		return 0, -defs.EAGAIN
	}
	return done, 0
}

func (t *ttynode_t) Writeat(n *Vnode_t, src Userio_i, off int) (int, defs.Err_t) {
	tmp := make([]uint8, 512)
	done := 0
	for src.Remain() > 0 {
		c, err := src.Uioread(tmp)
		if err != 0 {
			return done, err
		}
		if c == 0 {
			break
		}
		w, err := t.dev.Write(tmp[:c])
		done += w
		if err != 0 {
			return done, err
		}
	}
	return done, 0
}

func (t *ttynode_t) Trunc(n *Vnode_t, length int) defs.Err_t {
	return -defs.EINVAL
}

func (t *ttynode_t) Readdirat(n *Vnode_t, dst Userio_i, off int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}

func (t *ttynode_t) Lookup(n *Vnode_t, name ustr.Ustr) (uint64, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func (t *ttynode_t) Link(n *Vnode_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t {
	return -defs.ENOTDIR
}

func (t *ttynode_t) Unlink(n *Vnode_t, name ustr.Ustr) defs.Err_t {
	return -defs.ENOTDIR
}
