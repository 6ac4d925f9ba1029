package fs

import "goros/defs"
import "goros/ustr"
import "goros/dev"
import "goros/util"

// blknode_t adapts a block device to the node surface with byte
// granularity: whole aligned sectors go straight to the device,
// unaligned heads and tails are read-modify-written through a sector
// buffer.
type blknode_t struct {
	dev dev.Blockdev_i
}

/// Mkblknode wraps a block device in a special node overlaying real.
/// The reference to real is donated.
func Mkblknode(d dev.Blockdev_i, real *Vnode_t) *Vnode_t {
	ops := &blknode_t{dev: d}
	n := Mkspecial(ops, real)
	n.Stat.Size = d.Size()
	n.Stat.Blocksize = uint64(d.Sectorsize())
	n.Stat.Blocks = d.Size() / uint64(d.Sectorsize())
	n.Priv = ops
	return n
}

func (b *blknode_t) Free(n *Vnode_t) {
	if n.Real != nil && n.Real != n {
		n.Real.Refdown()
	}
}

func (b *blknode_t) transfer(io Userio_i, off int, write bool) (int, defs.Err_t) {
	ss := b.dev.Sectorsize()
	size := b.dev.Size()
	left := io.Remain()
	if off < 0 || uint64(off) >= size {
		return 0, 0
	}
	if uint64(off)+uint64(left) > size {
		left = int(size - uint64(off))
	}
	tmp := make([]uint8, ss)
	done := 0
	for left > 0 {
		soff := off % ss
		cnt := util.Min(left, ss-soff)
		base := uint64(off - soff)
		if !write || cnt < ss {
			if err := b.dev.Readat(tmp, base); err != 0 {
				return done, err
			}
		}
		if write {
			if c, err := io.Uioread(tmp[soff : soff+cnt]); err != 0 {
				return done, err
			} else if c != cnt {
				return done, -defs.EIO
			}
			if err := b.dev.Writeat(tmp, base); err != 0 {
				return done, err
			}
		} else {
			if c, err := io.Uiowrite(tmp[soff : soff+cnt]); err != 0 {
				return done, err
			} else if c != cnt {
				return done, -defs.EIO
			}
		}
		off += cnt
		left -= cnt
		done += cnt
	}
	return done, 0
}

func (b *blknode_t) Readat(n *Vnode_t, dst Userio_i, off int) (int, defs.Err_t) {
	return b.transfer(dst, off, false)
}

func (b *blknode_t) Writeat(n *Vnode_t, src Userio_i, off int) (int, defs.Err_t) {
	return b.transfer(src, off, true)
}

func (b *blknode_t) Trunc(n *Vnode_t, length int) defs.Err_t {
	return -defs.EINVAL
}

func (b *blknode_t) Readdirat(n *Vnode_t, dst Userio_i, off int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}

func (b *blknode_t) Lookup(n *Vnode_t, name ustr.Ustr) (uint64, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func (b *blknode_t) Link(n *Vnode_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t {
	return -defs.ENOTDIR
}

func (b *blknode_t) Unlink(n *Vnode_t, name ustr.Ustr) defs.Err_t {
	return -defs.ENOTDIR
}
