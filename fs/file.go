package fs

import "sync"

import "goros/defs"
import "goros/ustr"

/// Vfsfile_t is one open file: a node reference, the open path, the file
/// offset and the open flags.
type Vfsfile_t struct {
	Node *Vnode_t
	Path ustr.Ustr
	sync.Mutex
	reflock sync.Mutex
	ref     int
	Offset  int
	Flags   int
}

/// Mkfile wraps a node reference in a new open file. The node reference
/// is donated by the caller.
func Mkfile(node *Vnode_t, path ustr.Ustr, flags int) *Vfsfile_t {
	return &Vfsfile_t{Node: node, Path: path, ref: 1, Flags: flags}
}

/// Refup takes a reference on the open file.
func (f *Vfsfile_t) Refup() {
	f.reflock.Lock()
	f.ref++
	f.reflock.Unlock()
}

/// Close drops a reference; the last one releases the node.
func (f *Vfsfile_t) Close() defs.Err_t {
	f.reflock.Lock()
	f.ref--
	last := f.ref == 0
	f.reflock.Unlock()
	if !last {
		return 0
	}
	if pn, ok := f.Node.Priv.(pipeend_i); ok {
		pn.Closeend(f.Flags&defs.O_WRITE != 0)
	}
	return f.Node.Refdown()
}

/// Blocking reports whether operations on this file should park instead
/// of failing with EAGAIN.
func (f *Vfsfile_t) Blocking() bool {
	return f.Flags&defs.O_NONBLOCK == 0
}

/// Read reads from the current offset and advances it.
func (f *Vfsfile_t) Read(cred *Cred_t, dst Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	n, err := f.Node.Readat(cred, dst, f.Offset)
	if err != 0 {
		return 0, err
	}
	f.Offset += n
	return n, 0
}

/// Write writes at the current offset (or at the end with O_APPEND) and
/// advances the offset.
func (f *Vfsfile_t) Write(cred *Cred_t, src Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	off := f.Offset
	if f.Flags&defs.O_APPEND != 0 {
		f.Node.Lock()
		off = int(f.Node.Stat.Size)
		f.Node.Unlock()
	}
	n, err := f.Node.Writeat(cred, src, off)
	if err != 0 {
		return 0, err
	}
	f.Offset = off + n
	return n, 0
}

/// Readat reads at an explicit offset without moving the file offset.
func (f *Vfsfile_t) Readat(cred *Cred_t, dst Userio_i, off int) (int, defs.Err_t) {
	return f.Node.Readat(cred, dst, off)
}

/// Writeat writes at an explicit offset without moving the file offset.
func (f *Vfsfile_t) Writeat(cred *Cred_t, src Userio_i, off int) (int, defs.Err_t) {
	return f.Node.Writeat(cred, src, off)
}

/// Seek repositions the file offset.
func (f *Vfsfile_t) Seek(off int, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.Offset = off
	case defs.SEEK_CUR:
		f.Offset += off
	case defs.SEEK_END:
		f.Node.Lock()
		f.Offset = int(f.Node.Stat.Size) + off
		f.Node.Unlock()
	default:
		return 0, -defs.EINVAL
	}
	return f.Offset, 0
}

/// Stat copies the stat record; special files report the underlying
/// real node.
func (f *Vfsfile_t) Stat(st *defs.Stat_t) defs.Err_t {
	n := f.Node
	real := n.Real
	if real == nil {
		real = n
	}
	real.Lock()
	*st = real.Stat
	real.Unlock()
	if real != n {
		// size and rdev come from the overlay
		n.Lock()
		st.Rdev = n.Stat.Rdev
		st.Size = n.Stat.Size
		n.Unlock()
	}
	return 0
}

/// Trunc truncates the file to the given length.
func (f *Vfsfile_t) Trunc(cred *Cred_t, length int) defs.Err_t {
	return f.Node.Trunc(cred, length)
}

/// Chmod changes the permission bits of the real node; the type nibble
/// is preserved.
func (f *Vfsfile_t) Chmod(cred *Cred_t, mode defs.Mode_t) defs.Err_t {
	n := f.Node.Real
	if n == nil {
		n = f.Node
	}
	n.Lock()
	if err := Canaccess(&n.Stat, cred, defs.ACC_CHMOD); err != 0 {
		n.Unlock()
		return err
	}
	n.Stat.Mode = n.Stat.Mode&defs.MODE_TYPE | mode&^defs.MODE_TYPE
	n.Unlock()
	n.Writeback()
	return 0
}

/// Chown changes the owner of the real node; negative ids leave the
/// field alone.
func (f *Vfsfile_t) Chown(cred *Cred_t, uid, gid int) defs.Err_t {
	n := f.Node.Real
	if n == nil {
		n = f.Node
	}
	n.Lock()
	if err := Canaccess(&n.Stat, cred, defs.ACC_CHOWN); err != 0 {
		n.Unlock()
		return err
	}
	if uid >= 0 {
		n.Stat.Uid = uint32(uid)
	}
	if gid >= 0 {
		n.Stat.Gid = uint32(gid)
	}
	n.Unlock()
	n.Writeback()
	return 0
}

/// Readdir reads the next directory record and advances the offset by
/// the bytes consumed in the directory.
func (f *Vfsfile_t) Readdir(cred *Cred_t, dst Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	consumed, written, err := f.Node.Readdirat(cred, dst, f.Offset)
	if err != 0 {
		return 0, err
	}
	f.Offset += consumed
	return written, 0
}

/// Ready reports whether a read (or write) would make progress now;
/// used to build wakeup predicates for blocking files.
func (f *Vfsfile_t) Ready(write bool) bool {
	if r, ok := f.Node.Priv.(ready_i); ok {
		return r.Opready(write)
	}
	return true
}

// ready_i is implemented by special node backends whose operations can
// block.
type ready_i interface {
	Opready(write bool) bool
}

// pipeend_i lets the file layer track which pipe end an opening or
// closing file holds.
type pipeend_i interface {
	Openend(write bool)
	Closeend(write bool)
}

/// Fakeubuf_t adapts a kernel byte slice to the Userio_i surface, for
/// kernel-internal reads and writes.
type Fakeubuf_t struct {
	buf []uint8
	off int
	len int
}

/// Mkfakebuf wraps buf for kernel I/O.
func Mkfakebuf(buf []uint8) *Fakeubuf_t {
	return &Fakeubuf_t{buf: buf, len: len(buf)}
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.buf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	c := copy(dst, fb.buf)
	fb.buf = fb.buf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	c := copy(fb.buf, src)
	fb.buf = fb.buf[c:]
	return c, 0
}
