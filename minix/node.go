package minix

import "sync"

import "goros/defs"
import "goros/fs"
import "goros/mem"
import "goros/ustr"
import "goros/util"

const maxLookupRead = 1 << 16

/// Minixnode_t is the engine side of a cached node: the ten zone slots
/// and the content lock serializing zone walks.
type Minixnode_t struct {
	sync.Mutex
	zones [10]uint32
}

type nodeops_t struct{}

func mknode(sb *fs.Superblock_t, id uint64) *fs.Vnode_t {
	n := fs.Mknode(sb, nodeops_t{}, id)
	n.Priv = &Minixnode_t{}
	return n
}

func nodepriv(n *fs.Vnode_t) (*Minixsuper_t, *Minixnode_t) {
	return super(n.Sb), n.Priv.(*Minixnode_t)
}

// zonevisit_t is called three times per visited zone slot: pre before
// descending (zone allocation during writes), the leaf call to transfer
// bytes, and post after descending (zone release during truncate).
type zonevisit_t func(zone *uint32, changed *bool, pos, size int,
	pre, post bool) defs.Err_t

func (m *Minixsuper_t) walkScan(pos *int, offset, depth int, table []uint32,
	changed *bool, cb zonevisit_t) defs.Err_t {
	for i := range table {
		size := BLOCKSIZE << (IPTRS_LOG2 * depth)
		start := *pos
		if offset < start+size {
			if err := cb(&table[i], changed, start, size, true, false); err != 0 {
				return err
			}
			if depth == 0 || table[i] == 0 {
				if err := cb(&table[i], changed, start, size, false, false); err != 0 {
					return err
				}
			} else {
				if err := m.walkRec(pos, offset, depth-1, table[i], cb); err != 0 {
					return err
				}
			}
			if err := cb(&table[i], changed, start, size, false, true); err != 0 {
				return err
			}
		}
		*pos = start + size
	}
	return 0
}

func (m *Minixsuper_t) walkRec(pos *int, offset, depth int, table uint32,
	cb zonevisit_t) defs.Err_t {
	pa, kerr := mem.Kheap.Kalloc(BLOCKSIZE)
	if kerr != 0 {
		return kerr
	}
	defer mem.Kheap.Kfree(pa)
	buf := mem.Kheap.Buf(pa)[:BLOCKSIZE]
	if err := m.devread(buf, Zoneoffset(table)); err != 0 {
		return err
	}
	entries := make([]uint32, NUM_IPTRS)
	for i := range entries {
		entries[i] = uint32(util.Readn(buf, 4, i*4))
	}
	changed := false
	err := m.walkScan(pos, offset, depth, entries, &changed, cb)
	if changed {
		for i, z := range entries {
			util.Writen(buf, 4, i*4, int(z))
		}
		if e := m.devwrite(buf, Zoneoffset(table)); e != 0 && err == 0 {
			err = e
		}
	}
	return err
}

// zonewalk runs the visitor over every zone slot whose byte range ends
// past offset. A visitor returns SUCCESS_EXIT to stop early; that is
// normalized to success here, after a changed inode is rewritten.
func (m *Minixsuper_t) zonewalk(n *fs.Vnode_t, mn *Minixnode_t, offset int,
	cb zonevisit_t) defs.Err_t {
	changed := false
	pos := 0
	err := m.walkScan(&pos, offset, 0, mn.zones[0:7], &changed, cb)
	if err == 0 {
		err = m.walkScan(&pos, offset, 1, mn.zones[7:8], &changed, cb)
	}
	if err == 0 {
		err = m.walkScan(&pos, offset, 2, mn.zones[8:9], &changed, cb)
	}
	if err == 0 {
		err = m.walkScan(&pos, offset, 3, mn.zones[9:10], &changed, cb)
	}
	if changed {
		if e := m.writeinode(n, mn, false); e != 0 && err == 0 {
			err = e
		}
	}
	if err == defs.SUCCESS_EXIT {
		err = 0
	}
	return err
}

type rwreq_t struct {
	m      *Minixsuper_t
	io     fs.Userio_i
	offset int
	left   int
	write  bool
}

func (r *rwreq_t) visit(zone *uint32, changed *bool, pos, size int,
	pre, post bool) defs.Err_t {
	if r.write && pre && *zone == 0 && r.left > 0 {
		nz, err := r.m.getFreeZone()
		if err != 0 {
			return err
		}
		zero := make([]uint8, BLOCKSIZE)
		if err := r.m.devwrite(zero, Zoneoffset(nz)); err != 0 {
			return err
		}
		*zone = nz
		*changed = true
	}
	if !pre && !post && r.left > 0 {
		fo := util.Max(r.offset, pos)
		boff := fo - pos
		cnt := util.Min(r.left, pos+size-fo)
		if r.write {
			buf := make([]uint8, cnt)
			if c, err := r.io.Uioread(buf); err != 0 {
				return err
			} else if c != cnt {
				return -defs.EIO
			}
			if err := r.m.devwrite(buf, Zoneoffset(*zone)+boff); err != 0 {
				return err
			}
		} else if *zone == 0 {
			// a hole reads as zeros
			zero := make([]uint8, util.Min(cnt, BLOCKSIZE))
			done := 0
			for done < cnt {
				c, err := r.io.Uiowrite(zero[:util.Min(len(zero), cnt-done)])
				if err != 0 {
					return err
				}
				done += c
			}
		} else {
			buf := make([]uint8, cnt)
			if err := r.m.devread(buf, Zoneoffset(*zone)+boff); err != 0 {
				return err
			}
			if c, err := r.io.Uiowrite(buf); err != 0 {
				return err
			} else if c != cnt {
				return -defs.EIO
			}
		}
		r.left -= cnt
	}
	if r.left == 0 {
		return defs.SUCCESS_EXIT
	}
	return 0
}

// rw transfers bytes with the node content lock already held.
func (m *Minixsuper_t) rw(n *fs.Vnode_t, mn *Minixnode_t, io fs.Userio_i,
	off int, write bool) (int, defs.Err_t) {
	length := io.Remain()
	if !write {
		n.Lock()
		size := int(n.Stat.Size)
		n.Unlock()
		if size < off {
			length = 0
		} else {
			length = util.Min(length, size-off)
		}
	}
	if length == 0 {
		return 0, 0
	}
	req := &rwreq_t{m: m, io: io, offset: off, left: length, write: write}
	if err := m.zonewalk(n, mn, off, req.visit); err != 0 {
		return 0, err
	}
	done := length - req.left
	if write {
		n.Lock()
		grew := off+done > int(n.Stat.Size)
		if grew {
			n.Stat.Size = uint64(off + done)
		}
		n.Unlock()
		if err := m.writeinode(n, mn, false); err != 0 {
			return done, err
		}
	}
	return done, 0
}

func (nodeops_t) Readat(n *fs.Vnode_t, dst fs.Userio_i, off int) (int, defs.Err_t) {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	return m.rw(n, mn, dst, off, false)
}

func (nodeops_t) Writeat(n *fs.Vnode_t, src fs.Userio_i, off int) (int, defs.Err_t) {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	return m.rw(n, mn, src, off, true)
}

type truncreq_t struct {
	m      *Minixsuper_t
	length int
}

func (r *truncreq_t) visit(zone *uint32, changed *bool, pos, size int,
	pre, post bool) defs.Err_t {
	if *zone == 0 {
		return 0
	}
	if pos >= r.length {
		// the zone's whole range lies past the new length
		if post {
			if err := r.m.freeZone(*zone); err != 0 {
				return err
			}
			*zone = 0
			*changed = true
		}
		return 0
	}
	if !pre && !post && size == BLOCKSIZE && pos+size > r.length {
		// the data zone straddling the new length: zero its tail
		boff := r.length - pos
		zero := make([]uint8, BLOCKSIZE-boff)
		return r.m.devwrite(zero, Zoneoffset(*zone)+boff)
	}
	return 0
}

// trunc shrinks or extends the node to length with the content lock
// held; zones wholly past the new length are released, with indirect
// tables freed as their last live child disappears.
func (m *Minixsuper_t) trunc(n *fs.Vnode_t, mn *Minixnode_t, length int) defs.Err_t {
	req := &truncreq_t{m: m, length: length}
	if err := m.zonewalk(n, mn, length, req.visit); err != 0 {
		return err
	}
	n.Lock()
	n.Stat.Size = uint64(length)
	n.Unlock()
	return m.writeinode(n, mn, false)
}

func (nodeops_t) Trunc(n *fs.Vnode_t, length int) defs.Err_t {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	return m.trunc(n, mn, length)
}

// lookupent scans the directory for name with the content lock held,
// returning the record and its byte offset.
func (m *Minixsuper_t) lookupent(n *fs.Vnode_t, mn *Minixnode_t,
	name ustr.Ustr) (Dirent_t, int, defs.Err_t) {
	var de Dirent_t
	n.Lock()
	left := int(n.Stat.Size)
	n.Unlock()
	offset := 0
	for left > 0 {
		chunk := util.Min(left, maxLookupRead)
		pa, kerr := mem.Kheap.Kalloc(chunk)
		if kerr != 0 {
			return de, 0, kerr
		}
		buf := mem.Kheap.Buf(pa)[:chunk]
		got, err := m.rw(n, mn, fs.Mkfakebuf(buf), offset, false)
		if err != 0 {
			mem.Kheap.Kfree(pa)
			return de, 0, err
		}
		if got == 0 {
			mem.Kheap.Kfree(pa)
			return de, 0, -defs.EIO
		}
		for i := 0; i+DIRENTSIZE <= got; i += DIRENTSIZE {
			decode(buf[i:i+DIRENTSIZE], &de)
			if de.Inode != 0 && name.Eq(de.Entname()) {
				mem.Kheap.Kfree(pa)
				return de, offset + i, 0
			}
		}
		mem.Kheap.Kfree(pa)
		offset += got
		left -= got
	}
	return de, 0, -defs.ENOENT
}

func (nodeops_t) Lookup(n *fs.Vnode_t, name ustr.Ustr) (uint64, defs.Err_t) {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	de, _, err := m.lookupent(n, mn, name)
	if err != 0 {
		return 0, err
	}
	return uint64(de.Inode), 0
}

func (nodeops_t) Link(n *fs.Vnode_t, name ustr.Ustr, entry *fs.Vnode_t) defs.Err_t {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	var de Dirent_t
	de.Inode = uint32(entry.Stat.Id)
	de.Setname(name)
	n.Lock()
	size := int(n.Stat.Size)
	n.Unlock()
	got, err := m.rw(n, mn, fs.Mkfakebuf(encode(&de)), size, true)
	if err != 0 {
		return err
	}
	if got != DIRENTSIZE {
		return -defs.EIO
	}
	return 0
}

func (nodeops_t) Unlink(n *fs.Vnode_t, name ustr.Ustr) defs.Err_t {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	_, off, err := m.lookupent(n, mn, name)
	if err != 0 {
		return err
	}
	n.Lock()
	size := int(n.Stat.Size)
	n.Unlock()
	// swap the tail record into the vacated slot, then cut the tail off
	var tail Dirent_t
	buf := make([]uint8, DIRENTSIZE)
	got, rerr := m.rw(n, mn, fs.Mkfakebuf(buf), size-DIRENTSIZE, false)
	if rerr != 0 {
		return rerr
	}
	if got != DIRENTSIZE {
		return -defs.EIO
	}
	decode(buf, &tail)
	if off != size-DIRENTSIZE {
		if got, werr := m.rw(n, mn, fs.Mkfakebuf(buf), off, true); werr != 0 {
			return werr
		} else if got != DIRENTSIZE {
			return -defs.EIO
		}
	}
	return m.trunc(n, mn, size-DIRENTSIZE)
}

func (nodeops_t) Readdirat(n *fs.Vnode_t, dst fs.Userio_i, off int) (int, int, defs.Err_t) {
	m, mn := nodepriv(n)
	mn.Lock()
	defer mn.Unlock()
	var de Dirent_t
	buf := make([]uint8, DIRENTSIZE)
	got, err := m.rw(n, mn, fs.Mkfakebuf(buf), off, false)
	if err != 0 {
		return 0, 0, err
	}
	if got == 0 {
		return 0, 0, 0
	}
	if got != DIRENTSIZE {
		return 0, 0, -defs.EIO
	}
	decode(buf, &de)
	rec := Mkdirent(uint64(de.Inode), uint64(off), de.Entname())
	w, err := dst.Uiowrite(rec[:util.Min(len(rec), dst.Remain())])
	if err != 0 {
		return 0, 0, err
	}
	return DIRENTSIZE, w, 0
}

func (nodeops_t) Free(n *fs.Vnode_t) {
	n.Priv = nil
}

/// Mkdirent encodes the variable-size directory record of the syscall
/// ABI: id, file offset, record length, type and NUL-terminated name.
func Mkdirent(id, off uint64, name []uint8) []uint8 {
	rec := make([]uint8, 19+len(name)+1)
	util.Writen(rec, 8, 0, int(id))
	util.Writen(rec, 8, 8, int(off))
	util.Writen(rec, 2, 16, len(rec))
	rec[18] = 0 // type unknown
	copy(rec[19:], name)
	return rec
}
