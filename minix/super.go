package minix

import "sync"

import "goros/defs"
import "goros/fs"

/// Minixsuper_t is the per-mount engine state: the decoded on-disk
/// superblock and the block-device file everything is read through.
type Minixsuper_t struct {
	disk Disksb_t
	dev  *fs.Vfsfile_t
	// guards the inode and zone bitmaps
	mapslock sync.Mutex
}

type superops_t struct{}

func super(sb *fs.Superblock_t) *Minixsuper_t {
	return sb.Priv.(*Minixsuper_t)
}

func (m *Minixsuper_t) devread(buf []uint8, off int) defs.Err_t {
	ub := fs.Mkfakebuf(buf)
	n, err := m.dev.Readat(nil, ub, off)
	if err != 0 {
		return err
	}
	if n != len(buf) {
		return -defs.EIO
	}
	return 0
}

func (m *Minixsuper_t) devwrite(buf []uint8, off int) defs.Err_t {
	ub := fs.Mkfakebuf(buf)
	n, err := m.dev.Writeat(nil, ub, off)
	if err != 0 {
		return err
	}
	if n != len(buf) {
		return -defs.EIO
	}
	return 0
}

func (superops_t) Free(sb *fs.Superblock_t) {
	super(sb).dev.Close()
}

func (superops_t) Readnode(sb *fs.Superblock_t, id uint64) (*fs.Vnode_t, defs.Err_t) {
	m := super(sb)
	var di Diskinode_t
	buf := make([]uint8, INODESIZE)
	if err := m.devread(buf, Inodeoffset(&m.disk, uint32(id))); err != 0 {
		return nil, err
	}
	decode(buf, &di)
	n := mknode(sb, id)
	n.Stat.Mode = defs.Mode_t(di.Mode)
	n.Stat.Nlinks = uint64(di.Nlinks)
	n.Stat.Uid = uint32(di.Uid)
	n.Stat.Gid = uint32(di.Gid)
	n.Stat.Size = uint64(di.Size)
	n.Stat.Atime = uint64(di.Atime) * 1000000000
	n.Stat.Mtime = uint64(di.Mtime) * 1000000000
	n.Stat.Ctime = uint64(di.Ctime) * 1000000000
	n.Stat.Blocksize = BLOCKSIZE
	n.Stat.Blocks = 0
	if ft := defs.Filetype(n.Stat.Mode); ft == defs.T_CHR || ft == defs.T_BLK {
		// device nodes keep their device number in zone slot 0
		n.Stat.Rdev = uint64(di.Zones[0]) << 32
		di.Zones[0] = 0
	}
	mn := n.Priv.(*Minixnode_t)
	mn.zones = di.Zones
	return n, 0
}

// writeinode rewrites the on-disk inode record. lockmn is false when
// the caller already holds the node content lock.
func (m *Minixsuper_t) writeinode(n *fs.Vnode_t, mn *Minixnode_t, lockmn bool) defs.Err_t {
	n.Lock()
	di := Diskinode_t{
		Mode:   uint16(n.Stat.Mode),
		Nlinks: uint16(n.Stat.Nlinks),
		Uid:    uint16(n.Stat.Uid),
		Gid:    uint16(n.Stat.Gid),
		Size:   uint32(n.Stat.Size),
		Atime:  uint32(n.Stat.Atime / 1000000000),
		Mtime:  uint32(n.Stat.Mtime / 1000000000),
		Ctime:  uint32(n.Stat.Ctime / 1000000000),
	}
	id := n.Stat.Id
	ft := defs.Filetype(n.Stat.Mode)
	rdev := n.Stat.Rdev
	n.Unlock()
	if lockmn {
		mn.Lock()
	}
	di.Zones = mn.zones
	if lockmn {
		mn.Unlock()
	}
	if ft == defs.T_CHR || ft == defs.T_BLK {
		di.Zones[0] = uint32(rdev >> 32)
	}
	return m.devwrite(encode(&di), Inodeoffset(&m.disk, uint32(id)))
}

func (superops_t) Writenode(sb *fs.Superblock_t, n *fs.Vnode_t) defs.Err_t {
	return super(sb).writeinode(n, n.Priv.(*Minixnode_t), true)
}

func (superops_t) Newnode(sb *fs.Superblock_t) (uint64, defs.Err_t) {
	m := super(sb)
	id, err := m.getFreeInode()
	if err != 0 {
		return 0, err
	}
	// fresh inode records start zeroed
	buf := make([]uint8, INODESIZE)
	if werr := m.devwrite(buf, Inodeoffset(&m.disk, id)); werr != 0 {
		return 0, werr
	}
	return uint64(id), 0
}

func (superops_t) Freenode(sb *fs.Superblock_t, n *fs.Vnode_t) defs.Err_t {
	m := super(sb)
	mn := n.Priv.(*Minixnode_t)
	mn.Lock()
	for _, z := range mn.zones {
		if z != 0 {
			mn.Unlock()
			panic("freeing inode with live zones")
		}
	}
	mn.Unlock()
	return m.freeInode(uint32(n.Stat.Id))
}

/// Mount reads and validates the superblock on the device file and
/// builds the mounted filesystem instance. The device file reference is
/// shared with the caller.
func Mount(dev *fs.Vfsfile_t, sbid uint64) (*fs.Superblock_t, defs.Err_t) {
	m := &Minixsuper_t{dev: dev}
	buf := make([]uint8, 32)
	if err := m.devread(buf, BLOCKSIZE); err != 0 {
		return nil, err
	}
	decode(buf[:31], &m.disk)
	if m.disk.Magic != MAGIC {
		return nil, -defs.EINVAL
	}
	sb := fs.Mksuper(superops_t{}, sbid)
	sb.Priv = m
	root, err := superops_t{}.Readnode(sb, 1)
	if err != 0 {
		return nil, err
	}
	sb.Root = root
	dev.Refup()
	return sb, 0
}
