package fs

import "sync"

import "goros/bpath"
import "goros/defs"
import "goros/dev"
import "goros/ustr"

/// Vfs_t composes mounted filesystems into one tree. Path walks start at
/// the root superblock's root node; mounts overlay a superblock over an
/// existing node.
type Vfs_t struct {
	sync.Mutex
	root    *Superblock_t
	mounts  map[string]*mount_t
	chardevs map[uint64]dev.Chardev_i
	blockdevs map[uint64]dev.Blockdev_i
	nextsbid uint64
}

type mount_t struct {
	point *Vnode_t
	sb    *Superblock_t
}

/// Mkvfs creates an empty filesystem tree.
func Mkvfs() *Vfs_t {
	return &Vfs_t{
		mounts:    make(map[string]*mount_t),
		chardevs:  make(map[uint64]dev.Chardev_i),
		blockdevs: make(map[uint64]dev.Blockdev_i),
		nextsbid:  1,
	}
}

/// Nextsbid hands out a fresh superblock identifier.
func (vfs *Vfs_t) Nextsbid() uint64 {
	vfs.Lock()
	defer vfs.Unlock()
	id := vfs.nextsbid
	vfs.nextsbid++
	return id
}

/// Registerchar attaches a character device under the given device
/// number.
func (vfs *Vfs_t) Registerchar(rdev uint64, d dev.Chardev_i) {
	vfs.Lock()
	vfs.chardevs[rdev] = d
	vfs.Unlock()
}

/// Registerblock attaches a block device under the given device number.
func (vfs *Vfs_t) Registerblock(rdev uint64, d dev.Blockdev_i) {
	vfs.Lock()
	vfs.blockdevs[rdev] = d
	vfs.Unlock()
}

/// Mountroot installs the root filesystem. The superblock reference is
/// donated.
func (vfs *Vfs_t) Mountroot(sb *Superblock_t) {
	vfs.Lock()
	vfs.root = sb
	vfs.Unlock()
}

/// rootsb returns the root superblock with a reference, or nil.
func (vfs *Vfs_t) rootsb() *Superblock_t {
	vfs.Lock()
	defer vfs.Unlock()
	if vfs.root != nil {
		vfs.root.Refup()
	}
	return vfs.root
}

// followmounts substitutes the mounted superblock's root for any node
// with a filesystem mounted over it. The reference to cur is consumed.
func followmounts(cur *Vnode_t) *Vnode_t {
	for {
		cur.Lock()
		mnt := cur.Mounted
		cur.Unlock()
		if mnt == nil {
			return cur
		}
		root := mnt.Root
		mnt.Copynode(root)
		cur.Refdown()
		cur = root
	}
}

// lookupfrom walks path segment by segment starting at start (whose
// reference is borrowed, not consumed). '.' and '..' are consumed
// structurally against a parent stack.
func (vfs *Vfs_t) lookupfrom(cred *Cred_t, start *Vnode_t, path ustr.Ustr) (*Vnode_t, defs.Err_t) {
	cur := start
	cur.Refup()
	var dirs []*Vnode_t
	closeall := func() {
		for _, d := range dirs {
			d.Refdown()
		}
	}
	i := 0
	for i < len(path) {
		for i < len(path) && path[i] == '/' {
			i++
		}
		j := i
		for j < len(path) && path[j] != '/' {
			j++
		}
		seg := path[i:j]
		i = j
		if len(seg) == 0 || seg.Isdot() {
			continue
		}
		if seg.Isdotdot() {
			if len(dirs) > 0 {
				cur.Refdown()
				cur = dirs[len(dirs)-1]
				dirs = dirs[:len(dirs)-1]
			}
			continue
		}
		cur = followmounts(cur)
		next, err := cur.Lookup(cred, seg)
		if err != 0 {
			cur.Refdown()
			closeall()
			return nil, err
		}
		dirs = append(dirs, cur)
		cur = next
	}
	closeall()
	return followmounts(cur), 0
}

/// Lookup resolves an absolute, reduced path to a node reference.
func (vfs *Vfs_t) Lookup(cred *Cred_t, path ustr.Ustr) (*Vnode_t, defs.Err_t) {
	sb := vfs.rootsb()
	if sb == nil {
		return nil, -defs.ENOENT
	}
	root := sb.Root
	sb.Copynode(root)
	sb.Refdown()
	n, err := vfs.lookupfrom(cred, root, path)
	root.Refdown()
	return n, err
}

// lookupparent resolves the directory that holds the final segment of
// path and returns it with the segment name.
func (vfs *Vfs_t) lookupparent(cred *Cred_t, path ustr.Ustr) (*Vnode_t, ustr.Ustr, defs.Err_t) {
	parent, err := vfs.Lookup(cred, bpath.Parent(path))
	if err != 0 {
		return nil, nil, err
	}
	return parent, bpath.Base(path), 0
}

// accessbits maps open flags to the access request of the permission
// check: the low two bits are read/write, the flag bits at 20..22 map
// to execute/directory/regular.
func accessbits(flags int) int {
	return flags&0x3 | ((flags>>20)&0x7)<<2
}

// create allocates a new node in the parent's superblock and links it
// under name.
func (vfs *Vfs_t) create(cred *Cred_t, parent *Vnode_t, name ustr.Ustr,
	mode defs.Mode_t, rdev uint64) (*Vnode_t, defs.Err_t) {
	if parent.Sb == nil {
		return nil, -defs.EINVAL
	}
	n, err := parent.Sb.Newnode()
	if err != 0 {
		return nil, err
	}
	n.Lock()
	n.Stat.Mode = mode
	if cred != nil {
		n.Stat.Uid = cred.Uid
		n.Stat.Gid = cred.Gid
	}
	n.Stat.Size = 0
	n.Stat.Nlinks = 0
	n.Stat.Rdev = rdev
	now := nownsec()
	n.Stat.Atime, n.Stat.Mtime, n.Stat.Ctime = now, now, now
	n.Unlock()
	n.Writeback()
	if err := parent.Linkent(cred, name, n); err != 0 {
		n.Refdown()
		return nil, err
	}
	return n, 0
}

/// Open resolves path and returns an open file. O_CREAT creates a
/// missing regular file, O_EXCL refuses an existing one, O_TRUNC
/// truncates, and special node types are wrapped in their overlay
/// nodes.
func (vfs *Vfs_t) Open(cred *Cred_t, path ustr.Ustr, flags int, mode defs.Mode_t) (*Vfsfile_t, defs.Err_t) {
	node, err := vfs.Lookup(cred, path)
	if err == -defs.ENOENT && flags&defs.O_CREAT != 0 {
		parent, name, perr := vfs.lookupparent(cred, path)
		if perr != 0 {
			return nil, perr
		}
		node, err = vfs.create(cred, parent, name,
			mode&^defs.MODE_TYPE|defs.Typemode(defs.T_REG), 0)
		parent.Refdown()
		if err != 0 {
			return nil, err
		}
	} else if err != 0 {
		return nil, err
	} else if flags&(defs.O_CREAT|defs.O_EXCL) == defs.O_CREAT|defs.O_EXCL {
		node.Refdown()
		return nil, -defs.EEXIST
	}
	node.Lock()
	aerr := Canaccess(&node.Stat, cred, accessbits(flags))
	ft := defs.Filetype(node.Stat.Mode)
	rdev := node.Stat.Rdev
	node.Unlock()
	if aerr != 0 {
		node.Refdown()
		return nil, aerr
	}
	if flags&defs.O_WRITE != 0 && ft == defs.T_DIR {
		node.Refdown()
		return nil, -defs.EISDIR
	}
	open := node
	switch ft {
	case defs.T_CHR:
		d, ok := vfs.chardev(rdev)
		if !ok {
			node.Refdown()
			return nil, -defs.ENOENT
		}
		open = Mkttynode(d, node)
	case defs.T_BLK:
		d, ok := vfs.blockdev(rdev)
		if !ok {
			node.Refdown()
			return nil, -defs.ENOENT
		}
		open = Mkblknode(d, node)
	case defs.T_FIFO:
		open = Mkfifonode(path, node)
	}
	f := Mkfile(open, path, flags)
	if pe, ok := open.Priv.(pipeend_i); ok {
		pe.Openend(flags&defs.O_WRITE != 0)
	}
	if flags&defs.O_TRUNC != 0 {
		if ft == defs.T_REG {
			if terr := f.Trunc(cred, 0); terr != 0 {
				f.Close()
				return nil, terr
			}
		}
	}
	return f, 0
}

func (vfs *Vfs_t) chardev(rdev uint64) (dev.Chardev_i, bool) {
	vfs.Lock()
	defer vfs.Unlock()
	d, ok := vfs.chardevs[rdev]
	return d, ok
}

func (vfs *Vfs_t) blockdev(rdev uint64) (dev.Blockdev_i, bool) {
	vfs.Lock()
	defer vfs.Unlock()
	d, ok := vfs.blockdevs[rdev]
	return d, ok
}

/// Mknod creates a filesystem node of any type, including directories
/// and device nodes.
func (vfs *Vfs_t) Mknod(cred *Cred_t, path ustr.Ustr, mode defs.Mode_t, rdev uint64) defs.Err_t {
	if n, err := vfs.Lookup(cred, path); err == 0 {
		n.Refdown()
		return -defs.EEXIST
	}
	parent, name, err := vfs.lookupparent(cred, path)
	if err != 0 {
		return err
	}
	n, err := vfs.create(cred, parent, name, mode, rdev)
	parent.Refdown()
	if err != 0 {
		return err
	}
	n.Refdown()
	return 0
}

/// Link adds a new directory entry for an existing file.
func (vfs *Vfs_t) Link(cred *Cred_t, oldpath, newpath ustr.Ustr) defs.Err_t {
	old, err := vfs.Lookup(cred, oldpath)
	if err != 0 {
		return err
	}
	defer old.Refdown()
	if defs.Filetype(old.Stat.Mode) == defs.T_DIR {
		return -defs.EPERM
	}
	parent, name, err := vfs.lookupparent(cred, newpath)
	if err != 0 {
		return err
	}
	defer parent.Refdown()
	if parent.Sb != old.Sb {
		return -defs.EXDEV
	}
	if n, lerr := parent.Lookup(cred, name); lerr == 0 {
		n.Refdown()
		return -defs.EEXIST
	}
	return parent.Linkent(cred, name, old)
}

/// Unlink removes a directory entry; directories must be empty.
func (vfs *Vfs_t) Unlink(cred *Cred_t, path ustr.Ustr) defs.Err_t {
	parent, name, err := vfs.lookupparent(cred, path)
	if err != 0 {
		return err
	}
	defer parent.Refdown()
	node, err := parent.Lookup(cred, name)
	if err != 0 {
		return err
	}
	defer node.Refdown()
	node.Lock()
	isdir := defs.Filetype(node.Stat.Mode) == defs.T_DIR
	empty := node.Stat.Size == 0
	mounted := node.Mounted != nil
	node.Unlock()
	if mounted {
		return -defs.EBUSY
	}
	if isdir && !empty {
		return -defs.ENOTEMPTY
	}
	return parent.Unlinkent(cred, name, node)
}

/// Rename moves a file between directory entries within one superblock.
func (vfs *Vfs_t) Rename(cred *Cred_t, oldpath, newpath ustr.Ustr) defs.Err_t {
	oparent, oname, err := vfs.lookupparent(cred, oldpath)
	if err != 0 {
		return err
	}
	defer oparent.Refdown()
	node, err := oparent.Lookup(cred, oname)
	if err != 0 {
		return err
	}
	defer node.Refdown()
	nparent, nname, err := vfs.lookupparent(cred, newpath)
	if err != 0 {
		return err
	}
	defer nparent.Refdown()
	if nparent.Sb != oparent.Sb {
		return -defs.EXDEV
	}
	if old, lerr := nparent.Lookup(cred, nname); lerr == 0 {
		uerr := nparent.Unlinkent(cred, nname, old)
		old.Refdown()
		if uerr != 0 {
			return uerr
		}
	}
	if err := nparent.Linkent(cred, nname, node); err != 0 {
		return err
	}
	return oparent.Unlinkent(cred, oname, node)
}

/// Mount overlays sb on the node at path. The mounter's superblock
/// reference is donated.
func (vfs *Vfs_t) Mount(cred *Cred_t, path ustr.Ustr, sb *Superblock_t) defs.Err_t {
	point, err := vfs.Lookup(cred, path)
	if err != 0 {
		return err
	}
	point.Lock()
	if point.Mounted != nil || defs.Filetype(point.Stat.Mode) != defs.T_DIR {
		point.Unlock()
		point.Refdown()
		return -defs.EBUSY
	}
	point.Mounted = sb
	point.Unlock()
	vfs.Lock()
	vfs.mounts[path.String()] = &mount_t{point: point, sb: sb}
	vfs.Unlock()
	return 0
}

/// Umount detaches the filesystem mounted at path. It refuses while the
/// mounted superblock still has nodes in use.
func (vfs *Vfs_t) Umount(cred *Cred_t, path ustr.Ustr) defs.Err_t {
	vfs.Lock()
	m, ok := vfs.mounts[path.String()]
	vfs.Unlock()
	if !ok {
		return -defs.EINVAL
	}
	if m.sb.cache.Livecount() != 0 || m.sb.Root.Ref != 0 {
		return -defs.EBUSY
	}
	m.point.Lock()
	m.point.Mounted = nil
	m.point.Unlock()
	vfs.Lock()
	delete(vfs.mounts, path.String())
	vfs.Unlock()
	m.point.Refdown()
	m.sb.Refdown()
	return 0
}
