package minix

import "goros/defs"
import "goros/dev"
import "goros/fs"
import "goros/ustr"
import "goros/util"

/// Fileent_t names one file to place into a fresh image.
type Fileent_t struct {
	Path string
	Mode defs.Mode_t
	Data []uint8
}

/// Format writes an empty MINIX3 filesystem onto the image: boot block,
/// superblock, bitmaps, inode table and an empty root directory at
/// inode 1.
func Format(img []uint8, ninodes uint32) defs.Err_t {
	zones := uint32(len(img) / BLOCKSIZE)
	if zones < 8 || ninodes < 2 {
		return -defs.EINVAL
	}
	imap := (ninodes + 1 + 8*BLOCKSIZE - 1) / (8 * BLOCKSIZE)
	zmap := (zones + 8*BLOCKSIZE - 1) / (8 * BLOCKSIZE)
	inodeblocks := (ninodes*INODESIZE + BLOCKSIZE - 1) / BLOCKSIZE
	firstdata := 2 + imap + zmap + inodeblocks
	if firstdata >= zones {
		return -defs.ENOSPC
	}
	sb := Disksb_t{
		Ninodes:       ninodes,
		ImapBlocks:    uint16(imap),
		ZmapBlocks:    uint16(zmap),
		FirstDataZone: uint16(firstdata),
		MaxSize:       0x7fffffff,
		Zones:         zones,
		Magic:         MAGIC,
		Blocksize:     BLOCKSIZE,
		DiskVersion:   3,
	}
	clear(img)
	copy(img[BLOCKSIZE:], encode(&sb))
	setbit := func(base int, bit uint32) {
		img[base+int(bit/8)] |= 1 << (bit % 8)
	}
	// inode 0 is reserved, inode 1 is the root directory
	setbit(2*BLOCKSIZE, 0)
	setbit(2*BLOCKSIZE, 1)
	// zones below the first data zone are never handed out
	for z := uint32(0); z < firstdata; z++ {
		setbit((2+int(imap))*BLOCKSIZE, z)
	}
	root := Diskinode_t{
		Mode:   uint16(defs.Typemode(defs.T_DIR) | permDirDefault()),
		Nlinks: 1,
	}
	copy(img[Inodeoffset(&sb, 1):], encode(&root))
	return 0
}

// rwxr-xr-x in the kernel's permission layout
func permDirDefault() defs.Mode_t {
	return defs.MODE_O_R | defs.MODE_O_W | defs.MODE_O_X |
		defs.MODE_G_R | defs.MODE_G_X | defs.MODE_A_R | defs.MODE_A_X
}

/// Buildimage formats an image of the given size and populates it with
/// the listed files, creating intermediate directories. The kernel heap
/// must be initialized. Returns the finished image.
func Buildimage(size int, ninodes uint32, files []Fileent_t) ([]uint8, defs.Err_t) {
	img := make([]uint8, util.Roundup(size, BLOCKSIZE))
	if err := Format(img, ninodes); err != 0 {
		return nil, err
	}
	rd := dev.Mkramdisk(img)
	blk := fs.Mkblknode(rd, nil)
	devfile := fs.Mkfile(blk, ustr.Ustr("mkfs:[img]"), defs.O_READ|defs.O_WRITE)
	sb, err := Mount(devfile, 1)
	if err != 0 {
		return nil, err
	}
	for _, fe := range files {
		if err := addfile(sb, fe); err != 0 {
			return nil, err
		}
	}
	devfile.Close()
	sb.Refdown()
	return img, 0
}

func addfile(sb *fs.Superblock_t, fe Fileent_t) defs.Err_t {
	path := ustr.Ustr(fe.Path)
	cur := sb.Root
	sb.Copynode(cur)
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
		if len(seg) == 0 {
			continue
		}
		last := true
		for k := i; k < len(path); k++ {
			if path[k] != '/' {
				last = false
				break
			}
		}
		var child *fs.Vnode_t
		if id, lerr := cur.Ops.Lookup(cur, seg); lerr == 0 {
			var rerr defs.Err_t
			child, rerr = sb.Readnode(id)
			if rerr != 0 {
				cur.Refdown()
				return rerr
			}
		} else if lerr != -defs.ENOENT {
			cur.Refdown()
			return lerr
		} else {
			mode := defs.Typemode(defs.T_DIR) | permDirDefault()
			if last {
				mode = fe.Mode
			}
			var cerr defs.Err_t
			child, cerr = mknewnode(sb, cur, seg, mode)
			if cerr != 0 {
				cur.Refdown()
				return cerr
			}
		}
		if last && len(fe.Data) > 0 {
			got, werr := child.Ops.Writeat(child, fs.Mkfakebuf(fe.Data), 0)
			if werr != 0 || got != len(fe.Data) {
				child.Refdown()
				cur.Refdown()
				if werr != 0 {
					return werr
				}
				return -defs.EIO
			}
		}
		cur.Refdown()
		cur = child
	}
	cur.Refdown()
	return 0
}

func mknewnode(sb *fs.Superblock_t, parent *fs.Vnode_t, name ustr.Ustr,
	mode defs.Mode_t) (*fs.Vnode_t, defs.Err_t) {
	n, err := sb.Newnode()
	if err != 0 {
		return nil, err
	}
	n.Lock()
	n.Stat.Mode = mode
	n.Unlock()
	n.Writeback()
	if err := parent.Linkent(nil, name, n); err != 0 {
		n.Refdown()
		return nil, err
	}
	return n, 0
}
