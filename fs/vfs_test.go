package fs_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goros/defs"
	"goros/dev"
	"goros/fs"
	"goros/mem"
	"goros/minix"
	"goros/ustr"
)

func TestMain(m *testing.M) {
	phys := mem.Phys_init(4096)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	os.Exit(m.Run())
}

func mkworld(t *testing.T) *fs.Vfs_t {
	img, err := minix.Buildimage(4<<20, 512, []minix.Fileent_t{
		{Path: "/bin/hello", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW, Data: []uint8("HELLO")},
		{Path: "/etc/motd", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW, Data: []uint8("welcome\n")},
		{Path: "/tmp/keep", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW, Data: []uint8("x")},
	})
	require.Equal(t, defs.Err_t(0), err)
	vfs := fs.Mkvfs()
	rd := dev.Mkramdisk(img)
	vfs.Registerblock(defs.Mkdev(defs.D_RAWDISK, 0), rd)
	blk := fs.Mkblknode(rd, nil)
	devf := fs.Mkfile(blk, ustr.Ustr("boot:[disk]"), defs.O_READ|defs.O_WRITE)
	sb, merr := minix.Mount(devf, vfs.Nextsbid())
	require.Equal(t, defs.Err_t(0), merr)
	devf.Close()
	vfs.Mountroot(sb)
	return vfs
}

func TestOpenReadExisting(t *testing.T) {
	vfs := mkworld(t)
	f, err := vfs.Open(nil, ustr.Ustr("/bin/hello"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	out := make([]uint8, 16)
	n, err := f.Read(nil, fs.Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "HELLO", string(out[:n]))
	require.Equal(t, defs.Err_t(0), f.Close())
}

func TestOpenMissing(t *testing.T) {
	vfs := mkworld(t)
	_, err := vfs.Open(nil, ustr.Ustr("/no/such"), defs.O_READ, 0)
	assert.Equal(t, -defs.ENOENT, err)
}

func TestCreateWriteReadBack(t *testing.T) {
	vfs := mkworld(t)
	path := ustr.Ustr("/tmp/test.txt")
	f, err := vfs.Open(nil, path, defs.O_WRITE|defs.O_CREAT,
		defs.MODE_OGA_RW)
	require.Equal(t, defs.Err_t(0), err)
	n, err := f.Write(nil, fs.Mkfakebuf([]uint8("Hello world!")))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 12, n)
	require.Equal(t, defs.Err_t(0), f.Close())

	f, err = vfs.Open(nil, path, defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	out := make([]uint8, 64)
	n, err = f.Read(nil, fs.Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "Hello world!", string(out[:n]))
	f.Close()
}

func TestOpenExcl(t *testing.T) {
	vfs := mkworld(t)
	_, err := vfs.Open(nil, ustr.Ustr("/bin/hello"),
		defs.O_READ|defs.O_CREAT|defs.O_EXCL, 0)
	assert.Equal(t, -defs.EEXIST, err)
}

func TestOpenTrunc(t *testing.T) {
	vfs := mkworld(t)
	f, err := vfs.Open(nil, ustr.Ustr("/etc/motd"),
		defs.O_WRITE|defs.O_TRUNC, 0)
	require.Equal(t, defs.Err_t(0), err)
	var st defs.Stat_t
	f.Stat(&st)
	assert.Equal(t, uint64(0), st.Size)
	f.Close()
}

func TestAppend(t *testing.T) {
	vfs := mkworld(t)
	f, err := vfs.Open(nil, ustr.Ustr("/bin/hello"),
		defs.O_WRITE|defs.O_APPEND, 0)
	require.Equal(t, defs.Err_t(0), err)
	f.Write(nil, fs.Mkfakebuf([]uint8("!")))
	f.Close()
	f, _ = vfs.Open(nil, ustr.Ustr("/bin/hello"), defs.O_READ, 0)
	out := make([]uint8, 16)
	n, _ := f.Read(nil, fs.Mkfakebuf(out))
	assert.Equal(t, "HELLO!", string(out[:n]))
	f.Close()
}

func TestSeek(t *testing.T) {
	vfs := mkworld(t)
	f, _ := vfs.Open(nil, ustr.Ustr("/bin/hello"), defs.O_READ, 0)
	defer f.Close()
	pos, err := f.Seek(1, defs.SEEK_SET)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 1, pos)
	pos, _ = f.Seek(2, defs.SEEK_CUR)
	assert.Equal(t, 3, pos)
	pos, _ = f.Seek(-1, defs.SEEK_END)
	assert.Equal(t, 4, pos)
	out := make([]uint8, 4)
	n, _ := f.Read(nil, fs.Mkfakebuf(out))
	assert.Equal(t, 1, n)
	assert.Equal(t, "O", string(out[:1]))
	_, err = f.Seek(0, 99)
	assert.Equal(t, -defs.EINVAL, err)
}

func TestPermissionDenied(t *testing.T) {
	vfs := mkworld(t)
	f, err := vfs.Open(nil, ustr.Ustr("/etc/motd"), defs.O_WRITE, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), f.Chmod(nil, 0))
	f.Close()
	// a non-root user cannot open the file anymore
	cred := &fs.Cred_t{Uid: 7, Gid: 7}
	_, err = vfs.Open(cred, ustr.Ustr("/etc/motd"), defs.O_READ, 0)
	assert.Equal(t, -defs.EACCES, err)
	// uid 0 bypasses
	root := &fs.Cred_t{Uid: 0, Gid: 0}
	rf, err := vfs.Open(root, ustr.Ustr("/etc/motd"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	rf.Close()
}

func TestLinkUnlinkRename(t *testing.T) {
	vfs := mkworld(t)
	require.Equal(t, defs.Err_t(0),
		vfs.Link(nil, ustr.Ustr("/bin/hello"), ustr.Ustr("/bin/hola")))
	f, err := vfs.Open(nil, ustr.Ustr("/bin/hola"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	f.Close()
	require.Equal(t, defs.Err_t(0), vfs.Unlink(nil, ustr.Ustr("/bin/hola")))
	_, err = vfs.Open(nil, ustr.Ustr("/bin/hola"), defs.O_READ, 0)
	assert.Equal(t, -defs.ENOENT, err)

	require.Equal(t, defs.Err_t(0),
		vfs.Rename(nil, ustr.Ustr("/etc/motd"), ustr.Ustr("/etc/banner")))
	_, err = vfs.Open(nil, ustr.Ustr("/etc/motd"), defs.O_READ, 0)
	assert.Equal(t, -defs.ENOENT, err)
	f, err = vfs.Open(nil, ustr.Ustr("/etc/banner"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	f.Close()
}

func TestUnlinkedFileFreedAtLastClose(t *testing.T) {
	vfs := mkworld(t)
	f, err := vfs.Open(nil, ustr.Ustr("/tmp/keep"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), vfs.Unlink(nil, ustr.Ustr("/tmp/keep")))
	// still readable through the open file
	out := make([]uint8, 4)
	n, rerr := f.Read(nil, fs.Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, 1, n)
	require.Equal(t, defs.Err_t(0), f.Close())
	_, err = vfs.Open(nil, ustr.Ustr("/tmp/keep"), defs.O_READ, 0)
	assert.Equal(t, -defs.ENOENT, err)
}

func TestMountUmount(t *testing.T) {
	vfs := mkworld(t)
	img2, err := minix.Buildimage(1<<20, 64, []minix.Fileent_t{
		{Path: "/bin/inner", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW, Data: []uint8("inner")},
	})
	require.Equal(t, defs.Err_t(0), err)
	dirmode := defs.Typemode(defs.T_DIR) | defs.MODE_OGA_RW
	require.Equal(t, defs.Err_t(0), vfs.Mknod(nil, ustr.Ustr("/mnt"), dirmode, 0))

	rd := dev.Mkramdisk(img2)
	blk := fs.Mkblknode(rd, nil)
	devf := fs.Mkfile(blk, ustr.Ustr("mnt:[disk]"), defs.O_READ|defs.O_WRITE)
	sb, merr := minix.Mount(devf, vfs.Nextsbid())
	require.Equal(t, defs.Err_t(0), merr)
	devf.Close()
	require.Equal(t, defs.Err_t(0), vfs.Mount(nil, ustr.Ustr("/mnt"), sb))

	f, oerr := vfs.Open(nil, ustr.Ustr("/mnt/bin/inner"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), oerr)
	// a live reference refuses the unmount
	assert.Equal(t, -defs.EBUSY, vfs.Umount(nil, ustr.Ustr("/mnt")))
	f.Close()
	require.Equal(t, defs.Err_t(0), vfs.Umount(nil, ustr.Ustr("/mnt")))
	_, oerr = vfs.Open(nil, ustr.Ustr("/mnt/bin/inner"), defs.O_READ, 0)
	assert.Equal(t, -defs.ENOENT, oerr)
}

func TestNodeRefcountsQuiesce(t *testing.T) {
	vfs := mkworld(t)
	var fls []*fs.Vfsfile_t
	for i := 0; i < 3; i++ {
		f, err := vfs.Open(nil, ustr.Ustr("/bin/hello"), defs.O_READ, 0)
		require.Equal(t, defs.Err_t(0), err)
		fls = append(fls, f)
	}
	node := fls[0].Node
	assert.Equal(t, 3, node.Ref)
	for _, f := range fls {
		require.Equal(t, defs.Err_t(0), f.Close())
	}
	// reopening yields a freshly cached node with a single reference
	f, _ := vfs.Open(nil, ustr.Ustr("/bin/hello"), defs.O_READ, 0)
	assert.Equal(t, 1, f.Node.Ref)
	f.Close()
}

func TestDevNodes(t *testing.T) {
	vfs := mkworld(t)
	mode := defs.Typemode(defs.T_CHR) | defs.MODE_OGA_RW
	require.Equal(t, defs.Err_t(0), vfs.Mknod(nil, ustr.Ustr("/dev"),
		defs.Typemode(defs.T_DIR)|defs.MODE_OGA_RW, 0))
	require.Equal(t, defs.Err_t(0), vfs.Mknod(nil, ustr.Ustr("/dev/blk0"),
		defs.Typemode(defs.T_BLK)|defs.MODE_OGA_RW, defs.Mkdev(defs.D_RAWDISK, 0)))
	require.Equal(t, defs.Err_t(0),
		vfs.Mknod(nil, ustr.Ustr("/dev/null"), mode, defs.Mkdev(defs.D_NULL, 0)))
	vfs.Registerchar(defs.Mkdev(defs.D_NULL, 0), dev.Nulldev_t{})

	// the block node reads raw device bytes: the superblock magic
	f, err := vfs.Open(nil, ustr.Ustr("/dev/blk0"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	buf := make([]uint8, 2)
	f.Seek(minix.BLOCKSIZE+24, defs.SEEK_SET)
	n, rerr := f.Read(nil, fs.Mkfakebuf(buf))
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, 2, n)
	assert.Equal(t, uint16(minix.MAGIC), uint16(buf[0])|uint16(buf[1])<<8)
	f.Close()

	nf, err := vfs.Open(nil, ustr.Ustr("/dev/null"), defs.O_READ|defs.O_WRITE, 0)
	require.Equal(t, defs.Err_t(0), err)
	w, werr := nf.Write(nil, fs.Mkfakebuf([]uint8("gone")))
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, 4, w)
	nf.Close()
}

func TestCwdRelativeWalk(t *testing.T) {
	vfs := mkworld(t)
	n, err := vfs.Lookup(nil, ustr.Ustr("/bin/../etc/./motd"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, defs.T_REG, defs.Filetype(n.Stat.Mode))
	n.Refdown()
}
