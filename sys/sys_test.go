package sys

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goros/defs"
	"goros/dev"
	"goros/fs"
	"goros/mem"
	"goros/minix"
	"goros/proc"
	"goros/task"
	"goros/ustr"
	"goros/util"
	"goros/vm"
)

func TestMain(m *testing.M) {
	phys := mem.Phys_init(1 << 13)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	task.Mkhart(0)
	os.Exit(m.Run())
}

// mkelf is duplicated from the loader tests; it builds a minimal
// ELF64 RISC-V executable with one RX segment.
func mkelf(code []uint8, vaddr, entry uint64) []uint8 {
	img := make([]uint8, 128+len(code))
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4], img[5], img[6] = 2, 1, 1
	util.Writen(img, 2, 16, 2)
	util.Writen(img, 2, 18, 243)
	util.Writen(img, 4, 20, 1)
	util.Writen(img, 8, 24, int(entry))
	util.Writen(img, 8, 32, 64)
	util.Writen(img, 2, 52, 64)
	util.Writen(img, 2, 54, 56)
	util.Writen(img, 2, 56, 1)
	util.Writen(img, 4, 64, 1)
	util.Writen(img, 4, 68, 0x5)
	util.Writen(img, 8, 72, 128)
	util.Writen(img, 8, 80, int(vaddr))
	util.Writen(img, 8, 96, len(code))
	util.Writen(img, 8, 104, len(code))
	copy(img[128:], code)
	return img
}

type world_t struct {
	vfs  *fs.Vfs_t
	disk *dev.Ramdisk_t
}

func mkworld(t *testing.T) *world_t {
	elfimg := mkelf([]uint8{0x13, 0, 0, 0}, 0x10000, 0x10000)
	img, err := minix.Buildimage(8<<20, 512, []minix.Fileent_t{
		{Path: "/bin/hello", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW |
			defs.MODE_O_X | defs.MODE_A_X, Data: elfimg},
		{Path: "/etc/motd", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW,
			Data: []uint8("welcome\n")},
	})
	require.Equal(t, defs.Err_t(0), err)
	w := &world_t{vfs: fs.Mkvfs(), disk: dev.Mkramdisk(img)}
	w.vfs.Registerblock(defs.Mkdev(defs.D_RAWDISK, 0), w.disk)
	blk := fs.Mkblknode(w.disk, nil)
	devf := fs.Mkfile(blk, ustr.Ustr("boot:[disk]"), defs.O_READ|defs.O_WRITE)
	sb, merr := minix.Mount(devf, w.vfs.Nextsbid())
	require.Equal(t, defs.Err_t(0), merr)
	devf.Close()
	w.vfs.Mountroot(sb)
	dirmode := defs.Typemode(defs.T_DIR) | defs.MODE_OGA_RW |
		defs.MODE_O_X | defs.MODE_G_X | defs.MODE_A_X
	w.vfs.Mknod(nil, ustr.Ustr("/tmp"), dirmode, 0)
	w.vfs.Mknod(nil, ustr.Ustr("/dev"), dirmode, 0)
	w.vfs.Mknod(nil, ustr.Ustr("/mnt"), dirmode, 0)
	console := dev.Mkuart(io.Discard)
	w.vfs.Registerchar(defs.Mkdev(defs.D_CONSOLE, 0), console)
	w.vfs.Mknod(nil, ustr.Ustr("/dev/tty"),
		defs.Typemode(defs.T_CHR)|defs.MODE_OGA_RW, defs.Mkdev(defs.D_CONSOLE, 0))
	cf, oerr := w.vfs.Open(nil, ustr.Ustr("/dev/tty"), defs.O_READ|defs.O_WRITE, 0)
	require.Equal(t, defs.Err_t(0), oerr)
	Init(w.vfs, cf)
	return w
}

const (
	ustack   = uintptr(0x80000)
	uscratch = uintptr(0x40000)
)

// mkuser creates a process with a mapped stack and a scratch page for
// syscall arguments.
func (w *world_t) mkuser(t *testing.T, parent *proc.Proc_t) *proc.Proc_t {
	tk := task.Mktask(task.DEFAULT_PRIORITY)
	p, err := proc.Mkproc(tk, parent)
	require.Equal(t, defs.Err_t(0), err)
	for i := uintptr(1); i <= 4; i++ {
		pa, ok := mem.Physmem.Zalloc_page()
		require.True(t, ok)
		require.True(t, p.Mem.Map_page(ustack-i*uintptr(mem.PGSIZE), pa,
			vm.PTE_U|vm.PTE_R|vm.PTE_W|vm.PTE_OWNED))
	}
	for i := uintptr(0); i < 4; i++ {
		pa, ok := mem.Physmem.Zalloc_page()
		require.True(t, ok)
		require.True(t, p.Mem.Map_page(uscratch+i*uintptr(mem.PGSIZE), pa,
			vm.PTE_U|vm.PTE_R|vm.PTE_W|vm.PTE_OWNED))
	}
	tk.Frame.Regs[task.REG_SP] = ustack
	return p
}

// syscall drives one syscall through the dispatcher the way the trap
// path would.
func syscall(p *proc.Proc_t, num int, args ...uintptr) int {
	tf := &p.Maintask.Frame
	tf.Regs[task.REG_A0] = uintptr(num)
	for i, a := range args {
		tf.Regs[task.REG_A1+i] = a
	}
	Dispatch(p.Maintask)
	return int(int64(tf.Regs[task.REG_A0]))
}

func putstr(t *testing.T, p *proc.Proc_t, va uintptr, s string) uintptr {
	require.Equal(t, defs.Err_t(0),
		p.Uptr(va).Copyout(append([]uint8(s), 0)))
	return va
}

func TestScenarioEchoCat(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	path := putstr(t, p, uscratch, "/tmp/test.txt")
	data := uscratch + 0x100
	require.Equal(t, defs.Err_t(0),
		p.Uptr(data).Copyout([]uint8("Hello world!")))

	fd := syscall(p, defs.SYS_OPEN, path,
		uintptr(defs.O_WRITE|defs.O_CREAT), uintptr(defs.MODE_OGA_RW))
	require.GreaterOrEqual(t, fd, 0)
	n := syscall(p, defs.SYS_WRITE, uintptr(fd), data, 12)
	assert.Equal(t, 12, n)
	assert.Equal(t, 0, syscall(p, defs.SYS_CLOSE, uintptr(fd)))

	fd = syscall(p, defs.SYS_OPEN, path, uintptr(defs.O_READ), 0)
	require.GreaterOrEqual(t, fd, 0)
	out := uscratch + 0x200
	n = syscall(p, defs.SYS_READ, uintptr(fd), out, 64)
	assert.Equal(t, 12, n)
	var buf [12]uint8
	p.Uptr(out).Copyin(buf[:])
	assert.Equal(t, "Hello world!", string(buf[:]))
	assert.Equal(t, 0, syscall(p, defs.SYS_CLOSE, uintptr(fd)))
	p.Exit(0)
}

func TestScenarioForkExecWait(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	childpid := syscall(p, defs.SYS_FORK)
	require.Greater(t, childpid, 0)
	child := proc.Lookup(childpid)
	require.NotNil(t, child)
	assert.Equal(t, 0, int(child.Maintask.Frame.Regs[task.REG_A0]))

	// the child execs /bin/hello
	cpath := putstr(t, child, uscratch, "/bin/hello")
	ret := syscall(child, defs.SYS_EXECVE, cpath, 0, 0)
	// the frame now runs the new image
	assert.Equal(t, uintptr(0x10000), child.Maintask.Frame.Pc)
	_ = ret

	// the new image exits cleanly; the parent reaps it
	syscall(child, defs.SYS_EXIT, 0)
	statusp := uscratch + 0x800
	got := syscall(p, defs.SYS_WAIT, uintptr(childpid), statusp, 0)
	if got != childpid {
		// the wait may have parked before the result arrived
		task.Awaken_tasks()
		got = int(int64(p.Maintask.Frame.Regs[task.REG_A0]))
	}
	assert.Equal(t, childpid, got)
	wsr, _ := p.Uptr(statusp).Readint(8)
	status := int(wsr)
	assert.True(t, defs.WIFEXITED(status))
	assert.Equal(t, 0, defs.WEXITSTATUS(status))
	p.Exit(0)
}

func TestScenarioPipe(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	fdp := uscratch
	require.Equal(t, 0, syscall(p, defs.SYS_PIPE, fdp))
	var fdbuf [8]uint8
	p.Uptr(fdp).Copyin(fdbuf[:])
	rfd := int(util.Readn(fdbuf[:], 4, 0))
	wfd := int(util.Readn(fdbuf[:], 4, 4))

	childpid := syscall(p, defs.SYS_FORK)
	require.Greater(t, childpid, 0)
	child := proc.Lookup(childpid)
	require.NotNil(t, child)

	// child writes and exits
	cdata := putstr(t, child, uscratch+0x100, "HELLO")
	n := syscall(child, defs.SYS_WRITE, uintptr(wfd), cdata, 5)
	assert.Equal(t, 5, n)
	syscall(child, defs.SYS_EXIT, 0)

	// parent reads five bytes
	out := uscratch + 0x200
	n = syscall(p, defs.SYS_READ, uintptr(rfd), out, 5)
	assert.Equal(t, 5, n)
	var buf [5]uint8
	p.Uptr(out).Copyin(buf[:])
	assert.Equal(t, "HELLO", string(buf[:]))
	p.Exit(0)
}

func TestScenarioSignalHandlerExit(t *testing.T) {
	w := mkworld(t)
	parent := w.mkuser(t, nil)
	p2 := w.mkuser(t, parent)

	// sigaction(SIGUSR2, H): handler record in scratch memory
	sa := uscratch
	vp := p2.Uptr(sa)
	vp.Writeint(8, 0x7000) // handler pc
	vp.Off(8).Writeint(8, 0)
	vp.Off(16).Writeint(8, 0)
	vp.Off(24).Writeint(8, 0)
	vp.Off(32).Writeint(8, 0x7100) // restorer
	require.Equal(t, 0, syscall(p2, defs.SYS_SIGACTION,
		uintptr(defs.SIGUSR2), sa, 0))

	// kill(self, SIGUSR2), then the trap-return path delivers it
	require.Equal(t, 0, syscall(p2, defs.SYS_KILL,
		uintptr(p2.Pid), uintptr(defs.SIGUSR2)))
	require.True(t, p2.Handlepending())
	assert.Equal(t, uintptr(0x7000), p2.Maintask.Frame.Pc)
	assert.Equal(t, uintptr(defs.SIGUSR2), p2.Maintask.Frame.Regs[task.REG_A0])

	// the handler calls exit(42)
	syscall(p2, defs.SYS_EXIT, 42)
	statusp := uscratch + 0x300
	got := syscall(parent, defs.SYS_WAIT, uintptr(p2.Pid), statusp, 0)
	assert.Equal(t, p2.Pid, got)
	wsr, _ := parent.Uptr(statusp).Readint(8)
	assert.True(t, defs.WIFEXITED(int(wsr)))
	assert.Equal(t, 42, defs.WEXITSTATUS(int(wsr)))
	parent.Exit(0)
}

func TestScenarioMountUmount(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	// a second disk behind /dev/blk1
	img2, err := minix.Buildimage(1<<20, 64, []minix.Fileent_t{
		{Path: "/bin/hello", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW,
			Data: []uint8("inner")},
	})
	require.Equal(t, defs.Err_t(0), err)
	rdev := defs.Mkdev(defs.D_RAWDISK, 1)
	w.vfs.Registerblock(rdev, dev.Mkramdisk(img2))
	require.Equal(t, 0, syscall(p, defs.SYS_MKNOD,
		putstr(t, p, uscratch, "/dev/blk1"),
		uintptr(defs.Typemode(defs.T_BLK)|defs.MODE_OGA_RW), uintptr(rdev)))

	src := putstr(t, p, uscratch+0x100, "/dev/blk1")
	dst := putstr(t, p, uscratch+0x200, "/mnt")
	fstype := putstr(t, p, uscratch+0x300, "minix")
	require.Equal(t, 0, syscall(p, defs.SYS_MOUNT, src, dst, fstype))

	inner := putstr(t, p, uscratch+0x400, "/mnt/bin/hello")
	fd := syscall(p, defs.SYS_OPEN, inner, uintptr(defs.O_READ), 0)
	require.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, 0, syscall(p, defs.SYS_CLOSE, uintptr(fd)))

	require.Equal(t, 0, syscall(p, defs.SYS_UMOUNT, dst))
	fd = syscall(p, defs.SYS_OPEN, inner, uintptr(defs.O_READ), 0)
	assert.Equal(t, -int(defs.ENOENT), fd)
	p.Exit(0)
}

func TestScenarioProtectSigsegv(t *testing.T) {
	w := mkworld(t)
	parent := w.mkuser(t, nil)
	child := w.mkuser(t, parent)
	buf := uscratch

	require.Equal(t, 0, syscall(child, defs.SYS_PROTECT, buf,
		uintptr(mem.PGSIZE), uintptr(defs.PROT_READ)))
	// the store faults and the fault cannot be repaired
	require.False(t, child.Mem.Handle_pgfault(buf))
	child.Sendsignal(defs.SIGSEGV)
	assert.False(t, child.Handlepending())

	statusp := uscratch + 0x100
	got := syscall(parent, defs.SYS_WAIT, uintptr(child.Pid), statusp, 0)
	assert.Equal(t, child.Pid, got)
	wsr, _ := parent.Uptr(statusp).Readint(8)
	status := int(wsr)
	assert.True(t, defs.WIFSIGNALED(status))
	assert.Equal(t, int(defs.SIGSEGV), defs.WTERMSIG(status))
	parent.Exit(0)
}

func TestSyscallErrors(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	assert.Equal(t, -int(defs.EINVAL), syscall(p, 999))
	assert.Equal(t, -int(defs.EPERM), syscall(p, defs.SYS_CRITICAL))
	assert.Equal(t, -int(defs.EBADF), syscall(p, defs.SYS_CLOSE, 55))
	assert.Equal(t, -int(defs.ENOENT), syscall(p, defs.SYS_OPEN,
		putstr(t, p, uscratch, "/missing"), uintptr(defs.O_READ), 0))
	assert.Equal(t, -int(defs.EFAULT), syscall(p, defs.SYS_OPEN,
		uintptr(0xbad000), uintptr(defs.O_READ), 0))
	p.Exit(0)
}

func TestSbrkAndGetters(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	p.Mem.StartBrk = 0x100000
	p.Mem.Brk = 0x100000
	old := syscall(p, defs.SYS_SBRK, 8192)
	assert.Equal(t, 0x100000, old)
	assert.Equal(t, uintptr(0x100000+8192), p.Mem.Brk)

	assert.Equal(t, p.Pid, syscall(p, defs.SYS_GETPID))
	assert.Equal(t, 0, syscall(p, defs.SYS_GETPPID))
	assert.Equal(t, 0, syscall(p, defs.SYS_GETUID))
	assert.Equal(t, 0, syscall(p, defs.SYS_GETGID))
	p.Exit(0)
}

func TestChdirGetcwd(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	assert.Equal(t, 0, syscall(p, defs.SYS_CHDIR,
		putstr(t, p, uscratch, "/etc")))
	assert.Equal(t, "/etc", p.Cwd.String())
	// relative opens resolve against the new cwd
	fd := syscall(p, defs.SYS_OPEN, putstr(t, p, uscratch+0x40, "motd"),
		uintptr(defs.O_READ), 0)
	require.GreaterOrEqual(t, fd, 0)
	syscall(p, defs.SYS_CLOSE, uintptr(fd))
	out := uscratch + 0x80
	require.Equal(t, 0, syscall(p, defs.SYS_GETCWD, out, 32))
	s, err := p.Uptr(out).Str(32)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "/etc", s.String())
	assert.Equal(t, -int(defs.ENOTDIR), syscall(p, defs.SYS_CHDIR,
		putstr(t, p, uscratch+0xc0, "/etc/motd")))
	p.Exit(0)
}

func TestDupSharesOffset(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	fd := syscall(p, defs.SYS_OPEN, putstr(t, p, uscratch, "/etc/motd"),
		uintptr(defs.O_READ), 0)
	require.GreaterOrEqual(t, fd, 0)
	fd2 := syscall(p, defs.SYS_DUP, uintptr(fd))
	require.Greater(t, fd2, fd)
	out := uscratch + 0x100
	n := syscall(p, defs.SYS_READ, uintptr(fd), out, 3)
	require.Equal(t, 3, n)
	n = syscall(p, defs.SYS_READ, uintptr(fd2), out, 5)
	require.Equal(t, 5, n)
	var buf [5]uint8
	p.Uptr(out).Copyin(buf[:])
	// the dup shares the file offset
	assert.Equal(t, "come\n", string(buf[:]))
	p.Exit(0)
}

func TestBlockingReadParksAndRetries(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	fdp := uscratch
	require.Equal(t, 0, syscall(p, defs.SYS_PIPE, fdp))
	var fdbuf [8]uint8
	p.Uptr(fdp).Copyin(fdbuf[:])
	rfd := int(util.Readn(fdbuf[:], 4, 0))
	wfd := int(util.Readn(fdbuf[:], 4, 4))

	out := uscratch + 0x100
	// nothing buffered: the task parks instead of failing
	syscall(p, defs.SYS_READ, uintptr(rfd), out, 4)
	assert.Equal(t, task.Waiting, p.Maintask.Sched.State)

	// another writer fills the pipe; the sleep-list walk retries
	wd, err := p.Getfd(wfd)
	require.Equal(t, defs.Err_t(0), err)
	wd.File.Write(nil, fs.Mkfakebuf([]uint8("pong")))
	wd.File.Close()
	task.Awaken_tasks()
	assert.Equal(t, 4, int(int64(p.Maintask.Frame.Regs[task.REG_A0])))
	var buf [4]uint8
	p.Uptr(out).Copyin(buf[:])
	assert.Equal(t, "pong", string(buf[:]))
	p.Exit(0)
}

func TestStatSyscall(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	fd := syscall(p, defs.SYS_OPEN, putstr(t, p, uscratch, "/etc/motd"),
		uintptr(defs.O_READ), 0)
	require.GreaterOrEqual(t, fd, 0)
	stp := uscratch + 0x200
	require.Equal(t, 0, syscall(p, defs.SYS_STAT, uintptr(fd), stp))
	raw := make([]uint8, defs.Statsize)
	p.Uptr(stp).Copyin(raw)
	size := util.Readn(raw, 8, 42)
	assert.Equal(t, 8, size)
	mode := util.Readn(raw, 2, 16)
	assert.Equal(t, defs.T_REG, defs.Filetype(defs.Mode_t(mode)))
	syscall(p, defs.SYS_CLOSE, uintptr(fd))
	p.Exit(0)
}

func TestReaddirSyscall(t *testing.T) {
	w := mkworld(t)
	p := w.mkuser(t, nil)
	fd := syscall(p, defs.SYS_OPEN, putstr(t, p, uscratch, "/etc"),
		uintptr(defs.O_READ|defs.O_DIRECTORY), 0)
	require.GreaterOrEqual(t, fd, 0)
	out := uscratch + 0x100
	n := syscall(p, defs.SYS_READDIR, uintptr(fd), out, 128)
	require.Greater(t, n, 19)
	raw := make([]uint8, n)
	p.Uptr(out).Copyin(raw)
	assert.Equal(t, "motd", string(raw[19:n-1]))
	// the next read hits the end of the directory
	n = syscall(p, defs.SYS_READDIR, uintptr(fd), out, 128)
	assert.Equal(t, 0, n)
	p.Exit(0)
}
