package kernel

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goros/defs"
	"goros/dev"
	"goros/fs"
	"goros/mem"
	"goros/minix"
	"goros/task"
	"goros/ustr"
	"goros/util"
)

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

var console *bytes.Buffer

func boot(t *testing.T) *Kernel_t {
	elfimg := mkelf([]uint8{0x13, 0, 0, 0}, 0x10000, 0x10000)
	// the image builder runs the filesystem engine, so it needs the
	// allocators before Boot re-initializes them
	phys := mem.Phys_init(1 << 12)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	img, kerr := minix.Buildimage(4<<20, 256, []minix.Fileent_t{
		{Path: "/bin/init", Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW |
			defs.MODE_O_X | defs.MODE_A_X, Data: elfimg},
	})
	require.Equal(t, defs.Err_t(0), kerr)
	console = &bytes.Buffer{}
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Unix(1000, 0))
	k, err := Boot(Bootcfg_t{
		Pages:   1 << 12,
		Harts:   2,
		Disk:    dev.Mkramdisk(img),
		Console: dev.Mkuart(console),
		Clock:   clock,
	})
	require.Equal(t, defs.Err_t(0), err)
	return k
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestBootMountsRootAndDevs(t *testing.T) {
	k := boot(t)
	require.NotNil(t, k.Console)
	for _, path := range []string{"/dev/tty", "/dev/null", "/dev/zero", "/dev/blk0"} {
		f, err := k.Vfs.Open(nil, ustr.Ustr(path), defs.O_READ, 0)
		require.Equal(t, defs.Err_t(0), err, "open %s", path)
		f.Close()
	}
	f, err := k.Vfs.Open(nil, ustr.Ustr("/bin/init"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	f.Close()
}

func TestKlogWritesAnsiLines(t *testing.T) {
	k := boot(t)
	k.Klog(KlogInfo, "hello %d", 7)
	out := console.String()
	assert.Contains(t, out, "[info]")
	assert.Contains(t, out, "hello 7")
	assert.Contains(t, out, "\x1b[32m")
}

func TestMkinitSchedulesFirstProcess(t *testing.T) {
	k := boot(t)
	p, err := k.Mkinit(ustr.Ustr("/bin/init"), []ustr.Ustr{ustr.Ustr("init")})
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uintptr(0x10000), p.Maintask.Frame.Pc)
	// stdin/stdout/stderr are wired to the console
	for fd := 0; fd < 3; fd++ {
		d, gerr := p.Getfd(fd)
		require.Equal(t, defs.Err_t(0), gerr)
		d.File.Close()
	}
	// the scheduler hands the init frame to the machine layer
	frame := k.Enter(k.Harts[0])
	require.NotNil(t, frame)
	assert.Equal(t, uintptr(0x10000), frame.Pc)
	p.Exit(0)
}

func TestKernelTaskRunsOnEnter(t *testing.T) {
	k := boot(t)
	ran := false
	tk := task.Mkkernel(func() { ran = true }, task.DEFAULT_PRIORITY)
	tk.Frame.Hart = k.Harts[1]
	task.Enqueue(tk)
	frame := k.Enter(k.Harts[1])
	assert.Nil(t, frame)
	assert.True(t, ran)
}

func TestTrapSyscallDispatch(t *testing.T) {
	k := boot(t)
	p, err := k.Mkinit(ustr.Ustr("/bin/init"), nil)
	require.Equal(t, defs.Err_t(0), err)
	tf := &p.Maintask.Frame
	tf.Regs[task.REG_A0] = uintptr(defs.SYS_GETPID)
	k.Trap(k.Harts[0], p.Maintask, TrapSyscall, 0)
	assert.Equal(t, p.Pid, int(tf.Regs[task.REG_A0]))
	p.Exit(0)
}

func TestZeroDeviceReads(t *testing.T) {
	k := boot(t)
	f, err := k.Vfs.Open(nil, ustr.Ustr("/dev/zero"), defs.O_READ, 0)
	require.Equal(t, defs.Err_t(0), err)
	out := make([]uint8, 8)
	n, rerr := f.Read(nil, fs.Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, 8, n)
	assert.Equal(t, make([]uint8, 8), out)
	f.Close()
}
