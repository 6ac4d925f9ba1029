// Package kernel wires the subsystems together: boot ordering, trap
// dispatch, the hosted hart loop, the console log and the single-shot
// panic path.
package kernel

import "sync"

import "github.com/jacobsa/timeutil"

import "goros/defs"
import "goros/dev"
import "goros/fs"
import "goros/loader"
import "goros/mem"
import "goros/minix"
import "goros/proc"
import "goros/sys"
import "goros/task"
import "goros/ustr"

/// Bootcfg_t selects the machine resources the kernel boots with.
type Bootcfg_t struct {
	// physical memory in pages
	Pages int
	// number of harts to bring up
	Harts int
	// root disk and console, supplied by the machine layer
	Disk    dev.Blockdev_i
	Console dev.Chardev_i
	Clock   timeutil.Clock
	Machine task.Machine_i
}

/// Kernel_t is the booted kernel instance.
type Kernel_t struct {
	Vfs     *fs.Vfs_t
	Console *fs.Vfsfile_t
	Harts   []*task.Hart_t
}

/// Trap causes delivered by the machine layer.
type Trapcause_t int

const (
	TrapTimer Trapcause_t = iota
	TrapExternal
	TrapSyscall
	TrapUserFault
	TrapKernelFault
)

/// Boot initializes the kernel in the fixed order: page allocator,
/// kernel heap, frame reference table, primary hart, filesystem tree,
/// devices, root mount, device nodes. It does not start an init
/// process.
func Boot(cfg Bootcfg_t) (*Kernel_t, defs.Err_t) {
	if cfg.Pages == 0 {
		cfg.Pages = 1 << 14
	}
	if cfg.Harts == 0 {
		cfg.Harts = 1
	}
	phys := mem.Phys_init(cfg.Pages)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	if cfg.Clock != nil {
		task.Clock = cfg.Clock
		fs.Clock = cfg.Clock
	}
	task.Machine = cfg.Machine
	k := &Kernel_t{}
	for i := 0; i < cfg.Harts; i++ {
		k.Harts = append(k.Harts, task.Mkhart(i))
	}
	k.Vfs = fs.Mkvfs()
	if cfg.Console != nil {
		k.Vfs.Registerchar(defs.Mkdev(defs.D_CONSOLE, 0), cfg.Console)
	}
	k.Vfs.Registerchar(defs.Mkdev(defs.D_NULL, 0), dev.Nulldev_t{})
	k.Vfs.Registerchar(defs.Mkdev(defs.D_ZERO, 0), dev.Zerodev_t{})
	if cfg.Disk != nil {
		k.Vfs.Registerblock(defs.Mkdev(defs.D_RAWDISK, 0), cfg.Disk)
		blk := fs.Mkblknode(cfg.Disk, nil)
		devf := fs.Mkfile(blk, ustr.Ustr("boot:[disk]"), defs.O_READ|defs.O_WRITE)
		sb, err := minix.Mount(devf, k.Vfs.Nextsbid())
		devf.Close()
		if err != 0 {
			return nil, err
		}
		k.Vfs.Mountroot(sb)
		k.mkdevnodes()
	}
	if cfg.Console != nil && k.Vfs != nil {
		if f, err := k.Vfs.Open(nil, ustr.Ustr("/dev/tty"), defs.O_WRITE|defs.O_READ, 0); err == 0 {
			k.Console = f
		}
	}
	sys.Init(k.Vfs, k.Console)
	return k, 0
}

// mkdevnodes populates /dev on the root filesystem.
func (k *Kernel_t) mkdevnodes() {
	mknod := func(path string, typ int, maj int) {
		mode := defs.Typemode(typ) | defs.MODE_OGA_RW
		k.Vfs.Mknod(nil, ustr.Ustr(path), mode, defs.Mkdev(maj, 0))
	}
	dirmode := defs.Typemode(defs.T_DIR) | defs.MODE_OGA_RW |
		defs.MODE_O_X | defs.MODE_G_X | defs.MODE_A_X
	k.Vfs.Mknod(nil, ustr.Ustr("/dev"), dirmode, 0)
	mknod("/dev/tty", defs.T_CHR, defs.D_CONSOLE)
	mknod("/dev/null", defs.T_CHR, defs.D_NULL)
	mknod("/dev/zero", defs.T_CHR, defs.D_ZERO)
	mknod("/dev/blk0", defs.T_BLK, defs.D_RAWDISK)
}

/// Mkinit creates the first user process from the executable at path.
func (k *Kernel_t) Mkinit(path ustr.Ustr, args []ustr.Ustr) (*proc.Proc_t, defs.Err_t) {
	t := task.Mktask(task.DEFAULT_PRIORITY)
	p, err := proc.Mkproc(t, nil)
	if err != 0 {
		return nil, err
	}
	if k.Console != nil {
		for fd := 0; fd < 3; fd++ {
			k.Console.Refup()
			p.Putfd(fd, 0, k.Console)
		}
	}
	if err := Execproc(k, p, path, args); err != 0 {
		return nil, err
	}
	task.Enqueue(t)
	return p, 0
}

/// Trap is the common trap entry: the machine layer saved the context
/// into the task's frame (or the hart's bare frame) and reports the
/// cause.
func (k *Kernel_t) Trap(h *task.Hart_t, t *task.Task_t, cause Trapcause_t, faultva uintptr) {
	switch cause {
	case TrapTimer:
		task.Preempt(h)
	case TrapExternal:
		// device handlers run from their interrupt hooks; nothing to do
		// beyond waking eligible sleepers
		task.Awaken_tasks()
	case TrapSyscall:
		sys.Dispatch(t)
	case TrapUserFault:
		p, _ := t.Proc.(*proc.Proc_t)
		if p == nil || !p.Mem.Handle_pgfault(faultva) {
			if p == nil {
				k.Panic("kernel page fault")
			}
			p.Sendsignal(defs.SIGSEGV)
		}
	case TrapKernelFault:
		k.Panic("kernel page fault")
	}
}

var panicOnce sync.Mutex
var panicked bool

/// Panic halts the machine: the first hart in takes the panic lock,
/// tells every other hart to stop, emits one diagnostic and stops.
func (k *Kernel_t) Panic(msg string) {
	panicOnce.Lock()
	if panicked {
		panicOnce.Unlock()
		for {
		}
	}
	panicked = true
	panicOnce.Unlock()
	task.Ipi.Broadcast(-1, task.IpiPanic)
	k.Klog(KlogPanic, "%s", msg)
	panic("kernel: " + msg)
}

/// Enter runs one scheduling step on the hart: pick the next task,
/// deliver pending signals, and run kernel tasks to their next yield.
/// User tasks are handed to the machine layer through the returned
/// frame; a nil return means the hart should idle.
func (k *Kernel_t) Enter(h *task.Hart_t) *task.Trapframe_t {
	for {
		next := task.Run_next(h)
		if p, ok := next.Proc.(*proc.Proc_t); ok {
			if !p.Handlepending() {
				continue
			}
		}
		if next == h.Idle {
			return nil
		}
		if next.Entry != nil {
			next.Entry()
			next.Lock()
			if next.Sched.State == task.Running {
				next.Sched.State = task.Terminated
			}
			st := next.Sched.State
			next.Unlock()
			if st == task.Terminated {
				next.Free()
			} else {
				task.Enqueue(next)
			}
			continue
		}
		return &next.Frame
	}
}

// Execproc loads a program into an existing process; split out so the
// boot path and tests share it with execve.
func Execproc(k *Kernel_t, p *proc.Proc_t, path ustr.Ustr, args []ustr.Ustr) defs.Err_t {
	return loader.Exec(k.Vfs, p, path, args, nil)
}
