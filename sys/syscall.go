// Package sys maps the syscall ABI onto the kernel: argument
// marshaling through user pointers, the dispatch table, and the
// blocking contract that re-parks tasks whose files report EAGAIN.
package sys

import "goros/bpath"
import "goros/defs"
import "goros/fs"
import "goros/proc"
import "goros/task"
import "goros/ustr"

/// Vfs is the filesystem tree syscalls operate on, installed at boot.
var Vfs *fs.Vfs_t

/// Console is the kernel console file used by the print syscall and the
/// boot log, installed at boot.
var Console *fs.Vfsfile_t

/// Init wires the syscall layer to the mounted filesystem tree.
func Init(vfs *fs.Vfs_t, console *fs.Vfsfile_t) {
	Vfs = vfs
	Console = console
}

const maxPathLen = 1024
const maxArgLen = 4096
const maxArgs = 128

// handler_t implements one syscall. A SUCCESS_EXIT error means a0 was
// (or will be) set elsewhere: the task parked, terminated or had its
// frame replaced.
type handler_t func(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t)

var syscalls = map[int]handler_t{
	defs.SYS_PRINT:       sysPrint,
	defs.SYS_EXIT:        sysExit,
	defs.SYS_YIELD:       sysYield,
	defs.SYS_FORK:        sysFork,
	defs.SYS_SLEEP:       sysSleep,
	defs.SYS_OPEN:        sysOpen,
	defs.SYS_LINK:        sysLink,
	defs.SYS_UNLINK:      sysUnlink,
	defs.SYS_RENAME:      sysRename,
	defs.SYS_CLOSE:       sysClose,
	defs.SYS_READ:        sysRead,
	defs.SYS_WRITE:       sysWrite,
	defs.SYS_SEEK:        sysSeek,
	defs.SYS_STAT:        sysStat,
	defs.SYS_DUP:         sysDup,
	defs.SYS_TRUNC:       sysTrunc,
	defs.SYS_CHMOD:       sysChmod,
	defs.SYS_CHOWN:       sysChown,
	defs.SYS_MOUNT:       sysMount,
	defs.SYS_UMOUNT:      sysUmount,
	defs.SYS_EXECVE:      sysExecve,
	defs.SYS_READDIR:     sysReaddir,
	defs.SYS_GETPID:      sysGetpid,
	defs.SYS_GETPPID:     sysGetppid,
	defs.SYS_WAIT:        sysWait,
	defs.SYS_SBRK:        sysSbrk,
	defs.SYS_PROTECT:     sysProtect,
	defs.SYS_SIGACTION:   sysSigaction,
	defs.SYS_SIGRETURN:   sysSigreturn,
	defs.SYS_KILL:        sysKill,
	defs.SYS_GETUID:      sysGetuid,
	defs.SYS_GETGID:      sysGetgid,
	defs.SYS_SETUID:      sysSetuid,
	defs.SYS_SETGID:      sysSetgid,
	defs.SYS_CHDIR:       sysChdir,
	defs.SYS_GETCWD:      sysGetcwd,
	defs.SYS_PIPE:        sysPipe,
	defs.SYS_TIMES:       sysTimes,
	defs.SYS_PAUSE:       sysPause,
	defs.SYS_ALARM:       sysAlarm,
	defs.SYS_SIGPENDING:  sysSigpending,
	defs.SYS_SIGPROCMASK: sysSigprocmask,
	defs.SYS_MKNOD:       sysMknod,
	defs.SYS_CRITICAL:    sysCritical,
}

// the calls a kernel task, which has no process, may issue
var procless = map[int]bool{
	defs.SYS_PRINT: true, defs.SYS_EXIT: true, defs.SYS_YIELD: true,
	defs.SYS_FORK: true, defs.SYS_SLEEP: true, defs.SYS_GETPID: true,
	defs.SYS_GETPPID: true, defs.SYS_CRITICAL: true,
}

/// Dispatch executes the syscall encoded in the task's trap frame and
/// places the result in a0, negated for errors.
func Dispatch(t *task.Task_t) {
	tf := &t.Frame
	num := int(tf.Regs[task.REG_A0])
	p, _ := t.Proc.(*proc.Proc_t)
	if num >= defs.SYS_KERNEL_ONLY && p != nil {
		tf.Setret(-int(defs.EPERM))
		return
	}
	if p == nil && !procless[num] {
		tf.Setret(-int(defs.EINVAL))
		return
	}
	h, ok := syscalls[num]
	if !ok {
		tf.Setret(-int(defs.EINVAL))
		return
	}
	ret, err := h(t, p, tf)
	if err == defs.SUCCESS_EXIT {
		return
	}
	if err != 0 {
		tf.Setret(-int(err))
	} else {
		tf.Setret(ret)
	}
}

// userpath copies a path argument and resolves it to absolute, reduced
// form against the process's working directory.
func userpath(p *proc.Proc_t, addr uintptr) (ustr.Ustr, defs.Err_t) {
	s, err := p.Uptr(addr).Str(maxPathLen)
	if err != 0 {
		return nil, err
	}
	return bpath.Canonicalize(p.Cwd, s), 0
}

// parkretry implements the blocking contract: an operation that
// reports EAGAIN on a blocking file parks the task with a readiness
// predicate and reruns on wakeup; an interrupting signal surfaces as
// EINTR.
func parkretry(t *task.Task_t, f *fs.Vfsfile_t, write bool,
	op func() (int, defs.Err_t)) (int, defs.Err_t) {
	n, err := op()
	if err != -defs.EAGAIN || !f.Blocking() {
		return n, err
	}
	var again func(wt *task.Task_t, intr bool)
	park := func(wt *task.Task_t) {
		wt.Setwakeup(func(interface{}) bool { return f.Ready(write) }, nil)
		wt.Lock()
		wt.Sched.Onwake = again
		wt.Unlock()
		task.Block(wt, task.Waiting, 0)
	}
	again = func(wt *task.Task_t, intr bool) {
		if intr {
			wt.Frame.Setret(-int(defs.EINTR))
			return
		}
		n, err := op()
		if err == -defs.EAGAIN {
			park(wt)
			return
		}
		if err != 0 {
			wt.Frame.Setret(-int(err))
		} else {
			wt.Frame.Setret(n)
		}
	}
	park(t)
	return 0, defs.SUCCESS_EXIT
}
