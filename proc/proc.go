// Package proc implements processes: the process tree with wait-result
// propagation, the file-descriptor table, user identity and session
// bookkeeping, and signal state with user-stack restore frames.
package proc

import "sync"

import "goros/defs"
import "goros/fs"
import "goros/task"
import "goros/ustr"
import "goros/vm"

/// Waitres_t is the immutable record a child leaves for its parent.
type Waitres_t struct {
	Pid      int
	Status   int
	Usertime int64
	Systime  int64
}

/// Times_t accumulates run time, split by privilege and generation.
type Times_t struct {
	User      int64
	Sys       int64
	Userchild int64
	Syschild  int64
}

/// Proc_t is a process. The embedded lock covers the tree links, the
/// wait list and the resource fields; the descriptor table and signal
/// state carry their own locks.
type Proc_t struct {
	sync.Mutex
	Pid      int
	Status   int
	Maintask *task.Task_t
	Mem      *vm.Memspace_t

	parent   *Proc_t
	children []*Proc_t
	waits    []Waitres_t

	Ruid, Euid, Suid uint32
	Rgid, Egid, Sgid uint32
	Pgid, Sid        int
	Cwd              ustr.Ustr
	Umask            defs.Mode_t

	fdlock sync.Mutex
	fds    []*Fdesc_t
	nextfd int

	sig sigstate_t

	Times Times_t
}

var (
	proclock sync.Mutex
	allprocs = make(map[int]*Proc_t)
	nextpid  = 1
)

func allocpid() int {
	pid := nextpid
	nextpid++
	return pid
}

/// Lookup finds a process by pid.
func Lookup(pid int) *Proc_t {
	proclock.Lock()
	defer proclock.Unlock()
	return allprocs[pid]
}

/// Allprocs calls f on every registered process; returning false stops
/// the iteration.
func Allprocs(f func(*Proc_t) bool) {
	proclock.Lock()
	var ps []*Proc_t
	for _, p := range allprocs {
		ps = append(ps, p)
	}
	proclock.Unlock()
	for _, p := range ps {
		if !f(p) {
			return
		}
	}
}

func register(p *Proc_t) {
	proclock.Lock()
	allprocs[p.Pid] = p
	if p.parent != nil {
		p.parent.Lock()
		p.parent.children = append(p.parent.children, p)
		p.parent.Unlock()
	}
	proclock.Unlock()
}

/// Mkproc creates a process with a fresh address space owned by the
/// given task. The parent may be nil for the first process.
func Mkproc(t *task.Task_t, parent *Proc_t) (*Proc_t, defs.Err_t) {
	ms, ok := vm.Mkmemspace()
	if !ok {
		return nil, -defs.ENOMEM
	}
	p := &Proc_t{Maintask: t, Mem: ms, Cwd: ustr.MkUstrRoot()}
	proclock.Lock()
	p.Pid = allocpid()
	proclock.Unlock()
	p.Pgid = p.Pid
	p.Sid = p.Pid
	p.parent = parent
	if parent != nil {
		p.Pgid = parent.Pgid
		p.Sid = parent.Sid
		p.Ruid, p.Euid, p.Suid = parent.Ruid, parent.Euid, parent.Suid
		p.Rgid, p.Egid, p.Sgid = parent.Rgid, parent.Egid, parent.Sgid
		p.Umask = parent.Umask
		p.Cwd = append(ustr.MkUstr(), parent.Cwd...)
	}
	p.siginit()
	t.Proc = p
	register(p)
	return p, 0
}

/// Cred returns the process's effective credential for filesystem
/// access checks.
func (p *Proc_t) Cred() *fs.Cred_t {
	return &fs.Cred_t{Uid: p.Euid, Gid: p.Egid}
}

/// Parent returns the current parent process.
func (p *Proc_t) Parent() *Proc_t {
	proclock.Lock()
	defer proclock.Unlock()
	return p.parent
}

/// Uptr builds a user pointer into the process's address space.
func (p *Proc_t) Uptr(addr uintptr) vm.Virtptr_t {
	return vm.Uptr(p.Mem, addr)
}

/// Fork clones the process: the address space is cloned copy-on-write,
/// the descriptor table is copied with reference bumps, and the child's
/// task resumes at the same pc with a0 = 0.
func Fork(p *Proc_t) (*Proc_t, defs.Err_t) {
	t := p.Maintask
	nt := task.Mktask(t.Sched.Priority)
	nt.Frame = t.Frame
	nt.Frame.Hart = nil
	nt.Frame.Setret(0)
	nms, ok := p.Mem.Clone()
	if !ok {
		return nil, -defs.ENOMEM
	}
	np := &Proc_t{Maintask: nt, Mem: nms, Cwd: append(ustr.MkUstr(), p.Cwd...)}
	proclock.Lock()
	np.Pid = allocpid()
	proclock.Unlock()
	np.parent = p
	np.Pgid, np.Sid = p.Pgid, p.Sid
	np.Ruid, np.Euid, np.Suid = p.Ruid, p.Euid, p.Suid
	np.Rgid, np.Egid, np.Sgid = p.Rgid, p.Egid, p.Sgid
	np.Umask = p.Umask
	np.siginit()
	np.sigcopyhandlers(p)
	np.Forkfds(p)
	nt.Frame.Satp = uintptr(nms.Rootpa())
	nt.Proc = np
	register(np)
	return np, 0
}

/// Forktask forks a task that has no process: a sibling kernel task
/// with a copied stack.
func Forktask(t *task.Task_t) *task.Task_t {
	nt := task.Mktask(t.Sched.Priority)
	nt.Frame = t.Frame
	nt.Frame.Hart = nil
	nt.Frame.Setret(0)
	nt.Entry = t.Entry
	if t.Stack != nil {
		nt.Stack = make([]uint8, len(t.Stack))
		copy(nt.Stack, t.Stack)
	}
	return nt
}

// reparent the children of a dying process to its parent; orphans move
// to init (pid 1).
func (p *Proc_t) reparent() {
	np := p.parent
	if np == p {
		np = nil
	}
	if np == nil || np == p {
		np = allprocs[1]
	}
	for _, c := range p.children {
		c.Lock()
		c.parent = np
		c.Unlock()
		if np != nil && np != p {
			np.Lock()
			np.children = append(np.children, c)
			np.Unlock()
		}
	}
	p.children = nil
}

func (p *Proc_t) dropchild(c *Proc_t) {
	for i, x := range p.children {
		if x == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

/// Exit terminates the process with the given wait status: descriptors
/// close, children are reparented, the wait result reaches the parent
/// along with SIGCHLD, the address space is freed, and the task moves to
/// Terminated. Reaping consumes only the wait result; nothing of the
/// process is held back until then.
func (p *Proc_t) Exit(status int) {
	p.Closeallfds()
	t := p.Maintask
	t.Lock()
	elapsed := task.Now() - t.Entered
	t.Usertime += elapsed
	t.Unlock()
	proclock.Lock()
	p.Lock()
	p.Status = status
	parent := p.parent
	p.reparent()
	p.Unlock()
	delete(allprocs, p.Pid)
	proclock.Unlock()
	if parent != nil && parent != p {
		res := Waitres_t{
			Pid:      p.Pid,
			Status:   status,
			Usertime: t.Usertime + p.Times.Userchild,
			Systime:  t.Systime + p.Times.Syschild,
		}
		parent.Lock()
		parent.dropchild(p)
		parent.waits = append(parent.waits, res)
		parent.Unlock()
		parent.Sendsignal(defs.SIGCHLD)
	}
	p.Mem.Free()
	t.Lock()
	t.Sched.State = task.Terminated
	t.Unlock()
}

/// Setsid makes the process its own session and group leader. It fails
/// for a process that already leads a group.
func (p *Proc_t) Setsid() (int, defs.Err_t) {
	proclock.Lock()
	defer proclock.Unlock()
	for _, other := range allprocs {
		if other != p && other.Pgid == p.Pid {
			return 0, -defs.EPERM
		}
	}
	if p.Pgid == p.Pid {
		return 0, -defs.EPERM
	}
	p.Lock()
	p.Sid = p.Pid
	p.Pgid = p.Pid
	p.Unlock()
	return p.Pid, 0
}

/// Setpgid moves a process into a process group. Only the caller itself
/// or its direct children may be moved, and only within one session.
func (p *Proc_t) Setpgid(pid, pgid int) defs.Err_t {
	if pgid < 0 {
		return -defs.EINVAL
	}
	target := p
	if pid != 0 && pid != p.Pid {
		target = Lookup(pid)
		if target == nil {
			return -defs.ESRCH
		}
		if target.Parent() != p {
			return -defs.EPERM
		}
	}
	if pgid == 0 {
		pgid = target.Pid
	}
	if target.Sid != p.Sid {
		return -defs.EPERM
	}
	if pgid != target.Pid {
		owner := Lookup(pgid)
		if owner == nil || owner.Sid != target.Sid {
			return -defs.EPERM
		}
	}
	target.Lock()
	target.Pgid = pgid
	target.Unlock()
	return 0
}
