package proc

import "goros/defs"
import "goros/task"
import "goros/vm"

// matcheswait reports whether a wait id selects the given child pid and
// group: -1 any child, 0 the caller's group, >0 that pid.
func (p *Proc_t) matcheswait(wpid int, childpid, childpgid int) bool {
	switch {
	case wpid == -1:
		return true
	case wpid == 0:
		return childpgid == p.Pgid
	default:
		return childpid == wpid
	}
}

// consumewait removes the first matching wait result and returns the
// reaped pid, writing the status through statusp when non-zero.
func (p *Proc_t) consumewait(wpid int, statusp uintptr) (int, bool) {
	p.Lock()
	defer p.Unlock()
	for i, w := range p.waits {
		// wait results no longer know their group, so group selectors
		// match any stored result
		if wpid > 0 && w.Pid != wpid {
			continue
		}
		p.waits = append(p.waits[:i], p.waits[i+1:]...)
		p.Times.Userchild += w.Usertime
		p.Times.Syschild += w.Systime
		if statusp != 0 {
			vm.Uptr(p.Mem, statusp).Writeint(8, uint64(w.Status))
		}
		return w.Pid, true
	}
	return 0, false
}

func (p *Proc_t) haslivechild(wpid int) bool {
	p.Lock()
	defer p.Unlock()
	for _, c := range p.children {
		if p.matcheswait(wpid, c.Pid, c.Pgid) {
			return true
		}
	}
	return false
}

/// Wait implements the wait syscall. It reaps a matching wait result if
/// one exists; otherwise it fails with ECHILD when no matching child is
/// alive, returns 0 under WNOHANG, or parks the task in WaitChld with a
/// predicate watching for a result, finishing the reap on wakeup.
func (p *Proc_t) Wait(wpid int, statusp uintptr, flags int) (int, defs.Err_t) {
	if pid, ok := p.consumewait(wpid, statusp); ok {
		return pid, 0
	}
	if !p.haslivechild(wpid) {
		return 0, -defs.ECHILD
	}
	if flags&defs.WNOHANG != 0 {
		return 0, 0
	}
	t := p.Maintask
	t.Setwakeup(func(interface{}) bool {
		p.Lock()
		defer p.Unlock()
		for _, w := range p.waits {
			if wpid <= 0 || w.Pid == wpid {
				return true
			}
		}
		return false
	}, nil)
	t.Lock()
	t.Sched.Onwake = func(wt *task.Task_t, intr bool) {
		if pid, ok := p.consumewait(wpid, statusp); ok {
			wt.Frame.Setret(pid)
		} else {
			wt.Frame.Setret(-int(defs.EINTR))
		}
	}
	t.Unlock()
	task.Block(t, task.WaitChld, 0)
	return 0, defs.SUCCESS_EXIT
}

/// Kill queues sig for the processes selected by pid: a positive pid
/// targets that process, -1 every process except the caller and pid 1,
/// 0 the caller's group, and below -1 the group -pid.
func (p *Proc_t) Kill(pid int, sig defs.Signal_t) defs.Err_t {
	if sig < 0 || sig >= defs.SIGCOUNT {
		return -defs.EINVAL
	}
	send := func(target *Proc_t) {
		if sig != defs.SIGNONE {
			target.Sendsignal(sig)
		}
	}
	switch {
	case pid > 0:
		target := Lookup(pid)
		if target == nil {
			return -defs.ESRCH
		}
		send(target)
	case pid == -1:
		found := false
		Allprocs(func(other *Proc_t) bool {
			if other != p && other.Pid != 1 {
				found = true
				send(other)
			}
			return true
		})
		if !found {
			return -defs.ESRCH
		}
	default:
		pgid := p.Pgid
		if pid < -1 {
			pgid = -pid
		}
		found := false
		Allprocs(func(other *Proc_t) bool {
			if other.Pgid == pgid {
				found = true
				send(other)
			}
			return true
		})
		if !found {
			return -defs.ESRCH
		}
	}
	return 0
}
