package sys

import "goros/defs"
import "goros/loader"
import "goros/proc"
import "goros/task"
import "goros/ustr"

func sysExit(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if p == nil {
		t.Lock()
		t.Sched.State = task.Terminated
		t.Unlock()
		return 0, defs.SUCCESS_EXIT
	}
	p.Exit(defs.Mkexitstatus(int(tf.Arg(0))))
	return 0, defs.SUCCESS_EXIT
}

func sysYield(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	t.Lock()
	if t.Sched.State == task.Running {
		t.Sched.State = task.Enquable
	}
	t.Unlock()
	return 0, 0
}

func sysFork(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if p == nil {
		nt := proc.Forktask(t)
		task.Enqueue(nt)
		return 0, 0
	}
	np, err := proc.Fork(p)
	if err != 0 {
		return 0, err
	}
	task.Enqueue(np.Maintask)
	return np.Pid, 0
}

func sysSleep(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	dur := int64(tf.Arg(0))
	if dur <= 0 {
		return 0, 0
	}
	task.Block(t, task.Sleeping, task.Now()+dur)
	return 0, defs.SUCCESS_EXIT
}

func sysExecve(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if p == nil {
		return 0, -defs.EINVAL
	}
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	args, err := userstrarray(p, tf.Arg(1))
	if err != 0 {
		return 0, err
	}
	envs, err := userstrarray(p, tf.Arg(2))
	if err != 0 {
		return 0, err
	}
	if err := loader.Exec(Vfs, p, path, args, envs); err != 0 {
		return 0, err
	}
	// the frame now belongs to the new image
	return 0, defs.SUCCESS_EXIT
}

// userstrarray copies a NUL-terminated array of string pointers.
func userstrarray(p *proc.Proc_t, addr uintptr) ([]ustr.Ustr, defs.Err_t) {
	var out []ustr.Ustr
	if addr == 0 {
		return out, 0
	}
	for i := 0; i < maxArgs; i++ {
		sp, err := p.Uptr(addr + uintptr(i*8)).Readint(8)
		if err != 0 {
			return nil, err
		}
		if sp == 0 {
			return out, 0
		}
		s, err := p.Uptr(uintptr(sp)).Str(maxArgLen)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, -defs.EINVAL
}

func sysGetpid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if p == nil {
		return 0, 0
	}
	return p.Pid, 0
}

func sysGetppid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if p == nil {
		return 0, 0
	}
	if pp := p.Parent(); pp != nil {
		return pp.Pid, 0
	}
	return 0, 0
}

func sysWait(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return p.Wait(int(int64(tf.Arg(0))), tf.Arg(1), int(tf.Arg(2)))
}

func sysSbrk(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return int(p.Mem.Sbrk(int(int64(tf.Arg(0))))), 0
}

func sysProtect(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return 0, p.Mem.Protect(tf.Arg(0), tf.Arg(1), int(tf.Arg(2)))
}

// sigaction records are five words in user memory: handler, mask,
// flags, sigaction and restorer.
func sysSigaction(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	sig := defs.Signal_t(tf.Arg(0))
	var h *proc.Sighandler_t
	if tf.Arg(1) != 0 {
		vp := p.Uptr(tf.Arg(1))
		words := [5]uint64{}
		for i := range words {
			w, err := vp.Off(i * 8).Readint(8)
			if err != 0 {
				return 0, err
			}
			words[i] = w
		}
		h = &proc.Sighandler_t{
			Handler:  uintptr(words[0]),
			Mask:     defs.Sigset_t(words[1]),
			Flags:    int(words[2]),
			Restorer: uintptr(words[4]),
		}
	}
	old, err := p.Sigaction(sig, h)
	if err != 0 {
		return 0, err
	}
	if tf.Arg(2) != 0 && old != nil {
		vp := p.Uptr(tf.Arg(2))
		vp.Writeint(8, uint64(old.Handler))
		vp.Off(8).Writeint(8, uint64(old.Mask))
		vp.Off(16).Writeint(8, uint64(old.Flags))
		vp.Off(24).Writeint(8, 0)
		vp.Off(32).Writeint(8, uint64(old.Restorer))
	}
	return 0, 0
}

func sysSigreturn(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	p.Sigreturn()
	return 0, defs.SUCCESS_EXIT
}

func sysKill(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return 0, p.Kill(int(int64(tf.Arg(0))), defs.Signal_t(tf.Arg(1)))
}

func sysGetuid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return int(p.Ruid), 0
}

func sysGetgid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return int(p.Rgid), 0
}

func sysSetuid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	uid := uint32(tf.Arg(0))
	if p.Euid == 0 {
		p.Ruid, p.Euid, p.Suid = uid, uid, uid
		return 0, 0
	}
	if uid == p.Ruid || uid == p.Suid {
		p.Euid = uid
		return 0, 0
	}
	return 0, -defs.EPERM
}

func sysSetgid(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	gid := uint32(tf.Arg(0))
	if p.Euid == 0 {
		p.Rgid, p.Egid, p.Sgid = gid, gid, gid
		return 0, 0
	}
	if gid == p.Rgid || gid == p.Sgid {
		p.Egid = gid
		return 0, 0
	}
	return 0, -defs.EPERM
}

func sysTimes(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if tf.Arg(0) != 0 {
		vp := p.Uptr(tf.Arg(0))
		vp.Writeint(8, uint64(t.Usertime))
		vp.Off(8).Writeint(8, uint64(t.Systime))
		vp.Off(16).Writeint(8, uint64(p.Times.Userchild))
		vp.Off(24).Writeint(8, uint64(p.Times.Syschild))
	}
	return int(task.Now()), 0
}

func sysPause(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	task.Block(t, task.Paused, 0)
	return 0, defs.SUCCESS_EXIT
}

func sysAlarm(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return p.Alarm(int(tf.Arg(0))), 0
}

func sysSigpending(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return int(p.Sigpending()), 0
}

func sysSigprocmask(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	how := int(tf.Arg(0))
	var set defs.Sigset_t
	if tf.Arg(1) != 0 {
		w, err := p.Uptr(tf.Arg(1)).Readint(8)
		if err != 0 {
			return 0, err
		}
		set = defs.Sigset_t(w)
	} else {
		// query only
		how = defs.SIG_BLOCK
	}
	old, err := p.Sigprocmask(how, set)
	if err != 0 {
		return 0, err
	}
	if tf.Arg(2) != 0 {
		if err := p.Uptr(tf.Arg(2)).Writeint(8, uint64(old)); err != 0 {
			return 0, err
		}
	}
	return 0, 0
}

func sysCritical(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	// kernel tasks already run with interrupts handled by the hosted
	// machine layer; the call exists for ABI completeness
	return 0, 0
}
