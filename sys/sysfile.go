package sys

import "goros/defs"
import "goros/fs"
import "goros/minix"
import "goros/proc"
import "goros/task"
import "goros/ustr"
import "goros/vm"

func sysPrint(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	if Console == nil {
		return 0, 0
	}
	var msg ustr.Ustr
	if p != nil {
		s, err := p.Uptr(tf.Arg(0)).Str(maxArgLen)
		if err != 0 {
			return 0, err
		}
		msg = s
	}
	Console.Write(nil, fs.Mkfakebuf(msg))
	return 0, 0
}

func sysOpen(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	flags := int(tf.Arg(1))
	mode := defs.Mode_t(tf.Arg(2)) &^ p.Umask
	f, err := Vfs.Open(p.Cred(), path, flags, mode)
	if err != 0 {
		return 0, err
	}
	dflags := 0
	if flags&defs.O_CLOEXEC != 0 {
		dflags |= defs.FD_CLOEXEC
	}
	return p.Putfd(-1, dflags, f), 0
}

func sysClose(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	return 0, p.Closefd(int(tf.Arg(0)))
}

func sysRead(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	if d.File.Flags&defs.O_READ == 0 {
		return 0, -defs.EBADF
	}
	addr, length := tf.Arg(1), int(tf.Arg(2))
	return parkretry(t, d.File, false, func() (int, defs.Err_t) {
		return d.File.Read(p.Cred(), vm.Mkuserbuf(p.Mem, addr, length))
	})
}

func sysWrite(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	if d.File.Flags&defs.O_WRITE == 0 {
		return 0, -defs.EBADF
	}
	addr, length := tf.Arg(1), int(tf.Arg(2))
	return parkretry(t, d.File, true, func() (int, defs.Err_t) {
		return d.File.Write(p.Cred(), vm.Mkuserbuf(p.Mem, addr, length))
	})
}

func sysSeek(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	return d.File.Seek(int(tf.Arg(1)), int(tf.Arg(2)))
}

func sysStat(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	var st defs.Stat_t
	if err := d.File.Stat(&st); err != 0 {
		return 0, err
	}
	return 0, p.Uptr(tf.Arg(1)).Copyout(st.Bytes())
}

func sysDup(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	// Getfd's reference is donated to the new descriptor; the dup does
	// not inherit close-on-exec
	return p.Putfd(-1, 0, d.File), 0
}

func sysTrunc(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	return 0, d.File.Trunc(p.Cred(), int(tf.Arg(1)))
}

func sysChmod(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	f, err := Vfs.Open(p.Cred(), path, 0, 0)
	if err != 0 {
		return 0, err
	}
	defer f.Close()
	return 0, f.Chmod(p.Cred(), defs.Mode_t(tf.Arg(1)))
}

func sysChown(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	f, err := Vfs.Open(p.Cred(), path, 0, 0)
	if err != 0 {
		return 0, err
	}
	defer f.Close()
	return 0, f.Chown(p.Cred(), int(int64(tf.Arg(1))), int(int64(tf.Arg(2))))
}

func sysLink(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	old, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	nw, err := userpath(p, tf.Arg(1))
	if err != 0 {
		return 0, err
	}
	return 0, Vfs.Link(p.Cred(), old, nw)
}

func sysUnlink(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	return 0, Vfs.Unlink(p.Cred(), path)
}

func sysRename(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	old, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	nw, err := userpath(p, tf.Arg(1))
	if err != 0 {
		return 0, err
	}
	return 0, Vfs.Rename(p.Cred(), old, nw)
}

func sysMount(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	source, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	target, err := userpath(p, tf.Arg(1))
	if err != 0 {
		return 0, err
	}
	fstype, err := p.Uptr(tf.Arg(2)).Str(64)
	if err != 0 {
		return 0, err
	}
	if !fstype.Eq(ustr.Ustr("minix")) {
		return 0, -defs.ENOTSUP
	}
	devf, err := Vfs.Open(p.Cred(), source, defs.O_READ|defs.O_WRITE, 0)
	if err != 0 {
		return 0, err
	}
	sb, err := minix.Mount(devf, Vfs.Nextsbid())
	devf.Close()
	if err != 0 {
		return 0, err
	}
	if err := Vfs.Mount(p.Cred(), target, sb); err != 0 {
		sb.Refdown()
		return 0, err
	}
	return 0, 0
}

func sysUmount(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	target, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	return 0, Vfs.Umount(p.Cred(), target)
}

func sysReaddir(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	d, err := p.Getfd(int(tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	defer d.File.Close()
	return d.File.Readdir(p.Cred(), vm.Mkuserbuf(p.Mem, tf.Arg(1), int(tf.Arg(2))))
}

func sysChdir(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	n, err := Vfs.Lookup(p.Cred(), path)
	if err != 0 {
		return 0, err
	}
	isdir := defs.Filetype(n.Stat.Mode) == defs.T_DIR
	n.Refdown()
	if !isdir {
		return 0, -defs.ENOTDIR
	}
	p.Lock()
	p.Cwd = path
	p.Unlock()
	return 0, 0
}

func sysGetcwd(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	p.Lock()
	cwd := append(ustr.MkUstr(), p.Cwd...)
	p.Unlock()
	cwd = append(cwd, 0)
	if int(tf.Arg(1)) < len(cwd) {
		return 0, -defs.EINVAL
	}
	return 0, p.Uptr(tf.Arg(0)).Copyout(cwd)
}

func sysPipe(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	rf, wf := fs.Openpipe(0)
	rfd := p.Putfd(-1, 0, rf)
	wfd := p.Putfd(-1, 0, wf)
	var buf [8]uint8
	buf[0] = uint8(rfd)
	buf[1] = uint8(rfd >> 8)
	buf[2] = uint8(rfd >> 16)
	buf[3] = uint8(rfd >> 24)
	buf[4] = uint8(wfd)
	buf[5] = uint8(wfd >> 8)
	buf[6] = uint8(wfd >> 16)
	buf[7] = uint8(wfd >> 24)
	if err := p.Uptr(tf.Arg(0)).Copyout(buf[:]); err != 0 {
		p.Closefd(rfd)
		p.Closefd(wfd)
		return 0, err
	}
	return 0, 0
}

func sysMknod(t *task.Task_t, p *proc.Proc_t, tf *task.Trapframe_t) (int, defs.Err_t) {
	path, err := userpath(p, tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	mode := defs.Mode_t(tf.Arg(1))
	if mode&defs.MODE_TYPE == 0 {
		mode |= defs.Typemode(defs.T_REG)
	}
	mode &^= p.Umask &^ defs.MODE_TYPE
	return 0, Vfs.Mknod(p.Cred(), path, mode, uint64(tf.Arg(2)))
}
