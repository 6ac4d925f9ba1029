package proc

import "goros/defs"
import "goros/fs"

/// Fdesc_t binds a descriptor number to an open file plus per-descriptor
/// flags. The table keeps descriptors sorted by number.
type Fdesc_t struct {
	Id    int
	Flags int
	File  *fs.Vfsfile_t
}

// insertion point of fd in the sorted table
func (p *Proc_t) fdidx(fd int) int {
	lo, hi := 0, len(p.fds)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.fds[mid].Id < fd {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

/// Getfd returns the open file for fd with a reference taken.
func (p *Proc_t) Getfd(fd int) (*Fdesc_t, defs.Err_t) {
	p.fdlock.Lock()
	defer p.fdlock.Unlock()
	i := p.fdidx(fd)
	if i >= len(p.fds) || p.fds[i].Id != fd {
		return nil, -defs.EBADF
	}
	d := p.fds[i]
	d.File.Refup()
	return d, 0
}

/// Putfd installs file under fd, or under the lowest free number when
/// fd is negative. An existing descriptor with the same number closes
/// first. The file reference is donated by the caller.
func (p *Proc_t) Putfd(fd, flags int, file *fs.Vfsfile_t) int {
	p.fdlock.Lock()
	if fd < 0 {
		fd = 0
		for _, d := range p.fds {
			if d.Id != fd {
				break
			}
			fd++
		}
	} else {
		if i := p.fdidx(fd); i < len(p.fds) && p.fds[i].Id == fd {
			old := p.fds[i]
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			p.fdlock.Unlock()
			old.File.Close()
			p.fdlock.Lock()
		}
	}
	i := p.fdidx(fd)
	p.fds = append(p.fds, nil)
	copy(p.fds[i+1:], p.fds[i:])
	p.fds[i] = &Fdesc_t{Id: fd, Flags: flags, File: file}
	p.fdlock.Unlock()
	return fd
}

/// Closefd closes one descriptor.
func (p *Proc_t) Closefd(fd int) defs.Err_t {
	p.fdlock.Lock()
	i := p.fdidx(fd)
	if i >= len(p.fds) || p.fds[i].Id != fd {
		p.fdlock.Unlock()
		return -defs.EBADF
	}
	d := p.fds[i]
	p.fds = append(p.fds[:i], p.fds[i+1:]...)
	p.fdlock.Unlock()
	return d.File.Close()
}

/// Closeallfds closes the whole table.
func (p *Proc_t) Closeallfds() {
	p.fdlock.Lock()
	fds := p.fds
	p.fds = nil
	p.fdlock.Unlock()
	for _, d := range fds {
		d.File.Close()
	}
}

/// Closeexecfds drops every descriptor marked close-on-exec.
func (p *Proc_t) Closeexecfds() {
	p.fdlock.Lock()
	var keep, drop []*Fdesc_t
	for _, d := range p.fds {
		if d.Flags&defs.FD_CLOEXEC != 0 {
			drop = append(drop, d)
		} else {
			keep = append(keep, d)
		}
	}
	p.fds = keep
	p.fdlock.Unlock()
	for _, d := range drop {
		d.File.Close()
	}
}

/// Forkfds copies the parent's descriptor table, taking a file
/// reference per descriptor.
func (p *Proc_t) Forkfds(parent *Proc_t) {
	parent.fdlock.Lock()
	defer parent.fdlock.Unlock()
	p.fdlock.Lock()
	defer p.fdlock.Unlock()
	for _, d := range parent.fds {
		d.File.Refup()
		p.fds = append(p.fds, &Fdesc_t{Id: d.Id, Flags: d.Flags, File: d.File})
	}
}
