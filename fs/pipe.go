package fs

import "sync"

import "goros/defs"
import "goros/ustr"
import "goros/util"

/// Pipe buffer capacity in bytes.
const PIPE_CAPACITY = 4096

/// Pipedata_t is the state shared by both ends of a pipe (and by every
/// opener of a fifo): a fixed-capacity circular buffer plus reader and
/// writer end counts.
type Pipedata_t struct {
	sync.Mutex
	buf     []uint8
	readpos int
	count   int
	readers int
	writers int
	ref     int
}

/// Mkpipedata allocates pipe state with no open ends.
func Mkpipedata() *Pipedata_t {
	return &Pipedata_t{buf: make([]uint8, PIPE_CAPACITY), ref: 1}
}

func (pd *Pipedata_t) read(dst Userio_i) (int, defs.Err_t) {
	pd.Lock()
	defer pd.Unlock()
	if pd.count == 0 {
		if pd.writers == 0 {
			return 0, 0
		}
		return 0, -defs.EAGAIN
	}
	want := util.Min(dst.Remain(), pd.count)
	done := 0
	for done < want {
		pos := (pd.readpos + done) % len(pd.buf)
		end := util.Min(len(pd.buf), pos+(want-done))
		c, err := dst.Uiowrite(pd.buf[pos:end])
		done += c
		if err != 0 {
			break
		}
	}
	pd.readpos = (pd.readpos + done) % len(pd.buf)
	pd.count -= done
	return done, 0
}

func (pd *Pipedata_t) write(src Userio_i) (int, defs.Err_t) {
	pd.Lock()
	defer pd.Unlock()
	if pd.readers == 0 {
		return 0, -defs.EPIPE
	}
	if pd.count == len(pd.buf) {
		return 0, -defs.EAGAIN
	}
	want := util.Min(src.Remain(), len(pd.buf)-pd.count)
	done := 0
	for done < want {
		pos := (pd.readpos + pd.count + done) % len(pd.buf)
		end := util.Min(len(pd.buf), pos+(want-done))
		c, err := src.Uioread(pd.buf[pos:end])
		done += c
		if err != 0 {
			break
		}
	}
	pd.count += done
	return done, 0
}

/// Openend records a new reader or writer of the pipe.
func (pd *Pipedata_t) Openend(write bool) {
	pd.Lock()
	if write {
		pd.writers++
	} else {
		pd.readers++
	}
	pd.Unlock()
}

/// Closeend drops a reader or writer.
func (pd *Pipedata_t) Closeend(write bool) {
	pd.Lock()
	if write {
		pd.writers--
	} else {
		pd.readers--
	}
	pd.Unlock()
}

/// Opready reports whether an operation on the pipe would progress.
func (pd *Pipedata_t) Opready(write bool) bool {
	pd.Lock()
	defer pd.Unlock()
	if write {
		return pd.count < len(pd.buf) || pd.readers == 0
	}
	return pd.count > 0 || pd.writers == 0
}

// pipenode_t is the node backend over shared pipe state.
type pipenode_t struct {
	data *Pipedata_t
	// fifo name when this node fronts a named pipe
	name string
}

func (p *pipenode_t) Opready(write bool) bool { return p.data.Opready(write) }
func (p *pipenode_t) Openend(write bool)      { p.data.Openend(write) }
func (p *pipenode_t) Closeend(write bool)     { p.data.Closeend(write) }

func (p *pipenode_t) Free(n *Vnode_t) {
	if p.name != "" {
		fiforelease(p.name)
	}
	if n.Real != nil && n.Real != n {
		n.Real.Refdown()
	}
}

func (p *pipenode_t) Readat(n *Vnode_t, dst Userio_i, off int) (int, defs.Err_t) {
	return p.data.read(dst)
}

func (p *pipenode_t) Writeat(n *Vnode_t, src Userio_i, off int) (int, defs.Err_t) {
	return p.data.write(src)
}

func (p *pipenode_t) Trunc(n *Vnode_t, length int) defs.Err_t {
	return -defs.EINVAL
}

func (p *pipenode_t) Readdirat(n *Vnode_t, dst Userio_i, off int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}

func (p *pipenode_t) Lookup(n *Vnode_t, name ustr.Ustr) (uint64, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func (p *pipenode_t) Link(n *Vnode_t, name ustr.Ustr, entry *Vnode_t) defs.Err_t {
	return -defs.ENOTDIR
}

func (p *pipenode_t) Unlink(n *Vnode_t, name ustr.Ustr) defs.Err_t {
	return -defs.ENOTDIR
}

func mkpipenode(data *Pipedata_t, name string, real *Vnode_t) *Vnode_t {
	ops := &pipenode_t{data: data, name: name}
	n := Mkspecial(ops, real)
	n.Stat.Mode = defs.Typemode(defs.T_FIFO) | defs.MODE_OGA_RW
	n.Priv = ops
	return n
}

/// Openpipe creates an anonymous pipe and returns its read and write
/// files.
func Openpipe(flags int) (*Vfsfile_t, *Vfsfile_t) {
	data := Mkpipedata()
	node := mkpipenode(data, "", nil)
	node.Refup() // one reference per end
	rf := Mkfile(node, ustr.Ustr("pipe:[r]"), defs.O_READ|flags)
	wf := Mkfile(node, ustr.Ustr("pipe:[w]"), defs.O_WRITE|flags)
	data.Openend(false)
	data.Openend(true)
	return rf, wf
}
