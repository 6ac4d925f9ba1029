package fs

import "sync"

import "goros/ustr"

var (
	fifolock sync.Mutex
	// shared pipe state by canonical path; entries disappear with their
	// last node
	fifos = make(map[string]*Pipedata_t)
)

func fifoacquire(name string) *Pipedata_t {
	fifolock.Lock()
	defer fifolock.Unlock()
	if pd, ok := fifos[name]; ok {
		pd.Lock()
		pd.ref++
		pd.Unlock()
		return pd
	}
	pd := Mkpipedata()
	fifos[name] = pd
	return pd
}

func fiforelease(name string) {
	fifolock.Lock()
	defer fifolock.Unlock()
	pd, ok := fifos[name]
	if !ok {
		return
	}
	pd.Lock()
	pd.ref--
	last := pd.ref == 0
	pd.Unlock()
	if last {
		delete(fifos, name)
	}
}

/// Mkfifonode wraps the shared pipe state registered under path in a
/// special node overlaying the on-disk fifo node real.
func Mkfifonode(path ustr.Ustr, real *Vnode_t) *Vnode_t {
	name := path.String()
	data := fifoacquire(name)
	n := mkpipenode(data, name, real)
	if real != nil {
		n.Stat.Mode = real.Stat.Mode
	}
	n.Stat.Size = 0
	n.Stat.Blocksize = 0
	n.Stat.Blocks = 0
	return n
}
