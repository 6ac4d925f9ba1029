package proc

import "math"
import "sync"

import "goros/defs"
import "goros/task"
import "goros/util"

/// Sighandler_t is one installed signal disposition.
type Sighandler_t struct {
	Handler  uintptr
	Mask     defs.Sigset_t
	Flags    int
	Restorer uintptr
}

type sigstate_t struct {
	lock     sync.Mutex
	pending  []defs.Signal_t
	mask     defs.Sigset_t
	handlers [defs.SIGCOUNT]*Sighandler_t
	current  defs.Signal_t
	restore  uintptr
	alarmat  int64
}

func (p *Proc_t) siginit() {
	p.sig.current = defs.SIGNONE
}

func (p *Proc_t) sigcopyhandlers(from *Proc_t) {
	from.sig.lock.Lock()
	defer from.sig.lock.Unlock()
	for i, h := range from.sig.handlers {
		if h != nil {
			c := *h
			p.sig.handlers[i] = &c
		}
	}
	p.sig.mask = from.sig.mask
}

/// Sendsignal queues sig for the process and force-wakes its task so a
/// blocked syscall returns with EINTR.
func (p *Proc_t) Sendsignal(sig defs.Signal_t) {
	if sig <= 0 || sig >= defs.SIGCOUNT {
		return
	}
	p.sig.lock.Lock()
	p.sig.pending = append(p.sig.pending, sig)
	p.sig.lock.Unlock()
	p.Maintask.Forcewake()
}

/// Sigaction installs a handler and returns the previous one.
func (p *Proc_t) Sigaction(sig defs.Signal_t, h *Sighandler_t) (*Sighandler_t, defs.Err_t) {
	if sig <= 0 || sig >= defs.SIGCOUNT || defs.Uncatchable(sig) {
		return nil, -defs.EINVAL
	}
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	old := p.sig.handlers[sig]
	p.sig.handlers[sig] = h
	return old, 0
}

/// Sigprocmask applies how to the blocked-signal mask and returns the
/// previous mask. SIGKILL and SIGSTOP cannot be masked.
func (p *Proc_t) Sigprocmask(how int, set defs.Sigset_t) (defs.Sigset_t, defs.Err_t) {
	unmaskable := defs.SIGKILL.Bit() | defs.SIGSTOP.Bit()
	set &^= unmaskable
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	old := p.sig.mask
	switch how {
	case defs.SIG_BLOCK:
		p.sig.mask |= set
	case defs.SIG_UNBLOCK:
		p.sig.mask &^= set
	case defs.SIG_SETMASK:
		p.sig.mask = set
	default:
		return old, -defs.EINVAL
	}
	return old, 0
}

/// Sigpending returns the set of queued-but-blocked signals.
func (p *Proc_t) Sigpending() defs.Sigset_t {
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	var set defs.Sigset_t
	for _, s := range p.sig.pending {
		set |= s.Bit()
	}
	return set & p.sig.mask
}

/// Alarm arms the alarm clock and returns the seconds that were left on
/// the previous one.
func (p *Proc_t) Alarm(seconds int) int {
	now := task.Now()
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	left := 0
	if p.sig.alarmat != 0 && p.sig.alarmat > now {
		left = int((p.sig.alarmat - now) / 1000000000)
	}
	if seconds == 0 {
		p.sig.alarmat = 0
	} else {
		p.sig.alarmat = now + int64(seconds)*1000000000
	}
	return left
}

// popdeliverable removes the first pending signal not blocked by the
// mask; SIGKILL and SIGSTOP ignore the mask.
func (p *Proc_t) popdeliverable() defs.Signal_t {
	for i, s := range p.sig.pending {
		if defs.Uncatchable(s) || !p.sig.mask.Has(s) {
			p.sig.pending = append(p.sig.pending[:i], p.sig.pending[i+1:]...)
			return s
		}
	}
	return defs.SIGNONE
}

// sigframe is the restore record pushed onto the user stack, from low
// to high address: regs, fregs, pc, current signal, previous restore
// frame, previous mask.
const sigframesize = 31*8 + 32*8 + 8 + 8 + 8 + 8

func (p *Proc_t) pushsigframe() defs.Err_t {
	t := p.Maintask
	var buf [sigframesize]uint8
	off := 0
	for _, r := range t.Frame.Regs {
		util.Writen(buf[:], 8, off, int(r))
		off += 8
	}
	for _, f := range t.Frame.Fregs {
		util.Writen(buf[:], 8, off, int(floatbits(f)))
		off += 8
	}
	util.Writen(buf[:], 8, off, int(t.Frame.Pc))
	off += 8
	util.Writen(buf[:], 8, off, int(p.sig.current))
	off += 8
	util.Writen(buf[:], 8, off, int(p.sig.restore))
	off += 8
	util.Writen(buf[:], 8, off, int(p.sig.mask))
	sp := p.Uptr(t.Frame.Regs[task.REG_SP])
	nsp, err := sp.Push(buf[:])
	if err != 0 {
		return err
	}
	p.sig.restore = nsp.Addr
	t.Frame.Regs[task.REG_SP] = nsp.Addr
	return 0
}

/// Sigreturn pops the restore frame pushed before the handler ran.
func (p *Proc_t) Sigreturn() {
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	if p.sig.current == defs.SIGNONE {
		return
	}
	t := p.Maintask
	var buf [sigframesize]uint8
	sp := p.Uptr(p.sig.restore)
	if _, err := sp.Pop(buf[:]); err != 0 {
		return
	}
	off := 0
	for i := range t.Frame.Regs {
		t.Frame.Regs[i] = uintptr(util.Readn(buf[:], 8, off))
		off += 8
	}
	for i := range t.Frame.Fregs {
		t.Frame.Fregs[i] = bitsfloat(uint64(util.Readn(buf[:], 8, off)))
		off += 8
	}
	t.Frame.Pc = uintptr(util.Readn(buf[:], 8, off))
	off += 8
	p.sig.current = defs.Signal_t(util.Readn(buf[:], 8, off))
	off += 8
	p.sig.restore = uintptr(util.Readn(buf[:], 8, off))
	off += 8
	p.sig.mask = defs.Sigset_t(util.Readn(buf[:], 8, off))
}

// deliver runs the disposition of sig: terminate, drop, or divert the
// task into the handler with a restore frame on the user stack.
func (p *Proc_t) deliver(sig defs.Signal_t) bool {
	t := p.Maintask
	if defs.Uncatchable(sig) {
		p.terminatebysignal(sig)
		return false
	}
	h := p.sig.handlers[sig]
	if h == nil || h.Handler == defs.SIG_DFL {
		if defs.Defaultignored(sig) {
			return true
		}
		p.terminatebysignal(sig)
		return false
	}
	if h.Handler == defs.SIG_IGN {
		return true
	}
	if err := p.pushsigframe(); err != 0 {
		p.terminatebysignal(defs.SIGSEGV)
		return false
	}
	p.sig.mask |= h.Mask
	if h.Flags&defs.SA_NODEFER == 0 {
		p.sig.mask |= sig.Bit()
	}
	p.sig.current = sig
	t.Frame.Pc = h.Handler
	t.Frame.Regs[task.REG_A0] = uintptr(sig)
	t.Frame.Regs[task.REG_RA] = h.Restorer
	return true
}

func (p *Proc_t) terminatebysignal(sig defs.Signal_t) {
	p.sig.lock.Unlock()
	p.Exit(defs.Mksigstatus(sig))
	p.sig.lock.Lock()
}

/// Handlepending delivers at most one signal: the first pending unmasked
/// one or, when none is pending, SIGALRM once the alarm deadline passed.
/// It returns false when the process terminated and must not resume.
func (p *Proc_t) Handlepending() bool {
	p.sig.lock.Lock()
	defer p.sig.lock.Unlock()
	sig := p.popdeliverable()
	if sig == defs.SIGNONE {
		if p.sig.alarmat != 0 && task.Now() >= p.sig.alarmat {
			p.sig.alarmat = 0
			sig = defs.SIGALRM
		} else {
			return true
		}
	}
	return p.deliver(sig)
}

// the trap path stores fregs verbatim; only the bit pattern matters
func floatbits(f float64) uint64 { return math.Float64bits(f) }

func bitsfloat(b uint64) float64 { return math.Float64frombits(b) }
