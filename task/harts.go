package task

import "sync"

import "github.com/jacobsa/timeutil"

/// Machine_i is the hardware surface the task runtime needs from the
/// boot glue: idling a hart and arming its preemption timer with an
/// absolute deadline.
type Machine_i interface {
	Wfi(hartid int)
	Settimer(hartid int, deadline int64)
}

/// Hart_t describes one hardware thread: its bare trap frame, identity,
/// run queue, idle task and position in the circular hart ring used for
/// work balancing.
type Hart_t struct {
	// bare context; Frame.Hart stays nil to discriminate from tasks
	Frame Trapframe_t
	Id    int
	Queue Schedqueue_t
	Idle  *Task_t
	next  *Hart_t
	cur   *Task_t
	sync.Mutex
}

var (
	hartlock  sync.Mutex
	hartshead *Hart_t
	hartstail *Hart_t

	// Clock is the kernel time source, installed at boot; tests swap in
	// a simulated clock.
	Clock timeutil.Clock = timeutil.RealClock()

	// Machine is the hardware surface, installed at boot.
	Machine Machine_i
)

/// Now returns the kernel time in nanoseconds.
func Now() int64 {
	return Clock.Now().UnixNano()
}

/// Mkhart registers a new hart, giving it an idle task at the lowest
/// priority that halts until the next interrupt.
func Mkhart(id int) *Hart_t {
	h := &Hart_t{Id: id}
	h.Idle = Mkkernel(func() {
		if Machine != nil {
			Machine.Wfi(id)
		}
	}, LOWEST_PRIORITY)
	h.Idle.Frame.Hart = h
	hartlock.Lock()
	h.next = hartshead
	hartshead = h
	if hartstail == nil {
		hartstail = h
	}
	hartstail.next = h
	hartlock.Unlock()
	return h
}

/// Harts calls f on every registered hart.
func Harts(f func(*Hart_t)) {
	hartlock.Lock()
	defer hartlock.Unlock()
	if hartshead == nil {
		return
	}
	h := hartshead
	for {
		f(h)
		h = h.next
		if h == hartshead {
			break
		}
	}
}

/// Current returns the task running on this hart, or nil while the hart
/// runs its bare context.
func (h *Hart_t) Current() *Task_t {
	h.Lock()
	defer h.Unlock()
	if h.cur == h.Idle {
		return nil
	}
	return h.cur
}

func (h *Hart_t) setcur(t *Task_t) {
	h.Lock()
	h.cur = t
	h.Unlock()
}
