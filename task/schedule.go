package task

import "sync"
import "time"

import "goros/defs"

/// Priority levels. 0 is the highest priority, MAX_PRIORITY-1 the
/// lowest; the idle task alone runs at the lowest level.
const (
	MAX_PRIORITY     = 40
	HIGHEST_PRIORITY = 0
	LOWEST_PRIORITY  = MAX_PRIORITY - 1
	DEFAULT_PRIORITY = MAX_PRIORITY / 2
)

// a task is aged back toward the low priorities every PRIORITY_DECREASE
// runs so that lower-priority tasks cannot starve
const PRIORITY_DECREASE = 64

/// Preemption budgets: an active hart reschedules at least every
/// MAX_TIME, an idle hart at least every MAX_IDLE_TIME.
const (
	MAX_TIME      = int64(100 * time.Millisecond)
	MAX_IDLE_TIME = int64(time.Second)
)

/// Schedqueue_t is a per-hart ready queue: a singly linked list threaded
/// through tasks, partitioned by priority. tails[p] points at the last
/// task at priority <= p, making insertion O(1).
type Schedqueue_t struct {
	sync.Mutex
	head  *Task_t
	tails [MAX_PRIORITY]*Task_t
}

/// Push inserts the task behind the last task of its priority level.
func (q *Schedqueue_t) Push(t *Task_t) {
	if t.Sched.Queuepriority > LOWEST_PRIORITY {
		t.Sched.Queuepriority = LOWEST_PRIORITY
	}
	qp := t.Sched.Queuepriority
	q.Lock()
	if q.tails[qp] == nil {
		t.Sched.next = q.head
		q.head = t
	} else {
		t.Sched.next = q.tails[qp].Sched.next
		q.tails[qp].Sched.next = t
	}
	old := q.tails[qp]
	for i := int(qp); i < MAX_PRIORITY && q.tails[i] == old; i++ {
		q.tails[i] = t
	}
	q.Unlock()
}

/// Pull removes and returns the front task, or nil when empty.
func (q *Schedqueue_t) Pull() *Task_t {
	q.Lock()
	defer q.Unlock()
	ret := q.head
	if ret == nil {
		return nil
	}
	q.head = ret.Sched.next
	qp := ret.Sched.Queuepriority
	if q.tails[qp] == ret {
		if qp == 0 {
			q.tails[0] = nil
		} else {
			q.tails[qp] = q.tails[qp-1]
		}
		for i := int(qp) + 1; i < MAX_PRIORITY && q.tails[i] == ret; i++ {
			q.tails[i] = q.tails[i-1]
		}
	}
	ret.Sched.next = nil
	return ret
}

/// Remove unlinks the task from the queue if present.
func (q *Schedqueue_t) Remove(t *Task_t) bool {
	q.Lock()
	defer q.Unlock()
	prev := (*Task_t)(nil)
	for cur := q.head; cur != nil; cur = cur.Sched.next {
		if cur == t {
			if prev == nil {
				q.head = cur.Sched.next
			} else {
				prev.Sched.next = cur.Sched.next
			}
			qp := t.Sched.Queuepriority
			for i := int(qp); i < MAX_PRIORITY && q.tails[i] == t; i++ {
				if prev != nil && prev.Sched.Queuepriority <= uint8(i) {
					q.tails[i] = prev
				} else {
					q.tails[i] = nil
				}
			}
			t.Sched.next = nil
			return true
		}
		prev = cur
	}
	return false
}

var (
	sleeplock sync.Mutex
	sleeping  *Task_t
)

func addsleeping(t *Task_t) {
	sleeplock.Lock()
	t.Sched.next = sleeping
	sleeping = t
	sleeplock.Unlock()
}

// wake one task off the sleep list; the caller already unlinked it
func awaken(t *Task_t, now int64) {
	t.Lock()
	st := t.Sched.State
	intr := t.Sched.forcewake
	t.Sched.forcewake = false
	onwake := t.Sched.Onwake
	switch st {
	case Sleeping:
		if now >= t.Sched.Sleepuntil {
			t.Frame.Setret(0)
		} else {
			// woken early: return the remaining time
			t.Frame.Setret(int(t.Sched.Sleepuntil - now))
		}
	case Paused, Waiting, WaitChld:
		if onwake == nil && intr {
			t.Frame.Setret(-int(defs.EINTR))
		}
	}
	t.Sched.Sleepuntil = 0
	t.Sched.Wakeup = nil
	t.Sched.Wudata = nil
	t.Sched.Onwake = nil
	t.Sched.State = Enquable
	t.Unlock()
	if onwake != nil {
		onwake(t, intr)
	}
	// the wake callback may have re-parked or terminated the task
	t.Lock()
	requeue := t.Sched.State == Enquable
	t.Unlock()
	if requeue {
		Enqueue(t)
	}
}

/// Awaken_tasks walks the sleep list and wakes every task whose deadline
/// passed, whose wakeup predicate holds, or that was force-woken by a
/// signal.
func Awaken_tasks() {
	now := Now()
	sleeplock.Lock()
	var wake []*Task_t
	cur := &sleeping
	for *cur != nil {
		t := *cur
		t.Lock()
		fire := t.Sched.forcewake ||
			(t.Sched.State == Sleeping && t.Sched.Sleepuntil <= now) ||
			(t.Sched.Wakeup != nil && t.Sched.Wakeup(t.Sched.Wudata)) ||
			t.Sched.State == Terminated
		t.Unlock()
		if fire {
			*cur = t.Sched.next
			t.Sched.next = nil
			wake = append(wake, t)
		} else {
			cur = &t.Sched.next
		}
	}
	sleeplock.Unlock()
	for _, t := range wake {
		if t.Sched.State == Terminated {
			Enqueue(t)
			continue
		}
		awaken(t, now)
	}
}

/// Next_deadline returns the earliest sleep deadline, clamped to the
/// preemption budget from now.
func Next_deadline(idle bool) int64 {
	now := Now()
	max := MAX_TIME
	if idle {
		max = MAX_IDLE_TIME
	}
	deadline := now + max
	sleeplock.Lock()
	for t := sleeping; t != nil; t = t.Sched.next {
		if t.Sched.State == Sleeping && t.Sched.Sleepuntil != 0 &&
			t.Sched.Sleepuntil < deadline {
			deadline = t.Sched.Sleepuntil
		}
	}
	sleeplock.Unlock()
	return deadline
}

/// Enqueue places a task according to its state: blocked states go to
/// the sleep list, Enquable tasks get aged and queued on their hart,
/// Terminated tasks are freed.
func Enqueue(t *Task_t) {
	hart := t.Frame.Hart
	if hart == nil {
		hart = hartshead
	}
	if hart == nil {
		panic("no harts")
	}
	if hart.Idle == t {
		return
	}
	t.Lock()
	st := t.Sched.State
	switch st {
	case Sleeping, Paused, WaitChld, Waiting:
		t.Unlock()
		addsleeping(t)
	case Enquable:
		t.Sched.State = Ready
		if t.Sched.Runs%PRIORITY_DECREASE == 0 {
			// lower the effective priority periodically so equal
			// nominal priorities share the hart fairly
			aged := int(t.Sched.Priority) +
				(int(t.Sched.Runs)/PRIORITY_DECREASE)%MAX_PRIORITY
			if aged > LOWEST_PRIORITY {
				aged = LOWEST_PRIORITY
			}
			t.Sched.Queuepriority = uint8(aged)
		} else {
			t.Sched.Queuepriority = t.Sched.Priority
		}
		t.Unlock()
		hart.Queue.Push(t)
	case Ready, Running:
		t.Unlock()
	case Terminated:
		t.Unlock()
		t.Free()
	default:
		t.Unlock()
		panic("enqueue of task in state " + st.String())
	}
}

/// Pull_for_hart takes the next runnable task, stealing from the hart
/// ring when the local queue is empty and falling back to the idle task.
func Pull_for_hart(h *Hart_t) *Task_t {
	cur := h
	for {
		if t := cur.Queue.Pull(); t != nil {
			return t
		}
		cur = cur.next
		if cur == h || cur == nil {
			return h.Idle
		}
	}
}

/// Run_next selects the next task for the hart: wakes eligible sleepers,
/// pulls a runnable task, drops Terminated ones, marks the choice
/// Running and rearms the preemption timer.
func Run_next(h *Hart_t) *Task_t {
	Awaken_tasks()
	var next *Task_t
	for next == nil {
		next = Pull_for_hart(h)
		if next.Sched.State == Terminated {
			next.Free()
			next = nil
		}
	}
	next.Lock()
	next.Sched.Runs++
	next.Sched.State = Running
	next.Frame.Hart = h
	next.Entered = Now()
	next.Unlock()
	h.setcur(next)
	if Machine != nil {
		Machine.Settimer(h.Id, Next_deadline(next == h.Idle))
	}
	return next
}

/// Preempt charges the running task for its slice and requeues it.
func Preempt(h *Hart_t) {
	t := h.Current()
	if t == nil {
		return
	}
	t.Lock()
	elapsed := Now() - t.Entered
	t.Runfor += elapsed
	t.Usertime += elapsed
	if t.Sched.State == Running {
		t.Sched.State = Enquable
	}
	t.Unlock()
	h.setcur(nil)
	Enqueue(t)
}

/// Block parks the current task in the given blocking state; the caller
/// returns control to the scheduler afterwards.
func Block(t *Task_t, state State_t, until int64) {
	t.Lock()
	t.Sched.State = state
	t.Sched.Sleepuntil = until
	t.Unlock()
	if h := t.Frame.Hart; h != nil {
		h.setcur(nil)
	}
	Enqueue(t)
}
