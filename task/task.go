package task

import "sync"

/// State_t is the scheduling state of a task.
type State_t int

const (
	Enquable State_t = iota
	Ready
	Running
	Waiting
	WaitChld
	Sleeping
	Paused
	Terminated
	Freed
)

func (s State_t) String() string {
	switch s {
	case Enquable:
		return "enquable"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case WaitChld:
		return "waitchld"
	case Sleeping:
		return "sleeping"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	case Freed:
		return "freed"
	}
	return "unknown"
}

/// Sched_t is the scheduling descriptor embedded in every task. The
/// task's own lock protects it.
type Sched_t struct {
	Priority      uint8
	Queuepriority uint8
	Runs          uint16
	State         State_t
	next          *Task_t
	// absolute wakeup deadline in nanoseconds; 0 when not sleeping on
	// a timeout
	Sleepuntil int64
	// consulted by the scheduler when revisiting a blocked task
	Wakeup func(udata interface{}) bool
	Wudata interface{}
	// invoked once when the task leaves a blocked state; intr reports
	// wakeup by signal rather than by deadline or predicate
	Onwake    func(t *Task_t, intr bool)
	forcewake bool
}

/// Task_t is a schedulable context: a trap frame, a kernel stack, the
/// scheduling descriptor and an optional owning process. Kernel tasks
/// additionally carry their entry function.
type Task_t struct {
	Frame Trapframe_t
	sync.Mutex
	Sched Sched_t
	Stack []uint8
	Entry func()
	// the owning process, if any; stored as an opaque reference to keep
	// this package below the process layer
	Proc interface{}
	// accumulated run time in nanoseconds, split by privilege
	Entered  int64
	Runfor   int64
	Usertime int64
	Systime  int64
}

const taskStackSize = 1 << 15

/// Mktask creates an empty task in the Enquable state.
func Mktask(priority uint8) *Task_t {
	t := &Task_t{}
	t.Sched.Priority = priority
	t.Sched.Queuepriority = priority
	t.Sched.State = Enquable
	return t
}

/// Mkkernel creates a kernel task that runs entry on its own stack.
func Mkkernel(entry func(), priority uint8) *Task_t {
	t := Mktask(priority)
	t.Stack = make([]uint8, taskStackSize)
	t.Entry = entry
	t.Frame.Init(uintptr(taskStackSize), 0, 0, 0)
	return t
}

/// Free releases the task's stack and descriptor. The task must be
/// Terminated.
func (t *Task_t) Free() {
	t.Lock()
	if t.Sched.State != Terminated {
		panic("freeing live task")
	}
	t.Sched.State = Freed
	t.Stack = nil
	t.Unlock()
}

/// Setwakeup installs the wakeup predicate consulted by the scheduler.
func (t *Task_t) Setwakeup(pred func(udata interface{}) bool, udata interface{}) {
	t.Lock()
	t.Sched.Wakeup = pred
	t.Sched.Wudata = udata
	t.Unlock()
}

/// Clearwakeup removes the wakeup predicate and callbacks.
func (t *Task_t) Clearwakeup() {
	t.Lock()
	t.Sched.Wakeup = nil
	t.Sched.Wudata = nil
	t.Sched.Onwake = nil
	t.Sched.forcewake = false
	t.Unlock()
}

/// Forcewake marks the task for immediate wakeup, as a signal delivery
/// does. The sleep-list walk performs the state transition.
func (t *Task_t) Forcewake() {
	t.Lock()
	t.Sched.forcewake = true
	t.Unlock()
}
