package kernel

import "coopos/machine"

// TaskID indexes the task table.
type TaskID int

// NoTask is the empty list link.
const NoTask TaskID = -1

// State is a task's scheduling state.
type State uint8

const (
	Ready State = iota
	Running
	Blocked
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// SavedContext is the stack pointer of a suspended task. The same word is
// the address of the snapshot ContextSwitch left on the task's stack.
type SavedContext struct {
	esp uint32
}

// Addr returns the saved stack pointer.
func (c SavedContext) Addr() uint32 { return c.esp }

// Snapshot reads the register snapshot at the saved stack pointer. It is
// meaningful only while the task is not running.
func (c SavedContext) Snapshot(mem *machine.Memory) machine.Snapshot {
	return machine.LoadSnapshot(mem, c.esp)
}

// Task is one slot of the task table.
type Task struct {
	name  string
	state State
	ctx   SavedContext
	entry uint32
	stack uint32

	reason   int
	cpuTotal uint64
	cpuLast  uint64

	next TaskID
}

// TaskInfo is a copy of a task's bookkeeping.
type TaskInfo struct {
	ID    TaskID
	Name  string
	State State
	// ESP is the saved stack pointer; stale while the task runs.
	ESP uint32
	// Entry is the code address the task was created at, zero for the boot
	// task.
	Entry uint32
	// Stack is the base of the task's stack page, zero for the boot task.
	Stack     uint32
	Reason    int
	CPUMillis uint64
}

func (t *Task) info(id TaskID) TaskInfo {
	return TaskInfo{
		ID:        id,
		Name:      t.name,
		State:     t.state,
		ESP:       t.ctx.esp,
		Entry:     t.entry,
		Stack:     t.stack,
		Reason:    t.reason,
		CPUMillis: t.cpuTotal,
	}
}
