package kernel

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"coopos/machine"
)

// Scheduler owns the task table, the ready and blocked lists and the
// running-task reference. Every method except the read-only accessors must be
// called from code running on the CPU it drives.
type Scheduler struct {
	cpu     CPU
	stacks  StackAllocator
	clock   Clock
	out     io.Writer
	log     zerolog.Logger
	checked bool

	tab     [MaxTasks]Task
	n       int
	running TaskID
	ready   taskList
	blocked taskList
}

// New returns a scheduler with an empty table. Boot must register the
// calling flow before any other operation.
func New(cpu CPU, stacks StackAllocator, clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		cpu:     cpu,
		stacks:  stacks,
		clock:   clock,
		out:     io.Discard,
		log:     zerolog.Nop(),
		running: NoTask,
		ready:   emptyList(),
		blocked: emptyList(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Boot turns the calling flow into the first task, already running on the
// stack it was started on.
func (s *Scheduler) Boot(name string) (TaskID, error) {
	s.cpu.PushCLI()
	defer s.cpu.PopCLI()

	if s.running != NoTask {
		return NoTask, ErrAlreadyBooted
	}
	if s.n >= MaxTasks {
		return NoTask, ErrTableFull
	}
	id := TaskID(s.n)
	s.n++
	s.tab[id] = Task{name: name, state: Running, next: NoTask, cpuLast: s.clock.UptimeMillis()}
	s.running = id
	s.log.Debug().Int("task", int(id)).Str("name", name).Msg("boot task")
	return id, nil
}

// CreateTask adds a ready task that runs entry on a fresh stack page. The
// entry starts with interrupts enabled and must never return; returning
// halts the machine.
//
// The page must be large enough for the entry's call depth. Nothing checks
// this.
func (s *Scheduler) CreateTask(name string, entry func()) (TaskID, error) {
	if entry == nil {
		return NoTask, ErrNilEntry
	}
	if s.n >= MaxTasks {
		return NoTask, ErrTableFull
	}
	return s.CreateTaskAt(name, s.cpu.Install(name, s.trampoline(entry)))
}

// CreateTaskAt adds a ready task whose first dispatch jumps to the installed
// code address addr. That code is entered with interrupts masked by one
// PushCLI level and must release it with PopCLI before doing anything else.
func (s *Scheduler) CreateTaskAt(name string, addr uint32) (TaskID, error) {
	if addr == 0 {
		return NoTask, ErrNilEntry
	}

	s.cpu.PushCLI()
	defer s.cpu.PopCLI()

	if s.n >= MaxTasks {
		return NoTask, ErrTableFull
	}
	page, err := s.stacks.AllocatePage()
	if err != nil {
		return NoTask, fmt.Errorf("kernel: stack for %q: %w", name, err)
	}

	esp := page + s.stacks.PageSize() - machine.SnapshotSize - StackMargin
	machine.Snapshot{
		EFLAGS:        machine.FlagReserved,
		ReturnAddress: addr,
	}.Store(s.cpu.Memory(), esp)

	id := TaskID(s.n)
	s.n++
	s.tab[id] = Task{
		name:  name,
		state: Ready,
		ctx:   SavedContext{esp: esp},
		entry: addr,
		stack: page,
		next:  NoTask,
	}
	s.ready.append(&s.tab, id)
	s.log.Debug().Int("task", int(id)).Str("name", name).
		Str("esp", fmt.Sprintf("%08x", esp)).Str("entry", fmt.Sprintf("%08x", addr)).
		Msg("create task")
	return id, nil
}

// CreateIdle adds a task that never blocks: it calls hook, if any, and yields,
// forever. Keeping it in the table means Schedule always finds a task to run
// when everything else is blocked.
func (s *Scheduler) CreateIdle(name string, hook func()) (TaskID, error) {
	return s.CreateTask(name, func() {
		for {
			if hook != nil {
				hook()
			}
			s.Yield()
		}
	})
}

// trampoline wraps entry as the first code a new task executes. The
// dispatching Schedule left the mask held across the switch; releasing it
// here is the matching PopCLI.
func (s *Scheduler) trampoline(entry func()) func() {
	return func() {
		s.tab[s.running].cpuLast = s.clock.UptimeMillis()
		s.cpu.PopCLI()
		entry()
		name := s.tab[s.running].name
		s.cpu.Halt(fmt.Errorf("%w: %s", ErrTaskReturned, name))
	}
}

// Schedule switches to the head of the ready list, requeueing the caller at
// the tail if it is still running. It returns immediately when nothing else
// is ready. Interrupts must be masked by the caller.
//
// If the caller has blocked and nothing is ready the system cannot continue:
// Schedule reports it on the console and halts.
func (s *Scheduler) Schedule() {
	if s.checked && s.cpu.InterruptsEnabled() {
		s.cpu.Halt(fmt.Errorf("%w: schedule with interrupts enabled", ErrInvariant))
		return
	}
	if s.running == NoTask {
		s.cpu.Halt(ErrNotBooted)
		return
	}

	prev := s.running
	next := s.ready.dequeue(&s.tab)
	if next == NoTask {
		if s.tab[prev].state == Running {
			return
		}
		fmt.Fprint(s.out, "sched: nothing to schedule\n")
		s.DumpTable(s.out)
		s.cpu.Halt(ErrNoReadyTask)
		return
	}

	p, n := &s.tab[prev], &s.tab[next]
	if p.state == Running {
		p.state = Ready
		s.ready.append(&s.tab, prev)
	}
	now := s.clock.UptimeMillis()
	p.cpuTotal += now - p.cpuLast

	s.running = next
	n.state = Running
	n.cpuLast = now

	if s.checked {
		if err := s.CheckInvariants(); err != nil {
			s.cpu.Halt(err)
			return
		}
	}
	s.log.Trace().Str("from", p.name).Str("to", n.name).Msg("dispatch")

	s.cpu.ContextSwitch(&p.ctx.esp, &n.ctx.esp)

	// Running again, possibly much later: whoever is running now is us.
	s.tab[s.running].cpuLast = s.clock.UptimeMillis()
}

// Yield gives the CPU to the next ready task, if any.
func (s *Scheduler) Yield() {
	s.cpu.PushCLI()
	s.Schedule()
	s.cpu.PopCLI()
}

// Current returns the running task.
func (s *Scheduler) Current() TaskID { return s.running }

// Len returns the number of tasks in the table.
func (s *Scheduler) Len() int { return s.n }

// Task returns a copy of id's bookkeeping.
func (s *Scheduler) Task(id TaskID) (TaskInfo, bool) {
	if id < 0 || int(id) >= s.n {
		return TaskInfo{}, false
	}
	return s.tab[id].info(id), true
}

// Tasks returns every task in table order.
func (s *Scheduler) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, s.n)
	for i := 0; i < s.n; i++ {
		out = append(out, s.tab[i].info(TaskID(i)))
	}
	return out
}

// ReadyQueue returns the ready list from head to tail.
func (s *Scheduler) ReadyQueue() []TaskID { return s.ready.members(&s.tab) }

// BlockedQueue returns the blocked list from head to tail.
func (s *Scheduler) BlockedQueue() []TaskID { return s.blocked.members(&s.tab) }
