package kernel

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"coopos/machine"
)

type manualClock struct{ ms uint64 }

func (c *manualClock) UptimeMillis() uint64 { return c.ms }
func (c *manualClock) advance(ms uint64)    { c.ms += ms }

type system struct {
	m     *machine.Machine
	s     *Scheduler
	clock *manualClock
	out   *bytes.Buffer
}

func newSystem(t *testing.T, memSize uint32) *system {
	t.Helper()
	cfg := machine.DefaultConfig()
	cfg.MemorySize = memSize
	m, err := machine.New(cfg)
	require.NoError(t, err)

	sys := &system{m: m, clock: &manualClock{}, out: &bytes.Buffer{}}
	sys.s = New(m, m.Pages(), sys.clock, WithConsole(sys.out), WithChecks(true))
	return sys
}

func (sys *system) run(t *testing.T, boot func()) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sys.m.Run(ctx, func() {
		if _, err := sys.s.Boot("Booted"); err != nil {
			sys.m.Halt(err)
		}
		boot()
	})
}

func mustCreate(sys *system, name string, entry func()) TaskID {
	id, err := sys.s.CreateTask(name, entry)
	if err != nil {
		sys.m.Halt(err)
	}
	return id
}

func TestYieldRotatesReadyTasksInOrder(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var order []string
	var invErrs []error

	looper := func(name string) func() {
		return func() {
			for {
				order = append(order, name)
				if err := sys.s.CheckInvariants(); err != nil {
					invErrs = append(invErrs, err)
				}
				sys.s.Yield()
			}
		}
	}
	err := sys.run(t, func() {
		mustCreate(sys, "A", looper("A"))
		mustCreate(sys, "B", looper("B"))
		mustCreate(sys, "C", looper("C"))
		for i := 0; i < 3; i++ {
			sys.s.Yield()
			order = append(order, "R")
		}
	})
	require.NoError(t, err)
	require.Empty(t, invErrs)
	require.Equal(t, strings.Split("A B C R A B C R A B C R", " "), order)
}

func TestYieldWithNothingReadyReturns(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var current TaskID = NoTask
	err := sys.run(t, func() {
		sys.s.Yield()
		current = sys.s.Current()
	})
	require.NoError(t, err)
	require.Equal(t, TaskID(0), current)
}

func TestUnblockedTaskRunsBeforeWaitingTasks(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var order []string
	var reasonBefore int
	var blockedBefore bool
	var after TaskInfo
	var readyAfter []TaskID

	var w TaskID
	err := sys.run(t, func() {
		w = mustCreate(sys, "W", func() {
			for reason := 10; ; reason++ {
				sys.s.BlockSelf(reason)
				order = append(order, "W")
			}
		})
		for _, name := range []string{"X", "Y"} {
			name := name
			mustCreate(sys, name, func() {
				for {
					order = append(order, name)
					sys.s.Yield()
				}
			})
		}

		sys.s.Yield()
		reasonBefore, blockedBefore = sys.s.Blocked(w)
		order = append(order, "unblock")
		sys.s.Unblock(w)
		after, _ = sys.s.Task(w)
		readyAfter = sys.s.ReadyQueue()
		sys.s.Yield()
	})
	require.NoError(t, err)

	require.True(t, blockedBefore)
	require.Equal(t, 10, reasonBefore)
	require.Equal(t, Ready, after.State)
	require.Zero(t, after.Reason)
	require.Equal(t, []TaskID{w, 2, 3}, readyAfter)
	require.Equal(t, strings.Split("X Y unblock W X Y", " "), order)
}

func TestUnblockOfReadyTaskIsNoop(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var before, after []TaskID
	err := sys.run(t, func() {
		a := mustCreate(sys, "A", func() { select {} })
		b := mustCreate(sys, "B", func() { select {} })
		before = sys.s.ReadyQueue()
		sys.s.Unblock(b)
		sys.s.Unblock(a)
		sys.s.Unblock(sys.s.Current())
		sys.s.Unblock(NoTask)
		after = sys.s.ReadyQueue()
	})
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var seen []TaskInfo
	var selfView []TaskInfo
	var idles int

	var a TaskID
	observe := func() {
		info, _ := sys.s.Task(a)
		seen = append(seen, info)
	}
	err := sys.run(t, func() {
		a = mustCreate(sys, "Proc_A", func() {
			for i := 1; ; i++ {
				info, _ := sys.s.Task(sys.s.Current())
				selfView = append(selfView, info)
				sys.s.Yield()
				sys.s.BlockSelf(i)
			}
		})
		if _, err := sys.s.CreateIdle("Idle", func() { idles++ }); err != nil {
			sys.m.Halt(err)
		}

		sys.s.Yield() // A acts and yields, Idle yields
		observe()
		sys.s.Yield() // A blocks with reason 1, Idle yields
		observe()
		sys.s.Yield() // only Idle runs
		sys.s.Yield()
		observe()
		sys.s.Unblock(a)
		observe()
		sys.s.Yield() // A runs again, then Idle
		observe()
	})
	require.NoError(t, err)

	states := make([]State, len(seen))
	reasons := make([]int, len(seen))
	for i, info := range seen {
		states[i] = info.State
		reasons[i] = info.Reason
	}
	require.Equal(t, []State{Ready, Blocked, Blocked, Ready, Ready}, states)
	require.Equal(t, []int{0, 1, 1, 0, 0}, reasons)
	require.Len(t, selfView, 2)
	require.Equal(t, Running, selfView[1].State)
	require.Zero(t, selfView[1].Reason)
	require.Equal(t, 5, idles)
}

func TestCPUAccounting(t *testing.T) {
	sys := newSystem(t, 64<<10)
	type sample struct{ boot, a, b, now uint64 }
	var samples []sample

	worker := func(cost uint64) func() {
		return func() {
			for {
				sys.clock.advance(cost)
				sys.s.Yield()
			}
		}
	}
	err := sys.run(t, func() {
		a := mustCreate(sys, "A", worker(3))
		b := mustCreate(sys, "B", worker(5))
		for i := 0; i < 4; i++ {
			sys.clock.advance(1)
			sys.s.Yield()
			boot, _ := sys.s.Task(0)
			ai, _ := sys.s.Task(a)
			bi, _ := sys.s.Task(b)
			samples = append(samples, sample{boot.CPUMillis, ai.CPUMillis, bi.CPUMillis, sys.clock.UptimeMillis()})
		}
	})
	require.NoError(t, err)

	want := []sample{
		{1, 3, 5, 9},
		{2, 6, 10, 18},
		{3, 9, 15, 27},
		{4, 12, 20, 36},
	}
	if diff := cmp.Diff(want, samples, cmp.AllowUnexported(sample{})); diff != "" {
		t.Fatalf("accounting mismatch (-want +got):\n%s", diff)
	}
	for _, s := range samples {
		require.Equal(t, s.now, s.boot+s.a+s.b)
	}
}

func TestCreateTaskFabricatesInitialContext(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var info TaskInfo
	var snap machine.Snapshot
	var ready []TaskID
	err := sys.run(t, func() {
		id := mustCreate(sys, "A", func() { select {} })
		info, _ = sys.s.Task(id)
		snap = sys.s.tab[id].ctx.Snapshot(sys.m.Memory())
		ready = sys.s.ReadyQueue()
	})
	require.NoError(t, err)

	pageSize := sys.m.Pages().PageSize()
	require.Equal(t, info.Stack+pageSize-machine.SnapshotSize-StackMargin, info.ESP)
	require.Equal(t, Ready, info.State)
	require.Equal(t, "A", sys.m.Symbol(info.Entry))
	want := machine.Snapshot{EFLAGS: machine.FlagReserved, ReturnAddress: info.Entry}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("initial snapshot mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []TaskID{1}, ready)
}

func TestCreateTaskErrors(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var nilErr, zeroErr, fullErr, bootErr error
	var created int
	err := sys.run(t, func() {
		_, nilErr = sys.s.CreateTask("nil", nil)
		_, zeroErr = sys.s.CreateTaskAt("zero", 0)
		for i := 1; i < MaxTasks; i++ {
			mustCreate(sys, "t", func() { select {} })
			created++
		}
		_, fullErr = sys.s.CreateTask("one too many", func() {})
		_, bootErr = sys.s.Boot("again")
	})
	require.NoError(t, err)
	require.ErrorIs(t, nilErr, ErrNilEntry)
	require.ErrorIs(t, zeroErr, ErrNilEntry)
	require.ErrorIs(t, fullErr, ErrTableFull)
	require.ErrorIs(t, bootErr, ErrAlreadyBooted)
	require.Equal(t, MaxTasks-1, created)
	require.Equal(t, MaxTasks, sys.s.Len())
}

func TestCreateTaskOutOfStacks(t *testing.T) {
	sys := newSystem(t, 32<<10)
	var errs []error
	err := sys.run(t, func() {
		for i := 0; i < 8; i++ {
			_, err := sys.s.CreateTask("t", func() { select {} })
			errs = append(errs, err)
		}
	})
	require.NoError(t, err)
	for _, err := range errs[:7] {
		require.NoError(t, err)
	}
	require.ErrorIs(t, errs[7], machine.ErrOutOfPages)
	require.Equal(t, 8, sys.s.Len())
}

func TestBlockingWithNothingReadyHalts(t *testing.T) {
	sys := newSystem(t, 64<<10)
	err := sys.run(t, func() {
		sys.s.BlockSelf(7)
	})
	require.ErrorIs(t, err, ErrNoReadyTask)

	out := sys.out.String()
	require.True(t, strings.HasPrefix(out, "sched: nothing to schedule\nProcess list:\n"), out)
	require.Contains(t, out, "* 0 Booted     00000000 00000000 BLOCKED   7      0s\n")
}

func TestTaskReturningHalts(t *testing.T) {
	sys := newSystem(t, 64<<10)
	err := sys.run(t, func() {
		mustCreate(sys, "short", func() {})
		sys.s.Yield()
	})
	require.ErrorIs(t, err, ErrTaskReturned)
	require.Contains(t, err.Error(), "short")
}

func TestScheduleWithInterruptsEnabledHalts(t *testing.T) {
	sys := newSystem(t, 64<<10)
	err := sys.run(t, func() {
		sys.s.Schedule()
	})
	require.ErrorIs(t, err, ErrInvariant)
}

func TestDumpTable(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var buf bytes.Buffer
	err := sys.run(t, func() {
		mustCreate(sys, "Proc_A", func() { select {} })
		mustCreate(sys, "Proc_B", func() { select {} })
		sys.s.DumpTable(&buf)
	})
	require.NoError(t, err)

	want := "Process list:\n" +
		"* i Name       ESP      Entry    State     Blk    CPU  \n" +
		"* 0 Booted     00000000 00000000 RUNNING   0      0s\n" +
		"  1 Proc_A     00101fa0 00001000 READY     0      0s\n" +
		"  2 Proc_B     00102fa0 00001010 READY     0      0s\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("DumpTable mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	sys := newSystem(t, 64<<10)
	var clean, corrupt error
	err := sys.run(t, func() {
		a := mustCreate(sys, "A", func() { select {} })
		clean = sys.s.CheckInvariants()
		sys.s.tab[a].state = Blocked
		corrupt = sys.s.CheckInvariants()
		sys.s.tab[a].state = Ready
	})
	require.NoError(t, err)
	require.NoError(t, clean)
	require.ErrorIs(t, corrupt, ErrInvariant)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "READY", Ready.String())
	require.Equal(t, "RUNNING", Running.String())
	require.Equal(t, "BLOCKED", Blocked.String())
	require.Equal(t, "UNKNOWN", State(9).String())
}
