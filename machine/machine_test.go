package machine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MemorySize = 64 << 10
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func run(t *testing.T, m *Machine, boot func()) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Run(ctx, boot)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 3000
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MemoryBase = 0x1000
	_, err = New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MemorySize = cfg.PageSize
	_, err = New(cfg)
	require.Error(t, err)
}

func TestSnapshotLayout(t *testing.T) {
	mem := NewMemory(0x1000, 64)
	s := Snapshot{EDI: 1, ESI: 2, EBP: 3, EBX: 4, EDX: 5, ECX: 6, EFLAGS: 7, ReturnAddress: 8}
	s.Store(mem, 0x1008)

	for i, want := range []uint32{1, 2, 3, 4, 5, 6, 7, 8} {
		require.Equal(t, want, mem.Read32(0x1008+uint32(i)*4), "word %d", i)
	}
	require.Equal(t, s, LoadSnapshot(mem, 0x1008))
}

func TestMemoryOutOfRangeFaults(t *testing.T) {
	mem := NewMemory(0x1000, 16)
	defer func() {
		f, ok := recover().(*Fault)
		require.True(t, ok, "expected *Fault panic")
		require.Equal(t, uint32(0x100e), f.Addr)
	}()
	mem.Read32(0x100e)
}

func TestContextSwitchSelfIsIdentity(t *testing.T) {
	m := newTestMachine(t)

	var before, after Registers
	var esp uint32
	var snap Snapshot
	var resume uint32
	err := run(t, m, func() {
		r := m.Regs()
		r.EDI, r.ESI, r.EBP, r.EBX, r.EDX, r.ECX = 0xd1, 0x51, 0xb9, 0xb8, 0xd8, 0xc8
		m.SetRegs(r)
		m.PushCLI()
		before = m.Regs()
		m.ContextSwitch(&esp, &esp)
		after = m.Regs()
		snap = LoadSnapshot(m.Memory(), esp)
		resume = m.cur.addr
		m.PopCLI()
	})
	require.NoError(t, err)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("registers changed across self-switch (-before +after):\n%s", diff)
	}
	require.Equal(t, before.ESP-SnapshotSize, esp)
	want := Snapshot{
		EDI: 0xd1, ESI: 0x51, EBP: 0xb9, EBX: 0xb8, EDX: 0xd8, ECX: 0xc8,
		EFLAGS:        before.EFLAGS,
		ReturnAddress: resume,
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestContextSwitchStartsFabricatedContext(t *testing.T) {
	m := newTestMachine(t)

	var bootSP, workerSP uint32
	var workerRegs Registers
	var workerDepth int
	var order []string
	err := run(t, m, func() {
		page, err := m.Pages().AllocatePage()
		if err != nil {
			panic(err)
		}
		workerSP = page + m.Pages().PageSize() - SnapshotSize - 64
		entry := m.Install("worker", func() {
			order = append(order, "worker")
			workerRegs = m.Regs()
			workerDepth = m.CLIDepth()
			m.ContextSwitch(&workerSP, &bootSP)
		})
		Snapshot{EDI: 0xabcd, EFLAGS: FlagReserved, ReturnAddress: entry}.Store(m.Memory(), workerSP)

		m.PushCLI()
		order = append(order, "boot")
		m.ContextSwitch(&bootSP, &workerSP)
		order = append(order, "boot again")
		m.PopCLI()
	})
	require.NoError(t, err)

	require.Equal(t, []string{"boot", "worker", "boot again"}, order)
	require.Equal(t, uint32(0xabcd), workerRegs.EDI)
	require.Equal(t, FlagReserved, workerRegs.EFLAGS)
	require.Equal(t, 1, workerDepth)
	require.True(t, m.InterruptsEnabled())
}

func TestContextSwitchWithInterruptsEnabledFaults(t *testing.T) {
	m := newTestMachine(t)
	err := run(t, m, func() {
		var sp uint32
		m.ContextSwitch(&sp, &sp)
	})
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, "switch", f.Op)
}

func TestReturnToUnmappedAddressFaults(t *testing.T) {
	m := newTestMachine(t)
	err := run(t, m, func() {
		page, _ := m.Pages().AllocatePage()
		sp := page + 128
		Snapshot{ReturnAddress: 0xdead0}.Store(m.Memory(), sp)
		var old uint32
		m.PushCLI()
		m.ContextSwitch(&old, &sp)
	})
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, uint32(0xdead0), f.Addr)
}

func TestPushPopCLINests(t *testing.T) {
	m := newTestMachine(t)
	var trace []bool
	err := run(t, m, func() {
		m.PushCLI()
		m.PushCLI()
		trace = append(trace, m.InterruptsEnabled())
		m.PopCLI()
		trace = append(trace, m.InterruptsEnabled())
		m.PopCLI()
		trace = append(trace, m.InterruptsEnabled())

		m.Cli()
		m.PushCLI()
		m.PopCLI()
		trace = append(trace, m.InterruptsEnabled())
	})
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, true, false}, trace)
}

func TestPopCLIUnbalancedFaults(t *testing.T) {
	m := newTestMachine(t)
	err := run(t, m, func() {
		m.Cli()
		m.PopCLI()
	})
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, "popcli", f.Op)
}

func TestInterruptsDeliveredOnlyWhenEnabled(t *testing.T) {
	m := newTestMachine(t)
	timer := NewTimer(m)
	var masked, unmasked uint64
	err := run(t, m, func() {
		m.PushCLI()
		m.RaiseIRQ(IRQTimer)
		m.RaiseIRQ(IRQTimer)
		masked = timer.UptimeMillis()
		m.PopCLI()
		unmasked = timer.UptimeMillis()
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), masked)
	require.Equal(t, uint64(2), unmasked)
}

func TestPauseBlockingWaitsForTicks(t *testing.T) {
	m := newTestMachine(t)
	timer := NewTimer(m)
	var fired []uint64
	timer.OnEvery(2, func(ticks uint64) { fired = append(fired, ticks) })

	go func() {
		for {
			select {
			case <-m.Stopped():
				return
			case <-time.After(100 * time.Microsecond):
				m.RaiseIRQ(IRQTimer)
			}
		}
	}()

	var uptime uint64
	err := run(t, m, func() {
		timer.PauseBlocking(5)
		uptime = timer.UptimeMillis()
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, uptime, uint64(5))
	require.GreaterOrEqual(t, len(fired), 2)
	require.Equal(t, uint64(2), fired[0])
}

func TestHltWithInterruptsMaskedFaults(t *testing.T) {
	m := newTestMachine(t)
	err := run(t, m, func() {
		m.Cli()
		m.Hlt()
	})
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, "hlt", f.Op)
}

func TestPanicOnStrandStopsMachine(t *testing.T) {
	m := newTestMachine(t)
	var got PanicInfo
	m.SetPanicHandler(func(info PanicInfo) { got = info })

	boom := errors.New("boom")
	err := run(t, m, func() { panic(boom) })

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "boot", got.Strand)
	require.NotEmpty(t, got.Stack)
}

func TestStrandReturningHalts(t *testing.T) {
	m := newTestMachine(t)
	err := run(t, m, func() {
		page, _ := m.Pages().AllocatePage()
		sp := page + 256
		Snapshot{EFLAGS: FlagReserved, ReturnAddress: m.Install("short", func() {})}.Store(m.Memory(), sp)
		var old uint32
		m.PushCLI()
		m.ContextSwitch(&old, &sp)
	})
	require.ErrorIs(t, err, ErrStrandExited)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := newTestMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := m.Run(ctx, func() {
		for {
			m.Hlt()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, m.Run(context.Background(), func() {}), ErrAlreadyRunning)
}

func TestRunWaitsForStrandsAfterCancel(t *testing.T) {
	m := newTestMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	var spins atomic.Int64
	err := m.Run(ctx, func() {
		for {
			m.PushCLI()
			spins.Add(1)
			m.PopCLI()
		}
	})
	require.ErrorIs(t, err, context.Canceled)

	n := spins.Load()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, n, spins.Load(), "boot strand kept running after Run returned")
}

func TestSelfTestReportsSnapshot(t *testing.T) {
	m := newTestMachine(t)
	var buf bytes.Buffer
	var snap Snapshot
	err := run(t, m, func() { snap = m.SelfTest(&buf) })
	require.NoError(t, err)

	require.Equal(t, "boot+resume", m.Symbol(snap.ReturnAddress))
	require.Zero(t, snap.EFLAGS&FlagIF)
	require.True(t, strings.Contains(buf.String(), "Saved switch stack snapshot:"))
	require.Contains(t, buf.String(), "return_address 0x00080000")
}

func TestPageAllocator(t *testing.T) {
	mem := NewMemory(0x10_0000, 5*4096)
	mem.Write32(0x10_1800, 0xffffffff)

	a, err := NewPageAllocator(mem, 0x10_0100, mem.End(), 4096)
	require.NoError(t, err)
	require.Equal(t, 4, a.Free())

	p, err := a.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(0x10_1000), p)
	require.Equal(t, uint32(0), mem.Read32(0x10_1800))

	for i := 0; i < 3; i++ {
		_, err = a.AllocatePage()
		require.NoError(t, err)
	}
	_, err = a.AllocatePage()
	require.ErrorIs(t, err, ErrOutOfPages)
	require.Equal(t, 4, a.Allocated())
	require.Equal(t, 0, a.Free())
}
