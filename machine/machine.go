// Package machine emulates the small 32-bit CPU the kernel runs on: a flat
// memory, a register file with an interrupt flag, interrupt lines, and the
// stack-switch primitive.
//
// Go code cannot move its own stack pointer, so every flow of control the
// machine starts runs on a goroutine of its own (a strand). Exactly one strand
// executes at a time. A strand is identified by its resume address, which is
// what ContextSwitch pushes as the return address; popping a resume address
// hands the CPU to that strand, popping a code address starts a new one.
package machine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	// FlagReserved is EFLAGS bit 1, which always reads as set.
	FlagReserved uint32 = 1 << 1
	// FlagIF is the interrupt-enable flag.
	FlagIF uint32 = 1 << 9
)

const (
	codeBase   uint32 = 0x0000_1000
	resumeBase uint32 = 0x0008_0000
	codeAlign  uint32 = 0x10
)

// Registers is the CPU register file.
type Registers struct {
	EDI    uint32
	ESI    uint32
	EBP    uint32
	EBX    uint32
	EDX    uint32
	ECX    uint32
	EFLAGS uint32
	ESP    uint32
}

// Config sizes the machine.
type Config struct {
	MemoryBase    uint32
	MemorySize    uint32
	PageSize      uint32
	BootStackSize uint32

	// Checked turns documented preconditions (switching or halting with the
	// wrong interrupt state, unbalanced PopCLI) into faults.
	Checked bool

	Logger *zerolog.Logger
}

// DefaultConfig returns a 256 KiB machine with 4 KiB pages loaded at 1 MiB.
func DefaultConfig() Config {
	return Config{
		MemoryBase:    0x0010_0000,
		MemorySize:    256 << 10,
		PageSize:      4096,
		BootStackSize: 4096,
		Checked:       true,
	}
}

type codeEntry struct {
	name string
	fn   func()
}

type strand struct {
	name string
	addr uint32
	wake chan struct{}
}

// Machine is one emulated CPU with its memory.
type Machine struct {
	cfg   Config
	log   zerolog.Logger
	mem   *Memory
	pages *PageAllocator

	regs    Registers
	ncli    int
	intena  bool
	inIRQ   bool
	bootTop uint32

	handlers  [NumIRQ]func()
	pending   [NumIRQ]atomic.Uint32
	irqSignal chan struct{}

	code       map[uint32]codeEntry
	nextCode   uint32
	strands    map[uint32]*strand
	nextResume uint32
	cur        *strand
	wg         sync.WaitGroup

	running   atomic.Bool
	stopped   chan struct{}
	stopOnce  sync.Once
	stopErr   error
	panicOnce sync.Once
	onPanic   func(PanicInfo)
}

// New builds a machine. The boot stack occupies the bottom of memory and the
// rest is handed to the page allocator.
func New(cfg Config) (*Machine, error) {
	if cfg.PageSize == 0 || cfg.PageSize&(cfg.PageSize-1) != 0 || cfg.PageSize < 2*SnapshotSize {
		return nil, fmt.Errorf("machine: invalid page size %d", cfg.PageSize)
	}
	if cfg.BootStackSize < SnapshotSize || cfg.BootStackSize%4 != 0 {
		return nil, fmt.Errorf("machine: invalid boot stack size %d", cfg.BootStackSize)
	}
	if uint64(cfg.MemoryBase)+uint64(cfg.MemorySize) > 1<<32 {
		return nil, fmt.Errorf("machine: memory [%08x, +%d) exceeds the address space", cfg.MemoryBase, cfg.MemorySize)
	}
	if cfg.MemoryBase < resumeBase+0x0008_0000 {
		return nil, fmt.Errorf("machine: memory base %08x overlaps the code space", cfg.MemoryBase)
	}
	if cfg.MemorySize < cfg.BootStackSize+cfg.PageSize {
		return nil, fmt.Errorf("machine: %d bytes of memory cannot hold a boot stack and one page", cfg.MemorySize)
	}

	m := &Machine{
		cfg:        cfg,
		log:        zerolog.Nop(),
		mem:        NewMemory(cfg.MemoryBase, cfg.MemorySize),
		irqSignal:  make(chan struct{}, 1),
		code:       make(map[uint32]codeEntry),
		nextCode:   codeBase,
		strands:    make(map[uint32]*strand),
		nextResume: resumeBase,
		stopped:    make(chan struct{}),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "machine").Logger()
	}

	m.bootTop = cfg.MemoryBase + cfg.BootStackSize
	pages, err := NewPageAllocator(m.mem, m.bootTop, m.mem.End(), cfg.PageSize)
	if err != nil {
		return nil, err
	}
	m.pages = pages
	m.regs.EFLAGS = FlagReserved
	return m, nil
}

func (m *Machine) Memory() *Memory         { return m.mem }
func (m *Machine) Pages() *PageAllocator   { return m.pages }
func (m *Machine) Regs() Registers         { return m.regs }
func (m *Machine) SetRegs(r Registers)     { m.regs = r }
func (m *Machine) InterruptsEnabled() bool { return m.regs.EFLAGS&FlagIF != 0 }

// Install places fn at a fresh code address and returns it. Jumping to the
// address starts fn on a new strand.
func (m *Machine) Install(name string, fn func()) uint32 {
	addr := m.nextCode
	m.nextCode += codeAlign
	m.code[addr] = codeEntry{name: name, fn: fn}
	return addr
}

// Symbol names the code or strand at addr, or returns "".
func (m *Machine) Symbol(addr uint32) string {
	if c, ok := m.code[addr]; ok {
		return c.name
	}
	if s, ok := m.strands[addr]; ok {
		return s.name + "+resume"
	}
	return ""
}

// Run starts boot on the boot stack with interrupts enabled and blocks until
// the machine stops or ctx is done. A clean stop (PowerOff, or boot returning)
// yields nil.
func (m *Machine) Run(ctx context.Context, boot func()) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	m.regs.ESP = m.bootTop
	m.regs.EFLAGS = FlagReserved | FlagIF
	s := m.newStrand("boot", func() {
		boot()
		m.PowerOff()
	})
	m.cur = s
	m.log.Debug().Str("esp", hex32(m.regs.ESP)).Msg("boot")
	s.wake <- struct{}{}

	select {
	case <-m.stopped:
		m.wg.Wait()
	case <-ctx.Done():
		m.stop(ctx.Err())
		m.wg.Wait()
	}

	if errors.Is(m.stopErr, ErrPoweredOff) {
		return nil
	}
	return m.stopErr
}

// Stopped is closed once the machine has stopped.
func (m *Machine) Stopped() <-chan struct{} { return m.stopped }

// Halt stops the machine with a fatal reason. It must be called on a strand
// and does not return.
func (m *Machine) Halt(err error) {
	if err == nil {
		err = errors.New("machine: halted")
	}
	m.log.Error().Err(err).Msg("halt")
	m.stop(err)
	runtime.Goexit()
}

// PowerOff stops the machine cleanly. It must be called on a strand and does
// not return.
func (m *Machine) PowerOff() {
	m.log.Debug().Msg("power off")
	m.stop(ErrPoweredOff)
	runtime.Goexit()
}

func (m *Machine) stop(err error) {
	m.stopOnce.Do(func() {
		m.stopErr = err
		close(m.stopped)
	})
}

func (m *Machine) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

func (m *Machine) checkStopped() {
	if m.isStopped() {
		runtime.Goexit()
	}
}

func (m *Machine) newStrand(name string, fn func()) *strand {
	s := &strand{name: name, addr: m.nextResume, wake: make(chan struct{}, 1)}
	m.nextResume += codeAlign
	m.strands[s.addr] = s
	m.log.Debug().Str("strand", name).Str("resume", hex32(s.addr)).Msg("strand start")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-s.wake:
		case <-m.stopped:
			return
		}
		if m.isStopped() {
			return
		}
		defer m.recoverStrand(s)
		fn()
		m.Halt(fmt.Errorf("%w: %s", ErrStrandExited, name))
	}()
	return s
}

func (m *Machine) park(s *strand) {
	select {
	case <-s.wake:
	case <-m.stopped:
		runtime.Goexit()
	}
	m.checkStopped()
}

func (m *Machine) fault(op string, addr uint32, msg string) {
	panic(&Fault{Op: op, Addr: addr, Msg: msg})
}

func hex32(v uint32) string {
	return fmt.Sprintf("%08x", v)
}
