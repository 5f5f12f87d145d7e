package machine

import "runtime"

// NumIRQ is the number of interrupt lines.
const NumIRQ = 16

// IRQTimer is the line the interval timer raises once per millisecond.
const IRQTimer = 0

// SetHandler installs h for irq. Handlers run on the interrupted strand with
// interrupts masked and must not switch contexts.
func (m *Machine) SetHandler(irq int, h func()) {
	m.handlers[irq] = h
}

// RaiseIRQ marks irq pending. It is safe to call from any goroutine; the
// interrupt is delivered the next time the running code has interrupts
// enabled at a delivery point.
func (m *Machine) RaiseIRQ(irq int) {
	if irq < 0 || irq >= NumIRQ {
		return
	}
	m.pending[irq].Add(1)
	select {
	case m.irqSignal <- struct{}{}:
	default:
	}
}

// Cli clears the interrupt flag.
func (m *Machine) Cli() {
	m.regs.EFLAGS &^= FlagIF
}

// Sti sets the interrupt flag and delivers pending interrupts.
func (m *Machine) Sti() {
	m.regs.EFLAGS |= FlagIF
	m.deliver()
}

// PushCLI masks interrupts, remembering whether they were enabled on the
// outermost call. Calls nest; each must be matched by PopCLI.
func (m *Machine) PushCLI() {
	enabled := m.InterruptsEnabled()
	m.Cli()
	if m.ncli == 0 {
		m.intena = enabled
	}
	m.ncli++
}

// PopCLI undoes one PushCLI, re-enabling interrupts when the outermost one is
// undone and they were enabled before it.
func (m *Machine) PopCLI() {
	if m.InterruptsEnabled() {
		if m.cfg.Checked {
			m.fault("popcli", m.regs.ESP, "interruptible")
		}
		return
	}
	if m.ncli == 0 {
		if m.cfg.Checked {
			m.fault("popcli", m.regs.ESP, "unbalanced")
		}
		return
	}
	m.ncli--
	if m.ncli == 0 && m.intena {
		m.Sti()
	}
}

// CLIDepth reports the PushCLI nesting depth.
func (m *Machine) CLIDepth() int { return m.ncli }

// Hlt waits for the next interrupt and services it. Halting with interrupts
// masked would wait forever; in checked mode it faults instead.
func (m *Machine) Hlt() {
	m.checkStopped()
	if !m.InterruptsEnabled() {
		if m.cfg.Checked {
			m.fault("hlt", m.regs.ESP, "interrupts disabled")
		}
		<-m.stopped
		runtime.Goexit()
	}
	for !m.hasPending() {
		select {
		case <-m.irqSignal:
		case <-m.stopped:
			runtime.Goexit()
		}
	}
	m.deliver()
}

func (m *Machine) hasPending() bool {
	for i := range m.pending {
		if m.pending[i].Load() != 0 {
			return true
		}
	}
	return false
}

// deliver runs the handlers of pending interrupts, in line order, if
// interrupts are enabled.
func (m *Machine) deliver() {
	if !m.InterruptsEnabled() || m.inIRQ {
		return
	}
	m.checkStopped()
	for irq := range m.pending {
		n := m.pending[irq].Swap(0)
		h := m.handlers[irq]
		if h == nil {
			continue
		}
		for ; n > 0; n-- {
			saved := m.regs.EFLAGS
			m.Cli()
			m.inIRQ = true
			h()
			m.inIRQ = false
			m.regs.EFLAGS = saved
		}
	}
}
