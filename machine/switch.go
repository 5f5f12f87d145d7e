package machine

// ContextSwitch suspends the calling context and resumes the one whose stack
// pointer is stored at newSP.
//
// It pushes the return address, EFLAGS, ECX, EDX, EBX, EBP, ESI and EDI onto
// the current stack, stores ESP at oldSP, loads ESP from newSP, pops the same
// registers in reverse order and returns to the popped address. The return may
// land in a different context entirely: callers must re-read any shared state
// after it returns. When oldSP and newSP hold the same stack the call is an
// identity round trip.
//
// Interrupts must be masked by the caller; the new context unmasks them.
func (m *Machine) ContextSwitch(oldSP, newSP *uint32) {
	m.checkStopped()
	if m.cfg.Checked {
		if m.InterruptsEnabled() {
			m.fault("switch", m.regs.ESP, "interrupts enabled")
		}
		if m.inIRQ {
			m.fault("switch", m.regs.ESP, "inside interrupt handler")
		}
	}

	self := m.cur
	m.push(self.addr)
	m.push(m.regs.EFLAGS)
	m.push(m.regs.ECX)
	m.push(m.regs.EDX)
	m.push(m.regs.EBX)
	m.push(m.regs.EBP)
	m.push(m.regs.ESI)
	m.push(m.regs.EDI)

	*oldSP = m.regs.ESP
	m.regs.ESP = *newSP

	m.regs.EDI = m.pop()
	m.regs.ESI = m.pop()
	m.regs.EBP = m.pop()
	m.regs.EBX = m.pop()
	m.regs.EDX = m.pop()
	m.regs.ECX = m.pop()
	m.regs.EFLAGS = m.pop()
	m.ret(self, m.pop())
}

func (m *Machine) push(v uint32) {
	m.regs.ESP -= 4
	m.mem.Write32(m.regs.ESP, v)
}

func (m *Machine) pop() uint32 {
	v := m.mem.Read32(m.regs.ESP)
	m.regs.ESP += 4
	return v
}

// ret transfers control from self to addr.
func (m *Machine) ret(self *strand, addr uint32) {
	if addr == self.addr {
		return
	}

	next, ok := m.strands[addr]
	if !ok {
		c, ok := m.code[addr]
		if !ok {
			m.fault("ret", addr, "no code or suspended context at address")
		}
		next = m.newStrand(c.name, c.fn)
	}

	m.log.Trace().Str("from", self.name).Str("to", next.name).Str("esp", hex32(m.regs.ESP)).Msg("switch")
	m.cur = next
	next.wake <- struct{}{}
	m.park(self)
}
