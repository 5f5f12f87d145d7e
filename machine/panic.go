package machine

// PanicInfo contains details about a panic recovered on a strand.
type PanicInfo struct {
	Strand string
	Addr   uint32
	Value  any
	Stack  []byte
}

// SetPanicHandler installs the machine's panic handler.
//
// The handler is invoked at most once (on the first panic), on the panicking
// strand, before the machine stops. It must not panic.
func (m *Machine) SetPanicHandler(fn func(PanicInfo)) {
	m.onPanic = fn
}

func (m *Machine) recoverStrand(s *strand) {
	r := recover()
	if r == nil {
		return
	}
	if f, ok := r.(*Fault); ok {
		m.log.Error().Str("strand", s.name).Err(f).Msg("fault")
		m.stop(f)
		return
	}

	info := PanicInfo{Strand: s.name, Addr: s.addr, Value: r, Stack: captureStack()}
	m.panicOnce.Do(func() {
		if m.onPanic != nil {
			m.onPanic(info)
		}
	})
	m.log.Error().Str("strand", s.name).Interface("value", r).Msg("panic")
	m.stop(&PanicError{Info: info})
}
