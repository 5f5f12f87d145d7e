package kernel

import "fmt"

// BlockSelf parks the running task on the blocked list with reason and runs
// the next ready task. It returns once another task has unblocked the caller
// and the scheduler has dispatched it again; by then reason is cleared.
func (s *Scheduler) BlockSelf(reason int) {
	s.cpu.PushCLI()
	if s.running == NoTask {
		s.cpu.Halt(ErrNotBooted)
		return
	}
	id := s.running
	t := &s.tab[id]
	t.state = Blocked
	t.reason = reason
	s.blocked.append(&s.tab, id)
	s.log.Debug().Int("task", int(id)).Str("name", t.name).Int("reason", reason).Msg("block")

	s.Schedule()
	s.cpu.PopCLI()
}

// Unblock moves id from the blocked list to the head of the ready list, so it
// runs before tasks that were already waiting. It is a no-op unless id is
// blocked.
func (s *Scheduler) Unblock(id TaskID) {
	if id < 0 || int(id) >= s.n {
		return
	}
	s.cpu.PushCLI()
	defer s.cpu.PopCLI()

	if !s.blocked.unlist(&s.tab, id) {
		return
	}
	t := &s.tab[id]
	t.reason = 0
	t.state = Ready
	s.ready.prepend(&s.tab, id)
	s.log.Debug().Int("task", int(id)).Str("name", t.name).Msg("unblock")
}

// Blocked reports whether id is blocked, and why.
func (s *Scheduler) Blocked(id TaskID) (reason int, ok bool) {
	if id < 0 || int(id) >= s.n || s.tab[id].state != Blocked {
		return 0, false
	}
	return s.tab[id].reason, true
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("scheduler{tasks: %d, running: %d, ready: %v, blocked: %v}",
		s.n, s.running, s.ReadyQueue(), s.BlockedQueue())
}
