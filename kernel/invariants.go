package kernel

import "fmt"

// CheckInvariants validates the table against the lists: exactly one task is
// running and it is in no list, every ready task is in the ready list, every
// blocked task is in the blocked list, and both lists are well formed.
func (s *Scheduler) CheckInvariants() error {
	where := make(map[TaskID]string, s.n)
	for _, l := range []struct {
		name string
		list *taskList
	}{{"ready", &s.ready}, {"blocked", &s.blocked}} {
		if (l.list.head == NoTask) != (l.list.tail == NoTask) {
			return fmt.Errorf("%w: %s list head %d tail %d", ErrInvariant, l.name, l.list.head, l.list.tail)
		}
		ids := l.list.members(&s.tab)
		if len(ids) > s.n {
			return fmt.Errorf("%w: %s list is cyclic", ErrInvariant, l.name)
		}
		if len(ids) > 0 && ids[len(ids)-1] != l.list.tail {
			return fmt.Errorf("%w: %s list tail %d, last member %d", ErrInvariant, l.name, l.list.tail, ids[len(ids)-1])
		}
		for _, id := range ids {
			if other, dup := where[id]; dup {
				return fmt.Errorf("%w: task %d in %s and %s lists", ErrInvariant, id, other, l.name)
			}
			where[id] = l.name
		}
	}

	running := 0
	for i := 0; i < s.n; i++ {
		id := TaskID(i)
		t := &s.tab[i]
		in, listed := where[id]
		switch t.state {
		case Running:
			running++
			if id != s.running {
				return fmt.Errorf("%w: task %d running but current is %d", ErrInvariant, id, s.running)
			}
			if listed {
				return fmt.Errorf("%w: running task %d in %s list", ErrInvariant, id, in)
			}
		case Ready:
			if in != "ready" {
				return fmt.Errorf("%w: ready task %d not in ready list", ErrInvariant, id)
			}
		case Blocked:
			if in != "blocked" {
				return fmt.Errorf("%w: blocked task %d not in blocked list", ErrInvariant, id)
			}
		}
		if !listed && t.next != NoTask {
			return fmt.Errorf("%w: unlisted task %d links to %d", ErrInvariant, id, t.next)
		}
	}
	if running != 1 {
		return fmt.Errorf("%w: %d running tasks", ErrInvariant, running)
	}
	return nil
}
