package kernel

import (
	"fmt"
	"io"

	"coopos/machine"
)

// DumpTable writes the task table: running marker, index, name, saved stack
// pointer, the resume address found at it, state, block reason and CPU
// seconds. The running task's stack pointer and resume address are from its
// last suspension.
func (s *Scheduler) DumpTable(w io.Writer) {
	mem := s.cpu.Memory()
	fmt.Fprint(w, "Process list:\n")
	fmt.Fprint(w, "* i Name       ESP      Entry    State     Blk    CPU  \n")
	for i := 0; i < s.n; i++ {
		t := &s.tab[i]
		mark := ' '
		if TaskID(i) == s.running {
			mark = '*'
		}
		var resume uint32
		if t.ctx.esp != 0 && mem.Contains(t.ctx.esp, machine.SnapshotSize) {
			resume = t.ctx.Snapshot(mem).ReturnAddress
		}
		fmt.Fprintf(w, "%c %d %-10s %08x %08x %-7s %3d %6ds\n",
			mark, i, t.name, t.ctx.esp, resume, t.state, t.reason, t.cpuTotal/1000)
	}
}
