package machine

import (
	"fmt"
	"io"
)

// SelfTest switches the calling context into itself and prints the stack
// pointer and the snapshot the switch left behind. It must run on a strand.
func (m *Machine) SelfTest(w io.Writer) Snapshot {
	var esp uint32
	fmt.Fprintf(w, "Before context switch ESP=%08x\n", esp)

	m.PushCLI()
	m.ContextSwitch(&esp, &esp)
	snap := LoadSnapshot(m.mem, esp)
	m.PopCLI()

	fmt.Fprintf(w, "After  context switch ESP=%08x\n", esp)
	fmt.Fprintf(w, "Saved switch stack snapshot:\n"+
		"edi            0x%08x\n"+
		"esi            0x%08x\n"+
		"ebp            0x%08x\n"+
		"ebx            0x%08x\n"+
		"edx            0x%08x\n"+
		"ecx            0x%08x\n"+
		"eflags         0x%08x\n"+
		"return_address 0x%08x\n",
		snap.EDI, snap.ESI, snap.EBP, snap.EBX, snap.EDX, snap.ECX, snap.EFLAGS, snap.ReturnAddress)
	return snap
}
