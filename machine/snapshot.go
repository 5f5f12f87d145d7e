package machine

import "encoding/binary"

const (
	// SnapshotWords is the number of 32-bit words ContextSwitch leaves on a
	// suspended stack.
	SnapshotWords = 8
	// SnapshotSize is the size of a Snapshot in bytes.
	SnapshotSize = SnapshotWords * 4
)

// Snapshot is the register image found at the stack pointer of a suspended
// context.
//
// Fields are in memory order: EDI sits at the saved stack pointer and is the
// last value pushed (first popped); ReturnAddress sits highest and is the
// value the call into ContextSwitch pushed. ContextSwitch and anything that
// fabricates an initial stack must agree on this layout.
type Snapshot struct {
	EDI           uint32
	ESI           uint32
	EBP           uint32
	EBX           uint32
	EDX           uint32
	ECX           uint32
	EFLAGS        uint32
	ReturnAddress uint32
}

// LoadSnapshot decodes the snapshot stored at sp.
func LoadSnapshot(mem *Memory, sp uint32) Snapshot {
	var raw [SnapshotSize]byte
	mem.Read(sp, raw[:])
	w := func(i int) uint32 { return binary.LittleEndian.Uint32(raw[i*4:]) }
	return Snapshot{
		EDI:           w(0),
		ESI:           w(1),
		EBP:           w(2),
		EBX:           w(3),
		EDX:           w(4),
		ECX:           w(5),
		EFLAGS:        w(6),
		ReturnAddress: w(7),
	}
}

// Store encodes s at sp.
func (s Snapshot) Store(mem *Memory, sp uint32) {
	var raw [SnapshotSize]byte
	for i, v := range [SnapshotWords]uint32{s.EDI, s.ESI, s.EBP, s.EBX, s.EDX, s.ECX, s.EFLAGS, s.ReturnAddress} {
		binary.LittleEndian.PutUint32(raw[i*4:], v)
	}
	mem.Write(sp, raw[:])
}
