package machine

import "encoding/binary"

// Memory is the machine's flat, little-endian physical address space.
//
// Addresses outside [Base, End) fault.
type Memory struct {
	base uint32
	buf  []byte
}

// NewMemory returns size bytes of zeroed memory starting at base.
func NewMemory(base, size uint32) *Memory {
	return &Memory{base: base, buf: make([]byte, size)}
}

func (m *Memory) Base() uint32 { return m.base }
func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }
func (m *Memory) End() uint32  { return m.base + uint32(len(m.buf)) }

// Contains reports whether [addr, addr+n) is backed by memory.
func (m *Memory) Contains(addr, n uint32) bool {
	if addr < m.base {
		return false
	}
	off := uint64(addr - m.base)
	return off+uint64(n) <= uint64(len(m.buf))
}

func (m *Memory) slice(op string, addr, n uint32) []byte {
	if !m.Contains(addr, n) {
		panic(&Fault{Op: op, Addr: addr, Msg: "address out of range"})
	}
	off := addr - m.base
	return m.buf[off : off+n]
}

// Read32 loads the word at addr.
func (m *Memory) Read32(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(m.slice("read", addr, 4))
}

// Write32 stores v at addr.
func (m *Memory) Write32(addr, v uint32) {
	binary.LittleEndian.PutUint32(m.slice("write", addr, 4), v)
}

// Read copies len(p) bytes starting at addr into p.
func (m *Memory) Read(addr uint32, p []byte) {
	copy(p, m.slice("read", addr, uint32(len(p))))
}

// Write copies p into memory starting at addr.
func (m *Memory) Write(addr uint32, p []byte) {
	copy(m.slice("write", addr, uint32(len(p))), p)
}

// Zero clears n bytes starting at addr.
func (m *Memory) Zero(addr, n uint32) {
	b := m.slice("write", addr, n)
	for i := range b {
		b[i] = 0
	}
}
