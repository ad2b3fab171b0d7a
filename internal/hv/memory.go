package hv

import "fmt"

// Memory is guest RAM backed by a byte slice, addressed by guest physical
// address starting at its base.
type Memory struct {
	base uint64
	mem  []byte
}

func NewMemory(base uint64, size uint64) *Memory {
	return &Memory{base: base, mem: make([]byte, size)}
}

// WrapMemory addresses an existing host buffer (for example an mmap'd
// region) as guest memory at base.
func WrapMemory(base uint64, mem []byte) *Memory {
	return &Memory{base: base, mem: mem}
}

// implements MemoryRegion.
func (m *Memory) Size() uint64 { return uint64(len(m.mem)) }
func (m *Memory) Base() uint64 { return m.base }

func (m *Memory) hostOffset(gpa uint64, n int) (uint64, error) {
	if gpa < m.base || gpa-m.base > uint64(len(m.mem)) || uint64(n) > uint64(len(m.mem))-(gpa-m.base) {
		return 0, fmt.Errorf("%w: [0x%x, 0x%x) not in [0x%x, 0x%x)",
			ErrGuestAddress, gpa, gpa+uint64(n), m.base, m.base+uint64(len(m.mem)))
	}
	return gpa - m.base, nil
}

func (m *Memory) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrGuestAddress, off)
	}
	hostOff, err := m.hostOffset(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, m.mem[hostOff:]), nil
}

func (m *Memory) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrGuestAddress, off)
	}
	hostOff, err := m.hostOffset(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(m.mem[hostOff:], p), nil
}

var (
	_ MemoryRegion = &Memory{}
)
