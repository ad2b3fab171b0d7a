package gdt

import (
	"encoding/binary"
	"fmt"
)

// PointerSize is the size of the LGDT memory operand in 32-bit mode.
const PointerSize = 6

// Pointer is the pseudo-descriptor consumed by LGDT.
type Pointer struct {
	Limit uint16
	Base  uint32
}

// BuildPointer describes t to the processor. The limit covers every entry
// of the table so that all of its selectors are valid.
func BuildPointer(t *Table) Pointer {
	return Pointer{
		Limit: uint16(t.Len()*DescriptorSize - 1),
		Base:  t.Base(),
	}
}

// Entries is the number of descriptors the processor will accept through p.
func (p Pointer) Entries() int {
	return (int(p.Limit) + 1) / DescriptorSize
}

// Covers reports whether sel addresses a descriptor inside the table.
func (p Pointer) Covers(sel Selector) bool {
	return int(sel.Index()) < p.Entries()
}

func (p Pointer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PointerSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.Limit)
	binary.LittleEndian.PutUint32(buf[2:6], p.Base)
	return buf, nil
}

func (p *Pointer) UnmarshalBinary(data []byte) error {
	if len(data) < PointerSize {
		return fmt.Errorf("gdt: pointer needs %d bytes, got %d", PointerSize, len(data))
	}
	p.Limit = binary.LittleEndian.Uint16(data[0:2])
	p.Base = binary.LittleEndian.Uint32(data[2:6])
	return nil
}

func (p Pointer) String() string {
	return fmt.Sprintf("base=0x%08x limit=0x%04x (%d entries)", p.Base, p.Limit, p.Entries())
}
