package gdt

import "fmt"

// Selector is a segment selector: descriptor index in bits 3-15, table
// indicator in bit 2 (always 0 for the GDT) and requested privilege level in
// bits 0-1.
type Selector uint16

const (
	KernelCodeSelector = Selector(KernelCodeIndex<<3) | Selector(Ring0)
	KernelDataSelector = Selector(KernelDataIndex<<3) | Selector(Ring0)
	UserCodeSelector   = Selector(UserCodeIndex<<3) | Selector(Ring3)
	UserDataSelector   = Selector(UserDataIndex<<3) | Selector(Ring3)
)

// NewSelector returns the GDT selector for index with the requested
// privilege level rpl.
func NewSelector(index int, rpl Privilege) (Selector, error) {
	if index < 0 || index >= EntryCount {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, EntryCount)
	}
	if !rpl.Valid() {
		return 0, fmt.Errorf("gdt: invalid requested privilege level %d", rpl)
	}
	return Selector(index<<3) | Selector(rpl), nil
}

func (s Selector) Index() int       { return int(s >> 3) }
func (s Selector) RPL() Privilege   { return Privilege(s & 3) }
func (s Selector) LocalTable() bool { return s&4 != 0 }
func (s Selector) String() string   { return fmt.Sprintf("0x%04x", uint16(s)) }
