package boot

import (
	"fmt"
	"math"

	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
)

// Placement is where a table and its GDTR operand live in guest RAM.
type Placement struct {
	Table   hv.Region
	Pointer hv.Region
}

// Place allocates the table and its pointer from l. A zero base lets the
// layout choose; otherwise the region is reserved at that address.
func Place(l *hv.Layout, tableBase, pointerBase uint64) (Placement, error) {
	var (
		p   Placement
		err error
	)

	tableSize := uint64(gdt.EntryCount * gdt.DescriptorSize)
	if tableBase != 0 {
		p.Table, err = l.Reserve("gdt", tableBase, tableSize)
	} else {
		p.Table, err = l.Allocate("gdt", tableSize, gdt.DescriptorSize)
	}
	if err != nil {
		return Placement{}, fmt.Errorf("boot: place table: %w", err)
	}
	if p.Table.End()-1 > math.MaxUint32 {
		return Placement{}, fmt.Errorf("boot: table at 0x%x is above 4GiB: %w", p.Table.Base, gdt.ErrTableAddress)
	}

	if pointerBase != 0 {
		p.Pointer, err = l.Reserve("gdtr", pointerBase, gdt.PointerSize)
	} else {
		p.Pointer, err = l.Allocate("gdtr", gdt.PointerSize, 8)
	}
	if err != nil {
		return Placement{}, fmt.Errorf("boot: place pointer: %w", err)
	}

	return p, nil
}

// NewTable creates a table at the placed address.
func (p Placement) NewTable() (*gdt.Table, error) {
	return gdt.New(uint32(p.Table.Base))
}
