// Package gdt builds the x86 global descriptor table used to enter flat
// protected-mode segmentation.
//
// A Table is owned by the caller. It is populated once with the null
// descriptor and the four flat kernel/user code/data segments, described to
// the processor by a Pointer, and handed to a Loader that issues the actual
// load. After Install the table is read-only.
package gdt

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrLimitOverflow   = errors.New("gdt: segment limit exceeds 20 bits")
	ErrMalformedFlags  = errors.New("gdt: malformed descriptor flags")
	ErrIndexOutOfRange = errors.New("gdt: descriptor index out of range")
	ErrNullDescriptor  = errors.New("gdt: descriptor 0 must be null")
	ErrInstalled       = errors.New("gdt: table already installed")
	ErrTableAddress    = errors.New("gdt: table does not fit in the linear address space")
	ErrIncomplete      = errors.New("gdt: table has unwritten descriptors")
)

// EntryCount is the fixed number of descriptors in a Table.
const EntryCount = 5

// Conventional descriptor indices.
const (
	NullIndex = iota
	KernelCodeIndex
	KernelDataIndex
	UserCodeIndex
	UserDataIndex
)

type State int

const (
	StateUninitialized State = iota
	StateInstalled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInstalled:
		return "installed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Table is a fixed-size descriptor table together with the linear address
// its backing storage is loaded at.
type Table struct {
	entries [EntryCount]Descriptor
	written [EntryCount]bool
	base    uint32
	state   State
}

// New returns an empty table whose storage lives at the linear address base.
func New(base uint32) (*Table, error) {
	if uint64(base)+EntryCount*DescriptorSize-1 > math.MaxUint32 {
		return nil, fmt.Errorf("%w: base 0x%08x", ErrTableAddress, base)
	}
	return &Table{base: base}, nil
}

// Build returns a populated table at base.
func Build(base uint32) (*Table, error) {
	t, err := New(base)
	if err != nil {
		return nil, err
	}
	if err := t.Populate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) Base() uint32 { return t.base }
func (t *Table) Len() int     { return len(t.entries) }
func (t *Table) State() State { return t.state }

// SetGate encodes one descriptor into slot index.
func (t *Table) SetGate(index int, base uint32, limit uint32, flags Flags) error {
	if t.state == StateInstalled {
		return ErrInstalled
	}
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(t.entries))
	}
	if index == NullIndex && (base != 0 || limit != 0 || flags != 0) {
		return ErrNullDescriptor
	}

	d, err := Encode(base, limit, flags)
	if err != nil {
		return fmt.Errorf("gdt: set gate %d: %w", index, err)
	}

	t.entries[index] = d
	t.written[index] = true
	return nil
}

// Populate writes the null descriptor and the flat kernel and user segments.
func (t *Table) Populate() error {
	gates := [EntryCount]struct {
		limit uint32
		flags Flags
	}{
		NullIndex:       {0, 0},
		KernelCodeIndex: {MaxLimit, KernelCode},
		KernelDataIndex: {MaxLimit, KernelData},
		UserCodeIndex:   {MaxLimit, UserCode},
		UserDataIndex:   {MaxLimit, UserData},
	}

	for i, g := range gates {
		if err := t.SetGate(i, 0, g.limit, g.flags); err != nil {
			return err
		}
	}
	return nil
}

// Populated reports whether every slot has been written.
func (t *Table) Populated() bool {
	for _, ok := range t.written {
		if !ok {
			return false
		}
	}
	return true
}

func (t *Table) Entry(index int) (Descriptor, error) {
	if index < 0 || index >= len(t.entries) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(t.entries))
	}
	return t.entries[index], nil
}

// Entries returns a copy of the descriptors.
func (t *Table) Entries() [EntryCount]Descriptor { return t.entries }

// MarshalBinary returns the table's backing storage exactly as the processor
// reads it.
func (t *Table) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(t.entries)*DescriptorSize)
	for _, d := range t.entries {
		b := d.Bytes()
		buf = append(buf, b[:]...)
	}
	return buf, nil
}

// Size is the size of the table's storage in bytes.
func (t *Table) Size() int { return len(t.entries) * DescriptorSize }
