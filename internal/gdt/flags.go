package gdt

import (
	"fmt"
	"strings"
)

// Flags is the access byte (bits 0-7) and the attribute nibble (bits 12-15)
// of a segment descriptor. Bits 8-11 overlap the high limit bits once encoded
// and must be zero.
type Flags uint16

// Access byte and attribute nibble bits.
const (
	FlagAccessed      Flags = 1 << 0
	FlagCodeData      Flags = 1 << 4  // S: 0 for system, 1 for code/data
	FlagPresent       Flags = 1 << 7
	FlagAvailable     Flags = 1 << 12 // AVL: free for system software
	FlagLong          Flags = 1 << 13 // L: 64-bit code segment
	FlagSize32        Flags = 1 << 14 // D/B: 0 for 16-bit, 1 for 32-bit
	FlagGranularity4K Flags = 1 << 15 // G: 0 for byte units, 1 for 4KiB units

	flagsPrivilegeShift = 5
	flagsPrivilegeMask  = 3 << flagsPrivilegeShift
	flagsTypeMask       = 0x0F
	flagsReservedMask   = 0x0F00
	flagsAttributeMask  = 0xF000
)

// Conventional flat protected-mode segments.
const (
	KernelCode = FlagCodeData | FlagPresent | FlagSize32 | FlagGranularity4K | Flags(Ring0)<<flagsPrivilegeShift | Flags(SegCodeEXRD)
	KernelData = FlagCodeData | FlagPresent | FlagSize32 | FlagGranularity4K | Flags(Ring0)<<flagsPrivilegeShift | Flags(SegDataRDWR)
	UserCode   = FlagCodeData | FlagPresent | FlagSize32 | FlagGranularity4K | Flags(Ring3)<<flagsPrivilegeShift | Flags(SegCodeEXRD)
	UserData   = FlagCodeData | FlagPresent | FlagSize32 | FlagGranularity4K | Flags(Ring3)<<flagsPrivilegeShift | Flags(SegDataRDWR)
)

// Privilege is a descriptor privilege level (ring).
type Privilege uint8

const (
	Ring0 Privilege = 0
	Ring1 Privilege = 1
	Ring2 Privilege = 2
	Ring3 Privilege = 3
)

func (p Privilege) Valid() bool { return p <= Ring3 }

func (p Privilege) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Privilege(%d)", uint8(p))
	}
	return fmt.Sprintf("ring%d", uint8(p))
}

// SegmentType is the 4-bit type field of a code or data descriptor.
type SegmentType uint8

const (
	SegDataRD        SegmentType = 0x00 // read-only
	SegDataRDA       SegmentType = 0x01 // read-only, accessed
	SegDataRDWR      SegmentType = 0x02 // read/write
	SegDataRDWRA     SegmentType = 0x03 // read/write, accessed
	SegDataRDEXPD    SegmentType = 0x04 // read-only, expand-down
	SegDataRDEXPDA   SegmentType = 0x05 // read-only, expand-down, accessed
	SegDataRDWREXPD  SegmentType = 0x06 // read/write, expand-down
	SegDataRDWREXPDA SegmentType = 0x07 // read/write, expand-down, accessed
	SegCodeEX        SegmentType = 0x08 // execute-only
	SegCodeEXA       SegmentType = 0x09 // execute-only, accessed
	SegCodeEXRD      SegmentType = 0x0A // execute/read
	SegCodeEXRDA     SegmentType = 0x0B // execute/read, accessed
	SegCodeEXC       SegmentType = 0x0C // execute-only, conforming
	SegCodeEXCA      SegmentType = 0x0D // execute-only, conforming, accessed
	SegCodeEXRDC     SegmentType = 0x0E // execute/read, conforming
	SegCodeEXRDCA    SegmentType = 0x0F // execute/read, conforming, accessed
)

func (t SegmentType) IsCode() bool { return t&0x8 != 0 }

// ExpandDown reports whether a data segment grows downwards.
func (t SegmentType) ExpandDown() bool { return !t.IsCode() && t&0x4 != 0 }

// Conforming reports whether a code segment is conforming.
func (t SegmentType) Conforming() bool { return t.IsCode() && t&0x4 != 0 }

func (t SegmentType) String() string {
	var parts []string
	if t.IsCode() {
		parts = append(parts, "code", "execute")
		if t&0x2 != 0 {
			parts = append(parts, "read")
		}
		if t.Conforming() {
			parts = append(parts, "conforming")
		}
	} else {
		parts = append(parts, "data", "read")
		if t&0x2 != 0 {
			parts = append(parts, "write")
		}
		if t.ExpandDown() {
			parts = append(parts, "expand-down")
		}
	}
	if t&0x1 != 0 {
		parts = append(parts, "accessed")
	}
	return strings.Join(parts, ",")
}

// Attributes describes a segment's access rights field by field. It is
// the auditable way to build Flags.
type Attributes struct {
	Present   bool
	Privilege Privilege
	// CodeData selects a code or data descriptor. When false the
	// descriptor is a system descriptor and Type is interpreted by the
	// processor as a system type.
	CodeData      bool
	Type          SegmentType
	Available     bool
	Long          bool
	Size32        bool
	Granularity4K bool
}

// Flags assembles the attributes into descriptor flags.
func (a Attributes) Flags() (Flags, error) {
	if !a.Privilege.Valid() {
		return 0, fmt.Errorf("%w: privilege level %d", ErrMalformedFlags, a.Privilege)
	}
	if a.Type > SegCodeEXRDCA {
		return 0, fmt.Errorf("%w: segment type 0x%x", ErrMalformedFlags, uint8(a.Type))
	}

	f := Flags(a.Type) | Flags(a.Privilege)<<flagsPrivilegeShift
	if a.Present {
		f |= FlagPresent
	}
	if a.CodeData {
		f |= FlagCodeData
	}
	if a.Available {
		f |= FlagAvailable
	}
	if a.Long {
		f |= FlagLong
	}
	if a.Size32 {
		f |= FlagSize32
	}
	if a.Granularity4K {
		f |= FlagGranularity4K
	}

	if err := f.Validate(); err != nil {
		return 0, err
	}
	return f, nil
}

// Attributes splits f back into its named fields.
func (f Flags) Attributes() Attributes {
	return Attributes{
		Present:       f&FlagPresent != 0,
		Privilege:     f.Privilege(),
		CodeData:      f&FlagCodeData != 0,
		Type:          f.Type(),
		Available:     f&FlagAvailable != 0,
		Long:          f&FlagLong != 0,
		Size32:        f&FlagSize32 != 0,
		Granularity4K: f&FlagGranularity4K != 0,
	}
}

// Validate rejects flag values the processor would not accept in a
// code or data descriptor.
func (f Flags) Validate() error {
	if f&flagsReservedMask != 0 {
		return fmt.Errorf("%w: bits 8-11 set in 0x%04x", ErrMalformedFlags, uint16(f))
	}
	// L and D/B together are reserved for future use.
	if f&FlagLong != 0 && f&FlagSize32 != 0 {
		return fmt.Errorf("%w: long mode and 32-bit size both set in 0x%04x", ErrMalformedFlags, uint16(f))
	}
	return nil
}

func (f Flags) Access() uint8 { return uint8(f) }

// Nibble returns the attribute nibble (G, D/B, L, AVL) in its low four bits.
func (f Flags) Nibble() uint8 { return uint8(f >> 12) }

func (f Flags) Privilege() Privilege {
	return Privilege((f & flagsPrivilegeMask) >> flagsPrivilegeShift)
}

func (f Flags) Type() SegmentType { return SegmentType(f & flagsTypeMask) }

func (f Flags) String() string {
	if f == 0 {
		return "null"
	}
	a := f.Attributes()
	var parts []string
	if a.Present {
		parts = append(parts, "present")
	}
	parts = append(parts, a.Privilege.String())
	if a.CodeData {
		parts = append(parts, a.Type.String())
	} else {
		parts = append(parts, fmt.Sprintf("system(0x%x)", uint8(a.Type)))
	}
	if a.Granularity4K {
		parts = append(parts, "4k")
	}
	switch {
	case a.Long:
		parts = append(parts, "64-bit")
	case a.Size32:
		parts = append(parts, "32-bit")
	default:
		parts = append(parts, "16-bit")
	}
	if a.Available {
		parts = append(parts, "avl")
	}
	return strings.Join(parts, " ")
}

func flagsFromParts(access, nibble uint8) Flags {
	return Flags(access) | Flags(nibble&0xF)<<12
}
