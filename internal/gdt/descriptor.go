package gdt

import (
	"encoding/binary"
	"fmt"
)

const (
	// DescriptorSize is the size in bytes of one segment descriptor.
	DescriptorSize = 8

	// MaxLimit is the largest limit a descriptor can hold (20 bits).
	MaxLimit = 0xFFFFF
)

// Descriptor is an encoded 8-byte segment descriptor:
//
//	bits  0-15  limit 0-15
//	bits 16-39  base 0-23
//	bits 40-47  access byte
//	bits 48-51  limit 16-19
//	bits 52-55  attribute nibble (AVL, L, D/B, G)
//	bits 56-63  base 24-31
type Descriptor uint64

// Encode packs base, limit and flags into a descriptor. The limit is the raw
// 20-bit value; callers wanting a 4GiB span pass MaxLimit together with
// FlagGranularity4K.
func Encode(base uint32, limit uint32, flags Flags) (Descriptor, error) {
	if limit > MaxLimit {
		return 0, fmt.Errorf("%w: 0x%x", ErrLimitOverflow, limit)
	}
	if err := flags.Validate(); err != nil {
		return 0, err
	}

	d := uint64(limit & 0xFFFF)
	d |= uint64(base&0xFFFF) << 16
	d |= uint64((base>>16)&0xFF) << 32
	d |= uint64(flags.Access()) << 40
	d |= uint64((limit>>16)&0xF) << 48
	d |= uint64(flags&flagsAttributeMask) << 40
	d |= uint64(base>>24) << 56

	return Descriptor(d), nil
}

// Decode is the inverse of Encode.
func Decode(d Descriptor) (base uint32, limit uint32, flags Flags) {
	return d.Base(), d.Limit(), d.Flags()
}

// DecodeBytes reads a descriptor from its in-memory form.
func DecodeBytes(b []byte) (Descriptor, error) {
	if len(b) < DescriptorSize {
		return 0, fmt.Errorf("gdt: descriptor needs %d bytes, got %d", DescriptorSize, len(b))
	}
	return Descriptor(binary.LittleEndian.Uint64(b)), nil
}

func (d Descriptor) Base() uint32 {
	return uint32(d>>16)&0xFFFFFF | uint32(d>>56)<<24
}

// Limit returns the raw 20-bit limit, before granularity scaling.
func (d Descriptor) Limit() uint32 {
	return uint32(d)&0xFFFF | uint32(d>>48)&0xF<<16
}

func (d Descriptor) Flags() Flags {
	return flagsFromParts(uint8(d>>40), uint8(d>>52))
}

func (d Descriptor) Present() bool        { return d.Flags()&FlagPresent != 0 }
func (d Descriptor) Privilege() Privilege { return d.Flags().Privilege() }
func (d Descriptor) Type() SegmentType    { return d.Flags().Type() }
func (d Descriptor) IsNull() bool         { return d == 0 }
func (d Descriptor) Granularity4K() bool  { return d.Flags()&FlagGranularity4K != 0 }

// Bytes returns the descriptor in memory order.
func (d Descriptor) Bytes() (b [DescriptorSize]byte) {
	binary.LittleEndian.PutUint64(b[:], uint64(d))
	return b
}

// EffectiveLimit is the limit in bytes once the granularity bit is applied.
func (d Descriptor) EffectiveLimit() uint32 {
	if d.Granularity4K() {
		return d.Limit()<<12 | 0xFFF
	}
	return d.Limit()
}

// Span returns the inclusive range of linear addresses the segment covers.
// Offsets of an expand-down data segment run from limit+1 up to 0xFFFF or
// 0xFFFFFFFF depending on D/B.
func (d Descriptor) Span() (first, last uint64) {
	base := uint64(d.Base())
	limit := uint64(d.EffectiveLimit())

	f := d.Flags()
	if f&FlagCodeData != 0 && f.Type().ExpandDown() {
		upper := uint64(0xFFFF)
		if f&FlagSize32 != 0 {
			upper = 0xFFFFFFFF
		}
		return base + limit + 1, base + upper
	}
	return base, base + limit
}

func (d Descriptor) String() string {
	if d.IsNull() {
		return "null"
	}
	return fmt.Sprintf("base=0x%08x limit=0x%05x %s", d.Base(), d.Limit(), d.Flags())
}

// Entry is the field-by-field view of a descriptor as it is laid out in
// memory.
type Entry struct {
	LimitLow    uint16
	BaseLow     uint16
	BaseMiddle  uint8
	Access      uint8
	Granularity uint8 // limit 16-19 in the low nibble, attributes in the high nibble
	BaseHigh    uint8
}

func (d Descriptor) Entry() Entry {
	return Entry{
		LimitLow:    uint16(d),
		BaseLow:     uint16(d >> 16),
		BaseMiddle:  uint8(d >> 32),
		Access:      uint8(d >> 40),
		Granularity: uint8(d >> 48),
		BaseHigh:    uint8(d >> 56),
	}
}

func (e Entry) Descriptor() Descriptor {
	return Descriptor(uint64(e.LimitLow) |
		uint64(e.BaseLow)<<16 |
		uint64(e.BaseMiddle)<<32 |
		uint64(e.Access)<<40 |
		uint64(e.Granularity)<<48 |
		uint64(e.BaseHigh)<<56)
}
