package hv

import (
	"fmt"

	"github.com/tinyrange/gdt/internal/gdt"
)

// SegmentFromDescriptor returns the register state the processor would hold
// after loading sel, which refers to d. Loading marks the descriptor
// accessed, so the accessed bit is always set on usable segments.
func SegmentFromDescriptor(d gdt.Descriptor, sel gdt.Selector) Segment {
	if !d.Present() {
		return Segment{Selector: sel, Unusable: true}
	}

	a := d.Flags().Attributes()
	return Segment{
		Base:     uint64(d.Base()),
		Limit:    d.EffectiveLimit(),
		Selector: sel,
		Type:     a.Type | gdt.SegDataRDA,
		Present:  true,
		DPL:      a.Privilege,
		DB:       a.Size32,
		S:        a.CodeData,
		L:        a.Long,
		G:        a.Granularity4K,
		AVL:      a.Available,
	}
}

// LoadSegment looks up sel in table and expands it.
func LoadSegment(table *gdt.Table, sel gdt.Selector) (Segment, error) {
	if sel.LocalTable() {
		return Segment{}, fmt.Errorf("hv: selector %s refers to the LDT", sel)
	}
	d, err := table.Entry(sel.Index())
	if err != nil {
		return Segment{}, fmt.Errorf("hv: load selector %s: %w", sel, err)
	}
	if d.IsNull() {
		return Segment{}, fmt.Errorf("hv: selector %s refers to the null descriptor", sel)
	}
	if sel.RPL() > d.Privilege() {
		return Segment{}, fmt.Errorf("hv: selector %s rpl %s exceeds dpl %s", sel, sel.RPL(), d.Privilege())
	}
	return SegmentFromDescriptor(d, sel), nil
}

// Descriptor re-encodes the cached register fields. The accessed bit is
// kept as the register reports it.
func (s Segment) Descriptor() (gdt.Descriptor, error) {
	if s.Unusable {
		return 0, nil
	}
	if s.Base > 0xFFFFFFFF {
		return 0, fmt.Errorf("hv: segment base 0x%x does not fit a descriptor", s.Base)
	}

	limit := s.Limit
	if s.G {
		if limit&0xFFF != 0xFFF {
			return 0, fmt.Errorf("hv: page-granular limit 0x%x is not page aligned", limit)
		}
		limit >>= 12
	}

	flags, err := gdt.Attributes{
		Present:       s.Present,
		Privilege:     s.DPL,
		CodeData:      s.S,
		Type:          s.Type,
		Available:     s.AVL,
		Long:          s.L,
		Size32:        s.DB,
		Granularity4K: s.G,
	}.Flags()
	if err != nil {
		return 0, err
	}

	return gdt.Encode(uint32(s.Base), limit, flags)
}
