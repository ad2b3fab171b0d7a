package hv

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/gdt/internal/gdt"
)

func TestSegmentFromDescriptorFlat(t *testing.T) {
	table, err := gdt.Build(0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cs, err := LoadSegment(table, gdt.KernelCodeSelector)
	if err != nil {
		t.Fatalf("LoadSegment(cs): %v", err)
	}

	want := Segment{
		Base:     0,
		Limit:    0xFFFFFFFF,
		Selector: gdt.KernelCodeSelector,
		Type:     gdt.SegCodeEXRDA,
		Present:  true,
		DPL:      gdt.Ring0,
		DB:       true,
		S:        true,
		G:        true,
	}
	if diff := cmp.Diff(want, cs); diff != "" {
		t.Errorf("kernel code segment mismatch (-want +got):\n%s", diff)
	}

	ds, err := LoadSegment(table, gdt.UserDataSelector)
	if err != nil {
		t.Fatalf("LoadSegment(ds): %v", err)
	}
	if ds.Type != gdt.SegDataRDWRA || ds.DPL != gdt.Ring3 || ds.Limit != 0xFFFFFFFF {
		t.Errorf("user data segment = %s", ds)
	}
}

func TestSegmentFromDescriptorNotPresent(t *testing.T) {
	s := SegmentFromDescriptor(0, gdt.Selector(0))
	if !s.Unusable {
		t.Fatalf("null descriptor produced usable segment %s", s)
	}
}

func TestLoadSegmentErrors(t *testing.T) {
	table, err := gdt.Build(0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, tt := range []struct {
		name string
		sel  gdt.Selector
	}{
		{"null", gdt.Selector(0)},
		{"out of range", gdt.Selector(gdt.EntryCount << 3)},
		{"ldt", gdt.KernelDataSelector | 4},
		{"rpl above dpl", gdt.KernelDataSelector | gdt.Selector(gdt.Ring3)},
	} {
		if _, err := LoadSegment(table, tt.sel); err == nil {
			t.Errorf("%s: LoadSegment(%s) succeeded", tt.name, tt.sel)
		}
	}
}

func TestSegmentDescriptorRoundTrip(t *testing.T) {
	table, err := gdt.Build(0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := gdt.KernelCodeIndex; i < table.Len(); i++ {
		d, err := table.Entry(i)
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		sel, err := gdt.NewSelector(i, d.Privilege())
		if err != nil {
			t.Fatalf("NewSelector: %v", err)
		}

		back, err := SegmentFromDescriptor(d, sel).Descriptor()
		if err != nil {
			t.Fatalf("Descriptor: %v", err)
		}

		// Loading sets the accessed bit.
		if want := d | gdt.Descriptor(1)<<40; back != want {
			t.Errorf("entry %d: Descriptor = 0x%016x, want 0x%016x", i, uint64(back), uint64(want))
		}
	}
}

func TestSegmentDescriptorRejectsUnalignedPageLimit(t *testing.T) {
	s := Segment{Present: true, S: true, G: true, Limit: 0x1000, Type: gdt.SegDataRDWR}
	if _, err := s.Descriptor(); err == nil {
		t.Fatal("Descriptor accepted a page-granular limit without the low 12 bits set")
	}
}
