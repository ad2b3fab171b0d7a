// Package boot hands an installed descriptor table to whatever consumes it:
// a guest vCPU behind a hypervisor or a raw boot image.
package boot

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
)

// GuestLoader loads a table into a virtual machine and switches one of its
// vCPUs to flat protected mode.
type GuestLoader struct {
	VM  hv.VirtualMachine
	CPU int

	// WritePointer stores the 6-byte GDTR operand at PointerAddr so guest
	// code can reload the table itself. Address 0 is a valid placement.
	WritePointer bool
	PointerAddr  uint64
}

// Load implements gdt.Loader.
func (g *GuestLoader) Load(t *gdt.Table, p gdt.Pointer) error {
	if g.VM == nil {
		return fmt.Errorf("boot: no virtual machine")
	}
	if !t.Populated() {
		return gdt.ErrIncomplete
	}
	for _, sel := range []gdt.Selector{gdt.KernelCodeSelector, gdt.KernelDataSelector} {
		if !p.Covers(sel) {
			return fmt.Errorf("boot: pointer %s does not cover selector %s", p, sel)
		}
	}

	image, err := t.MarshalBinary()
	if err != nil {
		return fmt.Errorf("boot: encode table: %w", err)
	}
	if _, err := g.VM.WriteAt(image, int64(p.Base)); err != nil {
		return fmt.Errorf("boot: write table at 0x%08x: %w", p.Base, err)
	}

	if g.WritePointer {
		operand, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("boot: encode pointer: %w", err)
		}
		if _, err := g.VM.WriteAt(operand, int64(g.PointerAddr)); err != nil {
			return fmt.Errorf("boot: write pointer at 0x%08x: %w", g.PointerAddr, err)
		}
	}

	cs, err := hv.LoadSegment(t, gdt.KernelCodeSelector)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	ds, err := hv.LoadSegment(t, gdt.KernelDataSelector)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	err = g.VM.VirtualCPUCall(g.CPU, func(vcpu hv.VirtualCPU) error {
		regs, err := vcpu.SystemRegisters()
		if err != nil {
			return err
		}

		regs.GDT = hv.DescriptorTable{Base: uint64(p.Base), Limit: p.Limit}
		regs.CS = cs
		regs.DS = ds
		regs.ES = ds
		regs.FS = ds
		regs.GS = ds
		regs.SS = ds
		regs.CR0 |= hv.CR0ProtectionEnable

		return vcpu.SetSystemRegisters(regs)
	})
	if err != nil {
		return fmt.Errorf("boot: program vCPU %d: %w", g.CPU, err)
	}

	slog.Debug("boot: loaded descriptor table",
		"cpu", g.CPU,
		"gdt", p.String(),
		"cs", cs.Selector,
		"ds", ds.Selector,
	)

	return nil
}

// Verify reads the table and, when written, the GDTR operand back out of
// guest memory and checks the vCPU is running on them.
func (g *GuestLoader) Verify(t *gdt.Table, p gdt.Pointer) error {
	vm := g.VM
	if vm == nil {
		return fmt.Errorf("boot: no virtual machine")
	}

	want, err := t.MarshalBinary()
	if err != nil {
		return fmt.Errorf("boot: encode table: %w", err)
	}

	got := make([]byte, len(want))
	if _, err := vm.ReadAt(got, int64(p.Base)); err != nil {
		return fmt.Errorf("boot: read table at 0x%08x: %w", p.Base, err)
	}
	if !bytes.Equal(got, want) {
		for i := 0; i < t.Len(); i++ {
			d, err := gdt.DecodeBytes(got[i*gdt.DescriptorSize:])
			if err != nil {
				return err
			}
			if w, _ := t.Entry(i); d != w {
				return fmt.Errorf("boot: guest entry %d is %s, want %s", i, d, w)
			}
		}
	}

	if g.WritePointer {
		operand, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("boot: encode pointer: %w", err)
		}
		got := make([]byte, len(operand))
		if _, err := vm.ReadAt(got, int64(g.PointerAddr)); err != nil {
			return fmt.Errorf("boot: read pointer at 0x%08x: %w", g.PointerAddr, err)
		}
		if !bytes.Equal(got, operand) {
			return fmt.Errorf("boot: GDTR operand at 0x%08x is % x, want % x", g.PointerAddr, got, operand)
		}
	}

	return vm.VirtualCPUCall(g.CPU, func(vcpu hv.VirtualCPU) error {
		regs, err := vcpu.SystemRegisters()
		if err != nil {
			return fmt.Errorf("boot: read registers: %w", err)
		}

		if regs.GDT.Base != uint64(p.Base) || regs.GDT.Limit != p.Limit {
			return fmt.Errorf("boot: GDTR is base=0x%x limit=0x%x, want %s", regs.GDT.Base, regs.GDT.Limit, p)
		}
		if regs.CR0&hv.CR0ProtectionEnable == 0 {
			return fmt.Errorf("boot: CR0.PE clear (cr0=0x%x)", regs.CR0)
		}
		if regs.CS.Selector != gdt.KernelCodeSelector {
			return fmt.Errorf("boot: CS is %s, want %s", regs.CS.Selector, gdt.KernelCodeSelector)
		}
		for name, s := range map[string]hv.Segment{
			"DS": regs.DS, "ES": regs.ES, "FS": regs.FS, "GS": regs.GS, "SS": regs.SS,
		} {
			if s.Selector != gdt.KernelDataSelector {
				return fmt.Errorf("boot: %s is %s, want %s", name, s.Selector, gdt.KernelDataSelector)
			}
		}

		return nil
	})
}

// ImageLoader writes the table and its GDTR operand into a boot image for
// real-mode startup code to load.
type ImageLoader struct {
	W io.WriterAt

	TableOffset   int64
	PointerOffset int64
}

// Load implements gdt.Loader.
func (l *ImageLoader) Load(t *gdt.Table, p gdt.Pointer) error {
	if l.W == nil {
		return fmt.Errorf("boot: no image writer")
	}
	if !t.Populated() {
		return gdt.ErrIncomplete
	}
	if l.TableOffset < 0 || l.PointerOffset < 0 {
		return fmt.Errorf("boot: negative image offset")
	}

	tableEnd := l.TableOffset + int64(t.Size())
	pointerEnd := l.PointerOffset + gdt.PointerSize
	if l.TableOffset < pointerEnd && l.PointerOffset < tableEnd {
		return fmt.Errorf("boot: pointer at 0x%x overlaps table [0x%x, 0x%x)", l.PointerOffset, l.TableOffset, tableEnd)
	}

	image, err := t.MarshalBinary()
	if err != nil {
		return fmt.Errorf("boot: encode table: %w", err)
	}
	if _, err := l.W.WriteAt(image, l.TableOffset); err != nil {
		return fmt.Errorf("boot: write table: %w", err)
	}

	operand, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("boot: encode pointer: %w", err)
	}
	if _, err := l.W.WriteAt(operand, l.PointerOffset); err != nil {
		return fmt.Errorf("boot: write pointer: %w", err)
	}

	slog.Debug("boot: wrote descriptor table image",
		"tableOffset", l.TableOffset,
		"pointerOffset", l.PointerOffset,
		"gdt", p.String(),
	)

	return nil
}

var (
	_ gdt.Loader = &GuestLoader{}
	_ gdt.Loader = &ImageLoader{}
)
