//go:build linux && amd64

package kvm

import (
	"testing"

	"github.com/tinyrange/gdt/internal/boot"
	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
)

func TestInstallProtectedMode(t *testing.T) {
	checkKVMAvailable(t)

	kvm, err := Open()
	if err != nil {
		t.Fatalf("Open KVM hypervisor: %v", err)
	}
	defer kvm.Close()

	vm, err := kvm.NewVirtualMachine(hv.SimpleVMConfig{
		NumCPUs: 1,
		MemSize: 0x200000,
		MemBase: 0,
	})
	if err != nil {
		t.Fatalf("Create KVM virtual machine: %v", err)
	}
	defer vm.Close()

	table, err := gdt.New(0x1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loader := &boot.GuestLoader{VM: vm, WritePointer: true, PointerAddr: 0x1100}

	p, err := gdt.Install(table, loader)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := loader.Verify(table, p); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	err = vm.VirtualCPUCall(0, func(vcpu hv.VirtualCPU) error {
		regs, err := vcpu.SystemRegisters()
		if err != nil {
			return err
		}

		for name, s := range map[string]hv.Segment{"CS": regs.CS, "DS": regs.DS, "SS": regs.SS} {
			d, err := table.Entry(s.Selector.Index())
			if err != nil {
				t.Errorf("%s: %v", name, err)
				continue
			}
			if s.Base != uint64(d.Base()) || s.Limit != d.EffectiveLimit() || s.DPL != d.Privilege() {
				t.Errorf("%s = %s, descriptor %s", name, s, d)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("VirtualCPUCall: %v", err)
	}
}

func TestSegmentKVMConversion(t *testing.T) {
	table, err := gdt.Build(0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, sel := range []gdt.Selector{
		gdt.KernelCodeSelector,
		gdt.KernelDataSelector,
		gdt.UserCodeSelector,
		gdt.UserDataSelector,
	} {
		s, err := hv.LoadSegment(table, sel)
		if err != nil {
			t.Fatalf("LoadSegment(%s): %v", sel, err)
		}
		if back := segmentFromKVM(segmentToKVM(s)); back != s {
			t.Errorf("selector %s: got %s, want %s", sel, back, s)
		}
	}

	ks := segmentToKVM(hv.Segment{Unusable: true})
	if ks.Unusable != 1 || ks.Present != 0 {
		t.Errorf("unusable segment = %+v", ks)
	}
}
