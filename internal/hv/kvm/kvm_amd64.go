//go:build linux && amd64

package kvm

import (
	"fmt"

	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
)

// tssAddr is the three pages below the BIOS area KVM needs for the
// real-mode TSS on Intel hosts.
const tssAddr = 0xfffbd000

func (hv *hypervisor) archVMInit(vm *virtualMachine) error {
	if err := setTSSAddr(vm.vmFd, tssAddr); err != nil {
		return fmt.Errorf("setting TSS addr: %w", err)
	}

	return nil
}

func (hv *hypervisor) archVCPUInit(vm *virtualMachine, vcpuFd int) error {
	cpuId, err := getSupportedCpuId(hv.fd)
	if err != nil {
		return fmt.Errorf("getting vCPU ID: %w", err)
	}

	if err := setVCPUID(vcpuFd, cpuId); err != nil {
		return fmt.Errorf("setting vCPU ID: %w", err)
	}

	return nil
}

func (*hypervisor) Architecture() hv.CpuArchitecture {
	return hv.ArchitectureX86_64
}

// SystemRegisters implements hv.VirtualCPU.
func (v *virtualCPU) SystemRegisters() (hv.SystemRegisters, error) {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return hv.SystemRegisters{}, fmt.Errorf("kvm: get special registers: %w", err)
	}

	return hv.SystemRegisters{
		CS:  segmentFromKVM(sregs.Cs),
		DS:  segmentFromKVM(sregs.Ds),
		ES:  segmentFromKVM(sregs.Es),
		FS:  segmentFromKVM(sregs.Fs),
		GS:  segmentFromKVM(sregs.Gs),
		SS:  segmentFromKVM(sregs.Ss),
		GDT: hv.DescriptorTable{Base: sregs.Gdt.Base, Limit: sregs.Gdt.Limit},
		IDT: hv.DescriptorTable{Base: sregs.Idt.Base, Limit: sregs.Idt.Limit},
		CR0: sregs.Cr0,
	}, nil
}

// SetSystemRegisters implements hv.VirtualCPU. Fields KVM tracks that are
// not part of hv.SystemRegisters keep their current values.
func (v *virtualCPU) SetSystemRegisters(regs hv.SystemRegisters) error {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return fmt.Errorf("kvm: get special registers: %w", err)
	}

	sregs.Cs = segmentToKVM(regs.CS)
	sregs.Ds = segmentToKVM(regs.DS)
	sregs.Es = segmentToKVM(regs.ES)
	sregs.Fs = segmentToKVM(regs.FS)
	sregs.Gs = segmentToKVM(regs.GS)
	sregs.Ss = segmentToKVM(regs.SS)

	sregs.Gdt = kvmDTable{Base: regs.GDT.Base, Limit: regs.GDT.Limit}
	sregs.Idt = kvmDTable{Base: regs.IDT.Base, Limit: regs.IDT.Limit}

	sregs.Cr0 = regs.CR0

	if err := setSRegs(v.fd, &sregs); err != nil {
		return fmt.Errorf("kvm: set special registers: %w", err)
	}

	return nil
}

func segmentToKVM(s hv.Segment) kvmSegment {
	return kvmSegment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: uint16(s.Selector),
		Type:     uint8(s.Type),
		Present:  boolToU8(s.Present),
		Dpl:      uint8(s.DPL),
		Db:       boolToU8(s.DB),
		S:        boolToU8(s.S),
		L:        boolToU8(s.L),
		G:        boolToU8(s.G),
		Avl:      boolToU8(s.AVL),
		Unusable: boolToU8(s.Unusable),
	}
}

func segmentFromKVM(s kvmSegment) hv.Segment {
	return hv.Segment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: gdt.Selector(s.Selector),
		Type:     gdt.SegmentType(s.Type & 0xF),
		Present:  s.Present != 0,
		DPL:      gdt.Privilege(s.Dpl & 3),
		DB:       s.Db != 0,
		S:        s.S != 0,
		L:        s.L != 0,
		G:        s.G != 0,
		AVL:      s.Avl != 0,
		Unusable: s.Unusable != 0,
	}
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
