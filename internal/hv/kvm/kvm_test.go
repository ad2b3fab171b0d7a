//go:build linux

package kvm

import (
	"testing"

	"github.com/tinyrange/gdt/internal/hv"
)

func checkKVMAvailable(t testing.TB) {
	t.Helper()

	hv, err := Open()
	if err != nil {
		t.Skipf("KVM not available: %v", err)
	}
	if err := hv.Close(); err != nil {
		t.Fatalf("Close KVM hypervisor: %v", err)
	}
}

func TestOpen(t *testing.T) {
	checkKVMAvailable(t)

	hv, err := Open()
	if err != nil {
		t.Fatalf("Open KVM hypervisor: %v", err)
	}

	if err := hv.Close(); err != nil {
		t.Fatalf("Close KVM hypervisor: %v", err)
	}
}

func TestNewVirtualMachine(t *testing.T) {
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

	if vm.MemorySize() != 0x200000 {
		t.Errorf("MemorySize = 0x%x", vm.MemorySize())
	}

	err = vm.VirtualCPUCall(0, func(vcpu hv.VirtualCPU) error {
		if vcpu.ID() != 0 {
			t.Errorf("vCPU has wrong ID: got %d", vcpu.ID())
		}
		return nil
	})
	if err != nil {
		t.Errorf("VirtualCPUCall(0) failed: %v", err)
	}

	if err := vm.Close(); err != nil {
		t.Fatalf("Close KVM virtual machine: %v", err)
	}
}

func TestNewVirtualMachineRejectsConfig(t *testing.T) {
	checkKVMAvailable(t)

	kvm, err := Open()
	if err != nil {
		t.Fatalf("Open KVM hypervisor: %v", err)
	}
	defer kvm.Close()

	for _, cfg := range []hv.SimpleVMConfig{
		{NumCPUs: 2, MemSize: 0x200000},
		{NumCPUs: 1, MemSize: 0},
	} {
		if vm, err := kvm.NewVirtualMachine(cfg); err == nil {
			vm.Close()
			t.Errorf("NewVirtualMachine(%+v) succeeded", cfg)
		}
	}
}
