//go:build linux && !amd64

package kvm

import (
	"fmt"

	"github.com/tinyrange/gdt/internal/hv"
)

func (v *virtualCPU) SystemRegisters() (hv.SystemRegisters, error) {
	return hv.SystemRegisters{}, fmt.Errorf("kvm: segment registers: %w", hv.ErrHypervisorUnsupported)
}

func (v *virtualCPU) SetSystemRegisters(regs hv.SystemRegisters) error {
	return fmt.Errorf("kvm: segment registers: %w", hv.ErrHypervisorUnsupported)
}

func (h *hypervisor) archVMInit(vm *virtualMachine) error {
	return fmt.Errorf("kvm: %w", hv.ErrHypervisorUnsupported)
}

func (h *hypervisor) archVCPUInit(vm *virtualMachine, vcpuFd int) error {
	return nil
}

func (*hypervisor) Architecture() hv.CpuArchitecture {
	return hv.ArchitectureInvalid
}
