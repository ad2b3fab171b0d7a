package main

import (
	"fmt"

	"github.com/tinyrange/gdt/internal/boot"
	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
	"github.com/tinyrange/gdt/internal/hv/factory"
)

// bootKVM boots a single vCPU into flat protected mode and returns the
// installed table together with the vCPU's resulting registers.
func bootKVM(cfg Config) (dump, error) {
	h, err := factory.OpenWithArchitecture(hv.ArchitectureX86_64)
	if err != nil {
		return dump{}, err
	}
	defer h.Close()

	vm, err := h.NewVirtualMachine(hv.SimpleVMConfig{
		NumCPUs: 1,
		MemSize: cfg.MemoryMB << 20,
		MemBase: cfg.MemoryBase,
	})
	if err != nil {
		return dump{}, fmt.Errorf("create virtual machine: %w", err)
	}
	defer vm.Close()

	placement, err := boot.Place(hv.NewLayout(vm.MemoryBase(), vm.MemorySize()),
		uint64(cfg.TableBase), uint64(cfg.PointerBase))
	if err != nil {
		return dump{}, err
	}

	table, err := placement.NewTable()
	if err != nil {
		return dump{}, err
	}

	loader := &boot.GuestLoader{
		VM:           vm,
		WritePointer: true,
		PointerAddr:  placement.Pointer.Base,
	}

	p, err := gdt.Install(table, loader)
	if err != nil {
		return dump{}, err
	}

	if err := loader.Verify(table, p); err != nil {
		return dump{}, err
	}

	d, err := newDump(table, p)
	if err != nil {
		return dump{}, err
	}

	err = vm.VirtualCPUCall(0, func(vcpu hv.VirtualCPU) error {
		regs, err := vcpu.SystemRegisters()
		if err != nil {
			return err
		}
		d.addRegisters(regs)
		return nil
	})
	if err != nil {
		return dump{}, fmt.Errorf("read vCPU registers: %w", err)
	}

	return d, nil
}
