package hv

import (
	"errors"
	"fmt"
	"io"

	"github.com/tinyrange/gdt/internal/gdt"
)

var (
	ErrHypervisorUnsupported = errors.New("hypervisor unsupported on this platform")
	ErrGuestAddress          = errors.New("guest physical address out of range")
)

type CpuArchitecture string

const (
	ArchitectureInvalid CpuArchitecture = "invalid"
	ArchitectureX86_64  CpuArchitecture = "x86_64"
)

// CR0 bits
const (
	CR0ProtectionEnable = 1 << 0
	CR0MonitorCoproc    = 1 << 1
	CR0ExtensionType    = 1 << 4
	CR0NumericError     = 1 << 5
	CR0Paging           = 1 << 31
)

// Segment is the expanded form of a segment register: the visible selector
// plus the descriptor fields the processor caches when the register is
// loaded.
type Segment struct {
	Base     uint64
	Limit    uint32 // in bytes, granularity already applied
	Selector gdt.Selector
	Type     gdt.SegmentType
	Present  bool
	DPL      gdt.Privilege
	DB       bool
	S        bool
	L        bool
	G        bool
	AVL      bool
	Unusable bool
}

func (s Segment) String() string {
	if s.Unusable {
		return fmt.Sprintf("sel=%s unusable", s.Selector)
	}
	return fmt.Sprintf("sel=%s base=0x%08x limit=0x%08x type=%s dpl=%d db=%t g=%t",
		s.Selector, s.Base, s.Limit, s.Type, s.DPL, s.DB, s.G)
}

// DescriptorTable is the GDTR/IDTR register contents.
type DescriptorTable struct {
	Base  uint64
	Limit uint16
}

// SystemRegisters is the subset of x86 system state needed to enter
// protected mode.
type SystemRegisters struct {
	CS, DS, ES, FS, GS, SS Segment

	GDT DescriptorTable
	IDT DescriptorTable

	CR0 uint64
}

type VirtualCPU interface {
	ID() int

	SystemRegisters() (SystemRegisters, error)
	SetSystemRegisters(regs SystemRegisters) error
}

// MemoryRegion is guest memory addressed by guest physical address.
type MemoryRegion interface {
	io.ReaderAt
	io.WriterAt

	Size() uint64
}

type VirtualMachine interface {
	io.ReaderAt
	io.WriterAt

	io.Closer

	Hypervisor() Hypervisor

	MemorySize() uint64
	MemoryBase() uint64

	// VirtualCPUCall runs f on the thread that owns vCPU id.
	VirtualCPUCall(id int, f func(vcpu VirtualCPU) error) error
}

type VMConfig interface {
	CPUCount() int
	MemorySize() uint64
	MemoryBase() uint64
}

type SimpleVMConfig struct {
	NumCPUs int
	MemSize uint64
	MemBase uint64
}

func (c SimpleVMConfig) CPUCount() int      { return c.NumCPUs }
func (c SimpleVMConfig) MemorySize() uint64 { return c.MemSize }
func (c SimpleVMConfig) MemoryBase() uint64 { return c.MemBase }

var (
	_ VMConfig = SimpleVMConfig{}
)

type Hypervisor interface {
	io.Closer

	Architecture() CpuArchitecture

	NewVirtualMachine(config VMConfig) (VirtualMachine, error)
}
