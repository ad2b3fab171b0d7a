//go:build linux && amd64

package factory

import (
	"github.com/tinyrange/gdt/internal/hv"
	"github.com/tinyrange/gdt/internal/hv/kvm"
)

func Open() (hv.Hypervisor, error) {
	return kvm.Open()
}
