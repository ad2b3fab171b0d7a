package factory

import (
	"errors"
	"fmt"

	"github.com/tinyrange/gdt/internal/hv"
)

// OpenWithArchitecture opens the host hypervisor and checks it runs guests
// of the requested architecture. ArchitectureInvalid accepts the host
// default.
func OpenWithArchitecture(arch hv.CpuArchitecture) (hv.Hypervisor, error) {
	h, err := Open()
	if err != nil {
		return nil, err
	}

	if arch != hv.ArchitectureInvalid && h.Architecture() != arch {
		err := fmt.Errorf("host hypervisor runs %s guests, not %s: %w", h.Architecture(), arch, hv.ErrHypervisorUnsupported)
		return nil, errors.Join(err, h.Close())
	}

	return h, nil
}
