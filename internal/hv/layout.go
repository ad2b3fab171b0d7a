package hv

import (
	"fmt"
	"sync"
)

// Region is a named range of guest RAM.
type Region struct {
	Name string
	Base uint64
	Size uint64
}

func (r Region) End() uint64 { return r.Base + r.Size }

func (r Region) overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// Layout hands out non-overlapping regions of guest RAM for boot
// structures such as the descriptor table and its pointer.
type Layout struct {
	mu sync.Mutex

	ramBase uint64
	ramSize uint64

	// next is the lowest address Allocate will consider.
	next    uint64
	regions []Region
}

func NewLayout(ramBase, ramSize uint64) *Layout {
	return &Layout{
		ramBase: ramBase,
		ramSize: ramSize,
		next:    ramBase,
	}
}

// Allocate places a region of size bytes at the lowest free address with
// the given alignment.
func (l *Layout) Allocate(name string, size, alignment uint64) (Region, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if size == 0 {
		return Region{}, fmt.Errorf("layout: cannot allocate zero-size region %s", name)
	}
	if alignment == 0 {
		alignment = 8
	}
	if alignment&(alignment-1) != 0 {
		return Region{}, fmt.Errorf("layout: alignment 0x%x is not a power of 2 for %s", alignment, name)
	}

	r := Region{Name: name, Base: alignUp(l.next, alignment), Size: size}
	for {
		conflict := false
		for _, existing := range l.regions {
			if r.overlaps(existing) {
				r.Base = alignUp(existing.End(), alignment)
				conflict = true
			}
		}
		if !conflict {
			break
		}
	}

	if r.End() > l.RAMEnd() {
		return Region{}, fmt.Errorf("layout: no room for %s (0x%x bytes) below 0x%x", name, size, l.RAMEnd())
	}

	l.regions = append(l.regions, r)
	l.next = r.End()

	return r, nil
}

// Reserve registers a region at a fixed address. The region must lie in
// RAM and must not overlap anything already placed.
func (l *Layout) Reserve(name string, base, size uint64) (Region, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if size == 0 {
		return Region{}, fmt.Errorf("layout: cannot reserve zero-size region %s", name)
	}

	r := Region{Name: name, Base: base, Size: size}
	if base < l.ramBase || r.End() > l.RAMEnd() || r.End() < base {
		return Region{}, fmt.Errorf("layout: region %s [0x%x-0x%x) outside RAM [0x%x-0x%x)",
			name, r.Base, r.End(), l.ramBase, l.RAMEnd())
	}
	for _, existing := range l.regions {
		if r.overlaps(existing) {
			return Region{}, fmt.Errorf("layout: region %s [0x%x-0x%x) overlaps %s [0x%x-0x%x)",
				name, r.Base, r.End(), existing.Name, existing.Base, existing.End())
		}
	}

	l.regions = append(l.regions, r)
	return r, nil
}

// Regions returns a copy of all placed regions.
func (l *Layout) Regions() []Region {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Region, len(l.regions))
	copy(result, l.regions)
	return result
}

func (l *Layout) RAMBase() uint64 { return l.ramBase }
func (l *Layout) RAMSize() uint64 { return l.ramSize }
func (l *Layout) RAMEnd() uint64  { return l.ramBase + l.ramSize }

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
