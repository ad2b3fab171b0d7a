package gdt

import (
	"fmt"
	"log/slog"
)

// Loader makes an installed table live: it issues the privileged load of p
// and reloads the segment registers. The table's storage must be readable
// at p.Base by the time the segment registers are reloaded.
type Loader interface {
	Load(t *Table, p Pointer) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(t *Table, p Pointer) error

func (f LoaderFunc) Load(t *Table, p Pointer) error { return f(t, p) }

// Install populates t, computes its pointer and hands both to l. It runs
// once per table; the table is read-only afterwards.
func Install(t *Table, l Loader) (Pointer, error) {
	if t.state == StateInstalled {
		return Pointer{}, ErrInstalled
	}

	if err := t.Populate(); err != nil {
		return Pointer{}, fmt.Errorf("gdt: populate table: %w", err)
	}

	p := BuildPointer(t)
	if p.Entries() != t.Len() {
		return Pointer{}, fmt.Errorf("gdt: pointer covers %d entries, table has %d", p.Entries(), t.Len())
	}

	if err := l.Load(t, p); err != nil {
		return Pointer{}, fmt.Errorf("gdt: load: %w", err)
	}

	t.state = StateInstalled

	slog.Debug("gdt: installed", "base", fmt.Sprintf("0x%08x", p.Base), "limit", p.Limit, "entries", p.Entries())

	return p, nil
}
