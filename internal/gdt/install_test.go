package gdt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingLoader struct {
	calls   int
	pointer Pointer
	raw     []byte
	err     error
}

func (l *recordingLoader) Load(t *Table, p Pointer) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	raw, err := t.MarshalBinary()
	if err != nil {
		return err
	}
	l.pointer = p
	l.raw = raw
	return nil
}

func TestInstall(t *testing.T) {
	tbl, err := New(0x500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loader := &recordingLoader{}
	p, err := Install(tbl, loader)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if loader.calls != 1 {
		t.Fatalf("loader called %d times, want 1", loader.calls)
	}
	if diff := cmp.Diff(Pointer{Limit: 39, Base: 0x500}, p); diff != "" {
		t.Errorf("pointer mismatch (-want +got):\n%s", diff)
	}
	if loader.pointer != p {
		t.Errorf("loader saw pointer %+v, Install returned %+v", loader.pointer, p)
	}
	if len(loader.raw) != int(p.Limit)+1 {
		t.Errorf("loader saw %d bytes, pointer limit covers %d", len(loader.raw), int(p.Limit)+1)
	}
	if tbl.State() != StateInstalled {
		t.Errorf("State = %s, want %s", tbl.State(), StateInstalled)
	}

	if _, err := Install(tbl, loader); !errors.Is(err, ErrInstalled) {
		t.Errorf("second Install error = %v, want %v", err, ErrInstalled)
	}
	if loader.calls != 1 {
		t.Errorf("loader called again on second Install")
	}
}

func TestInstallLoaderError(t *testing.T) {
	tbl, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errLoad := errors.New("lgdt refused")
	loader := &recordingLoader{err: errLoad}

	if _, err := Install(tbl, loader); !errors.Is(err, errLoad) {
		t.Fatalf("Install error = %v, want %v", err, errLoad)
	}
	if tbl.State() != StateUninitialized {
		t.Fatalf("State = %s after failed load, want %s", tbl.State(), StateUninitialized)
	}

	loader.err = nil
	if _, err := Install(tbl, loader); err != nil {
		t.Fatalf("Install retry: %v", err)
	}
	if tbl.State() != StateInstalled {
		t.Errorf("State = %s, want %s", tbl.State(), StateInstalled)
	}
}
