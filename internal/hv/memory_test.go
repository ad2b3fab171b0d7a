package hv

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemoryReadWrite(t *testing.T) {
	mem := NewMemory(0x100000, 0x1000)

	if mem.Size() != 0x1000 || mem.Base() != 0x100000 {
		t.Fatalf("Memory = base 0x%x size 0x%x", mem.Base(), mem.Size())
	}

	data := []byte{1, 2, 3, 4}
	if n, err := mem.WriteAt(data, 0x100ffc); err != nil || n != len(data) {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}

	got := make([]byte, len(data))
	if n, err := mem.ReadAt(got, 0x100ffc); err != nil || n != len(got) {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadAt = % x, want % x", got, data)
	}
}

func TestMemoryBounds(t *testing.T) {
	mem := NewMemory(0x100000, 0x1000)

	for _, tt := range []struct {
		name string
		off  int64
		n    int
	}{
		{"below base", 0xffffc, 4},
		{"straddles end", 0x100ffe, 4},
		{"past end", 0x101000, 1},
		{"negative", -1, 1},
	} {
		if _, err := mem.WriteAt(make([]byte, tt.n), tt.off); !errors.Is(err, ErrGuestAddress) {
			t.Errorf("%s: WriteAt error = %v, want %v", tt.name, err, ErrGuestAddress)
		}
		if _, err := mem.ReadAt(make([]byte, tt.n), tt.off); !errors.Is(err, ErrGuestAddress) {
			t.Errorf("%s: ReadAt error = %v, want %v", tt.name, err, ErrGuestAddress)
		}
	}
}

func TestWrapMemory(t *testing.T) {
	buf := make([]byte, 16)
	mem := WrapMemory(0x2000, buf)

	if _, err := mem.WriteAt([]byte{0xAA}, 0x2003); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if buf[3] != 0xAA {
		t.Fatalf("host buffer not updated: % x", buf)
	}
}
