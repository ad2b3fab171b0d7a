package gdt

import (
	"errors"
	"testing"
)

func TestSelectorConstants(t *testing.T) {
	for _, tt := range []struct {
		sel   Selector
		want  uint16
		index int
		rpl   Privilege
	}{
		{KernelCodeSelector, 0x08, KernelCodeIndex, Ring0},
		{KernelDataSelector, 0x10, KernelDataIndex, Ring0},
		{UserCodeSelector, 0x1B, UserCodeIndex, Ring3},
		{UserDataSelector, 0x23, UserDataIndex, Ring3},
	} {
		if uint16(tt.sel) != tt.want {
			t.Errorf("selector = %s, want 0x%04x", tt.sel, tt.want)
		}
		if tt.sel.Index() != tt.index {
			t.Errorf("%s Index = %d, want %d", tt.sel, tt.sel.Index(), tt.index)
		}
		if tt.sel.RPL() != tt.rpl {
			t.Errorf("%s RPL = %s, want %s", tt.sel, tt.sel.RPL(), tt.rpl)
		}
		if tt.sel.LocalTable() {
			t.Errorf("%s refers to the LDT", tt.sel)
		}

		got, err := NewSelector(tt.index, tt.rpl)
		if err != nil {
			t.Fatalf("NewSelector(%d, %s): %v", tt.index, tt.rpl, err)
		}
		if got != tt.sel {
			t.Errorf("NewSelector(%d, %s) = %s, want %s", tt.index, tt.rpl, got, tt.sel)
		}
	}
}

func TestNewSelectorErrors(t *testing.T) {
	if _, err := NewSelector(EntryCount, Ring0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("NewSelector(%d) error = %v, want %v", EntryCount, err, ErrIndexOutOfRange)
	}
	if _, err := NewSelector(1, Privilege(4)); err == nil {
		t.Error("NewSelector accepted rpl 4")
	}
}
