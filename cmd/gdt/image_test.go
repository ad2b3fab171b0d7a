package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/gdt/internal/gdt"
)

func TestBuildImage(t *testing.T) {
	dir := t.TempDir()

	base := bytes.Repeat([]byte{0x90}, 0x200)
	input := filepath.Join(dir, "boot.img")
	if err := os.WriteFile(input, base, 0o644); err != nil {
		t.Fatalf("write base image: %v", err)
	}

	cfg := Config{
		TableBase: 0x7dc0,
		Image: ImageConfig{
			Input:       input,
			Output:      filepath.Join(dir, "out.img"),
			Size:        0x400,
			TableOffset: 0x1c0,
		},
	}
	cfg.normalize()

	table, p, err := buildImage(cfg, false)
	if err != nil {
		t.Fatalf("buildImage: %v", err)
	}
	if table.State() != gdt.StateInstalled {
		t.Errorf("table state = %s", table.State())
	}

	img, err := os.ReadFile(cfg.Image.Output)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if len(img) != 0x400 {
		t.Fatalf("image size = 0x%x, want 0x400", len(img))
	}
	if !bytes.Equal(img[:0x1c0], base[:0x1c0]) {
		t.Error("base image prefix not preserved")
	}

	want, err := table.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(img[0x1c0:0x1e8], want) {
		t.Errorf("table bytes = % x", img[0x1c0:0x1e8])
	}

	operand, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(img[0x1e8:0x1ee], operand) {
		t.Errorf("operand bytes = % x, want % x", img[0x1e8:0x1ee], operand)
	}
	if img[0x1ee] != 0x90 {
		t.Error("bytes after the operand were overwritten")
	}
}

func TestBuildImageNoOutput(t *testing.T) {
	if _, _, err := buildImage(Config{}, false); err == nil {
		t.Fatal("buildImage succeeded without an output path")
	}
}
