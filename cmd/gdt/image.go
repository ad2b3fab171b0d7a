package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/gdt/internal/boot"
	"github.com/tinyrange/gdt/internal/gdt"
)

// buildImage writes the table and its GDTR operand into cfg.Image.Output,
// starting from a copy of cfg.Image.Input when one is given.
func buildImage(cfg Config, progress bool) (*gdt.Table, gdt.Pointer, error) {
	ic := cfg.Image
	if ic.Output == "" {
		return nil, gdt.Pointer{}, fmt.Errorf("no output image")
	}

	out, err := os.OpenFile(ic.Output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, gdt.Pointer{}, fmt.Errorf("create image: %w", err)
	}
	defer out.Close()

	if ic.Input != "" {
		if err := copyBaseImage(out, ic.Input, progress); err != nil {
			return nil, gdt.Pointer{}, err
		}
	}

	if ic.Size > 0 {
		fi, err := out.Stat()
		if err != nil {
			return nil, gdt.Pointer{}, fmt.Errorf("stat image: %w", err)
		}
		if fi.Size() < ic.Size {
			if err := out.Truncate(ic.Size); err != nil {
				return nil, gdt.Pointer{}, fmt.Errorf("extend image: %w", err)
			}
		}
	}

	table, err := gdt.New(cfg.TableBase)
	if err != nil {
		return nil, gdt.Pointer{}, err
	}

	p, err := gdt.Install(table, &boot.ImageLoader{
		W:             out,
		TableOffset:   ic.TableOffset,
		PointerOffset: ic.PointerOffset,
	})
	if err != nil {
		return nil, gdt.Pointer{}, err
	}

	if err := out.Close(); err != nil {
		return nil, gdt.Pointer{}, fmt.Errorf("close image: %w", err)
	}

	slog.Debug("wrote image", "path", ic.Output, "tableOffset", ic.TableOffset, "pointerOffset", ic.PointerOffset)

	return table, p, nil
}

func copyBaseImage(out io.Writer, path string, progress bool) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open base image: %w", err)
	}
	defer in.Close()

	writer := out
	if progress {
		fi, err := in.Stat()
		if err != nil {
			return fmt.Errorf("stat base image: %w", err)
		}

		bar := progressbar.DefaultBytes(fi.Size(), fmt.Sprintf("copy %s", path))
		defer bar.Close()
		writer = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(writer, in); err != nil {
		return fmt.Errorf("copy base image: %w", err)
	}

	return nil
}
