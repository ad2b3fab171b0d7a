package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/gdt/internal/gdt"
	"golang.org/x/term"
)

func usage() {
	fmt.Fprintf(os.Stderr, `gdt - build and install the flat protected-mode descriptor table

USAGE:
  gdt <command> [flags]

COMMANDS:
  dump    Encode the table and print every descriptor and the GDTR operand
  image   Write the table and GDTR operand into a raw boot image
  kvm     Boot a KVM vCPU into protected mode on the table and show its registers

COMMON FLAGS:
  -config FILE        YAML configuration (tableBase, pointerBase, memoryBase, memoryMB, format, image)
  -format text|yaml   Output format (default: text)
  -table-base ADDR    Linear address of the table (default: 0)
  -pointer-base ADDR  Guest address of the GDTR operand, kvm only (default: after the table)
  -v                  Enable debug logging

IMAGE FLAGS:
  -in FILE            Base image to copy before patching
  -out FILE           Output image (required)
  -size N             Extend the image to at least N bytes
  -table-offset N     File offset of the table (default: 0)
  -pointer-offset N   File offset of the GDTR operand (default: right after the table)

KVM FLAGS:
  -memory-base ADDR   Guest physical address of RAM (default: 0)
  -memory-mb N        Guest RAM in MiB (default: %d)

EXAMPLES:
  gdt dump
  gdt dump -table-base 0x800 -format yaml
  gdt image -in boot.img -out boot-gdt.img -table-offset 0x1c0 -table-base 0x7dc0
  gdt kvm -v
`, DefaultMemoryMB)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func run(args []string) error {
	if len(args) < 1 {
		usage()
		return errors.New("missing command")
	}

	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet("gdt "+cmd, flag.ContinueOnError)
	fs.Usage = usage

	var common commonFlags
	common.register(fs)

	var extra func(cfg *Config, name string)

	switch cmd {
	case "dump":
	case "image":
		var (
			in            = fs.String("in", "", "base image to copy before patching")
			out           = fs.String("out", "", "output image")
			size          = fs.Int64("size", 0, "minimum image size in bytes")
			tableOffset   = fs.Int64("table-offset", 0, "file offset of the table")
			pointerOffset = fs.Int64("pointer-offset", 0, "file offset of the GDTR operand")
		)
		extra = func(cfg *Config, name string) {
			switch name {
			case "in":
				cfg.Image.Input = *in
			case "out":
				cfg.Image.Output = *out
			case "size":
				cfg.Image.Size = *size
			case "table-offset":
				cfg.Image.TableOffset = *tableOffset
			case "pointer-offset":
				cfg.Image.PointerOffset = *pointerOffset
			}
		}
	case "kvm":
		var (
			memoryBase = fs.Uint64("memory-base", 0, "guest physical address of RAM")
			memoryMB   = fs.Uint64("memory-mb", 0, "guest RAM in MiB")
		)
		extra = func(cfg *Config, name string) {
			switch name {
			case "memory-base":
				cfg.MemoryBase = *memoryBase
			case "memory-mb":
				cfg.MemoryMB = *memoryMB
			}
		}
	case "help", "-h", "-help", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	setupLogging(common.verbose)

	cfg, err := common.resolve(fs, extra)
	if err != nil {
		return err
	}

	var d dump
	switch cmd {
	case "dump":
		table, err := gdt.Build(cfg.TableBase)
		if err != nil {
			return err
		}
		d, err = newDump(table, gdt.BuildPointer(table))
		if err != nil {
			return err
		}
	case "image":
		table, p, err := buildImage(cfg, isTerminal(os.Stderr))
		if err != nil {
			return err
		}
		d, err = newDump(table, p)
		if err != nil {
			return err
		}
	case "kvm":
		d, err = bootKVM(cfg)
		if err != nil {
			return err
		}
	}

	return writeDump(os.Stdout, d, cfg.Format, cfg.Format == FormatText && isTerminal(os.Stdout))
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gdt: %v\n", err)
		os.Exit(1)
	}
}
