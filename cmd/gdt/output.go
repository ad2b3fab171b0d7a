package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/gdt/internal/gdt"
	"github.com/tinyrange/gdt/internal/hv"
	"gopkg.in/yaml.v3"
)

type dumpPointer struct {
	Base    string `yaml:"base"`
	Limit   string `yaml:"limit"`
	Entries int    `yaml:"entries"`
	Operand string `yaml:"operand"`
}

type dumpEntry struct {
	Index    int    `yaml:"index"`
	Selector string `yaml:"selector"`
	Raw      string `yaml:"raw"`
	Base     string `yaml:"base,omitempty"`
	Limit    string `yaml:"limit,omitempty"`
	DPL      *int   `yaml:"dpl,omitempty"`
	Type     string `yaml:"type"`
	Flags    string `yaml:"flags"`
}

type dumpRegisters struct {
	GDTR     string            `yaml:"gdtr"`
	CR0      string            `yaml:"cr0"`
	Segments map[string]string `yaml:"segments"`
}

type dump struct {
	Pointer   dumpPointer    `yaml:"pointer"`
	Entries   []dumpEntry    `yaml:"entries"`
	Registers *dumpRegisters `yaml:"registers,omitempty"`
}

func newDump(t *gdt.Table, p gdt.Pointer) (dump, error) {
	operand, err := p.MarshalBinary()
	if err != nil {
		return dump{}, err
	}

	d := dump{
		Pointer: dumpPointer{
			Base:    fmt.Sprintf("0x%08x", p.Base),
			Limit:   fmt.Sprintf("0x%04x", p.Limit),
			Entries: p.Entries(),
			Operand: fmt.Sprintf("% x", operand),
		},
	}

	for i, desc := range t.Entries() {
		e := dumpEntry{
			Index: i,
			Raw:   fmt.Sprintf("0x%016x", uint64(desc)),
			Type:  "null",
			Flags: desc.Flags().String(),
		}
		if desc.IsNull() {
			e.Selector = gdt.Selector(0).String()
			d.Entries = append(d.Entries, e)
			continue
		}

		sel, err := gdt.NewSelector(i, desc.Privilege())
		if err != nil {
			return dump{}, err
		}
		dpl := int(desc.Privilege())

		e.Selector = sel.String()
		e.Base = fmt.Sprintf("0x%08x", desc.Base())
		e.Limit = fmt.Sprintf("0x%05x", desc.Limit())
		e.DPL = &dpl
		e.Type = desc.Type().String()
		d.Entries = append(d.Entries, e)
	}

	return d, nil
}

func (d *dump) addRegisters(regs hv.SystemRegisters) {
	d.Registers = &dumpRegisters{
		GDTR: fmt.Sprintf("base=0x%08x limit=0x%04x", regs.GDT.Base, regs.GDT.Limit),
		CR0:  fmt.Sprintf("0x%08x", regs.CR0),
		Segments: map[string]string{
			"cs": regs.CS.String(),
			"ds": regs.DS.String(),
			"es": regs.ES.String(),
			"fs": regs.FS.String(),
			"gs": regs.GS.String(),
			"ss": regs.SS.String(),
		},
	}
}

var (
	headerStyle = ansi.NewStyle().Bold()
	nullStyle   = ansi.NewStyle().Faint()
	kernelStyle = ansi.NewStyle().ForegroundColor(ansi.Green)
	userStyle   = ansi.NewStyle().ForegroundColor(ansi.Cyan)
)

func writeDump(w io.Writer, d dump, format string, styled bool) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatText:
		return writeText(w, d, styled)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeText(w io.Writer, d dump, styled bool) error {
	style := func(s ansi.Style, line string) string {
		if !styled {
			return line
		}
		return s.Styled(line)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", style(headerStyle, fmt.Sprintf("GDT base=%s limit=%s (%d entries) operand=[%s]",
		d.Pointer.Base, d.Pointer.Limit, d.Pointer.Entries, d.Pointer.Operand)))
	fmt.Fprintf(&b, "%s\n", style(headerStyle, fmt.Sprintf("%-4s %-7s %-19s %-11s %-8s %-4s %s",
		"IDX", "SEL", "RAW", "BASE", "LIMIT", "DPL", "TYPE")))

	for _, e := range d.Entries {
		dpl := "-"
		s := nullStyle
		if e.DPL != nil {
			dpl = fmt.Sprintf("%d", *e.DPL)
			s = kernelStyle
			if *e.DPL == int(gdt.Ring3) {
				s = userStyle
			}
		}
		line := fmt.Sprintf("%-4d %-7s %-19s %-11s %-8s %-4s %s",
			e.Index, e.Selector, e.Raw, orDash(e.Base), orDash(e.Limit), dpl, e.Type)
		fmt.Fprintf(&b, "%s\n", style(s, line))
	}

	if r := d.Registers; r != nil {
		fmt.Fprintf(&b, "\n%s\n", style(headerStyle, "vCPU 0"))
		fmt.Fprintf(&b, "  GDTR %s\n", r.GDTR)
		fmt.Fprintf(&b, "  CR0  %s\n", r.CR0)
		for _, name := range []string{"cs", "ds", "es", "fs", "gs", "ss"} {
			fmt.Fprintf(&b, "  %-4s %s\n", strings.ToUpper(name), r.Segments[name])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
