package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tinyrange/gdt/internal/gdt"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatYAML = "yaml"

	DefaultMemoryMB = 2
)

// Config is the optional -config file. Flags given on the command line
// override the values read from it.
type Config struct {
	TableBase   uint32 `yaml:"tableBase,omitempty"`
	PointerBase uint32 `yaml:"pointerBase,omitempty"`
	MemoryBase  uint64 `yaml:"memoryBase,omitempty"`
	MemoryMB    uint64 `yaml:"memoryMB,omitempty"`
	Format      string `yaml:"format,omitempty"`

	Image ImageConfig `yaml:"image,omitempty"`
}

type ImageConfig struct {
	Input         string `yaml:"input,omitempty"`
	Output        string `yaml:"output,omitempty"`
	Size          int64  `yaml:"size,omitempty"`
	TableOffset   int64  `yaml:"tableOffset,omitempty"`
	PointerOffset int64  `yaml:"pointerOffset,omitempty"`
}

func (c *Config) normalize() {
	if c.MemoryMB == 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	// The operand goes right after the table unless placed explicitly.
	if c.Image.PointerOffset == 0 {
		c.Image.PointerOffset = c.Image.TableOffset + gdt.EntryCount*gdt.DescriptorSize
	}
}

func (c *Config) validate() error {
	switch c.Format {
	case FormatText, FormatYAML:
	default:
		return fmt.Errorf("unknown format %q (want %s or %s)", c.Format, FormatText, FormatYAML)
	}
	if c.MemoryMB > 4096 {
		return fmt.Errorf("memoryMB %d exceeds 4096", c.MemoryMB)
	}
	return nil
}

func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	config      string
	verbose     bool
	format      string
	tableBase   uint64
	pointerBase uint64
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "YAML configuration file")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logging")
	fs.StringVar(&f.format, "format", "", "output format: text or yaml")
	fs.Uint64Var(&f.tableBase, "table-base", 0, "linear address of the descriptor table")
	fs.Uint64Var(&f.pointerBase, "pointer-base", 0, "guest address of the GDTR operand (kvm)")
}

// resolve loads the config file and applies every flag that was set
// explicitly on top of it.
func (f *commonFlags) resolve(fs *flag.FlagSet, extra func(cfg *Config, name string)) (Config, error) {
	cfg, err := LoadConfig(f.config)
	if err != nil {
		return Config{}, err
	}

	var overflow error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "format":
			cfg.Format = f.format
		case "table-base":
			if f.tableBase > 0xFFFFFFFF {
				overflow = fmt.Errorf("-table-base 0x%x does not fit in 32 bits", f.tableBase)
			}
			cfg.TableBase = uint32(f.tableBase)
		case "pointer-base":
			if f.pointerBase > 0xFFFFFFFF {
				overflow = fmt.Errorf("-pointer-base 0x%x does not fit in 32 bits", f.pointerBase)
			}
			cfg.PointerBase = uint32(f.pointerBase)
		default:
			if extra != nil {
				extra(&cfg, fl.Name)
			}
		}
	})
	if overflow != nil {
		return Config{}, overflow
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
