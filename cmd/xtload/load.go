package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lodepine/xtload/internal/elf32"
	"github.com/lodepine/xtload/internal/loader"
	"github.com/lodepine/xtload/internal/mem"
)

func newLoadCommand(opts *rootOptions) *cobra.Command {
	entry := ""
	symbolsPath := ""

	cmd := &cobra.Command{
		Use:   "load <object>",
		Short: "Load, relocate and resolve an Xtensa ELF32 relocatable object",
		Long: `Load performs a dry run of the full loading pipeline: it parses the object,
loads every allocatable section into an arena, applies all Xtensa relocations
against the configured exports, and resolves the entry symbol. Running the
entry requires a dispatcher (an emulator or on-target agent) and is not part
of this command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("could not open object file: %w", err)
			}
			defer f.Close()

			env, err := buildEnv(opts.config, symbolsPath)
			if err != nil {
				return err
			}

			arena := mem.NewArena()
			config := loader.Config{
				Exec: arena.ExecPool(),
				Data: arena.DataPool(),
				Mem:  arena,
			}

			ctx, err := loader.InitLoadAndRelocate(&elf32.FileSource{R: f}, env, config)
			if err != nil {
				return fmt.Errorf("load failed: %w", err)
			}
			defer ctx.Free()

			name := entry
			if name == "" {
				name = opts.config.Entry
			}

			if err := ctx.SetEntry(name); err != nil {
				return fmt.Errorf("entry lookup failed: %w", err)
			}

			color.Green("loaded %s: entry %s at 0x%08x (.text at 0x%08x)",
				args[0], name, ctx.EntryAddr(), ctx.TextAddr())

			return nil
		},
	}

	cmd.Flags().StringVarP(&entry, "entry", "e", "", "Entry symbol name (defaults to the configured entry)")
	cmd.Flags().StringVarP(&symbolsPath, "symbols", "s", "", "YAML file with additional exported symbols")

	return cmd
}

type symbolFile struct {
	Exports map[string]string `yaml:"exports"`
}

// buildEnv merges the exports from the config file and an optional symbol
// file into a deterministic, name-sorted environment.
func buildEnv(config *config, symbolsPath string) (*loader.Env, error) {
	merged := make(map[string]uint32, len(config.Exports))
	for name, addr := range config.Exports {
		merged[name] = uint32(addr)
	}

	if symbolsPath != "" {
		data, err := os.ReadFile(symbolsPath)
		if err != nil {
			return nil, fmt.Errorf("could not read symbol file: %w", err)
		}

		symbols := &symbolFile{}
		if err := yaml.Unmarshal(data, symbols); err != nil {
			return nil, fmt.Errorf("could not parse symbol file: %w", err)
		}

		for name, value := range symbols.Exports {
			addr, err := parseAddress(value)
			if err != nil {
				return nil, fmt.Errorf("symbol %s: %w", name, err)
			}

			merged[name] = uint32(addr)
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	exports := make([]loader.Export, 0, len(names))
	for _, name := range names {
		exports = append(exports, loader.Export{Name: name, Addr: merged[name]})
	}

	return &loader.Env{Exported: exports}, nil
}
