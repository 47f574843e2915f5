package loader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lodepine/xtload/internal/elf32"
	"github.com/lodepine/xtload/internal/xtensa"
)

var (
	errRelocationFailed = errors.New("relocation failed")
	errUndefinedSymbol  = errors.New("relocation references an undefined symbol")
)

func (ctx *Context) relocateSections() error {
	slog.Info("relocating sections")

	failed := false
	for _, s := range ctx.sections {
		if err := ctx.relocateSection(s); err != nil {
			slog.Error("section relocation failed", "index", s.index, "error", err)
			failed = true
		}
	}

	if failed {
		return errRelocationFailed
	}

	return nil
}

// relocateSection applies every entry of the relocation section linked to s.
// Failing entries are logged and counted rather than aborting the walk, so a
// bad object reports all of its defects in one load attempt.
func (ctx *Context) relocateSection(s *section) error {
	if s.relSecIdx == 0 {
		slog.Debug("section has no relocations", "index", s.index)
		return nil
	}

	header, err := elf32.ReadSectionHeader(ctx.src, ctx.shoff, s.relSecIdx)
	if err != nil {
		return err
	}

	name, err := ctx.sectionName(header)
	if err != nil {
		return err
	}

	entries := int(header.Size / elf32.RelaSize)
	slog.Debug("relocating section", "section", name, "entries", entries)

	bad := 0
	for i := 0; i < entries; i++ {
		rela, err := elf32.ReadRela(ctx.src, header.Offset, i)
		if err != nil {
			return err
		}

		sym, symName, err := ctx.readSymbol(rela.SymbolIndex())
		if err != nil {
			return err
		}

		typ := xtensa.R_XTENSA(rela.Type())

		if xtensa.IsNoop(typ) {
			slog.Debug("relocation is a no-op",
				"offset", fmt.Sprintf("0x%08x", rela.Off),
				"type", typ.String(),
				"symbol", symName,
			)
			continue
		}

		relAddr := s.base + rela.Off
		symAddr, resolved := ctx.resolve(sym, symName)

		if !resolved {
			if sym.Value == 0 {
				slog.Error("undefined symbol",
					"offset", fmt.Sprintf("0x%08x", rela.Off),
					"type", typ.String(),
					"symbol", symName,
					"error", errUndefinedSymbol,
				)
				bad++
				continue
			}

			// A symbol we cannot place but which carries a value is taken as
			// absolute.
			symAddr = sym.Value
		}

		symAddr += uint32(rela.Addend)

		before, after, err := xtensa.Patch(ctx.cfg.Mem, typ, relAddr, symAddr)
		if err != nil {
			slog.Error("relocation failed",
				"offset", fmt.Sprintf("0x%08x", rela.Off),
				"symbolIndex", rela.SymbolIndex(),
				"type", typ.String(),
				"relAddr", fmt.Sprintf("0x%08x", relAddr),
				"symAddr", fmt.Sprintf("0x%08x", symAddr),
				"from", fmt.Sprintf("0x%08x", before),
				"to", fmt.Sprintf("0x%08x", after),
				"symbol", symName,
				"addend", rela.Addend,
				"error", err,
			)
			bad++
			continue
		}

		slog.Debug("relocated",
			"offset", fmt.Sprintf("0x%08x", rela.Off),
			"symbolIndex", rela.SymbolIndex(),
			"type", typ.String(),
			"relAddr", fmt.Sprintf("0x%08x", relAddr),
			"symAddr", fmt.Sprintf("0x%08x", symAddr),
			"from", fmt.Sprintf("0x%08x", before),
			"to", fmt.Sprintf("0x%08x", after),
			"symbol", symName,
			"addend", rela.Addend,
		)
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d entries in %s failed: %w", bad, entries, name, errRelocationFailed)
	}

	return nil
}
