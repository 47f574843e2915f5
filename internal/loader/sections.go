package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lodepine/xtload/internal/elf32"
	"github.com/lodepine/xtload/internal/iometa"
	"github.com/lodepine/xtload/internal/unalign"
)

// section is the runtime record of one loaded allocatable section. base is
// where its bytes live and is the address relocation arithmetic is performed
// against.
type section struct {
	// Index of the section as it appears in the ELF section header table
	index int

	base uint32
	size uint32
	exec bool

	// Index of the SHT_RELA section targeting this one; zero when the
	// section has no relocations
	relSecIdx int
}

const (
	sectionText   = ".text"
	sectionSymtab = ".symtab"
	sectionStrtab = ".strtab"
)

var (
	errBadRelocationLink = errors.New("relocation section links to a forward or invalid section index")
	errMissingTables     = errors.New("missing .symtab or .strtab section")
)

// loadSections walks the section header table once, allocating and copying
// allocatable sections, recording relocation linkage, and noting the symbol
// and string table offsets.
func (ctx *Context) loadSections() error {
	slog.Info("scanning sections", "count", ctx.shnum)

	for n := 1; n < ctx.shnum; n++ {
		header, err := elf32.ReadSectionHeader(ctx.src, ctx.shoff, n)
		if err != nil {
			return err
		}

		name, err := ctx.sectionName(header)
		if err != nil {
			return err
		}

		switch {
		case elf.SectionFlag(header.Flags)&elf.SHF_ALLOC != 0:
			if header.Size == 0 {
				slog.Debug("section has no data", "index", n, "section", name)
				continue
			}

			if err := ctx.loadSection(n, header, name); err != nil {
				return err
			}

		case elf.SectionType(header.Type) == elf.SHT_RELA:
			// A linker-output object only ever relocates sections that
			// precede the relocation section itself.
			if int(header.Info) >= n {
				return fmt.Errorf("section %d (%s) targets section %d: %w", n, name, header.Info, errBadRelocationLink)
			}

			target, ok := ctx.byIndex[int(header.Info)]
			if !ok {
				slog.Debug("ignoring relocations for unloaded section",
					"index", n,
					"section", name,
					"target", header.Info,
				)
				continue
			}

			target.relSecIdx = n
			slog.Debug("recorded relocation section",
				"index", n,
				"section", name,
				"target", header.Info,
			)

		default:
			slog.Debug("section not loaded", "index", n, "section", name)

			switch name {
			case sectionSymtab:
				ctx.symtabOff = header.Offset
				ctx.symtabCount = int(header.Size / elf32.SymbolSize)
			case sectionStrtab:
				// Some toolchains emit more than one section named .strtab;
				// the last one seen wins
				ctx.strtabOff = header.Offset
			}
		}
	}

	if ctx.symtabOff == 0 || ctx.strtabOff == 0 {
		return errMissingTables
	}

	return nil
}

func (ctx *Context) loadSection(n int, header *elf32.SectionHeader, name string) error {
	pool := ctx.cfg.Data
	exec := elf.SectionFlag(header.Flags)&elf.SHF_EXECINSTR != 0
	if exec {
		pool = ctx.cfg.Exec
	}

	base, err := pool.Alloc(header.Size)
	if err != nil {
		return fmt.Errorf("failed to allocate %d bytes for section %s: %w", header.Size, name, err)
	}

	s := &section{index: n, base: base, size: header.Size, exec: exec}
	ctx.sections = append(ctx.sections, s)
	ctx.byIndex[n] = s

	w := &unalign.Writer{Mem: ctx.cfg.Mem, Addr: base}

	if elf.SectionType(header.Type) == elf.SHT_NOBITS {
		if err := iometa.WriteZeros(w, int(header.Size)); err != nil {
			return fmt.Errorf("failed to zero section %s: %w", name, err)
		}
	} else {
		buf := make([]byte, header.Size)
		if err := ctx.src.ReadAt(int64(header.Offset), buf); err != nil {
			return fmt.Errorf("failed to read section %s: %w", name, err)
		}

		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to copy section %s into place: %w", name, err)
		}
	}

	if name == sectionText {
		ctx.text = base
	}

	slog.Info("loaded section",
		"index", n,
		"section", name,
		"addr", fmt.Sprintf("0x%08x", base),
		"size", header.Size,
		"exec", exec,
	)

	return nil
}

func (ctx *Context) sectionName(header *elf32.SectionHeader) (string, error) {
	if header.Name == 0 {
		return "", nil
	}

	name, err := elf32.ReadString(ctx.src, int64(ctx.shstrtabOff)+int64(header.Name))
	if err != nil {
		return "", fmt.Errorf("failed to read section name: %w", err)
	}

	return name, nil
}
