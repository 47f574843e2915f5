package loader

import (
	"fmt"

	"github.com/lodepine/xtload/internal/elf32"
)

// readSymbol reads the index-th symbol table entry together with its name.
// Symbols without a string table name carry the name of the section they are
// defined in.
func (ctx *Context) readSymbol(index int) (*elf32.Symbol, string, error) {
	sym, err := elf32.ReadSymbol(ctx.src, ctx.symtabOff, index)
	if err != nil {
		return nil, "", err
	}

	if sym.Name != 0 {
		name, err := elf32.ReadString(ctx.src, int64(ctx.strtabOff)+int64(sym.Name))
		if err != nil {
			return nil, "", fmt.Errorf("failed to read name of symbol %d: %w", index, err)
		}

		return sym, name, nil
	}

	header, err := elf32.ReadSectionHeader(ctx.src, ctx.shoff, int(sym.Shndx))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read defining section of symbol %d: %w", index, err)
	}

	name, err := ctx.sectionName(header)
	if err != nil {
		return nil, "", err
	}

	return sym, name, nil
}

// resolve returns the runtime address of a symbol, before addend application.
// Host exports take precedence over section-defined symbols; the second
// return is false when the symbol is defined by neither.
func (ctx *Context) resolve(sym *elf32.Symbol, name string) (uint32, bool) {
	if addr, ok := ctx.env.lookup(name); ok {
		return addr, true
	}

	if s, ok := ctx.byIndex[int(sym.Shndx)]; ok {
		return s.base + sym.Value, true
	}

	return 0, false
}
