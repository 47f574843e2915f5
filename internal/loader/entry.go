package loader

import (
	"errors"
	"fmt"
	"log/slog"
)

var errEntryNotFound = errors.New("entry symbol not found")

// SetEntry scans the symbol table for name and stores its runtime address on
// the context. A match that resolves to nothing is logged and the scan
// continues, since the symbol may appear again as a defined global; the last
// defined match wins.
func (ctx *Context) SetEntry(name string) error {
	ctx.entry = 0

	slog.Info("scanning symbols", "entry", name, "count", ctx.symtabCount)

	for i := 0; i < ctx.symtabCount; i++ {
		sym, symName, err := ctx.readSymbol(i)
		if err != nil {
			return err
		}

		if symName != name {
			slog.Debug("symbol",
				"index", i,
				"name", symName,
				"section", sym.Shndx,
				"value", fmt.Sprintf("0x%08x", sym.Value),
				"size", sym.Size,
			)
			continue
		}

		addr, ok := ctx.resolve(sym, symName)
		if !ok {
			slog.Info("entry candidate is undefined, continuing scan",
				"index", i,
				"name", symName,
			)
			continue
		}

		ctx.entry = addr
		slog.Info("entry resolved",
			"index", i,
			"name", symName,
			"section", sym.Shndx,
			"value", fmt.Sprintf("0x%08x", sym.Value),
			"addr", fmt.Sprintf("0x%08x", addr),
		)
	}

	if ctx.entry == 0 {
		return fmt.Errorf("%q: %w", name, errEntryNotFound)
	}

	return nil
}
