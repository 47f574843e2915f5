// Package xtensa patches Xtensa machine code in place to apply ELF
// relocations. The interesting work is R_XTENSA_SLOT0_OP, where the
// instruction at the relocation site must be decoded to find which bit field
// inside it encodes the operand.
package xtensa

import (
	"errors"
	"fmt"

	"github.com/lodepine/xtload/internal/unalign"
)

var (
	// ErrUnsupportedRelocation reports a relocation type outside the handled
	// set.
	ErrUnsupportedRelocation = errors.New("unsupported relocation type")

	errUnknownOpcode    = errors.New("unknown instruction opcode at relocation site")
	errTargetUnaligned  = errors.New("target address is not 4-byte aligned")
	errBranchOutOfRange = errors.New("branch displacement out of range")
)

type patchFunc func(m unalign.Memory, relAddr uint32, symAddr uint32) error

var patchFuncs = map[R_XTENSA]patchFunc{
	R_XTENSA_32:       patch32,
	R_XTENSA_SLOT0_OP: patchSlot0,
}

// IsNoop reports whether typ requires no change to the relocation site.
func IsNoop(typ R_XTENSA) bool {
	return typ == R_XTENSA_NONE || typ == R_XTENSA_ASM_EXPAND
}

// Patch applies relocation typ at relAddr so that the patched operand refers
// to symAddr (addend already applied). It returns the 32-bit instruction
// words read at relAddr before and after patching; on a range failure the
// truncated bytes have already been written, so the returned after-word shows
// what a disassembler would see.
func Patch(m unalign.Memory, typ R_XTENSA, relAddr uint32, symAddr uint32) (uint32, uint32, error) {
	before, err := unalign.Get32(m, relAddr)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read relocation site 0x%08x: %w", relAddr, err)
	}

	f, ok := patchFuncs[typ]
	if !ok {
		return before, before, fmt.Errorf("%d (%s): %w", typ, typ, ErrUnsupportedRelocation)
	}

	patchErr := f(m, relAddr, symAddr)

	after, err := unalign.Get32(m, relAddr)
	if err != nil {
		return before, before, fmt.Errorf("failed to read back relocation site 0x%08x: %w", relAddr, err)
	}

	return before, after, patchErr
}

func patch32(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	word, err := unalign.Get32(m, relAddr)
	if err != nil {
		return err
	}

	return unalign.Set32(m, relAddr, word+symAddr)
}
